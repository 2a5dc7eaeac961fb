package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 激活指标
	ActivationsTotal *prometheus.CounterVec // 按结果状态区分
	LicensesBound    prometheus.Counter

	// 管理操作指标
	KeysCreatedTotal   prometheus.Counter
	KeysRevokedTotal   prometheus.Counter
	BindingsResetTotal prometheus.Counter

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "licensegate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "licensegate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		ActivationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "licensegate_activations_total",
				Help: "Total number of activation attempts by outcome",
			},
			[]string{"outcome"},
		),

		LicensesBound: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "licensegate_licenses_bound_total",
				Help: "Total number of first-time hardware bindings",
			},
		),

		KeysCreatedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "licensegate_keys_created_total",
				Help: "Total number of license keys created",
			},
		),

		KeysRevokedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "licensegate_keys_revoked_total",
				Help: "Total number of license keys revoked",
			},
		),

		BindingsResetTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "licensegate_bindings_reset_total",
				Help: "Total number of hardware binding resets",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "licensegate_errors_total",
				Help: "Total number of errors by type and component",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "licensegate_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		RateLimitBlocks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "licensegate_rate_limit_blocks_total",
				Help: "Total number of requests blocked by rate limiting",
			},
			[]string{"scope"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordActivation 记录一次激活请求的结果
func (m *Metrics) RecordActivation(outcome string) {
	m.ActivationsTotal.WithLabelValues(outcome).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errType, component string) {
	m.ErrorsTotal.WithLabelValues(errType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流拦截
func (m *Metrics) RecordRateLimitBlock(scope string) {
	m.RateLimitBlocks.WithLabelValues(scope).Inc()
}

// HTTPHandler 返回 Prometheus 指标导出处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
