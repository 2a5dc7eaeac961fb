package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"licensegate/backend/internal/storage"
)

// HealthChecker 健康检查器
//
// 活性检查只覆盖进程本身，就绪检查额外覆盖存储连通性：
// 存储故障时实例保持存活但从负载均衡摘除。
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(store storage.Store, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		logger: logger,
	}

	hc.addChecks()

	return hc
}

// addChecks 注册检查项
func (hc *HealthChecker) addChecks() {
	// 存储连通性检查
	hc.health.AddReadinessCheck("storage", StorageHealthCheck(hc.store))

	// 限流计数存取检查
	hc.health.AddReadinessCheck("ratelimit", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_, err := hc.store.GetRateLimit(ctx, "health_check")
		return err
	})
}

// LiveHandler 返回活性检查处理器
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 返回就绪检查处理器
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// StorageHealthCheck 存储健康检查
func StorageHealthCheck(store storage.Store) healthcheck.Check {
	return func() error {
		return store.Health()
	}
}
