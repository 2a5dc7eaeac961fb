package httptransport

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"licensegate/backend/internal/monitoring"
	"licensegate/backend/internal/service"
	"licensegate/backend/internal/storage"
)

// ActivateHandler 公开激活接口处理器
type ActivateHandler struct {
	activations *service.ActivationService
	metrics     *monitoring.Metrics
}

// NewActivateHandler 创建激活处理器
func NewActivateHandler(activations *service.ActivationService, metrics *monitoring.Metrics) *ActivateHandler {
	return &ActivateHandler{
		activations: activations,
		metrics:     metrics,
	}
}

// activateRequest 激活请求体
type activateRequest struct {
	LicenseKey string `json:"license_key" binding:"required"`
	HWID       string `json:"hwid" binding:"required"`
}

// activateResponse 激活成功响应体
type activateResponse struct {
	Status    string  `json:"status"`     // "BOUND" 首次绑定 / "OK" 幂等确认
	ExpiresAt *string `json:"expires_at"` // RFC3339，永久许可证为 null
}

// Activate 激活或重新校验一个许可证
//
// POST /v1/activate
func (h *ActivateHandler) Activate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.RecordActivation("bad_request")
		BadRequest(c, MsgInvalidRequest)
		return
	}

	result, err := h.activations.Activate(c.Request.Context(), req.LicenseKey, req.HWID)
	if err != nil {
		h.respondActivationError(c, err)
		return
	}

	var expiresAt *string
	if result.ExpiresAt != nil {
		formatted := result.ExpiresAt.UTC().Format(time.RFC3339)
		expiresAt = &formatted
	}

	h.metrics.RecordActivation(string(result.Status))
	if result.Status == service.StatusBound {
		h.metrics.LicensesBound.Inc()
	}

	Success(c, activateResponse{
		Status:    string(result.Status),
		ExpiresAt: expiresAt,
	})
}

// respondActivationError 将激活失败映射为 HTTP 响应
//
// 吊销、硬件不匹配、过期共用 403，由 data.reason 区分；
// 存储故障返回 503 供客户端退避重试。
func (h *ActivateHandler) respondActivationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrLicenseNotFound):
		h.metrics.RecordActivation("not_found")
		NotFound(c, GetErrorMessage(err))
	case errors.Is(err, service.ErrLicenseRevoked):
		h.metrics.RecordActivation("revoked")
		Forbidden(c, GetErrorMessage(err), gin.H{"reason": ReasonRevoked})
	case errors.Is(err, service.ErrHWIDMismatch):
		h.metrics.RecordActivation("hwid_mismatch")
		Forbidden(c, GetErrorMessage(err), gin.H{"reason": ReasonHWIDMismatch})
	case errors.Is(err, service.ErrLicenseExpired):
		h.metrics.RecordActivation("expired")
		Forbidden(c, GetErrorMessage(err), gin.H{"reason": ReasonExpired})
	case errors.Is(err, service.ErrStorageUnavailable):
		h.metrics.RecordActivation("storage_unavailable")
		ServiceUnavailable(c, GetErrorMessage(err))
	default:
		h.metrics.RecordActivation("internal_error")
		InternalError(c, MsgInternalError)
	}
}
