package httptransport

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"licensegate/backend/internal/domain"
	"licensegate/backend/internal/monitoring"
	"licensegate/backend/internal/service"
	"licensegate/backend/internal/storage"
)

// AdminHandler 管理接口处理器
//
// 所有路由挂在 RequireAdmin 中间件之后，到达这里的请求已通过
// 管理凭据校验。
type AdminHandler struct {
	admin   *service.AdminService
	metrics *monitoring.Metrics
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(admin *service.AdminService, metrics *monitoring.Metrics) *AdminHandler {
	return &AdminHandler{
		admin:   admin,
		metrics: metrics,
	}
}

// createKeysRequest 批量创建请求体
type createKeysRequest struct {
	Kind  string `json:"kind" binding:"required"` // "lifetime" 或 "timed"
	Count int    `json:"count" binding:"required"`
	Days  int    `json:"days"` // 仅限时许可证需要
}

// setNoteRequest 备注更新请求体
type setNoteRequest struct {
	Note string `json:"note"`
}

// CreateKeys 批量创建许可证密钥
//
// POST /v1/admin/keys
func (h *AdminHandler) CreateKeys(c *gin.Context) {
	var req createKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	kind, err := domain.ParseKind(req.Kind)
	if err != nil {
		BadRequest(c, GetErrorMessage(err))
		return
	}

	keys, err := h.admin.CreateBatch(c.Request.Context(), kind, req.Count, req.Days)
	if err != nil {
		h.respondAdminError(c, err)
		return
	}

	h.metrics.KeysCreatedTotal.Add(float64(len(keys)))
	Created(c, gin.H{
		"keys":  keys,
		"kind":  string(kind),
		"count": len(keys),
	})
}

// ListKeys 按创建时间倒序返回许可证列表
//
// GET /v1/admin/keys?limit=&offset=
func (h *AdminHandler) ListKeys(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	views, err := h.admin.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondAdminError(c, err)
		return
	}

	Success(c, gin.H{
		"keys":   views,
		"count":  len(views),
		"offset": offset,
	})
}

// RevokeKey 吊销许可证
//
// POST /v1/admin/keys/:key/revoke
func (h *AdminHandler) RevokeKey(c *gin.Context) {
	key := c.Param("key")

	if err := h.admin.Revoke(c.Request.Context(), key); err != nil {
		h.respondAdminError(c, err)
		return
	}

	h.metrics.KeysRevokedTotal.Inc()
	Success(c, gin.H{"licenseKey": key, "revoked": true})
}

// ResetHwid 清除硬件绑定
//
// POST /v1/admin/keys/:key/reset-hwid
func (h *AdminHandler) ResetHwid(c *gin.Context) {
	key := c.Param("key")

	if err := h.admin.ResetHwid(c.Request.Context(), key); err != nil {
		h.respondAdminError(c, err)
		return
	}

	h.metrics.BindingsResetTotal.Inc()
	Success(c, gin.H{"licenseKey": key})
}

// SetNote 更新备注
//
// PUT /v1/admin/keys/:key/note
func (h *AdminHandler) SetNote(c *gin.Context) {
	key := c.Param("key")

	var req setNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	if err := h.admin.SetNote(c.Request.Context(), key, req.Note); err != nil {
		h.respondAdminError(c, err)
		return
	}

	Success(c, gin.H{"licenseKey": key})
}

// respondAdminError 将管理操作错误映射为 HTTP 响应
func (h *AdminHandler) respondAdminError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrLicenseNotFound):
		NotFound(c, GetErrorMessage(err))
	case errors.Is(err, service.ErrInvalidBatchCount),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInvalidDuration):
		BadRequest(c, GetErrorMessage(err))
	case errors.Is(err, service.ErrStorageUnavailable):
		ServiceUnavailable(c, GetErrorMessage(err))
	case errors.Is(err, service.ErrKeyGenExhausted):
		InternalError(c, GetErrorMessage(err))
	default:
		InternalError(c, MsgInternalError)
	}
}
