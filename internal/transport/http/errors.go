package httptransport

import (
	"licensegate/backend/internal/domain"
	"licensegate/backend/internal/service"
	"licensegate/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	// 激活错误
	storage.ErrLicenseNotFound:    "许可证密钥不存在",
	service.ErrLicenseRevoked:     "许可证已被吊销",
	service.ErrHWIDMismatch:       "硬件标识与已绑定设备不一致",
	service.ErrLicenseExpired:     "许可证已过期",
	service.ErrStorageUnavailable: "存储服务暂时不可用，请稍后重试",

	// 创建错误
	service.ErrInvalidBatchCount: "批量创建数量超出允许范围",
	service.ErrKeyGenExhausted:   "密钥生成重试次数耗尽",
	domain.ErrInvalidKind:        "许可证类型无效",
	domain.ErrInvalidDuration:    "许可证天数无效",
	storage.ErrDuplicateKey:      "许可证密钥已存在",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 激活失败的机器可读原因码
//
// 吊销、不匹配、过期共用 403 状态码，客户端依赖原因码区分。
const (
	ReasonRevoked      = "REVOKED"
	ReasonHWIDMismatch = "HWID_MISMATCH"
	ReasonExpired      = "EXPIRED"
)

// 通用错误消息
const (
	MsgInvalidRequest = "请求参数格式错误"
	MsgInternalError  = "服务器内部错误，请稍后重试"
)
