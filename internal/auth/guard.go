package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized 管理凭据无效错误
//
// 无论目标密钥是否存在，凭据校验失败时返回的错误完全一致，
// 不泄露任何密钥命名空间信息。
var ErrUnauthorized = errors.New("invalid admin token")

// Guard 管理凭据守卫
//
// 对比在两侧的 SHA-256 摘要上进行，摘要长度恒定，
// 配合 subtle.ConstantTimeCompare 避免时序侧信道。
type Guard struct {
	tokenDigest [sha256.Size]byte
}

// NewGuard 用进程配置的管理令牌创建守卫
func NewGuard(adminToken string) *Guard {
	return &Guard{
		tokenDigest: sha256.Sum256([]byte(adminToken)),
	}
}

// Verify 校验调用方出示的令牌
func (g *Guard) Verify(presented string) error {
	digest := sha256.Sum256([]byte(presented))
	if subtle.ConstantTimeCompare(digest[:], g.tokenDigest[:]) != 1 {
		return ErrUnauthorized
	}
	return nil
}
