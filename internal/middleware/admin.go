package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"licensegate/backend/internal/auth"
)

// AdminTokenHeader 管理令牌请求头
const AdminTokenHeader = "X-Admin-Token"

// AdminAuth 管理接口鉴权中间件
type AdminAuth struct {
	guard *auth.Guard
}

// NewAdminAuth 创建管理接口鉴权中间件
func NewAdminAuth(guard *auth.Guard) *AdminAuth {
	return &AdminAuth{
		guard: guard,
	}
}

// RequireAdmin 要求有效的管理令牌
//
// 无论目标资源是否存在，鉴权失败的响应完全一致，中间件先于
// 任何存储访问执行，不泄露密钥命名空间信息。
func (a *AdminAuth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(AdminTokenHeader)
		if err := a.guard.Verify(token); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		c.Next()
	}
}
