package middleware

import (
	"strings"

	apperrors "iam/pkg/errors"
	"iam/pkg/jwt"
	"iam/pkg/response"

	"github.com/gin-gonic/gin"
)

const loginInfoKey = "login_info"

// AuthMiddleware 解析请求头中的会话令牌
type AuthMiddleware struct {
	jwtManager *jwt.JWTManager
	headerName string
}

func NewAuthMiddleware(jwtManager *jwt.JWTManager, headerName string) *AuthMiddleware {
	if headerName == "" {
		headerName = "Authorization"
	}
	return &AuthMiddleware{jwtManager: jwtManager, headerName: headerName}
}

// RequireLogin 校验令牌并将登录信息保存到上下文
func (m *AuthMiddleware) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(m.headerName))
		token = strings.TrimPrefix(token, "Bearer ")
		if token == "" {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		info, err := m.jwtManager.VerifyToken(token)
		if err != nil {
			response.Unauthorized(c, "Token无效或已过期")
			c.Abort()
			return
		}

		c.Set(loginInfoKey, info)
		c.Next()
	}
}

// RequireTenant 仅允许租户身份访问
func (m *AuthMiddleware) RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		info := GetLoginInfo(c)
		if info == nil || info.TenantID == nil {
			response.Error(c, apperrors.CodeForbidden, "当前身份不属于任何租户")
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetLoginInfo 获取当前登录信息，未登录返回nil
func GetLoginInfo(c *gin.Context) *jwt.LoginInfo {
	v, ok := c.Get(loginInfoKey)
	if !ok {
		return nil
	}
	info, _ := v.(*jwt.LoginInfo)
	return info
}
