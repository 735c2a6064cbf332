package handlers

import (
	"context"

	"iam/internal/middleware"
	"iam/pkg/response"

	"github.com/gin-gonic/gin"
)

// Authenticator 登录与登出
type Authenticator interface {
	Login(ctx context.Context, tenantID *int64, key, password string) (string, error)
	Logout(ctx context.Context, userID int64) error
}

type AuthHandler struct {
	auth Authenticator
}

func NewAuthHandler(auth Authenticator) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// LoginRequest 账号、手机号或邮箱均可作为登录名，tenant_id为空时登录平台
type LoginRequest struct {
	Key      string `json:"key" binding:"required"`
	Password string `json:"password" binding:"required"`
	TenantID *int64 `json:"tenant_id"`
}

// Login 用户登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	token, err := h.auth.Login(c.Request.Context(), req.TenantID, req.Key, req.Password)
	if err != nil {
		response.FromError(c, err, "登录失败")
		return
	}
	response.Success(c, gin.H{"token": token})
}

// Logout 退出登录
func (h *AuthHandler) Logout(c *gin.Context) {
	info := middleware.GetLoginInfo(c)
	if err := h.auth.Logout(c.Request.Context(), info.UserID); err != nil {
		response.ServerError(c, "退出失败")
		return
	}
	response.Success(c, nil)
}
