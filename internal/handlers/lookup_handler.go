package handlers

import (
	"context"

	"iam/internal/middleware"
	"iam/internal/services"
	"iam/pkg/response"

	"github.com/gin-gonic/gin"
)

// IdentityLookup 基于缓存的身份查询
type IdentityLookup interface {
	Resolve(ctx context.Context, tenantID *int64, key string) (int64, error)
	Profile(ctx context.Context, id int64) (*services.CachedProfile, error)
}

type LookupHandler struct {
	lookup IdentityLookup
}

func NewLookupHandler(lookup IdentityLookup) *LookupHandler {
	return &LookupHandler{lookup: lookup}
}

// Resolve 账号/手机号/邮箱/UnionID → 用户ID，作用域取当前登录身份
func (h *LookupHandler) Resolve(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		response.BadRequest(c, "key不能为空")
		return
	}
	id, err := h.lookup.Resolve(c.Request.Context(), middleware.GetLoginInfo(c).TenantID, key)
	if err != nil {
		response.FromError(c, err, "查询失败")
		return
	}
	response.Success(c, gin.H{"id": id})
}

// Profile 获取用户缓存资料
func (h *LookupHandler) Profile(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "ID格式错误")
		return
	}
	profile, err := h.lookup.Profile(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err, "查询失败")
		return
	}
	response.Success(c, profile)
}
