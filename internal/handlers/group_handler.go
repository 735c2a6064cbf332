package handlers

import (
	"context"

	"iam/internal/middleware"
	"iam/internal/models"
	"iam/pkg/jwt"
	"iam/pkg/pagination"
	"iam/pkg/response"

	"github.com/gin-gonic/gin"
)

// GroupManager 用户组管理能力
type GroupManager interface {
	List(ctx context.Context, tenantID int64, params *pagination.PageParams) ([]models.Group, int64, error)
	Get(ctx context.Context, tenantID, id int64) (*models.Group, error)
	Create(ctx context.Context, login *jwt.LoginInfo, tenantID int64, c *models.GroupCandidate) (int64, error)
	Update(ctx context.Context, tenantID, id int64, c *models.GroupCandidate) error
	Delete(ctx context.Context, tenantID, id int64) error
	ListMembers(ctx context.Context, tenantID, id int64, params *pagination.PageParams) ([]models.MemberListItem, int64, error)
	ListOthers(ctx context.Context, tenantID, id int64, params *pagination.PageParams) ([]models.MemberListItem, int64, error)
	AddMembers(ctx context.Context, tenantID, id int64, userIDs []int64) error
	RemoveMembers(ctx context.Context, tenantID, id int64, userIDs []int64) error
}

type GroupHandler struct {
	groups GroupManager
}

func NewGroupHandler(groups GroupManager) *GroupHandler {
	return &GroupHandler{groups: groups}
}

func tenantOf(c *gin.Context) int64 {
	return *middleware.GetLoginInfo(c).TenantID
}

func (h *GroupHandler) List(c *gin.Context) {
	params := pagination.ParsePageParams(c)
	groups, total, err := h.groups.List(c.Request.Context(), tenantOf(c), params)
	if err != nil {
		response.FromError(c, err, "查询失败")
		return
	}
	response.SuccessWithPage(c, groups, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

func (h *GroupHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "ID格式错误")
		return
	}
	group, err := h.groups.Get(c.Request.Context(), tenantOf(c), id)
	if err != nil {
		response.FromError(c, err, "查询失败")
		return
	}
	response.Success(c, group)
}

func (h *GroupHandler) Create(c *gin.Context) {
	var req models.GroupCandidate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	id, err := h.groups.Create(c.Request.Context(), middleware.GetLoginInfo(c), tenantOf(c), &req)
	if err != nil {
		response.FromError(c, err, "创建失败")
		return
	}
	response.Created(c, gin.H{"id": id})
}

func (h *GroupHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "ID格式错误")
		return
	}
	var req models.GroupCandidate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if err := h.groups.Update(c.Request.Context(), tenantOf(c), id, &req); err != nil {
		response.FromError(c, err, "更新失败")
		return
	}
	response.Success(c, nil)
}

func (h *GroupHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "ID格式错误")
		return
	}
	if err := h.groups.Delete(c.Request.Context(), tenantOf(c), id); err != nil {
		response.FromError(c, err, "删除失败")
		return
	}
	response.Success(c, nil)
}

// ========== 成员 ==========

func (h *GroupHandler) ListMembers(c *gin.Context) {
	h.listUsers(c, h.groups.ListMembers)
}

// ListOthers 租户内不在该组的用户
func (h *GroupHandler) ListOthers(c *gin.Context) {
	h.listUsers(c, h.groups.ListOthers)
}

func (h *GroupHandler) listUsers(c *gin.Context, fn func(ctx context.Context, tenantID, id int64, params *pagination.PageParams) ([]models.MemberListItem, int64, error)) {
	id, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "ID格式错误")
		return
	}
	params := pagination.ParsePageParams(c)
	members, total, err := fn(c.Request.Context(), tenantOf(c), id, params)
	if err != nil {
		response.FromError(c, err, "查询失败")
		return
	}
	response.SuccessWithPage(c, members, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

func (h *GroupHandler) AddMembers(c *gin.Context) {
	h.changeMembers(c, h.groups.AddMembers, "添加成员失败")
}

func (h *GroupHandler) RemoveMembers(c *gin.Context) {
	h.changeMembers(c, h.groups.RemoveMembers, "移除成员失败")
}

func (h *GroupHandler) changeMembers(c *gin.Context, fn func(ctx context.Context, tenantID, id int64, userIDs []int64) error, fallback string) {
	id, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "ID格式错误")
		return
	}
	var req MembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}
	if err := fn(c.Request.Context(), tenantOf(c), id, req.UserIDs); err != nil {
		response.FromError(c, err, fallback)
		return
	}
	response.Success(c, nil)
}
