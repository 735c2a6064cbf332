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

// UserManager 用户管理能力
type UserManager interface {
	List(ctx context.Context, login *jwt.LoginInfo, params *pagination.PageParams) ([]models.UserListItem, int64, error)
	Count(ctx context.Context, login *jwt.LoginInfo, keyword string) (int64, error)
	Get(ctx context.Context, login *jwt.LoginInfo, id int64) (*models.User, error)
	Create(ctx context.Context, login *jwt.LoginInfo, c *models.UserCandidate) (int64, error)
	Edit(ctx context.Context, login *jwt.LoginInfo, id int64, c *models.UserCandidate) error
	Delete(ctx context.Context, login *jwt.LoginInfo, id int64) error
	UpdateStatus(ctx context.Context, login *jwt.LoginInfo, id int64, invalid bool) error
	ResetPassword(ctx context.Context, login *jwt.LoginInfo, id int64) error
	ListInvitable(ctx context.Context, tenantID int64, keyword string) ([]models.UserListItem, error)
	Invite(ctx context.Context, tenantID, userID int64) error
	ClearOut(ctx context.Context, tenantID, userID int64) error
}

type ManageHandler struct {
	manage UserManager
}

func NewManageHandler(manage UserManager) *ManageHandler {
	return &ManageHandler{manage: manage}
}

// ========== 基础CRUD方法 ==========

// List 获取用户列表
func (h *ManageHandler) List(c *gin.Context) {
	params := pagination.ParsePageParams(c)
	users, total, err := h.manage.List(c.Request.Context(), middleware.GetLoginInfo(c), params)
	if err != nil {
		response.FromError(c, err, "查询失败")
		return
	}
	response.SuccessWithPage(c, users, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Count 统计匹配关键词的用户数
func (h *ManageHandler) Count(c *gin.Context) {
	keyword := c.Query("keyword")
	if keyword == "" {
		response.BadRequest(c, "keyword不能为空")
		return
	}
	count, err := h.manage.Count(c.Request.Context(), middleware.GetLoginInfo(c), keyword)
	if err != nil {
		response.FromError(c, err, "查询失败")
		return
	}
	response.Success(c, gin.H{"count": count})
}

// GetByID 获取用户详情
func (h *ManageHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "ID格式错误")
		return
	}
	user, err := h.manage.Get(c.Request.Context(), middleware.GetLoginInfo(c), id)
	if err != nil {
		response.FromError(c, err, "查询失败")
		return
	}
	response.Success(c, user)
}

// Create 新增用户
func (h *ManageHandler) Create(c *gin.Context) {
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	if !req.Name.Set || req.Name.Value == "" {
		response.BadRequest(c, "姓名不能为空")
		return
	}

	id, err := h.manage.Create(c.Request.Context(), middleware.GetLoginInfo(c), req.Candidate())
	if err != nil {
		response.FromError(c, err, "创建失败")
		return
	}
	response.Created(c, gin.H{"id": id})
}

// Update 编辑用户，未提供的字段保持不变
func (h *ManageHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "ID格式错误")
		return
	}
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	cand := req.Candidate()
	cand.OrgID, cand.RoleIDs, cand.Password = nil, nil, nil
	if err := h.manage.Edit(c.Request.Context(), middleware.GetLoginInfo(c), id, cand); err != nil {
		response.FromError(c, err, "更新失败")
		return
	}
	response.Success(c, nil)
}

// Delete 删除用户
func (h *ManageHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "ID格式错误")
		return
	}
	if err := h.manage.Delete(c.Request.Context(), middleware.GetLoginInfo(c), id); err != nil {
		response.FromError(c, err, "删除失败")
		return
	}
	response.Success(c, nil)
}

// ========== 状态与密码 ==========

// UpdateStatus 启用或禁用用户
func (h *ManageHandler) UpdateStatus(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "ID格式错误")
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}
	if err := h.manage.UpdateStatus(c.Request.Context(), middleware.GetLoginInfo(c), id, *req.Invalid); err != nil {
		response.FromError(c, err, "更新状态失败")
		return
	}
	response.Success(c, nil)
}

// ResetPassword 重置为默认密码
func (h *ManageHandler) ResetPassword(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "ID格式错误")
		return
	}
	if err := h.manage.ResetPassword(c.Request.Context(), middleware.GetLoginInfo(c), id); err != nil {
		response.FromError(c, err, "重置密码失败")
		return
	}
	response.Success(c, nil)
}

// ========== 租户成员 ==========

// ListInvitable 查找可邀请加入当前租户的用户
func (h *ManageHandler) ListInvitable(c *gin.Context) {
	login := middleware.GetLoginInfo(c)
	users, err := h.manage.ListInvitable(c.Request.Context(), *login.TenantID, c.Query("keyword"))
	if err != nil {
		response.FromError(c, err, "查询失败")
		return
	}
	response.Success(c, users)
}

// Invite 邀请用户加入当前租户
func (h *ManageHandler) Invite(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "ID格式错误")
		return
	}
	login := middleware.GetLoginInfo(c)
	if err := h.manage.Invite(c.Request.Context(), *login.TenantID, id); err != nil {
		response.FromError(c, err, "邀请失败")
		return
	}
	response.Success(c, nil)
}

// ClearOut 将用户清退出当前租户
func (h *ManageHandler) ClearOut(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		response.BadRequest(c, "ID格式错误")
		return
	}
	login := middleware.GetLoginInfo(c)
	if err := h.manage.ClearOut(c.Request.Context(), *login.TenantID, id); err != nil {
		response.FromError(c, err, "清退失败")
		return
	}
	response.Success(c, nil)
}
