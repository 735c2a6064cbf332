package handlers

import (
	"context"

	"iam/internal/middleware"
	"iam/internal/models"
	"iam/internal/services"
	"iam/pkg/response"

	"github.com/gin-gonic/gin"
)

// PersonalService 用户本人的操作
type PersonalService interface {
	Register(ctx context.Context, c *models.UserCandidate) (int64, error)
	Me(ctx context.Context, id int64) (*services.CachedProfile, error)
	UpdateProfile(ctx context.Context, id int64, patch services.ProfilePatch) error
	ChangePassword(ctx context.Context, id int64, oldPassword, newPassword string) error
	SetPayPassword(ctx context.Context, id int64, payPassword string) error
	VerifyPayPassword(ctx context.Context, id int64, payPassword string) error
}

type UserHandler struct {
	users PersonalService
}

func NewUserHandler(users PersonalService) *UserHandler {
	return &UserHandler{users: users}
}

type RegisterRequest struct {
	Name     string `json:"name" binding:"required,max=64"`
	Mobile   string `json:"mobile" binding:"required,mobile"`
	Password string `json:"password" binding:"required,min=6,max=32"`
	Email    string `json:"email" binding:"omitempty,email"`
}

type ProfileRequest struct {
	Name     OptionalString `json:"name" binding:"max=64"`
	Nickname OptionalString `json:"nickname" binding:"max=64"`
	Mobile   OptionalString `json:"mobile" binding:"omitempty,mobile"`
	Email    OptionalString `json:"email" binding:"omitempty,email,max=128"`
	HeadImg  OptionalString `json:"head_img" binding:"max=255"`
	Remark   OptionalString `json:"remark" binding:"max=255"`
}

// Register 自助注册
func (h *UserHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	cand := &models.UserCandidate{
		Name:     models.StringPtr(req.Name),
		Mobile:   models.StringPtr(req.Mobile),
		Password: models.StringPtr(req.Password),
	}
	if req.Email != "" {
		cand.Email = models.StringPtr(req.Email)
	}
	id, err := h.users.Register(c.Request.Context(), cand)
	if err != nil {
		response.FromError(c, err, "注册失败")
		return
	}
	response.Created(c, gin.H{"id": id})
}

// Me 获取本人资料
func (h *UserHandler) Me(c *gin.Context) {
	login := middleware.GetLoginInfo(c)
	profile, err := h.users.Me(c.Request.Context(), login.UserID)
	if err != nil {
		response.FromError(c, err, "查询失败")
		return
	}
	response.Success(c, profile)
}

// UpdateProfile 修改本人资料
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误: "+err.Error())
		return
	}
	login := middleware.GetLoginInfo(c)
	err := h.users.UpdateProfile(c.Request.Context(), login.UserID, services.ProfilePatch{
		Name:     req.Name.Ptr(),
		Nickname: req.Nickname.Ptr(),
		Mobile:   req.Mobile.Ptr(),
		Email:    req.Email.Ptr(),
		HeadImg:  req.HeadImg.Ptr(),
		Remark:   req.Remark.Ptr(),
	})
	if err != nil {
		response.FromError(c, err, "更新失败")
		return
	}
	response.Success(c, nil)
}

// ChangePassword 修改密码
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}
	login := middleware.GetLoginInfo(c)
	if err := h.users.ChangePassword(c.Request.Context(), login.UserID, req.OldPassword, req.NewPassword); err != nil {
		response.FromError(c, err, "修改密码失败")
		return
	}
	response.Success(c, nil)
}

// SetPayPassword 设置支付密码
func (h *UserHandler) SetPayPassword(c *gin.Context) {
	var req PayPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "支付密码必须为6位数字")
		return
	}
	login := middleware.GetLoginInfo(c)
	if err := h.users.SetPayPassword(c.Request.Context(), login.UserID, req.PayPassword); err != nil {
		response.FromError(c, err, "设置支付密码失败")
		return
	}
	response.Success(c, nil)
}

// VerifyPayPassword 校验支付密码
func (h *UserHandler) VerifyPayPassword(c *gin.Context) {
	var req PayPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "支付密码必须为6位数字")
		return
	}
	login := middleware.GetLoginInfo(c)
	if err := h.users.VerifyPayPassword(c.Request.Context(), login.UserID, req.PayPassword); err != nil {
		response.FromError(c, err, "校验失败")
		return
	}
	response.Success(c, nil)
}
