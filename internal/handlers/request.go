package handlers

import (
	"bytes"
	"encoding/json"
	"reflect"
	"regexp"
	"strconv"
	"sync"

	"iam/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// OptionalString 区分字段未提供与显式清空：
// 请求中没有该字段时 Set 为 false；值为 null 或 "" 时 Set 为 true、Value 为空
type OptionalString struct {
	Set   bool
	Value string
}

func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, []byte("null")) {
		o.Value = ""
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// Ptr 未提供返回nil
func (o OptionalString) Ptr() *string {
	if !o.Set {
		return nil
	}
	v := o.Value
	return &v
}

var (
	mobilePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)
	validatorOnce sync.Once
	validatorErr  error
)

// RegisterValidators 注册自定义校验规则，OptionalString 按其 Value 参与校验
func RegisterValidators() error {
	validatorOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if o, ok := field.Interface().(OptionalString); ok {
				return o.Value
			}
			return nil
		}, OptionalString{})
		validatorErr = v.RegisterValidation("mobile", func(fl validator.FieldLevel) bool {
			return mobilePattern.MatchString(fl.Field().String())
		})
	})
	return validatorErr
}

// UserRequest 新增或编辑用户
type UserRequest struct {
	Type     *int              `json:"type" binding:"omitempty,oneof=0 1 2"`
	Name     OptionalString    `json:"name" binding:"max=64"`
	Nickname OptionalString    `json:"nickname" binding:"max=64"`
	Account  OptionalString    `json:"account" binding:"max=64"`
	Mobile   OptionalString    `json:"mobile" binding:"omitempty,mobile"`
	Email    OptionalString    `json:"email" binding:"omitempty,email,max=128"`
	UnionID  OptionalString    `json:"union_id" binding:"max=128"`
	OpenID   map[string]string `json:"open_id"`
	HeadImg  OptionalString    `json:"head_img" binding:"max=255"`
	Remark   OptionalString    `json:"remark" binding:"max=255"`
	Password OptionalString    `json:"password" binding:"omitempty,min=6,max=32"`
	OrgID    *int64            `json:"org_id"`
	RoleIDs  []int64           `json:"role_ids"`
}

// Candidate 转换为合并候选数据
func (r *UserRequest) Candidate() *models.UserCandidate {
	return &models.UserCandidate{
		Type:     r.Type,
		Name:     r.Name.Ptr(),
		Nickname: r.Nickname.Ptr(),
		Account:  r.Account.Ptr(),
		Mobile:   r.Mobile.Ptr(),
		Email:    r.Email.Ptr(),
		UnionID:  r.UnionID.Ptr(),
		OpenID:   r.OpenID,
		HeadImg:  r.HeadImg.Ptr(),
		Remark:   r.Remark.Ptr(),
		Password: r.Password.Ptr(),
		OrgID:    r.OrgID,
		RoleIDs:  r.RoleIDs,
	}
}

type StatusRequest struct {
	Invalid *bool `json:"invalid" binding:"required"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6,max=32"`
}

type PayPasswordRequest struct {
	PayPassword string `json:"pay_password" binding:"required,len=6,numeric"`
}

type MembersRequest struct {
	UserIDs []int64 `json:"user_ids" binding:"required,min=1"`
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
