package errors

import (
	"errors"
	"fmt"
)

// ========== 错误码常量定义 ==========

// CodeSuccess 成功码
const (
	CodeSuccess = 200
	CodeCreated = 201
)

// HTTP层错误码 (400-599)
const (
	CodeInvalidParam = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeServerError  = 500
	CodeUnavailable  = 503
)

// ========== 业务错误 ==========

// 唯一性字段名
const (
	FieldAccount = "account"
	FieldMobile  = "mobile"
	FieldEmail   = "email"
	FieldUnionID = "union_id"
	FieldCode    = "code"
)

var fieldLabels = map[string]string{
	FieldAccount: "账号",
	FieldMobile:  "手机号",
	FieldEmail:   "Email",
	FieldUnionID: "UnionID",
	FieldCode:    "编码",
}

// DuplicateIdentityError 账号/手机号/邮箱已被其他有效用户占用
type DuplicateIdentityError struct {
	Field string
	Value string
}

func (e *DuplicateIdentityError) Error() string {
	label, ok := fieldLabels[e.Field]
	if !ok {
		label = e.Field
	}
	if e.Value == "" {
		return fmt.Sprintf("%s已被使用", label)
	}
	return fmt.Sprintf("%s[%s]已被使用", label, e.Value)
}

// NewDuplicateIdentity 创建唯一性冲突错误
func NewDuplicateIdentity(field, value string) error {
	return &DuplicateIdentityError{Field: field, Value: value}
}

// IsDuplicateIdentity 判断是否为唯一性冲突
func IsDuplicateIdentity(err error) bool {
	var dup *DuplicateIdentityError
	return errors.As(err, &dup)
}

var (
	// ErrAllocationExhausted 编码生成超过最大尝试次数
	ErrAllocationExhausted = errors.New("编码生成失败，已超过最大尝试次数")

	// ErrRecordNotFound 指定ID的记录不存在
	ErrRecordNotFound = errors.New("ID不存在")

	// ErrInvalidPassword 原密码或支付密码校验失败
	ErrInvalidPassword = errors.New("密码错误")

	// ErrUserDisabled 用户已被禁用
	ErrUserDisabled = errors.New("用户已被禁用")

	// ErrBuiltinProtected 内置用户不可删除或禁用
	ErrBuiltinProtected = errors.New("内置用户不可删除或禁用")

	// ErrNotTenantMember 用户不属于当前租户
	ErrNotTenantMember = errors.New("用户不属于当前租户")
)
