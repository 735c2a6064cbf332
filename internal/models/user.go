package models

import (
	"time"

	"gorm.io/datatypes"
)

// 用户类型
const (
	UserTypeOrdinary = 0 // 普通用户
	UserTypePlatform = 1 // 平台用户
	UserTypeExternal = 2 // 外部用户
)

// NoExclusion 唯一性检查时不排除任何用户（新增场景）
const NoExclusion int64 = 0

// User 用户模型，唯一性约束由迁移中的部分唯一索引保证
type User struct {
	ID          int64             `json:"id" gorm:"primaryKey;autoIncrement:false"`
	TenantID    *int64            `json:"tenant_id,omitempty" gorm:"index"`
	Type        int               `json:"type" gorm:"not null;default:0"`
	Code        string            `json:"code" gorm:"size:32;not null"`
	Name        string            `json:"name" gorm:"size:64;not null"`
	Nickname    string            `json:"nickname" gorm:"size:64;not null;default:''"`
	Account     string            `json:"account" gorm:"size:64;not null"`
	Mobile      string            `json:"mobile" gorm:"size:32;not null;default:''"`
	Email       string            `json:"email" gorm:"size:128;not null;default:''"`
	UnionID     string            `json:"union_id" gorm:"size:128;not null;default:''"`
	OpenID      datatypes.JSONMap `json:"open_id,omitempty"`
	HeadImg     string            `json:"head_img" gorm:"size:255;not null;default:''"`
	Remark      string            `json:"remark" gorm:"size:255;not null;default:''"`
	Password    string            `json:"-" gorm:"size:255;not null"`
	PayPassword string            `json:"-" gorm:"size:255;not null;default:''"`
	Builtin     bool              `json:"builtin" gorm:"not null;default:false"`
	Invalid     bool              `json:"invalid" gorm:"not null;default:false"`
	Creator     string            `json:"creator" gorm:"size:64;not null"`
	CreatorID   int64             `json:"creator_id" gorm:"not null"`
	CreatedAt   time.Time         `json:"created_at"`
}

// TableName 表名
func (User) TableName() string {
	return "ibu_user"
}

// Scope 唯一性与编码生成的命名空间，0表示平台
func (u *User) Scope() int64 {
	if u.TenantID == nil {
		return 0
	}
	return *u.TenantID
}

// UserCandidate 待新增或合并的用户数据。
// 指针为nil表示调用方未提供该字段（保持不变），指向零值表示清空
type UserCandidate struct {
	ID        *int64            `json:"id,omitempty"`
	TenantID  *int64            `json:"tenant_id,omitempty"`
	Type      *int              `json:"type,omitempty"`
	Code      *string           `json:"code,omitempty"`
	Name      *string           `json:"name,omitempty"`
	Nickname  *string           `json:"nickname,omitempty"`
	Account   *string           `json:"account,omitempty"`
	Mobile    *string           `json:"mobile,omitempty"`
	Email     *string           `json:"email,omitempty"`
	UnionID   *string           `json:"union_id,omitempty"`
	OpenID    map[string]string `json:"open_id,omitempty"`
	HeadImg   *string           `json:"head_img,omitempty"`
	Remark    *string           `json:"remark,omitempty"`
	Password  *string           `json:"password,omitempty"`
	Builtin   *bool             `json:"builtin,omitempty"`
	Invalid   *bool             `json:"invalid,omitempty"`
	Creator   *string           `json:"creator,omitempty"`
	CreatorID *int64            `json:"creator_id,omitempty"`

	// 仅新增时生效的关联
	OrgID   *int64  `json:"org_id,omitempty"`
	RoleIDs []int64 `json:"role_ids,omitempty"`
}

// UserListItem 用户列表项
type UserListItem struct {
	ID      int64  `json:"id"`
	Type    int    `json:"type"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	Account string `json:"account"`
	Mobile  string `json:"mobile"`
	Remark  string `json:"remark"`
	Builtin bool   `json:"builtin"`
	Invalid bool   `json:"invalid"`
}

// StringValue 取指针值，nil返回空串
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr 返回字符串指针
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr 返回int64指针
func Int64Ptr(v int64) *int64 {
	return &v
}

// BoolPtr 返回bool指针
func BoolPtr(v bool) *bool {
	return &v
}
