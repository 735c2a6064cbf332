package models

import "time"

// TenantUser 租户-用户关联表，用户可被清退出租户而不删除用户本身
type TenantUser struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	TenantID  int64     `gorm:"not null;uniqueIndex:idx_tenant_user" json:"tenant_id"`
	UserID    int64     `gorm:"not null;uniqueIndex:idx_tenant_user;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (TenantUser) TableName() string {
	return "ibt_tenant_user"
}

// Organize 组织机构（由组织服务维护，这里只用于按租户清理成员）
type Organize struct {
	ID       int64  `gorm:"primaryKey" json:"id"`
	TenantID int64  `gorm:"not null;index" json:"tenant_id"`
	Name     string `gorm:"size:64" json:"name"`
}

func (Organize) TableName() string {
	return "ibo_organize"
}

// OrganizeMember 组织机构成员
type OrganizeMember struct {
	ID     int64 `gorm:"primaryKey" json:"id"`
	PostID int64 `gorm:"not null;uniqueIndex:idx_organize_member" json:"post_id"`
	UserID int64 `gorm:"not null;uniqueIndex:idx_organize_member;index" json:"user_id"`
}

func (OrganizeMember) TableName() string {
	return "ibo_organize_member"
}

// Role 角色（由权限服务维护），TenantID为0表示平台角色
type Role struct {
	ID       int64  `gorm:"primaryKey" json:"id"`
	TenantID int64  `gorm:"not null;index" json:"tenant_id"`
	Name     string `gorm:"size:64" json:"name"`
}

func (Role) TableName() string {
	return "ibr_role"
}

// 角色成员类型
const (
	RoleMemberUser = 1
)

// RoleMember 角色成员
type RoleMember struct {
	ID       int64 `gorm:"primaryKey" json:"id"`
	Type     int   `gorm:"not null" json:"type"`
	RoleID   int64 `gorm:"not null;index" json:"role_id"`
	MemberID int64 `gorm:"not null;index" json:"member_id"`
}

func (RoleMember) TableName() string {
	return "ibr_role_member"
}
