package models

import "time"

// Group 用户组，编码在租户内唯一
type Group struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	TenantID  int64     `gorm:"not null;uniqueIndex:idx_group_code" json:"tenant_id"`
	Code      string    `gorm:"size:16;not null;uniqueIndex:idx_group_code" json:"code"`
	Name      string    `gorm:"size:64;not null" json:"name"`
	Remark    string    `gorm:"size:255;not null;default:''" json:"remark"`
	Builtin   bool      `gorm:"not null;default:false" json:"builtin"`
	Creator   string    `gorm:"size:64;not null" json:"creator"`
	CreatorID int64     `gorm:"not null" json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (Group) TableName() string {
	return "ibu_group"
}

// GroupMember 用户组成员
type GroupMember struct {
	ID      int64 `gorm:"primaryKey" json:"id"`
	GroupID int64 `gorm:"not null;uniqueIndex:idx_group_member" json:"group_id"`
	UserID  int64 `gorm:"not null;uniqueIndex:idx_group_member;index" json:"user_id"`
}

func (GroupMember) TableName() string {
	return "ibu_group_member"
}

// GroupCandidate 新增或编辑用户组的数据
type GroupCandidate struct {
	Name   string `json:"name" binding:"required,max=64"`
	Remark string `json:"remark" binding:"max=255"`
}

// MemberListItem 用户组成员列表项
type MemberListItem struct {
	ID      int64  `json:"id"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	Account string `json:"account"`
	Mobile  string `json:"mobile"`
	Invalid bool   `json:"invalid"`
}
