package repository

import (
	"context"
	"errors"
	"fmt"

	"iam/internal/models"
	apperrors "iam/pkg/errors"
	"iam/pkg/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GroupRepository 用户组数据访问接口
type GroupRepository interface {
	WithTx(ctx context.Context, fn func(repo GroupRepository) error) error
	FindByID(ctx context.Context, tenantID, id int64) (*models.Group, error)
	List(ctx context.Context, tenantID int64, params *pagination.PageParams) ([]models.Group, int64, error)
	Insert(ctx context.Context, group *models.Group) error
	Update(ctx context.Context, group *models.Group) error
	// Delete 先删除成员再删除用户组
	Delete(ctx context.Context, tenantID, id int64) error
	ExistsCode(ctx context.Context, tenantID int64, code string) (bool, error)
	ListMembers(ctx context.Context, groupID int64, params *pagination.PageParams) ([]models.MemberListItem, int64, error)
	// ListOthers 列出租户内尚未加入该用户组的用户
	ListOthers(ctx context.Context, tenantID, groupID int64, params *pagination.PageParams) ([]models.MemberListItem, int64, error)
	// CountTenantUsers 统计 userIDs 中属于该租户的用户数
	CountTenantUsers(ctx context.Context, tenantID int64, userIDs []int64) (int64, error)
	// AddMembers 已经是成员的用户忽略
	AddMembers(ctx context.Context, groupID int64, userIDs []int64) error
	RemoveMembers(ctx context.Context, groupID int64, userIDs []int64) error
}

type groupRepository struct {
	db *gorm.DB
}

// NewGroupRepository 创建用户组仓库
func NewGroupRepository(db *gorm.DB) GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) WithTx(ctx context.Context, fn func(repo GroupRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&groupRepository{db: tx})
	})
}

func (r *groupRepository) FindByID(ctx context.Context, tenantID, id int64) (*models.Group, error) {
	var group models.Group
	err := r.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrRecordNotFound
		}
		return nil, fmt.Errorf("groupRepo.FindByID: 查询用户组失败 (ID: %d): %w", id, err)
	}
	return &group, nil
}

func (r *groupRepository) List(ctx context.Context, tenantID int64, params *pagination.PageParams) ([]models.Group, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Group{}).Where("tenant_id = ?", tenantID)
	if params.Keyword != "" {
		query = query.Where("code = ? OR name LIKE ?", params.Keyword, "%"+params.Keyword+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("groupRepo.List: 统计用户组失败: %w", err)
	}

	var groups []models.Group
	err := query.Order("created_at DESC").
		Offset(params.GetOffset()).
		Limit(params.GetLimit()).
		Find(&groups).Error
	if err != nil {
		return nil, 0, fmt.Errorf("groupRepo.List: 查询用户组失败: %w", err)
	}
	return groups, total, nil
}

func (r *groupRepository) Insert(ctx context.Context, group *models.Group) error {
	if err := r.db.WithContext(ctx).Create(group).Error; err != nil {
		if terr := translateError(err, nil); terr != err {
			return terr
		}
		return fmt.Errorf("groupRepo.Insert: 新增用户组失败: %w", err)
	}
	return nil
}

func (r *groupRepository) Update(ctx context.Context, group *models.Group) error {
	result := r.db.WithContext(ctx).Model(&models.Group{}).
		Where("id = ? AND tenant_id = ?", group.ID, group.TenantID).
		Select("name", "remark").
		Updates(group)
	if result.Error != nil {
		return fmt.Errorf("groupRepo.Update: 更新用户组失败 (ID: %d): %w", group.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrRecordNotFound
	}
	return nil
}

func (r *groupRepository) Delete(ctx context.Context, tenantID, id int64) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("group_id = ?", id).Delete(&models.GroupMember{}).Error; err != nil {
		return fmt.Errorf("groupRepo.Delete: 删除用户组成员失败 (ID: %d): %w", id, err)
	}
	result := db.Where("id = ? AND tenant_id = ?", id, tenantID).Delete(&models.Group{})
	if result.Error != nil {
		return fmt.Errorf("groupRepo.Delete: 删除用户组失败 (ID: %d): %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrRecordNotFound
	}
	return nil
}

func (r *groupRepository) ExistsCode(ctx context.Context, tenantID int64, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Group{}).
		Where("tenant_id = ? AND code = ?", tenantID, code).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("groupRepo.ExistsCode: 查询失败 (code: %s): %w", code, err)
	}
	return count > 0, nil
}

func (r *groupRepository) ListMembers(ctx context.Context, groupID int64, params *pagination.PageParams) ([]models.MemberListItem, int64, error) {
	query := r.db.WithContext(ctx).Table("ibu_group_member m").
		Select("u.id, u.code, u.name, u.account, u.mobile, u.invalid").
		Joins("JOIN ibu_user u ON u.id = m.user_id").
		Where("m.group_id = ?", groupID)
	if params.Keyword != "" {
		query = query.Where("u.account = ? OR u.mobile = ? OR u.name LIKE ?", params.Keyword, params.Keyword, "%"+params.Keyword+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("groupRepo.ListMembers: 统计成员失败: %w", err)
	}

	var items []models.MemberListItem
	err := query.Order("u.id").
		Offset(params.GetOffset()).
		Limit(params.GetLimit()).
		Scan(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("groupRepo.ListMembers: 查询成员失败: %w", err)
	}
	return items, total, nil
}

func (r *groupRepository) ListOthers(ctx context.Context, tenantID, groupID int64, params *pagination.PageParams) ([]models.MemberListItem, int64, error) {
	query := r.db.WithContext(ctx).Table("ibu_user u").
		Select("u.id, u.code, u.name, u.account, u.mobile, u.invalid").
		Joins("JOIN ibt_tenant_user t ON t.user_id = u.id AND t.tenant_id = ?", tenantID).
		Joins("LEFT JOIN ibu_group_member m ON m.user_id = u.id AND m.group_id = ?", groupID).
		Where("m.user_id IS NULL")
	if params.Keyword != "" {
		query = query.Where("u.account = ? OR u.mobile = ? OR u.name LIKE ?", params.Keyword, params.Keyword, "%"+params.Keyword+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("groupRepo.ListOthers: 统计用户失败: %w", err)
	}

	var items []models.MemberListItem
	err := query.Order("u.id").
		Offset(params.GetOffset()).
		Limit(params.GetLimit()).
		Scan(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("groupRepo.ListOthers: 查询用户失败 (GroupID: %d): %w", groupID, err)
	}
	return items, total, nil
}

func (r *groupRepository) CountTenantUsers(ctx context.Context, tenantID int64, userIDs []int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.TenantUser{}).
		Where("tenant_id = ? AND user_id IN ?", tenantID, userIDs).
		Distinct("user_id").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("groupRepo.CountTenantUsers: 查询失败 (TenantID: %d): %w", tenantID, err)
	}
	return count, nil
}

func (r *groupRepository) AddMembers(ctx context.Context, groupID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	members := make([]models.GroupMember, 0, len(userIDs))
	for _, userID := range userIDs {
		members = append(members, models.GroupMember{GroupID: groupID, UserID: userID})
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&members).Error
	if err != nil {
		return fmt.Errorf("groupRepo.AddMembers: 添加成员失败 (GroupID: %d): %w", groupID, err)
	}
	return nil
}

func (r *groupRepository) RemoveMembers(ctx context.Context, groupID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND user_id IN ?", groupID, userIDs).
		Delete(&models.GroupMember{}).Error
	if err != nil {
		return fmt.Errorf("groupRepo.RemoveMembers: 移除成员失败 (GroupID: %d): %w", groupID, err)
	}
	return nil
}
