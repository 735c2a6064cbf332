package repository

import (
	"context"
	"errors"
	"fmt"

	"iam/internal/models"
	apperrors "iam/pkg/errors"
	"iam/pkg/pagination"

	"gorm.io/gorm"
)

// UserRepository 用户数据访问接口。
// 写操作在 WithTx 回调中使用回调参数执行，保证同一业务的多次写入原子提交
type UserRepository interface {
	// WithTx 在事务中执行 fn，fn 返回错误时整体回滚
	WithTx(ctx context.Context, fn func(repo UserRepository) error) error

	// FindByID 未找到时返回 errors.ErrRecordNotFound
	FindByID(ctx context.Context, id int64) (*models.User, error)

	// FindByKey 查找作用域内持有该账号/手机号/邮箱/UnionID的有效用户
	FindByKey(ctx context.Context, scope *int64, key string) (*models.User, error)

	List(ctx context.Context, params *pagination.PageParams) ([]models.UserListItem, int64, error)

	// Count 统计作用域内编码、账号、手机号或邮箱等于 keyword，或名称包含 keyword 的用户数
	Count(ctx context.Context, scope *int64, keyword string) (int64, error)

	// ListInvitable 查找尚未加入该租户的用户
	ListInvitable(ctx context.Context, tenantID int64, keyword string, limit int) ([]models.UserListItem, error)

	// Insert 唯一索引冲突返回 DuplicateIdentityError 或 ErrCodeConflict
	Insert(ctx context.Context, user *models.User) error

	// UpdateMerged 持久化合并后的可变字段
	UpdateMerged(ctx context.Context, user *models.User) error

	UpdateStatus(ctx context.Context, id int64, invalid bool) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
	UpdatePayPassword(ctx context.Context, id int64, hash string) error

	// ExistsByKeyExcluding 作用域内除 excludeID 外是否有有效用户的账号、手机号或邮箱等于 value
	ExistsByKeyExcluding(ctx context.Context, scope *int64, value string, excludeID int64) (bool, error)

	// ExistsCode 作用域内编码是否已被使用
	ExistsCode(ctx context.Context, scope *int64, code string) (bool, error)

	InsertMembership(ctx context.Context, tenantID, userID int64) error
	MembershipExists(ctx context.Context, tenantID, userID int64) (bool, error)
	InsertOrgMember(ctx context.Context, orgID, userID int64) error
	InsertRoleMembers(ctx context.Context, userID int64, roleIDs []int64) error

	// Delete 按 DeleteUserCleanup 顺序删除用户及其关联数据
	Delete(ctx context.Context, id int64) error

	// RemoveFromTenant 按 ClearOutCleanup 顺序将用户清退出租户
	RemoveFromTenant(ctx context.Context, tenantID, userID int64) error
}

// CleanupStep 级联清理中的一步，按声明顺序在同一事务内执行
type CleanupStep struct {
	Name string
	SQL  string
}

// DeleteUserCleanup 删除用户时的清理顺序，最后删除用户本身
var DeleteUserCleanup = []CleanupStep{
	{Name: "group_member", SQL: "DELETE FROM ibu_group_member WHERE user_id = @user"},
	{Name: "tenant_user", SQL: "DELETE FROM ibt_tenant_user WHERE user_id = @user"},
	{Name: "organize_member", SQL: "DELETE FROM ibo_organize_member WHERE user_id = @user"},
	{Name: "role_member", SQL: "DELETE FROM ibr_role_member WHERE member_id = @user AND type = 1"},
	{Name: "user", SQL: "DELETE FROM ibu_user WHERE id = @user"},
}

// ClearOutCleanup 将用户清退出租户时的清理顺序，用户本身保留
var ClearOutCleanup = []CleanupStep{
	{Name: "tenant_user", SQL: "DELETE FROM ibt_tenant_user WHERE tenant_id = @tenant AND user_id = @user"},
	{Name: "group_member", SQL: "DELETE FROM ibu_group_member WHERE user_id = @user AND group_id IN (SELECT id FROM ibu_group WHERE tenant_id = @tenant)"},
	{Name: "organize_member", SQL: "DELETE FROM ibo_organize_member WHERE user_id = @user AND post_id IN (SELECT id FROM ibo_organize WHERE tenant_id = @tenant)"},
	{Name: "role_member", SQL: "DELETE FROM ibr_role_member WHERE member_id = @user AND type = 1 AND role_id IN (SELECT id FROM ibr_role WHERE tenant_id = @tenant)"},
}

// 合并更新时持久化的列，编码、租户、创建信息与密码不在其中
var mergedColumns = []string{
	"type", "name", "nickname", "account", "mobile", "email",
	"union_id", "open_id", "head_img", "remark", "invalid",
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建基于 GORM 的用户仓库
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

type userFields struct {
	u *models.User
}

func (f userFields) fieldValue(field string) string {
	switch field {
	case apperrors.FieldAccount:
		return f.u.Account
	case apperrors.FieldMobile:
		return f.u.Mobile
	case apperrors.FieldEmail:
		return f.u.Email
	case apperrors.FieldUnionID:
		return f.u.UnionID
	}
	return ""
}

func scoped(db *gorm.DB, scope *int64) *gorm.DB {
	if scope == nil {
		return db.Where("tenant_id IS NULL")
	}
	return db.Where("tenant_id = ?", *scope)
}

func (r *userRepository) WithTx(ctx context.Context, fn func(repo UserRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&userRepository{db: tx})
	})
}

func (r *userRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrRecordNotFound
		}
		return nil, fmt.Errorf("userRepo.FindByID: 查询用户失败 (ID: %d): %w", id, err)
	}
	return &user, nil
}

func (r *userRepository) FindByKey(ctx context.Context, scope *int64, key string) (*models.User, error) {
	var user models.User
	query := scoped(r.db.WithContext(ctx), scope).
		Where("invalid = ?", false).
		Where("account = @key OR mobile = @key OR email = @key OR union_id = @key", map[string]interface{}{"key": key})
	if err := query.First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrRecordNotFound
		}
		return nil, fmt.Errorf("userRepo.FindByKey: 查询用户失败 (key: %s): %w", key, err)
	}
	return &user, nil
}

func (r *userRepository) List(ctx context.Context, params *pagination.PageParams) ([]models.UserListItem, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.User{}).Select("ibu_user.id, ibu_user.type, ibu_user.code, ibu_user.name, ibu_user.account, ibu_user.mobile, ibu_user.remark, ibu_user.builtin, ibu_user.invalid")

	if params.TenantID != nil {
		query = query.Joins("JOIN ibt_tenant_user t ON t.user_id = ibu_user.id AND t.tenant_id = ?", *params.TenantID)
	}
	if params.Keyword != "" {
		query = query.Where("ibu_user.code = @kw OR ibu_user.account = @kw OR ibu_user.mobile = @kw OR ibu_user.name LIKE @like",
			map[string]interface{}{"kw": params.Keyword, "like": "%" + params.Keyword + "%"})
	}
	if params.Invalid != nil {
		query = query.Where("ibu_user.invalid = ?", *params.Invalid)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("userRepo.List: 统计用户失败: %w", err)
	}

	var items []models.UserListItem
	err := query.Order("ibu_user.created_at DESC").
		Offset(params.GetOffset()).
		Limit(params.GetLimit()).
		Scan(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("userRepo.List: 查询用户列表失败: %w", err)
	}
	return items, total, nil
}

func (r *userRepository) Count(ctx context.Context, scope *int64, keyword string) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.User{})
	if scope != nil {
		query = query.Joins("JOIN ibt_tenant_user t ON t.user_id = ibu_user.id AND t.tenant_id = ?", *scope)
	}
	if keyword != "" {
		query = query.Where("ibu_user.code = @kw OR ibu_user.account = @kw OR ibu_user.mobile = @kw OR ibu_user.email = @kw OR ibu_user.name LIKE @like",
			map[string]interface{}{"kw": keyword, "like": "%" + keyword + "%"})
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("userRepo.Count: 统计用户失败: %w", err)
	}
	return count, nil
}

func (r *userRepository) ListInvitable(ctx context.Context, tenantID int64, keyword string, limit int) ([]models.UserListItem, error) {
	var items []models.UserListItem
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Select("ibu_user.id, ibu_user.type, ibu_user.code, ibu_user.name, ibu_user.account, ibu_user.mobile, ibu_user.remark, ibu_user.builtin, ibu_user.invalid").
		Joins("LEFT JOIN ibt_tenant_user t ON t.user_id = ibu_user.id AND t.tenant_id = ?", tenantID).
		Where("t.id IS NULL").
		Where("ibu_user.account = @kw OR ibu_user.mobile = @kw OR ibu_user.name LIKE @like",
			map[string]interface{}{"kw": keyword, "like": "%" + keyword + "%"}).
		Limit(limit).
		Scan(&items).Error
	if err != nil {
		return nil, fmt.Errorf("userRepo.ListInvitable: 查询可邀请用户失败 (TenantID: %d): %w", tenantID, err)
	}
	return items, nil
}

func (r *userRepository) Insert(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if terr := translateError(err, userFields{user}); terr != err {
			return terr
		}
		return fmt.Errorf("userRepo.Insert: 新增用户失败: %w", err)
	}
	return nil
}

func (r *userRepository) UpdateMerged(ctx context.Context, user *models.User) error {
	result := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Select(mergedColumns).
		Updates(user)
	if result.Error != nil {
		if terr := translateError(result.Error, userFields{user}); terr != result.Error {
			return terr
		}
		return fmt.Errorf("userRepo.UpdateMerged: 更新用户失败 (ID: %d): %w", user.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrRecordNotFound
	}
	return nil
}

func (r *userRepository) updateColumn(ctx context.Context, id int64, column string, value interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update(column, value)
	if result.Error != nil {
		return fmt.Errorf("userRepo: 更新 %s 失败 (ID: %d): %w", column, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrRecordNotFound
	}
	return nil
}

func (r *userRepository) UpdateStatus(ctx context.Context, id int64, invalid bool) error {
	return r.updateColumn(ctx, id, "invalid", invalid)
}

func (r *userRepository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return r.updateColumn(ctx, id, "password", hash)
}

func (r *userRepository) UpdatePayPassword(ctx context.Context, id int64, hash string) error {
	return r.updateColumn(ctx, id, "pay_password", hash)
}

func (r *userRepository) ExistsByKeyExcluding(ctx context.Context, scope *int64, value string, excludeID int64) (bool, error) {
	var count int64
	err := scoped(r.db.WithContext(ctx).Model(&models.User{}), scope).
		Where("invalid = ?", false).
		Where("id <> ?", excludeID).
		Where("account = @key OR mobile = @key OR email = @key", map[string]interface{}{"key": value}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("userRepo.ExistsByKeyExcluding: 查询失败 (key: %s): %w", value, err)
	}
	return count > 0, nil
}

func (r *userRepository) ExistsCode(ctx context.Context, scope *int64, code string) (bool, error) {
	var count int64
	err := scoped(r.db.WithContext(ctx).Model(&models.User{}), scope).
		Where("code = ?", code).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("userRepo.ExistsCode: 查询失败 (code: %s): %w", code, err)
	}
	return count > 0, nil
}

func (r *userRepository) InsertMembership(ctx context.Context, tenantID, userID int64) error {
	if err := r.db.WithContext(ctx).Create(&models.TenantUser{TenantID: tenantID, UserID: userID}).Error; err != nil {
		return fmt.Errorf("userRepo.InsertMembership: 新增租户-用户关系失败 (TenantID: %d, UserID: %d): %w", tenantID, userID, err)
	}
	return nil
}

func (r *userRepository) MembershipExists(ctx context.Context, tenantID, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.TenantUser{}).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("userRepo.MembershipExists: 查询失败: %w", err)
	}
	return count > 0, nil
}

func (r *userRepository) InsertOrgMember(ctx context.Context, orgID, userID int64) error {
	if err := r.db.WithContext(ctx).Create(&models.OrganizeMember{PostID: orgID, UserID: userID}).Error; err != nil {
		return fmt.Errorf("userRepo.InsertOrgMember: 加入组织机构失败 (OrgID: %d): %w", orgID, err)
	}
	return nil
}

func (r *userRepository) InsertRoleMembers(ctx context.Context, userID int64, roleIDs []int64) error {
	if len(roleIDs) == 0 {
		return nil
	}
	members := make([]models.RoleMember, 0, len(roleIDs))
	for _, roleID := range roleIDs {
		members = append(members, models.RoleMember{Type: models.RoleMemberUser, RoleID: roleID, MemberID: userID})
	}
	if err := r.db.WithContext(ctx).Create(&members).Error; err != nil {
		return fmt.Errorf("userRepo.InsertRoleMembers: 加入角色失败 (UserID: %d): %w", userID, err)
	}
	return nil
}

func (r *userRepository) runCleanup(ctx context.Context, steps []CleanupStep, args map[string]interface{}) error {
	for _, step := range steps {
		if err := r.db.WithContext(ctx).Exec(step.SQL, args).Error; err != nil {
			return fmt.Errorf("userRepo: 清理 %s 失败: %w", step.Name, err)
		}
	}
	return nil
}

func (r *userRepository) Delete(ctx context.Context, id int64) error {
	return r.runCleanup(ctx, DeleteUserCleanup, map[string]interface{}{"user": id})
}

func (r *userRepository) RemoveFromTenant(ctx context.Context, tenantID, userID int64) error {
	return r.runCleanup(ctx, ClearOutCleanup, map[string]interface{}{"user": userID, "tenant": tenantID})
}
