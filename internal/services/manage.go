package services

import (
	"context"
	"strconv"

	"iam/internal/models"
	"iam/internal/repository"
	apperrors "iam/pkg/errors"
	"iam/pkg/jwt"
	"iam/pkg/pagination"

	"github.com/sirupsen/logrus"
)

const invitableLimit = 20

// ManageService 租户管理员对用户的管理操作
type ManageService struct {
	repo            repository.UserRepository
	engine          *UpsertEngine
	checker         UniquenessChecker
	cache           *CacheSynchronizer
	hasher          PasswordHasher
	defaultPassword string
	log             *logrus.Logger
}

// NewManageService 创建用户管理服务
func NewManageService(repo repository.UserRepository, engine *UpsertEngine, cache *CacheSynchronizer,
	hasher PasswordHasher, defaultPassword string, log *logrus.Logger) *ManageService {
	return &ManageService{
		repo:            repo,
		engine:          engine,
		cache:           cache,
		hasher:          hasher,
		defaultPassword: defaultPassword,
		log:             log,
	}
}

// List 分页查询，登录身份属于租户时只返回该租户的用户
func (s *ManageService) List(ctx context.Context, login *jwt.LoginInfo, params *pagination.PageParams) ([]models.UserListItem, int64, error) {
	params.TenantID = login.TenantID
	return s.repo.List(ctx, params)
}

// Count 统计当前作用域内匹配关键词的用户数
func (s *ManageService) Count(ctx context.Context, login *jwt.LoginInfo, keyword string) (int64, error) {
	return s.repo.Count(ctx, login.TenantID, keyword)
}

// Get 获取用户详情
func (s *ManageService) Get(ctx context.Context, login *jwt.LoginInfo, id int64) (*models.User, error) {
	if err := s.guard(ctx, s.repo, login, id); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

// guard 租户身份只能操作本租户的用户，其它用户一律视为不存在
func (s *ManageService) guard(ctx context.Context, repo repository.UserRepository, login *jwt.LoginInfo, id int64) error {
	if login == nil || login.TenantID == nil {
		return nil
	}
	ok, err := repo.MembershipExists(ctx, *login.TenantID, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.ErrRecordNotFound
	}
	return nil
}

// Create 新增用户，租户与创建人取自登录身份
func (s *ManageService) Create(ctx context.Context, login *jwt.LoginInfo, c *models.UserCandidate) (int64, error) {
	c.ID = nil
	c.Code = nil
	c.TenantID = login.TenantID
	c.Creator = models.StringPtr(login.UserName)
	c.CreatorID = models.Int64Ptr(login.UserID)
	return s.engine.Upsert(ctx, c)
}

// Edit 合并更新已有用户，用户不存在时返回 ErrRecordNotFound
func (s *ManageService) Edit(ctx context.Context, login *jwt.LoginInfo, id int64, c *models.UserCandidate) error {
	if err := s.guard(ctx, s.repo, login, id); err != nil {
		return err
	}
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return err
	}
	c.ID = &id
	_, err := s.engine.Upsert(ctx, c)
	return err
}

// Delete 删除用户及其组、租户、组织、角色关联，提交后清理缓存
func (s *ManageService) Delete(ctx context.Context, login *jwt.LoginInfo, id int64) error {
	var user *models.User
	err := s.repo.WithTx(ctx, func(tx repository.UserRepository) error {
		if err := s.guard(ctx, tx, login, id); err != nil {
			return err
		}
		var err error
		if user, err = tx.FindByID(ctx, id); err != nil {
			return err
		}
		if user.Builtin {
			return apperrors.ErrBuiltinProtected
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	if err := s.cache.Evict(ctx, user); err != nil {
		s.log.WithField("user_id", id).Warnf("清理用户缓存失败: %v", err)
	}
	s.log.WithField("user_id", id).Info("删除用户")
	return nil
}

// UpdateStatus 启用或禁用用户。
// 禁用用户不参与唯一性，重新启用前需确认其标识未被他人占用
func (s *ManageService) UpdateStatus(ctx context.Context, login *jwt.LoginInfo, id int64, invalid bool) error {
	err := s.repo.WithTx(ctx, func(tx repository.UserRepository) error {
		if err := s.guard(ctx, tx, login, id); err != nil {
			return err
		}
		user, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if user.Invalid == invalid {
			return nil
		}
		if invalid && user.Builtin {
			return apperrors.ErrBuiltinProtected
		}
		if !invalid {
			if err := s.checker.Check(ctx, tx, user.TenantID, user.ID, user.Account, user.Mobile, user.Email); err != nil {
				return err
			}
		}
		return tx.UpdateStatus(ctx, id, invalid)
	})
	if err != nil {
		return err
	}

	if err := s.cache.PatchField(ctx, id, CacheFieldInvalid, strconv.FormatBool(invalid)); err != nil {
		s.log.WithField("user_id", id).Warnf("同步用户状态缓存失败: %v", err)
	}
	return nil
}

// ResetPassword 重置为默认密码
func (s *ManageService) ResetPassword(ctx context.Context, login *jwt.LoginInfo, id int64) error {
	if err := s.guard(ctx, s.repo, login, id); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(s.defaultPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePassword(ctx, id, hash); err != nil {
		return err
	}
	if err := s.cache.PatchField(ctx, id, CacheFieldPassword, hash); err != nil {
		s.log.WithField("user_id", id).Warnf("同步用户密码缓存失败: %v", err)
	}
	return nil
}

// ListInvitable 按关键词查找尚未加入当前租户的用户
func (s *ManageService) ListInvitable(ctx context.Context, tenantID int64, keyword string) ([]models.UserListItem, error) {
	if keyword == "" {
		return []models.UserListItem{}, nil
	}
	return s.repo.ListInvitable(ctx, tenantID, keyword, invitableLimit)
}

// Invite 将已有用户加入租户，已是成员时忽略
func (s *ManageService) Invite(ctx context.Context, tenantID, userID int64) error {
	return s.repo.WithTx(ctx, func(tx repository.UserRepository) error {
		if _, err := tx.FindByID(ctx, userID); err != nil {
			return err
		}
		exists, err := tx.MembershipExists(ctx, tenantID, userID)
		if err != nil || exists {
			return err
		}
		return tx.InsertMembership(ctx, tenantID, userID)
	})
}

// ClearOut 将用户清退出租户，用户本身保留
func (s *ManageService) ClearOut(ctx context.Context, tenantID, userID int64) error {
	err := s.repo.WithTx(ctx, func(tx repository.UserRepository) error {
		return tx.RemoveFromTenant(ctx, tenantID, userID)
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "tenant_id": tenantID}).Info("用户清退出租户")
	return nil
}
