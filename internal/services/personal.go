package services

import (
	"context"

	"iam/internal/models"
	"iam/internal/repository"
	apperrors "iam/pkg/errors"

	"github.com/sirupsen/logrus"
)

// ProfilePatch 个人资料修改，nil字段保持不变
type ProfilePatch struct {
	Name     *string
	Nickname *string
	Mobile   *string
	Email    *string
	HeadImg  *string
	Remark   *string
}

// UserService 用户本人的注册、资料与密码操作
type UserService struct {
	repo   repository.UserRepository
	engine *UpsertEngine
	lookup *LookupService
	cache  *CacheSynchronizer
	hasher PasswordHasher
	log    *logrus.Logger
}

// NewUserService 创建个人服务
func NewUserService(repo repository.UserRepository, engine *UpsertEngine, lookup *LookupService,
	cache *CacheSynchronizer, hasher PasswordHasher, log *logrus.Logger) *UserService {
	return &UserService{repo: repo, engine: engine, lookup: lookup, cache: cache, hasher: hasher, log: log}
}

// Register 自助注册平台用户
func (s *UserService) Register(ctx context.Context, c *models.UserCandidate) (int64, error) {
	c.ID = nil
	c.Code = nil
	c.TenantID = nil
	c.Builtin = nil
	c.Creator, c.CreatorID = nil, nil
	c.OrgID, c.RoleIDs = nil, nil
	return s.engine.Upsert(ctx, c)
}

// Me 当前用户资料，优先读取热点缓存
func (s *UserService) Me(ctx context.Context, id int64) (*CachedProfile, error) {
	return s.lookup.Profile(ctx, id)
}

// UpdateProfile 修改本人资料，走合并更新
func (s *UserService) UpdateProfile(ctx context.Context, id int64, patch ProfilePatch) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return err
	}
	_, err := s.engine.Upsert(ctx, &models.UserCandidate{
		ID:       &id,
		Name:     patch.Name,
		Nickname: patch.Nickname,
		Mobile:   patch.Mobile,
		Email:    patch.Email,
		HeadImg:  patch.HeadImg,
		Remark:   patch.Remark,
	})
	return err
}

// ChangePassword 校验原密码后修改密码
func (s *UserService) ChangePassword(ctx context.Context, id int64, oldPassword, newPassword string) error {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !s.hasher.Compare(user.Password, oldPassword) {
		return apperrors.ErrInvalidPassword
	}

	hash, err := s.hasher.Hash(newPassword)
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

// SetPayPassword 设置支付密码
func (s *UserService) SetPayPassword(ctx context.Context, id int64, payPassword string) error {
	hash, err := s.hasher.Hash(payPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdatePayPassword(ctx, id, hash); err != nil {
		return err
	}
	if err := s.cache.PatchField(ctx, id, CacheFieldPayPassword, hash); err != nil {
		s.log.WithField("user_id", id).Warnf("同步支付密码缓存失败: %v", err)
	}
	return nil
}

// VerifyPayPassword 以库中的哈希校验支付密码，未设置时同样返回 ErrInvalidPassword
func (s *UserService) VerifyPayPassword(ctx context.Context, id int64, payPassword string) error {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if user.PayPassword == "" || !s.hasher.Compare(user.PayPassword, payPassword) {
		return apperrors.ErrInvalidPassword
	}
	return nil
}
