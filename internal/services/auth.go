package services

import (
	"context"
	"errors"
	"time"

	"iam/internal/repository"
	apperrors "iam/pkg/errors"
	"iam/pkg/jwt"
)

// AuthService 账号密码登录，签发会话令牌并写入 UserToken:<id>
type AuthService struct {
	repo     repository.UserRepository
	lookup   *LookupService
	cache    Cache
	jwt      *jwt.JWTManager
	hasher   PasswordHasher
	tokenTTL time.Duration
}

func NewAuthService(repo repository.UserRepository, lookup *LookupService, cache Cache,
	jwtManager *jwt.JWTManager, hasher PasswordHasher, tokenTTL time.Duration) *AuthService {
	return &AuthService{repo: repo, lookup: lookup, cache: cache, jwt: jwtManager, hasher: hasher, tokenTTL: tokenTTL}
}

// Login 账号、手机号或邮箱登录；tenantID 为空时在平台用户中查找
func (s *AuthService) Login(ctx context.Context, tenantID *int64, key, password string) (string, error) {
	id, err := s.lookup.Resolve(ctx, tenantID, key)
	if errors.Is(err, apperrors.ErrRecordNotFound) {
		return "", apperrors.ErrInvalidPassword
	}
	if err != nil {
		return "", err
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	if user.Invalid {
		return "", apperrors.ErrUserDisabled
	}
	if !s.hasher.Compare(user.Password, password) {
		return "", apperrors.ErrInvalidPassword
	}

	token, err := s.jwt.GenerateToken(jwt.LoginInfo{UserID: user.ID, UserName: user.Name, TenantID: user.TenantID})
	if err != nil {
		return "", err
	}
	if err := s.cache.Set(ctx, TokenKey(user.ID), token, s.tokenTTL); err != nil {
		return "", err
	}
	return token, nil
}

// Logout 清除会话令牌缓存
func (s *AuthService) Logout(ctx context.Context, userID int64) error {
	return s.cache.Delete(ctx, TokenKey(userID))
}
