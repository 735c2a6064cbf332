package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"iam/internal/models"
	"iam/internal/repository"
	apperrors "iam/pkg/errors"

	"github.com/sirupsen/logrus"
)

// CachedProfile 热点缓存中的用户资料，不含密码
type CachedProfile struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
	Account  string `json:"account"`
	Mobile   string `json:"mobile"`
	Email    string `json:"email"`
	UnionID  string `json:"union_id"`
	HeadImg  string `json:"head_img"`
	Remark   string `json:"remark"`
	Type     int    `json:"type"`
	Invalid  bool   `json:"invalid"`
}

// LookupService 缓存读取方：按需回填索引与热点缓存，命中索引后回库校验
type LookupService struct {
	repo  repository.UserRepository
	cache Cache
	ttl   time.Duration
	log   *logrus.Logger
}

// NewLookupService 创建查询服务
func NewLookupService(repo repository.UserRepository, cache Cache, ttl time.Duration, log *logrus.Logger) *LookupService {
	return &LookupService{repo: repo, cache: cache, ttl: ttl, log: log}
}

// Resolve 将账号/手机号/邮箱/UnionID解析为用户ID。
// 索引可能过期，命中后必须确认该用户仍有效且仍持有该值
func (s *LookupService) Resolve(ctx context.Context, tenantID *int64, key string) (int64, error) {
	if key == "" {
		return 0, apperrors.ErrRecordNotFound
	}
	indexKey := IndexKey(tenantID, key)

	cached, found, err := s.cache.Get(ctx, indexKey)
	if err != nil {
		s.log.WithField("key", indexKey).Warnf("读取索引缓存失败: %v", err)
	}
	if found {
		if id, perr := strconv.ParseInt(cached, 10, 64); perr == nil {
			user, ferr := s.repo.FindByID(ctx, id)
			if ferr == nil && holdsKey(user, tenantID, key) {
				return id, nil
			}
			if ferr != nil && !errors.Is(ferr, apperrors.ErrRecordNotFound) {
				return 0, ferr
			}
		}
		if err := s.cache.Delete(ctx, indexKey); err != nil {
			s.log.WithField("key", indexKey).Warnf("删除过期索引失败: %v", err)
		}
	}

	user, err := s.repo.FindByKey(ctx, tenantID, key)
	if err != nil {
		return 0, err
	}
	if err := s.cache.Set(ctx, indexKey, strconv.FormatInt(user.ID, 10), s.ttl); err != nil {
		s.log.WithField("key", indexKey).Warnf("回填索引缓存失败: %v", err)
	}
	return user.ID, nil
}

func holdsKey(u *models.User, tenantID *int64, key string) bool {
	if u.Invalid {
		return false
	}
	if (u.TenantID == nil) != (tenantID == nil) || (tenantID != nil && *u.TenantID != *tenantID) {
		return false
	}
	return u.Account == key || u.Mobile == key || u.Email == key || u.UnionID == key
}

// Profile 读取热点缓存，未命中时从库加载并回填
func (s *LookupService) Profile(ctx context.Context, id int64) (*CachedProfile, error) {
	fields, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	profile := &CachedProfile{
		ID:       id,
		Name:     fields[CacheFieldName],
		Nickname: fields[CacheFieldNickname],
		Account:  fields[CacheFieldAccount],
		Mobile:   fields[CacheFieldMobile],
		Email:    fields[CacheFieldEmail],
		UnionID:  fields[CacheFieldUnionID],
		HeadImg:  fields[CacheFieldHeadImg],
		Remark:   fields[CacheFieldRemark],
	}
	profile.Type, _ = strconv.Atoi(fields[CacheFieldType])
	profile.Invalid, _ = strconv.ParseBool(fields[CacheFieldInvalid])
	return profile, nil
}

func (s *LookupService) load(ctx context.Context, id int64) (map[string]string, error) {
	key := ProfileKey(id)
	fields, err := s.cache.HGetAll(ctx, key)
	if err != nil {
		s.log.WithField("key", key).Warnf("读取用户缓存失败: %v", err)
	}
	if len(fields) > 0 {
		return fields, nil
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	fields = ProfileFields(user)
	if err := s.cache.HSetAll(ctx, key, fields, s.ttl); err != nil {
		s.log.WithField("key", key).Warnf("回填用户缓存失败: %v", err)
	}
	return fields, nil
}
