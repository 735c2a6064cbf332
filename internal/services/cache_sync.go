package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"iam/internal/models"
)

// 用户缓存哈希字段
const (
	CacheFieldName        = "name"
	CacheFieldNickname    = "nickname"
	CacheFieldAccount     = "account"
	CacheFieldMobile      = "mobile"
	CacheFieldEmail       = "email"
	CacheFieldUnionID     = "unionId"
	CacheFieldHeadImg     = "headImg"
	CacheFieldRemark      = "remark"
	CacheFieldType        = "type"
	CacheFieldInvalid     = "invalid"
	CacheFieldPassword    = "password"
	CacheFieldPayPassword = "payPassword"
)

// ProfileKey 用户热点缓存 User:<id>
func ProfileKey(id int64) string {
	return fmt.Sprintf("User:%d", id)
}

// TokenKey 认证服务维护的会话缓存
func TokenKey(id int64) string {
	return fmt.Sprintf("UserToken:%d", id)
}

// IndexKey 反查索引：平台用户 ID:<value>，租户用户 ID:<tenantId>:<value>
func IndexKey(tenantID *int64, value string) string {
	if tenantID == nil {
		return "ID:" + value
	}
	return fmt.Sprintf("ID:%d:%s", *tenantID, value)
}

// ProfileFields 用户缓存哈希的全部字段
func ProfileFields(u *models.User) map[string]string {
	fields := make(map[string]string, len(mirroredFields))
	for _, f := range mirroredFields {
		fields[f.name] = f.value(u)
	}
	return fields
}

type mirroredField struct {
	name  string
	value func(u *models.User) string
}

var mirroredFields = []mirroredField{
	{CacheFieldName, func(u *models.User) string { return u.Name }},
	{CacheFieldNickname, func(u *models.User) string { return u.Nickname }},
	{CacheFieldAccount, func(u *models.User) string { return u.Account }},
	{CacheFieldMobile, func(u *models.User) string { return u.Mobile }},
	{CacheFieldEmail, func(u *models.User) string { return u.Email }},
	{CacheFieldUnionID, func(u *models.User) string { return u.UnionID }},
	{CacheFieldHeadImg, func(u *models.User) string { return u.HeadImg }},
	{CacheFieldRemark, func(u *models.User) string { return u.Remark }},
	{CacheFieldType, func(u *models.User) string { return strconv.Itoa(u.Type) }},
	{CacheFieldInvalid, func(u *models.User) string { return strconv.FormatBool(u.Invalid) }},
	{CacheFieldPassword, func(u *models.User) string { return u.Password }},
	{CacheFieldPayPassword, func(u *models.User) string { return u.PayPassword }},
}

// 建立反查索引的字段
var indexedValues = []func(u *models.User) string{
	func(u *models.User) string { return u.Account },
	func(u *models.User) string { return u.Mobile },
	func(u *models.User) string { return u.Email },
	func(u *models.User) string { return u.UnionID },
}

// CacheSynchronizer 在用户数据变更后清理过期索引并修补热点缓存
type CacheSynchronizer struct {
	cache Cache
}

// NewCacheSynchronizer 创建缓存同步器
func NewCacheSynchronizer(cache Cache) *CacheSynchronizer {
	return &CacheSynchronizer{cache: cache}
}

// Sync 对比变更前后的用户：
// 索引字段变化时只删除旧值的索引，新值由下一次读取回填；
// 镜像字段变化时仅在 User:<id> 已存在时修补对应字段
func (s *CacheSynchronizer) Sync(ctx context.Context, old, merged *models.User) error {
	var errs []error

	var stale []string
	for _, value := range indexedValues {
		before, after := value(old), value(merged)
		if before != "" && before != after {
			stale = append(stale, IndexKey(old.TenantID, before))
		}
	}
	if len(stale) > 0 {
		if err := s.cache.Delete(ctx, stale...); err != nil {
			errs = append(errs, err)
		}
	}

	key := ProfileKey(old.ID)
	for _, f := range mirroredFields {
		after := f.value(merged)
		if f.value(old) == after {
			continue
		}
		if _, err := s.cache.SetFieldIfExists(ctx, key, f.name, after); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// PatchField 单字段变更（状态、密码）时修补热点缓存
func (s *CacheSynchronizer) PatchField(ctx context.Context, id int64, field, value string) error {
	_, err := s.cache.SetFieldIfExists(ctx, ProfileKey(id), field, value)
	return err
}

// Evict 删除用户时清理全部索引、热点缓存与会话
func (s *CacheSynchronizer) Evict(ctx context.Context, u *models.User) error {
	keys := []string{ProfileKey(u.ID), TokenKey(u.ID)}
	for _, value := range indexedValues {
		if v := value(u); v != "" {
			keys = append(keys, IndexKey(u.TenantID, v))
		}
	}
	return s.cache.Delete(ctx, keys...)
}
