package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"iam/internal/models"
	"iam/internal/repository"
	"iam/pkg/config"
	apperrors "iam/pkg/errors"
	"iam/pkg/idgen"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
)

// PasswordHasher 单向密码哈希
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Compare(hash, plain string) bool
}

// BcryptHasher bcrypt实现，Cost为0时使用默认值
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(plain string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", fmt.Errorf("密码加密失败: %w", err)
	}
	return string(hash), nil
}

func (h BcryptHasher) Compare(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// ========== 字段合并策略 ==========

// MergePolicy 更新时字段的合并方式
type MergePolicy int

const (
	// CarryForward 未提供则保留原值，提供空值则清空
	CarryForward MergePolicy = iota
	// KeepIfEmpty 提供非空值才覆盖
	KeepIfEmpty
	// MergeKeys 按键合并，值为空的键被删除
	MergeKeys
	// Immutable 创建后不再变化
	Immutable
	// Dedicated 只能通过专门的操作修改
	Dedicated
)

func (p MergePolicy) String() string {
	switch p {
	case CarryForward:
		return "carry-forward"
	case KeepIfEmpty:
		return "keep-if-empty"
	case MergeKeys:
		return "merge-keys"
	case Immutable:
		return "immutable"
	case Dedicated:
		return "dedicated"
	}
	return "unknown"
}

type mergeRule struct {
	field  string
	policy MergePolicy
	apply  func(dst *models.User, c *models.UserCandidate)
}

var mergeRules = []mergeRule{
	{"name", CarryForward, func(u *models.User, c *models.UserCandidate) { carryString(&u.Name, c.Name) }},
	{"nickname", CarryForward, func(u *models.User, c *models.UserCandidate) { carryString(&u.Nickname, c.Nickname) }},
	{"account", KeepIfEmpty, func(u *models.User, c *models.UserCandidate) {
		if v := models.StringValue(c.Account); v != "" {
			u.Account = v
		}
	}},
	{"mobile", CarryForward, func(u *models.User, c *models.UserCandidate) { carryString(&u.Mobile, c.Mobile) }},
	{"email", CarryForward, func(u *models.User, c *models.UserCandidate) { carryString(&u.Email, c.Email) }},
	{"union_id", CarryForward, func(u *models.User, c *models.UserCandidate) { carryString(&u.UnionID, c.UnionID) }},
	{"open_id", MergeKeys, func(u *models.User, c *models.UserCandidate) { u.OpenID = mergeOpenID(u.OpenID, c.OpenID) }},
	{"head_img", CarryForward, func(u *models.User, c *models.UserCandidate) { carryString(&u.HeadImg, c.HeadImg) }},
	{"remark", CarryForward, func(u *models.User, c *models.UserCandidate) { carryString(&u.Remark, c.Remark) }},
	{"type", CarryForward, func(u *models.User, c *models.UserCandidate) {
		if c.Type != nil {
			u.Type = *c.Type
		}
	}},
	{"invalid", CarryForward, func(u *models.User, c *models.UserCandidate) {
		if c.Invalid != nil {
			u.Invalid = *c.Invalid
		}
	}},
	{"id", Immutable, nil},
	{"tenant_id", Immutable, nil},
	{"code", Immutable, nil},
	{"builtin", Immutable, nil},
	{"creator", Immutable, nil},
	{"creator_id", Immutable, nil},
	{"created_at", Immutable, nil},
	{"password", Dedicated, nil},
	{"pay_password", Dedicated, nil},
}

// FieldPolicies 各字段的合并策略
func FieldPolicies() map[string]MergePolicy {
	policies := make(map[string]MergePolicy, len(mergeRules))
	for _, r := range mergeRules {
		policies[r.field] = r.policy
	}
	return policies
}

func carryString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func mergeOpenID(current datatypes.JSONMap, incoming map[string]string) datatypes.JSONMap {
	if len(incoming) == 0 {
		return current
	}
	merged := make(datatypes.JSONMap, len(current)+len(incoming))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range incoming {
		if v == "" {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}

// merge 按字段策略将候选数据合并到现有用户上，返回新对象
func merge(existing *models.User, c *models.UserCandidate) *models.User {
	merged := *existing
	for _, r := range mergeRules {
		if r.apply != nil {
			r.apply(&merged, c)
		}
	}
	return &merged
}

func mergedChanged(old, merged *models.User) bool {
	return old.Name != merged.Name ||
		old.Nickname != merged.Nickname ||
		old.Account != merged.Account ||
		old.Mobile != merged.Mobile ||
		old.Email != merged.Email ||
		old.UnionID != merged.UnionID ||
		old.HeadImg != merged.HeadImg ||
		old.Remark != merged.Remark ||
		old.Type != merged.Type ||
		old.Invalid != merged.Invalid ||
		!reflect.DeepEqual(old.OpenID, merged.OpenID)
}

// ========== 新增或更新 ==========

// UpsertEngine 用户新增或合并更新的唯一入口
type UpsertEngine struct {
	repo            repository.UserRepository
	checker         UniquenessChecker
	codes           *CodeAllocator
	cache           *CacheSynchronizer
	ids             idgen.Generator
	hasher          PasswordHasher
	timeout         time.Duration
	defaultPassword string
	log             *logrus.Logger
}

// NewUpsertEngine 创建引擎，所有依赖显式注入
func NewUpsertEngine(repo repository.UserRepository, codes *CodeAllocator, cache *CacheSynchronizer,
	ids idgen.Generator, hasher PasswordHasher, cfg config.UpsertConfig, log *logrus.Logger) *UpsertEngine {
	return &UpsertEngine{
		repo:            repo,
		codes:           codes,
		cache:           cache,
		ids:             ids,
		hasher:          hasher,
		timeout:         cfg.Timeout,
		defaultPassword: cfg.DefaultPassword,
		log:             log,
	}
}

// Upsert 候选数据带ID且用户存在时合并更新，否则新增，返回用户ID。
// 新增或更新在同一事务中完成，缓存同步在提交之后进行
func (e *UpsertEngine) Upsert(ctx context.Context, c *models.UserCandidate) (int64, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var (
		id           int64
		old, updated *models.User
		err          error
	)
	for attempt := 0; attempt < e.codes.MaxAttempts(); attempt++ {
		old, updated = nil, nil
		err = e.repo.WithTx(ctx, func(tx repository.UserRepository) error {
			existing, err := e.findExisting(ctx, tx, c)
			if err != nil {
				return err
			}
			if existing == nil {
				id, err = e.create(ctx, tx, c)
				return err
			}
			id = existing.ID
			old = existing
			updated, err = e.update(ctx, tx, existing, c)
			return err
		})
		// 编码被并发占用时重新分配；主键冲突说明同一用户被并发新增，重试后走更新分支
		if errors.Is(err, repository.ErrCodeConflict) || errors.Is(err, repository.ErrIDConflict) {
			e.log.WithFields(logrus.Fields{"user_id": id, "attempt": attempt + 1}).
				Debugf("用户写入冲突，重试: %v", err)
			continue
		}
		break
	}
	if errors.Is(err, repository.ErrCodeConflict) {
		return 0, apperrors.ErrAllocationExhausted
	}
	if err != nil {
		return 0, err
	}

	if updated != nil {
		if err := e.cache.Sync(ctx, old, updated); err != nil {
			e.log.WithFields(logrus.Fields{"user_id": id}).Warnf("同步用户缓存失败: %v", err)
		}
	}
	return id, nil
}

func (e *UpsertEngine) findExisting(ctx context.Context, tx repository.UserRepository, c *models.UserCandidate) (*models.User, error) {
	if c.ID == nil || *c.ID == 0 {
		return nil, nil
	}
	existing, err := tx.FindByID(ctx, *c.ID)
	if errors.Is(err, apperrors.ErrRecordNotFound) {
		return nil, nil
	}
	return existing, err
}

func (e *UpsertEngine) create(ctx context.Context, tx repository.UserRepository, c *models.UserCandidate) (int64, error) {
	err := e.checker.Check(ctx, tx, c.TenantID, models.NoExclusion,
		models.StringValue(c.Account), models.StringValue(c.Mobile), models.StringValue(c.Email))
	if err != nil {
		return 0, err
	}

	user := &models.User{
		TenantID: c.TenantID,
		Name:     models.StringValue(c.Name),
		Nickname: models.StringValue(c.Nickname),
		Account:  models.StringValue(c.Account),
		Mobile:   models.StringValue(c.Mobile),
		Email:    models.StringValue(c.Email),
		UnionID:  models.StringValue(c.UnionID),
		OpenID:   mergeOpenID(nil, c.OpenID),
		HeadImg:  models.StringValue(c.HeadImg),
		Remark:   models.StringValue(c.Remark),
	}
	if c.ID != nil && *c.ID != 0 {
		user.ID = *c.ID
	} else {
		user.ID = e.ids.NextID()
	}
	if c.Type != nil {
		user.Type = *c.Type
	}
	if c.Builtin != nil {
		user.Builtin = *c.Builtin
	}
	if c.Invalid != nil {
		user.Invalid = *c.Invalid
	}

	if code := models.StringValue(c.Code); code != "" {
		user.Code = code
	} else {
		user.Code, err = e.codes.Allocate(ctx, e.codes.UserFormat(c.TenantID), func(ctx context.Context, code string) (bool, error) {
			return tx.ExistsCode(ctx, c.TenantID, code)
		})
		if err != nil {
			return 0, err
		}
	}

	if user.Account == "" {
		user.Account = idgen.Token()
	}

	// 租户开通的账号使用已知默认密码，自助注册与平台账号使用随机密码
	plain := models.StringValue(c.Password)
	if plain == "" {
		if c.TenantID != nil {
			plain = e.defaultPassword
		} else {
			plain = idgen.Token()
		}
	}
	if user.Password, err = e.hasher.Hash(plain); err != nil {
		return 0, err
	}

	if c.Creator != nil && c.CreatorID != nil {
		user.Creator, user.CreatorID = *c.Creator, *c.CreatorID
	} else {
		user.Creator, user.CreatorID = user.Name, user.ID
	}

	if err := tx.Insert(ctx, user); err != nil {
		// 调用方指定的编码冲突不重新分配
		if errors.Is(err, repository.ErrCodeConflict) && models.StringValue(c.Code) != "" {
			return 0, apperrors.NewDuplicateIdentity(apperrors.FieldCode, user.Code)
		}
		return 0, err
	}

	if c.TenantID != nil {
		if err := tx.InsertMembership(ctx, *c.TenantID, user.ID); err != nil {
			return 0, err
		}
	}
	if c.OrgID != nil {
		if err := tx.InsertOrgMember(ctx, *c.OrgID, user.ID); err != nil {
			return 0, err
		}
	}
	if err := tx.InsertRoleMembers(ctx, user.ID, c.RoleIDs); err != nil {
		return 0, err
	}

	e.log.WithFields(logrus.Fields{"user_id": user.ID, "tenant_id": c.TenantID, "code": user.Code}).Info("新增用户")
	return user.ID, nil
}

// update 返回合并后的用户；无字段变化时不写库
func (e *UpsertEngine) update(ctx context.Context, tx repository.UserRepository, existing *models.User, c *models.UserCandidate) (*models.User, error) {
	err := e.checker.Check(ctx, tx, existing.TenantID, existing.ID,
		models.StringValue(c.Account), models.StringValue(c.Mobile), models.StringValue(c.Email))
	if err != nil {
		return nil, err
	}

	merged := merge(existing, c)
	if !mergedChanged(existing, merged) {
		return merged, nil
	}
	if err := tx.UpdateMerged(ctx, merged); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{"user_id": existing.ID}).Debug("更新用户")
	return merged, nil
}
