package services

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"iam/internal/models"
	"iam/internal/repository"
	"iam/pkg/config"
	apperrors "iam/pkg/errors"
	"iam/pkg/pagination"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"
)

// ========== 内存用户仓库 ==========

type fakeState struct {
	users       map[int64]models.User
	memberships map[[2]int64]bool
	orgMembers  []models.OrganizeMember
	roleMembers []models.RoleMember
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		users:       make(map[int64]models.User, len(s.users)),
		memberships: make(map[[2]int64]bool, len(s.memberships)),
		orgMembers:  append([]models.OrganizeMember(nil), s.orgMembers...),
		roleMembers: append([]models.RoleMember(nil), s.roleMembers...),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.memberships {
		c.memberships[k] = v
	}
	return c
}

type fakeStore struct {
	mu    sync.Mutex
	state *fakeState

	// skipCodeCheck 让 ExistsCode 总是返回 false，只靠插入时的唯一约束兜底
	skipCodeCheck bool
	updates       int
}

// fakeUserRepo 事务期间持有全局锁并在副本上操作，成功后整体替换，等价于串行化隔离
type fakeUserRepo struct {
	store *fakeStore
	tx    *fakeState
}

var _ repository.UserRepository = (*fakeUserRepo)(nil)

func newFakeRepo() *fakeUserRepo {
	return &fakeUserRepo{store: &fakeStore{state: &fakeState{
		users:       map[int64]models.User{},
		memberships: map[[2]int64]bool{},
	}}}
}

func (r *fakeUserRepo) seed(users ...models.User) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, u := range users {
		r.store.state.users[u.ID] = u
	}
}

func (r *fakeUserRepo) user(id int64) (models.User, bool) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	u, ok := r.store.state.users[id]
	return u, ok
}

func (r *fakeUserRepo) all() []models.User {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	users := make([]models.User, 0, len(r.store.state.users))
	for _, u := range r.store.state.users {
		users = append(users, u)
	}
	return users
}

func (r *fakeUserRepo) hasMembership(tenantID, userID int64) bool {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.state.memberships[[2]int64{tenantID, userID}]
}

func (r *fakeUserRepo) updateCount() int {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.updates
}

func (r *fakeUserRepo) do(fn func(st *fakeState) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.state)
}

func sameScope(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (r *fakeUserRepo) WithTx(ctx context.Context, fn func(repo repository.UserRepository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	working := r.store.state.clone()
	if err := fn(&fakeUserRepo{store: r.store, tx: working}); err != nil {
		return err
	}
	r.store.state = working
	return nil
}

func (r *fakeUserRepo) FindByID(ctx context.Context, id int64) (*models.User, error) {
	var found *models.User
	err := r.do(func(st *fakeState) error {
		u, ok := st.users[id]
		if !ok {
			return apperrors.ErrRecordNotFound
		}
		found = &u
		return nil
	})
	return found, err
}

func (r *fakeUserRepo) FindByKey(ctx context.Context, scope *int64, key string) (*models.User, error) {
	var found *models.User
	err := r.do(func(st *fakeState) error {
		for _, u := range st.users {
			if u.Invalid || !sameScope(u.TenantID, scope) {
				continue
			}
			if u.Account == key || u.Mobile == key || u.Email == key || u.UnionID == key {
				u := u
				found = &u
				return nil
			}
		}
		return apperrors.ErrRecordNotFound
	})
	return found, err
}

func (r *fakeUserRepo) List(ctx context.Context, params *pagination.PageParams) ([]models.UserListItem, int64, error) {
	var items []models.UserListItem
	err := r.do(func(st *fakeState) error {
		for _, u := range st.users {
			if params.TenantID != nil && !st.memberships[[2]int64{*params.TenantID, u.ID}] {
				continue
			}
			items = append(items, models.UserListItem{ID: u.ID, Code: u.Code, Name: u.Name, Account: u.Account, Mobile: u.Mobile})
		}
		return nil
	})
	return items, int64(len(items)), err
}

func (r *fakeUserRepo) Count(ctx context.Context, scope *int64, keyword string) (int64, error) {
	var count int64
	err := r.do(func(st *fakeState) error {
		for _, u := range st.users {
			if scope != nil && !st.memberships[[2]int64{*scope, u.ID}] {
				continue
			}
			if keyword == "" || u.Code == keyword || u.Account == keyword || u.Mobile == keyword ||
				u.Email == keyword || strings.Contains(u.Name, keyword) {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (r *fakeUserRepo) ListInvitable(ctx context.Context, tenantID int64, keyword string, limit int) ([]models.UserListItem, error) {
	var items []models.UserListItem
	err := r.do(func(st *fakeState) error {
		for _, u := range st.users {
			if st.memberships[[2]int64{tenantID, u.ID}] {
				continue
			}
			if u.Account == keyword || u.Mobile == keyword || u.Name == keyword {
				items = append(items, models.UserListItem{ID: u.ID, Name: u.Name, Account: u.Account})
			}
		}
		return nil
	})
	return items, err
}

// Insert 模拟主键与部分唯一索引
func (r *fakeUserRepo) Insert(ctx context.Context, user *models.User) error {
	return r.do(func(st *fakeState) error {
		if _, ok := st.users[user.ID]; ok {
			return repository.ErrIDConflict
		}
		for _, u := range st.users {
			if !sameScope(u.TenantID, user.TenantID) {
				continue
			}
			if u.Code == user.Code {
				return repository.ErrCodeConflict
			}
			if u.Invalid || user.Invalid {
				continue
			}
			switch {
			case user.Account != "" && u.Account == user.Account:
				return apperrors.NewDuplicateIdentity(apperrors.FieldAccount, user.Account)
			case user.Mobile != "" && u.Mobile == user.Mobile:
				return apperrors.NewDuplicateIdentity(apperrors.FieldMobile, user.Mobile)
			case user.Email != "" && u.Email == user.Email:
				return apperrors.NewDuplicateIdentity(apperrors.FieldEmail, user.Email)
			}
		}
		st.users[user.ID] = *user
		return nil
	})
}

func (r *fakeUserRepo) UpdateMerged(ctx context.Context, user *models.User) error {
	return r.do(func(st *fakeState) error {
		current, ok := st.users[user.ID]
		if !ok {
			return apperrors.ErrRecordNotFound
		}
		current.Type = user.Type
		current.Name = user.Name
		current.Nickname = user.Nickname
		current.Account = user.Account
		current.Mobile = user.Mobile
		current.Email = user.Email
		current.UnionID = user.UnionID
		current.OpenID = user.OpenID
		current.HeadImg = user.HeadImg
		current.Remark = user.Remark
		current.Invalid = user.Invalid
		st.users[user.ID] = current
		r.store.updates++
		return nil
	})
}

func (r *fakeUserRepo) modify(id int64, fn func(u *models.User)) error {
	return r.do(func(st *fakeState) error {
		u, ok := st.users[id]
		if !ok {
			return apperrors.ErrRecordNotFound
		}
		fn(&u)
		st.users[id] = u
		return nil
	})
}

func (r *fakeUserRepo) UpdateStatus(ctx context.Context, id int64, invalid bool) error {
	return r.modify(id, func(u *models.User) { u.Invalid = invalid })
}

func (r *fakeUserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return r.modify(id, func(u *models.User) { u.Password = hash })
}

func (r *fakeUserRepo) UpdatePayPassword(ctx context.Context, id int64, hash string) error {
	return r.modify(id, func(u *models.User) { u.PayPassword = hash })
}

func (r *fakeUserRepo) ExistsByKeyExcluding(ctx context.Context, scope *int64, value string, excludeID int64) (bool, error) {
	exists := false
	err := r.do(func(st *fakeState) error {
		for _, u := range st.users {
			if u.ID == excludeID || u.Invalid || !sameScope(u.TenantID, scope) {
				continue
			}
			if u.Account == value || u.Mobile == value || u.Email == value {
				exists = true
				return nil
			}
		}
		return nil
	})
	return exists, err
}

func (r *fakeUserRepo) ExistsCode(ctx context.Context, scope *int64, code string) (bool, error) {
	if r.store.skipCodeCheck {
		return false, nil
	}
	exists := false
	err := r.do(func(st *fakeState) error {
		for _, u := range st.users {
			if sameScope(u.TenantID, scope) && u.Code == code {
				exists = true
			}
		}
		return nil
	})
	return exists, err
}

func (r *fakeUserRepo) InsertMembership(ctx context.Context, tenantID, userID int64) error {
	return r.do(func(st *fakeState) error {
		st.memberships[[2]int64{tenantID, userID}] = true
		return nil
	})
}

func (r *fakeUserRepo) MembershipExists(ctx context.Context, tenantID, userID int64) (bool, error) {
	exists := false
	err := r.do(func(st *fakeState) error {
		exists = st.memberships[[2]int64{tenantID, userID}]
		return nil
	})
	return exists, err
}

func (r *fakeUserRepo) InsertOrgMember(ctx context.Context, orgID, userID int64) error {
	return r.do(func(st *fakeState) error {
		st.orgMembers = append(st.orgMembers, models.OrganizeMember{PostID: orgID, UserID: userID})
		return nil
	})
}

func (r *fakeUserRepo) InsertRoleMembers(ctx context.Context, userID int64, roleIDs []int64) error {
	return r.do(func(st *fakeState) error {
		for _, id := range roleIDs {
			st.roleMembers = append(st.roleMembers, models.RoleMember{Type: models.RoleMemberUser, RoleID: id, MemberID: userID})
		}
		return nil
	})
}

func (r *fakeUserRepo) Delete(ctx context.Context, id int64) error {
	return r.do(func(st *fakeState) error {
		if _, ok := st.users[id]; !ok {
			return apperrors.ErrRecordNotFound
		}
		delete(st.users, id)
		for k := range st.memberships {
			if k[1] == id {
				delete(st.memberships, k)
			}
		}
		return nil
	})
}

func (r *fakeUserRepo) RemoveFromTenant(ctx context.Context, tenantID, userID int64) error {
	return r.do(func(st *fakeState) error {
		delete(st.memberships, [2]int64{tenantID, userID})
		return nil
	})
}

// ========== 内存缓存 ==========

type fakeCache struct {
	mu      sync.Mutex
	strings map[string]string
	hashes  map[string]map[string]string
	err     error
}

func newFakeCache() *fakeCache {
	return &fakeCache{strings: map[string]string{}, hashes: map[string]map[string]string{}}
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", false, c.err
	}
	v, ok := c.strings[key]
	return v, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.strings[key] = value
	return nil
}

func (c *fakeCache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	out := map[string]string{}
	for k, v := range c.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (c *fakeCache) HSetAll(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	h := make(map[string]string, len(fields))
	for k, v := range fields {
		h[k] = v
	}
	c.hashes[key] = h
	return nil
}

func (c *fakeCache) SetFieldIfExists(ctx context.Context, key, field, value string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	h, ok := c.hashes[key]
	if !ok {
		return false, nil
	}
	h[field] = value
	return true, nil
}

func (c *fakeCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	for _, k := range keys {
		delete(c.strings, k)
		delete(c.hashes, k)
	}
	return nil
}

func (c *fakeCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	_, s := c.strings[key]
	_, h := c.hashes[key]
	return s || h, nil
}

func (c *fakeCache) has(key string) bool {
	ok, _ := c.Exists(context.Background(), key)
	return ok
}

func (c *fakeCache) hashField(key, field string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hashes[key][field]
}

// ========== 测试装配 ==========

type seqIDs struct {
	next int64
}

func (g *seqIDs) NextID() int64 {
	return atomic.AddInt64(&g.next, 1)
}

var testCodeConfig = config.CodeConfig{
	TenantFormat: "#6",
	GlobalFormat: "IU#8",
	GroupFormat:  "#4",
	MaxAttempts:  64,
}

var testHasher = BcryptHasher{Cost: bcrypt.MinCost}

func newTestLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}

func newTestAllocator(t *testing.T, cfg config.CodeConfig) *CodeAllocator {
	t.Helper()
	codes, err := NewCodeAllocator(cfg)
	if err != nil {
		t.Fatalf("NewCodeAllocator: %v", err)
	}
	return codes
}

type testEnv struct {
	repo   *fakeUserRepo
	cache  *fakeCache
	sync   *CacheSynchronizer
	codes  *CodeAllocator
	engine *UpsertEngine
	log    *logrus.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithCodes(t, testCodeConfig)
}

func newTestEnvWithCodes(t *testing.T, codeCfg config.CodeConfig) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:  newFakeRepo(),
		cache: newFakeCache(),
		codes: newTestAllocator(t, codeCfg),
		log:   newTestLogger(),
	}
	env.sync = NewCacheSynchronizer(env.cache)
	env.engine = NewUpsertEngine(env.repo, env.codes, env.sync, &seqIDs{next: 1000}, testHasher,
		config.UpsertConfig{Timeout: 5 * time.Second, DefaultPassword: "123456"}, env.log)
	return env
}
