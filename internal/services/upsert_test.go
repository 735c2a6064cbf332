package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"iam/internal/models"
	"iam/pkg/config"
	apperrors "iam/pkg/errors"

	"gorm.io/datatypes"
)

func TestConcurrentCreateDuplicateKeys(t *testing.T) {
	env := newTestEnv(t)
	tenant := int64(1)
	keys := []string{"alice", "bob", "carol"}
	const perKey = 6

	type result struct {
		key string
		err error
	}
	results := make(chan result, len(keys)*perKey)

	var wg sync.WaitGroup
	for _, key := range keys {
		for i := 0; i < perKey; i++ {
			wg.Add(1)
			go func(key string, i int) {
				defer wg.Done()
				// 同一个值交替出现在账号和手机号上，跨字段也不允许重复
				c := &models.UserCandidate{TenantID: &tenant, Name: models.StringPtr(key)}
				if i%2 == 0 {
					c.Account = models.StringPtr(key)
				} else {
					c.Mobile = models.StringPtr(key)
				}
				_, err := env.engine.Upsert(context.Background(), c)
				results <- result{key: key, err: err}
			}(key, i)
		}
	}
	wg.Wait()
	close(results)

	success := map[string]int{}
	for r := range results {
		if r.err == nil {
			success[r.key]++
			continue
		}
		var dup *apperrors.DuplicateIdentityError
		if !errors.As(r.err, &dup) {
			t.Fatalf("unexpected error for %s: %v", r.key, r.err)
		}
		if dup.Value != r.key {
			t.Fatalf("duplicate value = %q, want %q", dup.Value, r.key)
		}
	}
	for _, key := range keys {
		if success[key] != 1 {
			t.Fatalf("key %s: %d successful creates, want exactly 1", key, success[key])
		}
	}
	if got := len(env.repo.all()); got != len(keys) {
		t.Fatalf("persisted %d users, want %d", got, len(keys))
	}
}

func TestConcurrentCodeAllocationSmallKeyspace(t *testing.T) {
	for _, skip := range []bool{false, true} {
		t.Run(fmt.Sprintf("skipCodeCheck=%v", skip), func(t *testing.T) {
			env := newTestEnvWithCodes(t, config.CodeConfig{
				TenantFormat: "#1",
				GlobalFormat: "IU#8",
				GroupFormat:  "#4",
				MaxAttempts:  256,
			})
			env.repo.store.skipCodeCheck = skip
			tenant := int64(5)
			const n = 20

			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := env.engine.Upsert(context.Background(), &models.UserCandidate{
						TenantID: &tenant,
						Account:  models.StringPtr(fmt.Sprintf("user%d", i)),
					})
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatalf("Upsert: %v", err)
				}
			}

			seen := map[string]bool{}
			for _, u := range env.repo.all() {
				if len(u.Code) != 1 {
					t.Fatalf("code %q has wrong length", u.Code)
				}
				if seen[u.Code] {
					t.Fatalf("duplicate code %q persisted", u.Code)
				}
				seen[u.Code] = true
			}
			if len(seen) != n {
				t.Fatalf("persisted %d codes, want %d", len(seen), n)
			}
		})
	}
}

func TestMergeIdempotence(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seed(models.User{ID: 7, Code: "IU00000007", Name: "Ann", Mobile: "555", Account: "ann"})

	want := models.User{ID: 7, Code: "IU00000007", Name: "Ann", Mobile: "555", Account: "ann", Remark: "VIP"}
	for i := 0; i < 2; i++ {
		id, err := env.engine.Upsert(context.Background(), &models.UserCandidate{
			ID:     models.Int64Ptr(7),
			Remark: models.StringPtr("VIP"),
		})
		if err != nil {
			t.Fatalf("Upsert #%d: %v", i+1, err)
		}
		if id != 7 {
			t.Fatalf("Upsert #%d returned id %d, want 7", i+1, id)
		}
		got, _ := env.repo.user(7)
		if got.Name != want.Name || got.Mobile != want.Mobile || got.Remark != want.Remark || got.Account != want.Account {
			t.Fatalf("after #%d got %+v, want %+v", i+1, got, want)
		}
	}
	if n := env.repo.updateCount(); n != 1 {
		t.Fatalf("second identical update should not write, got %d writes", n)
	}
}

func TestOmittedFieldsCarryForward(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seed(models.User{ID: 7, Code: "IU00000007", Name: "Ann", Account: "ann", Mobile: "555", Email: "a@x.com"})

	if _, err := env.engine.Upsert(context.Background(), &models.UserCandidate{
		ID:   models.Int64Ptr(7),
		Name: models.StringPtr("Annie"),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, _ := env.repo.user(7)
	if got.Name != "Annie" || got.Mobile != "555" || got.Email != "a@x.com" {
		t.Fatalf("got name=%q mobile=%q email=%q", got.Name, got.Mobile, got.Email)
	}
}

func TestExplicitEmptyClearsField(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seed(models.User{ID: 7, Code: "IU00000007", Name: "Ann", Account: "ann", Email: "a@x.com", Remark: "old"})

	if _, err := env.engine.Upsert(context.Background(), &models.UserCandidate{
		ID:      models.Int64Ptr(7),
		Email:   models.StringPtr(""),
		Remark:  models.StringPtr(""),
		Account: models.StringPtr(""),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, _ := env.repo.user(7)
	if got.Email != "" || got.Remark != "" {
		t.Fatalf("email=%q remark=%q, want both cleared", got.Email, got.Remark)
	}
	if got.Account != "ann" {
		t.Fatalf("account = %q, empty account must keep the current value", got.Account)
	}
}

func TestFieldPolicies(t *testing.T) {
	policies := FieldPolicies()
	cases := map[string]MergePolicy{
		"name":         CarryForward,
		"mobile":       CarryForward,
		"email":        CarryForward,
		"remark":       CarryForward,
		"account":      KeepIfEmpty,
		"open_id":      MergeKeys,
		"id":           Immutable,
		"code":         Immutable,
		"tenant_id":    Immutable,
		"password":     Dedicated,
		"pay_password": Dedicated,
	}
	for field, want := range cases {
		if got, ok := policies[field]; !ok || got != want {
			t.Fatalf("policy[%s] = %v, want %v", field, got, want)
		}
	}
}

func TestUpdateIgnoresImmutableAndDedicatedFields(t *testing.T) {
	env := newTestEnv(t)
	tenant := int64(3)
	env.repo.seed(models.User{ID: 7, TenantID: &tenant, Code: "ABC123", Name: "Ann", Account: "ann", Password: "hash"})

	other := int64(4)
	if _, err := env.engine.Upsert(context.Background(), &models.UserCandidate{
		ID:       models.Int64Ptr(7),
		TenantID: &other,
		Code:     models.StringPtr("ZZZZZZ"),
		Password: models.StringPtr("secret"),
		Builtin:  models.BoolPtr(true),
		Name:     models.StringPtr("Annie"),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, _ := env.repo.user(7)
	if got.Code != "ABC123" || got.Password != "hash" || got.Builtin || *got.TenantID != 3 {
		t.Fatalf("immutable fields changed: %+v", got)
	}
	if got.Name != "Annie" {
		t.Fatalf("name = %q, want Annie", got.Name)
	}
}

func TestOpenIDMergesKeys(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seed(models.User{ID: 7, Code: "IU00000007", Account: "ann",
		OpenID: datatypes.JSONMap{"app1": "o-1", "app2": "o-2"}})

	if _, err := env.engine.Upsert(context.Background(), &models.UserCandidate{
		ID:     models.Int64Ptr(7),
		OpenID: map[string]string{"app2": "", "app3": "o-3"},
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, _ := env.repo.user(7)
	if len(got.OpenID) != 2 || got.OpenID["app1"] != "o-1" || got.OpenID["app3"] != "o-3" {
		t.Fatalf("open_id = %v", got.OpenID)
	}
}

func TestCacheInvalidationOnKeyChange(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seed(models.User{ID: 9, Code: "IU00000009", Account: "u9", Mobile: "111"})
	env.cache.strings["ID:111"] = "9"

	if _, err := env.engine.Upsert(context.Background(), &models.UserCandidate{
		ID:     models.Int64Ptr(9),
		Mobile: models.StringPtr("222"),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if env.cache.has("ID:111") {
		t.Fatalf("stale index ID:111 should be deleted")
	}
	if env.cache.has("ID:222") {
		t.Fatalf("update must not create ID:222")
	}
	if env.cache.has(ProfileKey(9)) {
		t.Fatalf("cold profile must stay cold")
	}
}

func TestLiveProfilePatched(t *testing.T) {
	env := newTestEnv(t)
	tenant := int64(2)
	env.repo.seed(models.User{ID: 9, TenantID: &tenant, Code: "X00009", Account: "u9", Name: "Ann", Mobile: "111"})
	env.cache.hashes[ProfileKey(9)] = map[string]string{CacheFieldName: "Ann", CacheFieldMobile: "111"}
	env.cache.strings["ID:2:111"] = "9"
	env.cache.strings["ID:2:u9"] = "9"

	if _, err := env.engine.Upsert(context.Background(), &models.UserCandidate{
		ID:     models.Int64Ptr(9),
		Name:   models.StringPtr("Annie"),
		Mobile: models.StringPtr("222"),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if got := env.cache.hashField(ProfileKey(9), CacheFieldName); got != "Annie" {
		t.Fatalf("cached name = %q, want Annie", got)
	}
	if got := env.cache.hashField(ProfileKey(9), CacheFieldMobile); got != "222" {
		t.Fatalf("cached mobile = %q, want 222", got)
	}
	if env.cache.has("ID:2:111") {
		t.Fatalf("stale tenant index should be deleted")
	}
	if !env.cache.has("ID:2:u9") {
		t.Fatalf("unchanged account index should be kept")
	}
}

func TestCacheFailureDoesNotFailUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seed(models.User{ID: 9, Code: "IU00000009", Account: "u9", Mobile: "111"})
	env.cache.err = errors.New("redis down")

	if _, err := env.engine.Upsert(context.Background(), &models.UserCandidate{
		ID:     models.Int64Ptr(9),
		Mobile: models.StringPtr("222"),
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if got, _ := env.repo.user(9); got.Mobile != "222" {
		t.Fatalf("mobile = %q, want 222", got.Mobile)
	}
}

func TestCreateDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := int64(8)

	tenantID, err := env.engine.Upsert(ctx, &models.UserCandidate{
		TenantID: &tenant,
		Name:     models.StringPtr("Ann"),
		Mobile:   models.StringPtr("555"),
		OrgID:    models.Int64Ptr(40),
		RoleIDs:  []int64{50, 51},
	})
	if err != nil {
		t.Fatalf("Upsert tenant user: %v", err)
	}
	tu, _ := env.repo.user(tenantID)
	if tu.Type != models.UserTypeOrdinary || tu.Builtin {
		t.Fatalf("type=%d builtin=%v", tu.Type, tu.Builtin)
	}
	if len(tu.Code) != 6 {
		t.Fatalf("tenant code %q, want 6 chars", tu.Code)
	}
	if len(tu.Account) != 32 {
		t.Fatalf("default account %q, want 32-char token", tu.Account)
	}
	if !testHasher.Compare(tu.Password, "123456") {
		t.Fatalf("tenant-provisioned user should get the default password")
	}
	if tu.Creator != "Ann" || tu.CreatorID != tenantID {
		t.Fatalf("creator = %q/%d, want self attribution", tu.Creator, tu.CreatorID)
	}
	if !env.repo.hasMembership(tenant, tenantID) {
		t.Fatalf("membership row missing")
	}
	env.repo.store.mu.Lock()
	orgs, roles := len(env.repo.store.state.orgMembers), len(env.repo.store.state.roleMembers)
	env.repo.store.mu.Unlock()
	if orgs != 1 || roles != 2 {
		t.Fatalf("org members=%d role members=%d", orgs, roles)
	}

	globalID, err := env.engine.Upsert(ctx, &models.UserCandidate{Account: models.StringPtr("bob")})
	if err != nil {
		t.Fatalf("Upsert global user: %v", err)
	}
	gu, _ := env.repo.user(globalID)
	if !strings.HasPrefix(gu.Code, "IU") || len(gu.Code) != 10 {
		t.Fatalf("global code %q, want IU + 8 chars", gu.Code)
	}
	if testHasher.Compare(gu.Password, "123456") {
		t.Fatalf("global user must not get the known default password")
	}
	if gu.Account != "bob" {
		t.Fatalf("account = %q, want bob", gu.Account)
	}
}

func TestCreateWithSuppliedIDThenRedeliver(t *testing.T) {
	env := newTestEnv(t)
	tenant := int64(1)
	c := func() *models.UserCandidate {
		return &models.UserCandidate{ID: models.Int64Ptr(77), TenantID: &tenant, Account: models.StringPtr("ann")}
	}

	for i := 0; i < 2; i++ {
		id, err := env.engine.Upsert(context.Background(), c())
		if err != nil || id != 77 {
			t.Fatalf("Upsert #%d = %d, %v", i+1, id, err)
		}
	}
	if n := len(env.repo.all()); n != 1 {
		t.Fatalf("persisted %d users, want 1", n)
	}
	if n := env.repo.updateCount(); n != 0 {
		t.Fatalf("redelivery should be a no-op merge, got %d writes", n)
	}
}

func TestUpdateDuplicateExcludesSelf(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seed(
		models.User{ID: 1, Code: "IU00000001", Account: "ann", Mobile: "555"},
		models.User{ID: 2, Code: "IU00000002", Account: "bob", Mobile: "666"},
	)

	// 自己的值不算冲突
	if _, err := env.engine.Upsert(context.Background(), &models.UserCandidate{
		ID: models.Int64Ptr(1), Account: models.StringPtr("ann"), Mobile: models.StringPtr("555"),
	}); err != nil {
		t.Fatalf("Upsert with own values: %v", err)
	}

	_, err := env.engine.Upsert(context.Background(), &models.UserCandidate{
		ID: models.Int64Ptr(1), Mobile: models.StringPtr("666"),
	})
	var dup *apperrors.DuplicateIdentityError
	if !errors.As(err, &dup) || dup.Field != apperrors.FieldMobile || dup.Value != "666" {
		t.Fatalf("err = %v, want duplicate mobile 666", err)
	}
	if got, _ := env.repo.user(1); got.Mobile != "555" {
		t.Fatalf("failed update must not persist, mobile = %q", got.Mobile)
	}
}

func TestInvalidUsersDoNotBlockUniqueness(t *testing.T) {
	env := newTestEnv(t)
	env.repo.seed(models.User{ID: 1, Code: "IU00000001", Account: "ann", Invalid: true})

	if _, err := env.engine.Upsert(context.Background(), &models.UserCandidate{Account: models.StringPtr("ann")}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestScopesAreIndependent(t *testing.T) {
	env := newTestEnv(t)
	t1, t2 := int64(1), int64(2)
	ctx := context.Background()

	for _, scope := range []*int64{nil, &t1, &t2} {
		if _, err := env.engine.Upsert(ctx, &models.UserCandidate{TenantID: scope, Account: models.StringPtr("ann")}); err != nil {
			t.Fatalf("Upsert in scope %v: %v", scope, err)
		}
	}
}

func TestAllocationExhausted(t *testing.T) {
	env := newTestEnv(t)
	tenant := int64(1)
	env.repo.seed(models.User{ID: 1, TenantID: &tenant, Code: "AAAAAA", Account: "ann"})
	env.codes.random = func(n int) (string, error) { return strings.Repeat("A", n), nil }

	_, err := env.engine.Upsert(context.Background(), &models.UserCandidate{TenantID: &tenant, Account: models.StringPtr("bob")})
	if !errors.Is(err, apperrors.ErrAllocationExhausted) {
		t.Fatalf("err = %v, want ErrAllocationExhausted", err)
	}
	if n := len(env.repo.all()); n != 1 {
		t.Fatalf("failed create must not persist, have %d users", n)
	}
}

func TestCanceledContextPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.engine.Upsert(ctx, &models.UserCandidate{Account: models.StringPtr("ann")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := len(env.repo.all()); n != 0 {
		t.Fatalf("persisted %d users, want 0", n)
	}
}
