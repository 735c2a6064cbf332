package services

import (
	"context"
	"testing"

	"iam/internal/models"
)

func TestIndexKey(t *testing.T) {
	tenant := int64(12)
	if got := IndexKey(nil, "555"); got != "ID:555" {
		t.Fatalf("global index key = %s", got)
	}
	if got := IndexKey(&tenant, "555"); got != "ID:12:555" {
		t.Fatalf("tenant index key = %s", got)
	}
}

func TestSyncOnlyDeletesOldIndexValues(t *testing.T) {
	c := newFakeCache()
	c.strings["ID:old@x.com"] = "5"
	c.strings["ID:new@x.com"] = "6"
	s := NewCacheSynchronizer(c)

	old := &models.User{ID: 5, Email: "old@x.com", Account: "acc"}
	merged := &models.User{ID: 5, Email: "new@x.com", Account: "acc"}
	if err := s.Sync(context.Background(), old, merged); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if c.has("ID:old@x.com") {
		t.Fatalf("old index should be deleted")
	}
	if !c.has("ID:new@x.com") {
		t.Fatalf("index under the new value belongs to someone else and must be kept")
	}
}

func TestSyncSkipsEmptyOldValue(t *testing.T) {
	c := newFakeCache()
	c.strings["ID:"] = "1"
	s := NewCacheSynchronizer(c)

	if err := s.Sync(context.Background(), &models.User{ID: 5}, &models.User{ID: 5, Mobile: "555"}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !c.has("ID:") {
		t.Fatalf("blank old values have no index entry to delete")
	}
}

func TestPatchField(t *testing.T) {
	c := newFakeCache()
	s := NewCacheSynchronizer(c)
	ctx := context.Background()

	if err := s.PatchField(ctx, 5, CacheFieldInvalid, "true"); err != nil {
		t.Fatalf("PatchField: %v", err)
	}
	if c.has(ProfileKey(5)) {
		t.Fatalf("patch must not create a cold profile")
	}

	c.hashes[ProfileKey(5)] = map[string]string{CacheFieldInvalid: "false"}
	if err := s.PatchField(ctx, 5, CacheFieldInvalid, "true"); err != nil {
		t.Fatalf("PatchField: %v", err)
	}
	if got := c.hashField(ProfileKey(5), CacheFieldInvalid); got != "true" {
		t.Fatalf("invalid = %q, want true", got)
	}
}

func TestEvict(t *testing.T) {
	c := newFakeCache()
	tenant := int64(3)
	u := &models.User{ID: 5, TenantID: &tenant, Account: "acc", Mobile: "555", UnionID: "wx"}
	c.strings["ID:3:acc"] = "5"
	c.strings["ID:3:555"] = "5"
	c.strings["ID:3:wx"] = "5"
	c.strings[TokenKey(5)] = "token"
	c.hashes[ProfileKey(5)] = map[string]string{CacheFieldName: "Ann"}

	if err := NewCacheSynchronizer(c).Evict(context.Background(), u); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	for _, key := range []string{"ID:3:acc", "ID:3:555", "ID:3:wx", TokenKey(5), ProfileKey(5)} {
		if c.has(key) {
			t.Fatalf("%s should be evicted", key)
		}
	}
}
