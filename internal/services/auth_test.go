package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"iam/internal/models"
	apperrors "iam/pkg/errors"
	"iam/pkg/jwt"
)

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	hash, _ := testHasher.Hash("secret")
	env.repo.seed(models.User{ID: 1, Code: "IU00000001", Name: "Ann", Account: "ann", Password: hash})
	manager := jwt.NewJWTManager("test-secret", time.Hour)
	lookup := newTestLookup(env)
	auth := NewAuthService(env.repo, lookup, env.cache, manager, testHasher, time.Hour)
	ctx := context.Background()

	token, err := auth.Login(ctx, nil, "ann", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	info, err := manager.VerifyToken(token)
	if err != nil || info.UserID != 1 || info.TenantID != nil {
		t.Fatalf("VerifyToken = %+v, %v", info, err)
	}
	if got := env.cache.strings[TokenKey(1)]; got != token {
		t.Fatalf("UserToken:1 = %q", got)
	}

	if _, err := auth.Login(ctx, nil, "ann", "wrong"); !errors.Is(err, apperrors.ErrInvalidPassword) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, err := auth.Login(ctx, nil, "nobody", "secret"); !errors.Is(err, apperrors.ErrInvalidPassword) {
		t.Fatalf("unknown account err = %v", err)
	}
}

func TestLogoutDropsToken(t *testing.T) {
	env := newTestEnv(t)
	env.cache.strings[TokenKey(9)] = "tok"
	auth := NewAuthService(env.repo, newTestLookup(env), env.cache, jwt.NewJWTManager("k", time.Hour), testHasher, time.Hour)

	if err := auth.Logout(context.Background(), 9); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if env.cache.has(TokenKey(9)) {
		t.Fatal("UserToken:9 still cached")
	}
}
