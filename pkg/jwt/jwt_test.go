package jwt

import (
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	manager := NewJWTManager("secret", time.Hour)
	tenant := int64(12)

	token, err := manager.GenerateToken(LoginInfo{UserID: 7, UserName: "Ann", TenantID: &tenant})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	info, err := manager.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if info.UserID != 7 || info.UserName != "Ann" || info.TenantID == nil || *info.TenantID != 12 {
		t.Fatalf("info = %+v", info)
	}
}

func TestGlobalLoginHasNoTenant(t *testing.T) {
	manager := NewJWTManager("secret", time.Hour)
	token, _ := manager.GenerateToken(LoginInfo{UserID: 1, UserName: "root"})
	info, err := manager.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if info.TenantID != nil {
		t.Fatalf("TenantID = %d, want nil", *info.TenantID)
	}
}

func TestVerifyRejectsForeignAndExpiredTokens(t *testing.T) {
	token, _ := NewJWTManager("other", time.Hour).GenerateToken(LoginInfo{UserID: 1})
	if _, err := NewJWTManager("secret", time.Hour).VerifyToken(token); err == nil {
		t.Fatal("token signed with another key was accepted")
	}

	expired, _ := NewJWTManager("secret", -time.Minute).GenerateToken(LoginInfo{UserID: 1})
	if _, err := NewJWTManager("secret", time.Hour).VerifyToken(expired); err == nil {
		t.Fatal("expired token was accepted")
	}
}
