package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims 会话令牌中携带的登录信息
type SessionClaims struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
	TenantID *int64 `json:"tenant_id,omitempty"` // 为空表示平台身份
	jwt.RegisteredClaims
}

// LoginInfo 从会话令牌解析出的调用者信息
type LoginInfo struct {
	UserID   int64
	UserName string
	TenantID *int64
}

// JWTManager JWT管理器
type JWTManager struct {
	secretKey     string
	tokenDuration time.Duration
}

// NewJWTManager 创建JWT管理器
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:     secretKey,
		tokenDuration: tokenDuration,
	}
}

// GenerateToken 生成会话令牌
func (manager *JWTManager) GenerateToken(info LoginInfo) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		UserID:   info.UserID,
		UserName: info.UserName,
		TenantID: info.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(manager.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "IAM",
			Subject:   info.UserName,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(manager.secretKey))
}

// VerifyToken 验证会话令牌并返回登录信息
func (manager *JWTManager) VerifyToken(tokenString string) (*LoginInfo, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&SessionClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("意外的签名方法")
			}
			return []byte(manager.secretKey), nil
		},
	)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, errors.New("无法解析token声明")
	}

	return &LoginInfo{
		UserID:   claims.UserID,
		UserName: claims.UserName,
		TenantID: claims.TenantID,
	}, nil
}
