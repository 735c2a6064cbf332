package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"iam/pkg/config"
	apperrors "iam/pkg/errors"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// CodeFormat 编码格式：固定前缀 + 定长随机字符，配置写作 "IU#8"
type CodeFormat struct {
	Prefix string
	Length int
}

// ParseCodeFormat 解析 "<前缀>#<长度>" 格式
func ParseCodeFormat(s string) (CodeFormat, error) {
	i := strings.LastIndex(s, "#")
	if i < 0 {
		return CodeFormat{}, fmt.Errorf("编码格式 %q 缺少 #<长度>", s)
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil || n <= 0 {
		return CodeFormat{}, fmt.Errorf("编码格式 %q 长度无效", s)
	}
	return CodeFormat{Prefix: s[:i], Length: n}, nil
}

func (f CodeFormat) String() string {
	return fmt.Sprintf("%s#%d", f.Prefix, f.Length)
}

// CodeExists 判断编码在当前作用域内是否已被使用
type CodeExists func(ctx context.Context, code string) (bool, error)

// CodeAllocator 生成作用域内唯一的编码。
// 不在进程内缓存已用编码，每次尝试都查询存储，多实例部署时结果一致
type CodeAllocator struct {
	tenant      CodeFormat
	global      CodeFormat
	group       CodeFormat
	maxAttempts int
	random      func(n int) (string, error)
}

// NewCodeAllocator 创建编码生成器
func NewCodeAllocator(cfg config.CodeConfig) (*CodeAllocator, error) {
	tenant, err := ParseCodeFormat(cfg.TenantFormat)
	if err != nil {
		return nil, err
	}
	global, err := ParseCodeFormat(cfg.GlobalFormat)
	if err != nil {
		return nil, err
	}
	group, err := ParseCodeFormat(cfg.GroupFormat)
	if err != nil {
		return nil, err
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 64
	}

	return &CodeAllocator{
		tenant:      tenant,
		global:      global,
		group:       group,
		maxAttempts: maxAttempts,
		random:      randomCode,
	}, nil
}

// MaxAttempts 单次分配的最大尝试次数
func (a *CodeAllocator) MaxAttempts() int {
	return a.maxAttempts
}

// UserFormat 租户用户使用短编码，平台用户使用带前缀的长编码
func (a *CodeAllocator) UserFormat(tenantID *int64) CodeFormat {
	if tenantID != nil {
		return a.tenant
	}
	return a.global
}

// GroupFormat 用户组编码格式
func (a *CodeAllocator) GroupFormat() CodeFormat {
	return a.group
}

// Allocate 生成候选编码并检查是否已存在，冲突则重新生成，
// 超过最大尝试次数返回 ErrAllocationExhausted
func (a *CodeAllocator) Allocate(ctx context.Context, format CodeFormat, exists CodeExists) (string, error) {
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		suffix, err := a.random(format.Length)
		if err != nil {
			return "", fmt.Errorf("生成随机编码失败: %w", err)
		}
		code := format.Prefix + suffix

		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", apperrors.ErrAllocationExhausted
}

func randomCode(n int) (string, error) {
	base := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[idx.Int64()]
	}
	return string(b), nil
}
