package services

import (
	"context"

	apperrors "iam/pkg/errors"
)

// KeyLookup 唯一性检查所需的存储能力
type KeyLookup interface {
	ExistsByKeyExcluding(ctx context.Context, scope *int64, value string, excludeID int64) (bool, error)
}

// UniquenessChecker 检查账号、手机号、邮箱是否已被作用域内其他有效用户占用
type UniquenessChecker struct{}

// Check 按账号、手机号、邮箱的顺序检查，返回第一个冲突字段。
// 空值不参与检查；excludeID 为 models.NoExclusion 时不排除任何用户
func (UniquenessChecker) Check(ctx context.Context, repo KeyLookup, scope *int64, excludeID int64, account, mobile, email string) error {
	keys := []struct {
		field string
		value string
	}{
		{apperrors.FieldAccount, account},
		{apperrors.FieldMobile, mobile},
		{apperrors.FieldEmail, email},
	}

	for _, k := range keys {
		if k.value == "" {
			continue
		}
		taken, err := repo.ExistsByKeyExcluding(ctx, scope, k.value, excludeID)
		if err != nil {
			return err
		}
		if taken {
			return apperrors.NewDuplicateIdentity(k.field, k.value)
		}
	}
	return nil
}
