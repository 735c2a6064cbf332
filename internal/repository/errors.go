package repository

import (
	"errors"

	apperrors "iam/pkg/errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// ErrCodeConflict 插入时编码与已有记录冲突，由部分唯一索引兜底
var ErrCodeConflict = errors.New("编码已存在")

// ErrIDConflict 插入时主键已存在，通常是同一用户被并发投递
var ErrIDConflict = errors.New("用户ID已存在")

const pgUniqueViolation = "23505"

// 唯一索引名 → 冲突字段
var uniqueIndexFields = map[string]string{
	"uk_user_account": apperrors.FieldAccount,
	"uk_user_mobile":  apperrors.FieldMobile,
	"uk_user_email":   apperrors.FieldEmail,
	"uk_user_union":   apperrors.FieldUnionID,
	"uk_user_code":    apperrors.FieldCode,
	"idx_group_code":  apperrors.FieldCode,
}

// translateError 将数据库唯一约束冲突转换为业务错误，其它错误原样返回
func translateError(err error, u fieldValuer) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrRecordNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return err
	}

	if pgErr.ConstraintName == "ibu_user_pkey" {
		return ErrIDConflict
	}

	field, ok := uniqueIndexFields[pgErr.ConstraintName]
	if !ok {
		return err
	}
	if field == apperrors.FieldCode {
		return ErrCodeConflict
	}

	value := ""
	if u != nil {
		value = u.fieldValue(field)
	}
	return apperrors.NewDuplicateIdentity(field, value)
}

type fieldValuer interface {
	fieldValue(field string) string
}
