package database

import (
	"fmt"

	"iam/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 用户唯一性由部分唯一索引兜底：仅约束有效用户的非空值，作用域为 COALESCE(tenant_id, 0)
var userUniqueIndexes = []struct {
	name   string
	column string
}{
	{"uk_user_account", "account"},
	{"uk_user_mobile", "mobile"},
	{"uk_user_email", "email"},
	{"uk_user_union", "union_id"},
}

// Migrate 执行数据库迁移
func Migrate(db *gorm.DB, log *logrus.Logger) error {
	log.Info("Starting database migration...")

	err := db.AutoMigrate(
		&models.User{},
		&models.TenantUser{},
		&models.Organize{},
		&models.OrganizeMember{},
		&models.Role{},
		&models.RoleMember{},
		&models.Group{},
		&models.GroupMember{},
	)
	if err != nil {
		log.Errorf("Database migration failed: %v", err)
		return err
	}

	for _, idx := range userUniqueIndexes {
		sql := fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS %s ON ibu_user ((COALESCE(tenant_id, 0)), %s) WHERE NOT invalid AND %s <> ''",
			idx.name, idx.column, idx.column)
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("创建唯一索引 %s 失败: %w", idx.name, err)
		}
	}

	// 编码分配后不再回收，禁用用户也参与编码唯一性
	if err := db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS uk_user_code ON ibu_user ((COALESCE(tenant_id, 0)), code)").Error; err != nil {
		return fmt.Errorf("创建唯一索引 uk_user_code 失败: %w", err)
	}

	log.Info("Database migration completed successfully")
	return nil
}
