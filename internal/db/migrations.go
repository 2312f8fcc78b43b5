// internal/db/migrations.go
package db

import (
	"fmt"

	"gorm.io/gorm"
)

// MigrateVoucherCodeIndex — уникальность кода ваучера в пределах роутера
// с учётом soft-delete: удалённый ваучер не должен блокировать переиспользование кода.
func MigrateVoucherCodeIndex(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	dialect := db.Dialector.Name()

	switch dialect {
	case "mysql":
		_ = db.Exec("DROP INDEX `ux_vouchers_code_router` ON `vouchers`").Error
		return db.Exec("CREATE UNIQUE INDEX `ux_vouchers_code_router_del` ON `vouchers` (`code`, `router_id`, `deleted_at`)").Error

	case "postgres":
		_ = db.Exec(`DROP INDEX IF EXISTS ux_vouchers_code_router`).Error
		// partial unique index (куда лучше для soft-delete)
		return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_vouchers_code_router_null ON "vouchers" ("code", "router_id") WHERE "deleted_at" IS NULL`).Error

	case "sqlite":
		_ = db.Exec(`DROP INDEX IF EXISTS ux_vouchers_code_router`).Error
		return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_vouchers_code_router_del ON vouchers (code, router_id, deleted_at)`).Error

	default:
		return fmt.Errorf("unsupported dialect: %s", dialect)
	}
}
