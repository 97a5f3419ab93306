package migration

import (
	"strings"

	"github.com/brightmont/academy/internal/config"
	"github.com/brightmont/academy/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// Embedded migrations target postgres; other dialects (sqlite in
		// tests) manage schema themselves.
		if !strings.EqualFold(cfg.DBType, "postgres") {
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}

		if cfg.Environment == "development" {
			return seed.EnsureDemoCatalog(conn)
		}
		return nil
	}),
)
