package migration

import (
	"github.com/agentforge/tokengate/internal/config"
	"github.com/agentforge/tokengate/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// The embedded migrator targets postgres. Other dialects (sqlite in
		// tests, mysql deployments with external schema management) migrate
		// out of band.
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		}

		return seed.EnsureDemoBalance(conn, cfg.DemoUserID, cfg.DemoUserGrant)
	}),
)
