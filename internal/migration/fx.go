package migration

import (
	"github.com/smallbiznis/classifieds/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		version, err := Run(conn, cfg.DBType)
		if err != nil {
			return err
		}
		log.Info("database schema up to date", zap.String("type", cfg.DBType), zap.Uint("version", version))
		return nil
	}),
)
