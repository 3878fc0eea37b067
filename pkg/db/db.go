package db

import (
	"context"
	"fmt"
	"os"
	"time"

	"elevate-engine/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var Module = fx.Module("database",
	fx.Provide(
		Dialect,
		New,
	),
	fx.Invoke(RegisterConnectionPool),
)

// Dialect builds the gorm dialector from configuration. Postgres is the
// production store; sqlite exists for local development.
func Dialect(cfg *config.Config) gorm.Dialector {
	switch cfg.Database.Type {
	case "sqlite":
		return sqlite.Open(cfg.Database.DBNAME)
	default:
		dsn := fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
			cfg.Database.Password, cfg.Database.DBNAME, cfg.Database.SSLMode,
			cfg.Database.Timezone,
		)
		return postgres.Open(dsn)
	}
}

func New(cfg *config.Config, dialector gorm.Dialector) *gorm.DB {
	var db *gorm.DB
	var err error

	var logLevel logger.LogLevel
	var showSQL bool

	if cfg.AppEnv == "production" {
		logLevel = logger.Warn
		showSQL = false
	} else {
		logLevel = logger.Info
		showSQL = true
	}

	gormLogger := NewZapGormLogger(zap.L(), logLevel, showSQL)

	for i := 0; i < 5; i++ {
		db, err = gorm.Open(dialector, &gorm.Config{
			Logger: gormLogger,
			// unique violations must surface as gorm.ErrDuplicatedKey:
			// the ledger and earned-badge idempotency paths branch on it
			TranslateError: true,
		})
		if err == nil {
			break
		}
		zap.L().Warn("[DB] Database not ready, retrying in 3 seconds...", zap.Int("retry", i+1), zap.Error(err))
		time.Sleep(3 * time.Second)
	}

	if err != nil {
		zap.L().Error("[DB] Failed to connect to database", zap.Error(err))
		os.Exit(1)
	}

	zap.L().Info("[DB] Database connection successfully configured.")

	return db
}

type connectionPoolParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	DB        *gorm.DB
	Config    *config.Config
}

func RegisterConnectionPool(p connectionPoolParams) {
	sqlDB, err := p.DB.DB()
	if err != nil {
		zap.L().Error("[DB] Failed to get sql.DB from gorm", zap.Error(err))
		os.Exit(1)
	}

	cp := p.Config.Database.ConnectionPool
	sqlDB.SetMaxIdleConns(cp.MaxIdleConn)
	sqlDB.SetMaxOpenConns(cp.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cp.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cp.ConnMaxIdleTime)

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			zap.L().Info("[DB] Closing connection pool...")
			return sqlDB.Close()
		},
	})
}
