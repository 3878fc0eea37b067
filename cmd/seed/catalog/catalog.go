package main

import (
	"context"
	"errors"
	"log"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"elevate-engine/pkg/config"
	"elevate-engine/pkg/db"
	"elevate-engine/pkg/logger"
	"elevate-engine/services/activity"
	"elevate-engine/services/audit"
	"elevate-engine/services/badge"
	"elevate-engine/services/educator"
	"elevate-engine/services/ledger"
	"elevate-engine/services/submission"
	"elevate-engine/services/webhook"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Invoke(seed),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	if err := app.Stop(ctx); err != nil {
		log.Fatalf("failed to stop: %v", err)
	}
}

// seed upserts the activity and badge catalogs. Existing rows are left
// untouched; reference data changes ship as migrations, not runtime writes.
func seed(lc fx.Lifecycle, gdb *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := gdb.AutoMigrate(
				&activity.Activity{},
				&badge.Badge{},
				&badge.EarnedBadge{},
				&educator.Educator{},
				&submission.Submission{},
				&ledger.Entry{},
				&audit.Entry{},
				&webhook.Event{},
			); err != nil {
				return err
			}

			if err := activity.Seed(ctx, gdb); err != nil {
				return err
			}

			seeded := 0
			for _, b := range badge.SeedCatalog() {
				var existing badge.Badge
				err := gdb.WithContext(ctx).Where("code = ?", b.Code).First(&existing).Error
				if err == nil {
					continue
				}
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
				if err := gdb.WithContext(ctx).Create(b).Error; err != nil {
					return err
				}
				seeded++
			}

			zap.L().Info("catalog seeded", zap.Int("new_badges", seeded))
			return nil
		},
	})
}
