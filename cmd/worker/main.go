package main

import (
	"context"
	"log"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"elevate-engine/pkg/config"
	"elevate-engine/pkg/db"
	"elevate-engine/pkg/logger"
	"elevate-engine/pkg/redis"
	"elevate-engine/pkg/task"
	"elevate-engine/services/activity"
	"elevate-engine/services/amplify"
	"elevate-engine/services/audit"
	"elevate-engine/services/badge"
	"elevate-engine/services/educator"
	"elevate-engine/services/ledger"
	"elevate-engine/services/submission"
	"elevate-engine/services/webhook"
)

const (
	reprocessInterval    = 10 * time.Minute
	reprocessGrace       = 15 * time.Minute
	reprocessConcurrency = 4
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Server,
		fx.Provide(provideSnowflakeNode),
		activity.Module,
		educator.Module,
		audit.Module,
		ledger.Module,
		amplify.Module,
		badge.Module,
		submission.Module,
		webhook.Module,
		webhook.Worker,
		fx.Invoke(runPendingScan),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

// runPendingScan periodically reconciles events that were stored but
// never processed, covering enqueue failures and crashed workers.
func runPendingScan(lc fx.Lifecycle, svc *webhook.Service) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ticker := time.NewTicker(reprocessInterval)
				defer ticker.Stop()

				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						result, err := svc.ReprocessPending(ctx, reprocessGrace, reprocessConcurrency)
						if err != nil {
							zap.L().Error("pending scan failed", zap.Error(err))
							continue
						}
						if result.Scanned > 0 {
							zap.L().Info("pending scan finished",
								zap.Int("scanned", result.Scanned),
								zap.Int("processed", result.Processed),
								zap.Int("skipped", result.Skipped),
								zap.Int("failed", result.Failed))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
