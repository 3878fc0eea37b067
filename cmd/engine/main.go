package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"elevate-engine/internal/httpapi"
	"elevate-engine/pkg/config"
	"elevate-engine/pkg/db"
	"elevate-engine/pkg/health"
	"elevate-engine/pkg/logger"
	"elevate-engine/pkg/redis"
	"elevate-engine/pkg/server"
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

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		health.Module,
		fx.Provide(provideSnowflakeNode),
		activity.Module,
		educator.Module,
		audit.Module,
		ledger.Module,
		amplify.Module,
		badge.Module,
		submission.Module,
		webhook.Module,
		webhook.Dispatch,
		httpapi.Module,
		server.ProvideHTTPServer,
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
