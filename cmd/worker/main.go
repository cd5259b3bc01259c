package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	asynqfx "laxhq-progression/pkg/asynq"
	"laxhq-progression/pkg/config"
	"laxhq-progression/pkg/db"
	"laxhq-progression/pkg/gen"
	"laxhq-progression/pkg/logger"
	"laxhq-progression/pkg/redis"
	"laxhq-progression/pkg/sequence"
	"laxhq-progression/services/activity"
	"laxhq-progression/services/badge"
	"laxhq-progression/services/ledger"
	"laxhq-progression/services/notification"
	"laxhq-progression/services/progression"
	"laxhq-progression/services/rank"
)

// The worker consumes the dispatch and sweep queues and runs the nightly
// sweep scheduler. It shares the service layer with the API server.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		asynqfx.Client,
		asynqfx.Server,
		ledger.Module,
		activity.Module,
		badge.Module,
		rank.Module,
		notification.Module,
		progression.Module,
		notification.TaskModule,
		progression.TaskModule,
		progression.SchedulerModule,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
