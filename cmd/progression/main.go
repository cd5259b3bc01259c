package main

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"laxhq-progression/internal/httpapi"
	asynqfx "laxhq-progression/pkg/asynq"
	"laxhq-progression/pkg/config"
	"laxhq-progression/pkg/db"
	"laxhq-progression/pkg/gen"
	"laxhq-progression/pkg/health"
	"laxhq-progression/pkg/logger"
	"laxhq-progression/pkg/otelcol"
	"laxhq-progression/pkg/otelcol/exporters"
	"laxhq-progression/pkg/redis"
	"laxhq-progression/pkg/sequence"
	"laxhq-progression/pkg/server"
	"laxhq-progression/services/activity"
	"laxhq-progression/services/badge"
	"laxhq-progression/services/ledger"
	"laxhq-progression/services/notification"
	"laxhq-progression/services/progression"
	"laxhq-progression/services/rank"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		asynqfx.Client,
		health.Module,
		fx.Provide(
			exporters.ProvideGrpc,
			func(e *otlptrace.Exporter) sdktrace.SpanExporter { return e },
			otelcol.ProvideTrace,
		),
		ledger.Module,
		activity.Module,
		badge.Module,
		rank.Module,
		notification.Module,
		progression.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
		fx.Invoke(
			registerTracerProvider,
			db.Otel,
			db.Metric,
			migrate,
			seed,
		),
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

func registerTracerProvider(lc fx.Lifecycle, tp *sdktrace.TracerProvider) {
	otel.SetTracerProvider(tp)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
}

func migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&ledger.Currency{}, &ledger.WalletEntry{}, &ledger.LedgerEvent{},
		&activity.ActivityCounter{}, &activity.StreakStatus{},
		&badge.Badge{}, &badge.BadgeAward{},
		&rank.Rank{}, &rank.RankStatus{},
	)
}

func seed(ledgerSvc *ledger.Service, badgeSvc *badge.Service, rankSvc *rank.Service) error {
	ctx := context.Background()

	if err := ledgerSvc.SeedCurrencies(ctx); err != nil {
		return err
	}
	if err := badgeSvc.SeedBadges(ctx); err != nil {
		return err
	}
	return rankSvc.SeedRanks(ctx)
}
