package main

import (
	"context"
	"log"
	"trade_engine/internal/modules/bitso_client"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/modules/events"
	"trade_engine/internal/modules/execution"
	"trade_engine/internal/modules/health"
	"trade_engine/internal/modules/kafka_sink"
	"trade_engine/internal/modules/market"
	"trade_engine/internal/modules/risk"
	"trade_engine/internal/modules/storage"
	"trade_engine/internal/modules/strategy"
	"trade_engine/internal/notify"
	"trade_engine/internal/runner"
	"trade_engine/pkg/logger"
	"trade_engine/pkg/tracing"

	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		fx.NopLogger,
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		fx.Invoke(initObservability),
		storage.Module(),
		bitso_client.Module(),
		strategy.Module(),
		market.Module(),
		risk.Module(),
		events.Module(),
		execution.Module(),
		runner.Module(),
		health.Module(),
		notify.Module(),
		kafka_sink.Module(),
	)
	if err := app.Start(context.Background()); err != nil {
		log.Fatal(err)
	}

	sig := <-app.Done()
	logger.Info("shutting down on %s", sig)

	ctx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		logger.Error("stop: %v", err)
	}
}

func initObservability(lc fx.Lifecycle, cfg *config.Config) error {
	logger.SetServiceName(cfg.Service.Name)
	tracing.SetServiceName(cfg.Service.Name)
	if err := logger.Init(cfg.Log.Level); err != nil {
		return err
	}

	closeTracer := func() {}
	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer(cfg.Tracing)
		if err != nil {
			logger.Warn("[TRACING] disabled: %v", err)
		} else {
			closeTracer = closer
		}
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closeTracer()
			logger.Sync()
			return nil
		},
	})
	return nil
}
