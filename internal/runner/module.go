package runner

import (
	"context"
	bitso "trade_engine/internal/modules/bitso_client/service"
	"trade_engine/internal/modules/config"
	events "trade_engine/internal/modules/events/service"
	execution "trade_engine/internal/modules/execution/service"
	market "trade_engine/internal/modules/market/service"
	risk "trade_engine/internal/modules/risk/service"
	storage "trade_engine/internal/modules/storage/service"
	strategy "trade_engine/internal/modules/strategy/service"
	"trade_engine/pkg/logger"

	"github.com/pkg/errors"
	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			newDeps,
			NewEngine, // *Engine
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, e *Engine) {
			startCtx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if !cfg.Engine.AutoStart || !e.HasCredentials() {
						return nil
					}
					// ошибка автостарта только логируется
					go func() {
						if err := e.Start(startCtx); err != nil && !errors.Is(err, ErrShutdown) {
							logger.Error("[ENGINE] auto start: %v", err)
						}
					}()
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					e.Shutdown()
					return nil
				},
			})
		}),
	)
}

func newDeps(
	client *bitso.Client,
	kv storage.Store,
	strategies *strategy.Store,
	assembler *market.Assembler,
	validator *risk.Validator,
	coordinator *execution.Coordinator,
	history *execution.History,
	bus *events.Bus,
) Deps {
	return Deps{
		Exchange:   client,
		Store:      kv,
		Strategies: strategies,
		Market:     assembler,
		Risk:       validator,
		Executor:   coordinator,
		History:    history,
		Bus:        bus,
	}
}
