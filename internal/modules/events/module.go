package events

import (
	"context"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/modules/events/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("events",
		fx.Provide(
			func(lc fx.Lifecycle, cfg *config.Config) *service.Bus {
				bus := service.NewBus(cfg.Engine.EventBuffer)
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						bus.Close()
						return nil
					},
				})
				return bus
			},
		),
	)
}
