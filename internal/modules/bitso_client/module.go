package bitso_client

import (
	"context"
	"trade_engine/internal/modules/bitso_client/service"
	"trade_engine/internal/modules/config"
	"trade_engine/pkg/logger"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("bitso_client",
		fx.Provide(
			NewClient,
		),
	)
}

func NewClient(lc fx.Lifecycle, cfg *config.Config) (*service.Client, error) {
	client, err := service.NewClient(cfg.Exchange)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			client.Close()
			logger.Info("[BITSO] client closed")
			return nil
		},
	})
	return client, nil
}
