package market

import (
	bitso "trade_engine/internal/modules/bitso_client/service"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/modules/market/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("market",
		fx.Provide(
			func(client *bitso.Client, cfg *config.Config) *service.Assembler {
				return service.NewAssembler(client, cfg)
			},
		),
	)
}
