package execution

import (
	bitso "trade_engine/internal/modules/bitso_client/service"
	events "trade_engine/internal/modules/events/service"
	"trade_engine/internal/modules/execution/service"
	risk "trade_engine/internal/modules/risk/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("execution",
		fx.Provide(
			service.NewHistory,
			func(client *bitso.Client, h *service.History, v *risk.Validator, bus *events.Bus) *service.Coordinator {
				return service.NewCoordinator(client, h, v, bus)
			},
		),
	)
}
