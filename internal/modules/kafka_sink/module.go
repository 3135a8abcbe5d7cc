package kafka_sink

import (
	"context"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/modules/kafka_sink/service"
	"trade_engine/internal/runner"
	"trade_engine/pkg/logger"

	"go.uber.org/fx"
)

// Module включается только при заданных брокерах.
func Module() fx.Option {
	return fx.Module("kafka_sink",
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, e *runner.Engine) {
			if len(cfg.Kafka.Brokers) == 0 {
				logger.Info("[KAFKA] no brokers configured, trade stream disabled")
				return
			}
			var p *service.Publisher
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					p = service.NewPublisher(service.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), e)
					logger.Info("[KAFKA] publishing trades to %s", cfg.Kafka.Topic)
					return nil
				},
				OnStop: func(context.Context) error {
					if p == nil {
						return nil
					}
					return p.Close()
				},
			})
		}),
	)
}
