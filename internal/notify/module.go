package notify

import (
	"context"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/runner"
	"trade_engine/pkg/logger"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			func(cfg *config.Config, e *runner.Engine) Notifier {
				if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == 0 {
					return NewStdout()
				}
				tg, err := NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, e)
				if err != nil {
					logger.Warn("[NOTIFY] telegram disabled: %v", err)
					return NewStdout()
				}
				return tg
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, ctx context.Context, n Notifier, e *runner.Engine) {
			var sink *Sink
			pollCtx, cancel := context.WithCancel(ctx)
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					sink = NewSink(n, e)
					if tg, ok := n.(*Telegram); ok {
						return tg.Start(pollCtx)
					}
					return nil
				},
				OnStop: func(context.Context) error {
					cancel()
					if tg, ok := n.(*Telegram); ok {
						tg.Stop()
					}
					if sink != nil {
						sink.Close()
					}
					return nil
				},
			})
		}),
	)
}
