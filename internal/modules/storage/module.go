package storage

import (
	"context"
	"fmt"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/modules/storage/service"
	"trade_engine/pkg/db"
	"trade_engine/pkg/logger"

	"go.uber.org/fx"
)

// Module отдаёт service.Store, реализация выбирается storage.driver.
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			NewStore,
		),
	)
}

func NewStore(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (service.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("storage: in-memory driver, state will not survive restart")
		return service.NewMemory(), nil
	case "file":
		return service.NewFile(cfg.Storage.Path)
	case "postgres":
		poolMaster, err := db.NewPool(ctx, db.PoolConfig{
			DSN: cfg.Storage.DSN,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create poolMaster: %w", err)
		}
		if err := poolMaster.Ping(ctx); err != nil {
			poolMaster.Close()
			return nil, err
		}

		txm := db.NewPgTxManager(poolMaster)
		store := service.NewPostgres(txm)
		if err := store.EnsureSchema(ctx); err != nil {
			txm.Close()
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				txm.Close()
				return nil
			},
		})
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
