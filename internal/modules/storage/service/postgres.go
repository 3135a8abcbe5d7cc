package service

import (
	"context"
	"fmt"
	"trade_engine/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const (
	createTableSQL = `
CREATE TABLE IF NOT EXISTS engine_kv (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	selectSQL = `SELECT value FROM engine_kv WHERE key = $1`
	upsertSQL = `
INSERT INTO engine_kv (key, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
)

// Postgres хранит значения в таблице engine_kv (jsonb).
type Postgres struct {
	db db.TxManager
}

func NewPostgres(tx db.TxManager) *Postgres {
	return &Postgres{db: tx}
}

// EnsureSchema создаёт таблицу, если её нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Conn().Exec(ctx, createTableSQL)
	return errors.Wrap(err, "pg.EnsureSchema")
}

func (p *Postgres) Get(ctx context.Context, key string) (value []byte, err error) {
	defer func() {
		if err != nil && !errors.Is(err, ErrNotFound) {
			err = fmt.Errorf("pg.Get %s: %w", key, err)
		}
	}()

	err = p.db.RunReadOnly(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctxTx, selectSQL, key).Scan(&value)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Put %s: %w", key, err)
		}
	}()

	return p.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, upsertSQL, key, value)
		return err
	})
}
