package service

import (
	"context"
	"errors"
	"testing"
	"trade_engine/internal/models"
	storage "trade_engine/internal/modules/storage/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingKV struct {
	storage.Store
	fail bool
}

func (f *failingKV) Put(ctx context.Context, key string, value []byte) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, key, value)
}

func validStrategy(name string) models.Strategy {
	return ruleStrategyNamed(name, models.IndicatorRule{Preset: "rsi_oversold"})
}

func ruleStrategyNamed(name string, rule models.IndicatorRule) models.Strategy {
	st := ruleStrategy(rule, "BTC_MXN")
	st.ID = ""
	st.Name = name
	return st
}

func Test_StoreCRUD(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	store, err := NewStore(ctx, kv)
	require.NoError(t, err)

	a, err := store.Add(ctx, validStrategy("a"))
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID, "id is generated")
	assert.Equal(t, []string{"btc_mxn"}, a.Config.Books, "books are normalized")

	b, err := store.Add(ctx, validStrategy("b"))
	require.NoError(t, err)

	_, err = store.Add(ctx, a)
	assert.ErrorIs(t, err, ErrStrategyExists)

	list := store.List(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)

	name := "renamed"
	upd, err := store.Update(ctx, a.ID, models.StrategyPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", upd.Name)

	toggled, err := store.Toggle(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Active)
	assert.Len(t, store.Active(ctx), 1)

	require.NoError(t, store.Remove(ctx, a.ID))
	_, err = store.Get(a.ID)
	assert.ErrorIs(t, err, ErrStrategyNotFound)
	assert.ErrorIs(t, store.Remove(ctx, "missing"), ErrStrategyNotFound)

	reloaded, err := NewStore(ctx, kv)
	require.NoError(t, err)
	got := reloaded.List(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)
	assert.False(t, got[0].Active)
}

func Test_StoreRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, storage.NewMemory())
	require.NoError(t, err)

	bad := validStrategy("bad")
	bad.Config.Amount = 0
	_, err = store.Add(ctx, bad)
	assert.Error(t, err)

	bad = validStrategy("bad")
	bad.Config.Books = []string{"btcmxn"}
	_, err = store.Add(ctx, bad)
	assert.Error(t, err)

	bad = ruleStrategyNamed("bad", models.IndicatorRule{Indicator: "vwap", Operator: models.OpLess, Action: models.ActionBuy})
	_, err = store.Add(ctx, bad)
	assert.Error(t, err)

	assert.Empty(t, store.List(ctx))
}

func Test_StoreKeepsStateOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{Store: storage.NewMemory()}
	store, err := NewStore(ctx, kv)
	require.NoError(t, err)

	a, err := store.Add(ctx, validStrategy("a"))
	require.NoError(t, err)

	kv.fail = true
	_, err = store.Add(ctx, validStrategy("b"))
	assert.Error(t, err)
	assert.Error(t, store.Remove(ctx, a.ID))
	assert.Len(t, store.List(ctx), 1)
}

func Test_UnknownKindLoadsInactive(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	raw := `[{"id":"x","name":"legacy","active":true,"logic":{"kind":"script"},"config":{"books":["btc_mxn"],"amount":1}}]`
	require.NoError(t, kv.Put(ctx, storage.KeyStrategies, []byte(raw)))

	store, err := NewStore(ctx, kv)
	require.NoError(t, err)
	st, err := store.Get("x")
	require.NoError(t, err)
	assert.False(t, st.Active)
	assert.Empty(t, store.Active(ctx))

	_, err = store.Toggle(ctx, "x")
	assert.Error(t, err, "cannot activate unknown logic")
}
