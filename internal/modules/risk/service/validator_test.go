package service

import (
	"context"
	"math/rand"
	"testing"
	"time"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	storage "trade_engine/internal/modules/storage/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator(t *testing.T, p models.RiskParameters) *Validator {
	t.Helper()
	cfg := config.Default()
	cfg.Risk = p
	v, err := NewValidator(context.Background(), storage.NewMemory(), &cfg)
	require.NoError(t, err)
	return v
}

func looseParams() models.RiskParameters {
	return models.RiskParameters{
		MaxOrderSize:   map[string]float64{"btc": 1},
		MaxDailyVolume: map[string]float64{"btc": 10},
	}
}

func buy(amount, price float64) models.Signal {
	return models.Signal{Action: models.ActionBuy, Book: "btc_mxn", Amount: amount, Price: price, OrderType: models.OrderTypeMarket}
}

func mxn(available float64) State {
	return State{Balances: models.Balances{"mxn": {Currency: "mxn", Available: available, Total: available}}}
}

func Test_BalanceExamples(t *testing.T) {
	v := newValidator(t, looseParams())

	d := v.Validate(buy(0.01, 900000), mxn(1000))
	assert.False(t, d.Accepted)
	assert.Contains(t, d.Reason, "insufficient mxn balance")

	d = v.Validate(buy(0.0001, 900000), mxn(1000))
	assert.True(t, d.Accepted, d.Reason)
	assert.True(t, v.DailyVolume("btc").Equal(decimal.RequireFromString("0.0001")))
}

func Test_MissingLimitRejects(t *testing.T) {
	v := newValidator(t, looseParams())
	sig := models.Signal{Action: models.ActionBuy, Book: "eth_mxn", Amount: 0.1, Price: 10}
	d := v.Validate(sig, mxn(1000))
	assert.False(t, d.Accepted)
	assert.Contains(t, d.Reason, "max order size")
}

func Test_SellNeedsBase(t *testing.T) {
	v := newValidator(t, looseParams())
	sig := models.Signal{Action: models.ActionSell, Book: "btc_mxn", Amount: 0.5, Price: 10}
	st := State{Balances: models.Balances{"btc": {Available: 0.4, Total: 0.4}}}
	assert.False(t, v.Validate(sig, st).Accepted)

	st.Balances["btc"] = models.Balance{Available: 0.5, Total: 0.5}
	assert.True(t, v.Validate(sig, st).Accepted)
}

func Test_AcceptedNeverExceedOrderSize(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		limit := rnd.Float64() * 2
		p := looseParams()
		p.MaxOrderSize["btc"] = limit
		p.MaxDailyVolume["btc"] = 1e9
		v := newValidator(t, p)

		amount := rnd.Float64()*3 + 1e-8
		d := v.Validate(buy(amount, 1), mxn(1e9))
		if d.Accepted {
			assert.LessOrEqual(t, amount, limit)
		}
	}
}

func Test_DailyVolumeNeverExceeded(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	p := looseParams()
	p.MaxDailyVolume["btc"] = 1
	v := newValidator(t, p)

	sum := decimal.Zero
	for i := 0; i < 1000; i++ {
		amount := float64(rnd.Intn(100)+1) / 1000
		if v.Validate(buy(amount, 1), mxn(1e9)).Accepted {
			sum = sum.Add(decimal.NewFromFloat(amount))
		}
	}
	assert.True(t, sum.LessThanOrEqual(decimal.NewFromInt(1)), sum.String())
	assert.True(t, sum.Equal(v.DailyVolume("btc")))
}

func Test_WindowRolls(t *testing.T) {
	p := looseParams()
	p.MaxDailyVolume["btc"] = 0.5
	v := newValidator(t, p)
	now := time.Now()
	v.now = func() time.Time { return now }
	v.resetWindow(now)

	assert.True(t, v.Validate(buy(0.5, 1), mxn(1e6)).Accepted)
	assert.False(t, v.Validate(buy(0.1, 1), mxn(1e6)).Accepted)

	now = now.Add(dayWindow)
	assert.True(t, v.Validate(buy(0.1, 1), mxn(1e6)).Accepted)
}

func Test_PositionAndOpenOrders(t *testing.T) {
	p := looseParams()
	p.MaxPositionSizePct = 10
	p.MaxOpenTrades = 2
	v := newValidator(t, p)

	d := v.Validate(buy(0.2, 1000), mxn(1000))
	assert.False(t, d.Accepted)
	assert.Contains(t, d.Reason, "portfolio")

	st := mxn(1000)
	st.OpenOrders = []models.OpenOrder{{OID: "1"}, {OID: "2"}}
	d = v.Validate(buy(0.05, 1000), st)
	assert.False(t, d.Accepted)
	assert.Contains(t, d.Reason, "open orders")

	st.OpenOrders = st.OpenOrders[:1]
	assert.True(t, v.Validate(buy(0.05, 1000), st).Accepted)
}

func Test_PortfolioValueUsesTickers(t *testing.T) {
	st := State{
		Balances: models.Balances{
			"mxn": {Total: 100},
			"btc": {Total: 0.5},
			"usd": {Total: 10},
		},
		Tickers: map[string]models.Ticker{
			"btc_mxn": {Last: 1000},
			"mxn_usd": {Last: 0.05},
		},
	}
	got := portfolioValue(st, "mxn")
	assert.True(t, got.Equal(decimal.NewFromInt(800)), got.String())
}

func Test_DailyLossBreaker(t *testing.T) {
	p := looseParams()
	p.MaxDailyLossPct = 5
	v := newValidator(t, p)

	loss := -60.0
	v.RecordResult(models.TradeResult{Status: models.TradeSuccess, Signal: buy(1, 1), Profit: &loss})
	assert.True(t, v.DailyPnL("mxn").Equal(decimal.NewFromInt(-60)))

	d := v.Validate(buy(0.001, 1), mxn(1000))
	assert.False(t, d.Accepted)
	assert.Contains(t, d.Reason, "daily loss")

	ignored := -1000.0
	v.RecordResult(models.TradeResult{Status: models.TradeError, Signal: buy(1, 1), Profit: &ignored})
	assert.True(t, v.DailyPnL("mxn").Equal(decimal.NewFromInt(-60)))
}

func Test_Drawdown(t *testing.T) {
	p := looseParams()
	p.MaxDrawdownPct = 20
	v := newValidator(t, p)

	assert.True(t, v.Validate(buy(0.001, 1), mxn(1000)).Accepted)
	assert.True(t, v.Validate(buy(0.001, 1), mxn(850)).Accepted)
	d := v.Validate(buy(0.001, 1), mxn(700))
	assert.False(t, d.Accepted)
	assert.Contains(t, d.Reason, "drawdown")
}

func Test_SetParametersPersists(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	cfg := config.Default()
	v, err := NewValidator(ctx, kv, &cfg)
	require.NoError(t, err)

	trades := 7
	got, err := v.SetParameters(ctx, models.RiskPatch{
		MaxOpenTrades: &trades,
		MaxOrderSize:  map[string]float64{"sol": 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got.MaxOpenTrades)
	assert.InDelta(t, 3, got.MaxOrderSize["sol"], 1e-9)
	assert.InDelta(t, cfg.Risk.MaxOrderSize["btc"], got.MaxOrderSize["btc"], 1e-9, "maps are merged")

	bad := 150.0
	_, err = v.SetParameters(ctx, models.RiskPatch{MaxDrawdownPct: &bad})
	assert.Error(t, err)
	assert.Equal(t, 7, v.Parameters().MaxOpenTrades)

	again, err := NewValidator(ctx, kv, &cfg)
	require.NoError(t, err)
	assert.Equal(t, 7, again.Parameters().MaxOpenTrades)
	assert.InDelta(t, 3, again.Parameters().MaxOrderSize["sol"], 1e-9)
}

func Test_CommitConsumesSlotsAndBalance(t *testing.T) {
	p := looseParams()
	p.MaxOpenTrades = 2
	v := newValidator(t, p)

	snap := models.Snapshot{Balances: models.Balances{"mxn": {Currency: "mxn", Available: 250, Total: 250}}}
	st := StateFromSnapshot(snap)

	sig := buy(0.0001, 1000000) // 100 mxn
	require.True(t, v.Validate(sig, st).Accepted)
	st.Commit(sig, models.PlacedOrder{OID: "a"})
	assert.InDelta(t, 150, st.Balances.Available("mxn"), 1e-9)
	assert.Len(t, st.OpenOrders, 1)

	require.True(t, v.Validate(sig, st).Accepted)
	st.Commit(sig, models.PlacedOrder{OID: "b"})

	// слоты кончились раньше денег
	d := v.Validate(buy(0.00001, 1000000), st)
	assert.False(t, d.Accepted)
	assert.Contains(t, d.Reason, "open orders")

	// снапшот не тронут
	assert.InDelta(t, 250, snap.Balances.Available("mxn"), 1e-9)
}

func Test_CommitSellLocksBase(t *testing.T) {
	v := newValidator(t, looseParams())
	st := StateFromSnapshot(models.Snapshot{Balances: models.Balances{"btc": {Currency: "btc", Available: 0.5, Total: 0.5}}})

	sell := models.Signal{Action: models.ActionSell, Book: "btc_mxn", Amount: 0.3, Price: 10}
	require.True(t, v.Validate(sell, st).Accepted)
	st.Commit(sell, models.PlacedOrder{OID: "s"})
	assert.InDelta(t, 0.2, st.Balances.Available("btc"), 1e-9)

	d := v.Validate(sell, st)
	assert.False(t, d.Accepted)
	assert.Contains(t, d.Reason, "insufficient btc balance")
}

func Test_RemovedLimitFailsClosed(t *testing.T) {
	v := newValidator(t, looseParams())
	require.True(t, v.Validate(buy(0.0001, 1000), mxn(1000)).Accepted)

	got, err := v.SetParameters(context.Background(), models.RiskPatch{MaxOrderSize: map[string]float64{"btc": -1}})
	require.NoError(t, err)
	assert.NotContains(t, got.MaxOrderSize, "btc")

	d := v.Validate(buy(0.0001, 1000), mxn(1000))
	assert.False(t, d.Accepted)
	assert.Contains(t, d.Reason, "no max order size")
}
