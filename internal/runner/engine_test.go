package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"trade_engine/internal/models"
	bitso "trade_engine/internal/modules/bitso_client/service"
	"trade_engine/internal/modules/config"
	events "trade_engine/internal/modules/events/service"
	execution "trade_engine/internal/modules/execution/service"
	risk "trade_engine/internal/modules/risk/service"
	storage "trade_engine/internal/modules/storage/service"
	strategy "trade_engine/internal/modules/strategy/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchange struct {
	mu        sync.Mutex
	creds     models.Credentials
	statusErr error
	probes    int
	probing   chan struct{} // сигнал о входе в AccountStatus
	hold      chan struct{} // пока открыт, AccountStatus висит
}

func (f *fakeExchange) SetCreds(c models.Credentials) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds = c
}

func (f *fakeExchange) HasCreds() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.creds.Empty()
}

func (f *fakeExchange) AccountStatus(context.Context) (bitso.AccountStatus, error) {
	f.mu.Lock()
	f.probes++
	err, probing, hold := f.statusErr, f.probing, f.hold
	f.mu.Unlock()

	if probing != nil {
		probing <- struct{}{}
	}
	if hold != nil {
		<-hold
	}
	return bitso.AccountStatus{Status: "active"}, err
}

type fakeMarket struct {
	calls    atomic.Int32
	balances models.Balances
	entered  chan struct{}
	release  chan struct{}
}

func (f *fakeMarket) Assemble(ctx context.Context, _ []models.Strategy) (models.Snapshot, error) {
	f.calls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		<-f.release
	}
	balances := models.Balances{"mxn": {Currency: "mxn", Available: 1e6, Total: 1e6}}
	if f.balances != nil {
		balances = make(models.Balances, len(f.balances))
		for k, v := range f.balances {
			balances[k] = v
		}
	}
	return models.Snapshot{
		Tickers: map[string]models.Ticker{
			"btc_mxn": {Book: "btc_mxn", Last: 1000, Bid: 999, Ask: 1001},
			"eth_mxn": {Book: "eth_mxn", Last: 100, Bid: 99, Ask: 101},
		},
		History: map[string][]float64{
			"btc_mxn": {1000},
			"eth_mxn": {100},
		},
		Balances:  balances,
		Timestamp: time.Now(),
	}, nil
}

type okOrders struct{ calls atomic.Int32 }

func (o *okOrders) PlaceOrder(_ context.Context, req models.OrderRequest) (models.PlacedOrder, error) {
	o.calls.Add(1)
	return models.PlacedOrder{OID: "x", Book: req.Book, Side: req.Side, Amount: req.Amount}, nil
}

type harness struct {
	engine *Engine
	ex     *fakeExchange
	market *fakeMarket
	orders *okOrders
	kv     storage.Store
	bus    *events.Bus
}

func newHarness(t *testing.T, kv storage.Store, withCreds bool) *harness {
	t.Helper()
	ctx := context.Background()
	if kv == nil {
		kv = storage.NewMemory()
	}
	cfg := config.Default()
	cfg.Engine.TickInterval = time.Hour

	ex := &fakeExchange{}
	if withCreds {
		ex.creds = models.Credentials{Key: "k", Secret: "s"}
	}
	strategies, err := strategy.NewStore(ctx, kv)
	require.NoError(t, err)
	validator, err := risk.NewValidator(ctx, kv, &cfg)
	require.NoError(t, err)
	history, err := execution.NewHistory(ctx, kv)
	require.NoError(t, err)
	bus := events.NewBus(64)
	orders := &okOrders{}
	market := &fakeMarket{}

	e, err := NewEngine(ctx, &cfg, Deps{
		Exchange:   ex,
		Store:      kv,
		Strategies: strategies,
		Market:     market,
		Risk:       validator,
		Executor:   execution.NewCoordinator(orders, history, validator, bus),
		History:    history,
		Bus:        bus,
	})
	require.NoError(t, err)
	t.Cleanup(e.Stop)
	return &harness{engine: e, ex: ex, market: market, orders: orders, kv: kv, bus: bus}
}

func priceBuy(name string, book string) models.Strategy {
	return models.Strategy{
		Name:   name,
		Active: true,
		Logic: models.DecisionLogic{
			Kind: models.LogicIndicatorRule,
			Rule: &models.IndicatorRule{Indicator: models.IndicatorPrice, Operator: models.OpGreater, Threshold: 0, Action: models.ActionBuy},
		},
		Config: models.StrategyConfig{Books: []string{book}, Amount: 0.001},
	}
}

func drain(s *events.Subscription) []models.Event {
	var out []models.Event
	for {
		select {
		case e := <-s.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func types(evs []models.Event) []models.EventType {
	out := make([]models.EventType, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

func Test_StartRequiresCredentials(t *testing.T) {
	h := newHarness(t, nil, false)
	sub := h.engine.Subscribe()
	defer sub.Close()

	err := h.engine.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.False(t, h.engine.Running())
	assert.Zero(t, h.ex.probes, "no probe without credentials")
	assert.Empty(t, drain(sub))
}

func Test_StartSurfacesAuthFailure(t *testing.T) {
	h := newHarness(t, nil, true)
	h.ex.statusErr = &bitso.AuthenticationError{Status: 401, Message: "invalid key"}

	err := h.engine.Start(context.Background())
	require.Error(t, err)
	assert.True(t, bitso.IsAuthError(err))
	assert.False(t, h.engine.Running())
}

func Test_DoubleStartSchedulesOnce(t *testing.T) {
	h := newHarness(t, nil, true)
	sub := h.engine.Subscribe()
	defer sub.Close()

	require.NoError(t, h.engine.Start(context.Background()))
	require.NoError(t, h.engine.Start(context.Background()))

	assert.Eventually(t, func() bool { return h.engine.Ticks() >= 1 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, h.engine.scheduled.Load())
	assert.Equal(t, 1, h.ex.probes)

	h.engine.Stop()
	h.engine.Stop()
	assert.EqualValues(t, 0, h.engine.scheduled.Load())
	assert.False(t, h.engine.Running())

	evs := types(drain(sub))
	assert.Equal(t, []models.EventType{models.EventStarted, models.EventStopped}, evs)
}

func Test_StopWaitsForInFlightTick(t *testing.T) {
	h := newHarness(t, nil, true)
	h.market.entered = make(chan struct{}, 1)
	h.market.release = make(chan struct{})

	require.NoError(t, h.engine.Start(context.Background()))
	<-h.market.entered

	stopped := make(chan struct{})
	go func() {
		h.engine.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.market.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the tick finished")
	}
	assert.EqualValues(t, 1, h.market.calls.Load())
}

func Test_FailingStrategyDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()

	broken := priceBuy("broken", "eth_mxn")
	broken.Logic.Rule = &models.IndicatorRule{Indicator: models.IndicatorRSI, Period: 14, Operator: models.OpLess, Threshold: 30, Action: models.ActionBuy}
	_, err := h.engine.AddStrategy(ctx, broken)
	require.NoError(t, err)
	_, err = h.engine.AddStrategy(ctx, priceBuy("works", "btc_mxn"))
	require.NoError(t, err)

	sub := h.engine.Subscribe()
	defer sub.Close()
	require.NoError(t, h.engine.Tick(ctx))

	evs := drain(sub)
	got := types(evs)
	assert.Contains(t, got, models.EventError)
	assert.Contains(t, got, models.EventTradeExecuted)

	history := h.engine.TradeHistory()
	require.Len(t, history, 1)
	assert.Equal(t, models.TradeSuccess, history[0].Status)
	assert.Equal(t, "btc_mxn", history[0].Signal.Book)
	assert.EqualValues(t, 1, h.orders.calls.Load())
}

func Test_RiskRejectionSkipsExecution(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()

	big := priceBuy("big", "btc_mxn")
	big.Config.Amount = 5
	_, err := h.engine.AddStrategy(ctx, big)
	require.NoError(t, err)

	require.NoError(t, h.engine.Tick(ctx))
	assert.Zero(t, h.orders.calls.Load())
	assert.Empty(t, h.engine.TradeHistory())
}

func Test_StrategyRoundTrip(t *testing.T) {
	kv := storage.NewMemory()
	h := newHarness(t, kv, true)
	ctx := context.Background()

	in := priceBuy("persisted", "btc_mxn")
	in.Logic = models.DecisionLogic{
		Kind: models.LogicRuleSet,
		Conditions: []models.Condition{
			{Indicator: models.IndicatorRSI, Period: 14, Operator: models.OpLess, Value: 30, Action: models.ActionBuy, Priority: 1},
			{Indicator: models.IndicatorChangePct, Period: 3, Operator: models.OpGreater, Value: 5, Action: models.ActionSell, Priority: 2},
		},
	}
	added, err := h.engine.AddStrategy(ctx, in)
	require.NoError(t, err)

	again := newHarness(t, kv, true)
	list := again.engine.Strategies(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, added.ID, list[0].ID)
	assert.Equal(t, added.Logic, list[0].Logic)
	assert.Equal(t, added.Config, list[0].Config)
	assert.True(t, list[0].Active)
}

func Test_StrategyEvents(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()
	sub := h.engine.Subscribe()
	defer sub.Close()

	st, err := h.engine.AddStrategy(ctx, priceBuy("ev", "btc_mxn"))
	require.NoError(t, err)
	name := "renamed"
	_, err = h.engine.UpdateStrategy(ctx, st.ID, models.StrategyPatch{Name: &name})
	require.NoError(t, err)
	_, err = h.engine.ToggleStrategy(ctx, st.ID)
	require.NoError(t, err)
	require.NoError(t, h.engine.RemoveStrategy(ctx, st.ID))
	assert.ErrorIs(t, h.engine.RemoveStrategy(ctx, st.ID), strategy.ErrStrategyNotFound)

	evs := drain(sub)
	assert.Equal(t, []models.EventType{
		models.EventStrategyAdded,
		models.EventStrategyUpdated,
		models.EventStrategyToggled,
		models.EventStrategyRemoved,
	}, types(evs))
	require.NotNil(t, evs[3].Strategy)
	assert.Equal(t, "renamed", evs[3].Strategy.Name)
}

func Test_CredentialsPersisted(t *testing.T) {
	kv := storage.NewMemory()
	h := newHarness(t, kv, false)
	ctx := context.Background()

	assert.Error(t, h.engine.SetCredentials(ctx, "", "s"))
	require.NoError(t, h.engine.SetCredentials(ctx, "key", "secret"))
	assert.True(t, h.engine.HasCredentials())

	again := newHarness(t, kv, false)
	assert.True(t, again.engine.HasCredentials())
	assert.Equal(t, "key", again.ex.creds.Key)
}

func Test_RiskFacade(t *testing.T) {
	h := newHarness(t, nil, true)
	n := 9
	got, err := h.engine.SetRiskParameters(context.Background(), models.RiskPatch{MaxOpenTrades: &n})
	require.NoError(t, err)
	assert.Equal(t, 9, got.MaxOpenTrades)
	assert.Equal(t, 9, h.engine.RiskParameters().MaxOpenTrades)

	bad := -1
	_, err = h.engine.SetRiskParameters(context.Background(), models.RiskPatch{MaxOpenTrades: &bad})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}

func Test_OpenOrderLimitHoldsWithinTick(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()

	one := 1
	_, err := h.engine.SetRiskParameters(ctx, models.RiskPatch{MaxOpenTrades: &one})
	require.NoError(t, err)
	for _, name := range []string{"a", "b", "c"} {
		_, err := h.engine.AddStrategy(ctx, priceBuy(name, "btc_mxn"))
		require.NoError(t, err)
	}

	require.NoError(t, h.engine.Tick(ctx))
	assert.EqualValues(t, 1, h.orders.calls.Load())
	assert.Len(t, h.engine.TradeHistory(), 1)
}

func Test_BalanceSpentWithinTick(t *testing.T) {
	h := newHarness(t, nil, true)
	ctx := context.Background()
	h.market.balances = models.Balances{"mxn": {Currency: "mxn", Available: 15, Total: 15}}

	zero := 0.0
	_, err := h.engine.SetRiskParameters(ctx, models.RiskPatch{MaxPositionSizePct: &zero})
	require.NoError(t, err)
	// 0.01 btc по 1000 = 10 mxn на сделку, денег хватает только на одну
	for _, name := range []string{"a", "b"} {
		st := priceBuy(name, "btc_mxn")
		st.Config.Amount = 0.01
		_, err := h.engine.AddStrategy(ctx, st)
		require.NoError(t, err)
	}

	require.NoError(t, h.engine.Tick(ctx))
	assert.EqualValues(t, 1, h.orders.calls.Load())
}

func Test_StatusNotBlockedByCredentialsCheck(t *testing.T) {
	h := newHarness(t, nil, true)
	h.ex.probing = make(chan struct{}, 1)
	h.ex.hold = make(chan struct{})

	started := make(chan error, 1)
	go func() { started <- h.engine.Start(context.Background()) }()
	<-h.ex.probing

	polled := make(chan bool, 1)
	go func() { polled <- h.engine.Running() }()
	select {
	case running := <-polled:
		assert.False(t, running)
	case <-time.After(time.Second):
		t.Fatal("Running blocked while credentials were being checked")
	}

	close(h.ex.hold)
	require.NoError(t, <-started)
	assert.True(t, h.engine.Running())
}

func Test_StartAfterShutdownDoesNotRun(t *testing.T) {
	h := newHarness(t, nil, true)
	h.ex.probing = make(chan struct{}, 1)
	h.ex.hold = make(chan struct{})

	started := make(chan error, 1)
	go func() { started <- h.engine.Start(context.Background()) }()
	<-h.ex.probing

	h.engine.Shutdown()
	close(h.ex.hold)

	assert.ErrorIs(t, <-started, ErrShutdown)
	assert.False(t, h.engine.Running())
	assert.EqualValues(t, 0, h.engine.scheduled.Load())
	assert.Zero(t, h.market.calls.Load())
}
