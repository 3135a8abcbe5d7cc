package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"trade_engine/internal/models"
	bitso "trade_engine/internal/modules/bitso_client/service"
	"trade_engine/internal/modules/config"
	events "trade_engine/internal/modules/events/service"
	execution "trade_engine/internal/modules/execution/service"
	risk "trade_engine/internal/modules/risk/service"
	storage "trade_engine/internal/modules/storage/service"
	strategy "trade_engine/internal/modules/strategy/service"
	"trade_engine/pkg/logger"
	"trade_engine/pkg/tracing"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

var (
	ErrNoCredentials = errors.New("engine: exchange credentials are not set")
	ErrShutdown      = errors.New("engine: shutting down")
)

// Exchange — то, что движку нужно от клиента биржи напрямую.
type Exchange interface {
	SetCreds(creds models.Credentials)
	HasCreds() bool
	AccountStatus(ctx context.Context) (bitso.AccountStatus, error)
}

type Snapshotter interface {
	Assemble(ctx context.Context, strategies []models.Strategy) (models.Snapshot, error)
}

type Executor interface {
	Execute(ctx context.Context, st models.Strategy, sig models.Signal) models.TradeResult
}

type RiskGate interface {
	Validate(sig models.Signal, st risk.State) risk.Decision
	Parameters() models.RiskParameters
	SetParameters(ctx context.Context, patch models.RiskPatch) (models.RiskParameters, error)
}

type Deps struct {
	Exchange   Exchange
	Store      storage.Store
	Strategies *strategy.Store
	Market     Snapshotter
	Risk       RiskGate
	Executor   Executor
	History    *execution.History
	Bus        *events.Bus
}

// Engine — жизненный цикл Stopped -> Running -> Stopped и фасад для дашборда.
type Engine struct {
	cfg config.Engine
	d   Deps

	mu       sync.Mutex // Start/Stop
	running  bool
	shutdown bool
	cancel  context.CancelFunc
	done    chan struct{}

	tickMu    sync.Mutex // тики строго последовательны
	scheduled atomic.Int32
	lastTick  atomic.Int64
	ticks     atomic.Int64
}

func NewEngine(ctx context.Context, cfg *config.Config, d Deps) (*Engine, error) {
	e := &Engine{cfg: cfg.Engine, d: d}
	if e.cfg.TickInterval <= 0 {
		e.cfg.TickInterval = 5 * time.Minute
	}

	raw, err := d.Store.Get(ctx, storage.KeyCredentials)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, errors.Wrap(err, "load credentials")
	default:
		var creds models.Credentials
		if err := sonic.Unmarshal(raw, &creds); err != nil {
			return nil, errors.Wrap(err, "decode credentials")
		}
		if !creds.Empty() {
			d.Exchange.SetCreds(creds)
			logger.Info("[ENGINE] credentials restored: %s", creds)
		}
	}
	return e, nil
}

// Start проверяет ключи одним авторизованным запросом, делает тик сразу и дальше по таймеру.
// Повторный Start при работающем движке ничего не делает.
// Проверка ключей идёт без e.mu: она может занять до MaxRetryTime.
func (e *Engine) Start(ctx context.Context) error {
	if e.Running() {
		return nil
	}
	if !e.d.Exchange.HasCreds() {
		return ErrNoCredentials
	}
	if _, err := e.d.Exchange.AccountStatus(ctx); err != nil {
		return errors.Wrap(err, "engine: credentials check")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdown {
		return ErrShutdown
	}
	if e.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true
	go e.loop(loopCtx, e.done)

	logger.Info("[ENGINE] started, tick every %s", e.cfg.TickInterval)
	e.d.Bus.Publish(models.Event{Type: models.EventStarted})
	return nil
}

// Shutdown останавливает движок насовсем: последующие Start вернут ErrShutdown.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.shutdown = true
	e.mu.Unlock()
	e.Stop()
}

// Stop отменяет расписание и ждёт текущий тик. Идемпотентен.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.cancel()
	done := e.done
	e.mu.Unlock()

	<-done
	logger.Info("[ENGINE] stopped")
	e.d.Bus.Publish(models.Event{Type: models.EventStopped})
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	e.scheduled.Add(1)
	defer func() {
		e.scheduled.Add(-1)
		close(done)
	}()

	// тик доживает до конца даже после Stop
	work := context.WithoutCancel(ctx)
	_ = e.Tick(work)

	t := time.NewTicker(e.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if ctx.Err() != nil {
				return
			}
			_ = e.Tick(work)
		}
	}
}

// Tick: снапшот -> стратегии по порядку x книги -> оценка -> риск -> исполнение.
// Ошибки стратегий и исполнения не прерывают тик.
func (e *Engine) Tick(ctx context.Context) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	span, ctx := tracing.StartSpan(ctx, "engine.tick")
	defer span.Finish()
	started := time.Now()
	e.ticks.Add(1)
	defer e.lastTick.Store(started.Unix())

	active := e.d.Strategies.Active(ctx)
	snap, err := e.d.Market.Assemble(ctx, active)
	if err != nil {
		tracing.Fail(span, err)
		logger.Error("[ENGINE] snapshot: %v", err)
		e.d.Bus.Publish(models.NewErrorEvent(errors.Wrap(err, "snapshot")))
		return err
	}
	state := risk.StateFromSnapshot(snap)

	var executed, rejected int
	for _, st := range active {
		signals, errs := strategy.Evaluate(st, snap)
		for _, evalErr := range errs {
			logger.Warn("[ENGINE] %v", evalErr)
			e.d.Bus.Publish(models.NewErrorEvent(evalErr))
		}
		for _, sig := range signals {
			dec := e.d.Risk.Validate(sig, state)
			if !dec.Accepted {
				rejected++
				logger.Info("[RISK] %s rejected %s: %s", st.Name, sig, dec.Reason)
				continue
			}
			res := e.d.Executor.Execute(ctx, st, sig)
			executed++
			if res.Status == models.TradeError {
				e.d.Bus.Publish(models.NewErrorEvent(errors.Errorf("strategy %s: %s", st.Name, res.ErrorMessage)))
				continue
			}
			placed := models.PlacedOrder{CreatedAt: res.Timestamp}
			if res.Order != nil {
				placed = *res.Order
			}
			state.Commit(sig, placed)
		}
	}

	span.SetTag("strategies", len(active))
	span.SetTag("executed", executed)
	logger.Info("[ENGINE] tick done in %s: strategies=%d executed=%d rejected=%d",
		time.Since(started).Round(time.Millisecond), len(active), executed, rejected)
	return nil
}

// LastTick — время начала последнего тика, ноль если тиков не было.
func (e *Engine) LastTick() time.Time {
	u := e.lastTick.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (e *Engine) Ticks() int64 { return e.ticks.Load() }

// SetCredentials сохраняет ключи и сразу отдаёт их транспорту.
func (e *Engine) SetCredentials(ctx context.Context, key, secret string) error {
	creds := models.Credentials{Key: key, Secret: secret}
	if creds.Empty() {
		return errors.New("engine: key and secret are required")
	}
	raw, err := sonic.Marshal(creds)
	if err != nil {
		return errors.Wrap(err, "encode credentials")
	}
	if err := e.d.Store.Put(ctx, storage.KeyCredentials, raw); err != nil {
		return errors.Wrap(err, "save credentials")
	}
	e.d.Exchange.SetCreds(creds)
	logger.Info("[ENGINE] credentials updated: %s", creds)
	return nil
}

func (e *Engine) HasCredentials() bool { return e.d.Exchange.HasCreds() }
