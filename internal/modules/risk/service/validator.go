package service

import (
	"context"
	"fmt"
	"sync"
	"time"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	storage "trade_engine/internal/modules/storage/service"
	"trade_engine/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const dayWindow = 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// Decision — итог проверки. Отказ — это не ошибка.
type Decision struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

func accept() Decision { return Decision{Accepted: true} }

func reject(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// State — срез аккаунта, против которого проверяется сигнал.
type State struct {
	Balances   models.Balances
	Tickers    map[string]models.Ticker
	OpenOrders []models.OpenOrder
}

// StateFromSnapshot копирует балансы и ордера: Commit меняет их внутри тика,
// а снапшот после сборки не трогаем.
func StateFromSnapshot(s models.Snapshot) State {
	balances := make(models.Balances, len(s.Balances))
	for k, b := range s.Balances {
		balances[k] = b
	}
	return State{
		Balances:   balances,
		Tickers:    s.Tickers,
		OpenOrders: append([]models.OpenOrder(nil), s.OpenOrders...),
	}
}

// Commit учитывает ордер, размещённый в этом тике: он занимает слот открытых ордеров
// и блокирует средства, как это сделает биржа. Следующий сигнал тика видит уже это.
func (st *State) Commit(sig models.Signal, order models.PlacedOrder) {
	base, quote, err := models.ParseBook(sig.Book)
	if err != nil {
		return
	}
	st.OpenOrders = append(st.OpenOrders, models.OpenOrder{
		OID:            order.OID,
		Book:           sig.Book,
		Side:           sig.Action,
		Type:           sig.OrderType,
		Price:          sig.Price,
		OriginalAmount: sig.Amount,
		UnfilledAmount: sig.Amount,
		Status:         "open",
		CreatedAt:      order.CreatedAt,
	})
	if st.Balances == nil {
		st.Balances = models.Balances{}
	}

	currency, locked := quote, decimal.NewFromFloat(sig.Amount).Mul(decimal.NewFromFloat(sig.Price))
	if sig.Action == models.ActionSell {
		currency, locked = base, decimal.NewFromFloat(sig.Amount)
	}
	b := st.Balances[currency]
	b.Currency = currency
	avail := decimal.NewFromFloat(b.Available).Sub(locked)
	if avail.IsNegative() {
		avail = decimal.Zero
	}
	b.Available = avail.InexactFloat64()
	b.Locked = decimal.NewFromFloat(b.Locked).Add(locked).InexactFloat64()
	st.Balances[currency] = b
}

// Validator владеет дневными счётчиками. Validate и RecordResult идут под одним мьютексом,
// поэтому два сигнала не могут вместе пробить дневной лимит.
type Validator struct {
	kv       storage.Store
	validate *validator.Validate
	now      func() time.Time
	setMu    sync.Mutex

	mu          sync.Mutex
	params      models.RiskParameters
	volume      map[string]decimal.Decimal
	pnl         map[string]decimal.Decimal // quote -> реализованный P&L окна
	peak        map[string]decimal.Decimal // quote -> максимум стоимости портфеля
	windowStart time.Time
}

func NewValidator(ctx context.Context, kv storage.Store, cfg *config.Config) (*Validator, error) {
	v := &Validator{
		kv:       kv,
		validate: validator.New(),
		now:      time.Now,
		params:   cfg.Risk.Clone(),
	}
	v.resetWindow(v.now())
	v.peak = make(map[string]decimal.Decimal)

	raw, err := kv.Get(ctx, storage.KeyRiskParameters)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, errors.Wrap(err, "load risk parameters")
	default:
		var p models.RiskParameters
		if err := sonic.Unmarshal(raw, &p); err != nil {
			return nil, errors.Wrap(err, "decode risk parameters")
		}
		if err := v.validate.Struct(p); err != nil {
			return nil, errors.Wrap(err, "stored risk parameters")
		}
		v.params = p.Clone()
	}
	if v.params.MaxOrderSize == nil {
		v.params.MaxOrderSize = map[string]float64{}
	}
	if v.params.MaxDailyVolume == nil {
		v.params.MaxDailyVolume = map[string]float64{}
	}
	return v, nil
}

func (v *Validator) resetWindow(now time.Time) {
	v.volume = make(map[string]decimal.Decimal)
	v.pnl = make(map[string]decimal.Decimal)
	v.windowStart = now
}

func (v *Validator) rollWindow(now time.Time) {
	if now.Sub(v.windowStart) >= dayWindow {
		logger.Info("[RISK] daily window rolled, volume and P&L reset")
		v.resetWindow(now)
	}
}

// Validate проверяет сигнал по порядку и останавливается на первом отказе.
// При принятии объём по базовой валюте резервируется сразу.
func (v *Validator) Validate(sig models.Signal, st State) Decision {
	base, quote, err := models.ParseBook(sig.Book)
	if err != nil {
		return reject("%v", err)
	}
	if sig.Amount <= 0 {
		return reject("amount must be > 0")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.rollWindow(v.now())

	p := v.params
	amount := decimal.NewFromFloat(sig.Amount)
	price := decimal.NewFromFloat(sig.Price)
	notional := amount.Mul(price)

	// 1. размер ордера
	maxOrder, ok := p.MaxOrderSize[base]
	if !ok {
		return reject("no max order size configured for %s", base)
	}
	if amount.GreaterThan(decimal.NewFromFloat(maxOrder)) {
		return reject("order size %s %s exceeds max %v", amount, base, maxOrder)
	}

	// 2. дневной объём
	maxDaily, ok := p.MaxDailyVolume[base]
	if !ok {
		return reject("no max daily volume configured for %s", base)
	}
	used := v.volume[base]
	if used.Add(amount).GreaterThan(decimal.NewFromFloat(maxDaily)) {
		return reject("daily volume %s + %s %s exceeds max %v", used, amount, base, maxDaily)
	}

	// 3. баланс
	switch sig.Action {
	case models.ActionBuy:
		avail := decimal.NewFromFloat(st.Balances.Available(quote))
		if avail.LessThan(notional) {
			return reject("insufficient %s balance: need %s, available %s", quote, notional.StringFixed(2), avail)
		}
	case models.ActionSell:
		avail := decimal.NewFromFloat(st.Balances.Available(base))
		if avail.LessThan(amount) {
			return reject("insufficient %s balance: need %s, available %s", base, amount, avail)
		}
	default:
		return reject("unknown action %q", sig.Action)
	}

	value := portfolioValue(st, quote)

	// 4. размер позиции
	if p.MaxPositionSizePct > 0 {
		if !value.IsPositive() {
			return reject("portfolio value in %s is unknown", quote)
		}
		limit := value.Mul(decimal.NewFromFloat(p.MaxPositionSizePct)).Div(hundred)
		if notional.GreaterThan(limit) {
			return reject("position %s %s exceeds %v%% of portfolio (%s)", notional.StringFixed(2), quote, p.MaxPositionSizePct, limit.StringFixed(2))
		}
	}

	// 5. открытые ордера
	if p.MaxOpenTrades > 0 && len(st.OpenOrders) >= p.MaxOpenTrades {
		return reject("open orders %d reached max %d", len(st.OpenOrders), p.MaxOpenTrades)
	}

	// 6. дневной стоп по убытку
	if p.MaxDailyLossPct > 0 {
		pnl := v.pnl[quote]
		if pnl.IsNegative() && value.IsPositive() {
			limit := value.Mul(decimal.NewFromFloat(p.MaxDailyLossPct)).Div(hundred)
			if pnl.Abs().GreaterThan(limit) {
				return reject("daily loss %s %s exceeds %v%% of portfolio, trading halted until window resets",
					pnl.Abs().StringFixed(2), quote, p.MaxDailyLossPct)
			}
		}
	}

	// 7. просадка от наблюдавшегося максимума
	if value.IsPositive() {
		peak := v.peak[quote]
		if value.GreaterThan(peak) {
			peak = value
			v.peak[quote] = peak
		}
		if p.MaxDrawdownPct > 0 {
			dd := peak.Sub(value).Div(peak).Mul(hundred)
			if dd.GreaterThan(decimal.NewFromFloat(p.MaxDrawdownPct)) {
				return reject("drawdown %s%% exceeds max %v%%", dd.StringFixed(2), p.MaxDrawdownPct)
			}
		}
	}

	v.volume[base] = used.Add(amount)
	return accept()
}

// portfolioValue — сумма Total всех валют в quote по курсам из тикеров. Валюты без курса не учитываются.
func portfolioValue(st State, quote string) decimal.Decimal {
	total := decimal.Zero
	for cur, b := range st.Balances {
		amt := decimal.NewFromFloat(b.Total)
		if amt.IsZero() {
			continue
		}
		if cur == quote {
			total = total.Add(amt)
			continue
		}
		if t, ok := st.Tickers[models.MakeBook(cur, quote)]; ok && t.Last > 0 {
			total = total.Add(amt.Mul(decimal.NewFromFloat(t.Last)))
			continue
		}
		if t, ok := st.Tickers[models.MakeBook(quote, cur)]; ok && t.Last > 0 {
			total = total.Add(amt.Div(decimal.NewFromFloat(t.Last)))
		}
	}
	return total
}

// RecordResult добавляет реализованную прибыль успешной сделки в P&L окна.
func (v *Validator) RecordResult(r models.TradeResult) {
	if r.Status != models.TradeSuccess || r.Profit == nil {
		return
	}
	quote := models.BookQuote(r.Signal.Book)
	if quote == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rollWindow(v.now())
	v.pnl[quote] = v.pnl[quote].Add(decimal.NewFromFloat(*r.Profit))
}

// DailyVolume — зарезервированный объём по валюте в текущем окне.
func (v *Validator) DailyVolume(currency string) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rollWindow(v.now())
	return v.volume[currency]
}

// DailyPnL — реализованный P&L окна в котируемой валюте.
func (v *Validator) DailyPnL(quote string) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rollWindow(v.now())
	return v.pnl[quote]
}

func (v *Validator) Parameters() models.RiskParameters {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.params.Clone()
}

// SetParameters применяет патч, валидирует и сохраняет. В памяти меняется только после записи.
func (v *Validator) SetParameters(ctx context.Context, patch models.RiskPatch) (models.RiskParameters, error) {
	v.setMu.Lock()
	defer v.setMu.Unlock()

	v.mu.Lock()
	next := v.params.Apply(patch)
	v.mu.Unlock()

	if err := v.validate.Struct(next); err != nil {
		return models.RiskParameters{}, errors.Wrap(err, "invalid risk parameters")
	}
	raw, err := sonic.Marshal(next)
	if err != nil {
		return models.RiskParameters{}, errors.Wrap(err, "encode risk parameters")
	}
	if err := v.kv.Put(ctx, storage.KeyRiskParameters, raw); err != nil {
		return models.RiskParameters{}, errors.Wrap(err, "save risk parameters")
	}

	v.mu.Lock()
	v.params = next
	v.mu.Unlock()
	logger.Info("[RISK] parameters updated")
	return next.Clone(), nil
}
