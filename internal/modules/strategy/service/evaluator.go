package service

import (
	"fmt"
	"sort"
	"trade_engine/internal/models"

	"github.com/pkg/errors"
)

var (
	ErrNoTicker     = errors.New("no ticker for book")
	ErrInactiveRule = errors.New("strategy logic is not evaluable")
)

// EvaluationError — ошибка одной пары (стратегия, книга). Остальные пары тика не трогает.
type EvaluationError struct {
	StrategyID string
	Book       string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("strategy %s on %s: %v", e.StrategyID, e.Book, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Evaluate прогоняет стратегию по всем её книгам. Чистая функция: только снапшот на входе.
func Evaluate(s models.Strategy, snap models.Snapshot) ([]models.Signal, []error) {
	var (
		signals []models.Signal
		errs    []error
	)
	for _, book := range s.Config.Books {
		sig, err := EvaluateBook(s, book, snap)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if sig != nil {
			signals = append(signals, *sig)
		}
	}
	return signals, errs
}

// EvaluateBook возвращает nil, nil, если условие не выполнено.
func EvaluateBook(s models.Strategy, book string, snap models.Snapshot) (*models.Signal, error) {
	fail := func(err error) (*models.Signal, error) {
		return nil, &EvaluationError{StrategyID: s.ID, Book: book, Err: err}
	}

	t, ok := snap.Ticker(book)
	if !ok {
		return fail(ErrNoTicker)
	}
	if t.Last <= 0 {
		return fail(errors.Errorf("ticker last price %v", t.Last))
	}
	prices := snap.Prices(book)

	var (
		action models.Action
		reason string
		err    error
	)
	switch s.Logic.Kind {
	case models.LogicIndicatorRule:
		action, reason, err = evalRule(s.Logic.Rule, t, prices)
	case models.LogicRuleSet:
		action, reason, err = evalConditions(s.Logic.Conditions, t, prices)
	case models.LogicParameterized:
		action, reason, err = evalModel(s.Logic.Model, t, prices)
	default:
		err = errors.Wrapf(ErrInactiveRule, "kind %q", s.Logic.Kind)
	}
	if err != nil {
		return fail(err)
	}
	if action == "" {
		return nil, nil
	}

	orderType := s.Config.OrderType
	if orderType == "" {
		orderType = models.OrderTypeMarket
	}
	sig := &models.Signal{
		StrategyID: s.ID,
		Action:     action,
		Book:       book,
		OrderType:  orderType,
		Amount:     s.Config.Amount,
		Price:      t.Last,
		Reason:     reason,
	}
	if err := sig.Validate(); err != nil {
		return fail(err)
	}
	return sig, nil
}

func indicatorValue(ind models.Indicator, period int, t models.Ticker, prices []float64) (float64, error) {
	switch ind {
	case models.IndicatorPrice:
		return t.Last, nil
	case models.IndicatorRSI:
		return rsi(prices, orDefault(period, defaultRSIPeriod))
	case models.IndicatorEMA:
		return ema(prices, orDefault(period, defaultEMAPeriod))
	case models.IndicatorSMA:
		return sma(prices, orDefault(period, defaultSMAPeriod))
	case models.IndicatorEMASpread:
		return emaSpread(prices, orDefault(period, defaultSpreadPeriod))
	case models.IndicatorMACD:
		return macdHistogram(prices)
	case models.IndicatorChangePct:
		return changePct(prices, orDefault(period, defaultChangePeriod))
	case models.IndicatorSpreadPct:
		return spreadPct(t.Bid, t.Ask)
	}
	return 0, errors.Errorf("unknown indicator %q", ind)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func evalRule(rule *models.IndicatorRule, t models.Ticker, prices []float64) (models.Action, string, error) {
	if rule == nil {
		return "", "", errors.Wrap(ErrInactiveRule, "indicator_rule without rule")
	}
	r, ok := rule.Resolve()
	if !ok {
		return "", "", errors.Errorf("unknown preset %q", rule.Preset)
	}
	v, err := indicatorValue(r.Indicator, r.Period, t, prices)
	if err != nil {
		return "", "", errors.Wrapf(err, "%s(%d)", r.Indicator, r.Period)
	}
	if !compare(v, r.Operator, r.Threshold) {
		return "", "", nil
	}
	return r.Action, fmt.Sprintf("%s(%d)=%.4f %s %.4f", r.Indicator, r.Period, v, r.Operator, r.Threshold), nil
}

// evalConditions: по возрастанию Priority, при равенстве в исходном порядке; первое сработавшее решает.
func evalConditions(conds []models.Condition, t models.Ticker, prices []float64) (models.Action, string, error) {
	ordered := append([]models.Condition(nil), conds...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	for _, c := range ordered {
		v, err := indicatorValue(c.Indicator, c.Period, t, prices)
		if err != nil {
			return "", "", errors.Wrapf(err, "%s(%d)", c.Indicator, c.Period)
		}
		if compare(v, c.Operator, c.Value) {
			return c.Action, fmt.Sprintf("p%d: %s(%d)=%.4f %s %.4f", c.Priority, c.Indicator, c.Period, v, c.Operator, c.Value), nil
		}
	}
	return "", "", nil
}

func evalModel(m *models.ParamModel, t models.Ticker, prices []float64) (models.Action, string, error) {
	if m == nil {
		return "", "", errors.Wrap(ErrInactiveRule, "parameterized without model")
	}
	p, err := resolveParams(*m)
	if err != nil {
		return "", "", err
	}

	switch m.Model {
	case "ema_rsi":
		short, err := ema(prices, int(p["ema_short"]))
		if err != nil {
			return "", "", err
		}
		long, err := ema(prices, int(p["ema_long"]))
		if err != nil {
			return "", "", err
		}
		r, err := rsi(prices, int(p["rsi_period"]))
		if err != nil {
			return "", "", err
		}
		// откат в восходящем тренде / отскок в нисходящем
		if short > long && r < p["rsi_oversold"] {
			return models.ActionBuy, fmt.Sprintf("EMA_S=%.4f > EMA_L=%.4f, RSI=%.2f < %.0f", short, long, r, p["rsi_oversold"]), nil
		}
		if short < long && r > p["rsi_overbought"] {
			return models.ActionSell, fmt.Sprintf("EMA_S=%.4f < EMA_L=%.4f, RSI=%.2f > %.0f", short, long, r, p["rsi_overbought"]), nil
		}
		return "", "", nil

	case "donchian_breakout":
		dh, dl, err := donchian(prices, int(p["period"]))
		if err != nil {
			return "", "", err
		}
		last := prices[len(prices)-1]
		if last > 0 && (dh-dl)/last*100 < p["min_channel_pct"] {
			return "", "", nil
		}
		if last > dh {
			return models.ActionBuy, fmt.Sprintf("Donchian breakout UP: close=%.6f > dh=%.6f (dl=%.6f)", last, dh, dl), nil
		}
		if last < dl {
			return models.ActionSell, fmt.Sprintf("Donchian breakout DOWN: close=%.6f < dl=%.6f (dh=%.6f)", last, dl, dh), nil
		}
		return "", "", nil
	}
	return "", "", errors.Errorf("unknown model %q", m.Model)
}
