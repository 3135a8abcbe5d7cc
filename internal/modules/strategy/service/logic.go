package service

import (
	"fmt"
	"sort"
	"trade_engine/internal/models"

	"github.com/pkg/errors"
)

// paramBounds — допустимый диапазон параметра встроенной модели.
type paramBounds struct {
	Min, Max, Default float64
}

// paramModels — все встроенные модели и границы их параметров.
var paramModels = map[string]map[string]paramBounds{
	"ema_rsi": {
		"ema_short":      {Min: 2, Max: 50, Default: 9},
		"ema_long":       {Min: 3, Max: 200, Default: 21},
		"rsi_period":     {Min: 2, Max: 50, Default: 14},
		"rsi_overbought": {Min: 50, Max: 100, Default: 70},
		"rsi_oversold":   {Min: 0, Max: 50, Default: 30},
	},
	"donchian_breakout": {
		"period":          {Min: 5, Max: 200, Default: 20},
		"min_channel_pct": {Min: 0, Max: 50, Default: 0},
	},
}

// ModelNames — имена моделей в стабильном порядке.
func ModelNames() []string {
	out := make([]string, 0, len(paramModels))
	for k := range paramModels {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// resolveParams проверяет параметры по границам модели и добивает пропуски дефолтами.
func resolveParams(m models.ParamModel) (map[string]float64, error) {
	bounds, ok := paramModels[m.Model]
	if !ok {
		return nil, errors.Errorf("unknown model %q", m.Model)
	}
	for name := range m.Params {
		if _, ok := bounds[name]; !ok {
			return nil, errors.Errorf("model %s: unknown param %q", m.Model, name)
		}
	}
	out := make(map[string]float64, len(bounds))
	for name, b := range bounds {
		v, ok := m.Params[name]
		if !ok {
			v = b.Default
		}
		if v < b.Min || v > b.Max {
			return nil, errors.Errorf("model %s: param %s=%v out of range [%v, %v]",
				m.Model, name, v, b.Min, b.Max)
		}
		out[name] = v
	}
	if m.Model == "ema_rsi" {
		if out["ema_short"] >= out["ema_long"] {
			return nil, errors.New("model ema_rsi: ema_short must be < ema_long")
		}
		if out["rsi_oversold"] >= out["rsi_overbought"] {
			return nil, errors.New("model ema_rsi: rsi_oversold must be < rsi_overbought")
		}
	}
	return out, nil
}

func validIndicator(ind models.Indicator) bool {
	switch ind {
	case models.IndicatorPrice, models.IndicatorRSI, models.IndicatorEMA, models.IndicatorSMA,
		models.IndicatorEMASpread, models.IndicatorMACD, models.IndicatorChangePct, models.IndicatorSpreadPct:
		return true
	}
	return false
}

func validOperator(op models.Operator) bool {
	switch op {
	case models.OpLess, models.OpLessEqual, models.OpGreater, models.OpGreaterEqual, models.OpEqual:
		return true
	}
	return false
}

func compare(v float64, op models.Operator, threshold float64) bool {
	switch op {
	case models.OpLess:
		return v < threshold
	case models.OpLessEqual:
		return v < threshold || almostEqual(v, threshold)
	case models.OpGreater:
		return v > threshold
	case models.OpGreaterEqual:
		return v > threshold || almostEqual(v, threshold)
	case models.OpEqual:
		return almostEqual(v, threshold)
	}
	return false
}

func validateTerm(ind models.Indicator, period int, op models.Operator, action models.Action) error {
	if !validIndicator(ind) {
		return errors.Errorf("unknown indicator %q", ind)
	}
	if period < 0 || period > 500 {
		return errors.Errorf("indicator %s: period %d out of range [0, 500]", ind, period)
	}
	if !validOperator(op) {
		return errors.Errorf("unknown operator %q", op)
	}
	if !action.Valid() {
		return errors.Errorf("unknown action %q", action)
	}
	return nil
}

// ValidateLogic проверяет вариант решающей логики целиком.
func ValidateLogic(l models.DecisionLogic) error {
	switch l.Kind {
	case models.LogicIndicatorRule:
		if l.Rule == nil {
			return errors.New("indicator_rule: rule is required")
		}
		r, ok := l.Rule.Resolve()
		if !ok {
			return errors.Errorf("indicator_rule: unknown preset %q", l.Rule.Preset)
		}
		return errors.Wrap(validateTerm(r.Indicator, r.Period, r.Operator, r.Action), "indicator_rule")
	case models.LogicRuleSet:
		if len(l.Conditions) == 0 {
			return errors.New("rule_set: at least one condition is required")
		}
		for i, c := range l.Conditions {
			if err := validateTerm(c.Indicator, c.Period, c.Operator, c.Action); err != nil {
				return errors.Wrapf(err, "rule_set: condition %d", i)
			}
		}
		return nil
	case models.LogicParameterized:
		if l.Model == nil {
			return errors.New("parameterized: model is required")
		}
		_, err := resolveParams(*l.Model)
		return errors.Wrap(err, "parameterized")
	default:
		return fmt.Errorf("unknown logic kind %q", l.Kind)
	}
}
