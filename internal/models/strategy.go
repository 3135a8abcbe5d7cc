package models

import "time"

type LogicKind string

const (
	LogicIndicatorRule LogicKind = "indicator_rule"
	LogicRuleSet       LogicKind = "rule_set"
	LogicParameterized LogicKind = "parameterized"
)

func (k LogicKind) Known() bool {
	switch k {
	case LogicIndicatorRule, LogicRuleSet, LogicParameterized:
		return true
	}
	return false
}

type Indicator string

const (
	IndicatorPrice     Indicator = "price"
	IndicatorRSI       Indicator = "rsi"
	IndicatorEMA       Indicator = "ema"
	IndicatorSMA       Indicator = "sma"
	IndicatorEMASpread Indicator = "ema_spread"     // (EMA(period) - EMA(2*period)) / EMA(2*period) * 100
	IndicatorMACD      Indicator = "macd_histogram" // MACD(12,26) - signal(9)
	IndicatorChangePct Indicator = "change_pct"     // изменение за period точек, %
	IndicatorSpreadPct Indicator = "spread_pct"     // (ask-bid)/mid, %
)

type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
)

// IndicatorRule — одно правило "индикатор оператор порог -> действие".
// Если задан Preset, остальные поля берутся из Presets.
type IndicatorRule struct {
	Preset    string    `json:"preset,omitempty"`
	Indicator Indicator `json:"indicator,omitempty"`
	Period    int       `json:"period,omitempty"`
	Operator  Operator  `json:"operator,omitempty"`
	Threshold float64   `json:"threshold"`
	Action    Action    `json:"action,omitempty"`
}

// Condition — условие из набора правил; меньший Priority проверяется раньше.
type Condition struct {
	Indicator Indicator `json:"indicator"`
	Period    int       `json:"period,omitempty"`
	Operator  Operator  `json:"operator"`
	Value     float64   `json:"value"`
	Action    Action    `json:"action"`
	Priority  int       `json:"priority"`
}

// ParamModel — встроенная числовая модель с ограниченными параметрами.
type ParamModel struct {
	Model  string             `json:"model"`
	Params map[string]float64 `json:"params"`
}

// DecisionLogic — закрытый вариант: какое поле читать, решает Kind.
// Хранится как данные, а не как код.
type DecisionLogic struct {
	Kind       LogicKind      `json:"kind"`
	Rule       *IndicatorRule `json:"rule,omitempty"`
	Conditions []Condition    `json:"conditions,omitempty"`
	Model      *ParamModel    `json:"model,omitempty"`
}

type StrategyConfig struct {
	Books     []string  `json:"books" validate:"required,min=1,dive,required"`
	Amount    float64   `json:"amount" validate:"gt=0"`
	OrderType OrderType `json:"order_type" validate:"omitempty,oneof=market limit"`
}

type Strategy struct {
	ID          string         `json:"id"`
	Name        string         `json:"name" validate:"required,max=128"`
	Description string         `json:"description,omitempty"`
	Active      bool           `json:"active"`
	Logic       DecisionLogic  `json:"logic"`
	Config      StrategyConfig `json:"config"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Clone — глубокая копия, чтобы наружу не утекали ссылки на внутреннее состояние стора.
func (s Strategy) Clone() Strategy {
	out := s
	out.Config.Books = append([]string(nil), s.Config.Books...)
	if s.Logic.Rule != nil {
		r := *s.Logic.Rule
		out.Logic.Rule = &r
	}
	if s.Logic.Conditions != nil {
		out.Logic.Conditions = append([]Condition(nil), s.Logic.Conditions...)
	}
	if s.Logic.Model != nil {
		m := ParamModel{Model: s.Logic.Model.Model, Params: make(map[string]float64, len(s.Logic.Model.Params))}
		for k, v := range s.Logic.Model.Params {
			m.Params[k] = v
		}
		out.Logic.Model = &m
	}
	return out
}

// StrategyPatch — частичное обновление; nil значит "не трогать".
type StrategyPatch struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Active      *bool           `json:"active,omitempty"`
	Logic       *DecisionLogic  `json:"logic,omitempty"`
	Config      *StrategyConfig `json:"config,omitempty"`
}

type Preset struct {
	Name        string
	Description string
	Rule        IndicatorRule
}

var Presets = map[string]Preset{
	"rsi_oversold": {
		Name:        "RSI oversold",
		Description: "Покупка, когда RSI(14) ниже 30",
		Rule:        IndicatorRule{Indicator: IndicatorRSI, Period: 14, Operator: OpLess, Threshold: 30, Action: ActionBuy},
	},
	"rsi_overbought": {
		Name:        "RSI overbought",
		Description: "Продажа, когда RSI(14) выше 70",
		Rule:        IndicatorRule{Indicator: IndicatorRSI, Period: 14, Operator: OpGreater, Threshold: 70, Action: ActionSell},
	},
	"ema_crossover": {
		Name:        "EMA crossover",
		Description: "Покупка, когда EMA(9) выше EMA(18)",
		Rule:        IndicatorRule{Indicator: IndicatorEMASpread, Period: 9, Operator: OpGreater, Threshold: 0, Action: ActionBuy},
	},
	"macd_momentum": {
		Name:        "MACD momentum",
		Description: "Продажа, когда гистограмма MACD уходит в минус",
		Rule:        IndicatorRule{Indicator: IndicatorMACD, Operator: OpLess, Threshold: 0, Action: ActionSell},
	},
}

// Resolve подставляет пресет, если он указан.
func (r IndicatorRule) Resolve() (IndicatorRule, bool) {
	if r.Preset == "" {
		return r, true
	}
	p, ok := Presets[r.Preset]
	if !ok {
		return r, false
	}
	out := p.Rule
	out.Preset = r.Preset
	return out, true
}
