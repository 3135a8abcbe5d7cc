package service

import (
	"testing"
	"trade_engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotFor(book string, last float64, history []float64) models.Snapshot {
	return models.Snapshot{
		Tickers: map[string]models.Ticker{
			book: {Book: book, Last: last, Bid: last * 0.99, Ask: last * 1.01},
		},
		History: map[string][]float64{book: history},
	}
}

func ruleStrategy(rule models.IndicatorRule, books ...string) models.Strategy {
	return models.Strategy{
		ID:     "s1",
		Name:   "rule",
		Active: true,
		Logic:  models.DecisionLogic{Kind: models.LogicIndicatorRule, Rule: &rule},
		Config: models.StrategyConfig{Books: books, Amount: 0.001, OrderType: models.OrderTypeMarket},
	}
}

func Test_PriceRuleProducesSignal(t *testing.T) {
	st := ruleStrategy(models.IndicatorRule{
		Indicator: models.IndicatorPrice, Operator: models.OpLess, Threshold: 1000, Action: models.ActionBuy,
	}, "btc_mxn")

	sig, err := EvaluateBook(st, "btc_mxn", snapshotFor("btc_mxn", 900, nil))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, models.ActionBuy, sig.Action)
	assert.Equal(t, "btc_mxn", sig.Book)
	assert.InDelta(t, 900, sig.Price, 1e-9)
	assert.InDelta(t, 0.001, sig.Amount, 1e-12)
	assert.Equal(t, "s1", sig.StrategyID)

	sig, err = EvaluateBook(st, "btc_mxn", snapshotFor("btc_mxn", 1100, nil))
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func Test_PresetRSIOversold(t *testing.T) {
	st := ruleStrategy(models.IndicatorRule{Preset: "rsi_oversold"}, "eth_mxn")
	hist := ramp(30, 200, -1)

	sig, err := EvaluateBook(st, "eth_mxn", snapshotFor("eth_mxn", hist[len(hist)-1], hist))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, models.ActionBuy, sig.Action)
}

func Test_EvaluateIsolatesErrors(t *testing.T) {
	st := ruleStrategy(models.IndicatorRule{
		Indicator: models.IndicatorRSI, Period: 14, Operator: models.OpLess, Threshold: 101, Action: models.ActionBuy,
	}, "btc_mxn", "eth_mxn", "xrp_mxn")

	snap := models.Snapshot{
		Tickers: map[string]models.Ticker{
			"btc_mxn": {Last: 10},
			"eth_mxn": {Last: 10},
		},
		History: map[string][]float64{
			"btc_mxn": ramp(30, 10, 0.1),
			"eth_mxn": {10, 11},
		},
	}
	signals, errs := Evaluate(st, snap)
	require.Len(t, signals, 1)
	assert.Equal(t, "btc_mxn", signals[0].Book)
	require.Len(t, errs, 2)

	var evalErr *EvaluationError
	require.ErrorAs(t, errs[0], &evalErr)
	assert.Equal(t, "eth_mxn", evalErr.Book)
	assert.ErrorIs(t, errs[0], ErrInsufficientHistory)
	assert.ErrorIs(t, errs[1], ErrNoTicker)
}

func Test_RuleSetPriority(t *testing.T) {
	st := models.Strategy{
		ID: "rs",
		Logic: models.DecisionLogic{
			Kind: models.LogicRuleSet,
			Conditions: []models.Condition{
				{Indicator: models.IndicatorPrice, Operator: models.OpGreater, Value: 0, Action: models.ActionBuy, Priority: 5},
				{Indicator: models.IndicatorPrice, Operator: models.OpGreater, Value: 0, Action: models.ActionSell, Priority: 1},
				{Indicator: models.IndicatorPrice, Operator: models.OpLess, Value: 0, Action: models.ActionBuy, Priority: 0},
			},
		},
		Config: models.StrategyConfig{Books: []string{"btc_mxn"}, Amount: 1},
	}
	sig, err := EvaluateBook(st, "btc_mxn", snapshotFor("btc_mxn", 50, nil))
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, models.ActionSell, sig.Action)
	assert.Equal(t, models.OrderTypeMarket, sig.OrderType)
}

func Test_EvaluationIsDeterministic(t *testing.T) {
	st := models.Strategy{
		ID: "p",
		Logic: models.DecisionLogic{
			Kind:  models.LogicParameterized,
			Model: &models.ParamModel{Model: "donchian_breakout", Params: map[string]float64{"period": 10}},
		},
		Config: models.StrategyConfig{Books: []string{"btc_mxn"}, Amount: 1},
	}
	hist := append(ramp(20, 100, 0), 120)
	snap := snapshotFor("btc_mxn", 120, hist)

	first, err := EvaluateBook(st, "btc_mxn", snap)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, models.ActionBuy, first.Action)
	for i := 0; i < 5; i++ {
		again, err := EvaluateBook(st, "btc_mxn", snap)
		require.NoError(t, err)
		assert.Equal(t, *first, *again)
	}
}

func Test_ParamBounds(t *testing.T) {
	err := ValidateLogic(models.DecisionLogic{
		Kind:  models.LogicParameterized,
		Model: &models.ParamModel{Model: "ema_rsi", Params: map[string]float64{"rsi_period": 500}},
	})
	assert.Error(t, err)

	err = ValidateLogic(models.DecisionLogic{
		Kind:  models.LogicParameterized,
		Model: &models.ParamModel{Model: "ema_rsi", Params: map[string]float64{"bogus": 1}},
	})
	assert.Error(t, err)

	err = ValidateLogic(models.DecisionLogic{
		Kind:  models.LogicParameterized,
		Model: &models.ParamModel{Model: "ema_rsi"},
	})
	assert.NoError(t, err)

	assert.Error(t, ValidateLogic(models.DecisionLogic{Kind: "script"}))
}
