package service

import (
	"errors"
	"math"
)

var ErrInsufficientHistory = errors.New("insufficient price history")

const (
	defaultRSIPeriod    = 14
	defaultEMAPeriod    = 20
	defaultSMAPeriod    = 20
	defaultSpreadPeriod = 9
	defaultChangePeriod = 1

	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
)

type emaState struct {
	period int
	alpha  float64
	value  float64
	warmup int
}

func newEMA(period int) emaState {
	if period <= 1 {
		period = 1
	}
	return emaState{
		period: period,
		alpha:  2.0 / (float64(period) + 1),
	}
}

func (e *emaState) Update(price float64) {
	if e.warmup == 0 {
		e.value = price
		e.warmup = 1
		return
	}
	e.value = e.alpha*price + (1-e.alpha)*e.value
	if e.warmup < e.period {
		e.warmup++
	}
}

func (e *emaState) Ready() bool    { return e.warmup >= e.period }
func (e *emaState) Value() float64 { return e.value }

// ema — значение EMA на последней точке; нужно минимум period точек.
func ema(prices []float64, period int) (float64, error) {
	if period <= 0 || len(prices) < period {
		return 0, ErrInsufficientHistory
	}
	e := newEMA(period)
	for _, p := range prices {
		e.Update(p)
	}
	return e.Value(), nil
}

// emaSeries — EMA на каждой точке (для MACD).
func emaSeries(prices []float64, period int) []float64 {
	e := newEMA(period)
	out := make([]float64, len(prices))
	for i, p := range prices {
		e.Update(p)
		out[i] = e.Value()
	}
	return out
}

func sma(prices []float64, period int) (float64, error) {
	if period <= 0 || len(prices) < period {
		return 0, ErrInsufficientHistory
	}
	sum := 0.0
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period), nil
}

// rsi по Уайлдеру: первые period изменений усредняются, дальше сглаживание 1/period.
func rsi(prices []float64, period int) (float64, error) {
	if period <= 0 || len(prices) < period+1 {
		return 0, ErrInsufficientHistory
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		g, l := gainLoss(prices[i] - prices[i-1])
		avgGain += g
		avgLoss += l
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	alpha := 1.0 / float64(period)
	for i := period + 1; i < len(prices); i++ {
		g, l := gainLoss(prices[i] - prices[i-1])
		avgGain = (1-alpha)*avgGain + alpha*g
		avgLoss = (1-alpha)*avgLoss + alpha*l
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil
		}
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), nil
}

func gainLoss(change float64) (gain, loss float64) {
	if change > 0 {
		return change, 0
	}
	return 0, -change
}

// emaSpread — (EMA(n) - EMA(2n)) / EMA(2n), в процентах.
func emaSpread(prices []float64, period int) (float64, error) {
	short, err := ema(prices, period)
	if err != nil {
		return 0, err
	}
	long, err := ema(prices, period*2)
	if err != nil {
		return 0, err
	}
	if long == 0 {
		return 0, ErrInsufficientHistory
	}
	return (short - long) / long * 100, nil
}

// macdHistogram — MACD(12,26) минус сигнальная EMA(9) от MACD.
func macdHistogram(prices []float64) (float64, error) {
	if len(prices) < macdSlow+macdSignal-1 {
		return 0, ErrInsufficientHistory
	}
	fast := emaSeries(prices, macdFast)
	slow := emaSeries(prices, macdSlow)

	macd := make([]float64, 0, len(prices)-macdSlow+1)
	for i := macdSlow - 1; i < len(prices); i++ {
		macd = append(macd, fast[i]-slow[i])
	}
	signal, err := ema(macd, macdSignal)
	if err != nil {
		return 0, err
	}
	return macd[len(macd)-1] - signal, nil
}

// changePct — изменение последней цены относительно цены period точек назад, %.
func changePct(prices []float64, period int) (float64, error) {
	if period <= 0 || len(prices) < period+1 {
		return 0, ErrInsufficientHistory
	}
	base := prices[len(prices)-1-period]
	if base == 0 {
		return 0, ErrInsufficientHistory
	}
	return (prices[len(prices)-1] - base) / base * 100, nil
}

func spreadPct(bid, ask float64) (float64, error) {
	if bid <= 0 || ask <= 0 {
		return 0, errors.New("ticker has no bid/ask")
	}
	mid := (ask + bid) / 2
	return (ask - bid) / mid * 100, nil
}

// donchian — канал из period точек ДО последней.
func donchian(prices []float64, period int) (high, low float64, err error) {
	if period <= 0 || len(prices) < period+1 {
		return 0, 0, ErrInsufficientHistory
	}
	window := prices[len(prices)-1-period : len(prices)-1]
	return maxSlice(window), minSlice(window), nil
}

func maxSlice(xs []float64) float64 {
	m := xs[0]
	for _, v := range xs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minSlice(xs []float64) float64 {
	m := xs[0]
	for _, v := range xs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

const eps = 1e-9

func almostEqual(a, b float64) bool { return math.Abs(a-b) <= eps }
