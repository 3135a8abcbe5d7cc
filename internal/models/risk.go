package models

// RiskParameters — лимиты, которые задаёт оператор. Все значения >= 0.
// Процентные лимиты и MaxOpenTrades со значением 0 выключают свою проверку.
type RiskParameters struct {
	MaxOrderSize       map[string]float64 `json:"max_order_size" yaml:"max_order_size" validate:"dive,gte=0"`
	MaxDailyVolume     map[string]float64 `json:"max_daily_volume" yaml:"max_daily_volume" validate:"dive,gte=0"`
	MaxDrawdownPct     float64            `json:"max_drawdown_pct" yaml:"max_drawdown_pct" validate:"gte=0,lte=100"`
	StopLossPct        float64            `json:"stop_loss_pct" yaml:"stop_loss_pct" validate:"gte=0,lte=100"`
	MaxOpenTrades      int                `json:"max_open_trades" yaml:"max_open_trades" validate:"gte=0"`
	MaxPositionSizePct float64            `json:"max_position_size_pct" yaml:"max_position_size_pct" validate:"gte=0,lte=100"`
	MaxDailyLossPct    float64            `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct" validate:"gte=0,lte=100"`
}

func (p RiskParameters) Clone() RiskParameters {
	out := p
	out.MaxOrderSize = cloneLimits(p.MaxOrderSize)
	out.MaxDailyVolume = cloneLimits(p.MaxDailyVolume)
	return out
}

func cloneLimits(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// RiskPatch — частичное обновление. Карты мержатся по ключам,
// отрицательное значение удаляет лимит валюты (сигналы по ней после этого отклоняются).
type RiskPatch struct {
	MaxOrderSize       map[string]float64 `json:"max_order_size,omitempty"`
	MaxDailyVolume     map[string]float64 `json:"max_daily_volume,omitempty"`
	MaxDrawdownPct     *float64           `json:"max_drawdown_pct,omitempty"`
	StopLossPct        *float64           `json:"stop_loss_pct,omitempty"`
	MaxOpenTrades      *int               `json:"max_open_trades,omitempty"`
	MaxPositionSizePct *float64           `json:"max_position_size_pct,omitempty"`
	MaxDailyLossPct    *float64           `json:"max_daily_loss_pct,omitempty"`
}

func (p RiskParameters) Apply(patch RiskPatch) RiskParameters {
	out := p.Clone()
	mergeLimits(out.MaxOrderSize, patch.MaxOrderSize)
	mergeLimits(out.MaxDailyVolume, patch.MaxDailyVolume)
	if patch.MaxDrawdownPct != nil {
		out.MaxDrawdownPct = *patch.MaxDrawdownPct
	}
	if patch.StopLossPct != nil {
		out.StopLossPct = *patch.StopLossPct
	}
	if patch.MaxOpenTrades != nil {
		out.MaxOpenTrades = *patch.MaxOpenTrades
	}
	if patch.MaxPositionSizePct != nil {
		out.MaxPositionSizePct = *patch.MaxPositionSizePct
	}
	if patch.MaxDailyLossPct != nil {
		out.MaxDailyLossPct = *patch.MaxDailyLossPct
	}
	return out
}

func mergeLimits(dst, patch map[string]float64) {
	for k, v := range patch {
		if v < 0 {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
}
