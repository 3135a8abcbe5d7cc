package runner

import (
	"context"
	"trade_engine/internal/models"
	events "trade_engine/internal/modules/events/service"
)

func (e *Engine) Strategies(ctx context.Context) []models.Strategy {
	return e.d.Strategies.List(ctx)
}

func (e *Engine) AddStrategy(ctx context.Context, s models.Strategy) (models.Strategy, error) {
	st, err := e.d.Strategies.Add(ctx, s)
	if err != nil {
		return models.Strategy{}, err
	}
	e.publishStrategy(models.EventStrategyAdded, st)
	return st, nil
}

func (e *Engine) UpdateStrategy(ctx context.Context, id string, patch models.StrategyPatch) (models.Strategy, error) {
	st, err := e.d.Strategies.Update(ctx, id, patch)
	if err != nil {
		return models.Strategy{}, err
	}
	e.publishStrategy(models.EventStrategyUpdated, st)
	return st, nil
}

func (e *Engine) RemoveStrategy(ctx context.Context, id string) error {
	st, err := e.d.Strategies.Get(id)
	if err != nil {
		return err
	}
	if err := e.d.Strategies.Remove(ctx, id); err != nil {
		return err
	}
	e.publishStrategy(models.EventStrategyRemoved, st)
	return nil
}

func (e *Engine) ToggleStrategy(ctx context.Context, id string) (models.Strategy, error) {
	st, err := e.d.Strategies.Toggle(ctx, id)
	if err != nil {
		return models.Strategy{}, err
	}
	e.publishStrategy(models.EventStrategyToggled, st)
	return st, nil
}

func (e *Engine) publishStrategy(t models.EventType, st models.Strategy) {
	e.d.Bus.Publish(models.Event{Type: t, Strategy: &st})
}

func (e *Engine) TradeHistory() []models.TradeResult {
	return e.d.History.List()
}

func (e *Engine) RiskParameters() models.RiskParameters {
	return e.d.Risk.Parameters()
}

func (e *Engine) SetRiskParameters(ctx context.Context, patch models.RiskPatch) (models.RiskParameters, error) {
	return e.d.Risk.SetParameters(ctx, patch)
}

// Subscribe — подписка на события движка; вызывающий обязан закрыть её.
func (e *Engine) Subscribe() *events.Subscription {
	return e.d.Bus.Subscribe()
}
