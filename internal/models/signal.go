package models

import "fmt"

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

func (a Action) Valid() bool { return a == ActionBuy || a == ActionSell }

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

func (t OrderType) Valid() bool { return t == OrderTypeMarket || t == OrderTypeLimit }

// Signal — предложение купить/продать от стратегии, ещё не проверенное риском.
type Signal struct {
	StrategyID string    `json:"strategy_id"`
	Action     Action    `json:"action"`
	Book       string    `json:"book"`
	OrderType  OrderType `json:"order_type"`
	Amount     float64   `json:"amount"`
	Price      float64   `json:"price,omitempty"`
	Reason     string    `json:"reason"`
}

// Notional — стоимость сигнала в котируемой валюте.
func (s Signal) Notional() float64 { return s.Amount * s.Price }

func (s Signal) Validate() error {
	if !s.Action.Valid() {
		return fmt.Errorf("signal: unknown action %q", s.Action)
	}
	if _, _, err := ParseBook(s.Book); err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	if s.Amount <= 0 {
		return fmt.Errorf("signal: amount must be > 0, got %v", s.Amount)
	}
	if s.OrderType == OrderTypeLimit && s.Price <= 0 {
		return fmt.Errorf("signal: limit order without price")
	}
	return nil
}

func (s Signal) String() string {
	return fmt.Sprintf("%s %s %.8f @ %.2f (%s)", s.Action, s.Book, s.Amount, s.Price, s.OrderType)
}
