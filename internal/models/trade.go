package models

import "time"

type TradeStatus string

const (
	TradeSuccess TradeStatus = "success"
	TradeError   TradeStatus = "error"
)

// OrderRequest — то, что уходит на биржу.
type OrderRequest struct {
	Book   string    `json:"book"`
	Side   Action    `json:"side"`
	Type   OrderType `json:"type"`
	Amount float64   `json:"amount"`
	Price  float64   `json:"price,omitempty"`
}

// PlacedOrder — ордер, принятый биржей.
type PlacedOrder struct {
	OID       string    `json:"oid"`
	Book      string    `json:"book"`
	Side      Action    `json:"side"`
	Type      OrderType `json:"type"`
	Amount    float64   `json:"amount"`
	Price     float64   `json:"price,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TradeResult неизменяем после создания.
type TradeResult struct {
	ID           string       `json:"id"`
	StrategyID   string       `json:"strategy_id"`
	Signal       Signal       `json:"signal"`
	Order        *PlacedOrder `json:"order,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
	Status       TradeStatus  `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Profit       *float64     `json:"profit,omitempty"`
}
