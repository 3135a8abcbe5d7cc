package models

import "time"

type Ticker struct {
	Book      string    `json:"book"`
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Volume    float64   `json:"volume"`
	VWAP      float64   `json:"vwap"`
	CreatedAt time.Time `json:"created_at"`
}

type PriceLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

type OrderBook struct {
	Book      string       `json:"book"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Sequence  string       `json:"sequence"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type Balance struct {
	Currency  string  `json:"currency"`
	Available float64 `json:"available"`
	Locked    float64 `json:"locked"`
	Total     float64 `json:"total"`
}

// Balances: валюта -> баланс.
type Balances map[string]Balance

// Available возвращает доступный остаток, 0 если валюты нет.
func (b Balances) Available(currency string) float64 {
	return b[currency].Available
}

type OpenOrder struct {
	OID            string    `json:"oid"`
	Book           string    `json:"book"`
	Side           Action    `json:"side"`
	Type           OrderType `json:"type"`
	Price          float64   `json:"price"`
	OriginalAmount float64   `json:"original_amount"`
	UnfilledAmount float64   `json:"unfilled_amount"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type PublicTrade struct {
	TID       int64     `json:"tid"`
	Book      string    `json:"book"`
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"`
	Side      Action    `json:"side"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot — неизменяемый срез рынка и аккаунта на один тик.
// Все стратегии тика видят один и тот же снапшот.
type Snapshot struct {
	Tickers    map[string]Ticker    `json:"tickers"`
	History    map[string][]float64 `json:"history"` // book -> цены от старых к новым
	Balances   Balances             `json:"balances"`
	OpenOrders []OpenOrder          `json:"open_orders"`
	Timestamp  time.Time            `json:"timestamp"`
}

func (s Snapshot) Ticker(book string) (Ticker, bool) {
	t, ok := s.Tickers[book]
	return t, ok
}

// Prices отдаёт историю цен книги. Срез общий, менять его нельзя.
func (s Snapshot) Prices(book string) []float64 {
	return s.History[book]
}

// RateBudget — локальный учёт лимита вызовов биржи.
type RateBudget struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}
