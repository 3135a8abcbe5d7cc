package service

import (
	"context"
	"sync"
	"time"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	"trade_engine/pkg/logger"

	"github.com/pkg/errors"
)

// Exchange — то, что сборщику нужно от транспорта.
type Exchange interface {
	Ticker(ctx context.Context, book string) (models.Ticker, error)
	Trades(ctx context.Context, book string, limit int) ([]models.PublicTrade, error)
	Balances(ctx context.Context) (models.Balances, error)
	OpenOrders(ctx context.Context, book string) ([]models.OpenOrder, error)
}

var ErrNoTickers = errors.New("no ticker could be fetched")

// Assembler собирает один неизменяемый снапшот на тик и держит скользящую историю цен.
type Assembler struct {
	ex           Exchange
	defaultBooks []string
	window       int
	seed         int

	mu      sync.Mutex
	history map[string][]float64
	seeded  map[string]bool
}

func NewAssembler(ex Exchange, cfg *config.Config) *Assembler {
	window := cfg.Engine.HistoryWindow
	if window <= 0 {
		window = 200
	}
	books := cfg.Engine.DefaultBooks
	if len(books) == 0 {
		books = []string{"btc_mxn", "eth_mxn"}
	}
	return &Assembler{
		ex:           ex,
		defaultBooks: append([]string(nil), books...),
		window:       window,
		seed:         cfg.Engine.HistorySeed,
		history:      make(map[string][]float64),
		seeded:       make(map[string]bool),
	}
}

// Books — объединение книг активных стратегий в порядке первого появления.
func (a *Assembler) Books(strategies []models.Strategy) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range strategies {
		if !s.Active {
			continue
		}
		for _, b := range s.Config.Books {
			if seen[b] {
				continue
			}
			seen[b] = true
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), a.defaultBooks...)
	}
	return out
}

// Assemble: тикер на книгу, один запрос балансов, один запрос открытых ордеров.
// Сбой тикера одной книги только убирает её из снапшота; сбой балансов или ордеров валит тик.
func (a *Assembler) Assemble(ctx context.Context, strategies []models.Strategy) (models.Snapshot, error) {
	books := a.Books(strategies)

	tickers := make(map[string]models.Ticker, len(books))
	for _, book := range books {
		t, err := a.ex.Ticker(ctx, book)
		if err != nil {
			if ctx.Err() != nil {
				return models.Snapshot{}, ctx.Err()
			}
			logger.Warn("[MARKET] ticker %s: %v", book, err)
			continue
		}
		tickers[book] = t
	}
	if len(tickers) == 0 {
		return models.Snapshot{}, errors.Wrapf(ErrNoTickers, "books %v", books)
	}

	balances, err := a.ex.Balances(ctx)
	if err != nil {
		return models.Snapshot{}, errors.Wrap(err, "balances")
	}
	orders, err := a.ex.OpenOrders(ctx, "")
	if err != nil {
		return models.Snapshot{}, errors.Wrap(err, "open orders")
	}

	history := make(map[string][]float64, len(tickers))
	for _, book := range books {
		t, ok := tickers[book]
		if !ok {
			continue
		}
		a.seedBook(ctx, book)
		history[book] = a.push(book, t.Last)
	}

	snap := models.Snapshot{
		Tickers:    tickers,
		History:    history,
		Balances:   make(models.Balances, len(balances)),
		OpenOrders: append([]models.OpenOrder(nil), orders...),
		Timestamp:  time.Now().UTC(),
	}
	for k, v := range balances {
		snap.Balances[k] = v
	}
	return snap, nil
}

// seedBook один раз прогревает историю публичными сделками. Неудача — попробуем на следующем тике.
func (a *Assembler) seedBook(ctx context.Context, book string) {
	a.mu.Lock()
	done := a.seeded[book]
	a.mu.Unlock()
	if done || a.seed <= 0 {
		return
	}

	trades, err := a.ex.Trades(ctx, book, a.seed)
	if err != nil {
		logger.Warn("[MARKET] seed history %s: %v", book, err)
		return
	}

	// биржа отдаёт от новых к старым
	prices := make([]float64, 0, len(trades))
	for i := len(trades) - 1; i >= 0; i-- {
		if trades[i].Price > 0 {
			prices = append(prices, trades[i].Price)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.history[book] = trim(append(prices, a.history[book]...), a.window)
	a.seeded[book] = true
	logger.Debug("[MARKET] seeded %s with %d prices", book, len(prices))
}

// push добавляет цену и отдаёт копию окна.
func (a *Assembler) push(book string, price float64) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := a.history[book]
	if price > 0 {
		h = trim(append(h, price), a.window)
		a.history[book] = h
	}
	return append([]float64(nil), h...)
}

func trim(h []float64, n int) []float64 {
	if len(h) <= n {
		return h
	}
	return append([]float64(nil), h[len(h)-n:]...)
}
