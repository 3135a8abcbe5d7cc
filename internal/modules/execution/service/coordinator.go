package service

import (
	"context"
	"sync"
	"time"
	"trade_engine/internal/models"
	"trade_engine/pkg/logger"
	"trade_engine/pkg/tracing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Orders interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) (models.PlacedOrder, error)
}

type ResultRecorder interface {
	RecordResult(r models.TradeResult)
}

type Publisher interface {
	Publish(e models.Event)
}

// position — средняя цена по книге из успешных покупок.
type position struct {
	qty  decimal.Decimal
	cost decimal.Decimal
}

// Coordinator отправляет один ордер на сигнал и фиксирует результат.
type Coordinator struct {
	orders  Orders
	history *History
	risk    ResultRecorder
	pub     Publisher

	mu        sync.Mutex
	positions map[string]*position
}

func NewCoordinator(orders Orders, history *History, risk ResultRecorder, pub Publisher) *Coordinator {
	c := &Coordinator{
		orders:    orders,
		history:   history,
		risk:      risk,
		pub:       pub,
		positions: make(map[string]*position),
	}
	// позиции восстанавливаем из журнала
	for _, r := range history.List() {
		if r.Status == models.TradeSuccess {
			c.applyFill(r.Signal)
		}
	}
	return c
}

// Execute не ретраит: транспорт уже отработал временные сбои.
func (c *Coordinator) Execute(ctx context.Context, st models.Strategy, sig models.Signal) models.TradeResult {
	span, ctx := tracing.StartSpan(ctx, "execution.place_order")
	defer span.Finish()
	span.SetTag("strategy", st.ID)
	span.SetTag("book", sig.Book)
	span.SetTag("side", string(sig.Action))

	res := models.TradeResult{
		ID:         uuid.NewString(),
		StrategyID: st.ID,
		Signal:     sig,
	}

	order, err := c.orders.PlaceOrder(ctx, models.OrderRequest{
		Book:   sig.Book,
		Side:   sig.Action,
		Type:   sig.OrderType,
		Amount: sig.Amount,
		Price:  sig.Price,
	})
	res.Timestamp = time.Now().UTC()
	if err != nil {
		tracing.Fail(span, err)
		res.Status = models.TradeError
		res.ErrorMessage = err.Error()
		logger.Error("[EXEC] %s: %s failed: %v", st.Name, sig, err)
	} else {
		res.Status = models.TradeSuccess
		res.Order = &order
		res.Profit = c.applyFill(sig)
		logger.Info("[EXEC] %s: %s placed oid=%s", st.Name, sig, order.OID)
	}

	stored, err := c.history.Append(ctx, res)
	if err != nil {
		logger.Error("[EXEC] history append %s: %v", res.ID, err)
	}
	res = stored

	if c.risk != nil {
		c.risk.RecordResult(res)
	}
	if c.pub != nil {
		r := res
		c.pub.Publish(models.Event{Type: models.EventTradeExecuted, Trade: &r, At: res.Timestamp})
	}
	return res
}

// applyFill обновляет позицию и на продаже возвращает реализованную прибыль по средней цене.
func (c *Coordinator) applyFill(sig models.Signal) *float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.positions[sig.Book]
	if p == nil {
		p = &position{}
		c.positions[sig.Book] = p
	}
	amount := decimal.NewFromFloat(sig.Amount)
	price := decimal.NewFromFloat(sig.Price)

	switch sig.Action {
	case models.ActionBuy:
		p.qty = p.qty.Add(amount)
		p.cost = p.cost.Add(amount.Mul(price))
		return nil
	case models.ActionSell:
		if !p.qty.IsPositive() {
			return nil
		}
		matched := decimal.Min(amount, p.qty)
		avg := p.cost.Div(p.qty)
		profit := price.Sub(avg).Mul(matched)
		p.qty = p.qty.Sub(matched)
		p.cost = p.cost.Sub(avg.Mul(matched))
		if !p.qty.IsPositive() {
			p.qty, p.cost = decimal.Zero, decimal.Zero
		}
		f := profit.InexactFloat64()
		return &f
	}
	return nil
}

// Position — открытый объём и средняя цена по книге.
func (c *Coordinator) Position(book string) (qty, avg float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.positions[book]
	if p == nil || !p.qty.IsPositive() {
		return 0, 0
	}
	return p.qty.InexactFloat64(), p.cost.Div(p.qty).InexactFloat64()
}
