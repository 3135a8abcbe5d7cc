package notify

import (
	"fmt"
	"sync"
	"trade_engine/internal/models"
	events "trade_engine/internal/modules/events/service"
)

type Subscriber interface {
	Subscribe() *events.Subscription
}

// Sink пересылает значимые события движка в Notifier.
type Sink struct {
	n    Notifier
	sub  *events.Subscription
	done chan struct{}
	once sync.Once
}

func NewSink(n Notifier, src Subscriber) *Sink {
	s := &Sink{n: n, sub: src.Subscribe(), done: make(chan struct{})}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.sub.Events() {
		if msg, ok := Format(ev); ok {
			s.n.Send(msg)
		}
	}
}

// Close снимает подписку и ждёт, пока уйдут уже полученные события.
func (s *Sink) Close() {
	s.once.Do(s.sub.Close)
	<-s.done
}

// Format — текст уведомления; ok=false для событий, о которых не пишем.
func Format(ev models.Event) (string, bool) {
	switch ev.Type {
	case models.EventStarted:
		return "▶️ Движок запущен", true
	case models.EventStopped:
		return "⏹ Движок остановлен", true
	case models.EventError:
		return "❗️ " + ev.Message, true
	case models.EventTradeExecuted:
		if ev.Trade == nil {
			return "", false
		}
		return FormatTrade(*ev.Trade), true
	}
	return "", false
}

func FormatTrade(tr models.TradeResult) string {
	sig := tr.Signal
	if tr.Status != models.TradeSuccess {
		return fmt.Sprintf("❌ %s %s %.8g @ %.2f: %s",
			sig.Action, sig.Book, sig.Amount, sig.Price, tr.ErrorMessage)
	}
	msg := fmt.Sprintf("✅ %s %s %.8g @ %.2f", sig.Action, sig.Book, sig.Amount, sig.Price)
	if tr.Order != nil {
		msg += " oid=" + tr.Order.OID
	}
	if tr.Profit != nil {
		msg += fmt.Sprintf(" pnl=%.2f", *tr.Profit)
	}
	return msg
}
