package service

import (
	"context"
	"sync"
	"time"
	"trade_engine/internal/models"
	events "trade_engine/internal/modules/events/service"
	"trade_engine/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const writeTimeout = 5 * time.Second

// MessageWriter — подмножество *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Subscriber interface {
	Subscribe() *events.Subscription
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
		Dialer: &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
		},
		Balancer:     &kafka.Hash{},
		BatchTimeout: 200 * time.Millisecond,
		RequiredAcks: int(kafka.RequireOne),
	})
}

// Publisher пишет исполненные сделки в топик, ключ — id стратегии.
type Publisher struct {
	w    MessageWriter
	sub  *events.Subscription
	done chan struct{}
	once sync.Once
}

func NewPublisher(w MessageWriter, src Subscriber) *Publisher {
	p := &Publisher{w: w, sub: src.Subscribe(), done: make(chan struct{})}
	go p.run()
	return p
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.sub.Events() {
		if ev.Type != models.EventTradeExecuted || ev.Trade == nil {
			continue
		}
		if err := p.write(*ev.Trade); err != nil {
			logger.Warn("[KAFKA] trade %s: %v", ev.Trade.ID, err)
		}
	}
}

func (p *Publisher) write(tr models.TradeResult) error {
	b, err := sonic.Marshal(tr)
	if err != nil {
		return errors.Wrap(err, "marshal trade")
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	msg := kafka.Message{Key: []byte(tr.StrategyID), Value: b, Time: tr.Timestamp}
	return errors.Wrap(p.w.WriteMessages(ctx, msg), "write")
}

// Close снимает подписку, дописывает хвост и закрывает writer.
func (p *Publisher) Close() error {
	var err error
	p.once.Do(func() {
		p.sub.Close()
		<-p.done
		err = p.w.Close()
	})
	return err
}
