package service

import (
	"context"
	"sync"
	"testing"
	"time"
	"trade_engine/internal/models"
	events "trade_engine/internal/modules/events/service"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   bool
	closed bool
}

func (m *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return assert.AnError
	}
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *memWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memWriter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

func Test_PublishesOnlyTrades(t *testing.T) {
	bus := events.NewBus(16)
	w := &memWriter{}
	p := NewPublisher(w, bus)

	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bus.Publish(models.Event{Type: models.EventStarted})
	bus.Publish(models.Event{Type: models.EventTradeExecuted, Trade: &models.TradeResult{
		ID: "t1", StrategyID: "s1", Status: models.TradeSuccess, Timestamp: ts,
	}})
	bus.Publish(models.NewErrorEvent(assert.AnError))

	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.Equal(t, 0, bus.Subscribers())

	msg := w.msgs[0]
	assert.Equal(t, "s1", string(msg.Key))
	assert.True(t, ts.Equal(msg.Time))
	var got models.TradeResult
	require.NoError(t, sonic.Unmarshal(msg.Value, &got))
	assert.Equal(t, "t1", got.ID)
}

func Test_WriteFailureDoesNotStopPublisher(t *testing.T) {
	bus := events.NewBus(16)
	w := &memWriter{fail: true}
	p := NewPublisher(w, bus)
	defer p.Close()

	trade := &models.TradeResult{ID: "t1", StrategyID: "s1"}
	bus.Publish(models.Event{Type: models.EventTradeExecuted, Trade: trade})
	time.Sleep(20 * time.Millisecond)

	w.mu.Lock()
	w.fail = false
	w.mu.Unlock()
	bus.Publish(models.Event{Type: models.EventTradeExecuted, Trade: trade})

	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, 5*time.Millisecond)
}
