package service

import (
	"testing"
	"time"
	"trade_engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_PublishFanOut(t *testing.T) {
	bus := NewBus(4)
	a := bus.Subscribe()
	b := bus.Subscribe()
	assert.Equal(t, 2, bus.Subscribers())

	bus.Publish(models.Event{Type: models.EventStarted})

	for _, s := range []*Subscription{a, b} {
		select {
		case e := <-s.Events():
			assert.Equal(t, models.EventStarted, e.Type)
			assert.False(t, e.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func Test_FullSubscriberDropsWithoutBlocking(t *testing.T) {
	bus := NewBus(2)
	slow := bus.Subscribe()
	fast := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			bus.Publish(models.Event{Type: models.EventTradeExecuted})
			<-fast.Events()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.EqualValues(t, 3, slow.Dropped())
	assert.Zero(t, fast.Dropped())
}

func Test_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(1)
	s := bus.Subscribe()
	s.Close()
	s.Close()

	_, ok := <-s.Events()
	assert.False(t, ok)
	assert.Zero(t, bus.Subscribers())

	bus.Publish(models.Event{Type: models.EventStopped})
}

func Test_CloseBus(t *testing.T) {
	bus := NewBus(1)
	s := bus.Subscribe()
	bus.Close()
	bus.Close()

	_, ok := <-s.Events()
	require.False(t, ok)

	late := bus.Subscribe()
	_, ok = <-late.Events()
	assert.False(t, ok)
	late.Close()
}
