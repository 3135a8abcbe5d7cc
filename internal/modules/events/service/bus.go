package service

import (
	"sync"
	"sync/atomic"
	"time"
	"trade_engine/internal/models"
	"trade_engine/pkg/logger"
)

const defaultBuffer = 64

// Bus — pub/sub с ограниченным буфером на подписчика.
// Publish никогда не блокирует: переполненный подписчик теряет событие, потеря считается.
type Bus struct {
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

type Subscription struct {
	id      uint64
	ch      chan models.Event
	bus     *Bus
	dropped atomic.Uint64
	once    sync.Once
}

// Events закрывается после Close/Unsubscribe.
func (s *Subscription) Events() <-chan models.Event { return s.ch }

func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) Close() { s.bus.Unsubscribe(s) }

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{
		buffer: buffer,
		subs:   make(map[uint64]*Subscription),
	}
}

func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription{
		id:  b.nextID,
		ch:  make(chan models.Event, b.buffer),
		bus: b,
	}
	if b.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	b.subs[s.id] = s
	return s
}

func (b *Bus) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s.id]; !ok {
		return
	}
	delete(b.subs, s.id)
	s.once.Do(func() { close(s.ch) })
}

func (b *Bus) Publish(e models.Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			n := s.dropped.Add(1)
			logger.Warn("[EVENTS] subscriber %d is full, dropped %s (total dropped %d)", s.id, e.Type, n)
		}
	}
}

// Subscribers — сколько подписчиков сейчас слушает.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close закрывает все подписки; дальнейшие Publish игнорируются.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		s.once.Do(func() { close(s.ch) })
	}
}
