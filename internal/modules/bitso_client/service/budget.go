package service

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
	"trade_engine/internal/models"
	"trade_engine/pkg/logger"
)

// budget — локальный лимит вызовов в скользящем окне плюс то, что сообщает биржа.
// В любом окне длиной window уходит не больше limit-lowWater вызовов.
// Пишет только воркер очереди, мьютекс нужен для Budget() из health.
type budget struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	lowWater int
	sent     []time.Time // моменты отправки внутри последнего окна, по возрастанию

	// последние X-RateLimit-* от биржи; remote < 0 — неизвестно
	remote      int
	remoteReset time.Time
}

func newBudget(limit int, window time.Duration, lowWater int) *budget {
	if lowWater < 0 {
		lowWater = 0
	}
	if lowWater >= limit {
		lowWater = limit - 1
	}
	return &budget{
		limit:    limit,
		window:   window,
		lowWater: lowWater,
		remote:   -1,
	}
}

func (b *budget) prune(now time.Time) {
	cut := 0
	for cut < len(b.sent) && !b.sent[cut].After(now.Add(-b.window)) {
		cut++
	}
	if cut > 0 {
		b.sent = append(b.sent[:0], b.sent[cut:]...)
	}
	if b.remote >= 0 && !now.Before(b.remoteReset) {
		b.remote = -1
		b.remoteReset = time.Time{}
	}
}

// wait блокирует, пока не появится свободный вызов, и резервирует его.
func (b *budget) wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := time.Now()
		b.prune(now)

		var delay time.Duration
		switch {
		case b.remote >= 0 && b.remote <= b.lowWater:
			delay = b.remoteReset.Sub(now)
		case b.limit-len(b.sent) <= b.lowWater:
			delay = b.sent[0].Add(b.window).Sub(now)
		default:
			b.sent = append(b.sent, now)
			if b.remote > 0 {
				b.remote--
			}
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()

		logger.Warn("[BITSO] rate budget exhausted, waiting %s", delay)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// update применяет X-RateLimit-Remaining / X-RateLimit-Reset, если биржа их прислала.
func (b *budget) update(h http.Header) {
	rem := h.Get("X-RateLimit-Remaining")
	reset := h.Get("X-RateLimit-Reset")
	if rem == "" || reset == "" {
		return
	}
	n, err := strconv.Atoi(rem)
	if err != nil {
		return
	}
	sec, err := strconv.ParseInt(reset, 10, 64)
	if err != nil || sec <= 0 {
		return
	}
	if n < 0 {
		n = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.remote = n
	b.remoteReset = time.Unix(sec, 0)
}

func (b *budget) snapshot() models.RateBudget {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.prune(now)

	out := models.RateBudget{Remaining: b.limit - len(b.sent)}
	if len(b.sent) > 0 {
		out.ResetAt = b.sent[0].Add(b.window)
	}
	if b.remote >= 0 && b.remote < out.Remaining {
		out.Remaining = b.remote
		out.ResetAt = b.remoteReset
	}
	if out.Remaining < 0 {
		out.Remaining = 0
	}
	return out
}
