package service

import (
	"context"
	"sync"
	"time"
	"trade_engine/internal/models"
	storage "trade_engine/internal/modules/storage/service"
	"trade_engine/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// History — журнал сделок только на добавление. Писатель один (движок), читателей много.
type History struct {
	kv storage.Store

	mu    sync.RWMutex
	items []models.TradeResult
}

func NewHistory(ctx context.Context, kv storage.Store) (*History, error) {
	h := &History{kv: kv}

	raw, err := kv.Get(ctx, storage.KeyTradeHistory)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return h, nil
	case err != nil:
		return nil, errors.Wrap(err, "load trade history")
	}
	if err := sonic.Unmarshal(raw, &h.items); err != nil {
		return nil, errors.Wrap(err, "decode trade history")
	}
	logger.Info("[HISTORY] loaded %d trades", len(h.items))
	return h, nil
}

// Append добавляет результат. Время, меньшее последнего, подтягивается до последнего,
// чтобы журнал оставался упорядоченным. Запись в память происходит даже при ошибке хранилища.
func (h *History) Append(ctx context.Context, r models.TradeResult) (models.TradeResult, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	if n := len(h.items); n > 0 {
		if last := h.items[n-1].Timestamp; r.Timestamp.Before(last) {
			r.Timestamp = last
		}
	}
	h.items = append(h.items, r)
	raw, err := sonic.Marshal(h.items)
	h.mu.Unlock()

	if err != nil {
		return r, errors.Wrap(err, "encode trade history")
	}
	if err := h.kv.Put(ctx, storage.KeyTradeHistory, raw); err != nil {
		return r, errors.Wrap(err, "save trade history")
	}
	return r, nil
}

// List — копия журнала от старых к новым.
func (h *History) List() []models.TradeResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]models.TradeResult(nil), h.items...)
}

// Since — сделки с Timestamp >= t.
func (h *History) Since(t time.Time) []models.TradeResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// журнал упорядочен, ищем первую подходящую с конца
	i := len(h.items)
	for i > 0 && !h.items[i-1].Timestamp.Before(t) {
		i--
	}
	return append([]models.TradeResult(nil), h.items[i:]...)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}
