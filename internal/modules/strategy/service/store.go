package service

import (
	"context"
	"strings"
	"sync"
	"time"
	"trade_engine/internal/models"
	storage "trade_engine/internal/modules/storage/service"
	"trade_engine/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrStrategyExists   = errors.New("strategy already exists")
	ErrStrategyNotFound = errors.New("strategy not found")
)

// Store — упорядоченный список стратегий. Каждая мутация целиком пишет список в хранилище,
// и только после успешной записи меняет состояние в памяти.
type Store struct {
	mu       sync.RWMutex
	kv       storage.Store
	items    []models.Strategy
	validate *validator.Validate
}

func NewStore(ctx context.Context, kv storage.Store) (*Store, error) {
	s := &Store{
		kv:       kv,
		validate: validator.New(),
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, storage.KeyStrategies)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "load strategies")
	}

	var items []models.Strategy
	if err := sonic.Unmarshal(raw, &items); err != nil {
		return errors.Wrap(err, "decode strategies")
	}
	for i := range items {
		// fail closed: не смогли понять логику — стратегия не торгует
		if err := ValidateLogic(items[i].Logic); err != nil && items[i].Active {
			logger.Warn("[STRAT] strategy %s (%s) disabled on load: %v", items[i].ID, items[i].Name, err)
			items[i].Active = false
		}
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	logger.Info("[STRAT] loaded %d strategies", len(items))
	return nil
}

// List — копия списка в порядке добавления.
func (s *Store) List(_ context.Context) []models.Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Strategy, len(s.items))
	for i, st := range s.items {
		out[i] = st.Clone()
	}
	return out
}

// Active — только включённые, в порядке списка.
func (s *Store) Active(ctx context.Context) []models.Strategy {
	all := s.List(ctx)
	out := all[:0]
	for _, st := range all {
		if st.Active {
			out = append(out, st)
		}
	}
	return out
}

func (s *Store) Get(id string) (models.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return models.Strategy{}, errors.Wrapf(ErrStrategyNotFound, "id %s", id)
	}
	return s.items[i].Clone(), nil
}

func (s *Store) Add(ctx context.Context, st models.Strategy) (models.Strategy, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	normalize(&st)
	if err := s.check(st); err != nil {
		return models.Strategy{}, err
	}

	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(st.ID) >= 0 {
		return models.Strategy{}, errors.Wrapf(ErrStrategyExists, "id %s", st.ID)
	}

	next := append(s.snapshot(), st.Clone())
	if err := s.persist(ctx, next); err != nil {
		return models.Strategy{}, err
	}
	s.items = next
	return st.Clone(), nil
}

func (s *Store) Update(ctx context.Context, id string, patch models.StrategyPatch) (models.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.Strategy{}, errors.Wrapf(ErrStrategyNotFound, "id %s", id)
	}
	st := s.items[i].Clone()
	if patch.Name != nil {
		st.Name = *patch.Name
	}
	if patch.Description != nil {
		st.Description = *patch.Description
	}
	if patch.Active != nil {
		st.Active = *patch.Active
	}
	if patch.Logic != nil {
		st.Logic = *patch.Logic
	}
	if patch.Config != nil {
		st.Config = *patch.Config
	}
	normalize(&st)
	if err := s.check(st); err != nil {
		return models.Strategy{}, err
	}
	st.UpdatedAt = time.Now().UTC()

	next := s.snapshot()
	next[i] = st.Clone()
	if err := s.persist(ctx, next); err != nil {
		return models.Strategy{}, err
	}
	s.items = next
	return st, nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return errors.Wrapf(ErrStrategyNotFound, "id %s", id)
	}
	cur := s.snapshot()
	next := append(cur[:i:i], cur[i+1:]...)
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.items = next
	return nil
}

// Toggle переключает Active. Включить стратегию с невалидной логикой нельзя.
func (s *Store) Toggle(ctx context.Context, id string) (models.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.Strategy{}, errors.Wrapf(ErrStrategyNotFound, "id %s", id)
	}
	st := s.items[i].Clone()
	st.Active = !st.Active
	if st.Active {
		if err := s.check(st); err != nil {
			return models.Strategy{}, err
		}
	}
	st.UpdatedAt = time.Now().UTC()

	next := s.snapshot()
	next[i] = st.Clone()
	if err := s.persist(ctx, next); err != nil {
		return models.Strategy{}, err
	}
	s.items = next
	return st, nil
}

func (s *Store) indexOf(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// snapshot — поверхностная копия среза под мьютексом; сами стратегии не меняются на месте.
func (s *Store) snapshot() []models.Strategy {
	return append([]models.Strategy(nil), s.items...)
}

func (s *Store) persist(ctx context.Context, items []models.Strategy) error {
	raw, err := sonic.Marshal(items)
	if err != nil {
		return errors.Wrap(err, "encode strategies")
	}
	if err := s.kv.Put(ctx, storage.KeyStrategies, raw); err != nil {
		return errors.Wrap(err, "save strategies")
	}
	return nil
}

func normalize(st *models.Strategy) {
	books := make([]string, len(st.Config.Books))
	for i, b := range st.Config.Books {
		books[i] = strings.ToLower(strings.TrimSpace(b))
	}
	st.Config.Books = books
	if st.Config.OrderType == "" {
		st.Config.OrderType = models.OrderTypeMarket
	}
}

func (s *Store) check(st models.Strategy) error {
	if err := s.validate.Struct(st); err != nil {
		return errors.Wrap(err, "invalid strategy")
	}
	for _, b := range st.Config.Books {
		if _, _, err := models.ParseBook(b); err != nil {
			return errors.Wrap(err, "invalid strategy")
		}
	}
	if err := ValidateLogic(st.Logic); err != nil {
		return errors.Wrap(err, "invalid strategy logic")
	}
	return nil
}
