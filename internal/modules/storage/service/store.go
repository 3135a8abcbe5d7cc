package service

import (
	"context"
	"errors"
)

// Ключи, под которыми движок хранит своё состояние.
const (
	KeyStrategies     = "strategies"
	KeyTradeHistory   = "trade_history"
	KeyCredentials    = "credentials"
	KeyRiskParameters = "risk_parameters"
)

var ErrNotFound = errors.New("storage: key not found")

// Store — порт персистентного key-value хранилища.
// Движок знает только этот контракт; реализация выбирается конфигом.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}
