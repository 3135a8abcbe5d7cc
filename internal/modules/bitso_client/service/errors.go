package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrClosed         = errors.New("bitso: client closed")
	ErrNoCredentials  = errors.New("bitso: api credentials are empty")
	errEmptyResponse  = errors.New("bitso: empty response")
	errUnexpectedBody = errors.New("bitso: unexpected response body")
)

// AuthenticationError — ключи неверные/просрочены (401/403). Не ретраим.
type AuthenticationError struct {
	Status  int
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bitso auth: %v", e.Err)
	}
	return fmt.Sprintf("bitso auth: http %d: %s", e.Status, e.Message)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RateLimitError — биржа ответила 429.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("bitso rate limit: retry after %s: %s", e.RetryAfter, e.Message)
}

// NetworkError — временный сбой связи, таймаут или 502/503/504.
type NetworkError struct {
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("bitso network: http %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("bitso network: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError — биржа вернула success=false или неожиданный статус.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitso api error: http %d code=%s msg=%s", e.Status, e.Code, e.Message)
}

func retryable(err error) bool {
	var rl *RateLimitError
	var ne *NetworkError
	return errors.As(err, &rl) || errors.As(err, &ne)
}

// IsAuthError — удобная проверка для вызывающих.
func IsAuthError(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}
