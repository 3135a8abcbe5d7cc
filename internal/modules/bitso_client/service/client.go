package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
	"trade_engine/internal/models"
	"trade_engine/internal/modules/config"
	"trade_engine/pkg/logger"
	"trade_engine/pkg/tracing"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

const queueSize = 256

// Request — один вызов REST API. Path включает query string.
type Request struct {
	Method        string
	Path          string
	Body          any
	Authenticated bool
	Cacheable     bool
	TTL           time.Duration
}

type queued struct {
	ctx  context.Context
	req  Request
	body []byte
	done chan result
}

type result struct {
	payload []byte
	err     error
}

// Client — единственная точка сетевого ввода-вывода движка.
// Все запросы (публичные и приватные) идут через одну очередь и один воркер,
// поэтому учёт лимитов всегда последовательный.
type Client struct {
	cfg  config.Exchange
	http *http.Client

	credMu sync.RWMutex
	creds  models.Credentials

	nonceMu   sync.Mutex
	lastNonce int64

	budget *budget
	cache  *cache

	queue   chan *queued
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewClient(cfg config.Exchange) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RateLimitCalls <= 0 {
		cfg.RateLimitCalls = 60
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Second
	}

	ch, err := newCache()
	if err != nil {
		return nil, errors.Wrap(err, "bitso: cache")
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		creds:   models.Credentials{Key: cfg.APIKey, Secret: cfg.APISecret},
		budget:  newBudget(cfg.RateLimitCalls, cfg.RateWindow, cfg.LowWater),
		cache:   ch,
		queue:   make(chan *queued, queueSize),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go c.run()
	return c, nil
}

func (c *Client) SetCreds(creds models.Credentials) {
	c.credMu.Lock()
	c.creds = creds
	c.credMu.Unlock()
}

func (c *Client) HasCreds() bool {
	c.credMu.RLock()
	defer c.credMu.RUnlock()
	return !c.creds.Empty()
}

func (c *Client) credentials() models.Credentials {
	c.credMu.RLock()
	defer c.credMu.RUnlock()
	return c.creds
}

// Budget — копия текущего состояния лимита.
func (c *Client) Budget() models.RateBudget {
	return c.budget.snapshot()
}

// Close перестаёт принимать запросы, даёт очереди догрузиться и гасит воркер.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.quit)
		<-c.stopped
		c.cache.close()
	})
	<-c.stopped
}

// Call ставит запрос в очередь и ждёт результата. Возвращает payload из конверта.
func (c *Client) Call(ctx context.Context, req Request) ([]byte, error) {
	var body []byte
	if req.Body != nil {
		b, err := sonic.Marshal(req.Body)
		if err != nil {
			return nil, errors.Wrapf(err, "bitso: marshal %s %s", req.Method, req.Path)
		}
		body = b
	}

	cacheable := req.Cacheable && !req.Authenticated
	key := cacheKey(req.Method, req.Path)
	if cacheable {
		if payload, ok := c.cache.get(key); ok {
			return payload, nil
		}
	}

	if req.Authenticated && !c.HasCreds() {
		return nil, &AuthenticationError{Err: ErrNoCredentials}
	}

	q := &queued{ctx: ctx, req: req, body: body, done: make(chan result, 1)}
	select {
	case <-c.quit:
		return nil, ErrClosed
	default:
	}
	select {
	case c.queue <- q:
	case <-c.quit:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-q.done:
		if r.err == nil && cacheable {
			ttl := req.TTL
			if ttl <= 0 {
				ttl = c.cfg.CacheTTL
			}
			c.cache.set(key, r.payload, ttl)
		}
		return r.payload, r.err
	case <-c.stopped:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) run() {
	defer close(c.stopped)
	for {
		select {
		case q := <-c.queue:
			c.process(q)
		case <-c.quit:
			// догружаем то, что уже стоит в очереди
			for {
				select {
				case q := <-c.queue:
					c.process(q)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) process(q *queued) {
	if err := q.ctx.Err(); err != nil {
		q.done <- result{err: err}
		return
	}
	payload, err := c.execute(q)
	q.done <- result{payload: payload, err: err}

	if c.cfg.RequestPause > 0 {
		time.Sleep(c.cfg.RequestPause)
	}
}

// execute — попытки с ретраями 429/сети, ограниченные MaxRetryTime.
func (c *Client) execute(q *queued) ([]byte, error) {
	span, ctx := tracing.StartSpan(q.ctx, "bitso.call")
	defer span.Finish()
	span.SetTag("http.method", q.req.Method)
	span.SetTag("http.path", q.req.Path)

	if c.cfg.MaxRetryTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.MaxRetryTime)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBackoff << (attempt - 1)
			var rl *RateLimitError
			if errors.As(lastErr, &rl) && rl.RetryAfter > delay {
				delay = rl.RetryAfter
			}
			logger.Warn("[BITSO] %s %s attempt %d failed: %v; retry in %s",
				q.req.Method, q.req.Path, attempt, lastErr, delay)
			if err := sleep(ctx, delay); err != nil {
				break
			}
		}

		payload, err := c.do(ctx, q)
		if err == nil {
			return payload, nil
		}
		if !retryable(err) {
			tracing.Fail(span, err)
			return nil, err
		}
		lastErr = err
	}

	tracing.Fail(span, lastErr)
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, q *queued) ([]byte, error) {
	if err := c.budget.wait(ctx); err != nil {
		return nil, &NetworkError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, q.req.Method, c.cfg.BaseURL+q.req.Path, bytes.NewReader(q.body))
	if err != nil {
		return nil, errors.Wrap(err, "bitso: new request")
	}
	if len(q.body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.req.Authenticated {
		creds := c.credentials()
		if creds.Empty() {
			return nil, &AuthenticationError{Err: ErrNoCredentials}
		}
		// новый nonce на каждую попытку: повторять старый нельзя
		nonce := c.nextNonce()
		req.Header.Set("Authorization", authorization(creds, nonce, q.req.Method, q.req.Path, q.body))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Status: resp.StatusCode, Err: err}
	}
	c.budget.update(resp.Header)

	return decodeResponse(resp, rb)
}

type envelope struct {
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeResponse(resp *http.Response, rb []byte) ([]byte, error) {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &AuthenticationError{Status: resp.StatusCode, Message: string(rb)}
	case http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: retryAfter(resp.Header), Message: string(rb)}
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, &NetworkError{Status: resp.StatusCode, Err: errors.New(string(rb))}
	}

	if len(rb) == 0 {
		return nil, &APIError{Status: resp.StatusCode, Message: errEmptyResponse.Error()}
	}

	var env envelope
	if err := sonic.Unmarshal(rb, &env); err != nil {
		if resp.StatusCode/100 != 2 {
			return nil, &APIError{Status: resp.StatusCode, Message: string(rb)}
		}
		return nil, errors.Wrap(errUnexpectedBody, err.Error())
	}
	if !env.Success || resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}
	return env.Payload, nil
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
