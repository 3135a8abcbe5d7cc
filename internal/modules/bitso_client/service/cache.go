package service

import (
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
)

// cache — TTL-кеш публичных идемпотентных чтений. Инвалидируется только по TTL.
type cache struct {
	c *ristretto.Cache
}

func newCache() (*cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        1e4,
		MaxCost:            32 << 20,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &cache{c: c}, nil
}

func cacheKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

func (c *cache) get(key string) ([]byte, bool) {
	v, ok := c.c.Get(key)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

func (c *cache) set(key string, payload []byte, ttl time.Duration) {
	cost := int64(len(payload))
	if cost == 0 {
		cost = 1
	}
	c.c.SetWithTTL(key, append([]byte(nil), payload...), cost, ttl)
	c.c.Wait()
}

func (c *cache) close() { c.c.Close() }
