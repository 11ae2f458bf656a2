package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/Yiling-J/theine-go"
	"github.com/cespare/xxhash/v2"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "entitysync",
		Name:      "response_cache_hits_total",
		Help:      "The total number of requests answered from the response cache.",
	})

	cacheMissCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "entitysync",
		Name:      "response_cache_misses_total",
		Help:      "The total number of cacheable requests that had to be sent to a backend.",
	})
)

// ResponseCache is a plain key/value store of raw response bytes
type ResponseCache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

type InMemoryCache struct {
	cache *theine.Cache[string, []byte]
	ttl   time.Duration
}

var _ ResponseCache = (*InMemoryCache)(nil)

// NewInMemoryCache creates a size bounded cache. A zero ttl keeps entries
// until they are evicted.
func NewInMemoryCache(maxEntries int64, ttl time.Duration) (*InMemoryCache, error) {
	c, err := theine.NewBuilder[string, []byte](maxEntries).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build response cache: %w", err)
	}

	return &InMemoryCache{cache: c, ttl: ttl}, nil
}

func (c *InMemoryCache) Get(key string) ([]byte, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return clone(v), true
}

func (c *InMemoryCache) Set(key string, value []byte) {
	if c.ttl > 0 {
		c.cache.SetWithTTL(key, clone(value), 1, c.ttl)
		return
	}
	c.cache.Set(key, clone(value), 1)
}

func (c *InMemoryCache) Close() {
	c.cache.Close()
}

// NewCachedTransport consults cache before sending GET requests through next
// and stores successful responses. Other methods always go to next.
func NewCachedTransport(next Transport, cache ResponseCache) Transport {
	return &cachedTransport{
		next:  next,
		cache: cache,
	}
}

type cachedTransport struct {
	next  Transport
	cache ResponseCache
}

type cachedResponse struct {
	StatusCode int         `json:"status"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body"`
}

func (t *cachedTransport) Send(ctx context.Context, req Request) (*Response, error) {
	if req.Method != "" && req.Method != http.MethodGet {
		return t.next.Send(ctx, req)
	}

	key := CacheKey(req)

	if b, ok := t.cache.Get(key); ok {
		cr := cachedResponse{}
		if err := json.Unmarshal(b, &cr); err == nil {
			cacheHitCounter.Inc()
			return &Response{StatusCode: cr.StatusCode, Headers: cr.Headers, Body: cr.Body}, nil
		}

		logging.GetFromContext(ctx).Warn("ignoring unreadable cache entry", "url", req.FullURL())
	}

	cacheMissCounter.Inc()

	resp, err := t.next.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		b, err := json.Marshal(cachedResponse{
			StatusCode: resp.StatusCode,
			Headers:    resp.Headers,
			Body:       resp.Body,
		})
		if err == nil {
			t.cache.Set(key, b)
		}
	}

	return resp, nil
}

// CacheKey derives a stable key from everything that can change a response
func CacheKey(req Request) string {
	d := xxhash.New()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	d.WriteString(method)
	d.WriteString("\n")
	d.WriteString(req.FullURL())
	d.WriteString("\n")

	names := make([]string, 0, len(req.Headers))
	for name := range req.Headers {
		names = append(names, http.CanonicalHeaderKey(name))
	}
	sort.Strings(names)

	for _, name := range names {
		for _, v := range req.Headers.Values(name) {
			d.WriteString(name)
			d.WriteString(":")
			d.WriteString(v)
			d.WriteString("\n")
		}
	}

	d.Write(req.Body)

	return fmt.Sprintf("%016x", d.Sum64())
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
