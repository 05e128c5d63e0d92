// Package currency caches the USD→RUB exchange rate used for cost
// accounting. A failed refresh falls back to the configured static rate and
// the fallback is cached for a full TTL window, so a broken rate API never
// causes a fetch per request.
package currency

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/Qwalex/ai-chat/internal/config"
)

type Cache struct {
	apiURL     string
	fallback   float64
	ttl        time.Duration
	httpClient *http.Client
	now        func() time.Time

	mu        sync.Mutex
	value     float64
	hasValue  bool
	expiresAt time.Time
}

func NewCache(cfg config.Config, httpClient *http.Client) *Cache {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Cache{
		apiURL:     cfg.UsdRateAPIURL,
		fallback:   cfg.UsdToRubFallbackRate,
		ttl:        cfg.UsdRateCacheTTL,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Rate returns the cached rate when still valid, otherwise refreshes it.
// It never fails: any fetch or parse problem yields the fallback rate, and
// the fallback is cached with the same expiry as a real value.
func (c *Cache) Rate(ctx context.Context) float64 {
	c.mu.Lock()
	if c.hasValue && c.now().Before(c.expiresAt) {
		value := c.value
		c.mu.Unlock()
		return value
	}
	c.mu.Unlock()

	// The fetch runs unlocked: a duplicate concurrent refresh is benign,
	// last writer wins.
	rate, ok := c.fetch(ctx)
	if !ok {
		rate = c.fallback
	}

	c.mu.Lock()
	c.value = rate
	c.hasValue = true
	c.expiresAt = c.now().Add(c.ttl)
	c.mu.Unlock()

	return rate
}

func (c *Cache) fetch(ctx context.Context) (float64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return 0, false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, false
	}

	var parsed struct {
		Rates struct {
			RUB *float64 `json:"RUB"`
		} `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, false
	}
	if parsed.Rates.RUB == nil {
		return 0, false
	}

	rate := *parsed.Rates.RUB
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return 0, false
	}
	return rate, true
}
