// Package memory provides in-process fallbacks for the Redis-backed caches,
// used when Redis is disabled.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tradewatch/sentinel/internal/domain"
)

type pricePoint struct {
	price float64
	ts    time.Time
}

// PriceCache implements domain.PriceCache with a plain mutex-guarded map.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]pricePoint
}

// NewPriceCache creates an empty in-memory PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]pricePoint)}
}

// SetPrice stores the USD price for a token.
func (c *PriceCache) SetPrice(ctx context.Context, token string, price float64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[token] = pricePoint{price: price, ts: ts}
	return nil
}

// GetPrice returns the stored price for a token. A missing token is not an
// error; ok is false.
func (c *PriceCache) GetPrice(ctx context.Context, token string) (float64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[token]
	return p.price, ok, nil
}

// GetPrices returns prices for the given tokens, omitting unknown ones.
func (c *PriceCache) GetPrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		if p, ok := c.prices[t]; ok {
			out[t] = p.price
		}
	}
	return out, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
