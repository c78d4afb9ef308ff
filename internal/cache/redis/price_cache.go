package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tradewatch/sentinel/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each token's
// USD price is stored at key "price:{token}" with fields "price" and "ts"
// (Unix nanosecond timestamp of the last update).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(token string) string {
	return "price:" + token
}

// SetPrice stores the latest USD price and timestamp for a token.
func (pc *PriceCache) SetPrice(ctx context.Context, token string, price float64, ts time.Time) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(token), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", token, err)
	}
	return nil
}

// GetPrice retrieves the latest USD price for a token. A token with no
// stored price returns ok=false and no error.
func (pc *PriceCache) GetPrice(ctx context.Context, token string) (float64, bool, error) {
	priceStr, err := pc.rdb.HGet(ctx, priceKey(token), "price").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("redis: get price %s: %w", token, err)
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis: parse price %s: %w", token, err)
	}
	return price, true, nil
}

// GetPrices retrieves prices for multiple tokens using a pipeline. Tokens
// with no stored price are omitted from the result map.
func (pc *PriceCache) GetPrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	if len(tokens) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(tokens))
	for _, token := range tokens {
		cmds[token] = pipe.HGet(ctx, priceKey(token), "price")
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]float64, len(tokens))
	for token, cmd := range cmds {
		priceStr, err := cmd.Result()
		if err != nil {
			continue
		}
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			continue
		}
		result[token] = price
	}

	return result, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
