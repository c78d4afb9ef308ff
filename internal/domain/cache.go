package domain

import (
	"context"
	"time"
)

// PriceSource supplies the current USD price per token. A missing price is
// valid, not an error: ok is false and the caller treats the token's exposure
// as unknown.
type PriceSource interface {
	GetPrice(ctx context.Context, token string) (price float64, ok bool, err error)
	GetPrices(ctx context.Context, tokens []string) (map[string]float64, error)
}

// PriceCache is a writable PriceSource, fed by upstream market data.
type PriceCache interface {
	PriceSource
	SetPrice(ctx context.Context, token string, price float64, ts time.Time) error
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides best-effort pub/sub fan-out of change events and durable
// ordered streams for trade-event ingest. Pub/sub delivery is at-most-once:
// a subscriber that cannot keep up may miss intermediate events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter limits request rates per key, shared across instances.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under the given
	// limit per window, counting the request when it is.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides coarse mutual exclusion across instances, used to
// keep background jobs single-flight. Acquire returns ErrLockHeld when the
// lock is taken elsewhere.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
