// Package service implements the core engines of the risk monitor: the
// position ledger, the exposure snapshot engine, threshold configuration, the
// alert lifecycle manager, the escalation engine, and the notification retry
// loop. Services hold authoritative in-memory state and treat stores as
// write-behind history.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tradewatch/sentinel/internal/domain"
	"github.com/tradewatch/sentinel/internal/metrics"
)

// LedgerConfig holds the tunable parameters for the position ledger.
type LedgerConfig struct {
	// MaxExposureUSD is the per-user exposure ceiling checked by
	// CheckExposureLimits.
	MaxExposureUSD float64
	// InactivityTimeout is how long an entry may go without updates before
	// CleanupOldPositions removes it.
	InactivityTimeout time.Duration
}

// ledgerEntry is one user's balances. The entry mutex linearizes all
// operations for that user; operations on different users only share the
// ledger's outer map lock, which is never held across price lookups.
type ledgerEntry struct {
	mu        sync.Mutex
	balances  map[string]domain.TokenBalance
	totalPnL  float64
	updatedAt time.Time
	// removed is set by cleanup under mu; writers that raced the removal
	// re-enter the map instead of mutating an orphan.
	removed bool
}

// PositionLedger is a concurrent per-user store of token balances. Updates to
// different users never contend; updates to the same user are linearized in
// arrival order. The event source is responsible for per-user ordering.
type PositionLedger struct {
	mu      sync.RWMutex
	entries map[string]*ledgerEntry

	prices domain.PriceSource
	cfg    LedgerConfig
	logger *slog.Logger
}

// NewPositionLedger creates a PositionLedger reading prices from the given
// source.
func NewPositionLedger(prices domain.PriceSource, cfg LedgerConfig, logger *slog.Logger) *PositionLedger {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 24 * time.Hour
	}
	return &PositionLedger{
		entries: make(map[string]*ledgerEntry),
		prices:  prices,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ledger")),
	}
}

// entryFor returns the live entry for userID, creating it when create is set.
func (l *PositionLedger) entryFor(userID string, create bool) *ledgerEntry {
	l.mu.RLock()
	e := l.entries[userID]
	l.mu.RUnlock()
	if e != nil || !create {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e = l.entries[userID]; e == nil {
		e = &ledgerEntry{balances: make(map[string]domain.TokenBalance)}
		l.entries[userID] = e
	}
	return e
}

// ProcessTradeEvent applies a trade event to the owning user's entry as a
// single atomic read-modify-write: token_in is debited by amount_in, token_out
// credited by amount_out, balances netting to exactly zero are pruned, and the
// aggregate PnL is recomputed from current prices. Tokens without a known
// price contribute zero to PnL, which can understate true risk.
func (l *PositionLedger) ProcessTradeEvent(ctx context.Context, ev domain.TradeEvent) error {
	if ev.UserID == "" {
		return fmt.Errorf("ledger: process trade event: %w: empty user id", domain.ErrValidation)
	}

	for {
		e := l.entryFor(ev.UserID, true)
		e.mu.Lock()
		if e.removed {
			// Cleanup won the race; the entry is no longer in the map.
			e.mu.Unlock()
			continue
		}

		now := ev.Timestamp
		if now.IsZero() {
			now = time.Now().UTC()
		}

		l.applyDelta(e, ev.TokenIn, -ev.AmountIn, now)
		l.applyDelta(e, ev.TokenOut, ev.AmountOut, now)

		if err := l.revalue(ctx, e, now); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("ledger: revalue user %q: %w", ev.UserID, err)
		}

		e.updatedAt = now
		e.mu.Unlock()

		metrics.TradeEventsTotal.Inc()
		return nil
	}
}

// applyDelta adjusts one token balance, pruning it when the result nets to
// exactly zero. Called with the entry lock held.
func (l *PositionLedger) applyDelta(e *ledgerEntry, token string, delta float64, now time.Time) {
	if token == "" || delta == 0 {
		return
	}

	b := e.balances[token]
	b.Token = token
	b.Balance += delta
	b.UpdatedAt = now

	if b.Balance == 0 {
		delete(e.balances, token)
		return
	}
	e.balances[token] = b
}

// revalue recomputes USD values and the aggregate PnL for every token with a
// known price. Called with the entry lock held; only this user's operations
// wait on the price lookup.
func (l *PositionLedger) revalue(ctx context.Context, e *ledgerEntry, now time.Time) error {
	if len(e.balances) == 0 {
		e.totalPnL = 0
		return nil
	}

	tokens := make([]string, 0, len(e.balances))
	for t := range e.balances {
		tokens = append(tokens, t)
	}

	prices, err := l.prices.GetPrices(ctx, tokens)
	if err != nil {
		return err
	}

	var pnl float64
	for t, b := range e.balances {
		price, ok := prices[t]
		if !ok {
			b.USDValue = 0
			e.balances[t] = b
			continue
		}
		b.USDValue = b.Balance * price
		b.UpdatedAt = now
		e.balances[t] = b
		pnl += b.USDValue
	}
	e.totalPnL = pnl
	return nil
}

// GetUserPosition returns a consistent point-in-time copy of the user's
// entry. It returns domain.ErrUserNotFound when the user has no entry.
func (l *PositionLedger) GetUserPosition(ctx context.Context, userID string) (domain.UserPosition, error) {
	e := l.entryFor(userID, false)
	if e == nil {
		return domain.UserPosition{}, fmt.Errorf("ledger: get position %q: %w", userID, domain.ErrUserNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return domain.UserPosition{}, fmt.Errorf("ledger: get position %q: %w", userID, domain.ErrUserNotFound)
	}

	pos := domain.UserPosition{
		UserID:    userID,
		Balances:  make(map[string]domain.TokenBalance, len(e.balances)),
		TotalPnL:  e.totalPnL,
		UpdatedAt: e.updatedAt,
	}
	for t, b := range e.balances {
		pos.Balances[t] = b
	}
	return pos, nil
}

// CheckExposureLimits sums |balance| x price over tokens with a known price
// and reports whether the total exceeds the configured ceiling. A ceiling of
// zero disables the check.
func (l *PositionLedger) CheckExposureLimits(ctx context.Context, userID string) (exposure float64, exceeded bool, err error) {
	e := l.entryFor(userID, false)
	if e == nil {
		return 0, false, fmt.Errorf("ledger: check exposure %q: %w", userID, domain.ErrUserNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return 0, false, fmt.Errorf("ledger: check exposure %q: %w", userID, domain.ErrUserNotFound)
	}

	tokens := make([]string, 0, len(e.balances))
	for t := range e.balances {
		tokens = append(tokens, t)
	}
	prices, perr := l.prices.GetPrices(ctx, tokens)
	if perr != nil {
		return 0, false, fmt.Errorf("ledger: check exposure %q: %w", userID, perr)
	}

	for t, b := range e.balances {
		if price, ok := prices[t]; ok {
			exposure += math.Abs(b.Balance) * price
		}
	}

	exceeded = l.cfg.MaxExposureUSD > 0 && exposure > l.cfg.MaxExposureUSD
	return exposure, exceeded, nil
}

// CleanupOldPositions removes entries whose last update is older than the
// configured inactivity timeout and returns the removed count. It runs off
// the hot path on a timer. The sweep never holds the map lock while waiting
// on an entry lock: candidates are snapshotted first, and a busy entry is
// mid-update, hence not inactive, so it is skipped with TryLock.
func (l *PositionLedger) CleanupOldPositions(now time.Time) int {
	cutoff := now.Add(-l.cfg.InactivityTimeout)

	l.mu.RLock()
	candidates := make(map[string]*ledgerEntry, len(l.entries))
	for userID, e := range l.entries {
		candidates[userID] = e
	}
	l.mu.RUnlock()

	removed := 0
	for userID, e := range candidates {
		if !e.mu.TryLock() {
			continue
		}
		if !e.removed && !e.updatedAt.IsZero() && e.updatedAt.Before(cutoff) {
			e.removed = true
			// Drop the map slot before releasing the entry so a racing
			// writer re-enters through a fresh entry, never this one.
			l.mu.Lock()
			if l.entries[userID] == e {
				delete(l.entries, userID)
				removed++
			}
			l.mu.Unlock()
		}
		e.mu.Unlock()
	}

	metrics.LedgerUsers.Set(float64(l.UserCount()))
	if removed > 0 {
		l.logger.Info("cleaned up inactive positions", slog.Int("removed", removed))
	}
	return removed
}

// UserCount returns the number of tracked users.
func (l *PositionLedger) UserCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
