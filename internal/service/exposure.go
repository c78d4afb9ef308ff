package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tradewatch/sentinel/internal/domain"
	"github.com/tradewatch/sentinel/internal/metrics"
)

// positionReader is the slice of the ledger the snapshot engine needs.
type positionReader interface {
	GetUserPosition(ctx context.Context, userID string) (domain.UserPosition, error)
}

// ExposureConfig holds tunables for the snapshot engine.
type ExposureConfig struct {
	// HistorySize is the capacity of the snapshot ring; once full the oldest
	// snapshot is dropped.
	HistorySize int
}

// ExposureService derives point-in-time USD exposure snapshots from the
// ledger and the price source, and retains a bounded history of them.
type ExposureService struct {
	ledger positionReader
	prices domain.PriceSource
	logger *slog.Logger

	mu      sync.Mutex
	history []domain.ExposureSnapshot // ring buffer, oldest at head
	cap     int
}

// NewExposureService creates an ExposureService.
func NewExposureService(ledger positionReader, prices domain.PriceSource, cfg ExposureConfig, logger *slog.Logger) *ExposureService {
	size := cfg.HistorySize
	if size <= 0 {
		size = 1000
	}
	return &ExposureService{
		ledger: ledger,
		prices: prices,
		logger: logger.With(slog.String("component", "exposure")),
		cap:    size,
	}
}

// CreateSnapshot computes an immutable exposure breakdown for the user,
// appends it to the bounded history, and returns it. Tokens without a known
// price contribute zero USD value. Percentages sum to 100 within rounding
// when the total is nonzero and are all zero when the total is zero. It
// returns domain.ErrUserNotFound when the user has no ledger entry.
func (s *ExposureService) CreateSnapshot(ctx context.Context, userID string) (domain.ExposureSnapshot, error) {
	start := time.Now()

	pos, err := s.ledger.GetUserPosition(ctx, userID)
	if err != nil {
		return domain.ExposureSnapshot{}, fmt.Errorf("exposure: snapshot %q: %w", userID, err)
	}

	tokens := make([]string, 0, len(pos.Balances))
	for t := range pos.Balances {
		tokens = append(tokens, t)
	}
	prices, err := s.prices.GetPrices(ctx, tokens)
	if err != nil {
		return domain.ExposureSnapshot{}, fmt.Errorf("exposure: snapshot %q prices: %w", userID, err)
	}

	exposures := make([]domain.TokenExposure, 0, len(pos.Balances))
	var total float64
	for t, b := range pos.Balances {
		var usd float64
		if price, ok := prices[t]; ok {
			usd = math.Abs(b.Balance) * price
		}
		exposures = append(exposures, domain.TokenExposure{
			Token:    t,
			Amount:   b.Balance,
			USDValue: usd,
		})
		total += usd
	}

	for i := range exposures {
		if total > 0 {
			exposures[i].Percent = exposures[i].USDValue / total * 100
		}
	}

	// Largest exposure first; ties break on token for determinism.
	sort.Slice(exposures, func(i, j int) bool {
		if exposures[i].USDValue != exposures[j].USDValue {
			return exposures[i].USDValue > exposures[j].USDValue
		}
		return exposures[i].Token < exposures[j].Token
	})

	snap := domain.ExposureSnapshot{
		UserID:   userID,
		TotalUSD: total,
		Tokens:   exposures,
		TakenAt:  time.Now().UTC(),
		Elapsed:  time.Since(start),
	}

	s.mu.Lock()
	if len(s.history) == s.cap {
		copy(s.history, s.history[1:])
		s.history[len(s.history)-1] = snap
	} else {
		s.history = append(s.history, snap)
	}
	s.mu.Unlock()

	metrics.SnapshotLatency.Observe(snap.Elapsed.Seconds())
	s.logger.DebugContext(ctx, "snapshot created",
		slog.String("user_id", userID),
		slog.Float64("total_usd", total),
		slog.Int("tokens", len(exposures)),
	)
	return snap, nil
}

// GetRecentSnapshots returns up to limit most recent snapshots, oldest first.
func (s *ExposureService) GetRecentSnapshots(limit int) []domain.ExposureSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]domain.ExposureSnapshot, limit)
	copy(out, s.history[len(s.history)-limit:])
	return out
}
