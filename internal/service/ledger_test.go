package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tradewatch/sentinel/internal/domain"
)

// fakePrices is a static PriceSource for tests.
type fakePrices struct {
	prices map[string]float64
}

func (f *fakePrices) GetPrice(ctx context.Context, token string) (float64, bool, error) {
	p, ok := f.prices[token]
	return p, ok, nil
}

func (f *fakePrices) GetPrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	out := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		if p, ok := f.prices[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newLedger(prices map[string]float64, maxExposure float64) *PositionLedger {
	return NewPositionLedger(&fakePrices{prices: prices}, LedgerConfig{MaxExposureUSD: maxExposure}, testLogger())
}

func TestProcessTradeEventAppliesDeltas(t *testing.T) {
	ctx := context.Background()
	l := newLedger(map[string]float64{"ETH": 3000, "USDC": 1}, 0)

	err := l.ProcessTradeEvent(ctx, domain.TradeEvent{
		UserID:    "alice",
		TokenIn:   "USDC",
		AmountIn:  6000,
		TokenOut:  "ETH",
		AmountOut: 2,
	})
	if err != nil {
		t.Fatalf("ProcessTradeEvent: %v", err)
	}

	pos, err := l.GetUserPosition(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserPosition: %v", err)
	}
	if got := pos.Balances["ETH"].Balance; got != 2 {
		t.Errorf("ETH balance = %v, want 2", got)
	}
	if got := pos.Balances["USDC"].Balance; got != -6000 {
		t.Errorf("USDC balance = %v, want -6000", got)
	}
	// PnL is the signed USD sum: 2*3000 + (-6000)*1 = 0.
	if pos.TotalPnL != 0 {
		t.Errorf("TotalPnL = %v, want 0", pos.TotalPnL)
	}
}

func TestZeroBalanceIsPruned(t *testing.T) {
	ctx := context.Background()
	l := newLedger(map[string]float64{"ETH": 3000}, 0)

	for _, ev := range []domain.TradeEvent{
		{UserID: "bob", TokenOut: "ETH", AmountOut: 2},
		{UserID: "bob", TokenIn: "ETH", AmountIn: 2},
	} {
		if err := l.ProcessTradeEvent(ctx, ev); err != nil {
			t.Fatalf("ProcessTradeEvent: %v", err)
		}
	}

	pos, err := l.GetUserPosition(ctx, "bob")
	if err != nil {
		t.Fatalf("GetUserPosition: %v", err)
	}
	if _, exists := pos.Balances["ETH"]; exists {
		t.Errorf("zero ETH balance should be pruned, got %+v", pos.Balances["ETH"])
	}
}

func TestProcessTradeEventRejectsEmptyUser(t *testing.T) {
	l := newLedger(nil, 0)
	err := l.ProcessTradeEvent(context.Background(), domain.TradeEvent{TokenOut: "ETH", AmountOut: 1})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestGetUserPositionUnknownUser(t *testing.T) {
	l := newLedger(nil, 0)
	_, err := l.GetUserPosition(context.Background(), "nobody")
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestCheckExposureLimits(t *testing.T) {
	ctx := context.Background()
	l := newLedger(map[string]float64{"ETH": 3000, "USDC": 1}, 10_000)

	// Short 2 ETH: exposure uses absolute balances, so this counts 6000.
	err := l.ProcessTradeEvent(ctx, domain.TradeEvent{
		UserID: "carol", TokenIn: "ETH", AmountIn: 2, TokenOut: "USDC", AmountOut: 6000,
	})
	if err != nil {
		t.Fatalf("ProcessTradeEvent: %v", err)
	}

	exposure, exceeded, err := l.CheckExposureLimits(ctx, "carol")
	if err != nil {
		t.Fatalf("CheckExposureLimits: %v", err)
	}
	if exposure != 12_000 {
		t.Errorf("exposure = %v, want 12000", exposure)
	}
	if !exceeded {
		t.Error("exceeded = false, want true")
	}
}

func TestCheckExposureLimitsDisabledCeiling(t *testing.T) {
	ctx := context.Background()
	l := newLedger(map[string]float64{"ETH": 3000}, 0)

	if err := l.ProcessTradeEvent(ctx, domain.TradeEvent{UserID: "dave", TokenOut: "ETH", AmountOut: 1000}); err != nil {
		t.Fatalf("ProcessTradeEvent: %v", err)
	}

	_, exceeded, err := l.CheckExposureLimits(ctx, "dave")
	if err != nil {
		t.Fatalf("CheckExposureLimits: %v", err)
	}
	if exceeded {
		t.Error("exceeded = true with ceiling disabled, want false")
	}
}

func TestConcurrentTradeEventsConserveBalance(t *testing.T) {
	ctx := context.Background()
	l := newLedger(map[string]float64{"ETH": 3000}, 0)

	const workers = 8
	const eventsPerWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < eventsPerWorker; i++ {
				_ = l.ProcessTradeEvent(ctx, domain.TradeEvent{
					UserID: "erin", TokenOut: "ETH", AmountOut: 1,
				})
			}
		}()
	}
	wg.Wait()

	pos, err := l.GetUserPosition(ctx, "erin")
	if err != nil {
		t.Fatalf("GetUserPosition: %v", err)
	}
	if got := pos.Balances["ETH"].Balance; got != workers*eventsPerWorker {
		t.Errorf("ETH balance = %v, want %d", got, workers*eventsPerWorker)
	}
}

// stallPrices blocks GetPrices for one token until released, so tests can
// park a user's revaluation mid-flight.
type stallPrices struct {
	prices  map[string]float64
	stallOn string
	entered chan struct{} // closed once the stalled lookup begins
	release chan struct{} // close to let the stalled lookup finish
}

func (s *stallPrices) GetPrice(ctx context.Context, token string) (float64, bool, error) {
	p, ok := s.prices[token]
	return p, ok, nil
}

func (s *stallPrices) GetPrices(ctx context.Context, tokens []string) (map[string]float64, error) {
	for _, t := range tokens {
		if t == s.stallOn {
			close(s.entered)
			<-s.release
			break
		}
	}
	out := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		if p, ok := s.prices[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

func TestCleanupDoesNotBlockUnrelatedUsers(t *testing.T) {
	ctx := context.Background()
	prices := &stallPrices{
		prices:  map[string]float64{"ETH": 3000, "SLOW": 1},
		stallOn: "SLOW",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	l := NewPositionLedger(prices, LedgerConfig{InactivityTimeout: time.Hour}, testLogger())

	// alice's trade parks inside the price lookup with her entry lock held.
	aliceDone := make(chan error, 1)
	go func() {
		aliceDone <- l.ProcessTradeEvent(ctx, domain.TradeEvent{
			UserID: "alice", TokenOut: "SLOW", AmountOut: 1,
		})
	}()
	<-prices.entered

	// A concurrent sweep must skip the busy entry rather than wait on it.
	cleanupDone := make(chan int, 1)
	go func() { cleanupDone <- l.CleanupOldPositions(time.Now().UTC()) }()

	// bob's trade must complete while alice's fetch is still stalled.
	bobDone := make(chan error, 1)
	go func() {
		bobDone <- l.ProcessTradeEvent(ctx, domain.TradeEvent{
			UserID: "bob", TokenOut: "ETH", AmountOut: 1,
		})
	}()

	select {
	case err := <-bobDone:
		if err != nil {
			t.Fatalf("bob's ProcessTradeEvent: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bob's trade blocked behind cleanup while alice's price fetch stalled")
	}
	select {
	case removed := <-cleanupDone:
		if removed != 0 {
			t.Errorf("cleanup removed %d entries, want 0", removed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup blocked on a busy entry")
	}

	close(prices.release)
	if err := <-aliceDone; err != nil {
		t.Fatalf("alice's ProcessTradeEvent: %v", err)
	}
	if l.UserCount() != 2 {
		t.Errorf("UserCount = %d, want 2", l.UserCount())
	}
}

func TestCleanupOldPositions(t *testing.T) {
	ctx := context.Background()
	l := NewPositionLedger(&fakePrices{}, LedgerConfig{InactivityTimeout: time.Hour}, testLogger())

	stale := time.Now().UTC().Add(-2 * time.Hour)
	if err := l.ProcessTradeEvent(ctx, domain.TradeEvent{
		UserID: "old", TokenOut: "ETH", AmountOut: 1, Timestamp: stale,
	}); err != nil {
		t.Fatalf("ProcessTradeEvent: %v", err)
	}
	if err := l.ProcessTradeEvent(ctx, domain.TradeEvent{
		UserID: "fresh", TokenOut: "ETH", AmountOut: 1,
	}); err != nil {
		t.Fatalf("ProcessTradeEvent: %v", err)
	}

	removed := l.CleanupOldPositions(time.Now().UTC())
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if l.UserCount() != 1 {
		t.Errorf("UserCount = %d, want 1", l.UserCount())
	}
	if _, err := l.GetUserPosition(ctx, "old"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("stale user still present: err = %v", err)
	}
}
