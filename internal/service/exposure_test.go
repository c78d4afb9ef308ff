package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/tradewatch/sentinel/internal/domain"
)

func newExposureFixture(t *testing.T, prices map[string]float64, historySize int) (*PositionLedger, *ExposureService) {
	t.Helper()
	src := &fakePrices{prices: prices}
	ledger := NewPositionLedger(src, LedgerConfig{}, testLogger())
	exposure := NewExposureService(ledger, src, ExposureConfig{HistorySize: historySize}, testLogger())
	return ledger, exposure
}

func TestCreateSnapshotBreakdown(t *testing.T) {
	ctx := context.Background()
	ledger, exposure := newExposureFixture(t, map[string]float64{"ETH": 3000, "USDC": 1}, 0)

	if err := ledger.ProcessTradeEvent(ctx, domain.TradeEvent{
		UserID: "alice", TokenOut: "ETH", AmountOut: 10,
	}); err != nil {
		t.Fatalf("ProcessTradeEvent: %v", err)
	}
	if err := ledger.ProcessTradeEvent(ctx, domain.TradeEvent{
		UserID: "alice", TokenOut: "USDC", AmountOut: 5000,
	}); err != nil {
		t.Fatalf("ProcessTradeEvent: %v", err)
	}

	snap, err := exposure.CreateSnapshot(ctx, "alice")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	if snap.TotalUSD != 35_000 {
		t.Errorf("TotalUSD = %v, want 35000", snap.TotalUSD)
	}
	if len(snap.Tokens) != 2 {
		t.Fatalf("tokens = %d, want 2", len(snap.Tokens))
	}

	// Largest exposure first.
	if snap.Tokens[0].Token != "ETH" || snap.Tokens[1].Token != "USDC" {
		t.Errorf("token order = %s, %s; want ETH, USDC", snap.Tokens[0].Token, snap.Tokens[1].Token)
	}
	if got := snap.Tokens[0].Percent; math.Abs(got-85.714285) > 0.001 {
		t.Errorf("ETH percent = %v, want ~85.714", got)
	}
	if got := snap.Tokens[1].Percent; math.Abs(got-14.285714) > 0.001 {
		t.Errorf("USDC percent = %v, want ~14.286", got)
	}

	var sum float64
	for _, te := range snap.Tokens {
		sum += te.Percent
	}
	if math.Abs(sum-100) > 1e-9 {
		t.Errorf("percent sum = %v, want 100", sum)
	}
}

func TestCreateSnapshotZeroTotal(t *testing.T) {
	ctx := context.Background()
	// No known prices at all: every token contributes zero USD.
	ledger, exposure := newExposureFixture(t, nil, 0)

	if err := ledger.ProcessTradeEvent(ctx, domain.TradeEvent{
		UserID: "bob", TokenOut: "MYSTERY", AmountOut: 42,
	}); err != nil {
		t.Fatalf("ProcessTradeEvent: %v", err)
	}

	snap, err := exposure.CreateSnapshot(ctx, "bob")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if snap.TotalUSD != 0 {
		t.Errorf("TotalUSD = %v, want 0", snap.TotalUSD)
	}
	for _, te := range snap.Tokens {
		if te.Percent != 0 {
			t.Errorf("token %s percent = %v, want 0", te.Token, te.Percent)
		}
	}
}

func TestCreateSnapshotUnknownUser(t *testing.T) {
	_, exposure := newExposureFixture(t, nil, 0)
	_, err := exposure.CreateSnapshot(context.Background(), "nobody")
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestSnapshotHistoryBounded(t *testing.T) {
	ctx := context.Background()
	ledger, exposure := newExposureFixture(t, map[string]float64{"ETH": 100}, 3)

	for i := 0; i < 5; i++ {
		if err := ledger.ProcessTradeEvent(ctx, domain.TradeEvent{
			UserID: "carol", TokenOut: "ETH", AmountOut: 1,
		}); err != nil {
			t.Fatalf("ProcessTradeEvent: %v", err)
		}
		if _, err := exposure.CreateSnapshot(ctx, "carol"); err != nil {
			t.Fatalf("CreateSnapshot %d: %v", i, err)
		}
	}

	all := exposure.GetRecentSnapshots(0)
	if len(all) != 3 {
		t.Fatalf("history = %d snapshots, want 3", len(all))
	}
	// Oldest retained snapshot is the third created (300 USD total).
	if all[0].TotalUSD != 300 {
		t.Errorf("oldest TotalUSD = %v, want 300", all[0].TotalUSD)
	}
	if all[2].TotalUSD != 500 {
		t.Errorf("newest TotalUSD = %v, want 500", all[2].TotalUSD)
	}

	last2 := exposure.GetRecentSnapshots(2)
	if len(last2) != 2 || last2[0].TotalUSD != 400 || last2[1].TotalUSD != 500 {
		t.Errorf("GetRecentSnapshots(2) = %v, want totals 400, 500", last2)
	}
}
