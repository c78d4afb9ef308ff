package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/tradewatch/sentinel/internal/bus"
	"github.com/tradewatch/sentinel/internal/domain"
	"github.com/tradewatch/sentinel/internal/service"
)

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

type fakeDispatcher struct{}

func (fakeDispatcher) Send(ctx context.Context, alert domain.RiskAlert, channel domain.NotificationChannel, recipient string) domain.Notification {
	now := time.Now()
	return domain.Notification{
		ID:        "n-" + alert.ID + "-" + string(channel),
		AlertID:   alert.ID,
		Channel:   channel,
		Recipient: recipient,
		Status:    domain.DeliverySent,
		CreatedAt: now,
		SentAt:    &now,
	}
}

func (d fakeDispatcher) Retry(ctx context.Context, n domain.Notification, alert domain.RiskAlert) domain.Notification {
	now := time.Now()
	n.Status = domain.DeliverySent
	n.SentAt = &now
	return n
}

type fixture struct {
	bus    *bus.Memory
	ledger *service.PositionLedger
	feed   *TradeFeed
	alerts *service.AlertService
}

func newFixture(t *testing.T, prices map[string]float64, maxExposure float64) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	mem := bus.NewMemory()
	src := &fakePrices{prices: prices}

	ledger := service.NewPositionLedger(src, service.LedgerConfig{MaxExposureUSD: maxExposure}, logger)
	exposure := service.NewExposureService(ledger, src, service.ExposureConfig{}, logger)
	thresholds := service.NewThresholdService(service.DefaultThresholds(), logger)
	escalation := service.NewEscalationService(service.EscalationConfig{}, logger)
	notes := service.NewNotificationService(fakeDispatcher{}, mem, nil, service.NotificationConfig{}, logger)
	alerts := service.NewAlertService(thresholds, escalation, notes, mem, nil, nil, logger)

	feed := NewTradeFeed(mem, ledger, exposure, alerts, TradeFeedConfig{}, logger)
	return &fixture{bus: mem, ledger: ledger, feed: feed, alerts: alerts}
}

func tradePayload(t *testing.T, ev domain.TradeEvent) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal trade event: %v", err)
	}
	return data
}

func TestTradeFeedAppliesEventAndRaisesLimitAlert(t *testing.T) {
	fx := newFixture(t, map[string]float64{"ETH": 3000}, 100_000)
	ctx := context.Background()

	fx.feed.handle(ctx, tradePayload(t, domain.TradeEvent{
		UserID:    "alice",
		TokenIn:   "USDC",
		AmountIn:  0,
		TokenOut:  "ETH",
		AmountOut: 100,
	}))

	pos, err := fx.ledger.GetUserPosition(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserPosition: %v", err)
	}
	if got := pos.Balances["ETH"].Balance; got != 100 {
		t.Fatalf("ETH balance = %v, want 100", got)
	}

	alerts := fx.alerts.GetActiveAlerts()
	if len(alerts) != 1 {
		t.Fatalf("got %d active alerts, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Category != domain.CategoryPositionLimit {
		t.Errorf("category = %s, want %s", a.Category, domain.CategoryPositionLimit)
	}
	// 100 ETH at $3000 is $300k, which clears the high band but not critical.
	if a.Severity != domain.SeverityHigh {
		t.Errorf("severity = %s, want %s", a.Severity, domain.SeverityHigh)
	}
	if a.UserID != "alice" {
		t.Errorf("user = %q, want alice", a.UserID)
	}
}

func TestTradeFeedUnderLimitRaisesNothing(t *testing.T) {
	fx := newFixture(t, map[string]float64{"ETH": 3000}, 100_000)

	fx.feed.handle(context.Background(), tradePayload(t, domain.TradeEvent{
		UserID:    "bob",
		TokenOut:  "ETH",
		AmountOut: 1,
	}))

	if got := len(fx.alerts.GetActiveAlerts()); got != 0 {
		t.Fatalf("got %d active alerts, want 0", got)
	}
}

func TestTradeFeedSkipsMalformedPayload(t *testing.T) {
	fx := newFixture(t, nil, 0)

	fx.feed.handle(context.Background(), []byte("{not json"))
	fx.feed.handle(context.Background(), tradePayload(t, domain.TradeEvent{}))

	if got := fx.ledger.UserCount(); got != 0 {
		t.Fatalf("ledger users = %d, want 0", got)
	}
}

func TestTradeFeedRunConsumesStream(t *testing.T) {
	fx := newFixture(t, map[string]float64{"ETH": 3000}, 100_000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payload := tradePayload(t, domain.TradeEvent{
		UserID:    "carol",
		TokenOut:  "ETH",
		AmountOut: 2,
	})
	if err := fx.bus.StreamAppend(ctx, tradeStream, payload); err != nil {
		t.Fatalf("StreamAppend: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.feed.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, err := fx.ledger.GetUserPosition(ctx, "carol"); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("trade event never applied")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

type fakeGasClient struct {
	wei *big.Int
}

func (f *fakeGasClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.wei, nil
}

func TestGasWatcherRaisesPlatformAlert(t *testing.T) {
	fx := newFixture(t, nil, 0)
	logger := slog.New(slog.DiscardHandler)

	// 250 gwei clears the high band (200) but not critical (500).
	w := newGasWatcher(&fakeGasClient{wei: big.NewInt(250_000_000_000)}, fx.alerts, GasWatcherConfig{}, logger)
	w.poll(context.Background())

	alerts := fx.alerts.GetActiveAlerts()
	if len(alerts) != 1 {
		t.Fatalf("got %d active alerts, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Category != domain.CategoryGasPrice {
		t.Errorf("category = %s, want %s", a.Category, domain.CategoryGasPrice)
	}
	if a.Severity != domain.SeverityHigh {
		t.Errorf("severity = %s, want %s", a.Severity, domain.SeverityHigh)
	}
	if a.UserID != "" {
		t.Errorf("user = %q, want platform-wide", a.UserID)
	}
}

func TestGasWatcherBelowThresholdIsQuiet(t *testing.T) {
	fx := newFixture(t, nil, 0)
	logger := slog.New(slog.DiscardHandler)

	w := newGasWatcher(&fakeGasClient{wei: big.NewInt(50_000_000_000)}, fx.alerts, GasWatcherConfig{}, logger)
	w.poll(context.Background())

	if got := len(fx.alerts.GetActiveAlerts()); got != 0 {
		t.Fatalf("got %d active alerts, want 0", got)
	}
}

func TestWeiToGwei(t *testing.T) {
	if got := weiToGwei(big.NewInt(1_000_000_000)); got != 1 {
		t.Errorf("1e9 wei = %v gwei, want 1", got)
	}
	if got := weiToGwei(big.NewInt(32_500_000_000)); got != 32.5 {
		t.Errorf("32.5e9 wei = %v gwei, want 32.5", got)
	}
}
