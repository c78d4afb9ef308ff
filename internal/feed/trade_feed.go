// Package feed ingests external signals: trade events from the durable
// trade stream and gas prices from an Ethereum node.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/tradewatch/sentinel/internal/domain"
	"github.com/tradewatch/sentinel/internal/service"
)

// tradeStream is the durable stream trade events arrive on.
const tradeStream = "trades"

// TradeFeedConfig controls the trade feed reader.
type TradeFeedConfig struct {
	// BatchSize is the maximum number of stream messages read per iteration.
	BatchSize int
	// PollInterval is the pause between reads when the stream is empty.
	PollInterval time.Duration
}

func (c *TradeFeedConfig) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
}

// TradeFeed reads trade events off the trade stream, applies them to the
// position ledger, refreshes the user's exposure snapshot, and raises a
// position-limit alert when the user's exposure exceeds the configured cap.
type TradeFeed struct {
	bus      domain.SignalBus
	ledger   *service.PositionLedger
	exposure *service.ExposureService
	alerts   *service.AlertService
	cfg      TradeFeedConfig
	logger   *slog.Logger
}

// NewTradeFeed creates a TradeFeed.
func NewTradeFeed(
	bus domain.SignalBus,
	ledger *service.PositionLedger,
	exposure *service.ExposureService,
	alerts *service.AlertService,
	cfg TradeFeedConfig,
	logger *slog.Logger,
) *TradeFeed {
	cfg.defaults()
	return &TradeFeed{
		bus:      bus,
		ledger:   ledger,
		exposure: exposure,
		alerts:   alerts,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "trade_feed")),
	}
}

// Run consumes the trade stream until the context is cancelled. Malformed
// messages are logged and skipped; the stream cursor always advances so one
// bad event cannot wedge the feed.
func (f *TradeFeed) Run(ctx context.Context) error {
	f.logger.Info("trade feed started")
	defer f.logger.Info("trade feed stopped")

	lastID := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := f.bus.StreamRead(ctx, tradeStream, lastID, f.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("trade stream read failed", slog.String("error", err.Error()))
			sleep(ctx, f.cfg.PollInterval)
			continue
		}

		if len(msgs) == 0 {
			sleep(ctx, f.cfg.PollInterval)
			continue
		}

		for _, msg := range msgs {
			lastID = msg.ID
			f.handle(ctx, msg.Payload)
		}
	}
}

func (f *TradeFeed) handle(ctx context.Context, payload []byte) {
	var ev domain.TradeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		f.logger.Warn("trade event unmarshal failed",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(payload)),
		)
		return
	}
	if ev.UserID == "" {
		return
	}

	if err := f.ledger.ProcessTradeEvent(ctx, ev); err != nil {
		f.logger.Error("trade event apply failed",
			slog.String("user_id", ev.UserID),
			slog.String("error", err.Error()),
		)
		return
	}

	if _, err := f.exposure.CreateSnapshot(ctx, ev.UserID); err != nil {
		f.logger.Warn("exposure snapshot failed",
			slog.String("user_id", ev.UserID),
			slog.String("error", err.Error()),
		)
	}

	exposure, exceeded, err := f.ledger.CheckExposureLimits(ctx, ev.UserID)
	if err != nil {
		f.logger.Warn("exposure limit check failed",
			slog.String("user_id", ev.UserID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !exceeded {
		return
	}

	_, err = f.alerts.CheckAndCreateAlert(ctx, domain.CategoryPositionLimit, exposure, ev.UserID, map[string]string{
		"exposure_usd": strconv.FormatFloat(exposure, 'f', 2, 64),
	})
	if err != nil {
		f.logger.Warn("position limit alert failed",
			slog.String("user_id", ev.UserID),
			slog.String("error", err.Error()),
		)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
