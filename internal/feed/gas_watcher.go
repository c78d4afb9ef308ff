package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tradewatch/sentinel/internal/domain"
	"github.com/tradewatch/sentinel/internal/service"
)

// gasClient is the slice of the Ethereum client the watcher uses.
type gasClient interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// GasWatcherConfig controls the gas price watcher.
type GasWatcherConfig struct {
	// RPCURL is the Ethereum JSON-RPC endpoint.
	RPCURL string
	// Interval is the polling cadence. Defaults to 30 seconds.
	Interval time.Duration
}

func (c *GasWatcherConfig) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
}

// GasWatcher polls the node's suggested gas price and raises a platform-wide
// gas-price alert when it breaches the configured thresholds (in gwei).
type GasWatcher struct {
	client gasClient
	alerts *service.AlertService
	cfg    GasWatcherConfig
	logger *slog.Logger
}

// NewGasWatcher dials the configured RPC endpoint and creates a GasWatcher.
func NewGasWatcher(ctx context.Context, alerts *service.AlertService, cfg GasWatcherConfig, logger *slog.Logger) (*GasWatcher, error) {
	cfg.defaults()
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("feed: dial eth rpc: %w", err)
	}
	return newGasWatcher(client, alerts, cfg, logger), nil
}

func newGasWatcher(client gasClient, alerts *service.AlertService, cfg GasWatcherConfig, logger *slog.Logger) *GasWatcher {
	cfg.defaults()
	return &GasWatcher{
		client: client,
		alerts: alerts,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "gas_watcher")),
	}
}

// Run polls gas prices until the context is cancelled.
func (w *GasWatcher) Run(ctx context.Context) error {
	w.logger.Info("gas watcher started", slog.Duration("interval", w.cfg.Interval))
	defer w.logger.Info("gas watcher stopped")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *GasWatcher) poll(ctx context.Context) {
	wei, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		w.logger.Warn("gas price query failed", slog.String("error", err.Error()))
		return
	}
	gwei := weiToGwei(wei)

	_, err = w.alerts.CheckAndCreateAlert(ctx, domain.CategoryGasPrice, gwei, "", map[string]string{
		"gas_price_gwei": strconv.FormatFloat(gwei, 'f', 2, 64),
	})
	if err != nil {
		w.logger.Warn("gas price alert failed", slog.String("error", err.Error()))
	}
}

// weiToGwei converts a wei amount to gwei as a float.
func weiToGwei(wei *big.Int) float64 {
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e9))
	gwei, _ := f.Float64()
	return gwei
}
