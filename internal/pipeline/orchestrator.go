// Package pipeline coordinates the background loops of the risk monitor:
// trade ingest, gas watching, escalation polling, notification retries,
// ledger maintenance, and cold-storage archival.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradewatch/sentinel/internal/feed"
	"github.com/tradewatch/sentinel/internal/service"
)

// OrchestratorConfig holds the cadences of the background loops.
type OrchestratorConfig struct {
	// EscalationInterval is how often due escalations are advanced.
	EscalationInterval time.Duration
	// RetryInterval is how often due notification retries are attempted.
	RetryInterval time.Duration
	// MaintenanceInterval is how often inactive ledger entries and aged
	// resolved alerts are pruned.
	MaintenanceInterval time.Duration
	// ResolvedRetention is how long resolved alerts stay in memory before
	// maintenance prunes them.
	ResolvedRetention time.Duration
	// ArchiveCron schedules cold-storage archive runs (5-field cron).
	ArchiveCron string
}

func (c *OrchestratorConfig) defaults() {
	if c.EscalationInterval <= 0 {
		c.EscalationInterval = 15 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 10 * time.Second
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = 10 * time.Minute
	}
	if c.ResolvedRetention <= 0 {
		c.ResolvedRetention = time.Hour
	}
	if c.ArchiveCron == "" {
		c.ArchiveCron = "0 3 * * *"
	}
}

// Orchestrator manages the monitor's background goroutines. Feed sources and
// the archiver are optional; nil components are simply not started.
type Orchestrator struct {
	tradeFeed  *feed.TradeFeed
	gasWatcher *feed.GasWatcher
	alerts     *service.AlertService
	notes      *service.NotificationService
	escalation *service.EscalationService
	ledger     *service.PositionLedger
	archiver   *Archiver
	cfg        OrchestratorConfig
	logger     *slog.Logger
}

// NewOrchestrator creates a new Orchestrator. tradeFeed, gasWatcher, and
// archiver may be nil.
func NewOrchestrator(
	tradeFeed *feed.TradeFeed,
	gasWatcher *feed.GasWatcher,
	alerts *service.AlertService,
	notes *service.NotificationService,
	escalation *service.EscalationService,
	ledger *service.PositionLedger,
	archiver *Archiver,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	cfg.defaults()
	return &Orchestrator{
		tradeFeed:  tradeFeed,
		gasWatcher: gasWatcher,
		alerts:     alerts,
		notes:      notes,
		escalation: escalation,
		ledger:     ledger,
		archiver:   archiver,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts all loops as concurrent goroutines using an errgroup. Each loop
// respects ctx cancellation; if any loop returns a non-context error, the
// errgroup cancels the shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator starting",
		slog.Duration("escalation_interval", o.cfg.EscalationInterval),
		slog.Duration("retry_interval", o.cfg.RetryInterval),
		slog.String("archive_cron", o.cfg.ArchiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.tradeFeed != nil {
		g.Go(func() error {
			err := o.tradeFeed.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("trade feed: %w", err)
		})
	}

	if o.gasWatcher != nil {
		g.Go(func() error {
			err := o.gasWatcher.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("gas watcher: %w", err)
		})
	}

	g.Go(func() error {
		o.runEscalationLoop(ctx)
		return nil
	})

	g.Go(func() error {
		o.runRetryLoop(ctx)
		return nil
	})

	g.Go(func() error {
		o.runMaintenanceLoop(ctx)
		return nil
	})

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.cfg.ArchiveCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("orchestrator stopped cleanly")
	return nil
}

// runEscalationLoop advances overdue escalations on a fixed cadence.
func (o *Orchestrator) runEscalationLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.EscalationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("escalation loop stopped")
			return
		case now := <-ticker.C:
			if n := o.alerts.EscalateDue(ctx, now.UTC()); n > 0 {
				o.logger.Info("escalated alerts", slog.Int("count", n))
			}
		}
	}
}

// runRetryLoop re-attempts failed notification deliveries that are due.
func (o *Orchestrator) runRetryLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("retry loop stopped")
			return
		case now := <-ticker.C:
			if n := o.notes.RetryDue(ctx, now.UTC(), o.alerts.GetAlert); n > 0 {
				o.logger.Info("retried notifications", slog.Int("count", n))
			}
		}
	}
}

// runMaintenanceLoop prunes inactive ledger entries and aged resolved alerts.
func (o *Orchestrator) runMaintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("maintenance loop stopped")
			return
		case now := <-ticker.C:
			removed := o.ledger.CleanupOldPositions(now.UTC())
			pruned := o.alerts.PruneResolved(now.UTC().Add(-o.cfg.ResolvedRetention))
			o.escalation.CleanupResolved(pruned)
			if removed > 0 || len(pruned) > 0 {
				o.logger.Info("maintenance pass",
					slog.Int("positions_removed", removed),
					slog.Int("alerts_pruned", len(pruned)),
				)
			}
		}
	}
}
