package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tradewatch/sentinel/internal/domain"
	"github.com/tradewatch/sentinel/internal/feed"
	"github.com/tradewatch/sentinel/internal/notify"
	"github.com/tradewatch/sentinel/internal/pipeline"
	"github.com/tradewatch/sentinel/internal/server"
	"github.com/tradewatch/sentinel/internal/server/handler"
	"github.com/tradewatch/sentinel/internal/server/ws"
	"github.com/tradewatch/sentinel/internal/service"
)

// services bundles the domain services shared by all modes.
type services struct {
	thresholds *service.ThresholdService
	escalation *service.EscalationService
	notes      *service.NotificationService
	alerts     *service.AlertService
	ledger     *service.PositionLedger
	exposure   *service.ExposureService
}

// MonitorMode runs ingestion and the background lifecycle loops without the
// HTTP API.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	svcs := a.buildServices(deps)
	orch := a.buildOrchestrator(ctx, deps, svcs, true)
	return orch.Run(ctx)
}

// ServerMode runs the HTTP + WebSocket API plus the alert lifecycle loops
// (escalation, retry, maintenance), but no ingestion feeds.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	orch := a.buildOrchestrator(ctx, deps, svcs, false)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// FullMode runs every subsystem: ingestion feeds, lifecycle loops, archival,
// and the HTTP + WebSocket API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	orch := a.buildOrchestrator(ctx, deps, svcs, true)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}

	return g.Wait()
}

// buildServices constructs the service layer on top of the wired
// infrastructure. Postgres-backed stores may be nil; the services treat them
// as optional write-behind history.
func (a *App) buildServices(deps *Dependencies) *services {
	thresholds := service.NewThresholdService(service.DefaultThresholds(), a.logger)

	escalation := service.NewEscalationService(service.EscalationConfig{
		InitialDelays: map[domain.AlertSeverity]time.Duration{
			domain.SeverityCritical: a.cfg.Escalation.CriticalDelay.Duration,
			domain.SeverityHigh:     a.cfg.Escalation.HighDelay.Duration,
			domain.SeverityMedium:   a.cfg.Escalation.MediumDelay.Duration,
			domain.SeverityLow:      a.cfg.Escalation.LowDelay.Duration,
		},
		BackoffFactor: float64(a.cfg.Escalation.BackoffFactor),
		MaxLevel:      a.cfg.Escalation.MaxLevel,
	}, a.logger)

	dispatcher := notify.NewDispatcher(a.buildSenders(deps), a.logger)

	notes := service.NewNotificationService(dispatcher, deps.SignalBus, deps.NotificationStore,
		service.NotificationConfig{
			MaxAttempts:  a.cfg.Notify.MaxAttempts,
			RetryBackoff: a.cfg.Notify.RetryBackoff.Duration,
		}, a.logger)

	alerts := service.NewAlertService(thresholds, escalation, notes, deps.SignalBus,
		deps.AlertStore, a.recipients(), a.logger)

	ledger := service.NewPositionLedger(deps.PriceCache, service.LedgerConfig{
		MaxExposureUSD:    a.cfg.Ledger.MaxExposureUSD,
		InactivityTimeout: a.cfg.Ledger.InactivityTimeout.Duration,
	}, a.logger)

	exposure := service.NewExposureService(ledger, deps.PriceCache, service.ExposureConfig{
		HistorySize: a.cfg.Exposure.HistorySize,
	}, a.logger)

	return &services{
		thresholds: thresholds,
		escalation: escalation,
		notes:      notes,
		alerts:     alerts,
		ledger:     ledger,
		exposure:   exposure,
	}
}

// buildSenders creates one sender per configured notification channel. The
// WebSocket sender is always available since the signal bus always exists.
func (a *App) buildSenders(deps *Dependencies) []notify.Sender {
	senders := []notify.Sender{notify.NewWebSocketSender(deps.SignalBus)}

	if a.cfg.Notify.SlackWebhookURL != "" {
		senders = append(senders, notify.NewSlackSender(a.cfg.Notify.SlackWebhookURL))
	}
	if a.cfg.Notify.EmailHost != "" {
		senders = append(senders, notify.NewEmailSender(notify.EmailConfig{
			Host:     a.cfg.Notify.EmailHost,
			Port:     a.cfg.Notify.EmailPort,
			Username: a.cfg.Notify.EmailUsername,
			Password: a.cfg.Notify.EmailPassword,
			From:     a.cfg.Notify.EmailFrom,
			DefaultTo: func() string {
				if len(a.cfg.Notify.EmailTo) > 0 {
					return a.cfg.Notify.EmailTo[0]
				}
				return ""
			}(),
		}))
	}
	return senders
}

// recipients maps each channel to the recipients of initial (level 0)
// notifications. Channels without configured recipients fall back to the
// sender's default.
func (a *App) recipients() map[domain.NotificationChannel][]string {
	out := make(map[domain.NotificationChannel][]string)
	if a.cfg.Notify.SlackChannel != "" {
		out[domain.ChannelSlack] = []string{a.cfg.Notify.SlackChannel}
	}
	if len(a.cfg.Notify.EmailTo) > 0 {
		out[domain.ChannelEmail] = a.cfg.Notify.EmailTo
	}
	return out
}

// buildOrchestrator assembles the background loop runner. When withFeeds is
// false the trade feed and gas watcher are left out (server mode). A gas
// watcher dial failure degrades to a warning; the rest of the monitor runs.
func (a *App) buildOrchestrator(ctx context.Context, deps *Dependencies, svcs *services, withFeeds bool) *pipeline.Orchestrator {
	var tradeFeed *feed.TradeFeed
	var gasWatcher *feed.GasWatcher

	if withFeeds {
		tradeFeed = feed.NewTradeFeed(deps.SignalBus, svcs.ledger, svcs.exposure, svcs.alerts,
			feed.TradeFeedConfig{
				BatchSize:    a.cfg.Pipeline.TradeBatchSize,
				PollInterval: a.cfg.Pipeline.TradePollInterval.Duration,
			}, a.logger)

		if a.cfg.Eth.Enabled {
			gw, err := feed.NewGasWatcher(ctx, svcs.alerts, feed.GasWatcherConfig{
				RPCURL:   a.cfg.Eth.RPCURL,
				Interval: a.cfg.Eth.GasInterval.Duration,
			}, a.logger)
			if err != nil {
				a.logger.WarnContext(ctx, "gas watcher disabled",
					slog.String("rpc_url", a.cfg.Eth.RPCURL),
					slog.String("error", err.Error()),
				)
			} else {
				gasWatcher = gw
			}
		}
	}

	return pipeline.NewOrchestrator(
		tradeFeed,
		gasWatcher,
		svcs.alerts,
		svcs.notes,
		svcs.escalation,
		svcs.ledger,
		a.buildArchiver(deps),
		pipeline.OrchestratorConfig{
			EscalationInterval:  a.cfg.Pipeline.EscalationInterval.Duration,
			RetryInterval:       a.cfg.Pipeline.RetryInterval.Duration,
			MaintenanceInterval: a.cfg.Pipeline.MaintenanceInterval.Duration,
			ResolvedRetention:   a.cfg.Pipeline.ResolvedRetention.Duration,
			ArchiveCron:         a.cfg.Pipeline.ArchiveCron,
		},
		a.logger,
	)
}

// buildArchiver returns the cold-storage archive runner, or nil when S3 (or
// Postgres) is disabled.
func (a *App) buildArchiver(deps *Dependencies) *pipeline.Archiver {
	if deps.Archiver == nil {
		return nil
	}
	return pipeline.NewArchiver(deps.Archiver, deps.LockManager,
		a.cfg.Pipeline.ArchiveRetentionDays, a.logger)
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Alerts:     handler.NewAlertHandler(svcs.alerts, svcs.notes, a.logger),
		Thresholds: handler.NewThresholdHandler(svcs.thresholds, a.logger),
		Exposure:   handler.NewExposureHandler(svcs.ledger, svcs.exposure, a.logger),
		Archive:    handler.NewArchiveHandler(deps.BlobReader, a.buildArchiver(deps), a.logger),
		Audit:      handler.NewAuditHandler(deps.AuditStore, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
