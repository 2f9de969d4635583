// Package app builds the long-lived services of the harvester from
// configuration and tears them down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterharvest/internal/api"
	"github.com/JakeFAU/chapterharvest/internal/config"
	"github.com/JakeFAU/chapterharvest/internal/coordinator"
	"github.com/JakeFAU/chapterharvest/internal/detector"
	"github.com/JakeFAU/chapterharvest/internal/discovery"
	"github.com/JakeFAU/chapterharvest/internal/extract"
	"github.com/JakeFAU/chapterharvest/internal/harvest"
	"github.com/JakeFAU/chapterharvest/internal/ledger"
	"github.com/JakeFAU/chapterharvest/internal/logging"
	"github.com/JakeFAU/chapterharvest/internal/metrics"
	"github.com/JakeFAU/chapterharvest/internal/policy/ratelimit"
	"github.com/JakeFAU/chapterharvest/internal/progress"
	progresssinks "github.com/JakeFAU/chapterharvest/internal/progress/sinks"
	"github.com/JakeFAU/chapterharvest/internal/session"
	"github.com/JakeFAU/chapterharvest/internal/worker"
)

// Options override pieces of the container, mainly for tests.
type Options struct {
	// Logger replaces the logger built from config.
	Logger *zap.Logger
	// Sessions replaces the configured browser driver.
	Sessions harvest.SessionFactory
	Fs       afero.Fs
	// SettingsPath is where book link and directory are saved after a
	// completed run. Empty uses config.DefaultSettingsFile.
	SettingsPath string
}

// App holds the services shared by every command.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	registry    *prometheus.Registry
	httpMetrics *metrics.HTTP
	hub         *progress.Hub
	tail        *progresssinks.Tail
	journal     *ledger.Journal
	coordinator *coordinator.Coordinator
}

// Build wires the container from cfg.
func Build(cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	a := &App{cfg: cfg, logger: logger}
	a.logger.Info("building application dependencies",
		zap.String("driver", cfg.Browser.Driver),
		zap.Int("workers", cfg.Harvest.Workers),
		zap.Int("server_port", cfg.Server.Port),
	)

	a.registry = metrics.NewRegistry()
	a.httpMetrics = metrics.NewHTTP(a.registry)
	prom, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.setupProgress(prom)

	sessions := opts.Sessions
	if sessions == nil {
		sessions = a.newSessions()
	}
	sessions = ratelimit.WrapFactory(sessions, a.newLimiter(prom))

	keyPattern, err := regexp.Compile(cfg.Listing.KeyPattern)
	if err != nil {
		return nil, fmt.Errorf("listing.key_pattern: %w", err)
	}

	led, err := a.setupLedger()
	if err != nil {
		a.closeInfrastructure(context.Background())
		return nil, err
	}

	partition, err := harvest.ParsePartitionStrategy(cfg.Harvest.Partition)
	if err != nil {
		a.closeInfrastructure(context.Background())
		return nil, fmt.Errorf("harvest.partition: %w", err)
	}

	deps := coordinator.Deps{
		Sessions:  sessions,
		Extractor: extract.New(extractConfig(cfg.Extract)),
		Detector:  detector.New(cfg.Detector.TitleMarkers, cfg.Detector.BodyMarkers),
		Ledger:    led,
		Journal:   a.journal,
		Fs:        opts.Fs,
		Emitter:   a.hub,
		Logger:    logger,
	}
	if cfg.Harvest.SaveSettings {
		settingsPath := opts.SettingsPath
		deps.OnCompleted = func(req coordinator.Request) {
			if err := config.SaveSettings(settingsPath, req.BaseURL, req.Dir); err != nil {
				a.logger.Warn("save settings failed", zap.Error(err))
				return
			}
			a.logger.Info("settings saved", zap.String("book_link", req.BaseURL), zap.String("dir", req.Dir))
		}
	}

	a.coordinator, err = coordinator.New(coordinator.Config{
		Workers:    cfg.Harvest.Workers,
		MaxWorkers: cfg.Harvest.MaxWorkers,
		Partition:  partition,
		Discovery: discovery.Config{
			PagePath:     cfg.Listing.PagePath,
			ItemSelector: cfg.Listing.ItemSelector,
			LinkSelector: cfg.Listing.LinkSelector,
			KeySelector:  cfg.Listing.KeySelector,
			KeyPattern:   keyPattern,
			DelayMin:     cfg.Timing.DiscoveryDelayMin,
			DelayMax:     cfg.Timing.DiscoveryDelayMax,
			MaxPages:     cfg.Listing.MaxPages,
		},
		Worker: worker.Config{
			DelayMin:        cfg.Timing.ItemDelayMin,
			DelayMax:        cfg.Timing.ItemDelayMax,
			ContentSelector: cfg.Extract.ContentSelector,
			ContentTimeout:  cfg.Timing.ContentTimeout,
			WriteTimeout:    cfg.Timing.WriteTimeout,
		},
		RetryDelayMin: cfg.Timing.RetryDelayMin,
		RetryDelayMax: cfg.Timing.RetryDelayMax,
		MaxNameLength: cfg.Harvest.MaxNameLength,
		WritePoll:     cfg.Timing.WritePoll,
	}, deps)
	if err != nil {
		a.closeInfrastructure(context.Background())
		return nil, fmt.Errorf("coordinator init failed: %w", err)
	}
	return a, nil
}

func (a *App) setupProgress(prom *progresssinks.PrometheusSink) {
	a.tail = progresssinks.NewTail(a.cfg.Progress.TailSize)
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg,
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		prom,
		a.tail,
	)
	a.logger.Debug("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Int("tail_size", a.cfg.Progress.TailSize),
	)
}

func (a *App) newSessions() harvest.SessionFactory {
	b := a.cfg.Browser
	logger := a.logger.Named("session")
	if b.Driver == "colly" {
		a.logger.Info("using static colly sessions")
		return session.NewCollyFactory(session.CollyConfig{
			UserAgents: b.UserAgents,
			Timeout:    b.PageLoadTimeout,
		}, logger)
	}
	a.logger.Info("using chromedp sessions", zap.Bool("headless", b.Headless))
	return session.NewChromedpFactory(session.ChromedpConfig{
		Headless:        b.Headless,
		UserAgents:      b.UserAgents,
		PageLoadTimeout: b.PageLoadTimeout,
		QueryTimeout:    b.QueryTimeout,
		WindowWidth:     b.WindowWidth,
		WindowHeight:    b.WindowHeight,
		ExecPath:        b.ExecPath,
	}, logger)
}

func (a *App) newLimiter(prom *progresssinks.PrometheusSink) *ratelimit.Limiter {
	if a.cfg.RateLimit.RPS <= 0 {
		a.logger.Info("navigation rate limit disabled")
		return nil
	}
	return ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.RateLimit.RPS,
		DefaultBurst: a.cfg.RateLimit.Burst,
		Observe:      prom.ObserveRateLimitDelay,
	})
}

func (a *App) setupLedger() (*ledger.Ledger, error) {
	path := a.cfg.Ledger.JournalPath
	if path == "" {
		a.logger.Warn("no failure journal configured, failures are kept in memory only")
		return ledger.New(), nil
	}
	journal, err := ledger.OpenJournal(path)
	if err != nil {
		return nil, fmt.Errorf("failure journal init failed: %w", err)
	}
	a.journal = journal
	a.logger.Info("failure journal opened", zap.String("path", path))
	return ledger.New(ledger.WithSink(journal, func(err error) {
		a.logger.Warn("failure journal write failed", zap.Error(err))
	})), nil
}

func extractConfig(c config.ExtractConfig) extract.Config {
	cfg := extract.DefaultConfig()
	cfg.Selectors = extract.Selectors{
		ContentRoot: c.ContentSelector,
		BookTitle:   c.BookTitleSelector,
		ItemTitle:   c.ItemTitleSelector,
	}
	if c.NoiseSelectors != nil {
		cfg.NoiseSelectors = c.NoiseSelectors
	}
	return cfg
}

// Config returns the configuration the container was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Coordinator returns the run coordinator.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coordinator
}

// Tail returns the recent run messages.
func (a *App) Tail() *progresssinks.Tail {
	return a.tail
}

// Registry returns the Prometheus registry holding every collector.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Handler builds the control-plane HTTP handler.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.coordinator, api.Options{
		Auth:       a.cfg.Auth,
		Defaults:   a.cfg.Harvest,
		Tail:       a.tail,
		Metrics:    metrics.Handler(a.registry),
		Instrument: a.httpMetrics.Middleware,
		Logger:     a.logger.Named("api"),
	}).Handler()
}

// Serve runs the control-plane server until ctx ends or SIGINT/SIGTERM
// arrives, then cancels any active run and shuts down.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.coordinator.Cancel() {
		a.logger.Info("cancelling active run")
		if err := a.coordinator.Wait(shutdownCtx); err != nil && !errors.Is(err, coordinator.ErrNoRun) {
			a.logger.Warn("run did not stop before shutdown", zap.Error(err))
		}
	}
	return serveErr
}

// Close flushes progress sinks and releases the journal.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("failure journal close failed", zap.Error(err))
		}
	}
}
