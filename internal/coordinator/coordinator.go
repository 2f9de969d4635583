// Package coordinator owns the lifecycle of a harvest run: discovery,
// partitioning, the worker fan-out, pause/resume/cancel, and retries of the
// failure ledger. One coordinator runs at most one run at a time.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterharvest/internal/clock/system"
	"github.com/JakeFAU/chapterharvest/internal/control"
	"github.com/JakeFAU/chapterharvest/internal/discovery"
	"github.com/JakeFAU/chapterharvest/internal/harvest"
	"github.com/JakeFAU/chapterharvest/internal/id/uuid"
	"github.com/JakeFAU/chapterharvest/internal/ledger"
	"github.com/JakeFAU/chapterharvest/internal/progress"
	"github.com/JakeFAU/chapterharvest/internal/sink"
	"github.com/JakeFAU/chapterharvest/internal/worker"
)

var (
	// ErrRunActive is returned when a run is requested while another is active.
	ErrRunActive = errors.New("a run is already active")
	// ErrNothingToRetry is returned by Retry when the ledger is empty.
	ErrNothingToRetry = errors.New("no failed items to retry")
	// ErrNoRun is returned by Wait when no run has been started.
	ErrNoRun = errors.New("no run has been started")
	// ErrInvalidRequest wraps every rejected run request.
	ErrInvalidRequest = errors.New("invalid run request")
)

// DefaultMaxWorkers bounds the worker count of a single run.
const DefaultMaxWorkers = 16

// Result is how a run ended.
type Result string

// Run results.
const (
	ResultCompleted Result = "completed"
	ResultNoItems   Result = "no_items"
	ResultCancelled Result = "cancelled"
	ResultFailed    Result = "failed"
)

// Mode distinguishes a listing harvest from a ledger retry.
type Mode string

// Run modes.
const (
	ModeHarvest Mode = "harvest"
	ModeRetry   Mode = "retry"
)

// Config holds run defaults. Zero values take defaults.
type Config struct {
	Workers int
	// MaxWorkers is the largest worker count a request may ask for.
	MaxWorkers int
	Partition  harvest.PartitionStrategy
	Discovery  discovery.Config
	// Worker is the template for every worker; ID is assigned per partition.
	Worker        worker.Config
	RetryDelayMin time.Duration
	RetryDelayMax time.Duration
	MaxNameLength int
	// WritePoll is how often a written file is checked for content.
	WritePoll time.Duration
	GateTick  time.Duration
}

// Deps are the long-lived collaborators shared by every run.
type Deps struct {
	Sessions  harvest.SessionFactory
	Extractor worker.Extractor
	Detector  worker.BlockDetector
	Ledger    *ledger.Ledger
	// Journal is optional. When set, retries can seed from it and recovered
	// items are marked in it.
	Journal *ledger.Journal
	Fs      afero.Fs
	Emitter progress.Emitter
	Clock   harvest.Clock
	IDs     harvest.IDGenerator
	// OnCompleted runs after a harvest run completes with saved items.
	OnCompleted func(req Request)
	Logger      *zap.Logger
}

// Request starts a listing harvest.
type Request struct {
	BaseURL      string `json:"url"`
	Dir          string `json:"dir"`
	StartPage    int    `json:"start_page"`
	Workers      int    `json:"workers"`
	IncludeTitle bool   `json:"include_title"`
	// Headless overrides the session factory default when set.
	Headless *bool `json:"headless,omitempty"`
}

// RetryRequest replays the failure ledger.
type RetryRequest struct {
	Dir          string `json:"dir"`
	IncludeTitle bool   `json:"include_title"`
	Headless     *bool  `json:"headless,omitempty"`
	// FromJournal seeds the ledger with the journal's pending failures first.
	FromJournal bool `json:"from_journal"`
}

// Status is a point-in-time view of the current or last run.
type Status struct {
	RunID      string                             `json:"run_id,omitempty"`
	Mode       Mode                               `json:"mode,omitempty"`
	State      harvest.State                      `json:"state"`
	Result     Result                             `json:"result,omitempty"`
	Discovered int                                `json:"discovered"`
	Saved      int                                `json:"saved"`
	Failed     int                                `json:"failed"`
	Pending    int                                `json:"pending_failures"`
	Progress   map[string]progress.WorkerProgress `json:"progress,omitempty"`
	Workers    []worker.Summary                   `json:"workers,omitempty"`
	Error      string                             `json:"error,omitempty"`
	StartedAt  time.Time                          `json:"started_at,omitzero"`
	FinishedAt time.Time                          `json:"finished_at,omitzero"`
}

// Coordinator runs harvests. It is safe for concurrent use.
type Coordinator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu       sync.Mutex
	state    harvest.State
	resumeTo harvest.State
	current  *run
}

type run struct {
	id       string
	mode     Mode
	gate     *control.Gate
	reporter *runReporter
	started  time.Time
	done     chan struct{}

	// guarded by Coordinator.mu
	discovered int
	result     Result
	err        error
	finished   time.Time
	summaries  []worker.Summary
}

// runReporter counts outcomes for status snapshots on top of the event
// reporter.
type runReporter struct {
	*progress.Reporter
	saved  atomic.Int64
	failed atomic.Int64
}

func (r *runReporter) RecordOutcome(workerID, url string, outcome harvest.Outcome) {
	if outcome == harvest.OutcomeSaved {
		r.saved.Add(1)
	} else if outcome.Terminal() {
		r.failed.Add(1)
	}
	r.Reporter.RecordOutcome(workerID, url, outcome)
}

// New builds a Coordinator. Sessions, Extractor, Detector and Ledger are
// required.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("coordinator: session factory is required")
	case deps.Extractor == nil:
		return nil, errors.New("coordinator: extractor is required")
	case deps.Detector == nil:
		return nil, errors.New("coordinator: block detector is required")
	case deps.Ledger == nil:
		return nil, errors.New("coordinator: ledger is required")
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultMaxWorkers
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	cfg.Workers = min(cfg.Workers, cfg.MaxWorkers)
	if cfg.Partition == "" {
		cfg.Partition = harvest.PartitionParity
	}
	if cfg.RetryDelayMin == 0 && cfg.RetryDelayMax == 0 {
		cfg.RetryDelayMin, cfg.RetryDelayMax = 2*time.Second, 5*time.Second
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.Named("coordinator"),
		state:  harvest.StateIdle,
	}, nil
}

// Start runs a listing harvest and blocks until it ends.
func (c *Coordinator) Start(ctx context.Context, req Request) (Status, error) {
	r, err := c.beginHarvest(req)
	if err != nil {
		return c.Status(), err
	}
	c.executeHarvest(ctx, r, req)
	return c.Status(), r.err
}

// Launch starts a listing harvest in the background and returns its run ID.
// The run is detached from ctx cancellation; use Cancel to stop it.
func (c *Coordinator) Launch(ctx context.Context, req Request) (string, error) {
	r, err := c.beginHarvest(req)
	if err != nil {
		return "", err
	}
	go c.executeHarvest(context.WithoutCancel(ctx), r, req)
	return r.id, nil
}

// Retry replays the failure ledger with a single worker and blocks until it
// ends.
func (c *Coordinator) Retry(ctx context.Context, req RetryRequest) (Status, error) {
	r, records, err := c.beginRetry(req)
	if err != nil {
		return c.Status(), err
	}
	c.executeRetry(ctx, r, req, records)
	return c.Status(), r.err
}

// LaunchRetry starts a retry in the background and returns its run ID.
func (c *Coordinator) LaunchRetry(ctx context.Context, req RetryRequest) (string, error) {
	r, records, err := c.beginRetry(req)
	if err != nil {
		return "", err
	}
	go c.executeRetry(context.WithoutCancel(ctx), r, req, records)
	return r.id, nil
}

// Wait blocks until the current run ends.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil {
		return ErrNoRun
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for run %s: %w", r.id, ctx.Err())
	}
}

// Pause suspends workers and discovery at their next checkpoint. It applies
// while Discovering as well as Harvesting, since the discoverer waits on the
// same gate. It reports whether the run transitioned to paused.
func (c *Coordinator) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || (c.state != harvest.StateHarvesting && c.state != harvest.StateDiscovering) {
		return false
	}
	c.current.gate.Pause()
	c.resumeTo = c.state
	c.state = harvest.StatePaused
	c.current.reporter.Log("Paused.")
	return true
}

// Resume releases a paused run.
func (c *Coordinator) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.state != harvest.StatePaused {
		return false
	}
	c.current.gate.Resume()
	c.state = c.resumeTo
	c.current.reporter.Log("Resumed.")
	return true
}

// Cancel stops the active run. Repeated calls are no-ops.
func (c *Coordinator) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || !c.state.Active() || c.state == harvest.StateCancelling {
		return false
	}
	c.state = harvest.StateCancelling
	c.current.gate.Cancel()
	c.current.reporter.Log("Cancelling...")
	return true
}

// Status returns a snapshot of the current or last run.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state, Pending: c.deps.Ledger.Len()}
	r := c.current
	if r == nil {
		return st
	}
	st.RunID = r.id
	st.Mode = r.mode
	st.Result = r.result
	st.Discovered = r.discovered
	st.Saved = int(r.reporter.saved.Load())
	st.Failed = int(r.reporter.failed.Load())
	st.Progress = r.reporter.Progress()
	st.Workers = append([]worker.Summary(nil), r.summaries...)
	st.StartedAt = r.started
	st.FinishedAt = r.finished
	if r.err != nil {
		st.Error = r.err.Error()
	}
	return st
}

// Failures returns the current failure ledger.
func (c *Coordinator) Failures() []ledger.Record {
	return c.deps.Ledger.Snapshot()
}

func (c *Coordinator) newRun(mode Mode, initial harvest.State) (*run, error) {
	if c.state.Active() {
		return nil, ErrRunActive
	}
	id, err := c.newRunID()
	if err != nil {
		return nil, err
	}
	var opts []control.Option
	if c.cfg.GateTick > 0 {
		opts = append(opts, control.WithTick(c.cfg.GateTick))
	}
	now := c.deps.Clock.Now
	r := &run{
		id:      id,
		mode:    mode,
		gate:    control.New(opts...),
		started: now().UTC(),
		done:    make(chan struct{}),
	}
	r.reporter = &runReporter{Reporter: progress.NewReporter(c.deps.Emitter, progress.ParseRunID(id), now)}
	c.current = r
	c.state = initial
	c.resumeTo = initial
	return r, nil
}

func (c *Coordinator) newRunID() (string, error) {
	id, err := c.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

func (c *Coordinator) beginHarvest(req Request) (*run, error) {
	if err := validateRequest(req, c.cfg.MaxWorkers); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.newRun(ModeHarvest, harvest.StateDiscovering)
	if err != nil {
		return nil, err
	}
	c.deps.Ledger.Reset()
	return r, nil
}

func (c *Coordinator) beginRetry(req RetryRequest) (*run, []ledger.Record, error) {
	if strings.TrimSpace(req.Dir) == "" {
		return nil, nil, fmt.Errorf("%w: output directory is required", ErrInvalidRequest)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Active() {
		return nil, nil, ErrRunActive
	}
	if req.FromJournal && c.deps.Journal != nil {
		pending, err := ledger.LoadPending(c.deps.Journal.Path())
		if err != nil {
			return nil, nil, fmt.Errorf("load journal: %w", err)
		}
		c.deps.Ledger.Seed(pending...)
	}
	if c.deps.Ledger.Len() == 0 {
		return nil, nil, ErrNothingToRetry
	}
	r, err := c.newRun(ModeRetry, harvest.StateHarvesting)
	if err != nil {
		return nil, nil, err
	}
	return r, c.deps.Ledger.Drain(), nil
}

func validateRequest(req Request, maxWorkers int) error {
	if strings.TrimSpace(req.BaseURL) == "" {
		return errors.New("book url is required")
	}
	u, err := url.Parse(req.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid book url %q", req.BaseURL)
	}
	if strings.TrimSpace(req.Dir) == "" {
		return errors.New("output directory is required")
	}
	if req.StartPage < 0 {
		return errors.New("start page must not be negative")
	}
	if req.Workers < 0 || req.Workers > maxWorkers {
		return fmt.Errorf("workers must be between 1 and %d, got %d", maxWorkers, req.Workers)
	}
	return nil
}

// setPhase moves an active run to phase, honoring a pending pause or cancel.
func (c *Coordinator) setPhase(phase harvest.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case harvest.StatePaused:
		c.resumeTo = phase
	case harvest.StateCancelling:
	default:
		c.state = phase
	}
}

func (c *Coordinator) sessions(headless *bool) harvest.SessionFactory {
	if headless == nil {
		return c.deps.Sessions
	}
	if sw, ok := c.deps.Sessions.(harvest.HeadlessSwitcher); ok {
		return sw.WithHeadless(*headless)
	}
	return c.deps.Sessions
}

func (c *Coordinator) newSink(dir string, includeTitle bool) (*sink.Sink, error) {
	s, err := sink.New(c.deps.Fs, sink.Config{
		Dir:           dir,
		IncludeTitle:  includeTitle,
		MaxNameLength: c.cfg.MaxNameLength,
		PollInterval:  c.cfg.WritePoll,
	}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("open output directory: %w", err)
	}
	return s, nil
}

func (c *Coordinator) executeHarvest(ctx context.Context, r *run, req Request) {
	logger := c.logger.With(zap.String("run_id", r.id), zap.String("url", req.BaseURL))
	r.reporter.RunStarted(req.BaseURL)
	logger.Info("harvest started", zap.String("dir", req.Dir))

	out, err := c.newSink(req.Dir, req.IncludeTitle)
	if err != nil {
		c.finish(r, ResultFailed, err, logger)
		return
	}
	sessions := c.sessions(req.Headless)
	startPage := max(1, req.StartPage)

	disc := discovery.New(c.cfg.Discovery, sessions, r.gate, c.deps.Detector, r.reporter, c.deps.Logger)
	r.reporter.Log(fmt.Sprintf("Discovering chapters from page %d...", startPage))
	links, err := disc.Discover(ctx, req.BaseURL, startPage)
	switch {
	case harvest.IsCancelled(err) || r.gate.Cancelled():
		c.finish(r, ResultCancelled, nil, logger)
		return
	case err != nil && links.Len() == 0:
		c.finish(r, ResultFailed, fmt.Errorf("discovery: %w", err), logger)
		return
	case links.Len() == 0:
		r.reporter.LogError("No chapters found. The listing may be blocked or empty.")
		c.finish(r, ResultNoItems, nil, logger)
		return
	}

	c.mu.Lock()
	r.discovered = links.Len()
	c.mu.Unlock()
	r.reporter.Discovered(links.Len())
	r.reporter.Log(fmt.Sprintf("Found %d chapters.", links.Len()))

	n := req.Workers
	if n <= 0 {
		n = c.cfg.Workers
	}
	n = max(1, min(n, links.Len()))
	parts := harvest.Partition(links.Entries(), n, c.cfg.Partition)
	c.setPhase(harvest.StateHarvesting)
	c.runWorkers(ctx, r, parts, sessions, out, c.cfg.Worker, nil, logger)

	result := ResultCompleted
	if r.gate.Cancelled() {
		result = ResultCancelled
	}
	if result == ResultCompleted && r.reporter.saved.Load() > 0 && c.deps.OnCompleted != nil {
		c.deps.OnCompleted(req)
	}
	c.finish(r, result, nil, logger)
}

func (c *Coordinator) executeRetry(ctx context.Context, r *run, req RetryRequest, records []ledger.Record) {
	logger := c.logger.With(zap.String("run_id", r.id), zap.String("mode", string(ModeRetry)))
	r.reporter.RunStarted(fmt.Sprintf("retry %d items", len(records)))
	r.reporter.Log(fmt.Sprintf("Retrying %d failed chapters...", len(records)))
	logger.Info("retry started", zap.Int("items", len(records)))

	out, err := c.newSink(req.Dir, req.IncludeTitle)
	if err != nil {
		// Put the records back so the retry can be attempted again.
		c.deps.Ledger.Seed(records...)
		c.finish(r, ResultFailed, err, logger)
		return
	}

	entries := make([]harvest.LinkEntry, len(records))
	for i, rec := range records {
		entries[i] = harvest.LinkEntry{Key: harvest.ItemKey(i + 1), URL: rec.URL}
	}
	c.mu.Lock()
	r.discovered = len(entries)
	c.mu.Unlock()

	cfg := c.cfg.Worker
	cfg.DelayMin, cfg.DelayMax = c.cfg.RetryDelayMin, c.cfg.RetryDelayMax
	var saved sync.Map
	onSaved := func(entry harvest.LinkEntry, _ string) {
		saved.Store(entry.URL, struct{}{})
		if c.deps.Journal != nil {
			c.deps.Journal.Recovered(entry.URL, c.deps.Clock.Now())
		}
	}
	c.runWorkers(ctx, r, [][]harvest.LinkEntry{entries}, c.sessions(req.Headless), out, cfg, onSaved, logger)

	result := ResultCompleted
	if r.gate.Cancelled() {
		result = ResultCancelled
		// Items the cancelled retry never reached stay pending.
		var unattempted []ledger.Record
		for _, rec := range records {
			if _, ok := saved.Load(rec.URL); !ok {
				unattempted = append(unattempted, rec)
			}
		}
		c.deps.Ledger.Seed(unattempted...)
	}
	c.finish(r, result, nil, logger)
}

func (c *Coordinator) runWorkers(
	ctx context.Context,
	r *run,
	parts [][]harvest.LinkEntry,
	sessions harvest.SessionFactory,
	out *sink.Sink,
	template worker.Config,
	onSaved func(harvest.LinkEntry, string),
	logger *zap.Logger,
) {
	summaries := make([]worker.Summary, len(parts))
	var wg sync.WaitGroup
	for i, part := range parts {
		cfg := template
		cfg.ID = fmt.Sprintf("w%d", i+1)
		if r.mode == ModeRetry {
			cfg.ID = "retry"
		}
		r.reporter.SetTotal(cfg.ID, len(part))
		w := worker.New(cfg, worker.Deps{
			Sessions:  sessions,
			Gate:      r.gate,
			Extractor: c.deps.Extractor,
			Detector:  c.deps.Detector,
			Sink:      out,
			Ledger:    c.deps.Ledger,
			Reporter:  r.reporter,
			OnSaved:   onSaved,
			Logger:    c.deps.Logger,
		})
		wg.Add(1)
		go func(i int, part []harvest.LinkEntry) {
			defer wg.Done()
			summary, err := w.Run(ctx, part)
			summaries[i] = summary
			switch {
			case err == nil:
			case harvest.IsCancelled(err):
				logger.Info("worker stopped by cancellation", zap.String("worker", w.ID()))
			default:
				logger.Warn("worker aborted partition", zap.String("worker", w.ID()), zap.Error(err))
			}
		}(i, part)
	}
	wg.Wait()

	c.mu.Lock()
	r.summaries = summaries
	c.mu.Unlock()
}

func (c *Coordinator) finish(r *run, result Result, err error, logger *zap.Logger) {
	finished := c.deps.Clock.Now().UTC()
	saved := int(r.reporter.saved.Load())
	failed := int(r.reporter.failed.Load())

	c.mu.Lock()
	r.result = result
	r.err = err
	r.finished = finished
	switch result {
	case ResultCancelled:
		c.state = harvest.StateCancelled
	case ResultFailed:
		c.state = harvest.StateFailed
	default:
		c.state = harvest.StateCompleted
	}
	c.mu.Unlock()

	var note string
	switch result {
	case ResultCompleted:
		note = fmt.Sprintf("Done. %d saved, %d failed.", saved, failed)
		r.reporter.Log(note)
	case ResultNoItems:
		note = "No chapters found."
	case ResultCancelled:
		note = fmt.Sprintf("Cancelled. %d saved, %d failed.", saved, failed)
		r.reporter.Log(note)
	case ResultFailed:
		note = err.Error()
		r.reporter.LogError("Run failed: " + note)
	}
	r.reporter.RunFinished(harvest.Outcome(result), saved, finished.Sub(r.started), note)
	logger.Info("run finished",
		zap.String("result", string(result)),
		zap.Int("saved", saved),
		zap.Int("failed", failed),
		zap.Int("pending_failures", c.deps.Ledger.Len()),
		zap.Error(err),
	)
	r.gate.Cancel()
	close(r.done)
}
