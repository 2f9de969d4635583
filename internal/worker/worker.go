// Package worker implements the per-partition harvest loop: navigate to each
// item in order, detect blocks, wait for content, extract, persist, and
// record every failure without stopping the partition.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterharvest/internal/control"
	"github.com/JakeFAU/chapterharvest/internal/extract"
	"github.com/JakeFAU/chapterharvest/internal/harvest"
	"github.com/JakeFAU/chapterharvest/internal/sink"
)

// Config controls Worker behavior.
type Config struct {
	ID string
	// DelayMin and DelayMax bound the jittered pause between items.
	DelayMin time.Duration
	DelayMax time.Duration
	// ContentSelector must become visible before extraction.
	ContentSelector string
	ContentTimeout  time.Duration
	WriteTimeout    time.Duration
	// MaxTransportFailures consecutive navigation failures trigger a session
	// relaunch.
	MaxTransportFailures int
}

// Extractor turns page source into an item.
type Extractor interface {
	Extract(rawPage string) (extract.Item, error)
}

// BlockDetector recognises anti-bot pages.
type BlockDetector interface {
	Blocked(title, source string) (bool, string)
}

// FileSink persists items and failure dumps.
type FileSink interface {
	WriteItem(ctx context.Context, book, item, body string) (string, error)
	Confirm(ctx context.Context, path string, timeout time.Duration) error
	DumpRawPage(url, tag, source string) (string, error)
}

// FailureRecorder is the failure ledger.
type FailureRecorder interface {
	Record(url, reason string) bool
}

// Deps are the collaborators shared by every worker of a run.
type Deps struct {
	Sessions  harvest.SessionFactory
	Gate      *control.Gate
	Extractor Extractor
	Detector  BlockDetector
	Sink      FileSink
	Ledger    FailureRecorder
	Reporter  harvest.Reporter
	// OnSaved runs after an item file is confirmed.
	OnSaved func(entry harvest.LinkEntry, path string)
	Logger  *zap.Logger
}

// Result is the terminal outcome of one item.
type Result struct {
	Entry   harvest.LinkEntry
	Outcome harvest.Outcome
	Path    string
	Reason  string
	Err     error
}

// Summary tallies a partition.
type Summary struct {
	WorkerID  string                  `json:"worker_id"`
	Assigned  int                     `json:"assigned"`
	Processed int                     `json:"processed"`
	Saved     int                     `json:"saved"`
	Failed    int                     `json:"failed"`
	Outcomes  map[harvest.Outcome]int `json:"outcomes"`
}

// Worker processes one partition with its own session.
type Worker struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	processed atomic.Int64
	saved     atomic.Int64
	failed    atomic.Int64
}

// New constructs a Worker.
func New(cfg Config, deps Deps) *Worker {
	if cfg.ID == "" {
		cfg.ID = "worker"
	}
	if cfg.DelayMin == 0 && cfg.DelayMax == 0 {
		cfg.DelayMin, cfg.DelayMax = time.Second, 3*time.Second
	}
	if cfg.ContentSelector == "" {
		cfg.ContentSelector = extract.DefaultSelectors().ContentRoot
	}
	if cfg.ContentTimeout <= 0 {
		cfg.ContentTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.MaxTransportFailures <= 0 {
		cfg.MaxTransportFailures = 3
	}
	if deps.Reporter == nil {
		deps.Reporter = harvest.NopReporter{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Worker{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.Named("worker").With(zap.String("worker", cfg.ID)),
	}
}

// ID returns the worker identifier.
func (w *Worker) ID() string {
	return w.cfg.ID
}

// Processed returns the number of items that reached a terminal outcome.
func (w *Worker) Processed() int {
	return int(w.processed.Load())
}

// Run processes entries strictly in order. It returns early with
// harvest.ErrCancelled on cancellation, or with a *harvest.TransportError if
// no session can be obtained; in the latter case the unprocessed entries are
// recorded as failures so they can be retried.
func (w *Worker) Run(ctx context.Context, entries []harvest.LinkEntry) (Summary, error) {
	summary := Summary{WorkerID: w.cfg.ID, Assigned: len(entries), Outcomes: make(map[harvest.Outcome]int)}
	if len(entries) == 0 {
		return summary, nil
	}

	ctx, cancel := w.deps.Gate.Bind(ctx)
	defer cancel()

	sess, err := w.launch(ctx)
	if err != nil {
		return summary, w.abandon(entries, &summary, err)
	}
	defer func() { w.quit(sess) }()

	consecutiveTransport := 0
	for i, entry := range entries {
		if i > 0 {
			if err := w.deps.Gate.Delay(ctx, w.cfg.DelayMin, w.cfg.DelayMax); err != nil {
				return summary, err
			}
		}

		res := w.Process(ctx, sess, entry)
		if res.Outcome == harvest.OutcomeCancelled {
			w.logger.Info("partition cancelled", zap.Int("processed", summary.Processed), zap.Int("remaining", len(entries)-i))
			return summary, harvest.Cancelled(res.Err)
		}
		w.tally(&summary, res)

		if res.Outcome != harvest.OutcomeTransport {
			consecutiveTransport = 0
			continue
		}
		consecutiveTransport++
		if consecutiveTransport < w.cfg.MaxTransportFailures || i == len(entries)-1 {
			continue
		}
		w.logger.Warn("relaunching session after repeated transport failures", zap.Int("failures", consecutiveTransport))
		w.quit(sess)
		sess, err = w.launch(ctx)
		if err != nil {
			sess = nil
			return summary, w.abandon(entries[i+1:], &summary, err)
		}
		consecutiveTransport = 0
	}
	return summary, nil
}

func (w *Worker) launch(ctx context.Context) (harvest.Session, error) {
	sess, err := w.deps.Sessions.NewSession(ctx)
	if err != nil {
		if harvest.IsCancelled(err) {
			return nil, harvest.Cancelled(err)
		}
		var te *harvest.TransportError
		if !errors.As(err, &te) {
			err = &harvest.TransportError{Op: "launch browser", Err: err}
		}
		return nil, err
	}
	return sess, nil
}

func (w *Worker) quit(sess harvest.Session) {
	if sess == nil {
		return
	}
	if err := sess.Quit(); err != nil {
		w.logger.Warn("session quit failed", zap.Error(err))
	}
}

// abandon records every remaining entry as lost when the session cannot be
// (re)started.
func (w *Worker) abandon(entries []harvest.LinkEntry, summary *Summary, err error) error {
	if harvest.IsCancelled(err) {
		return err
	}
	w.deps.Reporter.LogError(fmt.Sprintf("[%s] session unavailable, abandoning %d items: %v", w.cfg.ID, len(entries), err))
	for _, entry := range entries {
		w.tally(summary, w.fail(entry, harvest.OutcomeTransport, harvest.ReasonSessionLost, err))
	}
	return err
}

func (w *Worker) tally(summary *Summary, res Result) {
	summary.Processed++
	summary.Outcomes[res.Outcome]++
	n := w.processed.Add(1)
	if res.Outcome == harvest.OutcomeSaved {
		summary.Saved++
		w.saved.Add(1)
	} else {
		summary.Failed++
		w.failed.Add(1)
	}
	w.deps.Reporter.RecordOutcome(w.cfg.ID, res.Entry.URL, res.Outcome)
	w.deps.Reporter.SetProgress(w.cfg.ID, int(n))
}

// Process runs the full pipeline for one entry. It never panics and never
// returns a non-terminal outcome other than OutcomeCancelled.
func (w *Worker) Process(ctx context.Context, sess harvest.Session, entry harvest.LinkEntry) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			w.logger.Error("recovered panic while processing item", zap.String("url", entry.URL), zap.Any("panic", r))
			res = w.general(ctx, sess, entry, err)
		}
	}()

	if err := w.deps.Gate.Checkpoint(ctx); err != nil {
		return cancelled(entry, err)
	}
	logger := w.logger.With(zap.String("url", entry.URL), zap.Stringer("key", entry.Key))
	logger.Debug("processing item")

	if err := sess.Navigate(ctx, entry.URL); err != nil {
		if harvest.IsCancelled(err) {
			return cancelled(entry, err)
		}
		return w.fail(entry, harvest.OutcomeTransport, "transport: "+err.Error(), err)
	}

	title, err := sess.Title(ctx)
	if err != nil {
		return w.readFailure(ctx, sess, entry, err)
	}
	source, err := sess.PageSource(ctx)
	if err != nil {
		return w.readFailure(ctx, sess, entry, err)
	}
	if blocked, marker := w.deps.Detector.Blocked(title, source); blocked {
		logger.Warn("blocked page", zap.String("marker", marker))
		return w.fail(entry, harvest.OutcomeBlocked, harvest.ReasonBlocked, harvest.ErrBlocked)
	}

	if err := sess.WaitVisible(ctx, w.cfg.ContentSelector, w.cfg.ContentTimeout); err != nil {
		switch {
		case harvest.IsCancelled(err):
			return cancelled(entry, err)
		case errors.Is(err, harvest.ErrContentTimeout):
			w.dump(ctx, sess, entry, sink.DumpEmptyContent)
			return w.fail(entry, harvest.OutcomeContentTimeout, harvest.ReasonContentTimeout, err)
		default:
			return w.general(ctx, sess, entry, err)
		}
	}

	source, err = sess.PageSource(ctx)
	if err != nil {
		return w.readFailure(ctx, sess, entry, err)
	}
	item, err := w.deps.Extractor.Extract(source)
	if err != nil {
		var missing *harvest.MissingFieldError
		if errors.As(err, &missing) {
			logger.Warn("extraction missing field", zap.String("field", missing.Field))
			w.dumpSource(entry, sink.DumpMissingFields, source)
			return w.fail(entry, harvest.OutcomeMissingFields, harvest.ReasonMissingFields, err)
		}
		return w.general(ctx, sess, entry, err)
	}

	path, err := w.deps.Sink.WriteItem(ctx, item.BookTitle, item.ItemTitle, item.Body)
	if err != nil {
		if harvest.IsCancelled(err) {
			return cancelled(entry, err)
		}
		return w.general(ctx, sess, entry, err)
	}
	if err := w.deps.Sink.Confirm(ctx, path, w.cfg.WriteTimeout); err != nil {
		if harvest.IsCancelled(err) {
			return cancelled(entry, err)
		}
		return w.fail(entry, harvest.OutcomeWriteTimeout, harvest.ReasonWriteTimeout, err)
	}

	logger.Info("item saved", zap.String("path", path))
	w.deps.Reporter.Log(fmt.Sprintf("[%s] saved %s", w.cfg.ID, path))
	if w.deps.OnSaved != nil {
		w.deps.OnSaved(entry, path)
	}
	return Result{Entry: entry, Outcome: harvest.OutcomeSaved, Path: path}
}

func cancelled(entry harvest.LinkEntry, err error) Result {
	return Result{Entry: entry, Outcome: harvest.OutcomeCancelled, Err: err}
}

func (w *Worker) readFailure(ctx context.Context, sess harvest.Session, entry harvest.LinkEntry, err error) Result {
	if harvest.IsCancelled(err) {
		return cancelled(entry, err)
	}
	return w.general(ctx, sess, entry, err)
}

func (w *Worker) general(ctx context.Context, sess harvest.Session, entry harvest.LinkEntry, err error) Result {
	w.dump(ctx, sess, entry, sink.DumpGeneralException)
	wrapped := &harvest.ExtractionError{URL: entry.URL, Err: err}
	return w.fail(entry, harvest.OutcomeGeneral, "general error: "+err.Error(), wrapped)
}

func (w *Worker) fail(entry harvest.LinkEntry, outcome harvest.Outcome, reason string, err error) Result {
	w.deps.Ledger.Record(entry.URL, reason)
	w.deps.Reporter.LogError(fmt.Sprintf("[%s] %s: %s", w.cfg.ID, entry.URL, reason))
	w.logger.Warn("item failed", zap.String("url", entry.URL), zap.String("outcome", string(outcome)), zap.Error(err))
	return Result{Entry: entry, Outcome: outcome, Reason: reason, Err: err}
}

// dump saves the current page source, best effort.
func (w *Worker) dump(ctx context.Context, sess harvest.Session, entry harvest.LinkEntry, tag string) {
	if sess == nil {
		return
	}
	source, err := sess.PageSource(ctx)
	if err != nil {
		w.logger.Debug("page source unavailable for dump", zap.String("url", entry.URL), zap.Error(err))
		return
	}
	w.dumpSource(entry, tag, source)
}

func (w *Worker) dumpSource(entry harvest.LinkEntry, tag, source string) {
	if _, err := w.deps.Sink.DumpRawPage(entry.URL, tag, source); err != nil {
		w.deps.Reporter.LogError(fmt.Sprintf("[%s] saving failure page for %s: %v", w.cfg.ID, entry.URL, err))
	}
}
