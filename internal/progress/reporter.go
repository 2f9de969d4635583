package progress

import (
	"sync"
	"time"

	"github.com/JakeFAU/chapterharvest/internal/harvest"
)

// Reporter implements harvest.Reporter over an Emitter for a single run.
// Worker progress is also kept locally so status snapshots do not depend on
// event delivery.
type Reporter struct {
	emitter Emitter
	runID   [16]byte
	now     func() time.Time

	mu       sync.Mutex
	progress map[string]int
	totals   map[string]int
}

// NewReporter binds emitter to runID. A nil now uses time.Now.
func NewReporter(emitter Emitter, runID [16]byte, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{
		emitter:  emitter,
		runID:    runID,
		now:      now,
		progress: make(map[string]int),
		totals:   make(map[string]int),
	}
}

func (r *Reporter) emit(evt Event) {
	if r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	evt.TS = r.now().UTC()
	r.emitter.Emit(evt)
}

// Log implements harvest.Reporter.
func (r *Reporter) Log(message string) {
	r.emit(Event{Stage: StageLog, Note: message})
}

// LogError implements harvest.Reporter.
func (r *Reporter) LogError(message string) {
	r.emit(Event{Stage: StageLogError, Note: message})
}

// SetTotal records the partition size for a worker's progress bar. Totals are
// never below one so a bar for an empty partition renders as complete.
func (r *Reporter) SetTotal(workerID string, total int) {
	r.mu.Lock()
	r.totals[workerID] = max(1, total)
	r.mu.Unlock()
}

// SetProgress implements harvest.Reporter.
func (r *Reporter) SetProgress(workerID string, value int) {
	r.mu.Lock()
	r.progress[workerID] = value
	total := r.totals[workerID]
	r.mu.Unlock()
	r.emit(Event{Stage: StageProgress, Worker: workerID, Value: value, Total: total})
}

// RecordOutcome implements harvest.Reporter.
func (r *Reporter) RecordOutcome(workerID, url string, outcome harvest.Outcome) {
	r.emit(Event{Stage: StageItemDone, Worker: workerID, URL: url, Outcome: outcome})
}

// Discovered reports the number of links found.
func (r *Reporter) Discovered(count int) {
	r.emit(Event{Stage: StageDiscovered, Value: count})
}

// RunStarted reports the start of the run.
func (r *Reporter) RunStarted(note string) {
	r.emit(Event{Stage: StageRunStart, Note: note})
}

// RunFinished reports the run result.
func (r *Reporter) RunFinished(result harvest.Outcome, saved int, dur time.Duration, note string) {
	r.emit(Event{Stage: StageRunDone, Outcome: result, Value: saved, Dur: dur, Note: note})
}

// WorkerProgress is one worker's bar.
type WorkerProgress struct {
	Value int `json:"value"`
	Total int `json:"total"`
}

// Progress returns a snapshot of every worker's progress.
func (r *Reporter) Progress() map[string]WorkerProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]WorkerProgress, len(r.totals))
	for id, total := range r.totals {
		out[id] = WorkerProgress{Value: r.progress[id], Total: total}
	}
	for id, v := range r.progress {
		if _, ok := out[id]; !ok {
			out[id] = WorkerProgress{Value: v, Total: max(1, v)}
		}
	}
	return out
}
