// Package ledger records per-item failures for a run. The in-memory Ledger
// feeds retries; the Journal persists the same records as JSON lines so a
// later process can pick them up.
package ledger

import (
	"sync"
	"time"
)

// Record is one terminal per-item failure.
type Record struct {
	URL    string    `json:"url"`
	Reason string    `json:"reason"`
	At     time.Time `json:"ts"`
}

// Sink receives every newly recorded failure.
type Sink interface {
	Failed(rec Record) error
}

// Ledger is a concurrency-safe, URL-deduplicated failure list. Records keep
// insertion order; recording a URL that is already present is a no-op.
type Ledger struct {
	mu      sync.Mutex
	records []Record
	index   map[string]int
	now     func() time.Time
	sink    Sink
	onError func(error)
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSink mirrors newly recorded failures to s. Sink errors go to onError
// and never fail the record itself.
func WithSink(s Sink, onError func(error)) Option {
	return func(l *Ledger) {
		l.sink = s
		l.onError = onError
	}
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		index: make(map[string]int),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends a failure unless the URL is already recorded. It reports
// whether the record was added.
func (l *Ledger) Record(url, reason string) bool {
	l.mu.Lock()
	if _, exists := l.index[url]; exists {
		l.mu.Unlock()
		return false
	}
	rec := Record{URL: url, Reason: reason, At: l.now().UTC()}
	l.index[url] = len(l.records)
	l.records = append(l.records, rec)
	sink, onError := l.sink, l.onError
	l.mu.Unlock()

	if sink != nil {
		if err := sink.Failed(rec); err != nil && onError != nil {
			onError(err)
		}
	}
	return true
}

// Seed loads records without mirroring them to the sink. Duplicates are
// skipped. It returns the number of records added.
func (l *Ledger) Seed(records ...Record) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	added := 0
	for _, rec := range records {
		if _, exists := l.index[rec.URL]; exists || rec.URL == "" {
			continue
		}
		l.index[rec.URL] = len(l.records)
		l.records = append(l.records, rec)
		added++
	}
	return added
}

// Snapshot returns a copy of the records in insertion order.
func (l *Ledger) Snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.records...)
}

// Drain returns the records and clears the ledger atomically.
func (l *Ledger) Drain() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.records
	l.records = nil
	l.index = make(map[string]int)
	return out
}

// Reset clears the ledger.
func (l *Ledger) Reset() {
	l.Drain()
}

// Len returns the number of recorded failures.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Contains reports whether url has a failure recorded.
func (l *Ledger) Contains(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[url]
	return ok
}
