package harvest

import (
	"context"
	"time"
)

// Element is a located DOM node. Implementations are snapshots: they do not
// change when the page navigates away.
type Element interface {
	Text() string
	Attr(name string) (string, bool)
	Find(selector string) (Element, bool)
}

// Session is one exclusively-owned rendering context. A Session is not safe
// for concurrent use; every worker and the discoverer own their own.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Title(ctx context.Context) (string, error)
	PageSource(ctx context.Context) (string, error)
	FindAll(ctx context.Context, selector string) ([]Element, error)
	Find(ctx context.Context, selector string) (Element, error)
	// WaitVisible blocks until selector is visible, returning ErrContentTimeout
	// once timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Quit() error
}

// SessionFactory launches new sessions.
type SessionFactory interface {
	NewSession(ctx context.Context) (Session, error)
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func(ctx context.Context) (Session, error)

// NewSession calls f.
func (f SessionFactoryFunc) NewSession(ctx context.Context) (Session, error) {
	return f(ctx)
}

// HeadlessSwitcher is implemented by factories whose browser visibility can be
// chosen per run.
type HeadlessSwitcher interface {
	WithHeadless(headless bool) SessionFactory
}

// Reporter receives fire-and-forget progress from workers and the
// discoverer. Implementations must be safe for concurrent use.
type Reporter interface {
	Log(message string)
	LogError(message string)
	SetProgress(workerID string, value int)
	RecordOutcome(workerID, url string, outcome Outcome)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// NopReporter discards everything.
type NopReporter struct{}

// Log implements Reporter.
func (NopReporter) Log(string) {}

// LogError implements Reporter.
func (NopReporter) LogError(string) {}

// SetProgress implements Reporter.
func (NopReporter) SetProgress(string, int) {}

// RecordOutcome implements Reporter.
func (NopReporter) RecordOutcome(string, string, Outcome) {}
