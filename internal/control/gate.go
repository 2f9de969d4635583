// Package control implements the rate gate shared by the discoverer and the
// harvest workers of a single run: one pause flag, one cancellation signal,
// jittered delays, and checkpoints that observe both.
package control

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/JakeFAU/chapterharvest/internal/harvest"
)

// DefaultTick bounds how long a sleeping caller can go without noticing a
// cancel or pause.
const DefaultTick = 100 * time.Millisecond

// Gate is the run-scoped pause/cancel signal. The zero value is not usable;
// call New.
type Gate struct {
	tick time.Duration

	mu     sync.Mutex
	paused bool
	resume chan struct{} // closed while not paused

	done       chan struct{}
	cancelOnce sync.Once
}

// Option customizes a Gate.
type Option func(*Gate)

// WithTick overrides the sleep granularity.
func WithTick(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.tick = d
		}
	}
}

// New returns an open, unpaused gate.
func New(opts ...Option) *Gate {
	resume := make(chan struct{})
	close(resume)
	g := &Gate{
		tick:   DefaultTick,
		resume: resume,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Pause raises the pause flag. It reports false if the gate was already
// paused or has been cancelled.
func (g *Gate) Pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused || g.isCancelled() {
		return false
	}
	g.paused = true
	g.resume = make(chan struct{})
	return true
}

// Resume clears the pause flag and releases every waiter.
func (g *Gate) Resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return false
	}
	g.paused = false
	close(g.resume)
	return true
}

// Paused reports the current pause flag.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Cancel fires the cancellation signal. It is idempotent and also releases
// any paused waiters.
func (g *Gate) Cancel() {
	g.cancelOnce.Do(func() {
		close(g.done)
		g.Resume()
	})
}

// Cancelled reports whether Cancel has been called.
func (g *Gate) Cancelled() bool {
	return g.isCancelled()
}

// Done is closed once the gate is cancelled.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

func (g *Gate) isCancelled() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

func (g *Gate) err(ctx context.Context) error {
	if g.isCancelled() {
		return harvest.ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return harvest.Cancelled(err)
	}
	return nil
}

// Checkpoint returns harvest.ErrCancelled if the run was cancelled, and
// otherwise blocks while the gate is paused.
func (g *Gate) Checkpoint(ctx context.Context) error {
	for {
		if err := g.err(ctx); err != nil {
			return err
		}
		g.mu.Lock()
		paused, resume := g.paused, g.resume
		g.mu.Unlock()
		if !paused {
			return nil
		}
		select {
		case <-resume:
		case <-g.done:
			return harvest.ErrCancelled
		case <-ctx.Done():
			return harvest.Cancelled(ctx.Err())
		}
	}
}

// Sleep waits for d in ticks, checkpointing before each one. Time spent
// paused does not count toward d.
func (g *Gate) Sleep(ctx context.Context, d time.Duration) error {
	remaining := d
	for {
		if err := g.Checkpoint(ctx); err != nil {
			return err
		}
		if remaining <= 0 {
			return nil
		}
		step := min(g.tick, remaining)
		timer := time.NewTimer(step)
		select {
		case <-timer.C:
		case <-g.done:
			timer.Stop()
			return harvest.ErrCancelled
		case <-ctx.Done():
			timer.Stop()
			return harvest.Cancelled(ctx.Err())
		}
		remaining -= step
	}
}

// Delay sleeps for a uniformly random duration in [minDelay, maxDelay].
func (g *Gate) Delay(ctx context.Context, minDelay, maxDelay time.Duration) error {
	return g.Sleep(ctx, Jitter(minDelay, maxDelay))
}

// Bind derives a context that is cancelled when either parent or the gate is.
// Blocking session calls use it so a cancel interrupts them mid-flight.
func (g *Gate) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-g.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Jitter returns a uniformly random duration in [minDelay, maxDelay]. Swapped
// bounds are tolerated.
func Jitter(minDelay, maxDelay time.Duration) time.Duration {
	if maxDelay < minDelay {
		minDelay, maxDelay = maxDelay, minDelay
	}
	if minDelay < 0 {
		minDelay = 0
	}
	span := maxDelay - minDelay
	if span <= 0 {
		return minDelay
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)+1))
	if err != nil {
		return minDelay + span/2
	}
	return minDelay + time.Duration(n.Int64())
}
