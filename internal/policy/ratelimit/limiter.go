// Package ratelimit paces navigations per host with token buckets. It sits
// under the jittered worker delays as a hard ceiling on request rate across
// every session of a run.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/chapterharvest/internal/harvest"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	observe      func(host string, waited time.Duration)
}

// Config holds rate limiter configuration. A non-positive RPS disables
// limiting.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// Observe, when set, is called after every wait that actually blocked.
	Observe func(host string, waited time.Duration)
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		observe:      cfg.Observe,
	}
}

// Wait blocks until a token is available for the URL's host.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return harvest.Cancelled(ctx.Err())
		}
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond && l.observe != nil {
		l.observe(host, waited)
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// WrapFactory returns a factory whose sessions wait on l before every
// navigation. A nil limiter returns factory unchanged.
func WrapFactory(factory harvest.SessionFactory, l *Limiter) harvest.SessionFactory {
	if l == nil {
		return factory
	}
	return &limitedFactory{next: factory, limiter: l}
}

type limitedFactory struct {
	next    harvest.SessionFactory
	limiter *Limiter
}

func (f *limitedFactory) NewSession(ctx context.Context) (harvest.Session, error) {
	sess, err := f.next.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	return &limitedSession{Session: sess, limiter: f.limiter}, nil
}

// WithHeadless forwards to the wrapped factory when it supports switching.
func (f *limitedFactory) WithHeadless(headless bool) harvest.SessionFactory {
	sw, ok := f.next.(harvest.HeadlessSwitcher)
	if !ok {
		return f
	}
	return &limitedFactory{next: sw.WithHeadless(headless), limiter: f.limiter}
}

type limitedSession struct {
	harvest.Session
	limiter *Limiter
}

func (s *limitedSession) Navigate(ctx context.Context, rawURL string) error {
	if err := s.limiter.Wait(ctx, rawURL); err != nil {
		return err
	}
	return s.Session.Navigate(ctx, rawURL)
}
