// Package sessiontest provides a deterministic in-memory harvest.Session for
// exercising discovery and harvesting without a browser.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/chapterharvest/internal/harvest"
	"github.com/JakeFAU/chapterharvest/internal/session"
)

// ErrNotFound is returned when navigating to a URL the site does not serve.
var ErrNotFound = errors.New("page not scripted")

// Page is a scripted response.
type Page struct {
	Title string
	HTML  string
	// Hidden makes WaitVisible time out even when the selector is present.
	Hidden bool
	// Err fails navigation.
	Err error
	// Latency delays navigation, honouring context cancellation.
	Latency time.Duration
}

// Site maps URLs to pages and records visits. It is safe for concurrent use.
type Site struct {
	mu      sync.Mutex
	pages   map[string]Page
	visited []string
}

// NewSite returns an empty site.
func NewSite() *Site {
	return &Site{pages: make(map[string]Page)}
}

// Set scripts url.
func (s *Site) Set(url string, page Page) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = page
	return s
}

// Visited returns every navigation in order.
func (s *Site) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visited...)
}

// Visits counts navigations to url.
func (s *Site) Visits(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.visited {
		if v == url {
			n++
		}
	}
	return n
}

func (s *Site) lookup(url string) (Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visited = append(s.visited, url)
	p, ok := s.pages[url]
	return p, ok
}

// Factory hands out sessions over a Site.
type Factory struct {
	Site *Site
	// FailLaunches makes the first n NewSession calls fail.
	FailLaunches int
	// OnNavigate, when set, runs before every navigation.
	OnNavigate func(url string)

	mu       sync.Mutex
	launches int
	sessions []*Session
	headless []bool
}

// NewFactory returns a factory over site.
func NewFactory(site *Site) *Factory {
	return &Factory{Site: site}
}

// NewSession implements harvest.SessionFactory.
func (f *Factory) NewSession(ctx context.Context) (harvest.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, harvest.Cancelled(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches++
	if f.launches <= f.FailLaunches {
		return nil, &harvest.TransportError{Op: "launch browser", Err: errors.New("browser unavailable")}
	}
	s := &Session{site: f.Site, onNavigate: f.OnNavigate}
	f.sessions = append(f.sessions, s)
	return s, nil
}

// WithHeadless records the requested mode and returns the same factory.
func (f *Factory) WithHeadless(headless bool) harvest.SessionFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headless = append(f.headless, headless)
	return f
}

// HeadlessRequests returns every WithHeadless argument.
func (f *Factory) HeadlessRequests() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.headless...)
}

// Launched returns the number of sessions successfully created.
func (f *Factory) Launched() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// Open returns the number of sessions not yet quit.
func (f *Factory) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	open := 0
	for _, s := range f.sessions {
		if !s.Quitted() {
			open++
		}
	}
	return open
}

// Session is the fake harvest.Session.
type Session struct {
	site       *Site
	onNavigate func(url string)

	mu      sync.Mutex
	url     string
	page    *Page
	doc     *session.Document
	quitted bool
	quits   int
}

// Navigate loads the scripted page for url.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return harvest.Cancelled(err)
	}
	if s.onNavigate != nil {
		s.onNavigate(url)
	}
	page, ok := s.site.lookup(url)
	if page.Latency > 0 {
		timer := time.NewTimer(page.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return harvest.Cancelled(ctx.Err())
		case <-timer.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quitted {
		return &harvest.TransportError{Op: "navigate", URL: url, Err: errors.New("session quit")}
	}
	s.url = url
	s.page, s.doc = nil, nil
	if !ok {
		return &harvest.TransportError{Op: "navigate", URL: url, Err: ErrNotFound}
	}
	if page.Err != nil {
		return &harvest.TransportError{Op: "navigate", URL: url, Err: page.Err}
	}
	doc, err := session.ParseDocument(page.HTML)
	if err != nil {
		return &harvest.TransportError{Op: "navigate", URL: url, Err: err}
	}
	s.page, s.doc = &page, doc
	return nil
}

func (s *Session) current() (*Page, *session.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil, nil, fmt.Errorf("no page loaded")
	}
	return s.page, s.doc, nil
}

// Title returns the scripted title.
func (s *Session) Title(context.Context) (string, error) {
	page, _, err := s.current()
	if err != nil {
		return "", err
	}
	return page.Title, nil
}

// PageSource returns the scripted HTML.
func (s *Session) PageSource(context.Context) (string, error) {
	page, _, err := s.current()
	if err != nil {
		return "", err
	}
	return page.HTML, nil
}

// FindAll queries the scripted HTML.
func (s *Session) FindAll(_ context.Context, selector string) ([]harvest.Element, error) {
	_, doc, err := s.current()
	if err != nil {
		return nil, err
	}
	return doc.FindAll(selector), nil
}

// Find queries the scripted HTML.
func (s *Session) Find(_ context.Context, selector string) (harvest.Element, error) {
	_, doc, err := s.current()
	if err != nil {
		return nil, err
	}
	return doc.Find(selector)
}

// WaitVisible succeeds immediately when the selector is present and the page
// is not Hidden; otherwise it times out immediately.
func (s *Session) WaitVisible(ctx context.Context, selector string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return harvest.Cancelled(err)
	}
	page, doc, err := s.current()
	if err != nil {
		return err
	}
	if page.Hidden || !doc.Has(selector) {
		return fmt.Errorf("%s: %w", selector, harvest.ErrContentTimeout)
	}
	return nil
}

// Quit marks the session closed.
func (s *Session) Quit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quitted = true
	s.quits++
	return nil
}

// Quitted reports whether Quit was called.
func (s *Session) Quitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quitted
}
