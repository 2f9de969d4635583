package session

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterharvest/internal/harvest"
)

// CollyConfig controls the static sessions.
type CollyConfig struct {
	UserAgents []string
	Timeout    time.Duration
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// CollyFactory creates sessions that fetch pages over plain HTTP without
// running scripts. It suits listings that render server-side.
type CollyFactory struct {
	cfg    CollyConfig
	base   *colly.Collector
	logger *zap.Logger
}

// NewCollyFactory builds the shared base collector.
func NewCollyFactory(cfg CollyConfig, logger *zap.Logger) *CollyFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.UserAgents == nil {
		cfg.UserAgents = DefaultUserAgents
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(transport)
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(cfg.Timeout)
	return &CollyFactory{cfg: cfg, base: c, logger: logger}
}

// WithHeadless is a no-op for static sessions.
func (f *CollyFactory) WithHeadless(bool) harvest.SessionFactory {
	return f
}

// NewSession returns a fresh session with its own user agent.
func (f *CollyFactory) NewSession(ctx context.Context) (harvest.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, harvest.Cancelled(err)
	}
	c := f.base.Clone()
	c.UserAgent = PickUserAgent(f.cfg.UserAgents)
	return &collySession{collector: c, logger: f.logger}, nil
}

type collySession struct {
	collector *colly.Collector
	logger    *zap.Logger

	mu     sync.Mutex
	url    string
	source string
	doc    *Document
	closed bool
}

func (s *collySession) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return &harvest.TransportError{Op: "navigate", URL: url, Err: fmt.Errorf("session closed")}
	}

	var (
		body     []byte
		status   int
		fetchErr error
	)
	c := s.collector.Clone()
	c.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		status = r.StatusCode
	})
	c.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return harvest.Cancelled(ctx.Err())
	case err := <-done:
		if err == nil {
			err = fetchErr
		}
		if err != nil {
			return classify(ctx, "navigate", url, err)
		}
	}

	doc, err := ParseDocument(string(body))
	if err != nil {
		return &harvest.TransportError{Op: "navigate", URL: url, Err: err}
	}
	s.logger.Debug("static page fetched", zap.String("url", url), zap.Int("status", status), zap.Int("bytes", len(body)))

	s.mu.Lock()
	s.url, s.source, s.doc = url, string(body), doc
	s.mu.Unlock()
	return nil
}

func (s *collySession) page() (*Document, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return nil, "", fmt.Errorf("no page loaded")
	}
	return s.doc, s.source, nil
}

func (s *collySession) Title(context.Context) (string, error) {
	doc, _, err := s.page()
	if err != nil {
		return "", err
	}
	return doc.Title(), nil
}

func (s *collySession) PageSource(context.Context) (string, error) {
	_, source, err := s.page()
	return source, err
}

func (s *collySession) FindAll(_ context.Context, selector string) ([]harvest.Element, error) {
	doc, _, err := s.page()
	if err != nil {
		return nil, err
	}
	return doc.FindAll(selector), nil
}

func (s *collySession) Find(_ context.Context, selector string) (harvest.Element, error) {
	doc, _, err := s.page()
	if err != nil {
		return nil, err
	}
	return doc.Find(selector)
}

// WaitVisible cannot wait for scripts; the selector is either in the served
// markup or it never will be.
func (s *collySession) WaitVisible(ctx context.Context, selector string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return harvest.Cancelled(err)
	}
	doc, _, err := s.page()
	if err != nil {
		return err
	}
	if !doc.Has(selector) {
		return fmt.Errorf("%s: %w", selector, harvest.ErrContentTimeout)
	}
	return nil
}

func (s *collySession) Quit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.doc = nil
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
