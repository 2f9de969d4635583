package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterharvest/internal/harvest"
)

// ChromedpConfig controls the Chrome sessions.
type ChromedpConfig struct {
	Headless        bool
	UserAgents      []string
	PageLoadTimeout time.Duration
	QueryTimeout    time.Duration
	WindowWidth     int
	WindowHeight    int
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
}

// ChromedpFactory launches one Chrome process per session so a crash or a
// block on one worker never leaks into another.
type ChromedpFactory struct {
	cfg    ChromedpConfig
	logger *zap.Logger
}

// NewChromedpFactory returns a factory with defaults applied.
func NewChromedpFactory(cfg ChromedpConfig, logger *zap.Logger) *ChromedpFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageLoadTimeout <= 0 {
		cfg.PageLoadTimeout = 60 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 15 * time.Second
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1920, 1080
	}
	if cfg.UserAgents == nil {
		cfg.UserAgents = DefaultUserAgents
	}
	return &ChromedpFactory{cfg: cfg, logger: logger}
}

// WithHeadless returns a copy of the factory with the headless flag set.
func (f *ChromedpFactory) WithHeadless(headless bool) harvest.SessionFactory {
	clone := *f
	clone.cfg.Headless = headless
	return &clone
}

func (f *ChromedpFactory) allocatorOptions(userAgent string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if f.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false), chromedp.Flag("hide-scrollbars", false))
	}
	opts = append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(f.cfg.WindowWidth, f.cfg.WindowHeight),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	return opts
}

// NewSession starts a browser and waits for it to be ready.
func (f *ChromedpFactory) NewSession(ctx context.Context) (harvest.Session, error) {
	userAgent := PickUserAgent(f.cfg.UserAgents)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), f.allocatorOptions(userAgent)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	stopForward := forwardCancel(ctx, browserCancel)
	warmup := chromedp.ActionFunc(func(ctx context.Context) error {
		if userAgent == "" {
			return nil
		}
		return emulation.SetUserAgentOverride(userAgent).Do(ctx)
	})
	err := chromedp.Run(browserCtx, warmup)
	stopForward()
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, classify(ctx, "launch browser", "", err)
	}

	f.logger.Debug("chrome session started", zap.Bool("headless", f.cfg.Headless), zap.String("user_agent", userAgent))
	return &chromedpSession{
		cfg:           f.cfg,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

type chromedpSession struct {
	cfg           ChromedpConfig
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	mu      sync.Mutex
	current string
	quit    sync.Once
}

func (s *chromedpSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	s.current = url
	s.mu.Unlock()
	return classify(ctx, "navigate", url, s.run(ctx, s.cfg.PageLoadTimeout, chromedp.Navigate(url)))
}

func (s *chromedpSession) currentURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *chromedpSession) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, s.cfg.QueryTimeout, chromedp.Title(&title)); err != nil {
		return "", classify(ctx, "read title", s.currentURL(), err)
	}
	return title, nil
}

func (s *chromedpSession) PageSource(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, s.cfg.QueryTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", classify(ctx, "read page source", s.currentURL(), err)
	}
	return html, nil
}

func (s *chromedpSession) document(ctx context.Context) (*Document, error) {
	source, err := s.PageSource(ctx)
	if err != nil {
		return nil, err
	}
	return ParseDocument(source)
}

func (s *chromedpSession) FindAll(ctx context.Context, selector string) ([]harvest.Element, error) {
	doc, err := s.document(ctx)
	if err != nil {
		return nil, err
	}
	return doc.FindAll(selector), nil
}

func (s *chromedpSession) Find(ctx context.Context, selector string) (harvest.Element, error) {
	doc, err := s.document(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Find(selector)
}

func (s *chromedpSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	err := s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", selector, harvest.ErrContentTimeout)
	}
	return classify(ctx, "wait visible", s.currentURL(), err)
}

func (s *chromedpSession) Quit() error {
	s.quit.Do(func() {
		_ = chromedp.Cancel(s.browserCtx)
		s.browserCancel()
		s.allocCancel()
	})
	return nil
}

// forwardCancel cancels when parent is done, until the returned stop func is
// called.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
