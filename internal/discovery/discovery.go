// Package discovery walks a paginated chapter listing and collects the
// unique, keyed item links.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterharvest/internal/control"
	"github.com/JakeFAU/chapterharvest/internal/harvest"
)

// Config controls listing traversal. Zero values take defaults.
type Config struct {
	// PagePath is appended to the trimmed base URL; %d is the page number.
	PagePath     string
	ItemSelector string
	LinkSelector string
	KeySelector  string
	// KeyPattern extracts a key from the item URL when the key element is
	// missing or unparsable. The first capture group is the key.
	KeyPattern *regexp.Regexp
	DelayMin   time.Duration
	DelayMax   time.Duration
	// MaxPages stops discovery after this many pages. Zero means no cap.
	MaxPages int
}

// DefaultConfig matches the stock listing layout.
func DefaultConfig() Config {
	return Config{
		PagePath:     "/chapters?page=%d",
		ItemSelector: "ul.chapter-list li",
		LinkSelector: "a",
		KeySelector:  "span.chapter-no",
		KeyPattern:   regexp.MustCompile(`/chapter-(\d+(\.\d+)?)`),
		DelayMin:     2 * time.Second,
		DelayMax:     4 * time.Second,
	}
}

// BlockDetector recognises anti-bot pages.
type BlockDetector interface {
	Blocked(title, source string) (bool, string)
}

// Discoverer implements the listing walk.
type Discoverer struct {
	cfg      Config
	sessions harvest.SessionFactory
	gate     *control.Gate
	detector BlockDetector
	reporter harvest.Reporter
	logger   *zap.Logger
}

// New builds a Discoverer.
func New(
	cfg Config,
	sessions harvest.SessionFactory,
	gate *control.Gate,
	detector BlockDetector,
	reporter harvest.Reporter,
	logger *zap.Logger,
) *Discoverer {
	def := DefaultConfig()
	if cfg.PagePath == "" {
		cfg.PagePath = def.PagePath
	}
	if cfg.ItemSelector == "" {
		cfg.ItemSelector = def.ItemSelector
	}
	if cfg.LinkSelector == "" {
		cfg.LinkSelector = def.LinkSelector
	}
	if cfg.KeySelector == "" {
		cfg.KeySelector = def.KeySelector
	}
	if cfg.KeyPattern == nil {
		cfg.KeyPattern = def.KeyPattern
	}
	if cfg.DelayMin == 0 && cfg.DelayMax == 0 {
		cfg.DelayMin, cfg.DelayMax = def.DelayMin, def.DelayMax
	}
	if reporter == nil {
		reporter = harvest.NopReporter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		cfg:      cfg,
		sessions: sessions,
		gate:     gate,
		detector: detector,
		reporter: reporter,
		logger:   logger,
	}
}

// PageURL builds the listing URL for page.
func (d *Discoverer) PageURL(baseURL string, page int) string {
	return strings.TrimRight(baseURL, "/") + fmt.Sprintf(d.cfg.PagePath, page)
}

// Discover walks listing pages from startPage until a page is empty, blocked,
// or fails to load, and returns the frozen link set. Cancellation returns
// the links collected so far together with harvest.ErrCancelled. Failing to
// launch the session returns an empty set and a *harvest.TransportError.
func (d *Discoverer) Discover(ctx context.Context, baseURL string, startPage int) (*harvest.LinkSet, error) {
	links := harvest.NewLinkSet()
	if startPage < 1 {
		startPage = 1
	}
	if _, err := url.Parse(baseURL); err != nil || strings.TrimSpace(baseURL) == "" {
		return links.Freeze(), fmt.Errorf("invalid base url %q", baseURL)
	}

	ctx, cancel := d.gate.Bind(ctx)
	defer cancel()

	sess, err := d.sessions.NewSession(ctx)
	if err != nil {
		if harvest.IsCancelled(err) {
			return links.Freeze(), harvest.Cancelled(err)
		}
		d.reporter.LogError(fmt.Sprintf("discovery session failed to start: %v", err))
		var te *harvest.TransportError
		if !errors.As(err, &te) {
			err = &harvest.TransportError{Op: "launch browser", Err: err}
		}
		return links.Freeze(), err
	}
	defer func() {
		if qErr := sess.Quit(); qErr != nil {
			d.logger.Warn("discovery session quit failed", zap.Error(qErr))
		}
	}()

	for page := startPage; d.cfg.MaxPages <= 0 || page < startPage+d.cfg.MaxPages; page++ {
		if page > startPage {
			if err := d.gate.Delay(ctx, d.cfg.DelayMin, d.cfg.DelayMax); err != nil {
				return links.Freeze(), err
			}
		}
		if err := d.gate.Checkpoint(ctx); err != nil {
			return links.Freeze(), err
		}

		more, err := d.scanPage(ctx, sess, d.PageURL(baseURL, page), links)
		if err != nil {
			return links.Freeze(), err
		}
		if !more {
			break
		}
	}
	d.reporter.Log(fmt.Sprintf("discovery finished: %d items", links.Len()))
	return links.Freeze(), nil
}

// scanPage loads one listing page and adds its items. It reports whether
// discovery should continue with the next page.
func (d *Discoverer) scanPage(ctx context.Context, sess harvest.Session, pageURL string, links *harvest.LinkSet) (bool, error) {
	logger := d.logger.With(zap.String("page_url", pageURL))
	d.reporter.Log("scanning listing " + pageURL)

	if err := sess.Navigate(ctx, pageURL); err != nil {
		if harvest.IsCancelled(err) {
			return false, harvest.Cancelled(err)
		}
		d.reporter.LogError(fmt.Sprintf("listing page failed: %v", err))
		logger.Warn("listing navigation failed, stopping discovery", zap.Error(err))
		return false, nil
	}

	title, err := sess.Title(ctx)
	if err != nil {
		return d.stopOnReadError(err, logger)
	}
	source, err := sess.PageSource(ctx)
	if err != nil {
		return d.stopOnReadError(err, logger)
	}
	if blocked, marker := d.detector.Blocked(title, source); blocked {
		d.reporter.LogError(fmt.Sprintf("listing blocked at %s (%s); keeping %d items", pageURL, marker, links.Len()))
		return false, nil
	}

	items, err := sess.FindAll(ctx, d.cfg.ItemSelector)
	if err != nil {
		return d.stopOnReadError(err, logger)
	}
	if len(items) == 0 {
		d.reporter.Log("no more chapters at " + pageURL)
		return false, nil
	}

	base, _ := url.Parse(pageURL)
	added := 0
	for _, item := range items {
		if err := d.gate.Checkpoint(ctx); err != nil {
			return false, err
		}
		entry, ok := d.parseItem(item, base, logger)
		if !ok {
			continue
		}
		if links.Add(entry.Key, entry.URL) {
			added++
		}
	}
	logger.Debug("listing page scanned", zap.Int("items", len(items)), zap.Int("added", added))
	return true, nil
}

func (d *Discoverer) stopOnReadError(err error, logger *zap.Logger) (bool, error) {
	if harvest.IsCancelled(err) {
		return false, harvest.Cancelled(err)
	}
	d.reporter.LogError(fmt.Sprintf("reading listing page failed: %v", err))
	logger.Warn("listing read failed, stopping discovery", zap.Error(err))
	return false, nil
}

func (d *Discoverer) parseItem(item harvest.Element, base *url.URL, logger *zap.Logger) (harvest.LinkEntry, bool) {
	link, ok := item.Find(d.cfg.LinkSelector)
	if !ok {
		logger.Debug("listing item without link")
		return harvest.LinkEntry{}, false
	}
	href, _ := link.Attr("href")
	href = strings.TrimSpace(href)
	if href == "" {
		logger.Debug("listing item with empty href")
		return harvest.LinkEntry{}, false
	}
	abs := href
	if base != nil {
		if ref, err := url.Parse(href); err == nil {
			abs = base.ResolveReference(ref).String()
		}
	}

	key, err := d.parseKey(item, abs)
	if err != nil {
		d.reporter.LogError(fmt.Sprintf("skipping %s: %v", abs, err))
		return harvest.LinkEntry{}, false
	}
	return harvest.LinkEntry{Key: key, URL: abs}, true
}

// parseKey prefers the listing label. An unparseable label ("Bonus", "Extra")
// falls back to the number in the item URL rather than dropping the item; only
// when neither yields a key is the item skipped.
func (d *Discoverer) parseKey(item harvest.Element, itemURL string) (harvest.ItemKey, error) {
	if el, ok := item.Find(d.cfg.KeySelector); ok {
		if key, err := harvest.ParseItemKey(el.Text()); err == nil {
			return key, nil
		}
	}
	if m := d.cfg.KeyPattern.FindStringSubmatch(itemURL); len(m) > 1 {
		return harvest.ParseItemKey(m[1])
	}
	return 0, fmt.Errorf("no item key found")
}
