// Package sink persists harvested items and failure page dumps to a
// directory. All I/O goes through an afero.Fs so the pipeline can run
// against an in-memory filesystem in tests.
package sink

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterharvest/internal/harvest"
)

// Raw dump tags.
const (
	DumpEmptyContent     = "EMPTY_CONTENT"
	DumpMissingFields    = "MISSING_FIELDS"
	DumpGeneralException = "GENERAL_EXCEPTION"
)

// Config controls file naming and confirmation.
type Config struct {
	Dir           string
	IncludeTitle  bool
	MaxNameLength int
	PollInterval  time.Duration
}

// Sink writes item files under Config.Dir.
type Sink struct {
	fs     afero.Fs
	cfg    Config
	logger *zap.Logger
}

// New returns a sink over fs. A nil fs means the OS filesystem.
func New(fs afero.Fs, cfg Config, logger *zap.Logger) (*Sink, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("sink directory is required")
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = DefaultMaxNameLength
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if err := fs.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", cfg.Dir, err)
	}
	return &Sink{fs: fs, cfg: cfg, logger: logger}, nil
}

// Dir returns the output directory.
func (s *Sink) Dir() string {
	return s.cfg.Dir
}

// ItemPath returns the file path an item will be written to.
func (s *Sink) ItemPath(book, item string) string {
	return filepath.Join(s.cfg.Dir, ItemFileName(book, item, s.cfg.MaxNameLength))
}

// WriteItem writes one item file and returns its path. When IncludeTitle is
// set the item title heads the file, followed by a blank line.
func (s *Sink) WriteItem(ctx context.Context, book, item, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", harvest.Cancelled(err)
	}
	target := s.ItemPath(book, item)
	var b strings.Builder
	if s.cfg.IncludeTitle {
		b.WriteString(item)
		b.WriteString("\n\n")
	}
	b.WriteString(body)
	b.WriteString("\n")
	if err := afero.WriteFile(s.fs, target, []byte(b.String()), 0o600); err != nil {
		return "", fmt.Errorf("write item %s: %w", target, err)
	}
	return target, nil
}

// Confirm polls until path exists with non-zero size, returning
// harvest.ErrFileWriteTimeout once timeout elapses.
func (s *Sink) Confirm(ctx context.Context, path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if info, err := s.fs.Stat(path); err == nil && info.Size() > 0 {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%s: %w", path, harvest.ErrFileWriteTimeout)
		}
		timer := time.NewTimer(min(s.cfg.PollInterval, time.Until(deadline)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return harvest.Cancelled(ctx.Err())
		case <-timer.C:
		}
	}
}

// DumpRawPage saves the page source of a failed item for later inspection.
// The file is named FAILED_<tag>_<last URL segment>.html.
func (s *Sink) DumpRawPage(url, tag, source string) (string, error) {
	tail := strings.TrimRight(url, "/")
	if idx := strings.LastIndex(tail, "/"); idx >= 0 {
		tail = tail[idx+1:]
	}
	if tail == "" {
		tail = "unknown_url"
	}
	prefix, ext := "FAILED_"+tag+"_", ".html"
	tail = truncateBytes(SanitizeFileName(tail, s.cfg.MaxNameLength), MaxFileNameBytes-len(prefix)-len(ext))
	target := filepath.Join(s.cfg.Dir, prefix+tail+ext)
	if err := afero.WriteFile(s.fs, target, []byte(source), 0o600); err != nil {
		return "", fmt.Errorf("write raw dump %s: %w", target, err)
	}
	s.logger.Debug("saved failure page source", zap.String("url", url), zap.String("path", target), zap.String("tag", tag))
	return target, nil
}
