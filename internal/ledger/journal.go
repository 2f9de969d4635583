package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Journal outcomes.
const (
	OutcomeFailed    = "failed"
	OutcomeRecovered = "recovered"
)

// Journal appends failure and recovery entries to a JSON-lines file. Each
// line looks like:
//
//	{"outcome":"failed","ts":"2025-01-02T03:04:05Z","url":"...","reason":"..."}
type Journal struct {
	path   string
	file   *os.File
	logger *zap.Logger
}

// OpenJournal opens (creating if needed) the journal at path for appending.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open failure journal: %w", err)
	}
	encCfg := zapcore.EncoderConfig{
		MessageKey:     "outcome",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(zapcore.AddSync(f)), zapcore.DebugLevel)
	return &Journal{path: path, file: f, logger: zap.New(core)}, nil
}

// Path returns the journal location.
func (j *Journal) Path() string {
	return j.path
}

// Failed implements Sink.
func (j *Journal) Failed(rec Record) error {
	j.logger.Info(OutcomeFailed,
		zap.String("ts", rec.At.UTC().Format(time.RFC3339)),
		zap.String("url", rec.URL),
		zap.String("reason", rec.Reason),
	)
	return nil
}

// Recovered marks url as successfully harvested on retry.
func (j *Journal) Recovered(url string, at time.Time) {
	j.logger.Info(OutcomeRecovered,
		zap.String("ts", at.UTC().Format(time.RFC3339)),
		zap.String("url", url),
	)
}

// Close flushes and closes the file.
func (j *Journal) Close() error {
	_ = j.logger.Sync()
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("close failure journal: %w", err)
	}
	return nil
}

type journalLine struct {
	Outcome string `json:"outcome"`
	TS      string `json:"ts"`
	URL     string `json:"url"`
	Reason  string `json:"reason"`
}

// LoadPending reads the journal at path and returns the URLs whose most
// recent entry is a failure, in order of first failure. A missing file
// yields no records. Malformed lines are skipped.
func LoadPending(path string) ([]Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open failure journal: %w", err)
	}
	defer func() { _ = f.Close() }()

	var (
		order  []string
		latest = make(map[string]*Record)
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line journalLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil || line.URL == "" {
			continue
		}
		switch line.Outcome {
		case OutcomeFailed:
			at, _ := time.Parse(time.RFC3339, line.TS)
			if _, seen := latest[line.URL]; !seen {
				order = append(order, line.URL)
			}
			latest[line.URL] = &Record{URL: line.URL, Reason: line.Reason, At: at}
		case OutcomeRecovered:
			latest[line.URL] = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read failure journal: %w", err)
	}

	out := make([]Record, 0, len(order))
	for _, url := range order {
		if rec := latest[url]; rec != nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}
