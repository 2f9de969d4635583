package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterharvest/internal/control"
	"github.com/JakeFAU/chapterharvest/internal/detector"
	"github.com/JakeFAU/chapterharvest/internal/extract"
	"github.com/JakeFAU/chapterharvest/internal/harvest"
	"github.com/JakeFAU/chapterharvest/internal/ledger"
	"github.com/JakeFAU/chapterharvest/internal/session/sessiontest"
	"github.com/JakeFAU/chapterharvest/internal/sink"
)

type mockReporter struct {
	mock.Mock
}

func (m *mockReporter) Log(message string)      { m.Called(message) }
func (m *mockReporter) LogError(message string) { m.Called(message) }
func (m *mockReporter) SetProgress(workerID string, value int) {
	m.Called(workerID, value)
}

func (m *mockReporter) RecordOutcome(workerID, url string, outcome harvest.Outcome) {
	m.Called(workerID, url, outcome)
}

func newMockReporter() *mockReporter {
	r := &mockReporter{}
	r.On("Log", mock.Anything).Maybe()
	r.On("LogError", mock.Anything).Maybe()
	r.On("SetProgress", mock.Anything, mock.Anything).Maybe()
	return r
}

func chapterURL(n int) string {
	return fmt.Sprintf("https://novels.example/book/demo/chapter-%d", n)
}

func entry(n int) harvest.LinkEntry {
	return harvest.LinkEntry{Key: harvest.ItemKey(n), URL: chapterURL(n)}
}

func goodPage(n int) sessiontest.Page {
	title := fmt.Sprintf("Chapter %d", n)
	return sessiontest.Page{Title: title, HTML: sessiontest.ChapterHTML("Demo Book", title, "It was a quiet night.", "“Who goes there?”")}
}

type fixture struct {
	site     *sessiontest.Site
	factory  *sessiontest.Factory
	gate     *control.Gate
	fs       afero.Fs
	ledger   *ledger.Ledger
	reporter *mockReporter
	deps     Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	out, err := sink.New(fs, sink.Config{Dir: "/out", PollInterval: 5 * time.Millisecond}, nil)
	require.NoError(t, err)

	f := &fixture{
		site:     sessiontest.NewSite(),
		gate:     control.New(control.WithTick(5 * time.Millisecond)),
		fs:       fs,
		ledger:   ledger.New(),
		reporter: newMockReporter(),
	}
	f.factory = sessiontest.NewFactory(f.site)
	f.deps = Deps{
		Sessions:  f.factory,
		Gate:      f.gate,
		Extractor: extract.New(extract.Config{}),
		Detector:  detector.New(nil, nil),
		Sink:      out,
		Ledger:    f.ledger,
		Reporter:  f.reporter,
	}
	return f
}

func (f *fixture) allowAnyOutcome() {
	f.reporter.On("RecordOutcome", mock.Anything, mock.Anything, mock.Anything).Maybe()
}

func fastConfig(id string) Config {
	return Config{ID: id, DelayMin: time.Millisecond, DelayMax: 2 * time.Millisecond, WriteTimeout: 50 * time.Millisecond}
}

func files(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	infos, err := afero.ReadDir(fs, "/out")
	require.NoError(t, err)
	var names []string
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names
}

func TestProcessSavesItem(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.site.Set(chapterURL(1), goodPage(1))
	var saved []string
	f.deps.OnSaved = func(e harvest.LinkEntry, path string) { saved = append(saved, e.URL+"="+path) }
	w := New(fastConfig("w1"), f.deps)

	sess, err := f.factory.NewSession(context.Background())
	require.NoError(t, err)
	res := w.Process(context.Background(), sess, entry(1))

	require.Equal(t, harvest.OutcomeSaved, res.Outcome)
	require.Equal(t, "/out/Demo Book - Chapter 1.txt", res.Path)
	raw, err := afero.ReadFile(f.fs, res.Path)
	require.NoError(t, err)
	require.Equal(t, "It was a quiet night.\n\n“Who goes there?”\n", string(raw))
	require.Equal(t, []string{chapterURL(1) + "=" + res.Path}, saved)
	require.Zero(t, f.ledger.Len())
}

// TestProcessFailureOutcomes walks each failure class through Process.
func TestProcessFailureOutcomes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		page    *sessiontest.Page
		outcome harvest.Outcome
		reason  string
		dump    string
	}{
		{
			name:    "blocked",
			page:    &sessiontest.Page{Title: "Error 1015", HTML: "<html><body>You are being rate limited</body></html>"},
			outcome: harvest.OutcomeBlocked,
			reason:  harvest.ReasonBlocked,
		},
		{
			name:    "access denied body",
			page:    &sessiontest.Page{Title: "Chapter", HTML: "<html><body><h1>Access denied</h1><div id=\"content\">x</div></body></html>"},
			outcome: harvest.OutcomeBlocked,
			reason:  harvest.ReasonBlocked,
		},
		{
			name:    "content never visible",
			page:    &sessiontest.Page{Title: "Chapter", HTML: sessiontest.ChapterHTML("B", "T", "Some words here."), Hidden: true},
			outcome: harvest.OutcomeContentTimeout,
			reason:  harvest.ReasonContentTimeout,
			dump:    "FAILED_EMPTY_CONTENT_chapter-1.html",
		},
		{
			name:    "missing book title",
			page:    &sessiontest.Page{Title: "Chapter", HTML: `<span class="chapter-title">T</span><div id="content"><p>Some words here.</p></div>`},
			outcome: harvest.OutcomeMissingFields,
			reason:  harvest.ReasonMissingFields,
			dump:    "FAILED_MISSING_FIELDS_chapter-1.html",
		},
		{
			name:    "navigation error",
			page:    &sessiontest.Page{Err: errors.New("net::ERR_CONNECTION_RESET")},
			outcome: harvest.OutcomeTransport,
		},
		{
			name:    "unscripted url",
			outcome: harvest.OutcomeTransport,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			if tc.page != nil {
				f.site.Set(chapterURL(1), *tc.page)
			}
			w := New(fastConfig("w1"), f.deps)
			sess, err := f.factory.NewSession(context.Background())
			require.NoError(t, err)

			res := w.Process(context.Background(), sess, entry(1))
			require.Equal(t, tc.outcome, res.Outcome)
			require.Error(t, res.Err)

			records := f.ledger.Snapshot()
			require.Len(t, records, 1)
			require.Equal(t, chapterURL(1), records[0].URL)
			if tc.reason != "" {
				require.Equal(t, tc.reason, records[0].Reason)
			} else {
				require.Contains(t, records[0].Reason, "transport: ")
			}

			names := files(t, f.fs)
			if tc.dump != "" {
				require.Equal(t, []string{tc.dump}, names)
			} else {
				require.Empty(t, names)
			}
		})
	}
}

type stubSink struct {
	FileSink
	confirmErr error
	writeErr   error
}

func (s *stubSink) WriteItem(context.Context, string, string, string) (string, error) {
	return "/out/item.txt", s.writeErr
}

func (s *stubSink) Confirm(context.Context, string, time.Duration) error {
	return s.confirmErr
}

func (s *stubSink) DumpRawPage(string, string, string) (string, error) {
	return "/out/dump.html", nil
}

func TestProcessWriteTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.site.Set(chapterURL(1), goodPage(1))
	f.deps.Sink = &stubSink{confirmErr: fmt.Errorf("x: %w", harvest.ErrFileWriteTimeout)}
	w := New(fastConfig("w1"), f.deps)
	sess, err := f.factory.NewSession(context.Background())
	require.NoError(t, err)

	res := w.Process(context.Background(), sess, entry(1))
	require.Equal(t, harvest.OutcomeWriteTimeout, res.Outcome)
	require.Equal(t, harvest.ReasonWriteTimeout, f.ledger.Snapshot()[0].Reason)
}

func TestProcessWriteErrorIsGeneral(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.site.Set(chapterURL(1), goodPage(1))
	f.deps.Sink = &stubSink{writeErr: errors.New("read-only filesystem")}
	w := New(fastConfig("w1"), f.deps)
	sess, err := f.factory.NewSession(context.Background())
	require.NoError(t, err)

	res := w.Process(context.Background(), sess, entry(1))
	require.Equal(t, harvest.OutcomeGeneral, res.Outcome)
	var ee *harvest.ExtractionError
	require.ErrorAs(t, res.Err, &ee)
	require.Equal(t, "general error: read-only filesystem", f.ledger.Snapshot()[0].Reason)
}

type panickingExtractor struct{}

func (panickingExtractor) Extract(string) (extract.Item, error) {
	panic("selector engine exploded")
}

func TestProcessRecoversPanics(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.site.Set(chapterURL(1), goodPage(1))
	f.deps.Extractor = panickingExtractor{}
	w := New(fastConfig("w1"), f.deps)
	sess, err := f.factory.NewSession(context.Background())
	require.NoError(t, err)

	res := w.Process(context.Background(), sess, entry(1))
	require.Equal(t, harvest.OutcomeGeneral, res.Outcome)
	require.Contains(t, f.ledger.Snapshot()[0].Reason, "panic: selector engine exploded")
	require.Equal(t, []string{"FAILED_GENERAL_EXCEPTION_chapter-1.html"}, files(t, f.fs))
}

// TestRunMixedPartition checks every entry ends as exactly one file or one
// ledger record, in partition order.
func TestRunMixedPartition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.site.
		Set(chapterURL(1), goodPage(1)).
		Set(chapterURL(3), sessiontest.BlockedPage()).
		Set(chapterURL(5), goodPage(5)).
		Set(chapterURL(7), sessiontest.Page{Title: "Chapter 7", HTML: sessiontest.ChapterHTML("Demo Book", "Chapter 7", "x"), Hidden: true})
	f.reporter.On("RecordOutcome", "w1", chapterURL(1), harvest.OutcomeSaved).Once()
	f.reporter.On("RecordOutcome", "w1", chapterURL(3), harvest.OutcomeBlocked).Once()
	f.reporter.On("RecordOutcome", "w1", chapterURL(5), harvest.OutcomeSaved).Once()
	f.reporter.On("RecordOutcome", "w1", chapterURL(7), harvest.OutcomeContentTimeout).Once()

	w := New(fastConfig("w1"), f.deps)
	summary, err := w.Run(context.Background(), []harvest.LinkEntry{entry(1), entry(3), entry(5), entry(7)})
	require.NoError(t, err)

	require.Equal(t, 4, summary.Processed)
	require.Equal(t, 2, summary.Saved)
	require.Equal(t, 2, summary.Failed)
	require.Equal(t, 4, w.Processed())
	require.Equal(t, []string{chapterURL(1), chapterURL(3), chapterURL(5), chapterURL(7)}, f.site.Visited())
	require.Equal(t, 2, f.ledger.Len())
	require.Len(t, files(t, f.fs), 3, "two items plus one empty-content dump")
	require.Zero(t, f.factory.Open())
	f.reporter.AssertExpectations(t)
	f.reporter.AssertCalled(t, "SetProgress", "w1", 4)
}

func TestRunEmptyPartitionLaunchesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	summary, err := New(fastConfig("w1"), f.deps).Run(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, summary.Assigned)
	require.Zero(t, f.factory.Launched())
}

// TestRunCancelStopsPartition cancels while the second item is loading.
func TestRunCancelStopsPartition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.allowAnyOutcome()
	f.site.
		Set(chapterURL(1), goodPage(1)).
		Set(chapterURL(2), sessiontest.Page{Title: "Chapter 2", HTML: goodPage(2).HTML, Latency: 10 * time.Second}).
		Set(chapterURL(3), goodPage(3))
	f.factory.OnNavigate = func(url string) {
		if url == chapterURL(2) {
			f.gate.Cancel()
		}
	}

	start := time.Now()
	summary, err := New(fastConfig("w1"), f.deps).Run(context.Background(), []harvest.LinkEntry{entry(1), entry(2), entry(3)})
	require.ErrorIs(t, err, harvest.ErrCancelled)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, 1, summary.Saved)
	require.Zero(t, f.ledger.Len(), "cancelled items are not failures")
	require.Zero(t, f.site.Visits(chapterURL(3)))
	require.Len(t, files(t, f.fs), 1)
	require.Zero(t, f.factory.Open())
}

func TestRunSessionLaunchFailureRecordsPartition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.allowAnyOutcome()
	f.factory.FailLaunches = 1
	summary, err := New(fastConfig("w1"), f.deps).Run(context.Background(), []harvest.LinkEntry{entry(2), entry(4)})

	var te *harvest.TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, 2, summary.Failed)
	records := f.ledger.Snapshot()
	require.Len(t, records, 2)
	require.Equal(t, harvest.ReasonSessionLost, records[0].Reason)
}

func TestRunRelaunchesAfterTransportFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.allowAnyOutcome()
	f.site.Set(chapterURL(4), goodPage(4))
	cfg := fastConfig("w1")
	cfg.MaxTransportFailures = 3

	summary, err := New(cfg, f.deps).Run(context.Background(), []harvest.LinkEntry{entry(1), entry(2), entry(3), entry(4)})
	require.NoError(t, err)
	require.Equal(t, 3, summary.Failed)
	require.Equal(t, 1, summary.Saved)
	require.Equal(t, 2, f.factory.Launched())
	require.Zero(t, f.factory.Open())
}
