package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterharvest/internal/harvest"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureEmitter) Emit(evt Event) {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()
}

func TestReporterStampsEvents(t *testing.T) {
	t.Parallel()

	emitter := &captureEmitter{}
	runID := UUIDToBytes(uuid.New())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	r := NewReporter(emitter, runID, func() time.Time { return at })

	r.Log("hello")
	r.LogError("oops")
	r.RecordOutcome("w1", "https://example.com/c/1", harvest.OutcomeSaved)
	r.Discovered(7)

	require.Len(t, emitter.events, 4)
	for _, evt := range emitter.events {
		require.Equal(t, runID, evt.RunID)
		require.Equal(t, at.UTC(), evt.TS)
		require.NoError(t, evt.Validate())
	}
	require.Equal(t, StageLogError, emitter.events[1].Stage)
	require.Equal(t, harvest.OutcomeSaved, emitter.events[2].Outcome)
	require.Equal(t, 7, emitter.events[3].Value)
}

func TestReporterProgressSnapshot(t *testing.T) {
	t.Parallel()

	r := NewReporter(nil, UUIDToBytes(uuid.New()), nil)
	r.SetTotal("w1", 3)
	r.SetTotal("w2", 0)
	r.SetProgress("w1", 2)

	got := r.Progress()
	require.Equal(t, WorkerProgress{Value: 2, Total: 3}, got["w1"])
	require.Equal(t, WorkerProgress{Value: 0, Total: 1}, got["w2"])
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	id := UUIDToBytes(uuid.New())
	now := time.Now()
	cases := map[string]struct {
		evt     Event
		wantErr bool
	}{
		"missing run":     {evt: Event{TS: now, Stage: StageRunStart}, wantErr: true},
		"missing ts":      {evt: Event{RunID: id, Stage: StageRunStart}, wantErr: true},
		"unknown stage":   {evt: Event{RunID: id, TS: now, Stage: "NOPE"}, wantErr: true},
		"item no outcome": {evt: Event{RunID: id, TS: now, Stage: StageItemDone}, wantErr: true},
		"progress no id":  {evt: Event{RunID: id, TS: now, Stage: StageProgress}, wantErr: true},
		"empty log":       {evt: Event{RunID: id, TS: now, Stage: StageLog}, wantErr: true},
		"negative dur":    {evt: Event{RunID: id, TS: now, Stage: StageRunDone, Dur: -1}, wantErr: true},
		"valid run done":  {evt: Event{RunID: id, TS: now, Stage: StageRunDone, Outcome: "completed"}},
		"valid item":      {evt: Event{RunID: id, TS: now, Stage: StageItemDone, Outcome: harvest.OutcomeBlocked}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := tc.evt.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParseRunID(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	require.Equal(t, UUIDToBytes(id), ParseRunID(id.String()))
	require.Equal(t, [16]byte{}, ParseRunID("not-a-uuid"))
}
