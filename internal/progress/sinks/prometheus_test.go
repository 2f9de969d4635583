package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterharvest/internal/harvest"
	"github.com/JakeFAU/chapterharvest/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and gauges follow a run's events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageDiscovered, Value: 5},
		{RunID: runID, TS: now, Stage: progress.StageItemDone, Worker: "w1", Outcome: harvest.OutcomeSaved},
		{RunID: runID, TS: now, Stage: progress.StageItemDone, Worker: "w1", Outcome: harvest.OutcomeSaved},
		{RunID: runID, TS: now, Stage: progress.StageItemDone, Worker: "w2", Outcome: harvest.OutcomeBlocked},
		{RunID: runID, TS: now, Stage: progress.StageProgress, Worker: "w1", Value: 2, Total: 3},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 5.0, testutil.ToFloat64(sink.discovered))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.itemsDone.WithLabelValues(string(harvest.OutcomeSaved))))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.itemsDone.WithLabelValues(string(harvest.OutcomeBlocked))))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.workerProgress.WithLabelValues("w1")))

	done := []progress.Event{{
		RunID:   runID,
		TS:      now.Add(time.Minute),
		Stage:   progress.StageRunDone,
		Outcome: "completed",
		Dur:     time.Minute,
	}}
	require.NoError(t, sink.Consume(context.Background(), done))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("completed")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "harvest_run_duration_seconds"))
}

func TestPrometheusSinkRateLimitDelay(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	sink.ObserveRateLimitDelay("example.com", 250*time.Millisecond)
	sink.ObserveRateLimitDelay("", time.Millisecond)
	require.Equal(t, 2, testutil.CollectAndCount(sink.rateLimitWait, "harvest_rate_limit_wait_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
