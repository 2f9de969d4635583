package sinks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapterharvest/internal/progress"
)

func logEvent(runID [16]byte, stage progress.Stage, note string) progress.Event {
	return progress.Event{RunID: runID, TS: time.Now(), Stage: stage, Note: note}
}

// TestTailKeepsNewestMessages verifies the ring drops the oldest entries first.
func TestTailKeepsNewestMessages(t *testing.T) {
	t.Parallel()

	tail := NewTail(3)
	runID := progress.UUIDToBytes(uuid.New())
	var batch []progress.Event
	for i := range 5 {
		batch = append(batch, logEvent(runID, progress.StageLog, fmt.Sprintf("line %d", i)))
	}
	batch = append(batch, progress.Event{RunID: runID, TS: time.Now(), Stage: progress.StageProgress, Worker: "w1"})
	require.NoError(t, tail.Consume(context.Background(), batch))

	got := tail.Recent(0)
	require.Len(t, got, 3)
	require.Equal(t, "line 2", got[0].Text)
	require.Equal(t, "line 4", got[2].Text)
	require.Equal(t, uuid.UUID(runID).String(), got[0].RunID)

	last := tail.Recent(1)
	require.Len(t, last, 1)
	require.Equal(t, "line 4", last[0].Text)
}

func TestTailMarksErrors(t *testing.T) {
	t.Parallel()

	tail := NewTail(0)
	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, tail.Consume(context.Background(), []progress.Event{
		logEvent(runID, progress.StageLog, "fine"),
		logEvent(runID, progress.StageLogError, "broken"),
	}))

	got := tail.Recent(10)
	require.Len(t, got, 2)
	require.False(t, got[0].Error)
	require.True(t, got[1].Error)
}
