package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/chapterharvest/internal/harvest"
)

// Stage denotes the kind of milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageDiscovered Stage = "DISCOVERED"
	StageItemDone   Stage = "ITEM_DONE"
	StageProgress   Stage = "PROGRESS"
	StageLog        Stage = "LOG"
	StageLogError   Stage = "LOG_ERROR"
)

// Event is one progress report.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Worker scopes item and progress events.
	Worker string
	URL    string
	// Outcome is set on ITEM_DONE, and on RUN_DONE carries the run result.
	Outcome harvest.Outcome
	// Value is the discovered count, the worker's processed count, or the
	// run's saved count depending on Stage.
	Value int
	// Total is the partition size for PROGRESS events.
	Total int
	Dur   time.Duration
	// Note carries log text or an error message.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageDiscovered:
	case StageItemDone:
		if e.Outcome == "" {
			return errors.New("item done requires outcome")
		}
	case StageProgress:
		if e.Worker == "" {
			return errors.New("progress requires worker")
		}
	case StageLog, StageLogError:
		if e.Note == "" {
			return errors.New("log event requires note")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID converts a textual run ID, returning the zero value if it is not
// a UUID.
func ParseRunID(raw string) [16]byte {
	id, err := uuid.Parse(raw)
	if err != nil {
		return [16]byte{}
	}
	return UUIDToBytes(id)
}
