package harvest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ItemKey orders items within a listing. Keys are numeric and may carry a
// fractional part for side chapters (e.g. 12.5 sorts between 12 and 13).
type ItemKey float64

// ParseItemKey parses a numeric key such as "12" or "12.5".
func ParseItemKey(raw string) (ItemKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("parse item key: empty value")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse item key %q: %w", raw, err)
	}
	return ItemKey(v), nil
}

// String renders the key without trailing zeros.
func (k ItemKey) String() string {
	return strconv.FormatFloat(float64(k), 'f', -1, 64)
}

// LinkEntry is one discovered item.
type LinkEntry struct {
	Key ItemKey `json:"key"`
	URL string  `json:"url"`
}

// LinkSet is the keyed result of discovery. The first entry seen for a key
// wins; later duplicates are discarded.
type LinkSet struct {
	urls   map[ItemKey]string
	frozen bool
}

// NewLinkSet returns an empty set.
func NewLinkSet() *LinkSet {
	return &LinkSet{urls: make(map[ItemKey]string)}
}

// Add inserts the entry unless the key is already present. It reports
// whether the entry was inserted.
func (s *LinkSet) Add(key ItemKey, url string) bool {
	if s.frozen {
		return false
	}
	if _, exists := s.urls[key]; exists {
		return false
	}
	s.urls[key] = url
	return true
}

// Freeze makes the set read-only. Discovery hands a frozen set to the
// coordinator.
func (s *LinkSet) Freeze() *LinkSet {
	if s != nil {
		s.frozen = true
	}
	return s
}

// Len returns the number of distinct keys.
func (s *LinkSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.urls)
}

// URL looks up the URL recorded for key.
func (s *LinkSet) URL(key ItemKey) (string, bool) {
	if s == nil {
		return "", false
	}
	u, ok := s.urls[key]
	return u, ok
}

// Entries returns a copy of the set ordered by numeric key.
func (s *LinkSet) Entries() []LinkEntry {
	if s == nil {
		return nil
	}
	out := make([]LinkEntry, 0, len(s.urls))
	for k, u := range s.urls {
		out = append(out, LinkEntry{Key: k, URL: u})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// State is the lifecycle state of a harvesting run.
type State string

// Run states. Completed, Cancelled, and Failed are resting states: a new run
// or a retry may begin from them just as from Idle.
const (
	StateIdle        State = "idle"
	StateDiscovering State = "discovering"
	StateHarvesting  State = "harvesting"
	StatePaused      State = "paused"
	StateCancelling  State = "cancelling"
	StateCancelled   State = "cancelled"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Active reports whether a run currently owns the pipeline.
func (s State) Active() bool {
	switch s {
	case StateDiscovering, StateHarvesting, StatePaused, StateCancelling:
		return true
	default:
		return false
	}
}

// Outcome tags the terminal result of processing one item.
type Outcome string

// Per-item outcomes.
const (
	OutcomeSaved          Outcome = "saved"
	OutcomeBlocked        Outcome = "blocked"
	OutcomeContentTimeout Outcome = "content_timeout"
	OutcomeMissingFields  Outcome = "missing_fields"
	OutcomeWriteTimeout   Outcome = "write_timeout"
	OutcomeTransport      Outcome = "transport_error"
	OutcomeGeneral        Outcome = "general_error"
	OutcomeCancelled      Outcome = "cancelled"
)

// Terminal reports whether the outcome ends the item with a file or a
// failure record. Cancelled items are neither.
func (o Outcome) Terminal() bool {
	return o != OutcomeCancelled && o != ""
}

// Failure reasons recorded in the failure ledger.
const (
	ReasonBlocked        = "blocked"
	ReasonContentTimeout = "empty content/timeout"
	ReasonMissingFields  = "missing fields"
	ReasonWriteTimeout   = "file write timeout"
	ReasonSessionLost    = "session lost"
)
