// Package detector recognises anti-bot block pages by title and body
// signatures.
package detector

import "strings"

// Default signatures observed on rate-limited or denied responses.
var (
	DefaultTitleMarkers = []string{"Error 1015"}
	DefaultBodyMarkers  = []string{"You are being rate limited", "Access denied"}
)

// Signature matches block markers. Matching is case-sensitive substring
// containment, which mirrors how the block pages are served verbatim.
type Signature struct {
	titleMarkers []string
	bodyMarkers  []string
}

// New creates a detector. Nil marker lists fall back to the defaults; empty
// non-nil lists disable that half of the check.
func New(titleMarkers, bodyMarkers []string) *Signature {
	if titleMarkers == nil {
		titleMarkers = DefaultTitleMarkers
	}
	if bodyMarkers == nil {
		bodyMarkers = DefaultBodyMarkers
	}
	return &Signature{
		titleMarkers: compact(titleMarkers),
		bodyMarkers:  compact(bodyMarkers),
	}
}

// Blocked reports whether the page looks like a block page, returning the
// marker that matched.
func (s *Signature) Blocked(title, source string) (bool, string) {
	for _, marker := range s.titleMarkers {
		if strings.Contains(title, marker) {
			return true, marker
		}
	}
	for _, marker := range s.bodyMarkers {
		if strings.Contains(source, marker) {
			return true, marker
		}
	}
	return false, ""
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, m := range in {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}
