package models

import "time"

// History is the in-memory commit sequence shared read-only by every analyzer,
// plus what the reader learned while producing it.
type History struct {
	Commits []*CommitRecord

	// Skipped counts malformed entries dropped under the skip policy.
	Skipped int
	// SkipReasons holds the first few parse errors, for diagnostics.
	SkipReasons []string

	// Truncated is set when the source failed mid-read. Commits holds
	// everything parsed before the failure.
	Truncated bool
	ReadError string
}

// Len returns the number of commits
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Commits)
}

// DateRange returns the earliest and latest authored timestamps. Both are zero for an empty history.
func (h *History) DateRange() (earliest, latest time.Time) {
	if h == nil {
		return
	}
	for i, c := range h.Commits {
		if i == 0 || c.AuthoredAt.Before(earliest) {
			earliest = c.AuthoredAt
		}
		if i == 0 || c.AuthoredAt.After(latest) {
			latest = c.AuthoredAt
		}
	}
	return earliest, latest
}

// IDs returns commit ids in sequence order
func (h *History) IDs() []string {
	if h == nil {
		return nil
	}
	ids := make([]string, len(h.Commits))
	for i, c := range h.Commits {
		ids[i] = c.ID
	}
	return ids
}
