package temporal

import (
	"strings"
	"time"

	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/models"
)

// Window is a half-open [Start, End) range over authored time. A zero
// bound is open on that side.
type Window struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Validate rejects windows that end before they start
func (w *Window) Validate() error {
	if w == nil {
		return nil
	}
	if !w.Start.IsZero() && !w.End.IsZero() && w.End.Before(w.Start) {
		return errors.InvalidConfigf("window", "end %s is before start %s",
			w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// Contains reports whether t falls inside the window. A nil window contains everything.
func (w *Window) Contains(t time.Time) bool {
	if w == nil {
		return true
	}
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}

// Filter returns the commits inside the window, in their original order
func (w *Window) Filter(commits []*models.CommitRecord) []*models.CommitRecord {
	if w == nil {
		return commits
	}
	out := make([]*models.CommitRecord, 0, len(commits))
	for _, c := range commits {
		if w.Contains(c.AuthoredAt) {
			out = append(out, c)
		}
	}
	return out
}

// ParseWindow builds a window from two optional bounds. Each bound is an
// RFC 3339 timestamp or a plain date (midnight UTC). Both empty returns nil.
func ParseWindow(start, end string) (*Window, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" && end == "" {
		return nil, nil
	}
	w := &Window{}
	var err error
	if start != "" {
		if w.Start, err = parseBound(start); err != nil {
			return nil, errors.InvalidConfigf("window", "start %q: %v", start, err)
		}
	}
	if end != "" {
		if w.End, err = parseBound(end); err != nil {
			return nil, errors.InvalidConfigf("window", "end %q: %v", end, err)
		}
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

func parseBound(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}
