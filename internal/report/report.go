// Package report defines the versioned envelope every analyzer result is
// wrapped in. An envelope is always well formed: empty and truncated runs
// carry notes and diagnostics instead of failing.
package report

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rohankatakam/gitpulse/internal/graph"
	"github.com/rohankatakam/gitpulse/internal/metrics"
	"github.com/rohankatakam/gitpulse/internal/models"
	"github.com/rohankatakam/gitpulse/internal/ownership"
	"github.com/rohankatakam/gitpulse/internal/temporal"
)

// SchemaVersion is bumped whenever a field is renamed or removed.
// Adding fields does not change it.
const SchemaVersion = "1"

// Kind names one analyzer
type Kind string

const (
	KindCoChange     Kind = "cochange"
	KindOwnership    Kind = "ownership"
	KindDependencies Kind = "dependencies"
	KindActivity     Kind = "activity"
	KindChurn        Kind = "churn"
)

// AllKinds lists every analyzer in report order
var AllKinds = []Kind{KindCoChange, KindOwnership, KindDependencies, KindActivity, KindChurn}

// ParseKind accepts the analyzer names and a few aliases
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cochange", "co-change", "co_change", "cochanges":
		return KindCoChange, true
	case "ownership", "owners":
		return KindOwnership, true
	case "dependencies", "deps", "graph":
		return KindDependencies, true
	case "activity":
		return KindActivity, true
	case "churn", "hotspots":
		return KindChurn, true
	}
	return "", false
}

// NoteKind classifies an informational note
type NoteKind string

const (
	NoteEmptyRange     NoteKind = "EmptyRangeWarning"
	NoteTruncated      NoteKind = "Truncated"
	NoteSkippedEntries NoteKind = "SkippedEntries"
	NoteFanOutSkipped  NoteKind = "FanOutSkipped"
	NoteNameKeyed      NoteKind = "NameKeyedAuthors"
	NoteUnknownCommit  NoteKind = "UnknownCommit"
	NoteFileSkipped    NoteKind = "FileFanOutSkipped"
)

// Note is informational. Notes never mean the analysis failed.
type Note struct {
	Kind    NoteKind `json:"kind" yaml:"kind"`
	Message string   `json:"message" yaml:"message"`
}

// Diagnostics describes the input the analyzers saw
type Diagnostics struct {
	Source      string     `json:"source,omitempty" yaml:"source,omitempty"`
	Skipped     int        `json:"skipped_entries" yaml:"skipped_entries"`
	SkipReasons []string   `json:"skip_reasons,omitempty" yaml:"skip_reasons,omitempty"`
	ReadError   string     `json:"read_error,omitempty" yaml:"read_error,omitempty"`
	Earliest    *time.Time `json:"earliest,omitempty" yaml:"earliest,omitempty"`
	Latest      *time.Time `json:"latest,omitempty" yaml:"latest,omitempty"`
}

// Results holds one field per analyzer. Only the analyzers that ran are set.
type Results struct {
	CoChange     *metrics.CoChangeReport  `json:"co_change,omitempty" yaml:"co_change,omitempty"`
	Ownership    *ownership.Report        `json:"ownership,omitempty" yaml:"ownership,omitempty"`
	Dependencies *graph.DependencyReport  `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Related      *graph.RelatedReport     `json:"related,omitempty" yaml:"related,omitempty"`
	Activity     *temporal.ActivityReport `json:"activity,omitempty" yaml:"activity,omitempty"`
	Churn        *temporal.ChurnReport    `json:"churn,omitempty" yaml:"churn,omitempty"`
}

// Envelope is the root of every rendered report
type Envelope struct {
	SchemaVersion    string      `json:"schema_version" yaml:"schema_version"`
	Analyzers        []Kind      `json:"analyzers" yaml:"analyzers"`
	RunID            string      `json:"run_id" yaml:"run_id"`
	GeneratedAt      time.Time   `json:"generated_at" yaml:"generated_at"`
	CommitsProcessed int         `json:"commits_processed" yaml:"commits_processed"`
	Truncated        bool        `json:"truncated" yaml:"truncated"`
	Diagnostics      Diagnostics `json:"diagnostics" yaml:"diagnostics"`
	Notes            []Note      `json:"notes" yaml:"notes"`
	// Config echoes the options the analyzers ran with
	Config  any     `json:"config,omitempty" yaml:"config,omitempty"`
	Results Results `json:"results" yaml:"results"`
}

// New builds an envelope from the history. Results are filled by the caller,
// which then calls Annotate.
func New(h *models.History, kinds []Kind, generatedAt time.Time) *Envelope {
	env := &Envelope{
		SchemaVersion:    SchemaVersion,
		Analyzers:        append([]Kind{}, kinds...),
		GeneratedAt:      generatedAt.UTC(),
		CommitsProcessed: h.Len(),
		Notes:            []Note{},
	}
	if h != nil {
		env.Truncated = h.Truncated
		env.Diagnostics.Skipped = h.Skipped
		env.Diagnostics.SkipReasons = append([]string(nil), h.SkipReasons...)
		env.Diagnostics.ReadError = h.ReadError
	}
	if h.Len() > 0 {
		earliest, latest := h.DateRange()
		env.Diagnostics.Earliest = &earliest
		env.Diagnostics.Latest = &latest
	}
	env.RunID = RunID(h, kinds, "")
	return env
}

// RunID derives a stable id from the analyzers, the commit ids and a
// config fingerprint. The same input always yields the same id.
func RunID(h *models.History, kinds []Kind, config string) string {
	sorted := make([]string, len(kinds))
	for i, k := range kinds {
		sorted[i] = string(k)
	}
	sort.Strings(sorted)

	digest := sha1.New()
	fmt.Fprintf(digest, "%s\x00%s\x00", strings.Join(sorted, ","), config)
	for _, id := range h.IDs() {
		digest.Write([]byte(id))
		digest.Write([]byte{'\n'})
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(hex.EncodeToString(digest.Sum(nil)))).String()
}

// SetConfig records the options echo and folds it into the run id
func (e *Envelope) SetConfig(h *models.History, config any, fingerprint string) {
	e.Config = config
	e.RunID = RunID(h, e.Analyzers, fingerprint)
}

// AddNote appends an informational note
func (e *Envelope) AddNote(kind NoteKind, format string, args ...any) {
	e.Notes = append(e.Notes, Note{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// HasNote reports whether a note of kind is present
func (e *Envelope) HasNote(kind NoteKind) bool {
	for _, n := range e.Notes {
		if n.Kind == kind {
			return true
		}
	}
	return false
}

// Annotate derives notes from the diagnostics and the filled results
func (e *Envelope) Annotate() {
	if e.CommitsProcessed == 0 && !e.Truncated {
		e.AddNote(NoteEmptyRange, "the commit range is empty; every result is empty")
	} else if e.CommitsProcessed == 0 {
		e.AddNote(NoteEmptyRange, "no commits were read before the source failed")
	}
	if e.Truncated {
		e.AddNote(NoteTruncated, "commit log read failed after %d commits: %s",
			e.CommitsProcessed, e.Diagnostics.ReadError)
	}
	if e.Diagnostics.Skipped > 0 {
		e.AddNote(NoteSkippedEntries, "%d malformed log entries were skipped", e.Diagnostics.Skipped)
	}
	if r := e.Results.CoChange; r != nil && r.FanOutSkipped > 0 {
		e.AddNote(NoteFanOutSkipped, "%d commits above the fan-out limit were excluded from co-change", r.FanOutSkipped)
	}
	if r := e.Results.Dependencies; r != nil && len(r.SkippedFiles) > 0 {
		e.AddNote(NoteFileSkipped, "%d files touched by too many commits created no dependency edges: %s",
			len(r.SkippedFiles), strings.Join(r.SkippedFiles, ", "))
	}
	if r := e.Results.Ownership; r != nil && len(r.NameKeyedAuthors) > 0 {
		e.AddNote(NoteNameKeyed, "%d authors had no email and were merged by name only: %s",
			len(r.NameKeyedAuthors), strings.Join(r.NameKeyedAuthors, ", "))
	}
}

// Has reports whether the analyzer kind ran
func (e *Envelope) Has(kind Kind) bool {
	for _, k := range e.Analyzers {
		if k == kind {
			return true
		}
	}
	return false
}
