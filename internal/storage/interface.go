// Package storage archives rendered report envelopes so past runs can be
// listed and replayed without re-reading the commit log.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	gperrors "github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/report"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
)

const (
	BackendBolt     = "bolt"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Entry is the index row for one archived envelope
type Entry struct {
	RunID            string        `json:"run_id"`
	GeneratedAt      time.Time     `json:"generated_at"`
	Analyzers        []report.Kind `json:"analyzers"`
	Source           string        `json:"source,omitempty"`
	CommitsProcessed int           `json:"commits_processed"`
	Truncated        bool          `json:"truncated"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Kind  report.Kind
	Since time.Time
	Limit int
}

func (f Filter) match(e *Entry) bool {
	if !f.Since.IsZero() && e.GeneratedAt.Before(f.Since) {
		return false
	}
	if f.Kind == "" {
		return true
	}
	for _, k := range e.Analyzers {
		if k == f.Kind {
			return true
		}
	}
	return false
}

// Archive stores envelopes keyed by run id. Saving a run id again replaces
// the earlier copy. List returns newest first.
type Archive interface {
	Save(ctx context.Context, env *report.Envelope) (*Entry, error)
	List(ctx context.Context, filter Filter) ([]Entry, error)
	Get(ctx context.Context, runID string) (*report.Envelope, error)
	Delete(ctx context.Context, runID string) error
	Close() error
}

// Options selects and locates an archive backend
type Options struct {
	Backend string
	Path    string // bolt and sqlite
	DSN     string // postgres
}

// Open returns the archive for opts.Backend
func Open(opts Options, logger *logrus.Logger) (Archive, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendBolt, "bbolt":
		return NewBoltArchive(opts.Path, logger)
	case BackendSQLite, "sqlite3":
		return NewSQLiteArchive(opts.Path, logger)
	case BackendPostgres, "postgresql", "pg":
		if opts.DSN == "" {
			return nil, gperrors.InvalidConfigf("dsn", "the postgres archive needs a DSN")
		}
		return NewPostgresArchive(opts.DSN, logger)
	}
	return nil, gperrors.InvalidConfigf("archive.backend", "%q is not one of bolt, sqlite, postgres", opts.Backend)
}

// entryOf indexes an envelope
func entryOf(env *report.Envelope) *Entry {
	return &Entry{
		RunID:            env.RunID,
		GeneratedAt:      env.GeneratedAt.UTC(),
		Analyzers:        append([]report.Kind{}, env.Analyzers...),
		Source:           env.Diagnostics.Source,
		CommitsProcessed: env.CommitsProcessed,
		Truncated:        env.Truncated,
	}
}

func encode(env *report.Envelope) ([]byte, error) {
	if env == nil || env.RunID == "" {
		return nil, gperrors.InternalErrorf("envelope has no run id")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, gperrors.Wrap(err, gperrors.ErrorTypeInternal, gperrors.SeverityHigh, "encoding envelope")
	}
	return data, nil
}

func decode(data []byte) (*report.Envelope, error) {
	var env report.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, gperrors.Wrap(err, gperrors.ErrorTypeInternal, gperrors.SeverityHigh, "decoding archived envelope")
	}
	return &env, nil
}

func joinKinds(kinds []report.Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ",")
}

func splitKinds(s string) []report.Kind {
	kinds := []report.Kind{}
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			kinds = append(kinds, report.Kind(part))
		}
	}
	return kinds
}
