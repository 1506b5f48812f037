package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	gperrors "github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/report"
)

// SQLiteArchive stores envelopes in a local SQLite database, for users who
// want to query the archive with SQL tooling
type SQLiteArchive struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// sqliteRow mirrors the reports table. generated_at holds timeKeyLayout
// text so ORDER BY is chronological.
type sqliteRow struct {
	RunID            string `db:"run_id"`
	GeneratedAt      string `db:"generated_at"`
	Analyzers        string `db:"analyzers"`
	Source           string `db:"source"`
	CommitsProcessed int    `db:"commits_processed"`
	Truncated        bool   `db:"truncated"`
	Body             string `db:"body"`
}

// NewSQLiteArchive creates a new SQLite archive
func NewSQLiteArchive(path string, logger *logrus.Logger) (*SQLiteArchive, error) {
	if path == "" {
		return nil, gperrors.InvalidConfigf("archive.path", "path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, gperrors.FileSystemErrorf(err, "create archive directory")
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, gperrors.FileSystemErrorf(err, "connect to sqlite")
	}
	db.Exec("PRAGMA journal_mode = WAL")

	store := &SQLiteArchive{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, gperrors.FileSystemErrorf(err, "init schema")
	}
	return store, nil
}

func (s *SQLiteArchive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		run_id TEXT PRIMARY KEY,
		generated_at TEXT NOT NULL,
		analyzers TEXT NOT NULL,
		source TEXT,
		commits_processed INTEGER,
		truncated BOOLEAN,
		body TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reports_generated_at ON reports(generated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save implements Archive
func (s *SQLiteArchive) Save(ctx context.Context, env *report.Envelope) (*Entry, error) {
	body, err := encode(env)
	if err != nil {
		return nil, err
	}
	entry := entryOf(env)
	row := sqliteRow{
		RunID:            entry.RunID,
		GeneratedAt:      entry.GeneratedAt.Format(timeKeyLayout),
		Analyzers:        joinKinds(entry.Analyzers),
		Source:           entry.Source,
		CommitsProcessed: entry.CommitsProcessed,
		Truncated:        entry.Truncated,
		Body:             string(body),
	}

	query := `
		INSERT INTO reports (run_id, generated_at, analyzers, source, commits_processed, truncated, body)
		VALUES (:run_id, :generated_at, :analyzers, :source, :commits_processed, :truncated, :body)
		ON CONFLICT(run_id) DO UPDATE SET
			generated_at = excluded.generated_at,
			analyzers = excluded.analyzers,
			source = excluded.source,
			commits_processed = excluded.commits_processed,
			truncated = excluded.truncated,
			body = excluded.body
	`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return nil, gperrors.FileSystemErrorf(err, "save run %s", entry.RunID)
	}
	s.logger.WithField("run_id", entry.RunID).Debug("archived report")
	return entry, nil
}

// List implements Archive
func (s *SQLiteArchive) List(ctx context.Context, filter Filter) ([]Entry, error) {
	var rows []sqliteRow
	query := `
		SELECT run_id, generated_at, analyzers, source, commits_processed, truncated, '' AS body
		FROM reports
		WHERE generated_at >= ?
		ORDER BY generated_at DESC, run_id DESC
	`
	since := ""
	if !filter.Since.IsZero() {
		since = filter.Since.UTC().Format(timeKeyLayout)
	}
	if err := s.db.SelectContext(ctx, &rows, query, since); err != nil {
		return nil, gperrors.FileSystemErrorf(err, "list archive")
	}

	entries := []Entry{}
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		if !filter.match(e) {
			continue
		}
		entries = append(entries, *e)
		if filter.Limit > 0 && len(entries) == filter.Limit {
			break
		}
	}
	return entries, nil
}

func (r sqliteRow) entry() (*Entry, error) {
	at, err := time.Parse(timeKeyLayout, r.GeneratedAt)
	if err != nil {
		return nil, fmt.Errorf("run %s: bad generated_at %q: %w", r.RunID, r.GeneratedAt, err)
	}
	return &Entry{
		RunID:            r.RunID,
		GeneratedAt:      at,
		Analyzers:        splitKinds(r.Analyzers),
		Source:           r.Source,
		CommitsProcessed: r.CommitsProcessed,
		Truncated:        r.Truncated,
	}, nil
}

// Get implements Archive
func (s *SQLiteArchive) Get(ctx context.Context, runID string) (*report.Envelope, error) {
	var body string
	err := s.db.GetContext(ctx, &body, `SELECT body FROM reports WHERE run_id = ?`, runID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, gperrors.FileSystemErrorf(err, "read run %s", runID)
	}
	return decode([]byte(body))
}

// Delete implements Archive
func (s *SQLiteArchive) Delete(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE run_id = ?`, runID)
	if err != nil {
		return gperrors.FileSystemErrorf(err, "delete run %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close implements Archive
func (s *SQLiteArchive) Close() error {
	return s.db.Close()
}
