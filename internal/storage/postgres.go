package storage

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	gperrors "github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/report"
)

// PostgresArchive stores envelopes in PostgreSQL so a team can share one archive
type PostgresArchive struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

type postgresRow struct {
	RunID            string         `db:"run_id"`
	GeneratedAt      time.Time      `db:"generated_at"`
	Analyzers        pq.StringArray `db:"analyzers"`
	Source           string         `db:"source"`
	CommitsProcessed int            `db:"commits_processed"`
	Truncated        bool           `db:"truncated"`
}

// NewPostgresArchive connects and creates the reports table if missing
func NewPostgresArchive(dsn string, logger *logrus.Logger) (*PostgresArchive, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, gperrors.ExternalErrorf(err, "connect to postgres")
	}

	// Configure connection pool
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresArchive{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, gperrors.ExternalErrorf(err, "init schema")
	}
	return s, nil
}

func (s *PostgresArchive) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS gitpulse_reports (
			run_id TEXT PRIMARY KEY,
			generated_at TIMESTAMPTZ NOT NULL,
			analyzers TEXT[] NOT NULL,
			source TEXT,
			commits_processed INTEGER,
			truncated BOOLEAN,
			body JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_gitpulse_reports_generated_at ON gitpulse_reports(generated_at DESC);
	`)
	return err
}

// Save implements Archive
func (s *PostgresArchive) Save(ctx context.Context, env *report.Envelope) (*Entry, error) {
	body, err := encode(env)
	if err != nil {
		return nil, err
	}
	entry := entryOf(env)
	kinds := make(pq.StringArray, len(entry.Analyzers))
	for i, k := range entry.Analyzers {
		kinds[i] = string(k)
	}

	// analyzers travel as an array literal and are cast server-side
	query := `
		INSERT INTO gitpulse_reports (run_id, generated_at, analyzers, source, commits_processed, truncated, body)
		VALUES ($1, $2, $3::text::text[], $4, $5, $6, $7::jsonb)
		ON CONFLICT (run_id) DO UPDATE SET
			generated_at = EXCLUDED.generated_at,
			analyzers = EXCLUDED.analyzers,
			source = EXCLUDED.source,
			commits_processed = EXCLUDED.commits_processed,
			truncated = EXCLUDED.truncated,
			body = EXCLUDED.body
	`
	literal, err := kinds.Value()
	if err != nil {
		return nil, gperrors.Wrap(err, gperrors.ErrorTypeInternal, gperrors.SeverityHigh, "encoding analyzers")
	}
	_, err = s.db.ExecContext(ctx, query, entry.RunID, entry.GeneratedAt, literal, entry.Source,
		entry.CommitsProcessed, entry.Truncated, string(body))
	if err != nil {
		return nil, gperrors.ExternalErrorf(err, "save run %s", entry.RunID)
	}
	s.logger.WithField("run_id", entry.RunID).Debug("archived report")
	return entry, nil
}

// List implements Archive
func (s *PostgresArchive) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT run_id, generated_at, analyzers::text AS analyzers, source, commits_processed, truncated
		FROM gitpulse_reports
		WHERE ($1 = '' OR $1 = ANY(analyzers))
		  AND generated_at >= $2
		ORDER BY generated_at DESC, run_id DESC
	`
	since := filter.Since
	if since.IsZero() {
		since = time.Unix(0, 0).UTC()
	}
	if filter.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(filter.Limit)
	}

	var rows []postgresRow
	if err := s.db.SelectContext(ctx, &rows, query, string(filter.Kind), since); err != nil {
		return nil, gperrors.ExternalErrorf(err, "list archive")
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		kinds := make([]report.Kind, len(r.Analyzers))
		for i, k := range r.Analyzers {
			kinds[i] = report.Kind(k)
		}
		entries = append(entries, Entry{
			RunID:            r.RunID,
			GeneratedAt:      r.GeneratedAt.UTC(),
			Analyzers:        kinds,
			Source:           r.Source,
			CommitsProcessed: r.CommitsProcessed,
			Truncated:        r.Truncated,
		})
	}
	return entries, nil
}

// Get implements Archive
func (s *PostgresArchive) Get(ctx context.Context, runID string) (*report.Envelope, error) {
	var body string
	err := s.db.GetContext(ctx, &body, `SELECT body::text FROM gitpulse_reports WHERE run_id = $1`, runID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, gperrors.ExternalErrorf(err, "read run %s", runID)
	}
	return decode([]byte(body))
}

// Delete implements Archive
func (s *PostgresArchive) Delete(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM gitpulse_reports WHERE run_id = $1`, runID)
	if err != nil {
		return gperrors.ExternalErrorf(err, "delete run %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection
func (s *PostgresArchive) Close() error {
	return s.db.Close()
}
