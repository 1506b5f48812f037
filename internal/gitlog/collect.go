package gitlog

import (
	"context"
	"io"

	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/logging"
	"github.com/rohankatakam/gitpulse/internal/models"
)

// Policy decides what Collect does with a malformed entry
type Policy int

const (
	// SkipMalformed drops the entry and counts it (default)
	SkipMalformed Policy = iota
	// AbortOnMalformed stops at the first malformed entry
	AbortOnMalformed
)

// maxSkipReasons bounds how many parse errors are kept for diagnostics
const maxSkipReasons = 10

// Collect drains the reader into a History.
//
// Under SkipMalformed, malformed entries are counted. Under
// AbortOnMalformed the first one is returned as the error. A stream
// failure is never returned as an error: the commits read so far come
// back with Truncated set, so callers can still report on them.
func Collect(r *Reader, policy Policy) (*models.History, error) {
	log := logging.Component("gitlog")
	h := &models.History{Commits: []*models.CommitRecord{}}

	for {
		c, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.IsType(err, errors.ErrorTypeMalformedEntry) {
				if policy == AbortOnMalformed {
					return nil, err
				}
				h.Skipped++
				if len(h.SkipReasons) < maxSkipReasons {
					h.SkipReasons = append(h.SkipReasons, err.Error())
				}
				log.Debug("skipping malformed log entry", "error", err)
				continue
			}

			h.Truncated = true
			h.ReadError = err.Error()
			log.Warn("commit log read failed, keeping partial history",
				"commits", len(h.Commits), "error", err)
			break
		}
		h.Commits = append(h.Commits, c)
	}

	if h.Skipped > 0 {
		log.Info("skipped malformed log entries", "skipped", h.Skipped, "parsed", len(h.Commits))
	}
	return h, nil
}

// Load opens the source, collects its history and closes it.
// An error is returned only when the source cannot be opened or the
// abort policy hits a malformed entry.
func Load(ctx context.Context, src Source, policy Policy) (*models.History, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	logging.Component("gitlog").Debug("reading commit log", "source", src.Describe())
	return Collect(NewReader(rc), policy)
}
