package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	gperrors "github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/report"
)

var (
	envelopeBucket = []byte("envelopes") // run id -> envelope JSON
	timelineBucket = []byte("timeline")  // time key -> entry JSON
	runIndexBucket = []byte("run_index") // run id -> time key
)

// fixed width so byte order is time order
const timeKeyLayout = "20060102T150405.000000000Z"

// BoltArchive is the default single-file archive
type BoltArchive struct {
	db     *bolt.DB
	logger *logrus.Logger
}

// NewBoltArchive opens (creating if needed) the archive at path
func NewBoltArchive(path string, logger *logrus.Logger) (*BoltArchive, error) {
	if path == "" {
		return nil, gperrors.InvalidConfigf("archive.path", "path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, gperrors.FileSystemErrorf(err, "create archive directory")
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, gperrors.FileSystemErrorf(err, "open archive %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{envelopeBucket, timelineBucket, runIndexBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, gperrors.FileSystemErrorf(err, "init archive buckets")
	}
	return &BoltArchive{db: db, logger: logger}, nil
}

func timeKey(e *Entry) []byte {
	return []byte(e.GeneratedAt.UTC().Format(timeKeyLayout) + "/" + e.RunID)
}

// Save implements Archive
func (a *BoltArchive) Save(ctx context.Context, env *report.Envelope) (*Entry, error) {
	body, err := encode(env)
	if err != nil {
		return nil, err
	}
	entry := entryOf(env)
	indexed, err := json.Marshal(entry)
	if err != nil {
		return nil, gperrors.Wrap(err, gperrors.ErrorTypeInternal, gperrors.SeverityHigh, "encoding entry")
	}

	err = a.db.Update(func(tx *bolt.Tx) error {
		id := []byte(entry.RunID)
		index := tx.Bucket(runIndexBucket)
		if old := index.Get(id); old != nil {
			if err := tx.Bucket(timelineBucket).Delete(old); err != nil {
				return err
			}
		}
		key := timeKey(entry)
		if err := tx.Bucket(timelineBucket).Put(key, indexed); err != nil {
			return err
		}
		if err := index.Put(id, key); err != nil {
			return err
		}
		return tx.Bucket(envelopeBucket).Put(id, body)
	})
	if err != nil {
		return nil, gperrors.FileSystemErrorf(err, "save run %s", entry.RunID)
	}
	a.logger.WithFields(logrus.Fields{"run_id": entry.RunID, "bytes": len(body)}).Debug("archived report")
	return entry, nil
}

// List implements Archive
func (a *BoltArchive) List(ctx context.Context, filter Filter) ([]Entry, error) {
	entries := []Entry{}
	err := a.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(timelineBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("entry %s: %w", k, err)
			}
			if !filter.Since.IsZero() && e.GeneratedAt.Before(filter.Since) {
				break
			}
			if !filter.match(&e) {
				continue
			}
			entries = append(entries, e)
			if filter.Limit > 0 && len(entries) == filter.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, gperrors.FileSystemErrorf(err, "list archive")
	}
	return entries, nil
}

// Get implements Archive
func (a *BoltArchive) Get(ctx context.Context, runID string) (*report.Envelope, error) {
	var body []byte
	err := a.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(envelopeBucket).Get([]byte(runID)); data != nil {
			body = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		return nil, gperrors.FileSystemErrorf(err, "read run %s", runID)
	}
	if body == nil {
		return nil, ErrNotFound
	}
	return decode(body)
}

// Delete implements Archive
func (a *BoltArchive) Delete(ctx context.Context, runID string) error {
	found := false
	err := a.db.Update(func(tx *bolt.Tx) error {
		id := []byte(runID)
		index := tx.Bucket(runIndexBucket)
		key := index.Get(id)
		if key == nil {
			return nil
		}
		found = true
		if err := tx.Bucket(timelineBucket).Delete(key); err != nil {
			return err
		}
		if err := index.Delete(id); err != nil {
			return err
		}
		return tx.Bucket(envelopeBucket).Delete(id)
	})
	if err != nil {
		return gperrors.FileSystemErrorf(err, "delete run %s", runID)
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// Close implements Archive
func (a *BoltArchive) Close() error {
	return a.db.Close()
}
