// Package gitlog reads the machine-readable commit log produced by
//
//	git log --no-color --no-ext-diff --no-abbrev -M -C --raw --numstat \
//	  --format=%x1e%H%x1f%P%x1f%an%x1f%ae%x1f%cn%x1f%ce%x1f%aI%x1f%cI%x1f%s%x1f%b%x1f
//
// into CommitRecords. Any source that writes the same format works: the
// git subprocess, the in-process go-git walker, or a pre-captured file.
package gitlog

import (
	"bufio"
	"bytes"
	"io"

	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/models"
)

const (
	initialBufferSize = 64 * 1024
	// Largest single commit record accepted. Mass-rename commits in big monorepos can be several MB.
	maxRecordSize = 64 * 1024 * 1024
)

// Reader produces CommitRecords lazily, one log entry per Next call.
// It is not restartable: re-reading means opening the source again.
type Reader struct {
	scanner *bufio.Scanner
	entries int
	err     error
}

// NewReader wraps a log stream
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialBufferSize), maxRecordSize)
	scanner.Split(splitRecords)
	return &Reader{scanner: scanner}
}

// Next returns the next commit.
//
// At the end of the stream it returns io.EOF. A malformed entry returns an
// error of type ErrorTypeMalformedEntry and the reader stays usable; the
// caller decides whether to skip it. A failure of the stream itself returns
// ErrorTypeSourceRead and every later call returns the same error.
func (r *Reader) Next() (*models.CommitRecord, error) {
	if r.err != nil {
		return nil, r.err
	}

	for r.scanner.Scan() {
		token := r.scanner.Bytes()
		if len(bytes.TrimSpace(token)) == 0 {
			continue
		}
		r.entries++
		return parseRecord(string(token))
	}

	if err := r.scanner.Err(); err != nil {
		r.err = errors.SourceReadError(err, "reading commit log")
		return nil, r.err
	}
	r.err = io.EOF
	return nil, io.EOF
}

// Entries returns how many non-empty log entries were seen, parsed or not.
func (r *Reader) Entries() int {
	return r.entries
}

// splitRecords is a bufio.SplitFunc yielding the text between record separators.
func splitRecords(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	start := 0
	if data[0] == recordSep {
		start = 1
	}
	if i := bytes.IndexByte(data[start:], recordSep); i >= 0 {
		return start + i, data[start : start+i], nil
	}
	if atEOF {
		return len(data), data[start:], nil
	}
	return 0, nil, nil
}
