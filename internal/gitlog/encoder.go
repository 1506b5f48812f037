package gitlog

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rohankatakam/gitpulse/internal/models"
)

const zeroObjectID = "0000000000000000000000000000000000000000"

// Encoder writes CommitRecords in the same format the Reader parses.
// The go-git source uses it, and tests use it to build fixtures.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder returns an encoder writing to w. Call Flush when done.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes one record. Separator bytes inside text fields are replaced
// with spaces. Write errors are sticky and surface from Flush.
func (e *Encoder) Encode(c *models.CommitRecord) error {
	fields := []string{
		c.ID,
		strings.Join(c.ParentIDs, " "),
		clean(c.Author.Name),
		clean(c.Author.Email),
		clean(c.Committer.Name),
		clean(c.Committer.Email),
		formatTime(c.AuthoredAt),
		formatTime(c.CommittedAt),
		clean(c.Subject),
		clean(c.Body),
	}

	e.w.WriteByte(recordSep)
	for _, f := range fields {
		e.w.WriteString(f)
		e.w.WriteByte(fieldSep)
	}
	e.w.WriteString("\n")

	if len(c.FileChanges) > 0 {
		e.w.WriteString("\n")
		for _, fc := range c.FileChanges {
			e.w.WriteString(rawLine(fc))
			e.w.WriteByte('\n')
		}
		for _, fc := range c.FileChanges {
			fmt.Fprintf(e.w, "%d\t%d\t%s\n", fc.Insertions, fc.Deletions, clean(fc.Path))
		}
	}
	return nil
}

// Flush writes any buffered data
func (e *Encoder) Flush() error {
	return e.w.Flush()
}

// EncodeAll writes every record and flushes
func EncodeAll(w io.Writer, commits []*models.CommitRecord) error {
	enc := NewEncoder(w)
	for _, c := range commits {
		if err := enc.Encode(c); err != nil {
			return err
		}
	}
	return enc.Flush()
}

func rawLine(fc models.FileChange) string {
	srcMode, dstMode, letter := "100644", "100644", "M"
	switch fc.Status {
	case models.StatusAdded:
		srcMode, letter = "000000", "A"
	case models.StatusDeleted:
		dstMode, letter = "000000", "D"
	case models.StatusRenamed:
		letter = "R100"
	case models.StatusCopied:
		letter = "C100"
	}

	line := fmt.Sprintf(":%s %s %s %s %s\t", srcMode, dstMode, zeroObjectID, zeroObjectID, letter)
	if letter[0] == 'R' || letter[0] == 'C' {
		oldPath := fc.OldPath
		if oldPath == "" {
			oldPath = fc.Path
		}
		return line + clean(oldPath) + "\t" + clean(fc.Path)
	}
	return line + clean(fc.Path)
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

var separatorReplacer = strings.NewReplacer(string(recordSep), " ", string(fieldSep), " ")

func clean(s string) string {
	return separatorReplacer.Replace(s)
}
