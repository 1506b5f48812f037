package gitlog

import (
	"strconv"
	"strings"
	"time"

	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/models"
)

const (
	recordSep = '\x1e'
	fieldSep  = '\x1f'

	// hash, parents, author name/email, committer name/email, author date,
	// committer date, subject, body, then the file-change tail
	headerFields = 10
)

// rawEntry is one `--raw` line: status letter plus one or two paths
type rawEntry struct {
	status  models.Status
	oldPath string
	path    string
}

// numEntry is one `--numstat` line
type numEntry struct {
	insertions int
	deletions  int
	path       string
}

// parseRecord parses the text between two record separators.
func parseRecord(rec string) (*models.CommitRecord, error) {
	parts := strings.SplitN(rec, string(fieldSep), headerFields+1)
	if len(parts) != headerFields+1 {
		return nil, errors.MalformedEntryf("expected %d fields, got %d", headerFields+1, len(parts))
	}

	id := strings.TrimSpace(parts[0])
	if !isObjectID(id) {
		return nil, errors.MalformedEntryf("invalid commit hash %q", truncate(id, 80))
	}

	parents := strings.Fields(parts[1])
	for _, p := range parents {
		if !isObjectID(p) {
			return nil, errors.MalformedEntryf("commit %s: invalid parent hash %q", id, truncate(p, 80))
		}
	}

	authoredAt, err := parseTime(parts[6])
	if err != nil {
		return nil, errors.MalformedEntryf("commit %s: invalid author date %q", id, truncate(parts[6], 80))
	}
	committedAt, err := parseTime(parts[7])
	if err != nil {
		return nil, errors.MalformedEntryf("commit %s: invalid committer date %q", id, truncate(parts[7], 80))
	}

	changes, err := parseTail(parts[headerFields])
	if err != nil {
		return nil, errors.MalformedEntryf("commit %s: %s", id, err.Error())
	}

	return &models.CommitRecord{
		ID:          id,
		ParentIDs:   parents,
		Author:      models.Identity{Name: strings.TrimSpace(parts[2]), Email: strings.TrimSpace(parts[3])},
		Committer:   models.Identity{Name: strings.TrimSpace(parts[4]), Email: strings.TrimSpace(parts[5])},
		AuthoredAt:  authoredAt,
		CommittedAt: committedAt,
		Subject:     strings.TrimSpace(parts[8]),
		Body:        strings.TrimSpace(parts[9]),
		FileChanges: changes,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// tailError is a plain message; parseRecord wraps it with the commit id.
type tailError string

func (e tailError) Error() string { return string(e) }

// parseTail reads the raw and numstat lines that follow the header and pairs them by position.
func parseTail(tail string) ([]models.FileChange, error) {
	var raws []rawEntry
	var nums []numEntry

	for _, line := range strings.Split(tail, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		// combined diff lines for merges
		if strings.HasPrefix(line, "::") {
			continue
		}
		if line[0] == ':' {
			r, err := parseRawLine(line)
			if err != nil {
				return nil, err
			}
			raws = append(raws, r)
			continue
		}
		n, err := parseNumstatLine(line)
		if err != nil {
			return nil, err
		}
		nums = append(nums, n)
	}

	switch {
	case len(raws) == 0 && len(nums) == 0:
		return []models.FileChange{}, nil

	case len(raws) == 0:
		changes := make([]models.FileChange, len(nums))
		for i, n := range nums {
			fc := models.FileChange{Path: n.path, Status: models.StatusModified, Insertions: n.insertions, Deletions: n.deletions}
			if oldPath, newPath, ok := expandRenamePath(n.path); ok {
				fc.Path, fc.OldPath, fc.Status = newPath, oldPath, models.StatusRenamed
			}
			changes[i] = fc
		}
		return changes, nil

	case len(nums) != 0 && len(nums) != len(raws):
		return nil, tailError("raw/numstat count mismatch: " + strconv.Itoa(len(raws)) + " vs " + strconv.Itoa(len(nums)))
	}

	changes := make([]models.FileChange, len(raws))
	for i, r := range raws {
		fc := models.FileChange{Path: r.path, OldPath: r.oldPath, Status: r.status}
		if len(nums) > 0 {
			fc.Insertions, fc.Deletions = nums[i].insertions, nums[i].deletions
		}
		changes[i] = fc
	}
	return changes, nil
}

// parseRawLine parses ":<mode> <mode> <sha> <sha> <status>[score]\t<path>[\t<path>]".
func parseRawLine(line string) (rawEntry, error) {
	cols := strings.Split(line, "\t")
	meta := strings.Fields(cols[0])
	if len(meta) != 5 || meta[4] == "" {
		return rawEntry{}, tailError("malformed raw line " + strconv.Quote(truncate(line, 120)))
	}

	status, pair, ok := statusFromLetter(meta[4][0])
	if !ok {
		return rawEntry{}, tailError("unknown status " + strconv.Quote(meta[4]))
	}

	paths := cols[1:]
	if pair {
		if len(paths) != 2 {
			return rawEntry{}, tailError("status " + meta[4] + " needs two paths")
		}
		return rawEntry{status: status, oldPath: paths[0], path: paths[1]}, nil
	}
	if len(paths) != 1 || paths[0] == "" {
		return rawEntry{}, tailError("status " + meta[4] + " needs one path")
	}
	return rawEntry{status: status, path: paths[0]}, nil
}

func statusFromLetter(b byte) (status models.Status, twoPaths bool, ok bool) {
	switch b {
	case 'A':
		return models.StatusAdded, false, true
	case 'M', 'T':
		return models.StatusModified, false, true
	case 'D':
		return models.StatusDeleted, false, true
	case 'R':
		return models.StatusRenamed, true, true
	case 'C':
		return models.StatusCopied, true, true
	}
	return "", false, false
}

// parseNumstatLine parses "<ins>\t<del>\t<path>"; binary files report "-".
func parseNumstatLine(line string) (numEntry, error) {
	cols := strings.SplitN(line, "\t", 3)
	if len(cols) != 3 || cols[2] == "" {
		return numEntry{}, tailError("malformed numstat line " + strconv.Quote(truncate(line, 120)))
	}
	ins, err := parseCount(cols[0])
	if err != nil {
		return numEntry{}, err
	}
	del, err := parseCount(cols[1])
	if err != nil {
		return numEntry{}, err
	}
	return numEntry{insertions: ins, deletions: del, path: cols[2]}, nil
}

func parseCount(s string) (int, error) {
	if s == "-" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, tailError("invalid line count " + strconv.Quote(s))
	}
	return n, nil
}

// expandRenamePath splits numstat rename notation: "old => new" or "dir/{old => new}/file".
func expandRenamePath(p string) (oldPath, newPath string, ok bool) {
	if open := strings.Index(p, "{"); open >= 0 {
		if end := strings.Index(p[open:], "}"); end >= 0 {
			end += open
			inner := p[open+1 : end]
			if arrow := strings.Index(inner, " => "); arrow >= 0 {
				prefix, suffix := p[:open], p[end+1:]
				oldPath = joinRenamePart(prefix, inner[:arrow], suffix)
				newPath = joinRenamePart(prefix, inner[arrow+4:], suffix)
				return oldPath, newPath, true
			}
		}
	}
	if arrow := strings.Index(p, " => "); arrow >= 0 {
		return p[:arrow], p[arrow+4:], true
	}
	return "", "", false
}

// joinRenamePart rebuilds a path from a brace expansion; an empty middle leaves "//", which is collapsed.
func joinRenamePart(prefix, middle, suffix string) string {
	return strings.ReplaceAll(prefix+middle+suffix, "//", "/")
}

// isObjectID accepts SHA-1 (40) and SHA-256 (64) lowercase hex ids.
func isObjectID(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
