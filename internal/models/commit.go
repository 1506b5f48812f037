package models

import (
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Status is the kind of change a commit made to one file
type Status string

const (
	StatusAdded    Status = "added"
	StatusModified Status = "modified"
	StatusDeleted  Status = "deleted"
	StatusRenamed  Status = "renamed"
	StatusCopied   Status = "copied"
)

// Identity is an author or committer as recorded in the log
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Key returns the identity's aggregation key: the lowercased email, or the
// lowercased name when the email is empty. byName reports the fallback.
func (i Identity) Key() (key string, byName bool) {
	if email := strings.ToLower(strings.TrimSpace(i.Email)); email != "" {
		return email, false
	}
	return strings.ToLower(strings.TrimSpace(i.Name)), true
}

// FileChange is one file touched by a commit. OldPath is set for renames and copies.
type FileChange struct {
	Path       string `json:"path"`
	OldPath    string `json:"old_path,omitempty"`
	Status     Status `json:"status"`
	Insertions int    `json:"insertions"`
	Deletions  int    `json:"deletions"`
}

// LinesChanged returns insertions + deletions
func (fc FileChange) LinesChanged() int {
	return fc.Insertions + fc.Deletions
}

// CommitRecord is one parsed commit. Records are never mutated after the reader emits them.
type CommitRecord struct {
	ID          string       `json:"id"`
	ParentIDs   []string     `json:"parent_ids"`
	Author      Identity     `json:"author"`
	Committer   Identity     `json:"committer"`
	AuthoredAt  time.Time    `json:"authored_at"`
	CommittedAt time.Time    `json:"committed_at"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body,omitempty"`
	FileChanges []FileChange `json:"file_changes"`
}

// IsMerge reports whether the commit has more than one parent
func (c *CommitRecord) IsMerge() bool {
	return len(c.ParentIDs) > 1
}

// Paths returns the normalized, de-duplicated paths the commit touched, in log order.
func (c *CommitRecord) Paths() []string {
	seen := make(map[string]struct{}, len(c.FileChanges))
	paths := make([]string, 0, len(c.FileChanges))
	for _, fc := range c.FileChanges {
		p := NormalizePath(fc.Path)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	return paths
}

// NormalizePath converts a log path to the slash-separated, cleaned form used as
// a map key by every analyzer. It returns "" for empty paths.
func NormalizePath(p string) string {
	p = strings.TrimSpace(filepath.ToSlash(p))
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}
