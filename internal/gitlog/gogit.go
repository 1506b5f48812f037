package gitlog

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/models"
)

// GoGitSource walks the repository in-process with go-git and emits the
// same log format as GitCommand, for hosts without a git binary.
//
// Merge commits carry no file changes, matching `git log` without -m.
type GoGitSource struct {
	RepoPath string
	Query    Query
}

// Describe implements Source
func (g *GoGitSource) Describe() string {
	return fmt.Sprintf("go-git %s (range %q)", g.RepoPath, g.Query.Range)
}

// Open implements Source. The walk runs in a goroutine feeding a pipe;
// a walk failure reaches the reader as a stream error.
func (g *GoGitSource) Open(ctx context.Context) (io.ReadCloser, error) {
	repo, err := git.PlainOpenWithOptions(g.RepoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, errors.SourceReadError(err, "opening repository "+g.RepoPath)
	}

	opts, exclude, err := g.logOptions(repo)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(g.walk(ctx, repo, opts, exclude, pw))
	}()
	return pr, nil
}

func (g *GoGitSource) logOptions(repo *git.Repository) (*git.LogOptions, map[plumbing.Hash]struct{}, error) {
	opts := &git.LogOptions{Order: git.LogOrderCommitterTime}

	from, to := "", strings.TrimSpace(g.Query.Range)
	if i := strings.Index(to, ".."); i >= 0 {
		from, to = to[:i], to[i+2:]
	}
	if to == "" {
		to = "HEAD"
	}

	head, err := repo.ResolveRevision(plumbing.Revision(to))
	if err != nil {
		return nil, nil, errors.SourceReadError(err, "resolving revision "+to)
	}
	opts.From = *head

	var exclude map[plumbing.Hash]struct{}
	if from != "" {
		base, err := repo.ResolveRevision(plumbing.Revision(from))
		if err != nil {
			return nil, nil, errors.SourceReadError(err, "resolving revision "+from)
		}
		exclude, err = reachable(repo, *base)
		if err != nil {
			return nil, nil, err
		}
	}

	if g.Query.Since != "" {
		t, err := parseQueryTime(g.Query.Since)
		if err != nil {
			return nil, nil, errors.InvalidConfigf("since", "%v", err)
		}
		opts.Since = &t
	}
	if g.Query.Until != "" {
		t, err := parseQueryTime(g.Query.Until)
		if err != nil {
			return nil, nil, errors.InvalidConfigf("until", "%v", err)
		}
		opts.Until = &t
	}
	if len(g.Query.Paths) > 0 {
		prefixes := make([]string, len(g.Query.Paths))
		for i, p := range g.Query.Paths {
			prefixes[i] = models.NormalizePath(p)
		}
		opts.PathFilter = func(p string) bool {
			for _, prefix := range prefixes {
				if prefix == "" || p == prefix || strings.HasPrefix(p, prefix+"/") {
					return true
				}
			}
			return false
		}
	}
	return opts, exclude, nil
}

// reachable returns every commit reachable from h, for "a..b" ranges
func reachable(repo *git.Repository, h plumbing.Hash) (map[plumbing.Hash]struct{}, error) {
	iter, err := repo.Log(&git.LogOptions{From: h})
	if err != nil {
		return nil, errors.SourceReadError(err, "walking range base")
	}
	seen := make(map[plumbing.Hash]struct{})
	err = iter.ForEach(func(c *object.Commit) error {
		seen[c.Hash] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, errors.SourceReadError(err, "walking range base")
	}
	return seen, nil
}

func (g *GoGitSource) walk(ctx context.Context, repo *git.Repository, opts *git.LogOptions, exclude map[plumbing.Hash]struct{}, w io.Writer) error {
	iter, err := repo.Log(opts)
	if err != nil {
		return errors.SourceReadError(err, "starting log walk")
	}
	defer iter.Close()

	enc := NewEncoder(w)
	emitted := 0
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, skip := exclude[c.Hash]; skip {
			return nil
		}
		if g.Query.MaxCount > 0 && emitted >= g.Query.MaxCount {
			return storer.ErrStop
		}

		rec, err := toRecord(c)
		if err != nil {
			return err
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
		emitted++
		return nil
	})
	if err != nil {
		enc.Flush()
		return errors.SourceReadError(err, "walking commits")
	}
	return enc.Flush()
}

func toRecord(c *object.Commit) (*models.CommitRecord, error) {
	parents := make([]string, len(c.ParentHashes))
	for i, p := range c.ParentHashes {
		parents[i] = p.String()
	}

	subject, body, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")

	rec := &models.CommitRecord{
		ID:          c.Hash.String(),
		ParentIDs:   parents,
		Author:      models.Identity{Name: c.Author.Name, Email: c.Author.Email},
		Committer:   models.Identity{Name: c.Committer.Name, Email: c.Committer.Email},
		AuthoredAt:  c.Author.When.UTC(),
		CommittedAt: c.Committer.When.UTC(),
		Subject:     strings.TrimSpace(subject),
		Body:        strings.TrimSpace(body),
		FileChanges: []models.FileChange{},
	}
	if c.NumParents() > 1 {
		return rec, nil
	}

	stats, err := c.Stats()
	if err != nil {
		return nil, fmt.Errorf("stats for %s: %w", rec.ID, err)
	}

	var parent *object.Commit
	if c.NumParents() == 1 {
		if parent, err = c.Parent(0); err != nil {
			return nil, fmt.Errorf("parent of %s: %w", rec.ID, err)
		}
	}

	for _, st := range stats {
		fc := models.FileChange{Path: st.Name, Insertions: st.Addition, Deletions: st.Deletion}
		if oldPath, newPath, ok := expandRenamePath(st.Name); ok {
			fc.Path, fc.OldPath, fc.Status = newPath, oldPath, models.StatusRenamed
		} else {
			fc.Status = fileStatus(c, parent, st.Name)
		}
		rec.FileChanges = append(rec.FileChanges, fc)
	}
	return rec, nil
}

func fileStatus(c, parent *object.Commit, name string) models.Status {
	inParent := false
	if parent != nil {
		if _, err := parent.File(name); err == nil {
			inParent = true
		}
	}
	_, err := c.File(name)
	inCommit := err == nil

	switch {
	case inCommit && !inParent:
		return models.StatusAdded
	case !inCommit && inParent:
		return models.StatusDeleted
	default:
		return models.StatusModified
	}
}

// parseQueryTime accepts RFC 3339 timestamps and plain dates
func parseQueryTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
