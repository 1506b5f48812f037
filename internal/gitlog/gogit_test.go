package gitlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/gitpulse/internal/models"
)

func commitFiles(t *testing.T, dir string, wt *git.Worktree, when time.Time, msg string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		full := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
		_, err := wt.Add(name)
		require.NoError(t, err)
	}
	sig := &object.Signature{Name: "Alice", Email: "alice@example.com", When: when}
	_, err := wt.Commit(msg, &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)
}

func TestGoGitSourceEmitsReaderFormat(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	base := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	commitFiles(t, dir, wt, base, "add files\n\nwith a body", map[string]string{
		"a.txt":     "one\ntwo\n",
		"pkg/b.txt": "x\n",
	})
	commitFiles(t, dir, wt, base.Add(time.Hour), "edit a", map[string]string{
		"a.txt": "one\ntwo\nthree\n",
	})

	src := &GoGitSource{RepoPath: dir}
	h, err := Load(context.Background(), src, AbortOnMalformed)
	require.NoError(t, err)
	require.Len(t, h.Commits, 2)
	assert.False(t, h.Truncated)

	latest, first := h.Commits[0], h.Commits[1]
	assert.Equal(t, "edit a", latest.Subject)
	assert.Equal(t, []string{first.ID}, latest.ParentIDs)
	require.Len(t, latest.FileChanges, 1)
	assert.Equal(t, models.FileChange{Path: "a.txt", Status: models.StatusModified, Insertions: 1}, latest.FileChanges[0])

	assert.Equal(t, "add files", first.Subject)
	assert.Equal(t, "with a body", first.Body)
	assert.Empty(t, first.ParentIDs)
	assert.ElementsMatch(t, []string{"a.txt", "pkg/b.txt"}, first.Paths())
	for _, fc := range first.FileChanges {
		assert.Equal(t, models.StatusAdded, fc.Status)
	}
	assert.True(t, base.Equal(first.AuthoredAt))

	limited, err := Load(context.Background(), &GoGitSource{RepoPath: dir, Query: Query{MaxCount: 1}}, AbortOnMalformed)
	require.NoError(t, err)
	assert.Len(t, limited.Commits, 1)

	ranged, err := Load(context.Background(), &GoGitSource{RepoPath: dir, Query: Query{Range: first.ID + "..HEAD"}}, AbortOnMalformed)
	require.NoError(t, err)
	require.Len(t, ranged.Commits, 1)
	assert.Equal(t, latest.ID, ranged.Commits[0].ID)
}

func TestGoGitSourceMissingRepo(t *testing.T) {
	_, err := (&GoGitSource{RepoPath: t.TempDir()}).Open(context.Background())
	assert.Error(t, err)
}
