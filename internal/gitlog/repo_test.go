package gitlog

import (
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/gitpulse/internal/errors"
)

func TestParseRemoteURL(t *testing.T) {
	tests := []struct {
		url   string
		owner string
		name  string
	}{
		{"https://github.com/owner/repo.git", "owner", "repo"},
		{"https://github.com/owner/repo", "owner", "repo"},
		{"git@github.com:owner/repo.git", "owner", "repo"},
		{"ssh://git@gitlab.example.com/team/service.git", "team", "service"},
		{"git://example.org/owner/repo", "owner", "repo"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			owner, name, err := ParseRemoteURL(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.name, name)
		})
	}

	_, _, err := ParseRemoteURL("not a url")
	assert.Error(t, err)
}

func TestDetectRepo(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	info, err := DetectRepo(dir)
	require.NoError(t, err)
	assert.Empty(t, info.Head, "a repository without commits has no HEAD")
	assert.Equal(t, dir, info.Label())

	_, err = repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{"git@github.com:acme/widgets.git"}})
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	commitFiles(t, dir, wt, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "init", map[string]string{"a.txt": "a\n"})

	info, err = DetectRepo(dir)
	require.NoError(t, err)
	assert.Len(t, info.Head, 40)
	assert.Equal(t, "master", info.Branch)
	assert.Equal(t, "acme/widgets", info.Label())
}

func TestDetectRepoRejectsPlainDirectory(t *testing.T) {
	_, err := DetectRepo(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidConfig))
}
