package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/gitpulse/internal/graph"
	"github.com/rohankatakam/gitpulse/internal/metrics"
	"github.com/rohankatakam/gitpulse/internal/models"
)

var generated = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func history(ids ...string) *models.History {
	h := &models.History{Commits: []*models.CommitRecord{}}
	for i, id := range ids {
		h.Commits = append(h.Commits, &models.CommitRecord{
			ID:         id,
			AuthoredAt: generated.Add(-time.Duration(len(ids)-i) * time.Hour),
		})
	}
	return h
}

func TestEmptyRangeNote(t *testing.T) {
	env := New(&models.History{}, AllKinds, generated)
	env.Annotate()

	assert.Equal(t, SchemaVersion, env.SchemaVersion)
	assert.False(t, env.Truncated)
	assert.Zero(t, env.CommitsProcessed)
	assert.True(t, env.HasNote(NoteEmptyRange))
	assert.Nil(t, env.Diagnostics.Earliest)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"truncated":false`)
	assert.Contains(t, string(data), `"EmptyRangeWarning"`)
}

func TestTruncatedNote(t *testing.T) {
	h := history("a", "b")
	h.Truncated = true
	h.ReadError = "pipe closed"

	env := New(h, []Kind{KindChurn}, generated)
	env.Annotate()

	assert.True(t, env.Truncated)
	assert.Equal(t, 2, env.CommitsProcessed)
	assert.False(t, env.HasNote(NoteEmptyRange))
	require.True(t, env.HasNote(NoteTruncated))
	assert.Contains(t, env.Notes[0].Message, "after 2 commits: pipe closed")
}

func TestResultNotes(t *testing.T) {
	h := history("a")
	h.Skipped = 3
	env := New(h, []Kind{KindCoChange}, generated)
	env.Results.CoChange = &metrics.CoChangeReport{FanOutSkipped: 1}
	env.Annotate()

	assert.True(t, env.HasNote(NoteSkippedEntries))
	assert.True(t, env.HasNote(NoteFanOutSkipped))
	assert.Equal(t, 3, env.Diagnostics.Skipped)
	require.NotNil(t, env.Diagnostics.Latest)
	assert.True(t, env.Diagnostics.Latest.Before(generated))
}

func TestSkippedFilesNote(t *testing.T) {
	env := New(history("a", "b"), []Kind{KindDependencies}, generated)
	env.Results.Dependencies = &graph.DependencyReport{SkippedFiles: []string{"go.sum", "package-lock.json"}}
	env.Annotate()

	require.True(t, env.HasNote(NoteFileSkipped))
	assert.Contains(t, env.Notes[0].Message, "go.sum, package-lock.json")
}

func TestRunIDIsContentDerived(t *testing.T) {
	a := RunID(history("a", "b"), []Kind{KindChurn, KindActivity}, "cfg")
	assert.Equal(t, a, RunID(history("a", "b"), []Kind{KindActivity, KindChurn}, "cfg"))
	assert.NotEqual(t, a, RunID(history("a", "c"), []Kind{KindActivity, KindChurn}, "cfg"))
	assert.NotEqual(t, a, RunID(history("a", "b"), []Kind{KindActivity, KindChurn}, "other"))
	assert.Len(t, a, 36)
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("deps")
	assert.True(t, ok)
	assert.Equal(t, KindDependencies, k)

	k, ok = ParseKind("Co-Change")
	assert.True(t, ok)
	assert.Equal(t, KindCoChange, k)

	_, ok = ParseKind("blame")
	assert.False(t, ok)
}
