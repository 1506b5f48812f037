package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/gitlog"
	"github.com/rohankatakam/gitpulse/internal/graph"
	"github.com/rohankatakam/gitpulse/internal/models"
	"github.com/rohankatakam/gitpulse/internal/report"
)

var fixedNow = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func fixture() []*models.CommitRecord {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	files := [][]string{
		{"a.txt", "b.txt"},
		{"a.txt", "b.txt"},
		{"b.txt", "c.txt"},
		{"d.txt"},
	}
	var out []*models.CommitRecord
	for i, fs := range files {
		c := &models.CommitRecord{
			ID:          fmt.Sprintf("%040x", i+1),
			Author:      models.Identity{Name: "Dev", Email: "dev@example.com"},
			Committer:   models.Identity{Name: "Dev", Email: "dev@example.com"},
			AuthoredAt:  base.Add(time.Duration(i) * 24 * time.Hour),
			CommittedAt: base.Add(time.Duration(i) * 24 * time.Hour),
			Subject:     fmt.Sprintf("change %d", i+1),
		}
		if i > 0 {
			c.ParentIDs = []string{fmt.Sprintf("%040x", i)}
		}
		for _, f := range fs {
			c.FileChanges = append(c.FileChanges, models.FileChange{Path: f, Status: models.StatusModified, Insertions: 3, Deletions: 1})
		}
		out = append(out, c)
	}
	return out
}

func source(t *testing.T, commits []*models.CommitRecord) gitlog.Source {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gitlog.EncodeAll(&buf, commits))
	return &gitlog.ReaderSource{Name: "fixture", Data: buf.Bytes()}
}

func options() Options {
	opts := DefaultOptions()
	opts.Clock = func() time.Time { return fixedNow }
	return opts
}

func TestRunAllAnalyzers(t *testing.T) {
	e, err := New(options())
	require.NoError(t, err)
	assert.Equal(t, report.AllKinds, e.Kinds())

	env, err := e.RunSource(context.Background(), source(t, fixture()))
	require.NoError(t, err)

	assert.Equal(t, 4, env.CommitsProcessed)
	assert.False(t, env.Truncated)
	assert.Equal(t, "fixture", env.Diagnostics.Source)
	assert.Empty(t, env.Notes)
	assert.True(t, env.GeneratedAt.Equal(fixedNow))

	require.NotNil(t, env.Results.CoChange)
	require.NotEmpty(t, env.Results.CoChange.Pairs)
	top := env.Results.CoChange.Pairs[0]
	assert.Equal(t, "a.txt", top.FileA)
	assert.Equal(t, "b.txt", top.FileB)

	require.NotNil(t, env.Results.Ownership)
	require.NotNil(t, env.Results.Dependencies)
	assert.Len(t, env.Results.Dependencies.Nodes, 4)
	require.NotNil(t, env.Results.Activity)
	assert.Len(t, env.Results.Activity.Buckets, 24)
	assert.Equal(t, 4, env.Results.Activity.Buckets[9].Count)
	require.NotNil(t, env.Results.Churn)
	assert.Equal(t, "b.txt", env.Results.Churn.Files[0].Path)
}

func TestRunIsDeterministic(t *testing.T) {
	e, err := New(options())
	require.NoError(t, err)

	var first []byte
	for i := 0; i < 5; i++ {
		env, err := e.RunSource(context.Background(), source(t, fixture()))
		require.NoError(t, err)
		data, err := json.Marshal(env)
		require.NoError(t, err)
		if first == nil {
			first = data
			continue
		}
		assert.Equal(t, string(first), string(data))
	}
}

func TestSequentialMatchesParallel(t *testing.T) {
	h := &models.History{Commits: fixture()}

	parallel, err := New(options())
	require.NoError(t, err)
	seqOpts := options()
	seqOpts.Sequential = true
	sequential, err := New(seqOpts)
	require.NoError(t, err)

	a, err := parallel.Run(context.Background(), h)
	require.NoError(t, err)
	b, err := sequential.Run(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, a.Results, b.Results)
	assert.Equal(t, a.RunID, b.RunID)
}

func TestEmptyRange(t *testing.T) {
	e, err := New(options())
	require.NoError(t, err)

	env, err := e.RunSource(context.Background(), source(t, nil))
	require.NoError(t, err)

	assert.False(t, env.Truncated)
	assert.Zero(t, env.CommitsProcessed)
	assert.True(t, env.HasNote(report.NoteEmptyRange))
	assert.Empty(t, env.Results.CoChange.Pairs)
	assert.Empty(t, env.Results.Ownership.Files)
	assert.Empty(t, env.Results.Dependencies.Clusters)
	assert.Empty(t, env.Results.Churn.Files)
	assert.Len(t, env.Results.Activity.Buckets, 24)
}

func TestTruncatedSourceKeepsPartialReport(t *testing.T) {
	h := &models.History{Commits: fixture()[:2], Truncated: true, ReadError: "git exited"}

	e, err := New(options(), report.KindCoChange)
	require.NoError(t, err)
	env, err := e.Run(context.Background(), h)
	require.NoError(t, err)

	assert.True(t, env.Truncated)
	assert.Equal(t, 2, env.CommitsProcessed)
	assert.True(t, env.HasNote(report.NoteTruncated))
	require.Len(t, env.Results.CoChange.Pairs, 1)
	assert.InDelta(t, 1.0, env.Results.CoChange.Pairs[0].Score, 1e-12)
	assert.Nil(t, env.Results.Churn)
}

func TestInvalidConfigurationIsEager(t *testing.T) {
	opts := options()
	opts.Ownership.HalfLifeDays = -1
	_, err := New(opts)
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "halfLifeDays", e.Parameter())

	// an analyzer that is not selected is not validated
	_, err = New(opts, report.KindChurn)
	assert.NoError(t, err)

	opts = options()
	opts.Related = &graph.RelatedOptions{Root: "abc", Depth: 0, MinShared: 1, MaxResults: 1}
	_, err = New(opts, report.KindDependencies)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidConfig))

	_, err = New(options(), report.Kind("blame"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidConfig))
}

func TestRelatedRoot(t *testing.T) {
	opts := options()
	related := graph.DefaultRelatedOptions(fmt.Sprintf("%040x", 1))
	related.MinShared = 1
	opts.Related = &related

	e, err := New(opts, report.KindDependencies)
	require.NoError(t, err)
	env, err := e.Run(context.Background(), &models.History{Commits: fixture()})
	require.NoError(t, err)
	require.NotNil(t, env.Results.Related)
	assert.Equal(t, fmt.Sprintf("%040x", 2), env.Results.Related.Related[0].ID)

	related.Root = "ffff"
	_, err = e.Run(context.Background(), &models.History{Commits: fixture()})
	require.NoError(t, err, "the engine keeps its own copy of the options")

}

func TestUnknownRelatedRootKeepsReport(t *testing.T) {
	opts := options()
	opts.Related = &graph.RelatedOptions{Root: "ffffff", Depth: 1, MinShared: 1, MaxResults: 1}
	e, err := New(opts, report.KindDependencies)
	require.NoError(t, err)

	env, err := e.Run(context.Background(), &models.History{Commits: fixture()})
	require.NoError(t, err)
	assert.Equal(t, 4, env.CommitsProcessed)
	require.NotNil(t, env.Results.Dependencies)
	assert.Len(t, env.Results.Dependencies.Nodes, 4)
	assert.Nil(t, env.Results.Related)
	require.True(t, env.HasNote(report.NoteUnknownCommit))
	assert.Contains(t, env.Notes[len(env.Notes)-1].Message, "ffffff")
}

func TestRelatedRootOnEmptyRange(t *testing.T) {
	opts := options()
	related := graph.DefaultRelatedOptions("abc123")
	opts.Related = &related
	e, err := New(opts, report.KindDependencies)
	require.NoError(t, err)

	env, err := e.RunSource(context.Background(), source(t, nil))
	require.NoError(t, err)
	assert.Zero(t, env.CommitsProcessed)
	assert.False(t, env.Truncated)
	assert.True(t, env.HasNote(report.NoteEmptyRange))
	assert.True(t, env.HasNote(report.NoteUnknownCommit))
	require.NotNil(t, env.Results.Dependencies)
	assert.Empty(t, env.Results.Dependencies.Clusters)
}

func TestGeneratedAtWithoutClock(t *testing.T) {
	e, err := New(DefaultOptions(), report.KindChurn)
	require.NoError(t, err)

	var first []byte
	for i := 0; i < 2; i++ {
		env, err := e.RunSource(context.Background(), source(t, fixture()))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC), env.GeneratedAt, "latest authored time")
		data, err := json.Marshal(env)
		require.NoError(t, err)
		if first == nil {
			first = data
			continue
		}
		assert.Equal(t, string(first), string(data))
	}

	opts := DefaultOptions()
	opts.Ownership.Now = fixedNow
	e, err = New(opts, report.KindChurn)
	require.NoError(t, err)
	env, err := e.RunSource(context.Background(), source(t, fixture()))
	require.NoError(t, err)
	assert.Equal(t, fixedNow, env.GeneratedAt)
}

func TestMalformedPolicy(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, gitlog.EncodeAll(&buf, fixture()))
	buf.WriteString("\x1enot a commit\x1f")

	e, err := New(options(), report.KindChurn)
	require.NoError(t, err)
	env, err := e.RunSource(context.Background(), &gitlog.ReaderSource{Name: "bad", Data: buf.Bytes()})
	require.NoError(t, err)
	assert.Equal(t, 1, env.Diagnostics.Skipped)
	assert.True(t, env.HasNote(report.NoteSkippedEntries))

	opts := options()
	opts.Policy = gitlog.AbortOnMalformed
	e, err = New(opts, report.KindChurn)
	require.NoError(t, err)
	_, err = e.RunSource(context.Background(), &gitlog.ReaderSource{Name: "bad", Data: buf.Bytes()})
	assert.True(t, errors.IsType(err, errors.ErrorTypeMalformedEntry))
}

func TestRunIDDependsOnTimezone(t *testing.T) {
	h := &models.History{Commits: fixture()}

	utc, err := New(options(), report.KindActivity)
	require.NoError(t, err)
	a, err := utc.Run(context.Background(), h)
	require.NoError(t, err)

	opts := options()
	opts.Activity.Location, err = time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	tokyo, err := New(opts, report.KindActivity)
	require.NoError(t, err)
	b, err := tokyo.Run(context.Background(), h)
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	data, err := json.Marshal(b.Config)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"timezone":"Asia/Tokyo"`)
}
