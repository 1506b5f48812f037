package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/models"
)

func history(fileSets ...[]string) *models.History {
	h := &models.History{}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, files := range fileSets {
		c := &models.CommitRecord{
			ID:         fmt.Sprintf("%040x", i+1),
			AuthoredAt: base.Add(time.Duration(i) * time.Hour),
		}
		for _, f := range files {
			c.FileChanges = append(c.FileChanges, models.FileChange{Path: f, Status: models.StatusModified, Insertions: 1})
		}
		h.Commits = append(h.Commits, c)
	}
	return h
}

func mustAnalyzer(t *testing.T, opts CoChangeOptions) *CoChangeAnalyzer {
	t.Helper()
	a, err := NewCoChangeAnalyzer(opts)
	require.NoError(t, err)
	return a
}

func TestCoChangeTwoCommitsSameFiles(t *testing.T) {
	report := mustAnalyzer(t, DefaultCoChangeOptions()).Analyze(history(
		[]string{"a.txt", "b.txt"},
		[]string{"b.txt", "a.txt"},
	))

	require.Len(t, report.Pairs, 1)
	p := report.Pairs[0]
	assert.Equal(t, "a.txt", p.FileA)
	assert.Equal(t, "b.txt", p.FileB)
	assert.Equal(t, 2, p.CoOccurrences)
	assert.Equal(t, 1.0, p.Score)
	assert.Equal(t, StrengthStrong, p.Strength)
}

func TestCoChangeSupportIncludesSingleFileCommits(t *testing.T) {
	report := mustAnalyzer(t, CoChangeOptions{Threshold: 0, MinSupport: 1}).Analyze(history(
		[]string{"a.go", "b.go"},
		[]string{"a.go", "b.go"},
		[]string{"a.go"},
		[]string{"a.go"},
	))

	require.Len(t, report.Pairs, 1)
	p := report.Pairs[0]
	assert.Equal(t, 4, p.SupportA)
	assert.Equal(t, 2, p.SupportB)
	// 2 / (4 + 2 - 2)
	assert.InDelta(t, 0.5, p.Score, 1e-12)
	assert.Equal(t, StrengthModerate, p.Strength)
	assert.Equal(t, 4, report.CommitsConsidered)
}

func TestCoChangeFiltersAndOrdering(t *testing.T) {
	h := history(
		[]string{"x", "y"},
		[]string{"x", "y"},
		[]string{"x", "y", "z"},
		[]string{"p", "q"},
		[]string{"p", "q"},
		[]string{"z"},
		[]string{"lonely", "x"},
	)
	report := mustAnalyzer(t, DefaultCoChangeOptions()).Analyze(h)

	// x-y: 3/(4+3-3)=0.75, p-q: 2/(2+2-2)=1.0; lonely-x and *-z fail minSupport
	require.Len(t, report.Pairs, 2)
	assert.Equal(t, "p", report.Pairs[0].FileA)
	assert.Equal(t, 1.0, report.Pairs[0].Score)
	assert.Equal(t, "x", report.Pairs[1].FileA)
	assert.InDelta(t, 0.75, report.Pairs[1].Score, 1e-12)
	assert.Equal(t, 5, report.CandidatePairs)
}

func TestCoChangeTieBreaks(t *testing.T) {
	h := history(
		[]string{"b", "c"},
		[]string{"b", "c"},
		[]string{"a", "d"},
		[]string{"a", "d"},
		[]string{"a", "c"},
		[]string{"a", "c"},
		[]string{"a", "c"},
		[]string{"a", "c"},
	)
	report := mustAnalyzer(t, CoChangeOptions{Threshold: 0, MinSupport: 1}).Analyze(h)

	var got []string
	for _, p := range report.Pairs {
		got = append(got, fmt.Sprintf("%s-%s:%.3f/%d", p.FileA, p.FileB, p.Score, p.CoOccurrences))
	}
	// a-c 4/(6+6-4)=0.5, b-c 2/(2+6-2)=0.333, a-d 2/(6+2-2)=0.333: equal score and count, so by path
	assert.Equal(t, []string{"a-c:0.500/4", "a-d:0.333/2", "b-c:0.333/2"}, got)
}

func TestCoChangeFanOutLimit(t *testing.T) {
	wide := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		wide = append(wide, fmt.Sprintf("gen/%02d.go", i))
	}
	h := history(wide, []string{"gen/00.go", "gen/01.go"}, []string{"gen/00.go", "gen/01.go"})

	limited := mustAnalyzer(t, DefaultCoChangeOptions()).Analyze(h)
	assert.Equal(t, 1, limited.FanOutSkipped)
	require.Len(t, limited.Pairs, 1)
	assert.Equal(t, 2, limited.Pairs[0].SupportA, "fan-out commit must not count toward support")
	assert.Equal(t, 1.0, limited.Pairs[0].Score)

	opts := DefaultCoChangeOptions()
	opts.FanOutLimit = 0
	unlimited := mustAnalyzer(t, opts).Analyze(h)
	assert.Zero(t, unlimited.FanOutSkipped)
	assert.Equal(t, 3, unlimited.Pairs[0].SupportA)
}

func TestCoChangeScoresBounded(t *testing.T) {
	h := history(
		[]string{"a", "b", "c"},
		[]string{"a", "b"},
		[]string{"b", "c", "d"},
		[]string{"a"},
		[]string{"c", "d"},
		[]string{"a", "d"},
	)
	report := mustAnalyzer(t, CoChangeOptions{Threshold: 0, MinSupport: 1}).Analyze(h)
	require.NotEmpty(t, report.Pairs)
	for _, p := range report.Pairs {
		assert.GreaterOrEqual(t, p.Score, 0.0)
		assert.LessOrEqual(t, p.Score, 1.0)
		assert.GreaterOrEqual(t, p.SupportA, p.CoOccurrences)
		assert.GreaterOrEqual(t, p.SupportB, p.CoOccurrences)
	}
}

func TestCoChangeDeterministic(t *testing.T) {
	h := history(
		[]string{"a", "b", "c", "d"},
		[]string{"a", "b", "c", "d"},
		[]string{"d", "c", "b", "a"},
	)
	a := mustAnalyzer(t, DefaultCoChangeOptions())
	first := a.Analyze(h)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, a.Analyze(h))
	}
}

func TestCoChangeNormalizesAndDedupesPaths(t *testing.T) {
	report := mustAnalyzer(t, DefaultCoChangeOptions()).Analyze(history(
		[]string{"./a.txt", "b.txt", "a.txt"},
		[]string{"a.txt", "b.txt"},
	))
	require.Len(t, report.Pairs, 1)
	assert.Equal(t, 2, report.Pairs[0].SupportA)
}

func TestCoChangeEmptyAndMerge(t *testing.T) {
	a := mustAnalyzer(t, DefaultCoChangeOptions())

	empty := a.Analyze(&models.History{})
	assert.NotNil(t, empty.Pairs)
	assert.Empty(t, empty.Pairs)

	merge := a.Analyze(history([]string{}))
	assert.Empty(t, merge.Pairs)
	assert.Zero(t, merge.CommitsConsidered)
}

func TestCoChangeTopAndPartners(t *testing.T) {
	h := history(
		[]string{"core.go", "api.go"},
		[]string{"core.go", "api.go"},
		[]string{"core.go", "db.go"},
		[]string{"core.go", "db.go"},
		[]string{"x.go", "y.go"},
		[]string{"x.go", "y.go"},
	)
	opts := DefaultCoChangeOptions()
	full := mustAnalyzer(t, opts).Analyze(h)
	assert.Equal(t, 3, full.TotalPairs)

	partners := full.PartnersOf("./core.go")
	require.Len(t, partners, 2)
	assert.Equal(t, "api.go", partners[0].FilePath)
	assert.Equal(t, "db.go", partners[1].FilePath)
	assert.Empty(t, full.PartnersOf("missing.go"))

	opts.Top = 1
	top := mustAnalyzer(t, opts).Analyze(h)
	assert.Len(t, top.Pairs, 1)
	assert.Equal(t, 3, top.TotalPairs)

	// partner lookup sees pairs cut by Top
	partners = top.PartnersOf("core.go")
	require.Len(t, partners, 2)
	assert.Equal(t, "db.go", partners[1].FilePath)
	require.Len(t, top.PartnersOf("y.go"), 1)
}

func TestCoChangeOptionsValidate(t *testing.T) {
	tests := []struct {
		name  string
		opts  CoChangeOptions
		param string
	}{
		{"threshold above one", CoChangeOptions{Threshold: 1.5, MinSupport: 1}, "threshold"},
		{"negative threshold", CoChangeOptions{Threshold: -0.1, MinSupport: 1}, "threshold"},
		{"zero support", CoChangeOptions{Threshold: 0.3, MinSupport: 0}, "minSupport"},
		{"negative fan-out", CoChangeOptions{Threshold: 0.3, MinSupport: 1, FanOutLimit: -1}, "fanOutLimit"},
		{"negative top", CoChangeOptions{Threshold: 0.3, MinSupport: 1, Top: -2}, "top"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCoChangeAnalyzer(tt.opts)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidConfig))

			var e *errors.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.param, e.Parameter())
		})
	}

	_, err := NewCoChangeAnalyzer(CoChangeOptions{Threshold: 1, MinSupport: 1})
	assert.NoError(t, err, "boundary values are valid")
}

func TestClassifyStrength(t *testing.T) {
	assert.Equal(t, StrengthStrong, ClassifyStrength(0.60))
	assert.Equal(t, StrengthModerate, ClassifyStrength(0.59))
	assert.Equal(t, StrengthModerate, ClassifyStrength(0.40))
	assert.Equal(t, StrengthWeak, ClassifyStrength(0.39))
}
