package temporal

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/models"
)

type stamp struct {
	at     string
	author string
	files  []string
}

func historyAt(t *testing.T, stamps ...stamp) *models.History {
	t.Helper()
	h := &models.History{}
	for i, s := range stamps {
		at, err := time.Parse(time.RFC3339, s.at)
		require.NoError(t, err)
		author := s.author
		if author == "" {
			author = "dev"
		}
		c := &models.CommitRecord{
			ID:         fmt.Sprintf("%040x", i+1),
			Author:     models.Identity{Name: author, Email: author + "@example.com"},
			AuthoredAt: at.UTC(),
		}
		for _, f := range s.files {
			c.FileChanges = append(c.FileChanges, models.FileChange{Path: f, Status: models.StatusModified, Insertions: 1})
		}
		h.Commits = append(h.Commits, c)
	}
	return h
}

func activity(t *testing.T, opts ActivityOptions) *ActivityAnalyzer {
	t.Helper()
	a, err := NewActivityAnalyzer(opts)
	require.NoError(t, err)
	return a
}

func counts(buckets []ActivityBucket) []int {
	out := make([]int, len(buckets))
	for i, b := range buckets {
		out[i] = b.Count
	}
	return out
}

func observation(r *ActivityReport, kind string) *Observation {
	for i := range r.Observations {
		if r.Observations[i].Kind == kind {
			return &r.Observations[i]
		}
	}
	return nil
}

func TestActivityEmptyHistoryHasFullDomain(t *testing.T) {
	r := activity(t, DefaultActivityOptions()).Analyze(&models.History{})

	require.Len(t, r.Buckets, 24)
	for h, b := range r.Buckets {
		assert.Equal(t, h, b.Index)
		assert.Zero(t, b.Count)
	}
	assert.Equal(t, "00:00", r.Buckets[0].Label)
	assert.Equal(t, "23:00", r.Buckets[23].Label)
	assert.Zero(t, r.Total)
	assert.NotNil(t, r.Observations)
	assert.Empty(t, r.Observations)
}

func TestActivityByHour(t *testing.T) {
	h := historyAt(t,
		stamp{at: "2024-01-01T09:00:00Z"},
		stamp{at: "2024-01-01T09:45:00Z"},
		stamp{at: "2024-01-02T23:10:00Z"},
	)
	r := activity(t, DefaultActivityOptions()).Analyze(h)

	assert.Equal(t, 3, r.Total)
	assert.Equal(t, 2, r.Buckets[9].Count)
	assert.Equal(t, 1, r.Buckets[23].Count)

	late := observation(r, "late_night")
	require.NotNil(t, late)
	assert.InDelta(t, 1.0/3.0, late.Value, 1e-12)

	peak := observation(r, "peak_hour")
	require.NotNil(t, peak)
	assert.Equal(t, 9.0, peak.Value)
}

func TestActivityNoLateNightBelowShare(t *testing.T) {
	var stamps []stamp
	for i := 0; i < 20; i++ {
		stamps = append(stamps, stamp{at: "2024-01-01T10:00:00Z"})
	}
	stamps = append(stamps, stamp{at: "2024-01-01T23:00:00Z"})
	r := activity(t, DefaultActivityOptions()).Analyze(historyAt(t, stamps...))

	// 1/21 is below 5%
	assert.Nil(t, observation(r, "late_night"))
}

func TestActivityLocation(t *testing.T) {
	h := historyAt(t, stamp{at: "2024-01-01T23:00:00Z"})
	opts := DefaultActivityOptions()
	opts.Location = time.FixedZone("UTC+2", 2*3600)
	r := activity(t, opts).Analyze(h)

	assert.Equal(t, 1, r.Buckets[1].Count)
	assert.Zero(t, r.Buckets[23].Count)
	assert.Equal(t, "UTC+2", r.Timezone)
}

func TestActivityByDayOfWeek(t *testing.T) {
	// 2024-01-01 is a Monday
	h := historyAt(t,
		stamp{at: "2024-01-01T12:00:00Z"},
		stamp{at: "2024-01-01T13:00:00Z"},
		stamp{at: "2024-01-06T12:00:00Z"},
		stamp{at: "2024-01-07T12:00:00Z"},
	)
	r := activity(t, ActivityOptions{Granularity: GranularityDayOfWeek}).Analyze(h)

	assert.Equal(t, []int{2, 0, 0, 0, 0, 1, 1}, counts(r.Buckets))
	assert.Equal(t, "Mon", r.Buckets[0].Label)
	assert.Equal(t, "Sun", r.Buckets[6].Label)

	weekend := observation(r, "weekend")
	require.NotNil(t, weekend)
	assert.InDelta(t, 0.5, weekend.Value, 1e-12)

	day := observation(r, "most_active_day")
	require.NotNil(t, day)
	assert.Contains(t, day.Message, "Mon")
}

func TestActivityByDayIsDense(t *testing.T) {
	h := historyAt(t,
		stamp{at: "2024-01-04T08:00:00Z"},
		stamp{at: "2024-01-01T08:00:00Z"},
		stamp{at: "2024-01-04T09:00:00Z"},
	)
	r := activity(t, ActivityOptions{Granularity: GranularityDay}).Analyze(h)

	require.Len(t, r.Buckets, 4)
	assert.Equal(t, "2024-01-01", r.Buckets[0].Label)
	assert.Equal(t, "2024-01-04", r.Buckets[3].Label)
	assert.Equal(t, []int{1, 0, 0, 2}, counts(r.Buckets))

	active := observation(r, "active_days")
	require.NotNil(t, active)
	assert.InDelta(t, 0.5, active.Value, 1e-12)
}

func TestActivityByDayUsesWindowBounds(t *testing.T) {
	h := historyAt(t,
		stamp{at: "2023-12-31T08:00:00Z"},
		stamp{at: "2024-01-02T08:00:00Z"},
		stamp{at: "2024-01-05T08:00:00Z"},
	)
	w, err := ParseWindow("2024-01-01", "2024-01-04")
	require.NoError(t, err)

	r := activity(t, ActivityOptions{Granularity: GranularityDay, Window: w}).Analyze(h)
	assert.Equal(t, []int{0, 1, 0}, counts(r.Buckets))
	assert.Equal(t, "2024-01-03", r.Buckets[2].Label)
	assert.Equal(t, 1, r.Total)
}

func TestActivityByAuthor(t *testing.T) {
	h := historyAt(t,
		stamp{at: "2024-01-01T09:00:00Z", author: "alice"},
		stamp{at: "2024-01-01T10:00:00Z", author: "alice"},
		stamp{at: "2024-01-01T10:30:00Z", author: "bob"},
	)
	r := activity(t, ActivityOptions{Granularity: GranularityHour, ByAuthor: true}).Analyze(h)

	require.Len(t, r.Authors, 2)
	assert.Equal(t, "alice@example.com", r.Authors[0].AuthorKey)
	assert.Equal(t, 2, r.Authors[0].Total)
	assert.Len(t, r.Authors[0].Buckets, 24)
	assert.Equal(t, 1, r.Authors[0].Buckets[9].Count)
	assert.Equal(t, 1, r.Authors[1].Buckets[10].Count)

	// the overall series is the sum of the author series
	for i, b := range r.Buckets {
		sum := 0
		for _, s := range r.Authors {
			sum += s.Buckets[i].Count
		}
		assert.Equal(t, b.Count, sum)
	}
}

func TestParseGranularity(t *testing.T) {
	tests := []struct {
		in       string
		want     Granularity
		byAuthor bool
	}{
		{"", GranularityHour, false},
		{"hour", GranularityHour, false},
		{"DOW", GranularityDayOfWeek, false},
		{"day-of-week+author", GranularityDayOfWeek, true},
		{"day", GranularityDay, false},
		{"author-combo", GranularityHour, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			g, byAuthor, err := ParseGranularity(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, g)
			assert.Equal(t, tt.byAuthor, byAuthor)
		})
	}

	_, _, err := ParseGranularity("fortnight")
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "granularity", e.Parameter())
}

func TestActivityOptionsValidate(t *testing.T) {
	_, err := NewActivityAnalyzer(ActivityOptions{Granularity: "month"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidConfig))

	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err = NewActivityAnalyzer(ActivityOptions{
		Granularity: GranularityHour,
		Window:      &Window{Start: start, End: start.Add(-time.Hour)},
	})
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "window", e.Parameter())

	_, err = ParseWindow("2024-02-01", "yesterday")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidConfig))

	w, err := ParseWindow("", "")
	assert.NoError(t, err)
	assert.Nil(t, w)
}

func TestWindowIsHalfOpen(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := &Window{Start: start, End: start.Add(24 * time.Hour)}

	assert.True(t, w.Contains(start))
	assert.False(t, w.Contains(start.Add(-time.Nanosecond)))
	assert.True(t, w.Contains(start.Add(24*time.Hour-time.Nanosecond)))
	assert.False(t, w.Contains(start.Add(24*time.Hour)))

	var open *Window
	assert.True(t, open.Contains(start))
}

func TestActivityOptionsJSONCarriesTimezone(t *testing.T) {
	data, err := json.Marshal(DefaultActivityOptions())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"timezone":"UTC"`)

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	opts := ActivityOptions{Granularity: GranularityDayOfWeek, ByAuthor: true, Location: loc}
	data, err = json.Marshal(opts)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"timezone":"America/New_York"`)
	assert.Contains(t, string(data), `"granularity":"day-of-week"`)

	var back ActivityOptions
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, GranularityDayOfWeek, back.Granularity)
	assert.True(t, back.ByAuthor)
	require.NotNil(t, back.Location)
	assert.Equal(t, "America/New_York", back.Location.String())

	err = json.Unmarshal([]byte(`{"granularity":"hour","timezone":"Nowhere/Atlantis"}`), &back)
	assert.Error(t, err)
}
