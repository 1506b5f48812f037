package temporal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/logging"
	"github.com/rohankatakam/gitpulse/internal/models"
)

// Granularity selects the activity bucket key
type Granularity string

const (
	GranularityHour      Granularity = "hour"
	GranularityDayOfWeek Granularity = "day-of-week"
	GranularityDay       Granularity = "day"
)

const (
	lateNightShare = 0.05
	weekendShare   = 0.10
)

// dayNames is indexed Monday = 0 through Sunday = 6
var dayNames = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// ParseGranularity accepts hour, day-of-week (or dow), day, and any of
// those with a "+author" suffix. "author-combo" means hour+author.
func ParseGranularity(s string) (g Granularity, byAuthor bool, err error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return GranularityHour, false, nil
	}
	if s == "author-combo" {
		return GranularityHour, true, nil
	}
	if base, ok := strings.CutSuffix(s, "+author"); ok {
		s, byAuthor = base, true
	}
	switch s {
	case "hour", "hour-of-day":
		return GranularityHour, byAuthor, nil
	case "day-of-week", "dow", "weekday":
		return GranularityDayOfWeek, byAuthor, nil
	case "day", "date":
		return GranularityDay, byAuthor, nil
	}
	return "", false, errors.InvalidConfigf("granularity", "%q is not one of hour, day-of-week, day, author-combo", s)
}

// ActivityOptions configures the activity histogram
type ActivityOptions struct {
	Granularity Granularity `json:"granularity"`
	// ByAuthor adds one series per author over the same domain
	ByAuthor bool `json:"by_author"`
	// Location buckets timestamps in this zone; nil means UTC. It is
	// encoded as the IANA name under "timezone".
	Location *time.Location `json:"-"`
	Window   *Window        `json:"window,omitempty"`
}

// activityOptionsJSON has the fields of ActivityOptions without its methods
type activityOptionsJSON ActivityOptions

// MarshalJSON adds the zone name, so the options echo and the run id
// differ between time zones.
func (o ActivityOptions) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		activityOptionsJSON
		Timezone string `json:"timezone"`
	}{activityOptionsJSON(o), o.timezone()})
}

// UnmarshalJSON reads the zone name written by MarshalJSON
func (o *ActivityOptions) UnmarshalJSON(data []byte) error {
	var v struct {
		activityOptionsJSON
		Timezone string `json:"timezone"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = ActivityOptions(v.activityOptionsJSON)
	if v.Timezone != "" && v.Timezone != "UTC" {
		loc, err := time.LoadLocation(v.Timezone)
		if err != nil {
			return errors.InvalidConfigf("timezone", "%q: %v", v.Timezone, err)
		}
		o.Location = loc
	}
	return nil
}

func (o ActivityOptions) timezone() string {
	if o.Location == nil {
		return time.UTC.String()
	}
	return o.Location.String()
}

// DefaultActivityOptions returns hour-of-day buckets in UTC
func DefaultActivityOptions() ActivityOptions {
	return ActivityOptions{Granularity: GranularityHour}
}

// Validate checks the granularity and window
func (o ActivityOptions) Validate() error {
	switch o.Granularity {
	case GranularityHour, GranularityDayOfWeek, GranularityDay:
	default:
		return errors.InvalidConfigf("granularity", "%q is not one of hour, day-of-week, day", o.Granularity)
	}
	return o.Window.Validate()
}

// ActivityBucket is one key of the histogram domain
type ActivityBucket struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// AuthorSeries is the histogram restricted to one author
type AuthorSeries struct {
	AuthorKey string           `json:"author_key"`
	Name      string           `json:"name"`
	Total     int              `json:"total"`
	Buckets   []ActivityBucket `json:"buckets"`
}

// Observation is a notable pattern in the histogram
type Observation struct {
	Kind    string  `json:"kind"`
	Message string  `json:"message"`
	Value   float64 `json:"value"`
}

// ActivityReport exposes the full bucket domain, zero counts included
type ActivityReport struct {
	Granularity  Granularity      `json:"granularity"`
	Timezone     string           `json:"timezone"`
	Total        int              `json:"total"`
	Buckets      []ActivityBucket `json:"buckets"`
	Authors      []AuthorSeries   `json:"authors,omitempty"`
	Observations []Observation    `json:"observations"`
}

// ActivityAnalyzer buckets commits by authored time
type ActivityAnalyzer struct {
	opts   ActivityOptions
	loc    *time.Location
	logger *slog.Logger
}

// NewActivityAnalyzer validates opts before any commit is processed
func NewActivityAnalyzer(opts ActivityOptions) (*ActivityAnalyzer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &ActivityAnalyzer{opts: opts, loc: loc, logger: logging.Component("activity")}, nil
}

// Options returns the validated options
func (a *ActivityAnalyzer) Options() ActivityOptions {
	return a.opts
}

// domain maps a timestamp to a bucket index and lists every bucket label
type domain struct {
	labels []string
	index  func(time.Time) int
}

func (a *ActivityAnalyzer) domain(commits []*models.CommitRecord) domain {
	switch a.opts.Granularity {
	case GranularityDayOfWeek:
		return domain{
			labels: dayNames[:],
			index: func(t time.Time) int {
				return (int(t.In(a.loc).Weekday()) + 6) % 7
			},
		}
	case GranularityDay:
		return a.dayDomain(commits)
	default:
		labels := make([]string, 24)
		for h := range labels {
			labels[h] = fmt.Sprintf("%02d:00", h)
		}
		return domain{
			labels: labels,
			index:  func(t time.Time) int { return t.In(a.loc).Hour() },
		}
	}
}

// dayDomain spans every calendar date from the first to the last commit,
// or the window bounds where they are set.
func (a *ActivityAnalyzer) dayDomain(commits []*models.CommitRecord) domain {
	var first, last time.Time
	for i, c := range commits {
		t := c.AuthoredAt.In(a.loc)
		if i == 0 || t.Before(first) {
			first = t
		}
		if i == 0 || t.After(last) {
			last = t
		}
	}
	if w := a.opts.Window; w != nil {
		if !w.Start.IsZero() {
			first = w.Start.In(a.loc)
		}
		if !w.End.IsZero() {
			last = w.End.Add(-time.Nanosecond).In(a.loc)
		}
	}

	d := domain{labels: []string{}}
	if first.IsZero() || last.IsZero() || last.Before(first) {
		d.index = func(time.Time) int { return -1 }
		return d
	}

	start := midnight(first, a.loc)
	end := midnight(last, a.loc)
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		d.labels = append(d.labels, day.Format("2006-01-02"))
	}
	pos := make(map[string]int, len(d.labels))
	for i, l := range d.labels {
		pos[l] = i
	}
	d.index = func(t time.Time) int {
		if i, ok := pos[t.In(a.loc).Format("2006-01-02")]; ok {
			return i
		}
		return -1
	}
	return d
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func newBuckets(labels []string) []ActivityBucket {
	b := make([]ActivityBucket, len(labels))
	for i, l := range labels {
		b[i] = ActivityBucket{Index: i, Label: l}
	}
	return b
}

// Analyze builds the histogram. The bucket slice always covers the whole
// domain: 24 hours, 7 weekdays, or every date in range.
func (a *ActivityAnalyzer) Analyze(h *models.History) *ActivityReport {
	commits := a.opts.Window.Filter(h.Commits)
	d := a.domain(commits)

	report := &ActivityReport{
		Granularity:  a.opts.Granularity,
		Timezone:     a.loc.String(),
		Buckets:      newBuckets(d.labels),
		Observations: []Observation{},
	}

	series := make(map[string]*AuthorSeries)
	for _, c := range commits {
		i := d.index(c.AuthoredAt)
		if i < 0 {
			continue
		}
		report.Buckets[i].Count++
		report.Total++

		if a.opts.ByAuthor {
			key, _ := c.Author.Key()
			s := series[key]
			if s == nil {
				s = &AuthorSeries{AuthorKey: key, Name: c.Author.Name, Buckets: newBuckets(d.labels)}
				series[key] = s
			}
			s.Buckets[i].Count++
			s.Total++
		}
	}

	if a.opts.ByAuthor {
		report.Authors = make([]AuthorSeries, 0, len(series))
		for _, s := range series {
			report.Authors = append(report.Authors, *s)
		}
		sort.Slice(report.Authors, func(i, j int) bool {
			if report.Authors[i].Total != report.Authors[j].Total {
				return report.Authors[i].Total > report.Authors[j].Total
			}
			return report.Authors[i].AuthorKey < report.Authors[j].AuthorKey
		})
	}

	report.Observations = a.observe(report)

	a.logger.Debug("activity histogram built",
		"granularity", report.Granularity,
		"buckets", len(report.Buckets),
		"commits", report.Total)
	return report
}

func (a *ActivityAnalyzer) observe(r *ActivityReport) []Observation {
	obs := []Observation{}
	if r.Total == 0 {
		return obs
	}
	total := float64(r.Total)

	switch r.Granularity {
	case GranularityHour:
		late := 0
		for _, h := range []int{22, 23, 0, 1, 2, 3, 4} {
			late += r.Buckets[h].Count
		}
		if share := float64(late) / total; share > lateNightShare {
			obs = append(obs, Observation{
				Kind:    "late_night",
				Message: fmt.Sprintf("%.1f%% of commits during late night (22:00-04:59)", share*100),
				Value:   share,
			})
		}
		peak := peakBucket(r.Buckets)
		obs = append(obs, Observation{
			Kind:    "peak_hour",
			Message: fmt.Sprintf("Peak activity: %s (%d commits)", peak.Label, peak.Count),
			Value:   float64(peak.Index),
		})

	case GranularityDayOfWeek:
		weekend := r.Buckets[5].Count + r.Buckets[6].Count
		if share := float64(weekend) / total; share > weekendShare {
			obs = append(obs, Observation{
				Kind:    "weekend",
				Message: fmt.Sprintf("%.1f%% of commits on weekends", share*100),
				Value:   share,
			})
		}
		peak := peakBucket(r.Buckets)
		obs = append(obs, Observation{
			Kind:    "most_active_day",
			Message: fmt.Sprintf("Most active day: %s (%d commits)", peak.Label, peak.Count),
			Value:   float64(peak.Index),
		})

	case GranularityDay:
		peak := peakBucket(r.Buckets)
		active := 0
		for _, b := range r.Buckets {
			if b.Count > 0 {
				active++
			}
		}
		obs = append(obs,
			Observation{
				Kind:    "busiest_date",
				Message: fmt.Sprintf("Busiest date: %s (%d commits)", peak.Label, peak.Count),
				Value:   float64(peak.Count),
			},
			Observation{
				Kind:    "active_days",
				Message: fmt.Sprintf("Commits on %d of %d days", active, len(r.Buckets)),
				Value:   float64(active) / float64(len(r.Buckets)),
			})
	}
	return obs
}

// peakBucket returns the first bucket with the highest count
func peakBucket(buckets []ActivityBucket) ActivityBucket {
	best := buckets[0]
	for _, b := range buckets[1:] {
		if b.Count > best.Count {
			best = b
		}
	}
	return best
}
