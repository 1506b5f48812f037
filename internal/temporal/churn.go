package temporal

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/logging"
	"github.com/rohankatakam/gitpulse/internal/models"
)

const (
	DefaultOutlierK = 2.0

	// recencyDecayDays is the e-folding time of the recency score
	recencyDecayDays = 90.0
)

// ChurnOptions configures per-file churn and hotspot detection
type ChurnOptions struct {
	// OutlierK is how many population standard deviations above the mean
	// a file's changed lines must exceed to be a hotspot
	OutlierK float64 `json:"outlier_k"`
	Window   *Window `json:"window,omitempty"`
	// Now anchors the recency score; zero uses the latest authored time
	Now time.Time `json:"now"`
	// Top truncates the returned records; 0 returns all
	Top int `json:"top"`
}

// DefaultChurnOptions returns k = 2 over the whole history
func DefaultChurnOptions() ChurnOptions {
	return ChurnOptions{OutlierK: DefaultOutlierK}
}

// Validate checks k, top and the window
func (o ChurnOptions) Validate() error {
	if math.IsNaN(o.OutlierK) || math.IsInf(o.OutlierK, 0) || o.OutlierK < 0 {
		return errors.InvalidConfigf("outlierK", "%v must be a finite number >= 0", o.OutlierK)
	}
	if o.Top < 0 {
		return errors.InvalidConfigf("top", "%d must be >= 0", o.Top)
	}
	return o.Window.Validate()
}

// ChurnRecord summarizes how often and how heavily one file changed
type ChurnRecord struct {
	Path              string    `json:"path"`
	TotalChanges      int       `json:"total_changes"`
	TotalLinesChanged int       `json:"total_lines_changed"`
	Insertions        int       `json:"insertions"`
	Deletions         int       `json:"deletions"`
	FirstChangedAt    time.Time `json:"first_changed_at"`
	LastChangedAt     time.Time `json:"last_changed_at"`
	UniqueAuthors     int       `json:"unique_authors"`
	ZScore            float64   `json:"z_score"`
	RecencyScore      float64   `json:"recency_score"`
	Hotspot           bool      `json:"hotspot"`
}

// ChurnReport lists every touched file with the distribution used to flag hotspots
type ChurnReport struct {
	Now       time.Time     `json:"now"`
	OutlierK  float64       `json:"outlier_k"`
	Mean      float64       `json:"mean"`
	StdDev    float64       `json:"std_dev"`
	Threshold float64       `json:"threshold"`
	Files     []ChurnRecord `json:"files"`
	Hotspots  []string      `json:"hotspots"`
	// TotalFiles counts files before Top truncation
	TotalFiles int `json:"total_files"`
}

// ChurnAnalyzer aggregates per-file change statistics
type ChurnAnalyzer struct {
	opts   ChurnOptions
	logger *slog.Logger
}

// NewChurnAnalyzer validates opts before any commit is processed
func NewChurnAnalyzer(opts ChurnOptions) (*ChurnAnalyzer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &ChurnAnalyzer{opts: opts, logger: logging.Component("churn")}, nil
}

// Options returns the validated options
func (a *ChurnAnalyzer) Options() ChurnOptions {
	return a.opts
}

type churnAcc struct {
	rec     ChurnRecord
	authors map[string]struct{}
}

// Analyze counts one change per commit per file and sums every line delta.
// A file is a hotspot when its changed lines are strictly above
// mean + k·stddev over all touched files.
func (a *ChurnAnalyzer) Analyze(h *models.History) *ChurnReport {
	commits := a.opts.Window.Filter(h.Commits)

	now := a.opts.Now
	if now.IsZero() {
		for _, c := range commits {
			if c.AuthoredAt.After(now) {
				now = c.AuthoredAt
			}
		}
	}

	files := make(map[string]*churnAcc)
	for _, c := range commits {
		authorKey, _ := c.Author.Key()
		seen := make(map[string]bool, len(c.FileChanges))
		for _, fc := range c.FileChanges {
			p := models.NormalizePath(fc.Path)
			if p == "" {
				continue
			}
			acc := files[p]
			if acc == nil {
				acc = &churnAcc{
					rec:     ChurnRecord{Path: p, FirstChangedAt: c.AuthoredAt, LastChangedAt: c.AuthoredAt},
					authors: make(map[string]struct{}),
				}
				files[p] = acc
			}
			acc.rec.Insertions += fc.Insertions
			acc.rec.Deletions += fc.Deletions
			acc.rec.TotalLinesChanged += fc.LinesChanged()
			if seen[p] {
				continue
			}
			seen[p] = true
			acc.rec.TotalChanges++
			acc.authors[authorKey] = struct{}{}
			if c.AuthoredAt.Before(acc.rec.FirstChangedAt) {
				acc.rec.FirstChangedAt = c.AuthoredAt
			}
			if c.AuthoredAt.After(acc.rec.LastChangedAt) {
				acc.rec.LastChangedAt = c.AuthoredAt
			}
		}
	}

	records := make([]ChurnRecord, 0, len(files))
	for _, acc := range files {
		acc.rec.UniqueAuthors = len(acc.authors)
		records = append(records, acc.rec)
	}
	// sort before the statistics so the float sums are order-stable
	sort.Slice(records, func(i, j int) bool {
		ri, rj := records[i], records[j]
		if ri.TotalLinesChanged != rj.TotalLinesChanged {
			return ri.TotalLinesChanged > rj.TotalLinesChanged
		}
		if ri.TotalChanges != rj.TotalChanges {
			return ri.TotalChanges > rj.TotalChanges
		}
		return ri.Path < rj.Path
	})

	report := &ChurnReport{
		Now:        now,
		OutlierK:   a.opts.OutlierK,
		Files:      records,
		Hotspots:   []string{},
		TotalFiles: len(records),
	}

	if len(records) > 0 {
		lines := make([]float64, len(records))
		for i, r := range records {
			lines[i] = float64(r.TotalLinesChanged)
		}
		report.Mean, report.StdDev = stat.PopMeanStdDev(lines, nil)
		report.Threshold = report.Mean + a.opts.OutlierK*report.StdDev

		for i := range records {
			r := &records[i]
			if report.StdDev > 0 {
				r.ZScore = stat.StdScore(float64(r.TotalLinesChanged), report.Mean, report.StdDev)
			}
			days := now.Sub(r.LastChangedAt).Hours() / 24
			if days < 0 {
				days = 0
			}
			r.RecencyScore = float64(r.TotalChanges) * math.Exp(-days/recencyDecayDays)
			if float64(r.TotalLinesChanged) > report.Threshold {
				r.Hotspot = true
				report.Hotspots = append(report.Hotspots, r.Path)
			}
		}
	}

	if a.opts.Top > 0 && len(report.Files) > a.opts.Top {
		report.Files = report.Files[:a.opts.Top]
	}

	a.logger.Debug("churn computed",
		"files", report.TotalFiles,
		"hotspots", len(report.Hotspots),
		"mean", report.Mean,
		"stddev", report.StdDev)
	return report
}
