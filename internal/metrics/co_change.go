package metrics

import (
	"log/slog"
	"sort"

	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/logging"
	"github.com/rohankatakam/gitpulse/internal/models"
)

const (
	DefaultCoChangeThreshold = 0.30
	DefaultMinSupport        = 2
	DefaultFanOutLimit       = 50
)

// CoChangeOptions configures the co-change analyzer
type CoChangeOptions struct {
	// Threshold is the minimum Jaccard score reported, in [0,1]
	Threshold float64 `json:"threshold"`
	// MinSupport is the minimum number of shared commits reported, ≥1
	MinSupport int `json:"min_support"`
	// FanOutLimit excludes commits touching more files than this. 0 disables the limit.
	FanOutLimit int `json:"fan_out_limit"`
	// Top truncates the pair list after sorting. 0 keeps every pair.
	Top int `json:"top,omitempty"`
}

// DefaultCoChangeOptions returns the documented defaults
func DefaultCoChangeOptions() CoChangeOptions {
	return CoChangeOptions{
		Threshold:   DefaultCoChangeThreshold,
		MinSupport:  DefaultMinSupport,
		FanOutLimit: DefaultFanOutLimit,
	}
}

// Validate checks every option against its documented range
func (o CoChangeOptions) Validate() error {
	if o.Threshold < 0 || o.Threshold > 1 || o.Threshold != o.Threshold {
		return errors.InvalidConfigf("threshold", "%v is outside [0,1]", o.Threshold)
	}
	if o.MinSupport < 1 {
		return errors.InvalidConfigf("minSupport", "%d must be at least 1", o.MinSupport)
	}
	if o.FanOutLimit < 0 {
		return errors.InvalidConfigf("fanOutLimit", "%d must be positive, or 0 to disable", o.FanOutLimit)
	}
	if o.Top < 0 {
		return errors.InvalidConfigf("top", "%d must not be negative", o.Top)
	}
	return nil
}

// Strength buckets a co-change score
type Strength string

const (
	StrengthStrong   Strength = "strong"
	StrengthModerate Strength = "moderate"
	StrengthWeak     Strength = "weak"
)

// ClassifyStrength maps a score to strong (≥0.60), moderate (≥0.40) or weak.
func ClassifyStrength(score float64) Strength {
	switch {
	case score >= 0.60:
		return StrengthStrong
	case score >= 0.40:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// CoChangePair is an unordered file pair; FileA < FileB.
type CoChangePair struct {
	FileA         string   `json:"file_a"`
	FileB         string   `json:"file_b"`
	CoOccurrences int      `json:"co_occurrence_count"`
	SupportA      int      `json:"support_a"`
	SupportB      int      `json:"support_b"`
	Score         float64  `json:"score"`
	Strength      Strength `json:"strength"`
}

// CoChangePartner is one side of a pair, seen from the other file
type CoChangePartner struct {
	FilePath      string   `json:"file_path"`
	CoOccurrences int      `json:"co_occurrence_count"`
	Score         float64  `json:"score"`
	Strength      Strength `json:"strength"`
}

// CoChangeReport is the analyzer output
type CoChangeReport struct {
	Pairs []CoChangePair `json:"pairs"`
	// TotalPairs counts pairs passing both filters, before Top truncation
	TotalPairs int `json:"total_pairs"`
	// CandidatePairs counts every pair seen at least once
	CandidatePairs int `json:"candidate_pairs"`
	FilesAnalyzed  int `json:"files_analyzed"`
	// CommitsConsidered counts commits that contributed support, after the fan-out filter
	CommitsConsidered int `json:"commits_considered"`
	FanOutSkipped     int `json:"fan_out_skipped"`

	// filtered holds every pair passing both filters, before Top truncation
	filtered []CoChangePair
}

// PartnersOf returns every pair involving file that passed the filters,
// strongest first. Top does not apply; callers limit the partner list.
// A report decoded from JSON only knows its rendered pairs.
func (r *CoChangeReport) PartnersOf(file string) []CoChangePartner {
	file = models.NormalizePath(file)
	pairs := r.filtered
	if pairs == nil {
		pairs = r.Pairs
	}
	partners := []CoChangePartner{}
	for _, p := range pairs {
		var other string
		switch file {
		case p.FileA:
			other = p.FileB
		case p.FileB:
			other = p.FileA
		default:
			continue
		}
		partners = append(partners, CoChangePartner{
			FilePath:      other,
			CoOccurrences: p.CoOccurrences,
			Score:         p.Score,
			Strength:      p.Strength,
		})
	}
	return partners
}

// CoChangeAnalyzer computes Jaccard co-change scores over a commit history
type CoChangeAnalyzer struct {
	opts   CoChangeOptions
	logger *slog.Logger
}

// NewCoChangeAnalyzer validates opts before any commit is processed
func NewCoChangeAnalyzer(opts CoChangeOptions) (*CoChangeAnalyzer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &CoChangeAnalyzer{opts: opts, logger: logging.Component("cochange")}, nil
}

// Options returns the validated options
func (a *CoChangeAnalyzer) Options() CoChangeOptions {
	return a.opts
}

type filePair struct {
	a, b string
}

// Analyze scans the history once.
//
// Support counts every commit touching a file, including single-file
// commits. Commits above the fan-out limit add neither pairs nor support,
// so the Jaccard denominator stays consistent with the numerator.
func (a *CoChangeAnalyzer) Analyze(h *models.History) *CoChangeReport {
	support := make(map[string]int)
	together := make(map[filePair]int)
	report := &CoChangeReport{Pairs: []CoChangePair{}}

	for _, c := range h.Commits {
		files := c.Paths()
		if len(files) == 0 {
			continue
		}
		if a.opts.FanOutLimit > 0 && len(files) > a.opts.FanOutLimit {
			report.FanOutSkipped++
			continue
		}
		report.CommitsConsidered++

		for _, f := range files {
			support[f]++
		}
		for i := 0; i < len(files); i++ {
			for j := i + 1; j < len(files); j++ {
				fa, fb := files[i], files[j]
				if fa > fb {
					fa, fb = fb, fa
				}
				together[filePair{fa, fb}]++
			}
		}
	}

	report.FilesAnalyzed = len(support)
	report.CandidatePairs = len(together)

	for pair, co := range together {
		if co < a.opts.MinSupport {
			continue
		}
		sa, sb := support[pair.a], support[pair.b]
		score := float64(co) / float64(sa+sb-co)
		if score < a.opts.Threshold {
			continue
		}
		report.Pairs = append(report.Pairs, CoChangePair{
			FileA:         pair.a,
			FileB:         pair.b,
			CoOccurrences: co,
			SupportA:      sa,
			SupportB:      sb,
			Score:         score,
			Strength:      ClassifyStrength(score),
		})
	}

	sort.Slice(report.Pairs, func(i, j int) bool {
		pi, pj := report.Pairs[i], report.Pairs[j]
		if pi.Score != pj.Score {
			return pi.Score > pj.Score
		}
		if pi.CoOccurrences != pj.CoOccurrences {
			return pi.CoOccurrences > pj.CoOccurrences
		}
		if pi.FileA != pj.FileA {
			return pi.FileA < pj.FileA
		}
		return pi.FileB < pj.FileB
	})

	report.TotalPairs = len(report.Pairs)
	report.filtered = report.Pairs
	if a.opts.Top > 0 && len(report.Pairs) > a.opts.Top {
		report.Pairs = report.Pairs[:a.opts.Top]
	}

	a.logger.Debug("co-change analysis complete",
		"commits", report.CommitsConsidered,
		"files", report.FilesAnalyzed,
		"candidate_pairs", report.CandidatePairs,
		"reported_pairs", report.TotalPairs,
		"fan_out_skipped", report.FanOutSkipped)

	return report
}
