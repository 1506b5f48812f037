// Package ownership computes recency-weighted authorship per file.
//
// Every file change contributes w·max(insertions+deletions, 1) to its
// (file, author) entry, where w = exp(-ln2/halfLife · ageDays). Entries keep
// raw weights; shares are derived only when the report is built.
package ownership

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/logging"
	"github.com/rohankatakam/gitpulse/internal/models"
)

const (
	DefaultHalfLifeDays   = 180.0
	DefaultStaleAfterDays = 180.0

	PrimaryShare   = 0.40
	SecondaryShare = 0.20
)

// Options configures the calculator
type Options struct {
	HalfLifeDays float64 `json:"half_life_days"`
	// Now is the reference time for decay. Zero means the latest authored time in the history.
	Now time.Time `json:"now"`
	// StaleAfterDays flags owners whose last commit is older than this. 0 disables the flag.
	StaleAfterDays float64 `json:"stale_after_days"`
	// FollowRenames merges an old path's entries into the new path when a rename is seen.
	FollowRenames bool `json:"follow_renames"`
	// Files restricts the report to these paths. Aggregation still covers the whole history.
	Files []string `json:"files,omitempty"`
	// Author, when set, adds an expertise view for that author (email or name).
	Author string `json:"author,omitempty"`
}

// DefaultOptions returns the documented defaults
func DefaultOptions() Options {
	return Options{
		HalfLifeDays:   DefaultHalfLifeDays,
		StaleAfterDays: DefaultStaleAfterDays,
		FollowRenames:  true,
	}
}

// Validate checks every option against its documented range
func (o Options) Validate() error {
	if !(o.HalfLifeDays > 0) || math.IsInf(o.HalfLifeDays, 0) {
		return errors.InvalidConfigf("halfLifeDays", "%v must be a positive number of days", o.HalfLifeDays)
	}
	if o.StaleAfterDays < 0 || math.IsNaN(o.StaleAfterDays) {
		return errors.InvalidConfigf("staleAfterDays", "%v must not be negative", o.StaleAfterDays)
	}
	return nil
}

// Classification buckets an owner's share of a file
type Classification string

const (
	ClassPrimary    Classification = "primary"
	ClassSecondary  Classification = "secondary"
	ClassHistorical Classification = "historical"
)

// Classify maps a share in [0,1] to primary (≥0.40), secondary (≥0.20) or historical.
func Classify(share float64) Classification {
	switch {
	case share >= PrimaryShare:
		return ClassPrimary
	case share >= SecondaryShare:
		return ClassSecondary
	default:
		return ClassHistorical
	}
}

// Entry is one author's ownership of one file
type Entry struct {
	AuthorKey string `json:"author_key"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	// KeyedByName is set when the author had no email and was merged by name.
	KeyedByName bool `json:"keyed_by_name,omitempty"`

	WeightedLines float64   `json:"weighted_lines"`
	CommitCount   int       `json:"commit_count"`
	FirstCommitAt time.Time `json:"first_commit_at"`
	LastCommitAt  time.Time `json:"last_commit_at"`

	Share          float64        `json:"share"`
	Classification Classification `json:"classification"`
	DaysSinceLast  float64        `json:"days_since_last"`
	Stale          bool           `json:"stale"`
}

// FileOwnership lists the owners of one file, largest share first
type FileOwnership struct {
	Path        string  `json:"path"`
	TotalWeight float64 `json:"total_weight"`
	Owners      []Entry `json:"owners"`
}

// AuthorSummary aggregates one author across all files
type AuthorSummary struct {
	AuthorKey     string  `json:"author_key"`
	Name          string  `json:"name"`
	Email         string  `json:"email,omitempty"`
	KeyedByName   bool    `json:"keyed_by_name,omitempty"`
	Files         int     `json:"files"`
	PrimaryFiles  int     `json:"primary_files"`
	Commits       int     `json:"commits"`
	WeightedLines float64 `json:"weighted_lines"`
}

// ExpertiseFile is one file in an author's expertise view
type ExpertiseFile struct {
	Path           string         `json:"path"`
	CommitCount    int            `json:"commit_count"`
	WeightedLines  float64        `json:"weighted_lines"`
	Share          float64        `json:"share"`
	Classification Classification `json:"classification"`
	LastCommitAt   time.Time      `json:"last_commit_at"`
}

// Expertise lists the files an author touched, most commits first
type Expertise struct {
	Query     string          `json:"query"`
	AuthorKey string          `json:"author_key,omitempty"`
	Name      string          `json:"name,omitempty"`
	Files     []ExpertiseFile `json:"files"`
}

// Report is the calculator output
type Report struct {
	Now          time.Time       `json:"now"`
	HalfLifeDays float64         `json:"half_life_days"`
	Files        []FileOwnership `json:"files"`
	Authors      []AuthorSummary `json:"authors"`
	Expertise    *Expertise      `json:"expertise,omitempty"`
	// RenamesFollowed counts rename events whose history was carried to the new path
	RenamesFollowed int `json:"renames_followed"`
	// NameKeyedAuthors lists authors merged by name because they had no email.
	// Name variants of such authors are not merged.
	NameKeyedAuthors []string `json:"name_keyed_authors,omitempty"`
}

// Calculator computes ownership
type Calculator struct {
	opts   Options
	lambda float64
	logger *slog.Logger
}

// NewCalculator validates opts before any commit is processed
func NewCalculator(opts Options) (*Calculator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{
		opts:   opts,
		lambda: math.Ln2 / opts.HalfLifeDays,
		logger: logging.Component("ownership"),
	}, nil
}

// Options returns the validated options
func (c *Calculator) Options() Options {
	return c.opts
}

// Weight returns the decay factor for a contribution ageDays old. Negative ages count as 0.
func (c *Calculator) Weight(ageDays float64) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-c.lambda * ageDays)
}

// accum is the raw, un-normalized aggregate for one (file, author)
type accum struct {
	key         string
	name        string
	email       string
	byName      bool
	weighted    float64
	commits     int
	first, last time.Time
}

func (a *accum) merge(o *accum) {
	a.weighted += o.weighted
	a.commits += o.commits
	if o.first.Before(a.first) {
		a.first = o.first
	}
	if o.last.After(a.last) {
		a.last = o.last
		a.name, a.email = o.name, o.email
	}
}

// Calculate aggregates the history. Commits are applied oldest first so
// renames can carry the old path's aggregate forward.
func (c *Calculator) Calculate(h *models.History) *Report {
	now := c.opts.Now
	if now.IsZero() {
		_, now = h.DateRange()
	}
	now = now.UTC()

	files := make(map[string]map[string]*accum)
	renames := 0

	for _, commit := range chronological(h) {
		key, byName := commit.Author.Key()
		if key == "" {
			key, byName = "unknown", true
		}
		ageDays := now.Sub(commit.AuthoredAt).Hours() / 24
		w := c.Weight(ageDays)

		touched := make(map[string]bool, len(commit.FileChanges))
		for _, fc := range commit.FileChanges {
			path := models.NormalizePath(fc.Path)
			if path == "" {
				continue
			}

			if c.opts.FollowRenames && fc.Status == models.StatusRenamed {
				if old := models.NormalizePath(fc.OldPath); old != "" && old != path {
					if moved, ok := files[old]; ok {
						dst := files[path]
						if dst == nil {
							dst = make(map[string]*accum, len(moved))
							files[path] = dst
						}
						for k, a := range moved {
							if existing, ok := dst[k]; ok {
								existing.merge(a)
							} else {
								dst[k] = a
							}
						}
						delete(files, old)
						renames++
					}
				}
			}

			authors := files[path]
			if authors == nil {
				authors = make(map[string]*accum)
				files[path] = authors
			}
			a := authors[key]
			if a == nil {
				a = &accum{key: key, byName: byName, first: commit.AuthoredAt, last: commit.AuthoredAt}
				authors[key] = a
			}

			a.weighted += w * float64(max(fc.LinesChanged(), 1))
			if !touched[path] {
				a.commits++
				touched[path] = true
			}
			if commit.AuthoredAt.Before(a.first) {
				a.first = commit.AuthoredAt
			}
			if !commit.AuthoredAt.Before(a.last) {
				a.last = commit.AuthoredAt
				a.name, a.email = commit.Author.Name, commit.Author.Email
			}
		}
	}

	report := c.buildReport(now, files)
	report.RenamesFollowed = renames

	c.logger.Debug("ownership calculated",
		"files", len(files),
		"authors", len(report.Authors),
		"renames_followed", renames,
		"now", now)
	return report
}

// chronological returns commits oldest first. Log order is newest first,
// so ties on authored time keep the later log position first.
func chronological(h *models.History) []*models.CommitRecord {
	n := len(h.Commits)
	ordered := make([]*models.CommitRecord, n)
	for i, c := range h.Commits {
		ordered[n-1-i] = c
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].AuthoredAt.Before(ordered[j].AuthoredAt)
	})
	return ordered
}

func (c *Calculator) buildReport(now time.Time, files map[string]map[string]*accum) *Report {
	report := &Report{
		Now:          now,
		HalfLifeDays: c.opts.HalfLifeDays,
		Files:        []FileOwnership{},
		Authors:      []AuthorSummary{},
	}

	var filter map[string]bool
	if len(c.opts.Files) > 0 {
		filter = make(map[string]bool, len(c.opts.Files))
		for _, f := range c.opts.Files {
			filter[models.NormalizePath(f)] = true
		}
	}

	summaries := make(map[string]*AuthorSummary)
	nameKeyed := make(map[string]bool)
	all := make([]FileOwnership, 0, len(files))

	for path, authors := range files {
		fo := c.fileOwnership(now, path, authors)
		all = append(all, fo)

		for _, e := range fo.Owners {
			s := summaries[e.AuthorKey]
			if s == nil {
				s = &AuthorSummary{AuthorKey: e.AuthorKey, KeyedByName: e.KeyedByName}
				summaries[e.AuthorKey] = s
			}
			s.Files++
			s.Commits += e.CommitCount
			s.WeightedLines += e.WeightedLines
			if e.Classification == ClassPrimary {
				s.PrimaryFiles++
			}
			if e.KeyedByName {
				nameKeyed[e.AuthorKey] = true
			}
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Path < all[j].Path })

	// display names come from the author's latest commit across all files
	latest := make(map[string]time.Time)
	for _, fo := range all {
		for _, e := range fo.Owners {
			if t, ok := latest[e.AuthorKey]; !ok || e.LastCommitAt.After(t) {
				latest[e.AuthorKey] = e.LastCommitAt
				summaries[e.AuthorKey].Name = e.Name
				summaries[e.AuthorKey].Email = e.Email
			}
		}
	}

	for _, fo := range all {
		if filter == nil || filter[fo.Path] {
			report.Files = append(report.Files, fo)
		}
	}

	for _, s := range summaries {
		report.Authors = append(report.Authors, *s)
	}
	sort.Slice(report.Authors, func(i, j int) bool {
		ai, aj := report.Authors[i], report.Authors[j]
		if ai.WeightedLines != aj.WeightedLines {
			return ai.WeightedLines > aj.WeightedLines
		}
		return ai.AuthorKey < aj.AuthorKey
	})

	for k := range nameKeyed {
		report.NameKeyedAuthors = append(report.NameKeyedAuthors, k)
	}
	sort.Strings(report.NameKeyedAuthors)

	if c.opts.Author != "" {
		report.Expertise = expertise(c.opts.Author, all)
	}
	return report
}

func (c *Calculator) fileOwnership(now time.Time, path string, authors map[string]*accum) FileOwnership {
	// sum in key order so float totals are reproducible
	keys := make([]string, 0, len(authors))
	for k := range authors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	total := 0.0
	totalCommits := 0
	for _, k := range keys {
		total += authors[k].weighted
		totalCommits += authors[k].commits
	}

	owners := make([]Entry, 0, len(authors))
	for _, k := range keys {
		a := authors[k]
		// w underflows to 0 only for contributions thousands of half-lives old;
		// fall back to commit counts so shares still sum to 1.
		var share float64
		switch {
		case total > 0:
			share = a.weighted / total
		case totalCommits > 0:
			share = float64(a.commits) / float64(totalCommits)
		}

		since := now.Sub(a.last).Hours() / 24
		if since < 0 {
			since = 0
		}
		owners = append(owners, Entry{
			AuthorKey:      a.key,
			Name:           a.name,
			Email:          a.email,
			KeyedByName:    a.byName,
			WeightedLines:  a.weighted,
			CommitCount:    a.commits,
			FirstCommitAt:  a.first,
			LastCommitAt:   a.last,
			Share:          share,
			Classification: Classify(share),
			DaysSinceLast:  since,
			Stale:          c.opts.StaleAfterDays > 0 && since > c.opts.StaleAfterDays,
		})
	}

	sort.Slice(owners, func(i, j int) bool {
		oi, oj := owners[i], owners[j]
		if oi.Share != oj.Share {
			return oi.Share > oj.Share
		}
		if !oi.LastCommitAt.Equal(oj.LastCommitAt) {
			return oi.LastCommitAt.After(oj.LastCommitAt)
		}
		return oi.AuthorKey < oj.AuthorKey
	})

	return FileOwnership{Path: path, TotalWeight: total, Owners: owners}
}

// expertise matches query against author keys, then display names, case-insensitively
func expertise(query string, files []FileOwnership) *Expertise {
	q := strings.ToLower(strings.TrimSpace(query))
	ex := &Expertise{Query: query, Files: []ExpertiseFile{}}

	match := func(e Entry) bool {
		return e.AuthorKey == q || strings.ToLower(e.Name) == q
	}

	for _, fo := range files {
		for _, e := range fo.Owners {
			if !match(e) {
				continue
			}
			if ex.AuthorKey == "" {
				ex.AuthorKey, ex.Name = e.AuthorKey, e.Name
			}
			ex.Files = append(ex.Files, ExpertiseFile{
				Path:           fo.Path,
				CommitCount:    e.CommitCount,
				WeightedLines:  e.WeightedLines,
				Share:          e.Share,
				Classification: e.Classification,
				LastCommitAt:   e.LastCommitAt,
			})
		}
	}

	sort.Slice(ex.Files, func(i, j int) bool {
		fi, fj := ex.Files[i], ex.Files[j]
		if fi.CommitCount != fj.CommitCount {
			return fi.CommitCount > fj.CommitCount
		}
		if fi.WeightedLines != fj.WeightedLines {
			return fi.WeightedLines > fj.WeightedLines
		}
		return fi.Path < fj.Path
	})
	return ex
}
