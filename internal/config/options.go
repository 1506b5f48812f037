package config

import (
	"strings"
	"time"

	"github.com/rohankatakam/gitpulse/internal/analysis"
	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/gitlog"
	"github.com/rohankatakam/gitpulse/internal/graph"
	"github.com/rohankatakam/gitpulse/internal/metrics"
	"github.com/rohankatakam/gitpulse/internal/ownership"
	"github.com/rohankatakam/gitpulse/internal/storage"
	"github.com/rohankatakam/gitpulse/internal/temporal"
)

const (
	BackendGit   = "git"
	BackendGoGit = "go-git"
	BackendFile  = "file"
)

// Options converts the analysis section into engine options. Range checks
// are left to the analyzers, which validate their own options.
func (a AnalysisConfig) Options() (analysis.Options, error) {
	opts := analysis.Options{
		CoChange: metrics.CoChangeOptions{
			Threshold:   a.Threshold,
			MinSupport:  a.MinSupport,
			FanOutLimit: a.FanOutLimit,
			Top:         a.Top,
		},
		Ownership: ownership.Options{
			HalfLifeDays:   a.HalfLifeDays,
			StaleAfterDays: a.StaleAfterDays,
			FollowRenames:  a.FollowRenames,
		},
		Dependencies: graph.DependencyOptions{
			ClusterWeightThreshold: a.ClusterWeightThreshold,
			RepresentativeFiles:    a.RepresentativeFiles,
			MaxFileCommits:         a.MaxFileCommits,
		},
		Churn: temporal.ChurnOptions{
			OutlierK: a.ChurnOutlierK,
			Top:      a.Top,
		},
		Sequential: !a.Parallel,
	}
	if !a.SkipMalformed {
		opts.Policy = gitlog.AbortOnMalformed
	}

	if a.Now != "" {
		now, err := ParseTime(a.Now)
		if err != nil {
			return opts, errors.InvalidConfigf("now", "%q is not an RFC 3339 timestamp or date", a.Now)
		}
		opts.Ownership.Now = now
		opts.Churn.Now = now
	}

	granularity, byAuthor, err := temporal.ParseGranularity(a.Granularity)
	if err != nil {
		return opts, err
	}
	opts.Activity = temporal.ActivityOptions{Granularity: granularity, ByAuthor: byAuthor}

	if tz := strings.TrimSpace(a.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return opts, errors.InvalidConfigf("timezone", "%q: %v", tz, err)
		}
		opts.Activity.Location = loc
	}

	window, err := temporal.ParseWindow(a.WindowStart, a.WindowEnd)
	if err != nil {
		return opts, err
	}
	opts.Activity.Window = window
	opts.Churn.Window = window

	return opts, nil
}

// ParseTime accepts an RFC 3339 timestamp or a plain date (midnight UTC)
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}

// Query returns the commit selection shared by the git and go-git backends
func (s SourceConfig) Query() gitlog.Query {
	return gitlog.Query{
		Range:    s.Range,
		Since:    s.Since,
		Until:    s.Until,
		MaxCount: s.MaxCount,
		Paths:    s.Paths,
	}
}

// Source builds the commit log source for the configured backend
func (s SourceConfig) Source() (gitlog.Source, error) {
	switch strings.ToLower(strings.TrimSpace(s.Backend)) {
	case "", BackendGit:
		return &gitlog.GitCommand{Binary: s.GitBinary, RepoPath: s.RepoPath, Query: s.Query()}, nil
	case BackendGoGit, "gogit":
		return &gitlog.GoGitSource{RepoPath: s.RepoPath, Query: s.Query()}, nil
	case BackendFile:
		if s.Input == "" {
			return nil, errors.InvalidConfigf("input", "the file backend needs an input path or \"-\"")
		}
		return &gitlog.FileSource{Path: s.Input}, nil
	}
	return nil, errors.InvalidConfigf("backend", "%q is not one of git, go-git, file", s.Backend)
}

// Options locates the report archive
func (a ArchiveConfig) Options() storage.Options {
	return storage.Options{Backend: a.Backend, Path: a.Path, DSN: a.DSN}
}
