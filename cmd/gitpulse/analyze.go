package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/gitpulse/internal/analysis"
	"github.com/rohankatakam/gitpulse/internal/config"
	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/gitlog"
	"github.com/rohankatakam/gitpulse/internal/graph"
	"github.com/rohankatakam/gitpulse/internal/models"
	"github.com/rohankatakam/gitpulse/internal/output"
	"github.com/rohankatakam/gitpulse/internal/report"
	"github.com/rohankatakam/gitpulse/internal/storage"
	"github.com/rohankatakam/gitpulse/internal/temporal"
)

var (
	cochangeThreshold   float64
	cochangeMinSupport  int
	cochangeFanOutLimit int
	cochangeNoFanOut    bool
	topN                int

	ownershipAuthor   string
	ownershipHalfLife float64
	ownershipNoRename bool

	depsClusterThreshold float64
	depsMaxFileCommits   int
	depsDepth            int
	depsMinShared        int
	depsMaxResults       int

	activityGranularity string
	activityTimezone    string
	windowStart         string
	windowEnd           string

	churnOutlierK float64
)

var cochangeCmd = &cobra.Command{
	Use:   "cochange [file]",
	Short: "Find files that change together",
	Long: `Scores every pair of files by the Jaccard index of the commits touching them.

With a file argument only that file's partners are listed.

Examples:
  gitpulse cochange --threshold 0.5
  gitpulse cochange internal/server/handler.go --range v1.2.0..HEAD`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCoChange,
}

var ownershipCmd = &cobra.Command{
	Use:   "ownership [file...]",
	Short: "Recency-weighted ownership per file",
	Long: `Weights every author's changed lines by exp(-ln2 * age / half-life) and
reports each author's share per file.

Examples:
  gitpulse ownership cmd/server/main.go
  gitpulse ownership --author alice@example.com`,
	RunE: runOwnership,
}

var depsCmd = &cobra.Command{
	Use:   "deps [commit]",
	Short: "Commit dependency graph and clusters",
	Long: `Links commits that touch the same files. Files touched by many commits
contribute less weight. Commits joined by edges at or above the cluster
threshold form one cluster; isolated commits are singleton clusters.

With a commit argument, commits related to it are listed as well.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeps,
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Commit activity histograms",
	Long: `Buckets commits by hour of day, day of week, calendar day or author.
Append +author to the granularity for one series per author.`,
	Args: cobra.NoArgs,
	RunE: runActivity,
}

var churnCmd = &cobra.Command{
	Use:   "churn",
	Short: "Per-file churn and hotspots",
	Long: `Sums changed lines per file. Files above mean + k*stddev of the run are
flagged as hotspots.`,
	Args: cobra.NoArgs,
	RunE: runChurn,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Run every analyzer over one read of the log",
	Args:  cobra.NoArgs,
	RunE:  runReport,
}

func init() {
	f := cochangeCmd.Flags()
	f.Float64Var(&cochangeThreshold, "threshold", 0, "minimum Jaccard score in [0,1] (default from config)")
	f.IntVar(&cochangeMinSupport, "min-support", 0, "minimum number of shared commits")
	f.IntVar(&cochangeFanOutLimit, "fan-out-limit", 0, "skip commits touching more files than this")
	f.BoolVar(&cochangeNoFanOut, "no-fan-out-limit", false, "pair every commit regardless of size")
	f.IntVar(&topN, "top", 0, "show at most this many rows")

	f = ownershipCmd.Flags()
	f.StringVar(&ownershipAuthor, "author", "", "show the files this author (email or name) knows best")
	f.Float64Var(&ownershipHalfLife, "half-life", 0, "recency half-life in days")
	f.BoolVar(&ownershipNoRename, "no-follow-renames", false, "keep history of renamed files under the old path")

	f = depsCmd.Flags()
	f.Float64Var(&depsClusterThreshold, "cluster-threshold", 0, "minimum edge weight joining commits into a cluster")
	f.IntVar(&depsMaxFileCommits, "max-file-commits", 0, "ignore files touched by more commits than this (0 disables)")
	f.IntVar(&depsDepth, "depth", graph.DefaultRelatedDepth, "hops to follow from the commit argument")
	f.IntVar(&depsMinShared, "min-shared", graph.DefaultRelatedMinShared, "shared files needed for a related-commit hop")
	f.IntVar(&depsMaxResults, "max-results", graph.DefaultRelatedMaxResults, "neighbours followed from each commit")

	f = activityCmd.Flags()
	f.StringVarP(&activityGranularity, "granularity", "g", "", "hour, day-of-week, day or author-combo, optionally +author")
	f.StringVar(&activityTimezone, "timezone", "", "IANA zone used for bucketing")
	f.StringVar(&windowStart, "window-start", "", "inclusive window start")
	f.StringVar(&windowEnd, "window-end", "", "exclusive window end")

	f = churnCmd.Flags()
	f.Float64VarP(&churnOutlierK, "outlier-k", "k", 0, "hotspot threshold in standard deviations")
	f.IntVar(&topN, "top", 0, "show at most this many files")
	f.StringVar(&windowStart, "window-start", "", "inclusive window start")
	f.StringVar(&windowEnd, "window-end", "", "exclusive window end")
}

// analysisOptions converts the configuration. A fixed --now also fixes the
// generation time so repeated runs render identically.
func analysisOptions() (analysis.Options, error) {
	opts, err := cfg.Analysis.Options()
	if err != nil {
		return opts, err
	}
	if cfg.Analysis.Now != "" {
		now := opts.Ownership.Now
		opts.Clock = func() time.Time { return now }
	}
	return opts, nil
}

// windowOverride applies --window-start/--window-end when given
func windowOverride() (*temporal.Window, bool, error) {
	if windowStart == "" && windowEnd == "" {
		return nil, false, nil
	}
	w, err := temporal.ParseWindow(windowStart, windowEnd)
	return w, true, err
}

func runCoChange(cmd *cobra.Command, args []string) error {
	opts, err := analysisOptions()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("threshold") {
		opts.CoChange.Threshold = cochangeThreshold
	}
	if flags.Changed("min-support") {
		opts.CoChange.MinSupport = cochangeMinSupport
	}
	if flags.Changed("fan-out-limit") {
		opts.CoChange.FanOutLimit = cochangeFanOutLimit
	}
	if cochangeNoFanOut {
		opts.CoChange.FanOutLimit = 0
	}
	if flags.Changed("top") {
		opts.CoChange.Top = topN
	}

	env, _, err := analyze(cmd.Context(), opts, report.KindCoChange)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return render(cmd, env)
	}

	file := models.NormalizePath(args[0])
	partners := env.Results.CoChange.PartnersOf(file)
	if topN > 0 && len(partners) > topN {
		partners = partners[:topN]
	}
	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	if format == output.FormatText {
		return output.CoChangePartners(cmd.OutOrStdout(), file, partners)
	}
	return output.WriteValue(cmd.OutOrStdout(), format, map[string]any{
		"run_id":   env.RunID,
		"file":     file,
		"partners": partners,
		"notes":    env.Notes,
	})
}

func runOwnership(cmd *cobra.Command, args []string) error {
	opts, err := analysisOptions()
	if err != nil {
		return err
	}
	for _, a := range args {
		opts.Ownership.Files = append(opts.Ownership.Files, models.NormalizePath(a))
	}
	opts.Ownership.Author = ownershipAuthor
	if cmd.Flags().Changed("half-life") {
		opts.Ownership.HalfLifeDays = ownershipHalfLife
	}
	if ownershipNoRename {
		opts.Ownership.FollowRenames = false
	}

	env, _, err := analyze(cmd.Context(), opts, report.KindOwnership)
	if err != nil {
		return err
	}
	return render(cmd, env)
}

func runDeps(cmd *cobra.Command, args []string) error {
	opts, err := analysisOptions()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("cluster-threshold") {
		opts.Dependencies.ClusterWeightThreshold = depsClusterThreshold
	}
	if cmd.Flags().Changed("max-file-commits") {
		opts.Dependencies.MaxFileCommits = depsMaxFileCommits
	}
	if len(args) == 1 {
		opts.Related = &graph.RelatedOptions{
			Root:       args[0],
			Depth:      depsDepth,
			MinShared:  depsMinShared,
			MaxResults: depsMaxResults,
		}
	}

	env, _, err := analyze(cmd.Context(), opts, report.KindDependencies)
	if err != nil {
		return err
	}
	return render(cmd, env)
}

func runActivity(cmd *cobra.Command, args []string) error {
	opts, err := analysisOptions()
	if err != nil {
		return err
	}
	if activityGranularity != "" {
		g, byAuthor, err := temporal.ParseGranularity(activityGranularity)
		if err != nil {
			return err
		}
		opts.Activity.Granularity, opts.Activity.ByAuthor = g, byAuthor
	}
	if activityTimezone != "" {
		loc, err := time.LoadLocation(activityTimezone)
		if err != nil {
			return errors.InvalidConfigf("timezone", "%q: %v", activityTimezone, err)
		}
		opts.Activity.Location = loc
	}
	if w, ok, err := windowOverride(); err != nil {
		return err
	} else if ok {
		opts.Activity.Window = w
	}

	env, _, err := analyze(cmd.Context(), opts, report.KindActivity)
	if err != nil {
		return err
	}
	return render(cmd, env)
}

func runChurn(cmd *cobra.Command, args []string) error {
	opts, err := analysisOptions()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("outlier-k") {
		opts.Churn.OutlierK = churnOutlierK
	}
	if cmd.Flags().Changed("top") {
		opts.Churn.Top = topN
	}
	if w, ok, err := windowOverride(); err != nil {
		return err
	} else if ok {
		opts.Churn.Window = w
	}

	env, _, err := analyze(cmd.Context(), opts, report.KindChurn)
	if err != nil {
		return err
	}
	return render(cmd, env)
}

func runReport(cmd *cobra.Command, args []string) error {
	opts, err := analysisOptions()
	if err != nil {
		return err
	}
	env, _, err := analyze(cmd.Context(), opts, report.AllKinds...)
	if err != nil {
		return err
	}
	return render(cmd, env)
}

// analyze validates the analyzers, reads the configured source once and runs
// them. The history is returned for the export command.
func analyze(ctx context.Context, opts analysis.Options, kinds ...report.Kind) (*report.Envelope, *models.History, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	// validate before the log is read
	engine, err := analysis.New(opts, kinds...)
	if err != nil {
		return nil, nil, err
	}
	src, err := cfg.Source.Source()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Source.Backend != config.BackendFile {
		repo, err := gitlog.DetectRepo(cfg.Source.RepoPath)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("repo", repo.Label()).WithField("branch", repo.Branch).Debug("Repository detected")
	}

	start := time.Now()
	logger.WithField("source", src.Describe()).Debug("Reading commit log")
	h, err := engine.Load(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	env, err := engine.Run(ctx, h)
	if err != nil {
		return nil, nil, err
	}
	env.Diagnostics.Source = src.Describe()

	if env.Truncated {
		logger.Warnf("Commit log ended early after %d commits; the report is partial: %s",
			env.CommitsProcessed, env.Diagnostics.ReadError)
	}
	if env.Diagnostics.Skipped > 0 {
		logger.Warnf("Skipped %d malformed log entries", env.Diagnostics.Skipped)
	}
	logger.WithField("commits", env.CommitsProcessed).
		WithField("duration", time.Since(start).Round(time.Millisecond)).
		Debug("Analysis complete")

	if cfg.Archive.Enabled {
		archiveReport(ctx, env)
	}
	return env, h, nil
}

// archiveReport stores env. Archive failures never fail the command.
func archiveReport(ctx context.Context, env *report.Envelope) {
	archive, err := storage.Open(cfg.Archive.Options(), logger)
	if err != nil {
		logger.WithError(err).Warn("Archive unavailable, report not stored")
		return
	}
	defer archive.Close()

	entry, err := archive.Save(ctx, env)
	if err != nil {
		logger.WithError(err).Warn("Failed to archive report")
		return
	}
	logger.WithField("run_id", entry.RunID).Info("Report archived")
}

// render writes env in the configured format to stdout
func render(cmd *cobra.Command, env *report.Envelope) error {
	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	formatter := output.NewFormatter(format)
	if tf, ok := formatter.(*output.TextFormatter); ok {
		tf.MaxRows = cfg.Output.MaxRows
	}
	return formatter.Format(env, cmd.OutOrStdout())
}
