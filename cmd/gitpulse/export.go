package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/gitpulse/internal/config"
	"github.com/rohankatakam/gitpulse/internal/export"
	"github.com/rohankatakam/gitpulse/internal/report"
)

var (
	exportDryRun    bool
	exportOpen      bool
	exportBatchSize int
	exportRate      float64
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export analysis results to external systems",
}

var exportNeo4jCmd = &cobra.Command{
	Use:   "neo4j",
	Short: "Write commits, files, owners and their relations to Neo4j",
	Long: `Runs the co-change, ownership, dependency and churn analyzers and merges
the results into Neo4j:

  (:Developer)-[:AUTHORED]->(:Commit)-[:TOUCHES]->(:File)
  (:Commit)-[:DEPENDS_ON]->(:Commit)
  (:File)-[:CO_CHANGES_WITH]->(:File)
  (:Developer)-[:OWNS]->(:File)

The password is read from NEO4J_PASSWORD, the config file or the OS keychain
(see 'gitpulse config set-password').

Examples:
  gitpulse export neo4j --dry-run
  gitpulse export neo4j --range v2.0..HEAD --open`,
	Args: cobra.NoArgs,
	RunE: runExportNeo4j,
}

func init() {
	exportCmd.AddCommand(exportNeo4jCmd)

	f := exportNeo4jCmd.Flags()
	f.BoolVar(&exportDryRun, "dry-run", false, "build the graph and print row counts without connecting")
	f.BoolVar(&exportOpen, "open", false, "open Neo4j Browser when the export finishes")
	f.IntVar(&exportBatchSize, "batch-size", 0, "rows per UNWIND batch (default from config)")
	f.Float64Var(&exportRate, "max-batches-per-second", 0, "throttle writes (0 for no limit)")
}

func runExportNeo4j(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if exportBatchSize > 0 {
		cfg.Neo4j.BatchSize = exportBatchSize
	}
	if exportRate > 0 {
		cfg.Neo4j.MaxBatchesPerSecond = exportRate
	}

	if !exportDryRun {
		pw := config.NewKeyringManager().ResolveNeo4jPassword(cfg)
		logger.WithField("source", pw.Source).Debug("Neo4j password resolved")
		if !pw.Secure && pw.Source == "config" {
			logger.Warn(pw.Recommended)
		}

		vr := cfg.Validate(config.ValidationContextExport)
		for _, w := range vr.Warnings {
			logger.Warn(w)
		}
		if vr.HasErrors() {
			return vr.Err()
		}
	}

	opts, err := analysisOptions()
	if err != nil {
		return err
	}
	env, h, err := analyze(ctx, opts,
		report.KindCoChange, report.KindOwnership, report.KindDependencies, report.KindChurn)
	if err != nil {
		return err
	}
	g := export.BuildGraph(h, env)

	out := cmd.OutOrStdout()
	if exportDryRun {
		fmt.Fprintf(out, "Graph for %s (run %s)\n", env.Diagnostics.Source, env.RunID)
		printCounts(cmd, g.Counts())
		return nil
	}

	writer, err := export.NewNeo4jWriter(ctx, export.Connection{
		URI:      cfg.Neo4j.URI,
		Username: cfg.Neo4j.Username,
		Password: cfg.Neo4j.Password,
		Database: cfg.Neo4j.Database,
	})
	if err != nil {
		return err
	}
	defer writer.Close(ctx)

	batches := export.DefaultBatchConfig()
	if cfg.Neo4j.BatchSize > 0 {
		batches.NodeBatchSize = cfg.Neo4j.BatchSize
		if cfg.Neo4j.BatchSize > batches.EdgeBatchSize {
			batches.EdgeBatchSize = cfg.Neo4j.BatchSize
		}
	}
	exporter, err := export.NewExporter(writer, batches, cfg.Neo4j.MaxBatchesPerSecond)
	if err != nil {
		return err
	}

	stats, err := exporter.Export(ctx, g)
	if err != nil {
		if stats != nil {
			logger.WithField("batches", stats.Batches).Warn("Export stopped part way; rerunning is safe")
		}
		return err
	}

	fmt.Fprintf(out, "Exported run %s to %s in %s\n", env.RunID, cfg.Neo4j.URI, stats.Elapsed.Round(time.Millisecond))
	printCounts(cmd, stats.Rows)

	if exportOpen {
		url := export.BrowserURL(cfg.Neo4j.URI)
		browser.Stdout = cmd.ErrOrStderr()
		if err := browser.OpenURL(url); err != nil {
			logger.WithError(err).Warnf("Could not open a browser; visit %s", url)
		}
	}
	return nil
}

func printCounts(cmd *cobra.Command, counts map[string]int) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-16s %d\n", name, counts[name])
	}
}
