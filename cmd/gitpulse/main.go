package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/gitpulse/internal/config"
	"github.com/rohankatakam/gitpulse/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	cfg     *config.Config

	// source and output overrides shared by every analyzer command
	flagFormat     string
	flagRepo       string
	flagRange      string
	flagSince      string
	flagUntil      string
	flagMaxCount   int
	flagBackend    string
	flagInput      string
	flagNow        string
	flagArchive    bool
	flagAbort      bool
	flagSequential bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gitpulse",
	Short: "gitpulse - git history analytics",
	Long: `gitpulse reads a repository's commit log once and reports which files
change together, who owns which code, how commits relate through shared files,
when development happens and which files are hotspots.

The repository is never modified.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		logger = logrus.New()
		logger.SetOutput(cmd.ErrOrStderr())
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		// Load configuration
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("Failed to load config, using defaults")
			cfg = config.Default()
		}
		applyFlags(cfg)

		level := logging.ParseLevel(cfg.Logging.Level)
		if verbose {
			level = logging.DEBUG
		}
		if err := logging.Initialize(logging.Config{
			Level:      level,
			OutputFile: cfg.Logging.File,
			JSONFormat: cfg.Logging.JSON,
			Writer:     cmd.ErrOrStderr(),
		}); err != nil {
			logger.WithError(err).Warn("Failed to initialize structured logging")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: .gitpulse/config.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.StringVarP(&flagFormat, "format", "f", "", "output format: text, json or yaml")
	pf.StringVar(&flagRepo, "repo", "", "repository path")
	pf.StringVar(&flagRange, "range", "", "revision range, e.g. v1.0..HEAD")
	pf.StringVar(&flagSince, "since", "", "only commits after this date")
	pf.StringVar(&flagUntil, "until", "", "only commits before this date")
	pf.IntVar(&flagMaxCount, "max-count", 0, "read at most this many commits")
	pf.StringVar(&flagBackend, "backend", "", "commit log source: git, go-git or file")
	pf.StringVar(&flagInput, "input", "", "pre-captured log file for the file backend (- for stdin)")
	pf.StringVar(&flagNow, "now", "", "reference time for recency decay (RFC 3339 or YYYY-MM-DD)")
	pf.BoolVar(&flagArchive, "archive", false, "store the report in the archive")
	pf.BoolVar(&flagAbort, "abort-on-malformed", false, "fail on the first malformed log entry instead of skipping it")
	pf.BoolVar(&flagSequential, "sequential", false, "run analyzers one after another")

	// Set custom version template
	rootCmd.SetVersionTemplate(`gitpulse {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	// Add subcommands
	rootCmd.AddCommand(cochangeCmd)
	rootCmd.AddCommand(ownershipCmd)
	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(activityCmd)
	rootCmd.AddCommand(churnCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(configCmd)
}

// applyFlags lets command-line flags override the loaded configuration
func applyFlags(c *config.Config) {
	if flagFormat != "" {
		c.Output.Format = flagFormat
	}
	if flagRepo != "" {
		c.Source.RepoPath = flagRepo
	}
	if flagRange != "" {
		c.Source.Range = flagRange
	}
	if flagSince != "" {
		c.Source.Since = flagSince
	}
	if flagUntil != "" {
		c.Source.Until = flagUntil
	}
	if flagMaxCount > 0 {
		c.Source.MaxCount = flagMaxCount
	}
	if flagInput != "" {
		c.Source.Input = flagInput
		// an input file implies the file backend unless one was named
		if flagBackend == "" {
			c.Source.Backend = config.BackendFile
		}
	}
	if flagBackend != "" {
		c.Source.Backend = strings.ToLower(flagBackend)
	}
	if flagNow != "" {
		c.Analysis.Now = flagNow
	}
	if flagArchive {
		c.Archive.Enabled = true
	}
	if flagAbort {
		c.Analysis.SkipMalformed = false
	}
	if flagSequential {
		c.Analysis.Parallel = false
	}
}
