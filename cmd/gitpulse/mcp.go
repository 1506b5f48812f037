package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/gitpulse/internal/config"
	"github.com/rohankatakam/gitpulse/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the analyzers as MCP tools over stdio",
	Long: `Starts a Model Context Protocol server on stdin/stdout with the tools
analyze_co_changes, analyze_ownership, analyze_dependencies, analyze_activity
and analyze_churn. Tool arguments override the configured defaults per call.

Example client entry:
  {"command": "gitpulse", "args": ["mcp", "--repo", "/path/to/repo"]}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	vr := cfg.Validate(config.ValidationContextAnalyze)
	if vr.HasErrors() {
		return vr.Err()
	}
	opts, err := analysisOptions()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// stdout carries the protocol; operator messages stay on stderr
	logger.WithField("repo", cfg.Source.RepoPath).Info("MCP server listening on stdio")
	return mcp.NewServer(opts, cfg.Source, Version).Run(ctx)
}
