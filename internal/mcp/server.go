// Package mcp exposes the analyzers as Model Context Protocol tools over stdio.
// Every tool reads the commit log, runs one analyzer and returns the JSON
// report envelope as text content.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rohankatakam/gitpulse/internal/analysis"
	"github.com/rohankatakam/gitpulse/internal/config"
	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/graph"
	"github.com/rohankatakam/gitpulse/internal/logging"
	"github.com/rohankatakam/gitpulse/internal/output"
	"github.com/rohankatakam/gitpulse/internal/report"
	"github.com/rohankatakam/gitpulse/internal/temporal"
)

const (
	ToolCoChanges    = "analyze_co_changes"
	ToolOwnership    = "analyze_ownership"
	ToolDependencies = "analyze_dependencies"
	ToolActivity     = "analyze_activity"
	ToolChurn        = "analyze_churn"
)

// Server runs analyzers on behalf of MCP clients. Options and Source are the
// defaults from the loaded configuration; tool arguments override them per call.
type Server struct {
	Options analysis.Options
	Source  config.SourceConfig
	Version string

	logger *slog.Logger
}

// NewServer creates a server with the configured defaults
func NewServer(opts analysis.Options, src config.SourceConfig, version string) *Server {
	return &Server{Options: opts, Source: src, Version: version, logger: logging.Component("mcp")}
}

// SourceArgs selects commits. Every tool accepts these.
type SourceArgs struct {
	RepoPath string `json:"repo_path,omitempty" jsonschema:"repository path; defaults to the server's repository"`
	Range    string `json:"range,omitempty" jsonschema:"git revision range, e.g. v1.0..HEAD"`
	Since    string `json:"since,omitempty" jsonschema:"only commits after this date"`
	MaxCount int    `json:"max_count,omitempty" jsonschema:"read at most this many commits"`
}

type CoChangeArgs struct {
	RepoPath   string   `json:"repo_path,omitempty" jsonschema:"repository path; defaults to the server's repository"`
	Range      string   `json:"range,omitempty" jsonschema:"git revision range, e.g. v1.0..HEAD"`
	Since      string   `json:"since,omitempty" jsonschema:"only commits after this date"`
	MaxCount   int      `json:"max_count,omitempty" jsonschema:"read at most this many commits"`
	File       string   `json:"file,omitempty" jsonschema:"return only the co-change partners of this file"`
	Threshold  *float64 `json:"threshold,omitempty" jsonschema:"minimum Jaccard score in [0,1]"`
	MinSupport *int     `json:"min_support,omitempty" jsonschema:"minimum number of commits touching both files"`
	Top        *int     `json:"top,omitempty" jsonschema:"return at most this many pairs or partners"`
}

type OwnershipArgs struct {
	RepoPath     string   `json:"repo_path,omitempty" jsonschema:"repository path; defaults to the server's repository"`
	Range        string   `json:"range,omitempty" jsonschema:"git revision range, e.g. v1.0..HEAD"`
	Since        string   `json:"since,omitempty" jsonschema:"only commits after this date"`
	MaxCount     int      `json:"max_count,omitempty" jsonschema:"read at most this many commits"`
	Files        []string `json:"files,omitempty" jsonschema:"restrict the report to these paths"`
	Author       string   `json:"author,omitempty" jsonschema:"show the files this author (email or name) knows best"`
	HalfLifeDays *float64 `json:"half_life_days,omitempty" jsonschema:"recency half-life in days"`
}

type DependencyArgs struct {
	RepoPath               string   `json:"repo_path,omitempty" jsonschema:"repository path; defaults to the server's repository"`
	Range                  string   `json:"range,omitempty" jsonschema:"git revision range, e.g. v1.0..HEAD"`
	Since                  string   `json:"since,omitempty" jsonschema:"only commits after this date"`
	MaxCount               int      `json:"max_count,omitempty" jsonschema:"read at most this many commits"`
	Commit                 string   `json:"commit,omitempty" jsonschema:"list commits related to this commit id or prefix"`
	Depth                  *int     `json:"depth,omitempty" jsonschema:"hops to follow from commit"`
	ClusterWeightThreshold *float64 `json:"cluster_weight_threshold,omitempty" jsonschema:"minimum edge weight joining two commits into one cluster"`
	MaxFileCommits         *int     `json:"max_file_commits,omitempty" jsonschema:"ignore files touched by more commits than this; 0 disables"`
}

type ActivityArgs struct {
	RepoPath    string `json:"repo_path,omitempty" jsonschema:"repository path; defaults to the server's repository"`
	Range       string `json:"range,omitempty" jsonschema:"git revision range, e.g. v1.0..HEAD"`
	Since       string `json:"since,omitempty" jsonschema:"only commits after this date"`
	MaxCount    int    `json:"max_count,omitempty" jsonschema:"read at most this many commits"`
	Granularity string `json:"granularity,omitempty" jsonschema:"hour, day-of-week, day or author-combo; append +author for per-author series"`
	Timezone    string `json:"timezone,omitempty" jsonschema:"IANA zone used for bucketing"`
	WindowStart string `json:"window_start,omitempty" jsonschema:"inclusive start (RFC 3339 or YYYY-MM-DD)"`
	WindowEnd   string `json:"window_end,omitempty" jsonschema:"exclusive end (RFC 3339 or YYYY-MM-DD)"`
}

type ChurnArgs struct {
	RepoPath    string   `json:"repo_path,omitempty" jsonschema:"repository path; defaults to the server's repository"`
	Range       string   `json:"range,omitempty" jsonschema:"git revision range, e.g. v1.0..HEAD"`
	Since       string   `json:"since,omitempty" jsonschema:"only commits after this date"`
	MaxCount    int      `json:"max_count,omitempty" jsonschema:"read at most this many commits"`
	OutlierK    *float64 `json:"outlier_k,omitempty" jsonschema:"hotspot threshold in standard deviations above the mean"`
	Top         *int     `json:"top,omitempty" jsonschema:"return at most this many files"`
	WindowStart string   `json:"window_start,omitempty" jsonschema:"inclusive start (RFC 3339 or YYYY-MM-DD)"`
	WindowEnd   string   `json:"window_end,omitempty" jsonschema:"exclusive end (RFC 3339 or YYYY-MM-DD)"`
}

// MCP builds the protocol server with every tool registered
func (s *Server) MCP() *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: "gitpulse", Version: s.Version}, nil)

	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolCoChanges,
		Description: "Find files that change together (Jaccard similarity over commits).",
	}, s.coChanges)
	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolOwnership,
		Description: "Recency-weighted ownership per file, or the files an author knows best.",
	}, s.ownership)
	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolDependencies,
		Description: "Commit dependency graph from shared files, with clusters and related commits.",
	}, s.dependencies)
	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolActivity,
		Description: "Commit activity histograms by hour, weekday or day, with pattern observations.",
	}, s.activity)
	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolChurn,
		Description: "Per-file churn and statistical hotspots.",
	}, s.churn)
	return server
}

// Run serves over stdin/stdout until the client disconnects or ctx ends
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting", "version", s.Version)
	return s.MCP().Run(ctx, &sdk.StdioTransport{})
}

func (s *Server) coChanges(ctx context.Context, req *sdk.CallToolRequest, in CoChangeArgs) (*sdk.CallToolResult, any, error) {
	opts := s.Options
	if in.Threshold != nil {
		opts.CoChange.Threshold = *in.Threshold
	}
	if in.MinSupport != nil {
		opts.CoChange.MinSupport = *in.MinSupport
	}
	if in.Top != nil {
		opts.CoChange.Top = *in.Top
	}
	env, err := s.run(ctx, opts, SourceArgs{in.RepoPath, in.Range, in.Since, in.MaxCount}, report.KindCoChange)
	if err != nil {
		return nil, nil, err
	}
	if in.File == "" {
		return result(env)
	}
	partners := env.Results.CoChange.PartnersOf(in.File)
	if opts.CoChange.Top > 0 && len(partners) > opts.CoChange.Top {
		partners = partners[:opts.CoChange.Top]
	}
	return result(map[string]any{
		"run_id":   env.RunID,
		"file":     in.File,
		"partners": partners,
		"notes":    env.Notes,
	})
}

func (s *Server) ownership(ctx context.Context, req *sdk.CallToolRequest, in OwnershipArgs) (*sdk.CallToolResult, any, error) {
	opts := s.Options
	opts.Ownership.Files = in.Files
	opts.Ownership.Author = in.Author
	if in.HalfLifeDays != nil {
		opts.Ownership.HalfLifeDays = *in.HalfLifeDays
	}
	env, err := s.run(ctx, opts, SourceArgs{in.RepoPath, in.Range, in.Since, in.MaxCount}, report.KindOwnership)
	if err != nil {
		return nil, nil, err
	}
	return result(env)
}

func (s *Server) dependencies(ctx context.Context, req *sdk.CallToolRequest, in DependencyArgs) (*sdk.CallToolResult, any, error) {
	opts := s.Options
	if in.ClusterWeightThreshold != nil {
		opts.Dependencies.ClusterWeightThreshold = *in.ClusterWeightThreshold
	}
	if in.MaxFileCommits != nil {
		opts.Dependencies.MaxFileCommits = *in.MaxFileCommits
	}
	if in.Commit != "" {
		related := graph.DefaultRelatedOptions(in.Commit)
		if in.Depth != nil {
			related.Depth = *in.Depth
		}
		opts.Related = &related
	}
	env, err := s.run(ctx, opts, SourceArgs{in.RepoPath, in.Range, in.Since, in.MaxCount}, report.KindDependencies)
	if err != nil {
		return nil, nil, err
	}
	return result(env)
}

func (s *Server) activity(ctx context.Context, req *sdk.CallToolRequest, in ActivityArgs) (*sdk.CallToolResult, any, error) {
	opts := s.Options
	if in.Granularity != "" {
		g, byAuthor, err := temporal.ParseGranularity(in.Granularity)
		if err != nil {
			return nil, nil, err
		}
		opts.Activity.Granularity, opts.Activity.ByAuthor = g, byAuthor
	}
	if tz := strings.TrimSpace(in.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, nil, errors.InvalidConfigf("timezone", "%q: %v", tz, err)
		}
		opts.Activity.Location = loc
	}
	if in.WindowStart != "" || in.WindowEnd != "" {
		window, err := temporal.ParseWindow(in.WindowStart, in.WindowEnd)
		if err != nil {
			return nil, nil, err
		}
		opts.Activity.Window = window
	}
	env, err := s.run(ctx, opts, SourceArgs{in.RepoPath, in.Range, in.Since, in.MaxCount}, report.KindActivity)
	if err != nil {
		return nil, nil, err
	}
	return result(env)
}

func (s *Server) churn(ctx context.Context, req *sdk.CallToolRequest, in ChurnArgs) (*sdk.CallToolResult, any, error) {
	opts := s.Options
	if in.OutlierK != nil {
		opts.Churn.OutlierK = *in.OutlierK
	}
	if in.Top != nil {
		opts.Churn.Top = *in.Top
	}
	if in.WindowStart != "" || in.WindowEnd != "" {
		window, err := temporal.ParseWindow(in.WindowStart, in.WindowEnd)
		if err != nil {
			return nil, nil, err
		}
		opts.Churn.Window = window
	}
	env, err := s.run(ctx, opts, SourceArgs{in.RepoPath, in.Range, in.Since, in.MaxCount}, report.KindChurn)
	if err != nil {
		return nil, nil, err
	}
	return result(env)
}

// run validates opts for one analyzer, then reads the log and runs it
func (s *Server) run(ctx context.Context, opts analysis.Options, args SourceArgs, kind report.Kind) (*report.Envelope, error) {
	engine, err := analysis.New(opts, kind)
	if err != nil {
		return nil, err
	}

	src := s.Source
	if args.RepoPath != "" {
		src.RepoPath = args.RepoPath
	}
	if args.Range != "" {
		src.Range = args.Range
	}
	if args.Since != "" {
		src.Since = args.Since
	}
	if args.MaxCount > 0 {
		src.MaxCount = args.MaxCount
	}
	source, err := src.Source()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	env, err := engine.RunSource(ctx, source)
	if err != nil {
		return nil, err
	}
	s.logger.Info("tool run", "analyzer", kind, "commits", env.CommitsProcessed, "duration", time.Since(start))
	return env, nil
}

// result renders v as indented JSON text content
func result(v any) (*sdk.CallToolResult, any, error) {
	var buf bytes.Buffer
	if env, ok := v.(*report.Envelope); ok {
		if err := (&output.JSONFormatter{Indent: "  "}).Format(env, &buf); err != nil {
			return nil, nil, err
		}
	} else {
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return nil, nil, err
		}
	}
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: buf.String()}}}, nil, nil
}
