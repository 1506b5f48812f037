package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rohankatakam/gitpulse/internal/analysis"
	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/output"
)

// ValidationContext specifies what configuration is required
type ValidationContext string

const (
	// ValidationContextAnalyze - analyzer commands need a source and analysis options
	ValidationContextAnalyze ValidationContext = "analyze"
	// ValidationContextExport - export also needs Neo4j
	ValidationContextExport ValidationContext = "export"
	// ValidationContextArchive - history commands need an archive path
	ValidationContextArchive ValidationContext = "archive"
	// ValidationContextAll - validate all configuration
	ValidationContextAll ValidationContext = "all"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  ❌ %s\n", err))
	}

	if len(vr.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  ⚠️  %s\n", warn))
		}
	}

	return sb.String()
}

// Err returns the result as an InvalidConfiguration error, or nil
func (vr *ValidationResult) Err() error {
	if !vr.HasErrors() {
		return nil
	}
	return errors.New(errors.ErrorTypeInvalidConfig, errors.SeverityCritical, strings.TrimSpace(vr.Error()))
}

// Validate validates configuration for the given context
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch ctx {
	case ValidationContextAnalyze:
		c.validateAnalysis(result)
		c.validateSource(result)
		c.validateOutput(result)
	case ValidationContextExport:
		c.validateAnalysis(result)
		c.validateSource(result)
		c.validateNeo4j(result, true)
	case ValidationContextArchive:
		c.validateArchive(result, true)
		c.validateOutput(result)
	case ValidationContextAll:
		c.validateAnalysis(result)
		c.validateSource(result)
		c.validateOutput(result)
		c.validateArchive(result, false)
		c.validateNeo4j(result, false)
		c.validateLogging(result)
	}

	return result
}

func (c *Config) validateAnalysis(result *ValidationResult) {
	opts, err := c.Analysis.Options()
	if err != nil {
		result.AddError("analysis: %s", describe(err))
		return
	}
	// constructing every analyzer runs its own range checks
	if _, err := analysis.New(opts); err != nil {
		result.AddError("analysis: %s", describe(err))
	}
	if c.Analysis.FanOutLimit == 0 {
		result.AddWarning("analysis.fan_out_limit is 0: mass-change commits will be paired exhaustively")
	}
	if c.Analysis.MaxFileCommits == 0 {
		result.AddWarning("analysis.max_file_commits is 0: files in every commit will link every commit pair")
	}
}

func (c *Config) validateSource(result *ValidationResult) {
	if _, err := c.Source.Source(); err != nil {
		result.AddError("source: %s", describe(err))
	}
	if c.Source.MaxCount < 0 {
		result.AddError("source.max_count must not be negative (got %d)", c.Source.MaxCount)
	}
}

func (c *Config) validateOutput(result *ValidationResult) {
	if _, err := output.ParseFormat(c.Output.Format); err != nil {
		result.AddError("output: %s", describe(err))
	}
	if c.Output.MaxRows < 0 {
		result.AddError("output.max_rows must not be negative (got %d)", c.Output.MaxRows)
	}
}

func (c *Config) validateArchive(result *ValidationResult, required bool) {
	required = required || c.Archive.Enabled
	switch strings.ToLower(c.Archive.Backend) {
	case "", "bolt", "bbolt", "sqlite", "sqlite3":
		if c.Archive.Path == "" && required {
			result.AddError("archive.path is required")
		}
	case "postgres", "postgresql", "pg":
		if c.Archive.DSN == "" && required {
			result.AddError("archive.dsn is required for the postgres backend (GITPULSE_ARCHIVE_DSN)")
		}
	default:
		result.AddError("archive.backend %q is not one of bolt, sqlite, postgres", c.Archive.Backend)
	}
}

func (c *Config) validateNeo4j(result *ValidationResult, required bool) {
	if c.Neo4j.URI == "" {
		if required {
			result.AddError("NEO4J_URI is required but not set")
		}
		return
	}
	u, err := url.Parse(c.Neo4j.URI)
	if err != nil || u.Scheme == "" {
		result.AddError("NEO4J_URI %q is not a valid URI", c.Neo4j.URI)
		return
	}
	switch u.Scheme {
	case "bolt", "bolt+s", "bolt+ssc", "neo4j", "neo4j+s", "neo4j+ssc":
	default:
		result.AddError("NEO4J_URI scheme %q is not a bolt or neo4j scheme", u.Scheme)
	}
	if required && c.Neo4j.Password == "" {
		result.AddWarning("NEO4J_PASSWORD is empty")
	}
	if c.Neo4j.MaxBatchesPerSecond < 0 {
		result.AddError("neo4j.max_batches_per_second must not be negative")
	}
	if c.Neo4j.BatchSize < 1 {
		result.AddError("neo4j.batch_size must be at least 1 (got %d)", c.Neo4j.BatchSize)
	}
}

func (c *Config) validateLogging(result *ValidationResult) {
	if c.Logging.Level == "" {
		return
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		result.AddError("logging.level %q is not one of DEBUG, INFO, WARN, ERROR", c.Logging.Level)
	}
}

// describe names the offending parameter when the error carries one
func describe(err error) string {
	var e *errors.Error
	if errors.As(err, &e) && e.Parameter() != "" {
		return fmt.Sprintf("%s: %s", e.Parameter(), e.Message)
	}
	return err.Error()
}
