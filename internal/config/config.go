package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rohankatakam/gitpulse/internal/graph"
	"github.com/rohankatakam/gitpulse/internal/metrics"
	"github.com/rohankatakam/gitpulse/internal/ownership"
	"github.com/rohankatakam/gitpulse/internal/temporal"
)

// Config holds all configuration settings
type Config struct {
	// Analyzer parameters
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`

	// Where the commit log comes from
	Source SourceConfig `yaml:"source" mapstructure:"source"`

	// Report rendering
	Output OutputConfig `yaml:"output" mapstructure:"output"`

	// Local report archive
	Archive ArchiveConfig `yaml:"archive" mapstructure:"archive"`

	// Graph export target
	Neo4j Neo4jConfig `yaml:"neo4j" mapstructure:"neo4j"`

	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

type AnalysisConfig struct {
	Threshold              float64 `yaml:"threshold" mapstructure:"threshold"`
	MinSupport             int     `yaml:"min_support" mapstructure:"min_support"`
	FanOutLimit            int     `yaml:"fan_out_limit" mapstructure:"fan_out_limit"` // 0 disables
	HalfLifeDays           float64 `yaml:"half_life_days" mapstructure:"half_life_days"`
	StaleAfterDays         float64 `yaml:"stale_after_days" mapstructure:"stale_after_days"`
	FollowRenames          bool    `yaml:"follow_renames" mapstructure:"follow_renames"`
	ClusterWeightThreshold float64 `yaml:"cluster_weight_threshold" mapstructure:"cluster_weight_threshold"`
	RepresentativeFiles    int     `yaml:"representative_files" mapstructure:"representative_files"`
	MaxFileCommits         int     `yaml:"max_file_commits" mapstructure:"max_file_commits"`
	Granularity            string  `yaml:"granularity" mapstructure:"granularity"` // hour, day-of-week, day, author-combo
	Timezone               string  `yaml:"timezone" mapstructure:"timezone"`
	ChurnOutlierK          float64 `yaml:"churn_outlier_k" mapstructure:"churn_outlier_k"`
	WindowStart            string  `yaml:"window_start" mapstructure:"window_start"`
	WindowEnd              string  `yaml:"window_end" mapstructure:"window_end"`
	Top                    int     `yaml:"top" mapstructure:"top"`
	// Now pins the reference time (RFC 3339). Empty uses the latest commit.
	Now           string `yaml:"now" mapstructure:"now"`
	SkipMalformed bool   `yaml:"skip_malformed" mapstructure:"skip_malformed"`
	Parallel      bool   `yaml:"parallel" mapstructure:"parallel"`
}

type SourceConfig struct {
	Backend   string   `yaml:"backend" mapstructure:"backend"` // "git", "go-git", "file"
	RepoPath  string   `yaml:"repo_path" mapstructure:"repo_path"`
	Range     string   `yaml:"range" mapstructure:"range"`
	Since     string   `yaml:"since" mapstructure:"since"`
	Until     string   `yaml:"until" mapstructure:"until"`
	MaxCount  int      `yaml:"max_count" mapstructure:"max_count"`
	Paths     []string `yaml:"paths" mapstructure:"paths"`
	GitBinary string   `yaml:"git_binary" mapstructure:"git_binary"`
	// Input is a captured log file for the file backend; "-" is stdin
	Input string `yaml:"input" mapstructure:"input"`
}

type OutputConfig struct {
	Format  string `yaml:"format" mapstructure:"format"` // "text", "json", "yaml"
	MaxRows int    `yaml:"max_rows" mapstructure:"max_rows"`
}

type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Backend string `yaml:"backend" mapstructure:"backend"` // "bolt", "sqlite", "postgres"
	Path    string `yaml:"path" mapstructure:"path"`
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
}

type Neo4jConfig struct {
	URI       string `yaml:"uri" mapstructure:"uri"`
	Username  string `yaml:"username" mapstructure:"username"`
	Password  string `yaml:"password" mapstructure:"password"`
	Database  string `yaml:"database" mapstructure:"database"`
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size"`
	// MaxBatchesPerSecond throttles writes to a shared server. 0 disables.
	MaxBatchesPerSecond float64 `yaml:"max_batches_per_second" mapstructure:"max_batches_per_second"`
}

type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Analysis: AnalysisConfig{
			Threshold:              metrics.DefaultCoChangeThreshold,
			MinSupport:             metrics.DefaultMinSupport,
			FanOutLimit:            metrics.DefaultFanOutLimit,
			HalfLifeDays:           ownership.DefaultHalfLifeDays,
			StaleAfterDays:         ownership.DefaultStaleAfterDays,
			FollowRenames:          true,
			ClusterWeightThreshold: graph.DefaultClusterWeightThreshold,
			RepresentativeFiles:    graph.DefaultRepresentativeFiles,
			MaxFileCommits:         graph.DefaultMaxFileCommits,
			Granularity:            string(temporal.GranularityHour),
			Timezone:               "UTC",
			ChurnOutlierK:          temporal.DefaultOutlierK,
			SkipMalformed:          true,
			Parallel:               true,
		},
		Source: SourceConfig{
			Backend:   "git",
			RepoPath:  ".",
			GitBinary: "git",
		},
		Output: OutputConfig{
			Format: "text",
		},
		Archive: ArchiveConfig{
			Backend: "bolt",
			Path: filepath.Join(homeDir, ".gitpulse", "reports.db"),
		},
		Neo4j: Neo4jConfig{
			URI:       "bolt://localhost:7687",
			Username:  "neo4j",
			Database:  "neo4j",
			BatchSize: 500,
		},
		Logging: LoggingConfig{
			Level: "WARN",
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Load .env files first (in order of precedence)
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	setDefaults(v, cfg)

	// GITPULSE_ANALYSIS_THRESHOLD overrides analysis.threshold
	v.SetEnvPrefix("GITPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".gitpulse")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".gitpulse"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it
func setDefaults(v *viper.Viper, cfg *Config) {
	a := cfg.Analysis
	v.SetDefault("analysis.threshold", a.Threshold)
	v.SetDefault("analysis.min_support", a.MinSupport)
	v.SetDefault("analysis.fan_out_limit", a.FanOutLimit)
	v.SetDefault("analysis.half_life_days", a.HalfLifeDays)
	v.SetDefault("analysis.stale_after_days", a.StaleAfterDays)
	v.SetDefault("analysis.follow_renames", a.FollowRenames)
	v.SetDefault("analysis.cluster_weight_threshold", a.ClusterWeightThreshold)
	v.SetDefault("analysis.representative_files", a.RepresentativeFiles)
	v.SetDefault("analysis.max_file_commits", a.MaxFileCommits)
	v.SetDefault("analysis.granularity", a.Granularity)
	v.SetDefault("analysis.timezone", a.Timezone)
	v.SetDefault("analysis.churn_outlier_k", a.ChurnOutlierK)
	v.SetDefault("analysis.window_start", a.WindowStart)
	v.SetDefault("analysis.window_end", a.WindowEnd)
	v.SetDefault("analysis.top", a.Top)
	v.SetDefault("analysis.now", a.Now)
	v.SetDefault("analysis.skip_malformed", a.SkipMalformed)
	v.SetDefault("analysis.parallel", a.Parallel)

	s := cfg.Source
	v.SetDefault("source.backend", s.Backend)
	v.SetDefault("source.repo_path", s.RepoPath)
	v.SetDefault("source.range", s.Range)
	v.SetDefault("source.since", s.Since)
	v.SetDefault("source.until", s.Until)
	v.SetDefault("source.max_count", s.MaxCount)
	v.SetDefault("source.paths", s.Paths)
	v.SetDefault("source.git_binary", s.GitBinary)
	v.SetDefault("source.input", s.Input)

	v.SetDefault("output.format", cfg.Output.Format)
	v.SetDefault("output.max_rows", cfg.Output.MaxRows)

	v.SetDefault("archive.enabled", cfg.Archive.Enabled)
	v.SetDefault("archive.backend", cfg.Archive.Backend)
	v.SetDefault("archive.path", cfg.Archive.Path)
	v.SetDefault("archive.dsn", cfg.Archive.DSN)

	v.SetDefault("neo4j.uri", cfg.Neo4j.URI)
	v.SetDefault("neo4j.username", cfg.Neo4j.Username)
	v.SetDefault("neo4j.password", cfg.Neo4j.Password)
	v.SetDefault("neo4j.database", cfg.Neo4j.Database)
	v.SetDefault("neo4j.batch_size", cfg.Neo4j.BatchSize)
	v.SetDefault("neo4j.max_batches_per_second", cfg.Neo4j.MaxBatchesPerSecond)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.json", cfg.Logging.JSON)
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	envFiles := []string{
		".env.local", // Local overrides (highest precedence)
		".env",       // Main environment file
	}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".gitpulse", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		_ = godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies the conventional Neo4j variables, which carry no prefix
func applyEnvOverrides(cfg *Config) {
	cfg.Neo4j.URI = GetString("NEO4J_URI", cfg.Neo4j.URI)
	// NEO4J_USER is accepted for compatibility with docker images
	cfg.Neo4j.Username = GetString("NEO4J_USER", cfg.Neo4j.Username)
	cfg.Neo4j.Username = GetString("NEO4J_USERNAME", cfg.Neo4j.Username)
	cfg.Neo4j.Password = GetString("NEO4J_PASSWORD", cfg.Neo4j.Password)
	cfg.Neo4j.Database = GetString("NEO4J_DATABASE", cfg.Neo4j.Database)

	if path := os.Getenv("GITPULSE_ARCHIVE_PATH"); path != "" {
		cfg.Archive.Path = expandPath(path)
	}
	cfg.Archive.Path = expandPath(cfg.Archive.Path)
	cfg.Logging.File = expandPath(cfg.Logging.File)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file. Secrets (the Neo4j password and the
// archive DSN) are left out.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("analysis", c.Analysis)
	v.Set("source", c.Source)
	v.Set("output", c.Output)
	archive := c.Archive
	archive.DSN = ""
	v.Set("archive", archive)
	v.Set("neo4j", redacted(c.Neo4j))
	v.Set("logging", c.Logging)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// redacted drops the password, which belongs in the environment
func redacted(n Neo4jConfig) Neo4jConfig {
	n.Password = ""
	return n
}
