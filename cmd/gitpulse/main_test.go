package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/rohankatakam/gitpulse/internal/gitlog"
	"github.com/rohankatakam/gitpulse/internal/models"
	"github.com/rohankatakam/gitpulse/internal/report"
	"github.com/rohankatakam/gitpulse/internal/storage"
)

func writeLog(t *testing.T, dir string) string {
	t.Helper()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	files := [][]string{{"a.go", "b.go"}, {"a.go", "b.go"}, {"b.go", "c.go"}, {"d.go"}}
	var commits []*models.CommitRecord
	for i, fs := range files {
		c := &models.CommitRecord{
			ID:          fmt.Sprintf("%040x", i+1),
			Author:      models.Identity{Name: "Dev", Email: "dev@example.com"},
			Committer:   models.Identity{Name: "Dev", Email: "dev@example.com"},
			AuthoredAt:  base.Add(time.Duration(i) * 24 * time.Hour),
			CommittedAt: base.Add(time.Duration(i) * 24 * time.Hour),
			Subject:     fmt.Sprintf("change %d", i+1),
		}
		for _, f := range fs {
			c.FileChanges = append(c.FileChanges, models.FileChange{Path: f, Status: models.StatusModified, Insertions: 5, Deletions: 1})
		}
		commits = append(commits, c)
	}

	path := filepath.Join(dir, "history.log")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, gitlog.EncodeAll(f, commits))
	return path
}

// fixture writes a log and a config whose archive lives in a temp dir
type fixture struct {
	log     string
	config  string
	archive string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	fx := fixture{
		log:     writeLog(t, dir),
		config:  filepath.Join(dir, "config.yaml"),
		archive: filepath.Join(dir, "reports.db"),
	}
	yaml := fmt.Sprintf("archive:\n  backend: bolt\n  path: %s\nlogging:\n  level: ERROR\n", fx.archive)
	require.NoError(t, os.WriteFile(fx.config, []byte(yaml), 0644))
	return fx
}

// resetFlags restores every flag to its default and clears Changed, since
// cobra keeps both between runs
func resetFlags() {
	cfgFile, verbose = "", false
	var reset func(c *cobra.Command)
	reset = func(c *cobra.Command) {
		for _, fs := range []*pflag.FlagSet{c.PersistentFlags(), c.Flags()} {
			fs.VisitAll(func(f *pflag.Flag) {
				_ = f.Value.Set(f.DefValue)
				f.Changed = false
			})
		}
		for _, sub := range c.Commands() {
			reset(sub)
		}
	}
	reset(rootCmd)
}

func execute(t *testing.T, fx fixture, args ...string) (string, error) {
	t.Helper()
	return executeAt(t, fx, "2024-03-01", args...)
}

// executeAt runs the CLI with --now set to now, or without --now when empty
func executeAt(t *testing.T, fx fixture, now string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	args = append(args, "--config", fx.config, "--input", fx.log)
	if now != "" {
		args = append(args, "--now", now)
	}
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestReportIsDeterministic(t *testing.T) {
	fx := newFixture(t)

	first, err := execute(t, fx, "report", "--format", "json")
	require.NoError(t, err)
	second, err := execute(t, fx, "report", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var env report.Envelope
	require.NoError(t, json.Unmarshal([]byte(first), &env))
	assert.Equal(t, report.AllKinds, env.Analyzers)
	assert.Equal(t, 4, env.CommitsProcessed)
	assert.False(t, env.Truncated)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), env.GeneratedAt)
	assert.NotNil(t, env.Results.CoChange)
	assert.NotNil(t, env.Results.Churn)
}

func TestCoChangePartnersOfFile(t *testing.T) {
	fx := newFixture(t)

	out, err := execute(t, fx, "cochange", "./a.go", "--format", "json")
	require.NoError(t, err)

	var got struct {
		File     string `json:"file"`
		Partners []struct {
			Path  string  `json:"file_path"`
			Score float64 `json:"score"`
		} `json:"partners"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "a.go", got.File)
	require.NotEmpty(t, got.Partners)
	assert.Equal(t, "b.go", got.Partners[0].Path)
	assert.InDelta(t, 2.0/3.0, got.Partners[0].Score, 1e-9)
}

func TestTextOutput(t *testing.T) {
	fx := newFixture(t)

	out, err := execute(t, fx, "activity", "--granularity", "day-of-week")
	require.NoError(t, err)
	assert.Contains(t, out, "Activity by day-of-week")

	out, err = execute(t, fx, "cochange", "a.go")
	require.NoError(t, err)
	assert.Contains(t, out, "Files that change with a.go")
	assert.Contains(t, out, "b.go")
}

func TestInvalidOptionNamesTheParameter(t *testing.T) {
	fx := newFixture(t)

	_, err := execute(t, fx, "cochange", "--threshold", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold")

	_, err = execute(t, fx, "activity", "--timezone", "Nowhere/Atlantis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timezone")
}

func TestDepsRelatedToUnknownCommit(t *testing.T) {
	fx := newFixture(t)

	out, err := execute(t, fx, "deps", "--format", "json")
	require.NoError(t, err)
	var env report.Envelope
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	require.NotNil(t, env.Results.Dependencies)

	out, err = execute(t, fx, "deps", "ffffff", "--format", "json")
	require.NoError(t, err)
	env = report.Envelope{}
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	assert.Equal(t, 4, env.CommitsProcessed)
	require.NotNil(t, env.Results.Dependencies)
	assert.Nil(t, env.Results.Related)
	assert.True(t, env.HasNote(report.NoteUnknownCommit))
}

func TestNumericFlagsAreValidated(t *testing.T) {
	fx := newFixture(t)

	rejected := []struct {
		args  []string
		param string
	}{
		{[]string{"ownership", "--half-life", "-5"}, "halfLifeDays"},
		{[]string{"cochange", "--threshold", "-0.5"}, "threshold"},
		{[]string{"cochange", "--min-support", "0"}, "minSupport"},
		{[]string{"churn", "--outlier-k", "-3"}, "outlierK"},
		{[]string{"deps", "--cluster-threshold", "-1"}, "clusterWeightThreshold"},
		{[]string{"deps", "--max-file-commits", "-1"}, "maxFileCommits"},
	}
	for _, tt := range rejected {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			out, err := execute(t, fx, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.param)
			assert.Empty(t, out)
		})
	}

	out, err := execute(t, fx, "cochange", "--threshold", "0", "--min-support", "1", "--format", "json")
	require.NoError(t, err)
	var env report.Envelope
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	echo := env.Config.(map[string]any)["cochange"].(map[string]any)
	assert.Equal(t, 0.0, echo["threshold"])
	assert.Equal(t, 2, env.Results.CoChange.TotalPairs)

	out, err = execute(t, fx, "churn", "--outlier-k", "0", "--format", "json")
	require.NoError(t, err)
	env = report.Envelope{}
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	assert.Equal(t, 0.0, env.Config.(map[string]any)["churn"].(map[string]any)["outlier_k"])

	out, err = execute(t, fx, "deps", "--cluster-threshold", "0", "--format", "json")
	require.NoError(t, err)
	env = report.Envelope{}
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	assert.Equal(t, 0.0, env.Results.Dependencies.ClusterWeightThreshold)

	// a flag left unset keeps the configured value
	out, err = execute(t, fx, "cochange", "--format", "json")
	require.NoError(t, err)
	env = report.Envelope{}
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	assert.Equal(t, 0.3, env.Config.(map[string]any)["cochange"].(map[string]any)["threshold"])
}

func TestOutputIsByteIdenticalWithoutNow(t *testing.T) {
	fx := newFixture(t)

	first, err := executeAt(t, fx, "", "churn", "--format", "json")
	require.NoError(t, err)
	second, err := executeAt(t, fx, "", "churn", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var env report.Envelope
	require.NoError(t, json.Unmarshal([]byte(first), &env))
	assert.Equal(t, time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC), env.GeneratedAt)
}

func TestArchiveAndHistory(t *testing.T) {
	fx := newFixture(t)

	out, err := execute(t, fx, "churn", "--archive", "--format", "json")
	require.NoError(t, err)
	var env report.Envelope
	require.NoError(t, json.Unmarshal([]byte(out), &env))
	require.NotEmpty(t, env.RunID)

	out, err = execute(t, fx, "history", "list", "--format", "json")
	require.NoError(t, err)
	var entries []storage.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, env.RunID, entries[0].RunID)
	assert.Equal(t, []report.Kind{report.KindChurn}, entries[0].Analyzers)

	out, err = execute(t, fx, "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, env.RunID)

	out, err = execute(t, fx, "history", "show", env.RunID, "--format", "json")
	require.NoError(t, err)
	var shown report.Envelope
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, env.RunID, shown.RunID)
	assert.Equal(t, env.CommitsProcessed, shown.CommitsProcessed)

	_, err = execute(t, fx, "history", "delete", env.RunID)
	require.NoError(t, err)
	_, err = execute(t, fx, "history", "show", env.RunID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no archived report")
}

func TestExportDryRun(t *testing.T) {
	fx := newFixture(t)

	out, err := execute(t, fx, "export", "neo4j", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Graph for")

	counts := map[string]string{}
	for _, line := range strings.Split(out, "\n")[1:] {
		fields := strings.Fields(line)
		if len(fields) == 2 {
			counts[fields[0]] = fields[1]
		}
	}
	assert.Equal(t, "4", counts["commits"])
	assert.Equal(t, "4", counts["files"])
	assert.Equal(t, "7", counts["touches"])
	assert.Equal(t, "1", counts["developers"])
}

func TestConfigCommands(t *testing.T) {
	keyring.MockInit()
	fx := newFixture(t)

	out, err := execute(t, fx, "config", "validate")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Configuration is valid")

	out, err = execute(t, fx, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: file", "flags are applied before showing")
	assert.Contains(t, out, "password: (not set)")

	rootCmd.SetIn(strings.NewReader("hunter2-horse\n"))
	defer rootCmd.SetIn(nil)
	out, err = execute(t, fx, "config", "set-password")
	require.NoError(t, err)
	assert.Contains(t, out, "hu...se")

	stored, err := keyring.Get("gitpulse", "neo4j-password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2-horse", stored)

	_, err = execute(t, fx, "config", "delete-password")
	require.NoError(t, err)
	_, err = keyring.Get("gitpulse", "neo4j-password")
	assert.ErrorIs(t, err, keyring.ErrNotFound)
}

func TestConfigInitWritesDefaults(t *testing.T) {
	fx := newFixture(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	_, err := execute(t, fx, "config", "init", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "threshold: 0.3")

	_, err = execute(t, fx, "config", "init", path)
	assert.Error(t, err, "an existing file is not overwritten without --force")
}
