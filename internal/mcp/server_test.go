package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/gitpulse/internal/analysis"
	"github.com/rohankatakam/gitpulse/internal/config"
	"github.com/rohankatakam/gitpulse/internal/gitlog"
	"github.com/rohankatakam/gitpulse/internal/models"
	"github.com/rohankatakam/gitpulse/internal/report"
)

func writeLog(t *testing.T) string {
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
			c.FileChanges = append(c.FileChanges, models.FileChange{Path: f, Status: models.StatusModified, Insertions: 2, Deletions: 1})
		}
		commits = append(commits, c)
	}

	path := filepath.Join(t.TempDir(), "history.log")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, gitlog.EncodeAll(f, commits))
	return path
}

// connect starts the server on an in-memory transport and returns a client session
func connect(t *testing.T) *sdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	opts := analysis.DefaultOptions()
	opts.Clock = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	s := NewServer(opts, config.SourceConfig{Backend: config.BackendFile, Input: writeLog(t)}, "test")

	serverT, clientT := sdk.NewInMemoryTransports()
	ss, err := s.MCP().Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ss.Close() })

	client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "test"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs
}

func call(t *testing.T, cs *sdk.ClientSession, name string, args map[string]any) (*sdk.CallToolResult, string) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &sdk.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*sdk.TextContent)
	require.True(t, ok)
	return res, text.Text
}

func TestListTools(t *testing.T) {
	cs := connect(t)
	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolCoChanges, ToolOwnership, ToolDependencies, ToolActivity, ToolChurn}, names)
}

func TestToolsReturnEnvelopes(t *testing.T) {
	cs := connect(t)

	tests := []struct {
		tool string
		args map[string]any
		kind report.Kind
	}{
		{ToolCoChanges, map[string]any{"top": 5}, report.KindCoChange},
		{ToolOwnership, map[string]any{"files": []string{"a.go"}}, report.KindOwnership},
		{ToolDependencies, map[string]any{}, report.KindDependencies},
		{ToolActivity, map[string]any{"granularity": "day-of-week"}, report.KindActivity},
		{ToolChurn, map[string]any{"outlier_k": 1.5}, report.KindChurn},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			res, text := call(t, cs, tt.tool, tt.args)
			require.False(t, res.IsError, text)

			var env report.Envelope
			require.NoError(t, json.Unmarshal([]byte(text), &env))
			assert.Equal(t, []report.Kind{tt.kind}, env.Analyzers)
			assert.Equal(t, 4, env.CommitsProcessed)
		})
	}
}

func TestCoChangePartnersOfFile(t *testing.T) {
	cs := connect(t)
	res, text := call(t, cs, ToolCoChanges, map[string]any{"file": "a.go"})
	require.False(t, res.IsError, text)

	var out struct {
		File     string `json:"file"`
		Partners []struct {
			Path string `json:"file_path"`
		} `json:"partners"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	assert.Equal(t, "a.go", out.File)
	require.NotEmpty(t, out.Partners)
	assert.Equal(t, "b.go", out.Partners[0].Path)
}

func TestInvalidArgumentsAreToolErrors(t *testing.T) {
	cs := connect(t)
	res, text := call(t, cs, ToolCoChanges, map[string]any{"threshold": 2.0})
	assert.True(t, res.IsError)
	assert.Contains(t, text, "threshold")

	res, text = call(t, cs, ToolActivity, map[string]any{"timezone": "Nowhere/Atlantis"})
	assert.True(t, res.IsError)
	assert.Contains(t, text, "timezone")
}

func TestNumericArgumentsOverrideDefaults(t *testing.T) {
	cs := connect(t)

	rejected := []struct {
		tool  string
		args  map[string]any
		param string
	}{
		{ToolOwnership, map[string]any{"half_life_days": -5.0}, "halfLifeDays"},
		{ToolCoChanges, map[string]any{"threshold": -0.5}, "threshold"},
		{ToolChurn, map[string]any{"outlier_k": -3.0}, "outlierK"},
		{ToolDependencies, map[string]any{"cluster_weight_threshold": -1.0}, "clusterWeightThreshold"},
		{ToolDependencies, map[string]any{"commit": "abc", "depth": 0}, "depth"},
	}
	for _, tt := range rejected {
		t.Run(tt.param, func(t *testing.T) {
			res, text := call(t, cs, tt.tool, tt.args)
			assert.True(t, res.IsError, text)
			assert.Contains(t, text, tt.param)
		})
	}

	res, text := call(t, cs, ToolCoChanges, map[string]any{"threshold": 0.0, "min_support": 1})
	require.False(t, res.IsError, text)
	var env report.Envelope
	require.NoError(t, json.Unmarshal([]byte(text), &env))
	echo := env.Config.(map[string]any)["cochange"].(map[string]any)
	assert.Equal(t, 0.0, echo["threshold"])
	assert.Equal(t, 1.0, echo["min_support"])
	// a.go-b.go and b.go-c.go both pass a zero threshold with support 1
	assert.Equal(t, 2, env.Results.CoChange.TotalPairs)

	res, text = call(t, cs, ToolChurn, map[string]any{"outlier_k": 0.0})
	require.False(t, res.IsError, text)
	env = report.Envelope{}
	require.NoError(t, json.Unmarshal([]byte(text), &env))
	assert.Equal(t, 0.0, env.Config.(map[string]any)["churn"].(map[string]any)["outlier_k"])
}

func TestPartnersIgnoreTopOfPairList(t *testing.T) {
	cs := connect(t)

	// c.go pairs only with b.go (score 1/3), which top 1 cuts from the pair list
	res, text := call(t, cs, ToolCoChanges, map[string]any{"file": "c.go", "threshold": 0.0, "min_support": 1, "top": 1})
	require.False(t, res.IsError, text)

	var out struct {
		Partners []struct {
			Path string `json:"file_path"`
		} `json:"partners"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	require.Len(t, out.Partners, 1)
	assert.Equal(t, "b.go", out.Partners[0].Path)
}
