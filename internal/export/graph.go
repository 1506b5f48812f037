// Package export writes analysis results into a Neo4j graph.
//
// Layout:
//
//	(:Developer)-[:AUTHORED]->(:Commit)-[:TOUCHES]->(:File)
//	(:Commit)-[:DEPENDS_ON {weight, shared_files}]->(:Commit)
//	(:File)-[:CO_CHANGES_WITH {score, co_occurrences, strength}]->(:File)
//	(:Developer)-[:OWNS {share, classification, stale}]->(:File)
//
// Node keys are Commit.id, File.path and Developer.key, so re-exporting the
// same history is idempotent.
package export

import (
	"sort"

	"github.com/rohankatakam/gitpulse/internal/models"
	"github.com/rohankatakam/gitpulse/internal/report"
)

// Row is one UNWIND parameter map
type Row = map[string]any

// Graph holds the parameter rows for every node and edge label
type Graph struct {
	Developers []Row
	Commits    []Row
	Files      []Row
	Authored   []Row
	Touches    []Row
	DependsOn  []Row
	CoChanges  []Row
	Owns       []Row
}

// Counts summarizes the graph for logs and the CLI
func (g *Graph) Counts() map[string]int {
	return map[string]int{
		"developers":      len(g.Developers),
		"commits":         len(g.Commits),
		"files":           len(g.Files),
		"authored":        len(g.Authored),
		"touches":         len(g.Touches),
		"depends_on":      len(g.DependsOn),
		"co_changes_with": len(g.CoChanges),
		"owns":            len(g.Owns),
	}
}

// BuildGraph converts a history and the analyzer results of env into rows.
// Results that did not run contribute no rows.
func BuildGraph(h *models.History, env *report.Envelope) *Graph {
	g := &Graph{
		Developers: []Row{},
		Commits:    []Row{},
		Files:      []Row{},
		Authored:   []Row{},
		Touches:    []Row{},
		DependsOn:  []Row{},
		CoChanges:  []Row{},
		Owns:       []Row{},
	}

	developers := map[string]Row{}
	files := map[string]Row{}
	fileRow := func(path string) Row {
		if r, ok := files[path]; ok {
			return r
		}
		r := Row{"path": path}
		files[path] = r
		return r
	}

	if h != nil {
		for _, c := range h.Commits {
			g.Commits = append(g.Commits, Row{
				"id":           c.ID,
				"subject":      c.Subject,
				"authored_at":  c.AuthoredAt.UTC(),
				"committed_at": c.CommittedAt.UTC(),
				"parents":      append([]string{}, c.ParentIDs...),
				"merge":        c.IsMerge(),
				"files":        len(c.FileChanges),
			})

			key, _ := c.Author.Key()
			if _, ok := developers[key]; !ok {
				developers[key] = Row{"key": key, "name": c.Author.Name, "email": c.Author.Email}
			}
			g.Authored = append(g.Authored, Row{"developer": key, "commit": c.ID})

			for _, fc := range c.FileChanges {
				path := models.NormalizePath(fc.Path)
				if path == "" {
					continue
				}
				fileRow(path)
				g.Touches = append(g.Touches, Row{
					"commit":     c.ID,
					"path":       path,
					"status":     string(fc.Status),
					"old_path":   models.NormalizePath(fc.OldPath),
					"insertions": fc.Insertions,
					"deletions":  fc.Deletions,
				})
			}
		}
	}

	if env != nil {
		if r := env.Results.Churn; r != nil {
			for _, rec := range r.Files {
				f := fileRow(rec.Path)
				f["total_changes"] = rec.TotalChanges
				f["lines_changed"] = rec.TotalLinesChanged
				f["churn_z"] = rec.ZScore
				f["hotspot"] = rec.Hotspot
				f["last_changed_at"] = rec.LastChangedAt.UTC()
			}
		}
		if r := env.Results.Dependencies; r != nil {
			for _, e := range r.Edges {
				g.DependsOn = append(g.DependsOn, Row{
					"source":       e.Source,
					"target":       e.Target,
					"weight":       e.Weight,
					"shared_files": append([]string{}, e.SharedFiles...),
				})
			}
		}
		if r := env.Results.CoChange; r != nil {
			for _, p := range r.Pairs {
				fileRow(p.FileA)
				fileRow(p.FileB)
				g.CoChanges = append(g.CoChanges, Row{
					"file_a":         p.FileA,
					"file_b":         p.FileB,
					"score":          p.Score,
					"co_occurrences": p.CoOccurrences,
					"strength":       string(p.Strength),
				})
			}
		}
		if r := env.Results.Ownership; r != nil {
			for _, fo := range r.Files {
				fileRow(fo.Path)
				for _, o := range fo.Owners {
					if _, ok := developers[o.AuthorKey]; !ok {
						developers[o.AuthorKey] = Row{"key": o.AuthorKey, "name": o.Name, "email": o.Email}
					}
					g.Owns = append(g.Owns, Row{
						"developer":      o.AuthorKey,
						"path":           fo.Path,
						"share":          o.Share,
						"classification": string(o.Classification),
						"stale":          o.Stale,
					})
				}
			}
		}
	}

	g.Developers = sortedRows(developers)
	g.Files = sortedRows(files)
	return g
}

func sortedRows(m map[string]Row) []Row {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]Row, len(keys))
	for i, k := range keys {
		rows[i] = m[k]
	}
	return rows
}
