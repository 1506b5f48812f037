package graph

import (
	"sort"
	"strings"

	"github.com/rohankatakam/gitpulse/internal/errors"
)

const (
	DefaultRelatedDepth      = 1
	DefaultRelatedMinShared  = 2
	DefaultRelatedMaxResults = 20
)

// RelatedOptions configures a traversal from one commit
type RelatedOptions struct {
	// Root is a full commit id or a unique prefix of one
	Root string `json:"root"`
	// Depth is how many hops to follow; 1 lists direct neighbours only
	Depth int `json:"depth"`
	// MinShared is the minimum number of shared files for a hop
	MinShared int `json:"min_shared"`
	// MaxResults caps the neighbours followed from each commit
	MaxResults int `json:"max_results"`
}

// DefaultRelatedOptions returns the traversal defaults for root
func DefaultRelatedOptions(root string) RelatedOptions {
	return RelatedOptions{
		Root:       root,
		Depth:      DefaultRelatedDepth,
		MinShared:  DefaultRelatedMinShared,
		MaxResults: DefaultRelatedMaxResults,
	}
}

// Validate checks the traversal bounds
func (o RelatedOptions) Validate() error {
	if strings.TrimSpace(o.Root) == "" {
		return errors.InvalidConfigf("commit", "a root commit is required")
	}
	if o.Depth < 1 {
		return errors.InvalidConfigf("depth", "%d must be at least 1", o.Depth)
	}
	if o.MinShared < 1 {
		return errors.InvalidConfigf("minShared", "%d must be at least 1", o.MinShared)
	}
	if o.MaxResults < 1 {
		return errors.InvalidConfigf("maxResults", "%d must be at least 1", o.MaxResults)
	}
	return nil
}

// RelatedCommit is one commit reached from the root
type RelatedCommit struct {
	ID          string   `json:"id"`
	Subject     string   `json:"subject"`
	Depth       int      `json:"depth"`
	Via         string   `json:"via"`
	SharedFiles []string `json:"shared_files"`
	Weight      float64  `json:"weight"`
}

// RelatedReport is the traversal result, in BFS order
type RelatedReport struct {
	Root    DependencyNode  `json:"root"`
	Options RelatedOptions  `json:"options"`
	Related []RelatedCommit `json:"related"`
}

// Resolve maps a full id or unique prefix to a node index
func (g *DependencyGraph) Resolve(id string) (int, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if idx, ok := g.index[id]; ok {
		return idx, nil
	}

	found := -1
	for i, n := range g.nodes {
		if strings.HasPrefix(n.ID, id) {
			if found >= 0 {
				return -1, errors.InvalidConfigf("commit", "prefix %q is ambiguous", id)
			}
			found = i
		}
	}
	if found < 0 {
		return -1, errors.InvalidConfigf("commit", "%q is not in the analyzed range", id)
	}
	return found, nil
}

// Related walks the graph breadth-first from the root. At each commit,
// neighbours sharing at least MinShared files are ranked by shared-file
// count, then weight, then id, and the first MaxResults are followed.
func (g *DependencyGraph) Related(opts RelatedOptions) (*RelatedReport, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	root, err := g.Resolve(opts.Root)
	if err != nil {
		return nil, err
	}

	report := &RelatedReport{Root: g.nodes[root], Options: opts, Related: []RelatedCommit{}}
	visited := map[int]bool{root: true}

	type hop struct {
		node, depth int
	}
	queue := []hop{{root, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= opts.Depth {
			continue
		}

		for _, n := range g.neighbours(cur.node, opts.MinShared, opts.MaxResults) {
			if visited[n] {
				continue
			}
			visited[n] = true
			e := g.edge(cur.node, n)
			report.Related = append(report.Related, RelatedCommit{
				ID:          g.nodes[n].ID,
				Subject:     g.nodes[n].Subject,
				Depth:       cur.depth + 1,
				Via:         g.nodes[cur.node].ID,
				SharedFiles: append([]string{}, e.shared...),
				Weight:      e.weight,
			})
			queue = append(queue, hop{n, cur.depth + 1})
		}
	}
	return report, nil
}

func (g *DependencyGraph) edge(a, b int) *edgeAcc {
	if a > b {
		a, b = b, a
	}
	return g.edges[[2]int{a, b}]
}

func (g *DependencyGraph) neighbours(node, minShared, limit int) []int {
	var out []int
	for _, n := range g.adjacency[node] {
		if len(g.edge(node, n).shared) >= minShared {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ei, ej := g.edge(node, out[i]), g.edge(node, out[j])
		if len(ei.shared) != len(ej.shared) {
			return len(ei.shared) > len(ej.shared)
		}
		if ei.weight != ej.weight {
			return ei.weight > ej.weight
		}
		return g.nodes[out[i]].ID < g.nodes[out[j]].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
