package graph

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/logging"
	"github.com/rohankatakam/gitpulse/internal/models"
)

const (
	DefaultClusterWeightThreshold = 0.5
	DefaultRepresentativeFiles    = 5
	DefaultMaxFileCommits         = 500

	// DampeningFormula is embedded in every report
	DampeningFormula = "weight(e) = sum over shared files f of ln(3) / ln(1 + df(f)), df(f) = number of commits touching f"
)

// FileContribution is what one shared file adds to an edge. A file touched by
// exactly two commits adds 1.0; the contribution falls strictly as df grows.
func FileContribution(df int) float64 {
	if df < 2 {
		return 0
	}
	return math.Log(3) / math.Log(1+float64(df))
}

// DependencyOptions configures the graph builder
type DependencyOptions struct {
	// ClusterWeightThreshold is the minimum edge weight that joins two commits into one cluster, ≥0
	ClusterWeightThreshold float64 `json:"cluster_weight_threshold"`
	// RepresentativeFiles caps the files listed per cluster
	RepresentativeFiles int `json:"representative_files"`
	// MaxFileCommits skips files touched by more commits than this when
	// building edges, bounding the pairs one lockfile can create. 0 disables.
	MaxFileCommits int `json:"max_file_commits"`
}

// DefaultDependencyOptions returns the documented defaults
func DefaultDependencyOptions() DependencyOptions {
	return DependencyOptions{
		ClusterWeightThreshold: DefaultClusterWeightThreshold,
		RepresentativeFiles:    DefaultRepresentativeFiles,
		MaxFileCommits:         DefaultMaxFileCommits,
	}
}

// Validate checks every option against its documented range
func (o DependencyOptions) Validate() error {
	if o.ClusterWeightThreshold < 0 || math.IsNaN(o.ClusterWeightThreshold) || math.IsInf(o.ClusterWeightThreshold, 0) {
		return errors.InvalidConfigf("clusterWeightThreshold", "%v must be a finite number ≥ 0", o.ClusterWeightThreshold)
	}
	if o.RepresentativeFiles < 1 {
		return errors.InvalidConfigf("representativeFiles", "%d must be at least 1", o.RepresentativeFiles)
	}
	if o.MaxFileCommits < 0 {
		return errors.InvalidConfigf("maxFileCommits", "%d must be positive, or 0 to disable", o.MaxFileCommits)
	}
	return nil
}

// DependencyNode is a read-only view of one commit
type DependencyNode struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Author     string    `json:"author"`
	AuthoredAt time.Time `json:"authored_at"`
	Files      int       `json:"files"`
}

// DependencyEdge links two commits that touched at least one common file. Source < Target.
type DependencyEdge struct {
	Source      string   `json:"source"`
	Target      string   `json:"target"`
	SharedFiles []string `json:"shared_files"`
	Weight      float64  `json:"weight"`
}

// Cluster is a connected component over edges at or above the threshold
type Cluster struct {
	Members             []string `json:"members"`
	Size                int      `json:"size"`
	InternalEdges       int      `json:"internal_edges"`
	TotalWeight         float64  `json:"total_weight"`
	RepresentativeFiles []string `json:"representative_files"`
}

// DependencyReport is the builder output
type DependencyReport struct {
	Dampening              string           `json:"dampening"`
	ClusterWeightThreshold float64          `json:"cluster_weight_threshold"`
	Nodes                  []DependencyNode `json:"nodes"`
	Edges                  []DependencyEdge `json:"edges"`
	Clusters               []Cluster        `json:"clusters"`
	// DuplicateCommits counts repeated commit ids dropped from the input
	DuplicateCommits int `json:"duplicate_commits,omitempty"`
	// PairComparisons counts posting-list pairs visited while building edges
	PairComparisons int `json:"pair_comparisons"`
	// SkippedFiles lists files above MaxFileCommits that created no edges
	SkippedFiles []string `json:"skipped_files,omitempty"`
}

// DependencyBuilder builds the commit similarity graph
type DependencyBuilder struct {
	opts   DependencyOptions
	logger *slog.Logger
}

// NewDependencyBuilder validates opts before any commit is processed
func NewDependencyBuilder(opts DependencyOptions) (*DependencyBuilder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &DependencyBuilder{opts: opts, logger: logging.Component("depgraph")}, nil
}

// Options returns the validated options
func (b *DependencyBuilder) Options() DependencyOptions {
	return b.opts
}

// edgeAcc accumulates one edge while scanning posting lists
type edgeAcc struct {
	shared []string
	weight float64
}

// DependencyGraph is the built graph: nodes in history order plus the
// inverted file index the edges were derived from.
type DependencyGraph struct {
	nodes      []DependencyNode
	files      [][]string
	index      map[string]int
	postings   map[string][]int
	edges      map[[2]int]*edgeAcc
	adjacency  [][]int
	duplicates int
	pairs      int
	skipped    []string
}

// Build indexes commits by file and creates one edge per commit pair that
// shares a posting list. Work is bounded by the sum of squared posting
// list lengths rather than the square of the commit count, and posting
// lists longer than MaxFileCommits are left out of that sum.
func (b *DependencyBuilder) Build(h *models.History) *DependencyGraph {
	g := &DependencyGraph{
		index:    make(map[string]int, h.Len()),
		postings: make(map[string][]int),
		edges:    make(map[[2]int]*edgeAcc),
	}

	for _, c := range h.Commits {
		if _, dup := g.index[c.ID]; dup {
			g.duplicates++
			continue
		}
		idx := len(g.nodes)
		g.index[c.ID] = idx
		paths := c.Paths()
		g.nodes = append(g.nodes, DependencyNode{
			ID:         c.ID,
			Subject:    c.Subject,
			Author:     c.Author.Name,
			AuthoredAt: c.AuthoredAt,
			Files:      len(paths),
		})
		g.files = append(g.files, paths)
		for _, p := range paths {
			g.postings[p] = append(g.postings[p], idx)
		}
	}

	// sorted file order keeps float accumulation and shared-file lists deterministic
	fileNames := make([]string, 0, len(g.postings))
	for f, posting := range g.postings {
		if b.opts.MaxFileCommits > 0 && len(posting) > b.opts.MaxFileCommits {
			g.skipped = append(g.skipped, f)
			continue
		}
		if len(posting) >= 2 {
			fileNames = append(fileNames, f)
		}
	}
	sort.Strings(fileNames)
	sort.Strings(g.skipped)

	for _, f := range fileNames {
		posting := g.postings[f]
		contribution := FileContribution(len(posting))
		for i := 0; i < len(posting); i++ {
			for j := i + 1; j < len(posting); j++ {
				key := [2]int{posting[i], posting[j]}
				e := g.edges[key]
				if e == nil {
					e = &edgeAcc{}
					g.edges[key] = e
				}
				e.shared = append(e.shared, f)
				e.weight += contribution
				g.pairs++
			}
		}
	}

	g.adjacency = make([][]int, len(g.nodes))
	for key := range g.edges {
		g.adjacency[key[0]] = append(g.adjacency[key[0]], key[1])
		g.adjacency[key[1]] = append(g.adjacency[key[1]], key[0])
	}
	for _, adj := range g.adjacency {
		sort.Ints(adj)
	}

	b.logger.Debug("dependency graph built",
		"nodes", len(g.nodes),
		"edges", len(g.edges),
		"pair_comparisons", g.pairs,
		"skipped_files", len(g.skipped),
		"duplicates", g.duplicates)
	return g
}

// Analyze builds the graph and its report
func (b *DependencyBuilder) Analyze(h *models.History) *DependencyReport {
	return b.Build(h).Report(b.opts)
}

// NodeCount returns the number of distinct commits
func (g *DependencyGraph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges of any weight
func (g *DependencyGraph) EdgeCount() int {
	return len(g.edges)
}

// Report lists nodes, edges and clusters. Every node lands in exactly one
// cluster; commits without a qualifying edge form singleton clusters.
func (g *DependencyGraph) Report(opts DependencyOptions) *DependencyReport {
	report := &DependencyReport{
		Dampening:              DampeningFormula,
		ClusterWeightThreshold: opts.ClusterWeightThreshold,
		Nodes:                  append([]DependencyNode{}, g.nodes...),
		Edges:                  make([]DependencyEdge, 0, len(g.edges)),
		Clusters:               []Cluster{},
		DuplicateCommits:       g.duplicates,
		PairComparisons:        g.pairs,
		SkippedFiles:           append([]string(nil), g.skipped...),
	}

	uf := newUnionFind(len(g.nodes))
	for key, e := range g.edges {
		a, b := g.nodes[key[0]].ID, g.nodes[key[1]].ID
		if a > b {
			a, b = b, a
		}
		report.Edges = append(report.Edges, DependencyEdge{
			Source:      a,
			Target:      b,
			SharedFiles: append([]string{}, e.shared...),
			Weight:      e.weight,
		})
		if e.weight >= opts.ClusterWeightThreshold {
			uf.union(key[0], key[1])
		}
	}
	sort.Slice(report.Edges, func(i, j int) bool {
		ei, ej := report.Edges[i], report.Edges[j]
		if ei.Weight != ej.Weight {
			return ei.Weight > ej.Weight
		}
		if ei.Source != ej.Source {
			return ei.Source < ej.Source
		}
		return ei.Target < ej.Target
	})

	report.Clusters = g.clusters(uf, opts)
	return report
}

func (g *DependencyGraph) clusters(uf *unionFind, opts DependencyOptions) []Cluster {
	groups := make(map[int][]int)
	var roots []int
	for i := range g.nodes {
		r := uf.find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], i)
	}

	type built struct {
		cluster Cluster
		first   int
	}
	out := make([]built, 0, len(roots))
	for _, r := range roots {
		members := groups[r]
		c := Cluster{
			Members: make([]string, len(members)),
			Size:    len(members),
		}
		in := make(map[int]bool, len(members))
		for i, m := range members {
			c.Members[i] = g.nodes[m].ID
			in[m] = true
		}

		// internal edges in member order for a reproducible weight sum
		for _, m := range members {
			for _, n := range g.adjacency[m] {
				if n <= m || !in[n] {
					continue
				}
				w := g.edges[[2]int{m, n}].weight
				if w >= opts.ClusterWeightThreshold {
					c.InternalEdges++
					c.TotalWeight += w
				}
			}
		}

		c.RepresentativeFiles = g.representativeFiles(members, opts.RepresentativeFiles)
		out = append(out, built{cluster: c, first: members[0]})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].cluster.Size != out[j].cluster.Size {
			return out[i].cluster.Size > out[j].cluster.Size
		}
		return out[i].first < out[j].first
	})

	clusters := make([]Cluster, len(out))
	for i, b := range out {
		clusters[i] = b.cluster
	}
	return clusters
}

// representativeFiles ranks files touched by at least two members, most
// frequent first. A cluster without such files lists its own files.
func (g *DependencyGraph) representativeFiles(members []int, limit int) []string {
	counts := make(map[string]int)
	for _, m := range members {
		for _, f := range g.files[m] {
			counts[f]++
		}
	}

	type fc struct {
		path  string
		count int
	}
	var shared, all []fc
	for p, n := range counts {
		all = append(all, fc{p, n})
		if n >= 2 {
			shared = append(shared, fc{p, n})
		}
	}
	ranked := shared
	if len(ranked) == 0 {
		ranked = all
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].path < ranked[j].path
	})

	files := make([]string, 0, min(limit, len(ranked)))
	for i := 0; i < len(ranked) && i < limit; i++ {
		files = append(files, ranked[i].path)
	}
	return files
}

// unionFind is a disjoint-set forest with path halving and union by size
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}
