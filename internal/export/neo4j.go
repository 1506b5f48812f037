package export

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"golang.org/x/time/rate"

	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/logging"
)

// Writer runs one parameterized query. The Neo4j writer is the production
// implementation; tests record calls instead.
type Writer interface {
	Write(ctx context.Context, query string, rows []Row) error
	Close(ctx context.Context) error
}

// Connection locates the Neo4j server
type Connection struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jWriter executes queries through the official driver
type Neo4jWriter struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewNeo4jWriter connects and verifies connectivity before returning
func NewNeo4jWriter(ctx context.Context, conn Connection) (*Neo4jWriter, error) {
	if conn.URI == "" || conn.Username == "" {
		return nil, errors.InvalidConfigf("neo4j", "uri and username are required (uri=%q, user=%q)", conn.URI, conn.Username)
	}
	database := conn.Database
	if database == "" {
		database = "neo4j"
	}

	driver, err := neo4j.NewDriverWithContext(conn.URI,
		neo4j.BasicAuth(conn.Username, conn.Password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = 10
			config.ConnectionAcquisitionTimeout = 60 * time.Second
			config.MaxConnectionLifetime = time.Hour
			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
		})
	if err != nil {
		return nil, errors.ExternalErrorf(err, "create neo4j driver")
	}

	// fail fast on startup
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, errors.ExternalErrorf(err, "connect to neo4j at %s", conn.URI)
	}

	logger := logging.Component("neo4j")
	logger.Info("neo4j connected", "uri", conn.URI, "user", conn.Username, "database", database)
	return &Neo4jWriter{driver: driver, database: database, logger: logger}, nil
}

// Write implements Writer
func (w *Neo4jWriter) Write(ctx context.Context, query string, rows []Row) error {
	_, err := neo4j.ExecuteQuery(ctx, w.driver, query,
		map[string]any{"rows": rows},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(w.database),
		neo4j.ExecuteQueryWithWritersRouting())
	if err != nil {
		return errors.ExternalErrorf(err, "neo4j write")
	}
	return nil
}

// Close implements Writer
func (w *Neo4jWriter) Close(ctx context.Context) error {
	if err := w.driver.Close(ctx); err != nil {
		return errors.ExternalErrorf(err, "close neo4j driver")
	}
	return nil
}

// BatchConfig sizes UNWIND batches. Edges carry few properties and batch larger.
type BatchConfig struct {
	NodeBatchSize int
	EdgeBatchSize int
}

// DefaultBatchConfig suits repositories up to a few thousand files
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{NodeBatchSize: 500, EdgeBatchSize: 2000}
}

// UniformBatchConfig uses size for both nodes and edges
func UniformBatchConfig(size int) BatchConfig {
	return BatchConfig{NodeBatchSize: size, EdgeBatchSize: size}
}

var constraints = []string{
	`CREATE CONSTRAINT gitpulse_commit_id IF NOT EXISTS FOR (c:Commit) REQUIRE c.id IS UNIQUE`,
	`CREATE CONSTRAINT gitpulse_file_path IF NOT EXISTS FOR (f:File) REQUIRE f.path IS UNIQUE`,
	`CREATE CONSTRAINT gitpulse_developer_key IF NOT EXISTS FOR (d:Developer) REQUIRE d.key IS UNIQUE`,
}

// step is one label written with one UNWIND query
type step struct {
	name  string
	query string
	rows  func(*Graph) []Row
	edge  bool
}

// nodes first so every edge MATCH finds its endpoints
var steps = []step{
	{"developers", `
		UNWIND $rows AS row
		MERGE (d:Developer {key: row.key})
		SET d.name = row.name, d.email = row.email`,
		func(g *Graph) []Row { return g.Developers }, false},
	{"commits", `
		UNWIND $rows AS row
		MERGE (c:Commit {id: row.id})
		SET c += row`,
		func(g *Graph) []Row { return g.Commits }, false},
	{"files", `
		UNWIND $rows AS row
		MERGE (f:File {path: row.path})
		SET f += row`,
		func(g *Graph) []Row { return g.Files }, false},
	{"authored", `
		UNWIND $rows AS row
		MATCH (d:Developer {key: row.developer})
		MATCH (c:Commit {id: row.commit})
		MERGE (d)-[:AUTHORED]->(c)`,
		func(g *Graph) []Row { return g.Authored }, true},
	{"touches", `
		UNWIND $rows AS row
		MATCH (c:Commit {id: row.commit})
		MATCH (f:File {path: row.path})
		MERGE (c)-[t:TOUCHES]->(f)
		SET t.status = row.status, t.old_path = row.old_path,
		    t.insertions = row.insertions, t.deletions = row.deletions`,
		func(g *Graph) []Row { return g.Touches }, true},
	{"depends_on", `
		UNWIND $rows AS row
		MATCH (a:Commit {id: row.source})
		MATCH (b:Commit {id: row.target})
		MERGE (a)-[d:DEPENDS_ON]->(b)
		SET d.weight = row.weight, d.shared_files = row.shared_files`,
		func(g *Graph) []Row { return g.DependsOn }, true},
	{"co_changes_with", `
		UNWIND $rows AS row
		MATCH (a:File {path: row.file_a})
		MATCH (b:File {path: row.file_b})
		MERGE (a)-[r:CO_CHANGES_WITH]->(b)
		SET r.score = row.score, r.co_occurrences = row.co_occurrences, r.strength = row.strength`,
		func(g *Graph) []Row { return g.CoChanges }, true},
	{"owns", `
		UNWIND $rows AS row
		MATCH (d:Developer {key: row.developer})
		MATCH (f:File {path: row.path})
		MERGE (d)-[o:OWNS]->(f)
		SET o.share = row.share, o.classification = row.classification, o.stale = row.stale`,
		func(g *Graph) []Row { return g.Owns }, true},
}

// Stats reports what an export wrote
type Stats struct {
	Rows    map[string]int `json:"rows"`
	Batches int            `json:"batches"`
	Elapsed time.Duration  `json:"elapsed"`
}

// Exporter writes a Graph in batches
type Exporter struct {
	writer  Writer
	batches BatchConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewExporter validates the batch sizes. maxBatchesPerSecond 0 disables throttling.
func NewExporter(w Writer, batches BatchConfig, maxBatchesPerSecond float64) (*Exporter, error) {
	if batches.NodeBatchSize < 1 || batches.EdgeBatchSize < 1 {
		return nil, errors.InvalidConfigf("batch_size", "batch sizes must be at least 1 (nodes %d, edges %d)",
			batches.NodeBatchSize, batches.EdgeBatchSize)
	}
	if maxBatchesPerSecond < 0 {
		return nil, errors.InvalidConfigf("max_batches_per_second", "%v must not be negative", maxBatchesPerSecond)
	}
	e := &Exporter{writer: w, batches: batches, logger: logging.Component("export")}
	if maxBatchesPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(maxBatchesPerSecond), 1)
	}
	return e, nil
}

// Export creates the uniqueness constraints, then merges every label
func (e *Exporter) Export(ctx context.Context, g *Graph) (*Stats, error) {
	start := time.Now()
	stats := &Stats{Rows: map[string]int{}}

	for _, q := range constraints {
		if err := e.writer.Write(ctx, q, nil); err != nil {
			return stats, fmt.Errorf("creating constraints: %w", err)
		}
	}

	for _, s := range steps {
		rows := s.rows(g)
		size := e.batches.NodeBatchSize
		if s.edge {
			size = e.batches.EdgeBatchSize
		}
		for i := 0; i < len(rows); i += size {
			end := i + size
			if end > len(rows) {
				end = len(rows)
			}
			if e.limiter != nil {
				if err := e.limiter.Wait(ctx); err != nil {
					return stats, fmt.Errorf("rate limiter: %w", err)
				}
			}
			if err := e.writer.Write(ctx, s.query, rows[i:end]); err != nil {
				return stats, fmt.Errorf("batch %s %d-%d failed: %w", s.name, i, end, err)
			}
			stats.Batches++
			stats.Rows[s.name] += end - i
		}
		e.logger.Debug("exported", "label", s.name, "rows", len(rows))
	}

	stats.Elapsed = time.Since(start)
	e.logger.Info("export complete", "batches", stats.Batches, "elapsed", stats.Elapsed)
	return stats, nil
}

// BrowserURL returns the Neo4j Browser address for a bolt or neo4j URI
func BrowserURL(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return "http://localhost:7474/browser/"
	}
	host := u.Hostname()
	scheme := "http"
	switch u.Scheme {
	case "bolt+s", "neo4j+s", "bolt+ssc", "neo4j+ssc":
		scheme = "https"
	}
	port := "7474"
	if scheme == "https" {
		port = "7473"
	}
	return fmt.Sprintf("%s://%s/browser/", scheme, net.JoinHostPort(host, port))
}
