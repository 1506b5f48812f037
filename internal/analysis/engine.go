// Package analysis runs the analyzers over one shared history.
//
// Every selected analyzer is constructed, and so validated, before any
// commit is read. The analyzers only read the history, so they run
// concurrently and each writes its own result field.
package analysis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/gitpulse/internal/errors"
	"github.com/rohankatakam/gitpulse/internal/gitlog"
	"github.com/rohankatakam/gitpulse/internal/graph"
	"github.com/rohankatakam/gitpulse/internal/logging"
	"github.com/rohankatakam/gitpulse/internal/metrics"
	"github.com/rohankatakam/gitpulse/internal/models"
	"github.com/rohankatakam/gitpulse/internal/ownership"
	"github.com/rohankatakam/gitpulse/internal/report"
	"github.com/rohankatakam/gitpulse/internal/temporal"
)

// Options carries the options of every analyzer
type Options struct {
	CoChange     metrics.CoChangeOptions  `json:"co_change"`
	Ownership    ownership.Options        `json:"ownership"`
	Dependencies graph.DependencyOptions  `json:"dependencies"`
	Related      *graph.RelatedOptions    `json:"related,omitempty"`
	Activity     temporal.ActivityOptions `json:"activity"`
	Churn        temporal.ChurnOptions    `json:"churn"`
	Policy       gitlog.Policy            `json:"-"`
	Sequential   bool                     `json:"-"`
	// Clock stamps the envelope. Nil uses the ownership reference time, or
	// the latest authored time in the history, so output never depends on
	// the wall clock.
	Clock func() time.Time `json:"-"`
}

// DefaultOptions returns every analyzer's defaults
func DefaultOptions() Options {
	return Options{
		CoChange:     metrics.DefaultCoChangeOptions(),
		Ownership:    ownership.DefaultOptions(),
		Dependencies: graph.DefaultDependencyOptions(),
		Activity:     temporal.DefaultActivityOptions(),
		Churn:        temporal.DefaultChurnOptions(),
	}
}

// Engine holds the validated analyzers for one run
type Engine struct {
	kinds []report.Kind
	opts  Options

	cochange *metrics.CoChangeAnalyzer
	owners   *ownership.Calculator
	deps     *graph.DependencyBuilder
	activity *temporal.ActivityAnalyzer
	churn    *temporal.ChurnAnalyzer

	logger *slog.Logger
}

// New validates the options of every requested analyzer. With no kinds,
// every analyzer runs.
func New(opts Options, kinds ...report.Kind) (*Engine, error) {
	if len(kinds) == 0 {
		kinds = report.AllKinds
	}
	if opts.Related != nil {
		related := *opts.Related
		opts.Related = &related
	}
	e := &Engine{opts: opts, logger: logging.Component("analysis")}

	seen := make(map[report.Kind]bool)
	var err error
	for _, k := range kinds {
		if seen[k] {
			continue
		}
		seen[k] = true
		e.kinds = append(e.kinds, k)

		switch k {
		case report.KindCoChange:
			e.cochange, err = metrics.NewCoChangeAnalyzer(opts.CoChange)
		case report.KindOwnership:
			e.owners, err = ownership.NewCalculator(opts.Ownership)
		case report.KindDependencies:
			e.deps, err = graph.NewDependencyBuilder(opts.Dependencies)
			if err == nil && opts.Related != nil {
				err = opts.Related.Validate()
			}
		case report.KindActivity:
			e.activity, err = temporal.NewActivityAnalyzer(opts.Activity)
		case report.KindChurn:
			e.churn, err = temporal.NewChurnAnalyzer(opts.Churn)
		default:
			err = errors.InvalidConfigf("analyzer", "unknown analyzer %q", k)
		}
		if err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Kinds returns the analyzers this engine runs, in request order
func (e *Engine) Kinds() []report.Kind {
	return e.kinds
}

// Load reads the history from src with the configured malformed-entry policy
func (e *Engine) Load(ctx context.Context, src gitlog.Source) (*models.History, error) {
	return gitlog.Load(ctx, src, e.opts.Policy)
}

// RunSource loads the history from src and analyzes it
func (e *Engine) RunSource(ctx context.Context, src gitlog.Source) (*report.Envelope, error) {
	h, err := e.Load(ctx, src)
	if err != nil {
		return nil, err
	}
	env, err := e.Run(ctx, h)
	if err != nil {
		return nil, err
	}
	env.Diagnostics.Source = src.Describe()
	return env, nil
}

// Run analyzes h. Options were validated by New, so the only errors are
// context cancellation and encoding failures. A related-commit root outside
// the history becomes a note on an otherwise complete report.
func (e *Engine) Run(ctx context.Context, h *models.History) (*report.Envelope, error) {
	if h == nil {
		h = &models.History{Commits: []*models.CommitRecord{}}
	}

	env := report.New(h, e.kinds, e.generatedAt(h))
	echo := e.configEcho()
	fingerprint, err := json.Marshal(echo)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, errors.SeverityHigh, "encode analyzer options")
	}
	env.SetConfig(h, echo, string(fingerprint))

	var relatedErr error
	tasks := e.tasks(h, &env.Results, &relatedErr)
	if e.opts.Sequential {
		for _, t := range tasks {
			if err := e.runTask(ctx, t); err != nil {
				return nil, err
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for _, t := range tasks {
			t := t
			g.Go(func() error {
				return e.runTask(gctx, t)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	env.Annotate()
	if relatedErr != nil {
		env.AddNote(report.NoteUnknownCommit, "related commits not listed: %v", relatedErr)
	}
	e.logger.Info("analysis complete",
		"analyzers", len(e.kinds),
		"commits", env.CommitsProcessed,
		"truncated", env.Truncated,
		"notes", len(env.Notes))
	return env, nil
}

// generatedAt is the injected clock, else the ownership reference time,
// else the latest authored time. An empty history without a clock yields
// the zero time.
func (e *Engine) generatedAt(h *models.History) time.Time {
	if e.opts.Clock != nil {
		return e.opts.Clock()
	}
	if !e.opts.Ownership.Now.IsZero() {
		return e.opts.Ownership.Now
	}
	_, latest := h.DateRange()
	return latest
}

type task struct {
	kind report.Kind
	run  func() error
}

func (e *Engine) runTask(ctx context.Context, t task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := t.run()
	e.logger.Debug("analyzer finished", "analyzer", t.kind, "duration", time.Since(start), "error", err)
	return err
}

// tasks builds one closure per analyzer. relatedErr is written only by the
// dependencies task and read after every task finished.
func (e *Engine) tasks(h *models.History, out *report.Results, relatedErr *error) []task {
	var tasks []task
	for _, k := range e.kinds {
		switch k {
		case report.KindCoChange:
			tasks = append(tasks, task{k, func() error {
				out.CoChange = e.cochange.Analyze(h)
				return nil
			}})
		case report.KindOwnership:
			tasks = append(tasks, task{k, func() error {
				out.Ownership = e.owners.Calculate(h)
				return nil
			}})
		case report.KindDependencies:
			tasks = append(tasks, task{k, func() error {
				g := e.deps.Build(h)
				out.Dependencies = g.Report(e.deps.Options())
				if e.opts.Related == nil {
					return nil
				}
				related, err := g.Related(*e.opts.Related)
				if err != nil {
					e.logger.Warn("related commits skipped", "root", e.opts.Related.Root, "error", err)
					*relatedErr = err
					return nil
				}
				out.Related = related
				return nil
			}})
		case report.KindActivity:
			tasks = append(tasks, task{k, func() error {
				out.Activity = e.activity.Analyze(h)
				return nil
			}})
		case report.KindChurn:
			tasks = append(tasks, task{k, func() error {
				out.Churn = e.churn.Analyze(h)
				return nil
			}})
		}
	}
	return tasks
}

// configEcho returns only the options of the analyzers that run
func (e *Engine) configEcho() map[string]any {
	echo := make(map[string]any, len(e.kinds))
	for _, k := range e.kinds {
		switch k {
		case report.KindCoChange:
			echo[string(k)] = e.opts.CoChange
		case report.KindOwnership:
			echo[string(k)] = e.opts.Ownership
		case report.KindDependencies:
			echo[string(k)] = e.opts.Dependencies
			if e.opts.Related != nil {
				echo["related"] = e.opts.Related
			}
		case report.KindActivity:
			echo[string(k)] = e.opts.Activity
		case report.KindChurn:
			echo[string(k)] = e.opts.Churn
		}
	}
	return echo
}
