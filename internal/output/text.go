package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/rohankatakam/gitpulse/internal/graph"
	"github.com/rohankatakam/gitpulse/internal/metrics"
	"github.com/rohankatakam/gitpulse/internal/ownership"
	"github.com/rohankatakam/gitpulse/internal/report"
	"github.com/rohankatakam/gitpulse/internal/temporal"
)

const (
	defaultWidth = 80
	shortIDLen   = 10
)

// TextFormatter renders a human-readable report. Zero-count activity rows
// are shown; the histogram is dense.
type TextFormatter struct {
	// Width overrides terminal detection
	Width int
	// MaxRows caps table rows per section; 0 shows everything
	MaxRows int
}

type textStyles struct {
	title   lipgloss.Style
	section lipgloss.Style
	dim     lipgloss.Style
	warn    lipgloss.Style
	hot     lipgloss.Style
	bar     lipgloss.Style
}

func newTextStyles(w io.Writer) textStyles {
	r := lipgloss.NewRenderer(w)
	return textStyles{
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		section: r.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("241")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("220")),
		hot:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		bar:     r.NewStyle().Foreground(lipgloss.Color("42")),
	}
}

type textWriter struct {
	w     io.Writer
	s     textStyles
	width int
	max   int
	err   error
}

func (t *textWriter) printf(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format, args...)
}

func (t *textWriter) heading(title string) {
	t.printf("\n%s\n", t.s.section.Render(title))
}

// rows returns how many of n rows to print
func (t *textWriter) rows(n int) int {
	if t.max > 0 && n > t.max {
		return t.max
	}
	return n
}

func (t *textWriter) more(shown, total int) {
	if total > shown {
		t.printf("%s\n", t.s.dim.Render(fmt.Sprintf("  … %d more", total-shown)))
	}
}

func (f *TextFormatter) Format(env *report.Envelope, w io.Writer) error {
	t := &textWriter{w: w, s: newTextStyles(w), width: f.width(w), max: f.MaxRows}

	t.printf("%s\n", t.s.title.Render("gitpulse report"))
	t.printf("%s\n", t.s.dim.Render(fmt.Sprintf("run %s · schema %s · generated %s",
		env.RunID, env.SchemaVersion, env.GeneratedAt.Format(time.RFC3339))))
	t.printf("Commits analyzed: %s", humanize.Comma(int64(env.CommitsProcessed)))
	if env.Diagnostics.Earliest != nil && env.Diagnostics.Latest != nil {
		t.printf(" (%s → %s)", env.Diagnostics.Earliest.Format("2006-01-02"), env.Diagnostics.Latest.Format("2006-01-02"))
	}
	t.printf("\n")
	if env.Diagnostics.Source != "" {
		t.printf("Source: %s\n", env.Diagnostics.Source)
	}
	if env.Truncated {
		t.printf("%s\n", t.s.warn.Render("TRUNCATED: results cover only the commits read before the source failed"))
	}
	for _, n := range env.Notes {
		t.printf("%s\n", t.s.warn.Render(fmt.Sprintf("! %s: %s", n.Kind, n.Message)))
	}

	r := env.Results
	if r.CoChange != nil {
		t.coChange(r.CoChange)
	}
	if r.Ownership != nil {
		t.ownership(r.Ownership)
	}
	if r.Dependencies != nil {
		t.dependencies(r.Dependencies)
	}
	if r.Related != nil {
		t.related(r.Related)
	}
	if r.Activity != nil {
		t.activity(r.Activity)
	}
	if r.Churn != nil {
		t.churn(r.Churn)
	}
	return t.err
}

func (f *TextFormatter) width(w io.Writer) int {
	if f.Width > 0 {
		return f.Width
	}
	if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		if cols, _, err := term.GetSize(int(file.Fd())); err == nil && cols > 20 {
			return cols
		}
	}
	return defaultWidth
}

func (t *textWriter) coChange(r *metrics.CoChangeReport) {
	t.heading("Co-change")
	t.printf("%s\n", t.s.dim.Render(fmt.Sprintf("%d files · %d commits considered · %d candidate pairs · %d reported",
		r.FilesAnalyzed, r.CommitsConsidered, r.CandidatePairs, r.TotalPairs)))
	if len(r.Pairs) == 0 {
		t.printf("  no file pairs above the threshold\n")
		return
	}
	n := t.rows(len(r.Pairs))
	t.printf("  %-6s %-9s %5s  %s\n", "SCORE", "STRENGTH", "BOTH", "FILES")
	for _, p := range r.Pairs[:n] {
		t.printf("  %-6.2f %-9s %5d  %s ⇄ %s\n", p.Score, p.Strength, p.CoOccurrences, p.FileA, p.FileB)
	}
	t.more(n, r.TotalPairs)
}

// CoChangePartners renders the partner list of one file
func CoChangePartners(w io.Writer, file string, partners []metrics.CoChangePartner) error {
	t := &textWriter{w: w, s: newTextStyles(w)}
	t.heading("Files that change with " + file)
	if len(partners) == 0 {
		t.printf("  none above the threshold\n")
	}
	for _, p := range partners {
		t.printf("  %-6.2f %-9s %5d  %s\n", p.Score, p.Strength, p.CoOccurrences, p.FilePath)
	}
	return t.err
}

func (t *textWriter) ownership(r *ownership.Report) {
	t.heading("Ownership")
	t.printf("%s\n", t.s.dim.Render(fmt.Sprintf("half-life %g days · reference %s · %d renames followed",
		r.HalfLifeDays, r.Now.Format("2006-01-02"), r.RenamesFollowed)))

	n := t.rows(len(r.Files))
	for _, f := range r.Files[:n] {
		t.printf("  %s\n", f.Path)
		for _, o := range f.Owners {
			stale := ""
			if o.Stale {
				stale = t.s.warn.Render(" stale")
			}
			t.printf("    %5.1f%%  %-10s %-28s %3d commits  last %s%s\n",
				o.Share*100, o.Classification, truncate(o.Name, 28), o.CommitCount,
				humanize.RelTime(o.LastCommitAt, r.Now, "ago", "later"), stale)
		}
	}
	t.more(n, len(r.Files))

	if e := r.Expertise; e != nil {
		t.heading("Expertise of " + e.Query)
		if len(e.Files) == 0 {
			t.printf("  no files found for this author\n")
		}
		for _, f := range e.Files[:t.rows(len(e.Files))] {
			t.printf("  %3d commits  %5.1f%%  %-10s %s\n", f.CommitCount, f.Share*100, f.Classification, f.Path)
		}
	}
}

func (t *textWriter) dependencies(r *graph.DependencyReport) {
	t.heading("Dependency graph")
	t.printf("%s\n", t.s.dim.Render(fmt.Sprintf("%d commits · %d edges · %d clusters · weight %s · cluster threshold %g",
		len(r.Nodes), len(r.Edges), len(r.Clusters), r.Dampening, r.ClusterWeightThreshold)))

	n := t.rows(len(r.Clusters))
	for i, c := range r.Clusters[:n] {
		ids := make([]string, 0, len(c.Members))
		for _, m := range c.Members[:min(len(c.Members), 6)] {
			ids = append(ids, shortID(m))
		}
		if len(c.Members) > 6 {
			ids = append(ids, fmt.Sprintf("+%d", len(c.Members)-6))
		}
		t.printf("  #%-3d %3d commits  %3d edges  weight %6.2f  %s\n",
			i+1, c.Size, c.InternalEdges, c.TotalWeight, strings.Join(ids, " "))
		if len(c.RepresentativeFiles) > 0 {
			t.printf("       %s\n", t.s.dim.Render(strings.Join(c.RepresentativeFiles, ", ")))
		}
	}
	t.more(n, len(r.Clusters))
}

func (t *textWriter) related(r *graph.RelatedReport) {
	t.heading(fmt.Sprintf("Related to %s %s", shortID(r.Root.ID), r.Root.Subject))
	if len(r.Related) == 0 {
		t.printf("  no related commits\n")
		return
	}
	for _, c := range r.Related {
		t.printf("  %s%s  weight %5.2f  %s\n", strings.Repeat("  ", c.Depth-1), shortID(c.ID), c.Weight, c.Subject)
		t.printf("  %s%s\n", strings.Repeat("  ", c.Depth-1), t.s.dim.Render(strings.Join(c.SharedFiles, ", ")))
	}
}

func (t *textWriter) activity(r *temporal.ActivityReport) {
	t.heading(fmt.Sprintf("Activity by %s (%s)", r.Granularity, r.Timezone))
	t.histogram(r.Buckets)
	for _, a := range r.Authors[:t.rows(len(r.Authors))] {
		t.printf("\n  %s (%d commits)\n", a.Name, a.Total)
		t.histogram(a.Buckets)
	}
	for _, o := range r.Observations {
		t.printf("  • %s\n", o.Message)
	}
}

func (t *textWriter) histogram(buckets []temporal.ActivityBucket) {
	peak, labelWidth := 0, 0
	for _, b := range buckets {
		peak = max(peak, b.Count)
		labelWidth = max(labelWidth, len(b.Label))
	}
	barWidth := t.width - labelWidth - 14
	if barWidth < 10 {
		barWidth = 10
	}
	for _, b := range buckets {
		bar := ""
		if peak > 0 {
			bar = strings.Repeat("█", b.Count*barWidth/peak)
		}
		t.printf("  %-*s │%s %d\n", labelWidth, b.Label, t.s.bar.Render(bar), b.Count)
	}
}

func (t *textWriter) churn(r *temporal.ChurnReport) {
	t.heading("Churn")
	t.printf("%s\n", t.s.dim.Render(fmt.Sprintf("%d files · mean %.1f lines · stddev %.1f · hotspot above %.1f (k=%g)",
		r.TotalFiles, r.Mean, r.StdDev, r.Threshold, r.OutlierK)))
	if len(r.Files) == 0 {
		t.printf("  no file changes\n")
		return
	}
	n := t.rows(len(r.Files))
	t.printf("  %7s %9s %15s %7s  %-14s %s\n", "CHANGES", "LINES", "+/-", "AUTHORS", "LAST", "FILE")
	for _, f := range r.Files[:n] {
		path := f.Path
		if f.Hotspot {
			path = t.s.hot.Render(path + " 🔥")
		}
		t.printf("  %7d %9s %15s %7d  %-14s %s\n",
			f.TotalChanges, humanize.Comma(int64(f.TotalLinesChanged)),
			fmt.Sprintf("+%d/-%d", f.Insertions, f.Deletions), f.UniqueAuthors,
			humanize.RelTime(f.LastChangedAt, r.Now, "ago", "later"), path)
	}
	t.more(n, r.TotalFiles)
	if len(r.Hotspots) > 0 {
		t.printf("  Hotspots: %s\n", strings.Join(r.Hotspots, ", "))
	}
}

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
