package ui

import (
	"fmt"
	"io"
	"math"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/muesli/termenv"

	"metabench/internal/benchmark"
	"metabench/internal/telemetry"
)

const barWidth = 30

// ProgressRenderer formats the one-line loop status.
type ProgressRenderer struct {
	bar    progress.Model
	styles styles
}

// NewProgressRenderer returns a renderer for the given color profile.
// termenv.Ascii produces plain text.
func NewProgressRenderer(profile termenv.Profile) *ProgressRenderer {
	return &ProgressRenderer{
		bar: progress.New(
			progress.WithWidth(barWidth),
			progress.WithoutPercentage(),
			progress.WithFillCharacters('█', '░'),
			progress.WithSolidFill(colorBrand),
			progress.WithColorProfile(profile),
		),
		styles: newStyles(profile),
	}
}

// Render returns
//
//	[bar] run i/max | cases C | stable S (P%) | worst X% | pending U
//
// The bar fills in proportion to run/maxRuns, capped at full.
func (r *ProgressRenderer) Render(run, maxRuns int, s benchmark.Summary) string {
	ratio := 0.0
	if maxRuns > 0 {
		ratio = math.Min(1, float64(run)/float64(maxRuns))
	}
	// Whole cells only; the bar rounds, so snap down first.
	filled := math.Floor(barWidth*ratio) / barWidth

	stablePct := 0.0
	if s.Cases > 0 {
		stablePct = 100 * float64(s.Stable) / float64(s.Cases)
	}

	worst := r.styles.muted.Render("worst: n/a")
	if s.HasWorst {
		worst = r.styles.worst.Render(fmt.Sprintf("worst %.2f%%", math.Min(100, s.WorstRelCI*100)))
	}

	return fmt.Sprintf("[%s] %s %d/%d | cases %d | %s | %s | %s",
		r.bar.ViewAs(filled),
		r.styles.label.Render("run"), run, maxRuns,
		s.Cases,
		r.styles.stable.Render(fmt.Sprintf("stable %d (%.0f%%)", s.Stable, stablePct)),
		worst,
		r.styles.pending.Render(fmt.Sprintf("pending %d", s.Pending)),
	)
}

// RenderProgressLine renders the progress line without color.
func RenderProgressLine(run, maxRuns int, s benchmark.Summary) string {
	return NewProgressRenderer(termenv.Ascii).Render(run, maxRuns, s)
}

// LiveProgress redraws the progress line in place after every iteration.
// It is a benchmark.Observer.
type LiveProgress struct {
	out      io.Writer
	maxRuns  int
	enabled  bool
	renderer *ProgressRenderer
	drawn    bool
}

// NewLiveProgress draws to out only when enabled and out is a terminal.
func NewLiveProgress(out io.Writer, maxRuns int, enabled bool) *LiveProgress {
	enabled = enabled && telemetry.IsTerminal(out)
	profile := termenv.Ascii
	if enabled {
		profile = termenv.NewOutput(out).EnvColorProfile()
	}
	return newLiveProgress(out, maxRuns, enabled, profile)
}

func newLiveProgress(out io.Writer, maxRuns int, enabled bool, profile termenv.Profile) *LiveProgress {
	return &LiveProgress{
		out:      out,
		maxRuns:  maxRuns,
		enabled:  enabled,
		renderer: NewProgressRenderer(profile),
	}
}

// Enabled reports whether the line is drawn at all.
func (p *LiveProgress) Enabled() bool {
	return p.enabled
}

// ObserveIteration implements benchmark.Observer.
func (p *LiveProgress) ObserveIteration(rec benchmark.IterationRecord) {
	if !p.enabled {
		return
	}
	line := p.renderer.Render(rec.TotalRuns, p.maxRuns, benchmark.Summarize(rec.Stats))
	fmt.Fprint(p.out, "\r\x1b[2K"+line)
	p.drawn = true
}

// Finish terminates the live line so later output starts on a fresh line.
func (p *LiveProgress) Finish() {
	if p.drawn {
		fmt.Fprintln(p.out)
		p.drawn = false
	}
}
