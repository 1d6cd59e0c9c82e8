// Package output renders verdicts and ledger analysis for the terminal, as
// indented JSON or as styled text.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/consensus"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/scoring"
	"github.com/Dicoangelo/meta-vengine-sub001/internal/state"
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

const defaultWidth = 80

// Options configures a Renderer.
type Options struct {
	Format Format
	Color  string // auto, always, never
	Width  int    // 0 detects the terminal width
}

// Renderer writes verdicts to w.
type Renderer struct {
	w      io.Writer
	format Format
	width  int
	styles styles
}

type styles struct {
	label   lipgloss.Style
	heading lipgloss.Style
	faint   lipgloss.Style
	dissent lipgloss.Style
	outcome map[string]lipgloss.Style
}

// New creates a renderer. Color is disabled for non-terminal writers unless
// Color is "always".
func New(w io.Writer, opts Options) *Renderer {
	if opts.Format == "" {
		opts.Format = FormatText
	}

	lr := lipgloss.NewRenderer(w)
	switch opts.Color {
	case ColorNever:
		lr.SetColorProfile(termenv.Ascii)
	case ColorAlways:
		lr.SetColorProfile(termenv.ANSI256)
	default:
		if !IsTerminal(w) {
			lr.SetColorProfile(termenv.Ascii)
		}
	}

	width := opts.Width
	if width <= 0 {
		width = terminalWidth(w)
	}

	return &Renderer{
		w:      w,
		format: opts.Format,
		width:  width,
		styles: newStyles(lr),
	}
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		label:   r.NewStyle().Bold(true),
		heading: r.NewStyle().Bold(true).Underline(true),
		faint:   r.NewStyle().Faint(true),
		dissent: r.NewStyle().Foreground(lipgloss.Color("214")).Italic(true),
		outcome: map[string]lipgloss.Style{
			consensus.OutcomeSuccess:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
			consensus.OutcomePartial:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("220")),
			consensus.OutcomeError:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
			consensus.OutcomeAbandoned: r.NewStyle().Bold(true).Foreground(lipgloss.Color("244")),
		},
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok && IsTerminal(w) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return defaultWidth
}

// Format returns the renderer's output format.
func (r *Renderer) Format() Format {
	return r.format
}

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v interface{}) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *Renderer) outcomeLabel(outcome string) string {
	style, ok := r.styles.outcome[outcome]
	if !ok {
		style = r.styles.faint
	}
	return style.Render(strings.ToUpper(outcome))
}

// Verdict writes one verdict.
func (r *Renderer) Verdict(v *consensus.Verdict) error {
	if r.format == FormatJSON {
		return r.JSON(v)
	}

	res := v.Result
	var b strings.Builder

	title := v.Session
	if v.Project != "" {
		title += r.styles.faint.Render(" (" + v.Project + ")")
	}
	fmt.Fprintf(&b, "%s %s\n", r.styles.label.Render("Session"), title)
	fmt.Fprintf(&b, "%s %s   %s %d/5   %s %.2f\n",
		r.styles.label.Render("Outcome"), r.outcomeLabel(res.Outcome),
		r.styles.label.Render("Quality"), res.Quality,
		r.styles.label.Render("Confidence"), res.Confidence)
	fmt.Fprintf(&b, "%s %.3f   %s %.2f   %s %.2f -> %s\n",
		r.styles.label.Render("DQ"), res.DQScore,
		r.styles.label.Render("Complexity"), res.Complexity,
		r.styles.label.Render("Efficiency"), res.ModelEfficiency, res.OptimalModel)

	if len(res.AgentContributions) > 0 {
		b.WriteString("\n" + r.styles.heading.Render("Agents") + "\n")
		t := NewTable(&b, "AGENT", "DQ", "CONF", "WEIGHT")
		for _, kind := range consensus.AgentKinds() {
			w, ok := res.AgentContributions[kind]
			if !ok {
				continue
			}
			t.AddRow(string(kind), fmt.Sprintf("%.3f", w.DQ), fmt.Sprintf("%.2f", w.Confidence), fmt.Sprintf("%.3f", w.Weight))
		}
		if err := t.Render(); err != nil {
			return err
		}
	}

	if res.MinorityOpinion != nil {
		b.WriteString("\n" + r.styles.heading.Render("Minority opinion") + "\n")
		b.WriteString(r.styles.dissent.Render(r.wrap(*res.MinorityOpinion, 2)) + "\n")
	}

	if len(res.AssumptionRisks) > 0 {
		b.WriteString("\n" + r.styles.heading.Render("Assumption risks") + "\n")
		for _, risk := range res.AssumptionRisks {
			b.WriteString(r.wrapBullet(risk) + "\n")
		}
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

// Blank writes an empty line.
func (r *Renderer) Blank() error {
	_, err := fmt.Fprintln(r.w)
	return err
}

// wrap word-wraps s to the renderer width and indents it by n spaces.
func (r *Renderer) wrap(s string, n int) string {
	limit := r.width - n
	if limit < 20 {
		limit = 20
	}
	return indent.String(wordwrap.String(s, limit), uint(n))
}

func (r *Renderer) wrapBullet(s string) string {
	wrapped := r.wrap(s, 4)
	return "  -" + strings.TrimPrefix(wrapped, "   ")
}

// Verdicts writes a list of verdicts, one row each.
func (r *Renderer) Verdicts(verdicts []*consensus.Verdict) error {
	if r.format == FormatJSON {
		if verdicts == nil {
			verdicts = []*consensus.Verdict{}
		}
		return r.JSON(verdicts)
	}
	if len(verdicts) == 0 {
		_, err := fmt.Fprintln(r.w, r.styles.faint.Render("No verdicts recorded."))
		return err
	}

	t := NewTable(r.w, "TIME", "SESSION", "OUTCOME", "Q", "DQ", "CONF", "MODEL", "DISSENT").MaxCellWidth(32)
	for _, v := range verdicts {
		dissent := ""
		if v.Result.MinorityOpinion != nil {
			dissent = "yes"
		}
		t.AddRow(
			v.Timestamp.Local().Format(time.DateTime),
			v.Session,
			v.Result.Outcome,
			fmt.Sprintf("%d", v.Result.Quality),
			fmt.Sprintf("%.3f", v.Result.DQScore),
			fmt.Sprintf("%.2f", v.Result.Confidence),
			v.Result.OptimalModel,
			dissent,
		)
	}
	if err := t.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(r.w, r.styles.faint.Render(CountStr(len(verdicts), "verdict", "verdicts")))
	return err
}

// Records writes stored verdicts.
func (r *Renderer) Records(records []*state.Record) error {
	if r.format == FormatJSON {
		if records == nil {
			records = []*state.Record{}
		}
		return r.JSON(records)
	}
	verdicts := make([]*consensus.Verdict, 0, len(records))
	for _, rec := range records {
		verdicts = append(verdicts, rec.Verdict)
	}
	return r.Verdicts(verdicts)
}

// Trend writes a DQ trend analysis.
func (r *Renderer) Trend(t *scoring.TrendAnalysis, windowDays int) error {
	if r.format == FormatJSON {
		return r.JSON(t)
	}
	if t.Trend == scoring.TrendUnknown {
		_, err := fmt.Fprintf(r.w, "Not enough verdicts for a trend: %s in the last %d days (need %d).\n",
			CountStr(t.SampleCount, "sample", "samples"), windowDays, scoring.MinSamplesForTrend)
		return err
	}

	arrow := map[scoring.Trend]string{
		scoring.TrendImproving: "↑",
		scoring.TrendDeclining: "↓",
		scoring.TrendStable:    "→",
	}[t.Trend]

	_, err := fmt.Fprintf(r.w, "%s %s %s over %d days (%s)\n  avg %.3f  earlier %.3f  recent %.3f  change %+.1f%%  stddev %.3f\n",
		r.styles.label.Render("DQ trend"), arrow, t.Trend, windowDays,
		CountStr(t.SampleCount, "verdict", "verdicts"),
		t.AvgScore, t.EarlierAvg, t.RecentAvg, t.ChangePercent, t.StdDev)
	return err
}

// OutcomeSummaries writes per-outcome aggregates.
func (r *Renderer) OutcomeSummaries(summaries []*scoring.OutcomeSummary) error {
	if r.format == FormatJSON {
		if summaries == nil {
			summaries = []*scoring.OutcomeSummary{}
		}
		return r.JSON(summaries)
	}
	t := NewTable(r.w, "OUTCOME", "COUNT", "SHARE", "AVG Q", "AVG DQ", "AVG CONF", "DISSENT")
	for _, s := range summaries {
		t.AddRow(s.Outcome, fmt.Sprintf("%d", s.Count), fmt.Sprintf("%.0f%%", s.Share*100),
			fmt.Sprintf("%.2f", s.AvgQuality), fmt.Sprintf("%.3f", s.AvgDQScore),
			fmt.Sprintf("%.2f", s.AvgConfidence), fmt.Sprintf("%d", s.Dissented))
	}
	return t.Render()
}

// ModelSummaries writes per-model routing aggregates.
func (r *Renderer) ModelSummaries(summaries []*scoring.ModelSummary) error {
	if r.format == FormatJSON {
		if summaries == nil {
			summaries = []*scoring.ModelSummary{}
		}
		return r.JSON(summaries)
	}
	t := NewTable(r.w, "MODEL", "COUNT", "AVG EFFICIENCY", "AVG COMPLEXITY", "SUCCESS")
	for _, s := range summaries {
		t.AddRow(s.Model, fmt.Sprintf("%d", s.Count), fmt.Sprintf("%.2f", s.AvgEfficiency),
			fmt.Sprintf("%.2f", s.AvgComplexity), fmt.Sprintf("%.0f%%", s.SuccessRate*100))
	}
	return t.Render()
}
