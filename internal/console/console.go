// Package console renders CLI output.
package console

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme is the palette used for CLI output.
type Theme struct {
	Primary lipgloss.Color
	Accent  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("12"),  // Blue
		Accent:  lipgloss.Color("14"),  // Cyan
		Success: lipgloss.Color("10"),  // Green
		Warning: lipgloss.Color("11"),  // Yellow
		Error:   lipgloss.Color("9"),   // Red
		Muted:   lipgloss.Color("240"), // Gray
	}
}

// Printer writes styled lines to an output. Colors are dropped when the
// output is not a terminal.
type Printer struct {
	out io.Writer

	header  lipgloss.Style
	bold    lipgloss.Style
	accent  lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

func New(out io.Writer) *Printer {
	return NewWithTheme(out, DefaultTheme())
}

func NewWithTheme(out io.Writer, theme Theme) *Printer {
	r := lipgloss.NewRenderer(out)
	return &Printer{
		out:     out,
		header:  r.NewStyle().Bold(true).Foreground(theme.Primary),
		bold:    r.NewStyle().Bold(true),
		accent:  r.NewStyle().Foreground(theme.Accent),
		success: r.NewStyle().Foreground(theme.Success),
		warning: r.NewStyle().Foreground(theme.Warning),
		failure: r.NewStyle().Foreground(theme.Error),
		muted:   r.NewStyle().Foreground(theme.Muted),
	}
}

func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}

func (p *Printer) Printf(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// Header prints a title underlined with a rule.
func (p *Printer) Header(title string) {
	p.Println()
	p.Println(p.header.Render(title))
	p.Println(p.muted.Render(strings.Repeat("─", max(len(title), 20))))
}

func (p *Printer) Success(msg string) {
	p.Println(p.success.Render("✓ " + msg))
}

// Error prints a single red line.
func (p *Printer) Error(msg string) {
	p.Println(p.failure.Render("✗ " + msg))
}

// Info prints an indented label and value.
func (p *Printer) Info(label, value string) {
	p.Printf("  %s %s\n", p.muted.Render(label+":"), value)
}

func (p *Printer) Section(title string) {
	p.Println()
	p.Println(p.bold.Render(title))
}

// JSON pretty-prints v.
func (p *Printer) JSON(v any) error {
	if raw, ok := v.(json.RawMessage); ok {
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return fmt.Errorf("decoding json: %w", err)
		}
		v = decoded
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	p.Println(string(b))
	return nil
}

// Score renders a score out of ten, green at meeting level, yellow when
// decent and red below.
func (p *Printer) Score(score float64) string {
	text := fmt.Sprintf("%.1f/10", score)
	switch {
	case score >= 8.5:
		return p.success.Render(text)
	case score >= 7:
		return p.warning.Render(text)
	default:
		return p.failure.Render(text)
	}
}

// Status colors a call or number status.
func (p *Printer) Status(status string) string {
	switch status {
	case "active", "in-progress":
		return p.success.Render(status)
	case "ended":
		return p.muted.Render(status)
	default:
		return p.warning.Render(status)
	}
}

// Muted renders secondary text.
func (p *Printer) Muted(text string) string {
	return p.muted.Render(text)
}

func (p *Printer) YesNo(v bool) string {
	if v {
		return p.success.Render("YES")
	}
	return p.failure.Render("NO")
}
