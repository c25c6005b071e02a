package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Printer renders non-interactive output.
type Printer struct {
	out, err io.Writer
	r        *lipgloss.Renderer
	theme    Theme
}

// NewPrinter picks the color profile from color: "always", "never", or
// "auto" to let termenv inspect out.
func NewPrinter(out, errw io.Writer, theme, color string) *Printer {
	r := lipgloss.NewRenderer(out)
	setColor(r, color)
	return &Printer{out: out, err: errw, r: r, theme: NewTheme(r, theme)}
}

func (p *Printer) Theme() Theme { return p.theme }

func (p *Printer) OK(msg string) {
	fmt.Fprintln(p.out, p.theme.Success.Render(p.theme.SymDone+" "+msg))
}

func (p *Printer) Fail(msg string) {
	fmt.Fprintln(p.err, p.theme.Error.Render("✖ "+msg))
}

func (p *Printer) Println(s string) { fmt.Fprintln(p.out, s) }

// Panel draws a framed box around lines.
func (p *Printer) Panel(lines []string) {
	box := p.r.NewStyle().
		Border(p.theme.Border).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1)
	fmt.Fprintln(p.out, box.Render(strings.Join(lines, "\n")))
}

// ProgressBar renders a Unicode progress bar with percentage.
func ProgressBar(done, total, width int) string {
	if total <= 0 {
		total = 1
	}
	if width < 5 {
		width = 5
	}
	filled := int(float64(done) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	pct := int(float64(done) / float64(total) * 100)
	return fmt.Sprintf("%s %3d%%", bar, pct)
}
