package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme bundles palette + symbols + box borders.
type Theme struct {
	Title, Muted, Accent, Success, Error, Pending lipgloss.Style
	Selected, Done                                lipgloss.Style

	BoxUnchecked, BoxChecked string
	SymDone, SymPending      string
	Border                   lipgloss.Border
}

var asciiBorder = lipgloss.Border{
	Top: "-", Bottom: "-", Left: "|", Right: "|",
	TopLeft: "+", TopRight: "+", BottomLeft: "+", BottomRight: "+",
}

// NewTheme builds the named theme (classic, neon, mono) on r.
// Unknown names fall back to classic.
func NewTheme(r *lipgloss.Renderer, name string) Theme {
	base := r.NewStyle()
	switch strings.ToLower(name) {
	case "neon":
		return Theme{
			Title:        base.Foreground(lipgloss.Color("13")).Bold(true),
			Muted:        base.Foreground(lipgloss.Color("8")),
			Accent:       base.Foreground(lipgloss.Color("14")),
			Success:      base.Foreground(lipgloss.Color("10")),
			Error:        base.Foreground(lipgloss.Color("9")).Bold(true),
			Pending:      base.Foreground(lipgloss.Color("11")),
			Selected:     base.Foreground(lipgloss.Color("13")).Bold(true),
			Done:         base.Faint(true).Strikethrough(true),
			BoxUnchecked: "◻", BoxChecked: "◼",
			SymDone: "✔", SymPending: "•",
			Border: lipgloss.RoundedBorder(),
		}
	case "mono":
		return Theme{
			Title:        base.Bold(true),
			Muted:        base,
			Accent:       base,
			Success:      base,
			Error:        base.Bold(true),
			Pending:      base,
			Selected:     base.Reverse(true),
			Done:         base,
			BoxUnchecked: "[ ]", BoxChecked: "[x]",
			SymDone: "x", SymPending: "-",
			Border: asciiBorder,
		}
	default: // classic
		return Theme{
			Title:        base.Bold(true),
			Muted:        base.Faint(true),
			Accent:       base.Foreground(lipgloss.Color("12")),
			Success:      base.Foreground(lipgloss.Color("42")),
			Error:        base.Foreground(lipgloss.Color("9")).Bold(true),
			Pending:      base.Foreground(lipgloss.Color("214")),
			Selected:     base.Bold(true).Reverse(true),
			Done:         base.Faint(true).Strikethrough(true),
			BoxUnchecked: "☐", BoxChecked: "☑",
			SymDone: "✔", SymPending: "•",
			Border: lipgloss.RoundedBorder(),
		}
	}
}

// TerminalTheme builds a theme for the full-screen view, which renders
// through lipgloss' default renderer.
func TerminalTheme(name, color string) Theme {
	r := lipgloss.DefaultRenderer()
	setColor(r, color)
	return NewTheme(r, name)
}

// setColor applies "always" or "never"; "auto" keeps what termenv detected.
func setColor(r *lipgloss.Renderer, color string) {
	switch color {
	case "never":
		r.SetColorProfile(termenv.Ascii)
	case "always":
		r.SetColorProfile(termenv.ANSI256)
	}
}
