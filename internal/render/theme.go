package render

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

type Theme struct {
	UserLabel     lipgloss.Style
	UserContent   lipgloss.Style
	AssistantCard lipgloss.Style
	AssistantHead lipgloss.Style
	Source        lipgloss.Style
	Error         lipgloss.Style
	Status        lipgloss.Style
	Timestamp     lipgloss.Style
}

// ThemeFor builds the default styles against w, so color support is
// detected on the writer actually used.
func ThemeFor(w io.Writer) Theme {
	return newTheme(lipgloss.NewRenderer(w))
}

func newTheme(r *lipgloss.Renderer) Theme {
	return Theme{
		UserLabel: r.NewStyle().
			Foreground(lipgloss.Color("39")). // Blue
			Bold(true).
			MarginLeft(2),

		UserContent: r.NewStyle().
			Foreground(lipgloss.Color("252")), // Light gray

		AssistantCard: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("13")).
			Padding(0, 1).
			MarginLeft(2),

		AssistantHead: r.NewStyle().
			Foreground(lipgloss.Color("13")). // Magenta
			Bold(true),

		Source: r.NewStyle().
			Foreground(lipgloss.Color("6")). // Cyan
			Underline(true),

		Error: r.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true).
			MarginLeft(2),

		Status: r.NewStyle().
			Foreground(lipgloss.Color("241")). // Gray
			Italic(true).
			MarginLeft(2),

		Timestamp: r.NewStyle().
			Foreground(lipgloss.Color("241")),
	}
}
