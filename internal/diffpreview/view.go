package diffpreview

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// EmptyView is shown when there is no stored preview to display.
const EmptyView = "No recent changes"

// LineStyle classifies a rendered preview line for display.
type LineStyle int

const (
	Context LineStyle = iota
	Addition
	Removal
)

func (s LineStyle) String() string {
	switch s {
	case Addition:
		return "addition"
	case Removal:
		return "removal"
	default:
		return "context"
	}
}

// ViewLine is one display line of an already rendered preview.
type ViewLine struct {
	Text  string    `json:"text"`
	Style LineStyle `json:"-"`
	Kind  string    `json:"kind"`
}

var (
	additionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	removalStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("197"))
	contextStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
)

// View splits a stored preview into its last MaxRecords lines and classifies
// them by their leading character. The preview is never diffed again.
func View(preview string) []ViewLine {
	if preview == "" {
		return nil
	}

	lines := strings.Split(preview, "\n")
	if len(lines) > MaxRecords {
		lines = lines[len(lines)-MaxRecords:]
	}

	view := make([]ViewLine, 0, len(lines))
	for _, line := range lines {
		style := Context
		switch {
		case strings.HasPrefix(line, "+"):
			style = Addition
		case strings.HasPrefix(line, "-"):
			style = Removal
		}
		view = append(view, ViewLine{Text: line, Style: style, Kind: style.String()})
	}

	return view
}

// Colorize renders view lines for a terminal.
func Colorize(lines []ViewLine) string {
	if len(lines) == 0 {
		return contextStyle.Render(EmptyView)
	}

	rendered := make([]string, 0, len(lines)+1)
	rendered = append(rendered, headerStyle.Render("Recent Code Changes"))
	for _, line := range lines {
		switch line.Style {
		case Addition:
			rendered = append(rendered, additionStyle.Render(line.Text))
		case Removal:
			rendered = append(rendered, removalStyle.Render(line.Text))
		default:
			rendered = append(rendered, contextStyle.Render(line.Text))
		}
	}

	return strings.Join(rendered, "\n")
}
