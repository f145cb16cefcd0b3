package output

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles used by commands.
type Styles struct {
	Header1 lipgloss.Style
	Header2 lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	ID      lipgloss.Style
	Path    lipgloss.Style

	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style

	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusRunning lipgloss.Style
	StatusSkipped lipgloss.Style
}

var (
	colorGreen  = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	colorRed    = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	colorYellow = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
	colorBlue   = lipgloss.AdaptiveColor{Light: "#0969DA", Dark: "#58A6FF"}
	colorGray   = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}
)

func newStyles(lr *lipgloss.Renderer) *Styles {
	return &Styles{
		Header1: lr.NewStyle().Bold(true).Foreground(colorBlue).Underline(true),
		Header2: lr.NewStyle().Bold(true).Foreground(colorBlue),
		Bold:    lr.NewStyle().Bold(true),
		Muted:   lr.NewStyle().Foreground(colorGray),
		ID:      lr.NewStyle().Foreground(colorYellow),
		Path:    lr.NewStyle().Foreground(colorBlue),

		Success: lr.NewStyle().Foreground(colorGreen),
		Warning: lr.NewStyle().Foreground(colorYellow),
		Error:   lr.NewStyle().Foreground(colorRed),
		Info:    lr.NewStyle().Foreground(colorBlue),

		StatusSuccess: lr.NewStyle().Foreground(colorGreen).SetString("✓"),
		StatusFailed:  lr.NewStyle().Foreground(colorRed).SetString("✗"),
		StatusRunning: lr.NewStyle().Foreground(colorYellow).SetString("•"),
		StatusSkipped: lr.NewStyle().Foreground(colorGray).SetString("-"),
	}
}
