package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for section headers in command output.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// LabelStyle renders the left column of key/value rows.
var LabelStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Width(18)

// ValueStyle renders the right column of key/value rows.
var ValueStyle = lipgloss.NewStyle().
	Bold(true)

// BorderStyle provides a standard rounded border for panels.
var BorderStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder).
	Padding(0, 1)

// HelpStyle is used for hints and secondary text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// ErrorStyle highlights failures.
var ErrorStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorRed)

// RunStyle returns a color-coded style for a sync run outcome.
func RunStyle(succeeded bool) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	if succeeded {
		return base.Foreground(ColorGreen)
	}
	return base.Foreground(ColorRed)
}

// ImportanceStyle returns a color-coded style for a message importance.
func ImportanceStyle(importance string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch importance {
	case "high":
		return base.Foreground(ColorRed)
	case "low":
		return base.Foreground(ColorGray)
	default:
		return base.Foreground(ColorBlue)
	}
}

// TriggerStyle returns a color-coded style for what started a sync run.
func TriggerStyle(trigger string) lipgloss.Style {
	base := lipgloss.NewStyle().Padding(0, 1)

	switch trigger {
	case "scheduled":
		return base.Foreground(ColorBlue)
	case "warmup":
		return base.Foreground(ColorYellow)
	case "manual":
		return base.Foreground(ColorMagenta)
	default:
		return base.Foreground(ColorGray)
	}
}
