package credentials

import "github.com/charmbracelet/lipgloss"

// promptTheme groups the styles of the connection prompt. Each side has
// its own accent colour for the title, prompt and frame.
type promptTheme struct {
	title   lipgloss.Style
	prompt  lipgloss.Style
	failure lipgloss.Style
	busy    lipgloss.Style
	hint    lipgloss.Style
	frame   lipgloss.Style
}

func newPromptTheme(accent lipgloss.Color) promptTheme {
	bold := lipgloss.NewStyle().Bold(true)
	return promptTheme{
		title:   bold.Foreground(accent).MarginBottom(1),
		prompt:  bold.Foreground(accent),
		failure: bold.Foreground(lipgloss.Color("#FF4141")),
		busy:    bold.Foreground(lipgloss.Color("#04B575")),
		hint:    lipgloss.NewStyle().Foreground(lipgloss.Color("#9e9e9e")),
		frame:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(0, 1),
	}
}

var (
	sourceTheme      = newPromptTheme(lipgloss.Color("#336791"))
	destinationTheme = newPromptTheme(lipgloss.Color("#7D56F4"))
)

func themeFor(side Side) promptTheme {
	if side == Source {
		return sourceTheme
	}
	return destinationTheme
}
