// Package theme holds the lipgloss styles shared by the terminal UI.
package theme

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Colors is the palette a theme is built from.
type Colors struct {
	Green     lipgloss.TerminalColor
	Yellow    lipgloss.TerminalColor
	Red       lipgloss.TerminalColor
	Cyan      lipgloss.TerminalColor
	LightText lipgloss.TerminalColor
	MutedText lipgloss.TerminalColor
	Border    lipgloss.TerminalColor
	Selected  lipgloss.TerminalColor
}

// Theme holds the pre-configured styles.
type Theme struct {
	Colors Colors

	Title       lipgloss.Style
	Muted       lipgloss.Style
	Error       lipgloss.Style
	Box         lipgloss.Style
	TableHeader lipgloss.Style
	SelectedRow lipgloss.Style
}

var palettes = map[string]Colors{
	"kanagawa": {
		Green:     lipgloss.Color("#98BB6C"),
		Yellow:    lipgloss.Color("#FF9E3B"),
		Red:       lipgloss.Color("#FF5D62"),
		Cyan:      lipgloss.Color("#7E9CD8"),
		LightText: lipgloss.Color("#DCD7BA"),
		MutedText: lipgloss.Color("#727169"),
		Border:    lipgloss.Color("#363646"),
		Selected:  lipgloss.Color("#223249"),
	},
	"gruvbox": {
		Green:     lipgloss.Color("#B8BB26"),
		Yellow:    lipgloss.Color("#FABD2F"),
		Red:       lipgloss.Color("#FB4934"),
		Cyan:      lipgloss.Color("#83A598"),
		LightText: lipgloss.Color("#EBDBB2"),
		MutedText: lipgloss.Color("#BDAE93"),
		Border:    lipgloss.Color("#504945"),
		Selected:  lipgloss.Color("#32302F"),
	},
	"terminal": {
		Green:     lipgloss.Color("2"),
		Yellow:    lipgloss.Color("3"),
		Red:       lipgloss.Color("1"),
		Cyan:      lipgloss.Color("6"),
		LightText: lipgloss.Color("7"),
		MutedText: lipgloss.Color("8"),
		Border:    lipgloss.Color("8"),
		Selected:  lipgloss.Color("0"),
	},
}

// DefaultTheme is built from VIRTSESSION_THEME, falling back to kanagawa.
var DefaultTheme = New(os.Getenv("VIRTSESSION_THEME"))

// New builds the named theme. Unknown names get kanagawa.
func New(name string) *Theme {
	colors, ok := palettes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		colors = palettes["kanagawa"]
	}
	return &Theme{
		Colors: colors,
		Title:  lipgloss.NewStyle().Bold(true).Foreground(colors.Cyan).MarginBottom(1),
		Muted:  lipgloss.NewStyle().Foreground(colors.MutedText),
		Error:  lipgloss.NewStyle().Bold(true).Foreground(colors.Red),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colors.Border).
			Padding(0, 1),
		TableHeader: lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.LightText).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(colors.Border).
			BorderBottom(true),
		SelectedRow: lipgloss.NewStyle().
			Bold(true).
			Foreground(colors.LightText).
			Background(colors.Selected),
	}
}

// StateStyle colors a connection or entity state.
func (t *Theme) StateStyle(state string) lipgloss.Style {
	switch state {
	case "active", "running":
		return lipgloss.NewStyle().Foreground(t.Colors.Green)
	case "connecting", "paused":
		return lipgloss.NewStyle().Foreground(t.Colors.Yellow)
	case "error", "crashed":
		return lipgloss.NewStyle().Foreground(t.Colors.Red)
	}
	return t.Muted
}
