// Package keymap defines the key bindings of the terminal UI.
package keymap

import "github.com/charmbracelet/bubbles/key"

// Base holds the standard bindings, vim style first.
type Base struct {
	Up      key.Binding
	Down    key.Binding
	Quit    key.Binding
	Help    key.Binding
	Refresh key.Binding
	Delete  key.Binding
	Run     key.Binding
	Pause   key.Binding
	Stop    key.Binding
}

// NewBase returns the default bindings.
func NewBase() Base {
	return Base{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/up", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/down", "down"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Delete: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "remove connection"),
		),
		Run: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "start entity"),
		),
		Pause: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "pause/resume entity"),
		),
		Stop: key.NewBinding(
			key.WithKeys("S"),
			key.WithHelp("S", "shut down entity"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k Base) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Refresh, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k Base) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.Run, k.Pause, k.Stop},
		{k.Refresh, k.Delete, k.Help, k.Quit},
	}
}
