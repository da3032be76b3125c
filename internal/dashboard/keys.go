// ABOUTME: Key bindings for the terminal dashboard
// ABOUTME: Bindings double as the help view content
package dashboard

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the dashboard key bindings
type KeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Toggle key.Binding
	Next   key.Binding
	Prev   key.Binding
	Skip   key.Binding
	Scan   key.Binding
	Help   key.Binding
	Quit   key.Binding
}

// ShortHelp implements help.KeyMap
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Next, k.Scan, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down},
		{k.Toggle, k.Next, k.Prev, k.Skip},
		{k.Scan, k.Help, k.Quit},
	}
}

// DefaultKeyMap returns the default key bindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Toggle: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "play/pause"),
		),
		Next: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "next chapter"),
		),
		Prev: key.NewBinding(
			key.WithKeys("b"),
			key.WithHelp("b", "previous chapter"),
		),
		Skip: key.NewBinding(
			key.WithKeys("N"),
			key.WithHelp("N", "next video"),
		),
		Scan: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "scan now"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}
