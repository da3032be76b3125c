// ABOUTME: Bubbletea model for the server dashboard
// ABOUTME: Renders devices, sink, queue and sessions from snapshots refreshed on bus events
package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/AutoBreezeBeats/breezebeats/internal/devices"
	"github.com/AutoBreezeBeats/breezebeats/internal/playback"
	"github.com/AutoBreezeBeats/breezebeats/internal/protocol"
	"github.com/AutoBreezeBeats/breezebeats/internal/session"
	"github.com/AutoBreezeBeats/breezebeats/internal/version"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

const (
	upcomingShown = 5
	clientsShown  = 3
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// DeviceSource is the registry as the dashboard reads it
type DeviceSource interface {
	Devices() []devices.Device
	Sink() string
}

// QueueSource is the playback queue as the dashboard drives it
type QueueSource interface {
	Snapshot() playback.Snapshot
	Dispatch(cmd protocol.Command) bool
}

// SessionLister lists the connected clients
type SessionLister interface {
	Sessions() []session.Info
}

// ScanTrigger requests an immediate discovery tick and reports how ticks went
type ScanTrigger interface {
	ScanNow()
	Stats() (ticks, failures uint64, lastErr error)
}

// Sources are the components the dashboard reads and drives. Nil sources are
// shown as empty.
type Sources struct {
	Name     string
	Addr     string
	Registry DeviceSource
	Queue    QueueSource
	Sessions SessionLister
	Scanner  ScanTrigger
}

// Snapshot is everything one frame shows
type Snapshot struct {
	Devices  []devices.Device
	Sink     string
	Queue    playback.Snapshot
	Sessions []session.Info

	ScanTicks    uint64
	ScanFailures uint64
	ScanErr      error
}

func (s Sources) snapshot() Snapshot {
	snap := Snapshot{Queue: playback.Snapshot{Cursor: -1}}
	if s.Registry != nil {
		snap.Devices = s.Registry.Devices()
		snap.Sink = s.Registry.Sink()
	}
	if s.Queue != nil {
		snap.Queue = s.Queue.Snapshot()
	}
	if s.Sessions != nil {
		snap.Sessions = s.Sessions.Sessions()
	}
	if s.Scanner != nil {
		snap.ScanTicks, snap.ScanFailures, snap.ScanErr = s.Scanner.Stats()
	}
	return snap
}

type tickMsg time.Time

type snapshotMsg Snapshot

type eventMsg protocol.Event

// statusMsg replaces the status line
type statusMsg string

// Model is the dashboard TUI state
type Model struct {
	sources Sources
	keys    KeyMap
	help    help.Model
	table   table.Model

	snap      Snapshot
	notice    protocol.Event
	status    string
	startTime time.Time
	quitting  bool

	width  int
	height int
}

// NewModel creates a dashboard model
func NewModel(sources Sources) Model {
	t := table.New(
		table.WithColumns(deviceColumns()),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	return Model{
		sources:   sources,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		table:     t,
		snap:      Snapshot{Queue: playback.Snapshot{Cursor: -1}},
		startTime: time.Now(),
	}
}

func deviceColumns() []table.Column {
	return []table.Column{
		{Title: "Name", Width: 24},
		{Title: "Address", Width: 17},
		{Title: "State", Width: 12},
		{Title: "Sink", Width: 4},
		{Title: "Last seen", Width: 16},
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickEvery(), m.refresh())
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh reads a fresh snapshot off the update loop
func (m Model) refresh() tea.Cmd {
	sources := m.sources
	return func() tea.Msg {
		return snapshotMsg(sources.snapshot())
	}
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.table.SetWidth(msg.Width)
		if h := msg.Height - 14; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(tickEvery(), m.refresh())

	case eventMsg:
		switch msg.Type {
		case protocol.EventWarning, protocol.EventError:
			m.notice = protocol.Event(msg)
		}
		return m, m.refresh()

	case snapshotMsg:
		m.applySnapshot(Snapshot(msg))
		return m, nil

	case statusMsg:
		m.status = string(msg)
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Scan):
		return m, m.scan()
	case key.Matches(msg, m.keys.Toggle):
		if m.snap.Queue.Playing {
			return m, m.dispatch(protocol.CommandPause)
		}
		return m, m.dispatch(protocol.CommandPlay)
	case key.Matches(msg, m.keys.Next):
		return m, m.dispatch(protocol.CommandNextChapter)
	case key.Matches(msg, m.keys.Prev):
		return m, m.dispatch(protocol.CommandPrevChapter)
	case key.Matches(msg, m.keys.Skip):
		return m, m.dispatch(protocol.CommandNextVideo)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) scan() tea.Cmd {
	scanner := m.sources.Scanner
	return func() tea.Msg {
		if scanner == nil {
			return statusMsg("scanning unavailable")
		}
		scanner.ScanNow()
		return statusMsg("scan requested")
	}
}

// dispatch applies a transport command the same way a session would
func (m Model) dispatch(cmd protocol.Command) tea.Cmd {
	queue := m.sources.Queue
	return func() tea.Msg {
		if queue == nil {
			return nil
		}
		if !queue.Dispatch(cmd) {
			return statusMsg(cmd.String() + ": nothing to do")
		}
		return statusMsg(cmd.String())
	}
}

func (m *Model) applySnapshot(snap Snapshot) {
	m.snap = snap
	rows := make([]table.Row, 0, len(snap.Devices))
	for _, d := range snap.Devices {
		sink := ""
		if d.Sink {
			sink = "●"
		}
		lastSeen := "never"
		if !d.LastSeen.IsZero() {
			lastSeen = humanize.Time(d.LastSeen)
		}
		rows = append(rows, table.Row{
			truncate(d.Name, 24),
			d.Address,
			deviceState(d),
			sink,
			lastSeen,
		})
	}
	m.table.SetRows(rows)
}

func deviceState(d devices.Device) string {
	switch {
	case d.Connected:
		return "connected"
	case d.Stale:
		return "out of range"
	case d.Paired:
		return "paired"
	default:
		return "visible"
	}
}

// View implements tea.Model
func (m Model) View() string {
	if m.quitting {
		return "Shutting down BreezeBeats...\n"
	}
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render(version.Product))
	b.WriteString(valueStyle.Render(" " + version.Version))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Server: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%s on %s", m.sources.Name, m.sources.Addr)))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Up since: "))
	b.WriteString(valueStyle.Render(humanize.Time(m.startTime)))
	b.WriteString(headerStyle.Render("  Sessions: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d", len(m.snap.Sessions))))
	b.WriteString(headerStyle.Render("  Scans: "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d", m.snap.ScanTicks)))
	if m.snap.ScanFailures > 0 {
		failed := fmt.Sprintf(" (%d failed", m.snap.ScanFailures)
		if m.snap.ScanErr != nil {
			failed += ": " + truncate(m.snap.ScanErr.Error(), 40)
		}
		b.WriteString(warnStyle.Render(failed + ")"))
	}
	b.WriteString("\n")
	b.WriteString(m.renderClients())

	sink := m.snap.Sink
	if sink == "" {
		sink = "system default"
	}
	b.WriteString(headerStyle.Render("Sink: "))
	b.WriteString(valueStyle.Render(sink))
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Devices (%d)", len(m.snap.Devices))))
	b.WriteString("\n")
	if len(m.snap.Devices) == 0 {
		b.WriteString(valueStyle.Render("  No devices found yet"))
		b.WriteString("\n")
	} else {
		b.WriteString(m.table.View())
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(m.renderQueue())

	if m.notice.Type != "" {
		b.WriteString("\n")
		b.WriteString(m.renderNotice())
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString(lipgloss.NewStyle().Faint(true).Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) renderQueue() string {
	var b strings.Builder
	q := m.snap.Queue

	b.WriteString(sectionStyle.Render(fmt.Sprintf("Queue (%d)", len(q.Items))))
	b.WriteString("\n")

	if q.Current == nil {
		b.WriteString(valueStyle.Render("  Nothing queued"))
		b.WriteString("\n")
		return b.String()
	}

	icon := "⏸"
	if q.Playing {
		icon = "▶"
	}
	b.WriteString(fmt.Sprintf("  %s %s", icon, truncate(q.Current.Title, 48)))
	if q.Current.Duration > 0 {
		b.WriteString(valueStyle.Render(" (" + q.Current.DurationValue().Round(time.Second).String() + ")"))
	}
	b.WriteString("\n")

	shown := 0
	for i := q.Cursor + 1; i < len(q.Items) && shown < upcomingShown; i++ {
		b.WriteString(valueStyle.Render(fmt.Sprintf("    %d. %s", i-q.Cursor, truncate(q.Items[i].Title, 46))))
		b.WriteString("\n")
		shown++
	}
	if rest := len(q.Items) - q.Cursor - 1 - shown; rest > 0 {
		b.WriteString(valueStyle.Render(fmt.Sprintf("    ... and %d more", rest)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderClients() string {
	var b strings.Builder
	for i, info := range m.snap.Sessions {
		if i == clientsShown {
			b.WriteString(valueStyle.Render(fmt.Sprintf("  ... and %d more clients", len(m.snap.Sessions)-clientsShown)))
			b.WriteString("\n")
			break
		}
		b.WriteString(valueStyle.Render(fmt.Sprintf("  %s joined %s, %d commands",
			info.RemoteAddr, humanize.Time(info.ConnectedAt), info.Commands)))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderNotice() string {
	message := ""
	if n, ok := m.notice.Payload.(protocol.Notice); ok {
		message = n.Message
	}
	if m.notice.Type == protocol.EventError {
		return errorStyle.Render("✗ " + message)
	}
	return warnStyle.Render("⚠ " + message)
}

func truncate(s string, length int) string {
	r := []rune(s)
	if len(r) <= length {
		return s
	}
	return string(r[:length-3]) + "..."
}
