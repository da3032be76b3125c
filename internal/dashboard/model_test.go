// ABOUTME: Tests for the dashboard model
// ABOUTME: Tests snapshot rendering, key handling and notices
package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AutoBreezeBeats/breezebeats/internal/bus"
	"github.com/AutoBreezeBeats/breezebeats/internal/devices"
	"github.com/AutoBreezeBeats/breezebeats/internal/playback"
	"github.com/AutoBreezeBeats/breezebeats/internal/protocol"
	"github.com/AutoBreezeBeats/breezebeats/internal/session"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	devices []devices.Device
	sink    string
}

func (f fakeRegistry) Devices() []devices.Device { return f.devices }
func (f fakeRegistry) Sink() string              { return f.sink }

type fakeQueue struct {
	mu         sync.Mutex
	snap       playback.Snapshot
	dispatched []protocol.Command
}

func (f *fakeQueue) Snapshot() playback.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeQueue) Dispatch(cmd protocol.Command) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, cmd)
	return true
}

type fakeScanner struct {
	calls    int
	failures uint64
	lastErr  error
}

func (f *fakeScanner) ScanNow() { f.calls++ }

func (f *fakeScanner) Stats() (uint64, uint64, error) {
	return 7, f.failures, f.lastErr
}

type fakeSessions []session.Info

func (f fakeSessions) Sessions() []session.Info { return f }

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

func sampleSources() (Sources, *fakeQueue, *fakeScanner) {
	item := playback.Item{ID: "1", Title: "Lo-fi beats", Duration: 125, Status: playback.StatusPlaying}
	queue := &fakeQueue{snap: playback.Snapshot{
		Items: []playback.Item{
			item,
			{ID: "2", Title: "Second", Status: playback.StatusQueued},
		},
		Cursor:  0,
		Playing: true,
		Current: &item,
	}}
	scanner := &fakeScanner{}
	return Sources{
		Name: "living-room",
		Addr: ":8000",
		Registry: fakeRegistry{
			devices: []devices.Device{
				{Address: "AA:BB:CC:DD:EE:01", Name: "Kitchen Speaker", Connected: true, Sink: true, LastSeen: time.Now()},
				{Address: "AA:BB:CC:DD:EE:02", Name: "Headphones", Stale: true},
			},
			sink: "AA:BB:CC:DD:EE:01",
		},
		Queue:    queue,
		Sessions: fakeSessions{
			{ID: "a", RemoteAddr: "10.0.0.5:51000", State: session.StateOpen, ConnectedAt: time.Now(), Commands: 3},
			{ID: "b", RemoteAddr: "10.0.0.6:51001", State: session.StateOpen, ConnectedAt: time.Now()},
		},
		Scanner:  scanner,
	}, queue, scanner
}

func TestViewBeforeWindowSize(t *testing.T) {
	m := NewModel(Sources{})
	assert.Equal(t, "Loading...", m.View())
}

func TestSnapshotRendering(t *testing.T) {
	sources, _, _ := sampleSources()
	m := NewModel(sources)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})

	refresh := m.refresh()
	require.NotNil(t, refresh)
	m, _ = update(t, m, refresh())

	view := m.View()
	assert.Contains(t, view, "living-room on :8000")
	assert.Contains(t, view, "Devices (2)")
	assert.Contains(t, view, "Kitchen Speaker")
	assert.Contains(t, view, "connected")
	assert.Contains(t, view, "out of range")
	assert.Contains(t, view, "never")
	assert.Contains(t, view, "Sink: AA:BB:CC:DD:EE:01")
	assert.Contains(t, view, "▶ Lo-fi beats")
	assert.Contains(t, view, "(2m5s)")
	assert.Contains(t, view, "1. Second")
	assert.Contains(t, view, "Sessions: 2")
	assert.Contains(t, view, "10.0.0.5:51000 joined now, 3 commands")
	assert.Contains(t, view, "Scans: 7")
	assert.NotContains(t, view, "failed")
}

func TestScanFailuresShown(t *testing.T) {
	sources, _, scanner := sampleSources()
	scanner.failures = 2
	scanner.lastErr = errors.New("adapter powered off")
	m := NewModel(sources)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	m, _ = update(t, m, m.refresh()())

	assert.Contains(t, m.View(), "(2 failed: adapter powered off)")
}

func TestEmptySnapshot(t *testing.T) {
	m := NewModel(Sources{Name: "empty"})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	m, _ = update(t, m, m.refresh()())

	view := m.View()
	assert.Contains(t, view, "No devices found yet")
	assert.Contains(t, view, "Nothing queued")
	assert.Contains(t, view, "Sink: system default")
}

func TestQuitKey(t *testing.T) {
	m := NewModel(Sources{})
	m, cmd := update(t, m, runes("q"))

	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, "Shutting down BreezeBeats...\n", m.View())
}

func TestToggleDispatchesPauseWhilePlaying(t *testing.T) {
	sources, queue, _ := sampleSources()
	m := NewModel(sources)
	m, _ = update(t, m, m.refresh()())

	_, cmd := update(t, m, runes("p"))
	require.NotNil(t, cmd)
	assert.Equal(t, statusMsg("pause"), cmd())
	assert.Equal(t, []protocol.Command{protocol.CommandPause}, queue.dispatched)
}

func TestTransportKeys(t *testing.T) {
	tests := []struct {
		key  string
		want protocol.Command
	}{
		{"n", protocol.CommandNextChapter},
		{"b", protocol.CommandPrevChapter},
		{"N", protocol.CommandNextVideo},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			sources, queue, _ := sampleSources()
			m := NewModel(sources)
			_, cmd := update(t, m, runes(tt.key))
			require.NotNil(t, cmd)
			cmd()
			assert.Equal(t, []protocol.Command{tt.want}, queue.dispatched)
		})
	}
}

func TestScanKey(t *testing.T) {
	sources, _, scanner := sampleSources()
	m := NewModel(sources)

	_, cmd := update(t, m, runes("s"))
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, statusMsg("scan requested"), msg)
	assert.Equal(t, 1, scanner.calls)

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	m, _ = update(t, m, msg)
	assert.Contains(t, m.View(), "scan requested")
}

func TestNoticeEvents(t *testing.T) {
	m := NewModel(Sources{})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})

	m, cmd := update(t, m, eventMsg(protocol.Failure("Could not resolve x")))
	assert.NotNil(t, cmd, "events trigger a refresh")
	assert.Contains(t, m.View(), "Could not resolve x")

	m, _ = update(t, m, eventMsg(protocol.NewEvent(protocol.EventQueueChanged, nil)))
	assert.Contains(t, m.View(), "Could not resolve x", "other events keep the last notice")

	m, _ = update(t, m, eventMsg(protocol.Warning("Unknown data foo")))
	assert.Contains(t, m.View(), "Unknown data foo")
}

func TestHelpToggle(t *testing.T) {
	m := NewModel(Sources{})
	assert.False(t, m.help.ShowAll)
	m, _ = update(t, m, runes("?"))
	assert.True(t, m.help.ShowAll)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestRunStopsOnCancel(t *testing.T) {
	b := bus.New(nil)
	d := New(b, Sources{}, nil, tea.WithInput(nil), tea.WithOutput(&discard{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return b.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	b.Publish(protocol.Warning("hello"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dashboard did not stop")
	}
	assert.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 10*time.Millisecond)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
