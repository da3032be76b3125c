// ABOUTME: Tests for the session manager
// ABOUTME: Real WebSocket round trips for fan-out, unknown commands and shutdown
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AutoBreezeBeats/breezebeats/internal/bus"
	"github.com/AutoBreezeBeats/breezebeats/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu       sync.Mutex
	commands []protocol.Command
}

func (d *recordingDispatcher) Dispatch(cmd protocol.Command) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, cmd)
	return true
}

func (d *recordingDispatcher) received() []protocol.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.Command(nil), d.commands...)
}

type staticSnapshot struct{}

func (staticSnapshot) Hello(sessionID string) protocol.Hello {
	return protocol.Hello{Server: "test", Version: "0.0.1"}
}

type wireEvent struct {
	Type    protocol.EventType `json:"type"`
	Payload json.RawMessage    `json:"payload"`
}

func startServer(t *testing.T, mgr *Manager) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mgr.ServeConn(context.Background(), conn)
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
		srv.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev wireEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func newTestManager(opts ...Option) (*Manager, *bus.Bus, *recordingDispatcher) {
	b := bus.New(nil)
	d := &recordingDispatcher{}
	return NewManager(b, d, staticSnapshot{}, nil, opts...), b, d
}

func TestHelloIsFirstEvent(t *testing.T) {
	mgr, _, _ := newTestManager()
	srv := startServer(t, mgr)
	conn := dial(t, srv)

	ev := readEvent(t, conn)
	require.Equal(t, protocol.EventHello, ev.Type)

	var hello protocol.Hello
	require.NoError(t, json.Unmarshal(ev.Payload, &hello))
	assert.NotEmpty(t, hello.SessionID)
	assert.Equal(t, "test", hello.Server)

	require.Eventually(t, func() bool { return mgr.Len() == 1 }, time.Second, 5*time.Millisecond)
	sessions := mgr.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, hello.SessionID, sessions[0].ID)
	assert.Equal(t, StateOpen, sessions[0].State)
}

// racingSnapshot publishes a newer queue state while the hello is being built
type racingSnapshot struct {
	b *bus.Bus
}

func (r racingSnapshot) Hello(sessionID string) protocol.Hello {
	r.b.Publish(protocol.NewEvent(protocol.EventQueueChanged, "new-state"))
	return protocol.Hello{Server: "test", Queue: "old-state"}
}

func TestChangesDuringHelloFollowIt(t *testing.T) {
	b := bus.New(nil)
	mgr := NewManager(b, &recordingDispatcher{}, racingSnapshot{b: b}, nil)
	srv := startServer(t, mgr)
	conn := dial(t, srv)

	first := readEvent(t, conn)
	require.Equal(t, protocol.EventHello, first.Type)
	var hello protocol.Hello
	require.NoError(t, json.Unmarshal(first.Payload, &hello))
	assert.Equal(t, "old-state", hello.Queue)

	next := readEvent(t, conn)
	require.Equal(t, protocol.EventQueueChanged, next.Type)
	assert.JSONEq(t, `"new-state"`, string(next.Payload))
}

func TestBroadcastReachesEverySessionInOrder(t *testing.T) {
	mgr, b, _ := newTestManager()
	srv := startServer(t, mgr)

	const n = 4
	conns := make([]*websocket.Conn, n)
	for i := range conns {
		conns[i] = dial(t, srv)
		require.Equal(t, protocol.EventHello, readEvent(t, conns[i]).Type)
	}
	require.Eventually(t, func() bool { return b.Len() == n }, time.Second, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		b.Publish(protocol.Warning(fmt.Sprintf("e%d", i)))
	}

	for _, conn := range conns {
		for i := 0; i < 5; i++ {
			ev := readEvent(t, conn)
			require.Equal(t, protocol.EventWarning, ev.Type)
			var notice protocol.Notice
			require.NoError(t, json.Unmarshal(ev.Payload, &notice))
			assert.Equal(t, fmt.Sprintf("e%d", i), notice.Message)
		}
	}
}

func TestUnknownCommandWarnsOnlyTheSender(t *testing.T) {
	mgr, _, dispatcher := newTestManager()
	srv := startServer(t, mgr)

	sender := dial(t, srv)
	other := dial(t, srv)
	readEvent(t, sender)
	readEvent(t, other)

	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte("frobnicate")))

	ev := readEvent(t, sender)
	require.Equal(t, protocol.EventWarning, ev.Type)
	var notice protocol.Notice
	require.NoError(t, json.Unmarshal(ev.Payload, &notice))
	assert.Equal(t, "Unknown data frobnicate", notice.Message)
	assert.Empty(t, dispatcher.received())

	// The connection stays usable
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, []byte("pause")))
	require.Eventually(t, func() bool {
		return len(dispatcher.received()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []protocol.Command{protocol.CommandPause}, dispatcher.received())

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := other.ReadMessage()
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout(), "other session must not see the warning")
}

func TestCommandsDispatchInOrder(t *testing.T) {
	mgr, _, dispatcher := newTestManager()
	srv := startServer(t, mgr)
	conn := dial(t, srv)
	readEvent(t, conn)

	for _, msg := range []string{"play", "next_chapter", `{"type":"prev_chapter"}`, "next_video", "pause"} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	}

	want := []protocol.Command{
		protocol.CommandPlay,
		protocol.CommandNextChapter,
		protocol.CommandPrevChapter,
		protocol.CommandNextVideo,
		protocol.CommandPause,
	}
	require.Eventually(t, func() bool { return len(dispatcher.received()) == len(want) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, dispatcher.received())
}

func TestClientDisconnectUnregisters(t *testing.T) {
	mgr, b, _ := newTestManager()
	srv := startServer(t, mgr)
	conn := dial(t, srv)
	readEvent(t, conn)
	require.Eventually(t, func() bool { return mgr.Len() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return mgr.Len() == 0 && b.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestShutdownClosesSessionsAndRefusesNew(t *testing.T) {
	mgr, _, _ := newTestManager()
	srv := startServer(t, mgr)
	conn := dial(t, srv)
	readEvent(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, mgr.Shutdown(ctx))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	err = mgr.ServeConn(context.Background(), newFakeConn())
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestCloseEndsOneSession(t *testing.T) {
	mgr, _, _ := newTestManager()
	srv := startServer(t, mgr)
	a := dial(t, srv)
	b := dial(t, srv)
	readEvent(t, a)
	readEvent(t, b)
	require.Eventually(t, func() bool { return mgr.Len() == 2 }, time.Second, 5*time.Millisecond)

	first := mgr.Sessions()[0].ID
	assert.True(t, mgr.Close(first))
	assert.False(t, mgr.Close("missing"))

	require.Eventually(t, func() bool { return mgr.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
}

// fakeConn is an in-memory Conn whose writes can be held back
type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	writeGate chan struct{}

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.inbound:
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if c.writeGate != nil {
		select {
		case <-c.writeGate:
		case <-c.closed:
			return errors.New("connection closed")
		}
	}
	c.mu.Lock()
	c.written = append(c.written, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4242}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func TestSlowSessionIsDroppedWithoutStallingPublish(t *testing.T) {
	b := bus.New(nil, bus.WithBuffer(1))
	mgr := NewManager(b, &recordingDispatcher{}, staticSnapshot{}, nil)

	slow := newFakeConn()
	slow.writeGate = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- mgr.ServeConn(context.Background(), slow) }()
	require.Eventually(t, func() bool { return b.Len() == 1 }, time.Second, time.Millisecond)

	healthy := b.Register("healthy")

	published := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			b.Publish(protocol.Warning("x"))
			<-healthy.Events()
		}
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publish stalled behind a slow session")
	}
	assert.Equal(t, 1, b.Len(), "only the healthy subscriber remains")

	close(slow.writeGate)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dropped session was not closed")
	}
	assert.Equal(t, 0, mgr.Len())
}

func TestStateTransitionsOnlyMoveForward(t *testing.T) {
	s := newSession(newFakeConn())
	assert.Equal(t, StateConnecting, s.State())
	assert.Equal(t, "127.0.0.1:4242", s.RemoteAddr)

	assert.True(t, s.advance(StateOpen))
	assert.True(t, s.advance(StateClosed))
	assert.False(t, s.advance(StateClosing))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, "closed", s.State().String())
}
