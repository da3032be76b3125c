// ABOUTME: Client session manager owning every live WebSocket session
// ABOUTME: Runs a read loop and a write loop per client, cancellable per client
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AutoBreezeBeats/breezebeats/internal/bus"
	"github.com/AutoBreezeBeats/breezebeats/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 30 * time.Second
)

// ErrShutdown is returned for connections arriving after Shutdown
var ErrShutdown = errors.New("session manager shut down")

// Dispatcher applies inbound transport commands
type Dispatcher interface {
	Dispatch(cmd protocol.Command) bool
}

// Snapshotter builds the hello payload a new session starts with
type Snapshotter interface {
	Hello(sessionID string) protocol.Hello
}

// Manager owns the set of live sessions
type Manager struct {
	bus        *bus.Bus
	dispatcher Dispatcher
	snapshot   Snapshotter
	logger     *slog.Logger

	writeTimeout time.Duration
	pingInterval time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	cancels  map[string]context.CancelFunc
	shutdown bool
	wg       sync.WaitGroup
}

// Option configures a Manager
type Option func(*Manager)

// WithWriteTimeout sets the per-frame write deadline
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.writeTimeout = d
		}
	}
}

// WithPingInterval sets how often idle connections are pinged
func WithPingInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pingInterval = d
		}
	}
}

// NewManager creates a session manager
func NewManager(b *bus.Bus, dispatcher Dispatcher, snapshot Snapshotter, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		bus:          b,
		dispatcher:   dispatcher,
		snapshot:     snapshot,
		logger:       logger,
		writeTimeout: DefaultWriteTimeout,
		pingInterval: DefaultPingInterval,
		sessions:     make(map[string]*Session),
		cancels:      make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ServeConn runs a session for conn and blocks until it is closed. The
// connection is always closed on return.
func (m *Manager) ServeConn(ctx context.Context, conn Conn) error {
	s := newSession(conn)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		conn.Close()
		return ErrShutdown
	}
	m.sessions[s.ID] = s
	m.cancels[s.ID] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	defer m.wg.Done()
	defer m.remove(s)

	// Subscribe before taking the snapshot so nothing published in between
	// is lost. The writer holds such events back until the hello is out.
	s.sub = m.bus.Register("session " + s.ID)
	var hello protocol.Hello
	if m.snapshot != nil {
		hello = m.snapshot.Hello(s.ID)
	}
	hello.SessionID = s.ID
	m.bus.SendTo(s.sub, protocol.NewEvent(protocol.EventHello, hello))
	s.advance(StateOpen)

	m.logger.Info("client connected", "session", s.ID, "remote", s.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		m.writeLoop(ctx, s)
	}()

	m.readLoop(s)

	// Reader finished first: stop the writer, which closes the connection
	cancel()
	<-writerDone
	return nil
}

// readLoop dispatches inbound commands until the connection ends
func (m *Manager) readLoop(s *Session) {
	for cmd, err := range s.inbound() {
		if s.State() != StateOpen {
			continue
		}

		if err != nil {
			m.logger.Warn("unknown client data", "session", s.ID, "error", err)
			m.bus.SendTo(s.sub, protocol.Warning(err.Error()))
			continue
		}

		s.mu.Lock()
		s.commands++
		s.mu.Unlock()

		changed := m.dispatcher.Dispatch(cmd)
		m.logger.Debug("client command", "session", s.ID, "command", cmd.String(), "changed", changed)
	}

	s.mu.Lock()
	readErr := s.readErr
	s.mu.Unlock()
	if websocket.IsUnexpectedCloseError(readErr, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		m.logger.Warn("websocket read error", "session", s.ID, "error", readErr)
	}
}

// writeLoop sends bus events to the client until the subscription closes,
// a write fails or ctx is cancelled. It owns closing the connection.
func (m *Manager) writeLoop(ctx context.Context, s *Session) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	defer func() {
		s.advance(StateClosing)
		s.conn.Close()
	}()

	// Events that beat the hello into the queue. Their payloads are full
	// state, so replaying them after the hello converges on the latest.
	var held []protocol.Event
	greeted := false

	for {
		select {
		case ev, ok := <-s.sub.Events():
			if !ok {
				m.logger.Warn("session dropped by event bus", "session", s.ID)
				return
			}

			if !greeted {
				if ev.Type != protocol.EventHello {
					held = append(held, ev)
					continue
				}
				greeted = true
				if !m.write(s, ev) {
					return
				}
				for _, h := range held {
					if !m.write(s, h) {
						return
					}
				}
				held = nil
				continue
			}

			if !m.write(s, ev) {
				return
			}

		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.writeTimeout)); err != nil {
				return
			}

		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing")
			s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

// write sends one event frame. It returns false once the connection is unusable.
func (m *Manager) write(s *Session, ev protocol.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		m.logger.Error("failed to marshal event", "type", ev.Type, "error", err)
		return true
	}
	s.conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.logger.Debug("websocket write failed", "session", s.ID, "error", err)
		return false
	}
	return true
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	delete(m.cancels, s.ID)
	remaining := len(m.sessions)
	m.mu.Unlock()

	m.bus.Unregister(s.sub)
	s.advance(StateClosed)
	m.logger.Info("client disconnected", "session", s.ID, "remote", s.RemoteAddr, "sessions", remaining)
}

// Close ends one session. Returns false if it is not live.
func (m *Manager) Close(id string) bool {
	m.mu.RLock()
	cancel, ok := m.cancels[id]
	m.mu.RUnlock()
	if ok {
		cancel()
	}
	return ok
}

// Sessions lists live sessions, oldest first
func (m *Manager) Sessions() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes every session and refuses new ones. It waits for the
// sessions to finish or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
