// ABOUTME: One live client connection with its inbound and outbound streams
// ABOUTME: Tracks the Connecting, Open, Closing, Closed lifecycle
package session

import (
	"iter"
	"net"
	"sync"
	"time"

	"github.com/AutoBreezeBeats/breezebeats/internal/bus"
	"github.com/AutoBreezeBeats/breezebeats/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn is the part of *websocket.Conn a session uses
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// State is a session lifecycle stage
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Info is a read-only view of a session for status displays
type Info struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	State       State     `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
	Commands    uint64    `json:"commands"`
}

// Session is one connected client
type Session struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	conn Conn
	sub  *bus.Subscription

	mu       sync.Mutex
	state    State
	commands uint64
	readErr  error
}

func newSession(conn Conn) *Session {
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Session{
		ID:          uuid.New().String(),
		RemoteAddr:  remote,
		ConnectedAt: time.Now(),
		conn:        conn,
		state:       StateConnecting,
	}
}

// State returns the current lifecycle stage
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// advance moves the session forward; it never moves back
func (s *Session) advance(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to <= s.state {
		return false
	}
	s.state = to
	return true
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:          s.ID,
		RemoteAddr:  s.RemoteAddr,
		State:       s.state,
		ConnectedAt: s.ConnectedAt,
		Commands:    s.commands,
	}
}

// inbound decodes text frames lazily, one read per step. The
// sequence ends when the connection does; the cause is kept in readErr.
func (s *Session) inbound() iter.Seq2[protocol.Command, error] {
	return func(yield func(protocol.Command, error) bool) {
		for {
			messageType, data, err := s.conn.ReadMessage()
			if err != nil {
				s.mu.Lock()
				s.readErr = err
				s.mu.Unlock()
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			if !yield(protocol.DecodeCommand(data)) {
				return
			}
		}
	}
}
