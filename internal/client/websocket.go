// ABOUTME: WebSocket client for a BreezeBeats server's event stream
// ABOUTME: Reads the hello snapshot, streams events and sends transport commands
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/AutoBreezeBeats/breezebeats/internal/protocol"
	"github.com/gorilla/websocket"
)

const helloTimeout = 5 * time.Second

// Config holds client configuration
type Config struct {
	ServerAddr string // host:port or http(s) URL
	Path       string // Defaults to /ws
	Logger     *slog.Logger
}

// Event is a server event with its payload left encoded
type Event struct {
	Type    protocol.EventType `json:"type"`
	Payload json.RawMessage    `json:"payload"`
}

// Decode unmarshals the payload into v
func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Hello is the session greeting without its snapshot
type Hello struct {
	SessionID string `json:"session_id"`
	Server    string `json:"server"`
	Version   string `json:"version"`
}

// Client represents a WebSocket client
type Client struct {
	config Config
	logger *slog.Logger
	conn   *websocket.Conn
	mu     sync.RWMutex

	// Events after the hello; closed when the connection ends
	Events chan Event

	hello     Hello
	connected bool
}

// NewClient creates a new WebSocket client
func NewClient(config Config) *Client {
	if config.Path == "" {
		config.Path = "/ws"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: config,
		logger: logger,
		Events: make(chan Event, 100),
	}
}

// URL returns the WebSocket URL the client dials
func (c *Client) URL() string {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	if parsed, err := url.Parse(c.config.ServerAddr); err == nil && parsed.Host != "" {
		u.Host = parsed.Host
		if parsed.Scheme == "https" || parsed.Scheme == "wss" {
			u.Scheme = "wss"
		}
	}
	return u.String()
}

// Connect dials the server and waits for server/hello
func (c *Client) Connect(ctx context.Context) error {
	target := c.URL()
	c.logger.Debug("connecting", "url", target)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	if err := c.handshake(); err != nil {
		c.Close()
		close(c.Events)
		return fmt.Errorf("handshake failed: %w", err)
	}

	go c.readMessages()
	return nil
}

// handshake reads the greeting every session starts with
func (c *Client) handshake() error {
	c.conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}
	if ev.Type != protocol.EventHello {
		return fmt.Errorf("expected %s, got %s", protocol.EventHello, ev.Type)
	}

	var hello Hello
	if err := ev.Decode(&hello); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}

	c.mu.Lock()
	c.hello = hello
	c.mu.Unlock()

	c.logger.Debug("handshake complete", "server", hello.Server, "session", hello.SessionID)
	return nil
}

// Hello returns the greeting received on connect
func (c *Client) Hello() Hello {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hello
}

// readMessages decodes events until the connection ends
func (c *Client) readMessages() {
	defer close(c.Events)
	defer c.Close()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && c.IsConnected() {
				c.logger.Debug("read error", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("failed to parse event", "error", err)
			continue
		}
		c.Events <- ev
	}
}

// SendCommand sends one transport command by its wire name
func (c *Client) SendCommand(cmd protocol.Command) error {
	if cmd == protocol.CommandUnknown {
		return fmt.Errorf("refusing to send unknown command")
	}
	return c.SendRaw(cmd.String())
}

// SendRaw sends text as-is
func (c *Client) SendRaw(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(strings.TrimSpace(text)))
}

// Close sends a close frame and closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.connected = false
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
		c.logger.Debug("connection closed")
	}
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
