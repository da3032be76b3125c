// ABOUTME: Connection coordinator serializing connect, disconnect and sink selection
// ABOUTME: One operation per address at a time; a second request fails fast as busy
package devices

import (
	"context"
	"log/slog"
	"sync"
)

// defaultSinkKey is the token for returning output to the system default.
// It cannot collide with a normalized BD_ADDR.
const defaultSinkKey = "<default>"

// Controller performs the hardware side of connection operations
type Controller interface {
	Connect(ctx context.Context, address string) error
	Disconnect(ctx context.Context, address string) error
	// SetSink routes audio to address; "" selects the system default
	SetSink(ctx context.Context, address string) error
}

// Coordinator owns the connection fields of the registry
type Coordinator struct {
	registry   *Registry
	controller Controller
	logger     *slog.Logger

	tokensMu sync.Mutex
	tokens   map[string]struct{}

	// Held across the hardware call and the registry commit so the sink the
	// hardware ends up on is the one the registry records.
	sinkMu sync.Mutex
}

// NewCoordinator creates a coordinator
func NewCoordinator(registry *Registry, controller Controller, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		registry:   registry,
		controller: controller,
		logger:     logger,
		tokens:     make(map[string]struct{}),
	}
}

// Busy reports whether an operation on address is in flight. Never blocks on
// the operation itself.
func (c *Coordinator) Busy(address string) bool {
	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()
	_, ok := c.tokens[NormalizeAddress(address)]
	return ok
}

func (c *Coordinator) acquire(key string) bool {
	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()
	if _, ok := c.tokens[key]; ok {
		return false
	}
	c.tokens[key] = struct{}{}
	return true
}

func (c *Coordinator) release(key string) {
	c.tokensMu.Lock()
	delete(c.tokens, key)
	c.tokensMu.Unlock()
}

// Connect pairs with and connects to a known device
func (c *Coordinator) Connect(ctx context.Context, address string) error {
	addr := NormalizeAddress(address)
	if !c.acquire(addr) {
		return &BusyError{Address: addr}
	}
	defer c.release(addr)

	if _, ok := c.registry.Get(addr); !ok {
		return &ConnectError{Address: addr, Err: ErrUnknownDevice}
	}

	c.logger.Info("connecting device", "address", addr)
	if err := c.controller.Connect(ctx, addr); err != nil {
		c.logger.Warn("connect failed", "address", addr, "error", err)
		return &ConnectError{Address: addr, Err: err}
	}

	if err := c.registry.commitConnected(addr, true); err != nil {
		return &ConnectError{Address: addr, Err: err}
	}
	c.logger.Info("device connected", "address", addr)
	return nil
}

// Disconnect disconnects a known device. Disconnecting the sink returns
// output to the system default.
func (c *Coordinator) Disconnect(ctx context.Context, address string) error {
	addr := NormalizeAddress(address)
	if !c.acquire(addr) {
		return &BusyError{Address: addr}
	}
	defer c.release(addr)

	if _, ok := c.registry.Get(addr); !ok {
		return &DisconnectError{Address: addr, Err: ErrUnknownDevice}
	}

	c.logger.Info("disconnecting device", "address", addr)
	if err := c.controller.Disconnect(ctx, addr); err != nil {
		c.logger.Warn("disconnect failed", "address", addr, "error", err)
		return &DisconnectError{Address: addr, Err: err}
	}

	if err := c.registry.commitConnected(addr, false); err != nil {
		return &DisconnectError{Address: addr, Err: err}
	}
	c.logger.Info("device disconnected", "address", addr)
	return nil
}

// SetSink makes address the audio output. An empty address returns output
// to the system default.
func (c *Coordinator) SetSink(ctx context.Context, address string) error {
	addr := NormalizeAddress(address)
	key := addr
	reason := "Could not set sink to " + addr
	if addr == "" {
		key = defaultSinkKey
		reason = "Could not set sink to default"
	}

	if !c.acquire(key) {
		return &BusyError{Address: key}
	}
	defer c.release(key)

	if addr != "" {
		d, ok := c.registry.Get(addr)
		if !ok {
			return &SinkError{Reason: reason, Err: ErrUnknownDevice}
		}
		if !d.Connected {
			return &SinkError{Reason: reason, Err: ErrNotConnected}
		}
	}

	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()

	previous := c.registry.Sink()
	if err := c.controller.SetSink(ctx, addr); err != nil {
		c.logger.Warn("set sink failed", "address", addr, "error", err)
		return &SinkError{Reason: reason, Err: err}
	}

	if err := c.registry.commitSink(addr); err != nil {
		// Put the hardware back so it keeps matching the registry
		if rerr := c.controller.SetSink(context.WithoutCancel(ctx), previous); rerr != nil {
			c.logger.Error("failed to restore previous sink", "address", previous, "error", rerr)
		}
		return &SinkError{Reason: reason, Err: err}
	}

	if addr == "" {
		c.logger.Info("default set as new sink")
	} else {
		c.logger.Info("sink changed", "address", addr)
	}
	return nil
}
