// ABOUTME: Test doubles for the devices package
// ABOUTME: Recording publisher, scripted discoverer and gated controller
package devices

import (
	"context"
	"errors"
	"sync"

	"github.com/AutoBreezeBeats/breezebeats/internal/protocol"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (p *recordingPublisher) Publish(event protocol.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) count(t protocol.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) last(t protocol.EventType) (protocol.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == t {
			return p.events[i], true
		}
	}
	return protocol.Event{}, false
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}

type scriptedDiscoverer struct {
	mu      sync.Mutex
	results [][]Observation
	errs    []error
	panics  []bool
	calls   int
	active  int
	maxSeen int
}

func (d *scriptedDiscoverer) ScanOnce(ctx context.Context) ([]Observation, error) {
	d.mu.Lock()
	i := d.calls
	d.calls++
	d.active++
	if d.active > d.maxSeen {
		d.maxSeen = d.active
	}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.active--
		d.mu.Unlock()
	}()

	if i < len(d.panics) && d.panics[i] {
		panic("radio exploded")
	}
	if i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	if len(d.results) == 0 {
		return nil, nil
	}
	if i >= len(d.results) {
		i = len(d.results) - 1
	}
	return d.results[i], nil
}

func (d *scriptedDiscoverer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

var errHardware = errors.New("hardware said no")

type fakeController struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
	sinks []string

	// When set, Connect blocks until the channel is closed
	gate    chan struct{}
	entered chan struct{}

	// Runs after every successful SetSink
	afterSink func(address string)
}

func newFakeController() *fakeController {
	return &fakeController{calls: make(map[string]int), fail: make(map[string]bool)}
}

func (c *fakeController) record(op, address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op+" "+address]++
	return c.fail[op+" "+address]
}

func (c *fakeController) Connect(ctx context.Context, address string) error {
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.gate != nil {
		<-c.gate
	}
	if c.record("connect", address) {
		return errHardware
	}
	return nil
}

func (c *fakeController) Disconnect(ctx context.Context, address string) error {
	if c.record("disconnect", address) {
		return errHardware
	}
	return nil
}

func (c *fakeController) SetSink(ctx context.Context, address string) error {
	if c.record("sink", address) {
		return errHardware
	}
	c.mu.Lock()
	c.sinks = append(c.sinks, address)
	after := c.afterSink
	c.mu.Unlock()
	if after != nil {
		after(address)
	}
	return nil
}

func (c *fakeController) callCount(op, address string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op+" "+address]
}
