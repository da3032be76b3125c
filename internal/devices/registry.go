// ABOUTME: Address-keyed registry of known Bluetooth devices
// ABOUTME: Readers get deep copies; every mutation publishes under the write lock
package devices

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AutoBreezeBeats/breezebeats/internal/protocol"
)

// Publisher receives the events produced by registry mutations
type Publisher interface {
	Publish(event protocol.Event)
}

// Registry holds every device ever observed. Devices are never removed.
type Registry struct {
	logger *slog.Logger
	pub    Publisher

	mu      sync.RWMutex
	devices map[string]*Device
	now     func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry(pub Publisher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		pub:     pub,
		devices: make(map[string]*Device),
		now:     time.Now,
	}
}

// ListDevices returns a snapshot of every known device keyed by address
func (r *Registry) ListDevices() map[string]DeviceSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.summariesLocked()
}

// Devices returns copies of all known devices sorted by address
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Get returns a copy of one device
func (r *Registry) Get(address string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[NormalizeAddress(address)]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// Sink returns the address of the current sink, or "" for the system default
func (r *Registry) Sink() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sinkLocked()
}

// merge folds one scan tick into the registry. Connection fields are left
// alone for addresses with an operation in flight and for devices whose
// connection state was committed after the scan started.
func (r *Registry) merge(observed []Observation, scanStart time.Time, busy func(string) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	seen := make(map[string]bool, len(observed))
	changed := false
	sinkCleared := false

	hold := func(d *Device) bool {
		if busy != nil && busy(d.Address) {
			return true
		}
		return d.committed.After(scanStart)
	}

	for _, obs := range observed {
		addr := NormalizeAddress(obs.Address)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true

		d, ok := r.devices[addr]
		if !ok {
			r.devices[addr] = &Device{
				Address:   addr,
				Name:      obs.Name,
				Connected: obs.Connected,
				Paired:    obs.Paired,
				Trusted:   obs.Trusted,
				Visible:   true,
				RSSI:      obs.RSSI,
				LastSeen:  now,
			}
			changed = true
			continue
		}

		before := *d
		if obs.Name != "" {
			d.Name = obs.Name
		}
		d.Paired = obs.Paired
		d.Trusted = obs.Trusted
		d.RSSI = obs.RSSI
		d.Visible = true
		d.Stale = false
		d.LastSeen = now
		if !hold(d) {
			d.Connected = obs.Connected
			if !d.Connected && d.Sink {
				d.Sink = false
				sinkCleared = true
			}
		}
		if !before.sameState(*d) {
			changed = true
		}
	}

	for addr, d := range r.devices {
		if seen[addr] {
			continue
		}
		before := *d
		d.Visible = false
		d.Stale = true
		if !hold(d) {
			d.Connected = false
			if d.Sink {
				d.Sink = false
				sinkCleared = true
			}
		}
		if !before.sameState(*d) {
			changed = true
		}
	}

	if changed {
		r.publishDevicesLocked()
	}
	if sinkCleared {
		r.logger.Info("sink device lost, output returned to default")
		r.publishSinkLocked()
	}
	return changed
}

// commitConnected records the outcome of a connect or disconnect. Losing the
// connection also clears the sink flag.
func (r *Registry) commitConnected(address string, connected bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[address]
	if !ok {
		return ErrUnknownDevice
	}

	before := *d
	d.Connected = connected
	d.committed = r.now()
	sinkCleared := false
	if !connected && d.Sink {
		d.Sink = false
		sinkCleared = true
	}

	if !before.sameState(*d) {
		r.publishDevicesLocked()
	}
	if sinkCleared {
		r.publishSinkLocked()
	}
	return nil
}

// commitSink makes address the only sink. An empty address clears every flag.
func (r *Registry) commitSink(address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if address != "" {
		d, ok := r.devices[address]
		if !ok {
			return ErrUnknownDevice
		}
		if !d.Connected {
			return ErrNotConnected
		}
	}

	previous := r.sinkLocked()
	for addr, d := range r.devices {
		d.Sink = addr == address
	}
	if address != "" {
		r.devices[address].committed = r.now()
	}

	if previous != address {
		r.publishDevicesLocked()
		r.publishSinkLocked()
	}
	return nil
}

func (r *Registry) sinkLocked() string {
	for addr, d := range r.devices {
		if d.Sink {
			return addr
		}
	}
	return ""
}

func (r *Registry) summariesLocked() map[string]DeviceSummary {
	out := make(map[string]DeviceSummary, len(r.devices))
	for addr, d := range r.devices {
		out[addr] = d.Summary()
	}
	return out
}

func (r *Registry) publishDevicesLocked() {
	if r.pub == nil {
		return
	}
	r.pub.Publish(protocol.NewEvent(protocol.EventDevicesChanged, r.summariesLocked()))
}

func (r *Registry) publishSinkLocked() {
	if r.pub == nil {
		return
	}
	r.pub.Publish(protocol.NewEvent(protocol.EventSinkChanged, protocol.SinkChanged{Address: r.sinkLocked()}))
}
