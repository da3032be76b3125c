// ABOUTME: Device model for the Bluetooth registry
// ABOUTME: Defines devices, scan observations and the JSON summary served to clients
package devices

import (
	"strings"
	"time"
)

// Device is one known Bluetooth device. Address is the sole identity key.
type Device struct {
	Address   string
	Name      string
	Connected bool
	Sink      bool // Current audio output
	Paired    bool
	Trusted   bool
	Visible   bool // Observed on the last scan tick
	Stale     bool // Known but not observed on the last scan tick
	RSSI      int16
	LastSeen  time.Time

	// When the coordinator last committed connection fields
	committed time.Time
}

// Observation is what one discovery tick reports for a device
type Observation struct {
	Address   string
	Name      string
	Connected bool
	Paired    bool
	Trusted   bool
	RSSI      int16
}

// DeviceSummary is the client-facing projection of a device
type DeviceSummary struct {
	Name      string    `json:"name"`
	Connected bool      `json:"connected"`
	Sink      bool      `json:"sink"`
	Paired    bool      `json:"paired"`
	Visible   bool      `json:"visible"`
	Stale     bool      `json:"stale"`
	LastSeen  time.Time `json:"last_seen"`
}

// Summary projects the device for clients
func (d Device) Summary() DeviceSummary {
	return DeviceSummary{
		Name:      d.Name,
		Connected: d.Connected,
		Sink:      d.Sink,
		Paired:    d.Paired,
		Visible:   d.Visible,
		Stale:     d.Stale,
		LastSeen:  d.LastSeen,
	}
}

// sameState reports whether two devices differ only in signal strength and
// timestamps, which change on every tick and are not worth an event.
func (d Device) sameState(o Device) bool {
	d.RSSI, o.RSSI = 0, 0
	d.LastSeen, o.LastSeen = time.Time{}, time.Time{}
	d.committed, o.committed = time.Time{}, time.Time{}
	return d == o
}

// NormalizeAddress canonicalizes a BD_ADDR (upper case, colon separated)
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	address = strings.ReplaceAll(address, "-", ":")
	address = strings.ReplaceAll(address, "_", ":")
	return strings.ToUpper(address)
}
