// ABOUTME: BlueZ hardware driver over the system D-Bus
// ABOUTME: Discovers, pairs and connects devices and routes audio with pactl
package bluez

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/AutoBreezeBeats/breezebeats/internal/devices"
	"github.com/godbus/dbus/v5"
)

const (
	busName = "org.bluez"

	adapterInterface = "org.bluez.Adapter1"
	deviceInterface  = "org.bluez.Device1"

	objectManagerGetManaged = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	propertiesGet           = "org.freedesktop.DBus.Properties.Get"
	propertiesSet           = "org.freedesktop.DBus.Properties.Set"

	errInProgress    = "org.bluez.Error.InProgress"
	errAlreadyExists = "org.bluez.Error.AlreadyExists"
)

// Config holds driver settings
type Config struct {
	Adapter     string // hci0
	PactlPath   string
	SinkPrefix  string // bluez_output.
	SinkSuffix  string // .1
	DefaultSink string // Empty = first non-Bluetooth sink reported by pactl
}

// DefaultConfig returns the settings for a stock PipeWire/PulseAudio setup
func DefaultConfig() Config {
	return Config{
		Adapter:    "hci0",
		PactlPath:  "pactl",
		SinkPrefix: "bluez_output.",
		SinkSuffix: ".1",
	}
}

// Driver implements devices.Discoverer and devices.Controller against BlueZ
type Driver struct {
	conn   *dbus.Conn
	config Config
	logger *slog.Logger

	mu          sync.Mutex
	discovering bool

	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Dial connects to the system bus
func Dial(config Config, logger *slog.Logger) (*Driver, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	return New(conn, config, logger), nil
}

// New wraps an existing bus connection
func New(conn *dbus.Conn, config Config, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if config.Adapter == "" {
		config.Adapter = defaults.Adapter
	}
	if config.PactlPath == "" {
		config.PactlPath = defaults.PactlPath
	}
	if config.SinkPrefix == "" {
		config.SinkPrefix = defaults.SinkPrefix
	}
	if config.SinkSuffix == "" {
		config.SinkSuffix = defaults.SinkSuffix
	}
	return &Driver{conn: conn, config: config, logger: logger, run: runOutput}
}

// Close closes the bus connection
func (d *Driver) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

func (d *Driver) adapterPath() dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + d.config.Adapter)
}

func (d *Driver) device(address string) dbus.BusObject {
	return d.conn.Object(busName, DevicePath(d.adapterPath(), address))
}

// ScanOnce implements devices.Discoverer. Discovery is switched on the first
// time and left running; each call reads BlueZ's current object tree.
func (d *Driver) ScanOnce(ctx context.Context) ([]devices.Observation, error) {
	if err := d.ensureDiscovery(ctx); err != nil {
		return nil, err
	}

	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	root := d.conn.Object(busName, "/")
	if err := root.CallWithContext(ctx, objectManagerGetManaged, 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("failed to list bluez objects: %w", err)
	}

	return observationsFromObjects(objects, d.adapterPath()), nil
}

func (d *Driver) ensureDiscovery(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.discovering {
		return nil
	}

	adapter := d.conn.Object(busName, d.adapterPath())
	if err := adapter.CallWithContext(ctx, adapterInterface+".StartDiscovery", 0).Err; err != nil && !isDBusError(err, errInProgress) {
		return fmt.Errorf("failed to start discovery on %s: %w", d.config.Adapter, err)
	}
	d.discovering = true
	d.logger.Info("bluetooth discovery started", "adapter", d.config.Adapter)
	return nil
}

// Connect implements devices.Controller. Unpaired devices are paired and
// trusted first.
func (d *Driver) Connect(ctx context.Context, address string) error {
	dev := d.device(address)

	paired, err := d.boolProperty(ctx, dev, "Paired")
	if err != nil {
		return err
	}
	if !paired {
		d.logger.Info("pairing device", "address", address)
		if err := dev.CallWithContext(ctx, deviceInterface+".Pair", 0).Err; err != nil && !isDBusError(err, errAlreadyExists) {
			return fmt.Errorf("pair failed: %w", err)
		}
	}

	if err := dev.CallWithContext(ctx, propertiesSet, 0, deviceInterface, "Trusted", dbus.MakeVariant(true)).Err; err != nil {
		return fmt.Errorf("trust failed: %w", err)
	}

	if err := dev.CallWithContext(ctx, deviceInterface+".Connect", 0).Err; err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}
	return nil
}

// Disconnect implements devices.Controller
func (d *Driver) Disconnect(ctx context.Context, address string) error {
	if err := d.device(address).CallWithContext(ctx, deviceInterface+".Disconnect", 0).Err; err != nil {
		return fmt.Errorf("disconnect failed: %w", err)
	}
	return nil
}

// SetSink implements devices.Controller by switching the default sink
func (d *Driver) SetSink(ctx context.Context, address string) error {
	sink := d.config.DefaultSink
	if address != "" {
		sink = SinkName(d.config.SinkPrefix, d.config.SinkSuffix, address)
	}

	if sink == "" {
		out, err := d.run(ctx, d.config.PactlPath, "list", "short", "sinks")
		if err != nil {
			return err
		}
		sink = firstLocalSink(string(out), d.config.SinkPrefix)
		if sink == "" {
			return errors.New("no local sink to fall back to")
		}
	}

	if _, err := d.run(ctx, d.config.PactlPath, "set-default-sink", sink); err != nil {
		return err
	}
	d.logger.Debug("default sink set", "sink", sink)
	return nil
}

func (d *Driver) boolProperty(ctx context.Context, obj dbus.BusObject, name string) (bool, error) {
	var v dbus.Variant
	if err := obj.CallWithContext(ctx, propertiesGet, 0, deviceInterface, name).Store(&v); err != nil {
		return false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	b, _ := v.Value().(bool)
	return b, nil
}

// DevicePath returns the BlueZ object path of a device under an adapter
func DevicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	addr := strings.ReplaceAll(devices.NormalizeAddress(address), ":", "_")
	return dbus.ObjectPath(string(adapter) + "/dev_" + addr)
}

// SinkName returns the PipeWire/PulseAudio sink name of a Bluetooth device
func SinkName(prefix, suffix, address string) string {
	return prefix + strings.ReplaceAll(devices.NormalizeAddress(address), ":", "_") + suffix
}

// observationsFromObjects maps BlueZ's managed objects to observations,
// keeping only devices under the given adapter.
func observationsFromObjects(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, adapter dbus.ObjectPath) []devices.Observation {
	prefix := string(adapter) + "/"
	var out []devices.Observation

	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[deviceInterface]
		if !ok {
			continue
		}

		obs := devices.Observation{
			Address:   stringProp(props, "Address"),
			Name:      stringProp(props, "Alias"),
			Connected: boolProp(props, "Connected"),
			Paired:    boolProp(props, "Paired"),
			Trusted:   boolProp(props, "Trusted"),
		}
		if obs.Address == "" {
			continue
		}
		if obs.Name == "" {
			obs.Name = stringProp(props, "Name")
		}
		if v, ok := props["RSSI"]; ok {
			obs.RSSI, _ = v.Value().(int16)
		}
		out = append(out, obs)
	}
	return out
}

// firstLocalSink returns the first sink in `pactl list short sinks` output
// that is not a Bluetooth sink
func firstLocalSink(output, bluetoothPrefix string) string {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if !strings.HasPrefix(fields[1], bluetoothPrefix) {
			return fields[1]
		}
	}
	return ""
}

func stringProp(props map[string]dbus.Variant, key string) string {
	if v, ok := props[key]; ok {
		s, _ := v.Value().(string)
		return s
	}
	return ""
}

func boolProp(props map[string]dbus.Variant, key string) bool {
	if v, ok := props[key]; ok {
		b, _ := v.Value().(bool)
		return b
	}
	return false
}

// isDBusError reports whether err is the named D-Bus error. godbus hands
// method call errors back as dbus.Error values.
func isDBusError(err error, name string) bool {
	var dbusErr dbus.Error
	return errors.As(err, &dbusErr) && dbusErr.Name == name
}

func runOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}
