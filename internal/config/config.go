// ABOUTME: Configuration file loading for the BreezeBeats server
// ABOUTME: TOML or YAML by extension, overlaid on defaults and validated
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Resolver names accepted in media.resolvers
const (
	ResolverYTDLP  = "ytdlp"
	ResolverMP3    = "mp3"
	ResolverDirect = "direct"
)

// Duration is a time.Duration read from strings like "10s" or "1m30s"
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML parsing
func (d *Duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: must be like '10s', '1m' or '1h30m': %w", string(text), err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the server configuration
type Config struct {
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Scan      ScanConfig      `toml:"scan" yaml:"scan"`
	Bluetooth BluetoothConfig `toml:"bluetooth" yaml:"bluetooth"`
	Media     MediaConfig     `toml:"media" yaml:"media"`
	Queue     QueueConfig     `toml:"queue" yaml:"queue"`
	Bus       BusConfig       `toml:"bus" yaml:"bus"`
	Log       LogConfig       `toml:"log" yaml:"log"`
}

// ServerConfig holds the HTTP and WebSocket listener settings
type ServerConfig struct {
	Addr   string `toml:"addr" yaml:"addr"`
	Name   string `toml:"name" yaml:"name"` // Empty = hostname
	WSPath string `toml:"ws_path" yaml:"ws_path"`
	MDNS   bool   `toml:"mdns" yaml:"mdns"`
}

// ScanConfig holds discovery loop settings. Interval is hot-reloadable.
type ScanConfig struct {
	Interval Duration `toml:"interval" yaml:"interval"`
	Timeout  Duration `toml:"timeout" yaml:"timeout"`
}

// BluetoothConfig holds BlueZ and audio server settings
type BluetoothConfig struct {
	Adapter     string `toml:"adapter" yaml:"adapter"`
	PactlPath   string `toml:"pactl_path" yaml:"pactl_path"`
	SinkPrefix  string `toml:"sink_prefix" yaml:"sink_prefix"`
	SinkSuffix  string `toml:"sink_suffix" yaml:"sink_suffix"`
	DefaultSink string `toml:"default_sink" yaml:"default_sink"`
}

// MediaConfig holds URL resolution settings
type MediaConfig struct {
	Resolvers      []string `toml:"resolvers" yaml:"resolvers"` // Tried in order
	YTDLPPath      string   `toml:"ytdlp_path" yaml:"ytdlp_path"`
	ResolveTimeout Duration `toml:"resolve_timeout" yaml:"resolve_timeout"`
}

// QueueConfig holds playback queue settings
type QueueConfig struct {
	HistorySize int `toml:"history_size" yaml:"history_size"`
}

// BusConfig holds event bus settings
type BusConfig struct {
	Buffer int `toml:"buffer" yaml:"buffer"` // Events per subscriber before it is dropped
}

// LogConfig holds logging settings. Level is hot-reloadable.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
	File  string `toml:"file" yaml:"file"` // Empty = stderr only
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:   ":8000",
			WSPath: "/ws",
			MDNS:   true,
		},
		Scan: ScanConfig{
			Interval: Duration(10 * time.Second),
			Timeout:  Duration(8 * time.Second),
		},
		Bluetooth: BluetoothConfig{
			Adapter:    "hci0",
			PactlPath:  "pactl",
			SinkPrefix: "bluez_output.",
			SinkSuffix: ".1",
		},
		Media: MediaConfig{
			Resolvers:      []string{ResolverYTDLP, ResolverMP3, ResolverDirect},
			YTDLPPath:      "yt-dlp",
			ResolveTimeout: Duration(60 * time.Second),
		},
		Queue: QueueConfig{
			HistorySize: 50,
		},
		Bus: BusConfig{
			Buffer: 100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Path returns the default config file path under the user config dir
func Path() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "breezebeats", "config.toml"), nil
}

// Load reads the config at path, or the default path when empty. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := Path()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Parse decodes data over the defaults. ext selects the format: ".yaml" and
// ".yml" are YAML, anything else TOML.
func Parse(data []byte, ext string) (*Config, error) {
	config := DefaultConfig()

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /, got %q", c.Server.WSPath)
	}

	if c.Scan.Interval.Duration() < time.Second {
		return fmt.Errorf("scan.interval must be at least 1s, got %s", c.Scan.Interval.Duration())
	}
	if c.Scan.Timeout.Duration() <= 0 {
		return fmt.Errorf("scan.timeout must be positive")
	}

	if c.Bluetooth.Adapter == "" {
		return fmt.Errorf("bluetooth.adapter is required")
	}

	if len(c.Media.Resolvers) == 0 {
		return fmt.Errorf("media.resolvers must name at least one resolver")
	}
	valid := map[string]bool{ResolverYTDLP: true, ResolverMP3: true, ResolverDirect: true}
	for _, name := range c.Media.Resolvers {
		if !valid[name] {
			return fmt.Errorf("invalid resolver %q, must be one of: %s, %s, %s", name, ResolverYTDLP, ResolverMP3, ResolverDirect)
		}
	}
	if c.Media.ResolveTimeout.Duration() <= 0 {
		return fmt.Errorf("media.resolve_timeout must be positive")
	}

	if c.Queue.HistorySize < 0 {
		return fmt.Errorf("queue.history_size must not be negative, got %d", c.Queue.HistorySize)
	}
	if c.Bus.Buffer < 1 {
		return fmt.Errorf("bus.buffer must be at least 1, got %d", c.Bus.Buffer)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// LogLevel returns the configured slog level
func (c *Config) LogLevel() slog.Level {
	level, _ := ParseLevel(c.Log.Level)
	return level
}

// ParseLevel parses debug, info, warn or error
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q, must be debug, info, warn or error", s)
	}
	return level, nil
}
