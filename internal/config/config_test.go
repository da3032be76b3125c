// ABOUTME: Tests for config loading, validation and hot reload
// ABOUTME: Covers TOML and YAML files, defaults and invalid values
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Scan.Interval.Duration())
	assert.Equal(t, []string{ResolverYTDLP, ResolverMP3, ResolverDirect}, cfg.Media.Resolvers)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
addr = "127.0.0.1:9000"
name = "kitchen"

[scan]
interval = "30s"

[bluetooth]
default_sink = "alsa_output.pci"

[media]
resolvers = ["direct"]

[log]
level = "debug"
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "kitchen", cfg.Server.Name)
	assert.Equal(t, "/ws", cfg.Server.WSPath, "unset keys keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Scan.Interval.Duration())
	assert.Equal(t, 8*time.Second, cfg.Scan.Timeout.Duration())
	assert.Equal(t, "alsa_output.pci", cfg.Bluetooth.DefaultSink)
	assert.Equal(t, []string{ResolverDirect}, cfg.Media.Resolvers)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  mdns: false
scan:
  interval: 1m
queue:
  history_size: 5
log:
  level: warn
  file: /tmp/breezebeats.log
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Server.MDNS)
	assert.Equal(t, time.Minute, cfg.Scan.Interval.Duration())
	assert.Equal(t, 5, cfg.Queue.HistorySize)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel())
	assert.Equal(t, "/tmp/breezebeats.log", cfg.Log.File)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad duration", "[scan]\ninterval = \"soon\"\n"},
		{"interval too short", "[scan]\ninterval = \"100ms\"\n"},
		{"unknown resolver", "[media]\nresolvers = [\"vlc\"]\n"},
		{"no resolvers", "[media]\nresolvers = []\n"},
		{"bad level", "[log]\nlevel = \"loud\"\n"},
		{"relative ws path", "[server]\nws_path = \"ws\"\n"},
		{"zero buffer", "[bus]\nbuffer = 0\n"},
		{"negative history", "[queue]\nhistory_size = -1\n"},
		{"syntax", "[server\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), ".toml")
			assert.Error(t, err)
		})
	}
}

func TestDurationMarshal(t *testing.T) {
	text, err := Duration(90 * time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[scan]\ninterval = \"10s\"\n"), 0600))

	var mu sync.Mutex
	var got []*Config
	w, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		got = append(got, cfg)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	// Invalid edits are ignored
	require.NoError(t, os.WriteFile(path, []byte("[scan]\ninterval = \"nope\"\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1\n"), 0600))
	require.NoError(t, os.WriteFile(path, []byte("[scan]\ninterval = \"45s\"\n"), 0600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[len(got)-1].Scan.Interval.Duration() == 45*time.Second
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, cfg := range got {
		assert.NotEqual(t, time.Duration(0), cfg.Scan.Interval.Duration())
	}
}

func TestWatcherStopIsIdempotentBeforeStart(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "config.toml"), func(*Config) {}, nil)
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
}
