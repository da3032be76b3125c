// ABOUTME: mDNS advertisement and lookup of BreezeBeats control servers
// ABOUTME: Also reports the host's addresses for display
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	// ServiceType is the DNS-SD service type of the control server
	ServiceType = "_breezebeats._tcp"

	DefaultBrowseTimeout = 3 * time.Second
)

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string // WebSocket path advertised in the TXT record
}

// Manager handles mDNS advertisement
type Manager struct {
	config Config
	logger *slog.Logger

	mu     sync.Mutex
	server *mdns.Server
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// Addr returns host:port
func (s ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprintf("%d", s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Path == "" {
		config.Path = "/ws"
	}
	return &Manager{config: config, logger: logger}
}

// Advertise starts answering mDNS queries for this server until Stop
func (m *Manager) Advertise() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server != nil {
		return nil
	}

	ips, err := LocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=" + m.config.Path},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	m.server = server

	m.logger.Info("advertising mDNS service", "name", m.config.ServiceName, "port", m.config.Port, "type", ServiceType)
	return nil
}

// Stop withdraws the advertisement
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server == nil {
		return
	}
	if err := m.server.Shutdown(); err != nil {
		m.logger.Warn("mdns shutdown failed", "error", err)
	}
	m.server = nil
}

// Browse runs one mDNS query and returns the servers that answered
func Browse(ctx context.Context, timeout time.Duration) ([]ServerInfo, error) {
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	var servers []ServerInfo
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			servers = append(servers, serverFromEntry(entry))
		}
	}()

	params := &mdns.QueryParam{
		Service:     ServiceType,
		Domain:      "local",
		Timeout:     timeout,
		Entries:     entries,
		DisableIPv6: true,
	}

	err := mdns.QueryContext(ctx, params)
	close(entries)
	<-done

	if err != nil {
		return servers, fmt.Errorf("mdns query failed: %w", err)
	}
	return servers, nil
}

func serverFromEntry(entry *mdns.ServiceEntry) ServerInfo {
	info := ServerInfo{Name: entry.Name, Port: entry.Port, Path: "/ws"}
	if entry.AddrV4 != nil {
		info.Host = entry.AddrV4.String()
	} else if entry.AddrV6 != nil {
		info.Host = entry.AddrV6.String()
	} else {
		info.Host = entry.Host
	}
	for _, field := range entry.InfoFields {
		if len(field) > 5 && field[:5] == "path=" {
			info.Path = field[5:]
		}
	}
	return info
}

// LocalIPs returns the non-loopback IPv4 addresses of interfaces that are up
func LocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
