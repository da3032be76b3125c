// ABOUTME: Tests for mDNS discovery
// ABOUTME: Tests manager defaults and service entry decoding
package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Living Room", Port: 8000}, nil)
	if mgr == nil {
		t.Fatal("expected manager to be created")
	}
	if mgr.config.Path != "/ws" {
		t.Errorf("expected default path /ws, got %s", mgr.config.Path)
	}

	// Stopping a manager that never advertised is harmless
	mgr.Stop()
}

func TestServerFromEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry mdns.ServiceEntry
		want  ServerInfo
	}{
		{
			name: "ipv4 with path",
			entry: mdns.ServiceEntry{
				Name:       "Living Room._breezebeats._tcp.local.",
				AddrV4:     net.ParseIP("192.168.1.20"),
				Port:       8000,
				InfoFields: []string{"path=/socket"},
			},
			want: ServerInfo{Name: "Living Room._breezebeats._tcp.local.", Host: "192.168.1.20", Port: 8000, Path: "/socket"},
		},
		{
			name:  "host only",
			entry: mdns.ServiceEntry{Name: "x", Host: "pi.local.", Port: 9000},
			want:  ServerInfo{Name: "x", Host: "pi.local.", Port: 9000, Path: "/ws"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := tt.entry
			got := serverFromEntry(&entry)
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestServerInfoAddr(t *testing.T) {
	s := ServerInfo{Host: "192.168.1.20", Port: 8000}
	if s.Addr() != "192.168.1.20:8000" {
		t.Errorf("unexpected addr %s", s.Addr())
	}
}

func TestLocalIPsExcludesLoopback(t *testing.T) {
	ips, err := LocalIPs()
	if err != nil {
		t.Fatalf("LocalIPs failed: %v", err)
	}
	for _, ip := range ips {
		if ip.IsLoopback() {
			t.Errorf("loopback address %s returned", ip)
		}
		if ip.To4() == nil {
			t.Errorf("non-IPv4 address %s returned", ip)
		}
	}
}
