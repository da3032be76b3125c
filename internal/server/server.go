// ABOUTME: HTTP and WebSocket front end of BreezeBeats
// ABOUTME: Routes requests to the coordinator and queue, upgrades /ws to sessions
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/AutoBreezeBeats/breezebeats/internal/devices"
	"github.com/AutoBreezeBeats/breezebeats/internal/discovery"
	"github.com/AutoBreezeBeats/breezebeats/internal/playback"
	"github.com/AutoBreezeBeats/breezebeats/internal/protocol"
	"github.com/AutoBreezeBeats/breezebeats/internal/session"
	"github.com/AutoBreezeBeats/breezebeats/internal/version"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const shutdownTimeout = 5 * time.Second

// Config holds server configuration
type Config struct {
	Addr       string // Listen address, e.g. ":8000"
	Name       string // Friendly name advertised over mDNS
	WSPath     string
	EnableMDNS bool
}

// Registry is the read side of the device registry
type Registry interface {
	ListDevices() map[string]devices.DeviceSummary
	Sink() string
}

// Connector performs connection operations
type Connector interface {
	Connect(ctx context.Context, address string) error
	Disconnect(ctx context.Context, address string) error
	SetSink(ctx context.Context, address string) error
}

// ScanTrigger requests an immediate discovery tick
type ScanTrigger interface {
	ScanNow()
}

// Queue is the playback queue as seen by HTTP clients
type Queue interface {
	QueueVideo(ctx context.Context, rawURL string) (playback.Item, error)
	Snapshot() playback.Snapshot
}

// Sessions serves upgraded WebSocket connections
type Sessions interface {
	ServeConn(ctx context.Context, conn session.Conn) error
	Sessions() []session.Info
	Close(id string) bool
	Shutdown(ctx context.Context) error
}

// Thumbnails fetches item thumbnails into a local cache
type Thumbnails interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// Deps are the components the server fronts
type Deps struct {
	Registry    Registry
	Coordinator Connector
	Scanner     ScanTrigger
	Queue       Queue
	Sessions    Sessions
	Thumbnails  Thumbnails // Optional
	Logger      *slog.Logger
}

// Server is the BreezeBeats HTTP server
type Server struct {
	config   Config
	deps     Deps
	logger   *slog.Logger
	serverID string

	upgrader websocket.Upgrader
	mux      *http.ServeMux

	mu         sync.Mutex
	httpServer *http.Server
	ctx        context.Context
	listener   net.Listener
}

// New creates a server and registers its routes
func New(config Config, deps Deps) *Server {
	if config.Addr == "" {
		config.Addr = ":8000"
	}
	if config.WSPath == "" {
		config.WSPath = "/ws"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   config,
		deps:     deps,
		logger:   logger,
		serverID: uuid.New().String(),
		mux:      http.NewServeMux(),
		ctx:      context.Background(),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// Trusted local network only; any origin is accepted
			if origin := r.Header.Get("Origin"); origin != "" {
				s.logger.Debug("accepting websocket origin", "origin", origin)
			}
			return true
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /host", s.handleHost)
	s.mux.HandleFunc("GET /devices", s.handleListDevices)
	s.mux.HandleFunc("POST /devices/connect", s.handleConnect)
	s.mux.HandleFunc("POST /devices/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("PUT /devices/set-sink", s.handleSetSink)
	s.mux.HandleFunc("POST /devices/scan", s.handleScan)
	s.mux.HandleFunc("GET /queue", s.handleQueue)
	s.mux.HandleFunc("GET /queue/{id}/thumbnail", s.handleThumbnail)
	s.mux.HandleFunc("POST /video", s.handleVideo)
	s.mux.HandleFunc("GET /sessions", s.handleListSessions)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleCloseSession)
	s.mux.HandleFunc("GET "+s.config.WSPath, s.handleWebSocket)
}

// Handler returns the routed handler with request logging
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ID returns this server instance's identifier
func (s *Server) ID() string {
	return s.serverID
}

// Snapshot builds the hello payload new sessions start with
type Snapshot struct {
	Name     string
	Registry Registry
	Queue    Queue
}

// Hello implements session.Snapshotter
func (s Snapshot) Hello(sessionID string) protocol.Hello {
	hello := protocol.Hello{
		SessionID: sessionID,
		Server:    s.Name,
		Version:   version.Version,
	}
	if s.Registry != nil {
		hello.Devices = s.Registry.ListDevices()
	}
	if s.Queue != nil {
		hello.Queue = s.Queue.Snapshot()
	}
	return hello
}

// Listen binds the listen address. Run calls it when it has not been called.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Run serves until ctx is cancelled or the listener fails, then shuts down
// sessions, mDNS and the HTTP server.
func (s *Server) Run(ctx context.Context) error {
	addr, err := s.Listen()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ctx = ctx
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer := s.httpServer
	listener := s.listener
	s.mu.Unlock()

	s.logger.Info("server starting", "name", s.config.Name, "id", s.serverID, "addr", addr.String())

	var mdnsManager *discovery.Manager
	if s.config.EnableMDNS {
		mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        addr.(*net.TCPAddr).Port,
			Path:        s.config.WSPath,
		}, s.logger)
		if err := mdnsManager.Advertise(); err != nil {
			s.logger.Warn("failed to start mDNS advertisement", "error", err)
			mdnsManager = nil
		}
	}

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("server shutting down")
	case err := <-errChan:
		s.logger.Error("HTTP server error", "error", err)
		serverErr = err
	}

	if mdnsManager != nil {
		mdnsManager.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.deps.Sessions != nil {
		if err := s.deps.Sessions.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("session shutdown incomplete", "error", err)
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown error", "error", err)
	}

	s.logger.Info("server stopped cleanly")
	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// handleWebSocket upgrades the request and hands the connection to the
// session manager for its whole life
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", "error", err)
		return
	}

	s.logger.Debug("new websocket connection", "remote", r.RemoteAddr)

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.deps.Sessions.ServeConn(ctx, conn); err != nil {
		s.logger.Info("websocket session refused", "remote", r.RemoteAddr, "error", err)
	}
}
