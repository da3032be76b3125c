// ABOUTME: HTTP handlers for devices, queue and host details
// ABOUTME: Typed errors from the core are mapped to status codes in one place
package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AutoBreezeBeats/breezebeats/internal/devices"
	"github.com/AutoBreezeBeats/breezebeats/internal/discovery"
	"github.com/AutoBreezeBeats/breezebeats/internal/playback"
	"github.com/AutoBreezeBeats/breezebeats/internal/session"
	"github.com/AutoBreezeBeats/breezebeats/internal/version"
)

const maxBodyBytes = 64 << 10

// addressRequest is the body of connect and disconnect
type addressRequest struct {
	Address string `json:"address"`
}

// sinkRequest is the body of set-sink; a null or missing address selects
// the system default
type sinkRequest struct {
	Address *string `json:"address"`
}

// videoRequest is the body of /video
type videoRequest struct {
	URL string `json:"url"`
}

// HostDetails is the body of /host
type HostDetails struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Version  string   `json:"version"`
	Name     string   `json:"name"`
	Hostname string   `json:"hostname"`
	IPs      []string `json:"ips"`
}

// ErrorBody is the body of every error response
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "OK")
}

func (s *Server) handleHost(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	details := HostDetails{
		ID:       s.ID(),
		Title:    version.Title,
		Version:  version.Version,
		Name:     s.config.Name,
		Hostname: hostname,
		IPs:      []string{},
	}
	if ips, err := discovery.LocalIPs(); err == nil {
		for _, ip := range ips {
			details.IPs = append(details.IPs, ip.String())
		}
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.ListDevices())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if !s.decodeAddress(w, r, &req) {
		return
	}

	s.logger.Info("request to connect received", "address", req.Address)
	if err := s.deps.Coordinator.Connect(r.Context(), req.Address); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("successfully connected", "address", req.Address)
	writeJSON(w, http.StatusOK, map[string]string{"status": "Connected"})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if !s.decodeAddress(w, r, &req) {
		return
	}

	s.logger.Info("request to disconnect received", "address", req.Address)
	if err := s.deps.Coordinator.Disconnect(r.Context(), req.Address); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("successfully disconnected", "address", req.Address)
	writeJSON(w, http.StatusOK, map[string]string{"status": "Disconnected"})
}

func (s *Server) handleSetSink(w http.ResponseWriter, r *http.Request) {
	var req sinkRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}

	address := ""
	if req.Address != nil {
		address = strings.TrimSpace(*req.Address)
	}

	if address == "" {
		s.logger.Info("set default as playback device")
	} else {
		s.logger.Info("set new playback device", "address", address)
	}

	if err := s.deps.Coordinator.SetSink(r.Context(), address); err != nil {
		s.writeError(w, err)
		return
	}

	message := "default set as new sink"
	if address != "" {
		message = fmt.Sprintf("%s set as new sink", address)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scanner != nil {
		s.deps.Scanner.ScanNow()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "Scanning"})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Queue.Snapshot())
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Thumbnails == nil {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: "no_thumbnail", Message: "thumbnails are disabled"})
		return
	}

	id := r.PathValue("id")
	item, ok := findItem(s.deps.Queue.Snapshot(), id)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: "unknown_item", Message: "no queue item " + id})
		return
	}
	if item.Thumbnail == "" {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: "no_thumbnail", Message: item.Title + " has no thumbnail"})
		return
	}

	path, err := s.deps.Thumbnails.Fetch(r.Context(), item.Thumbnail)
	if err != nil {
		s.logger.Warn("thumbnail fetch failed", "item", id, "error", err)
		writeJSON(w, http.StatusBadGateway, ErrorBody{Error: "thumbnail_failed", Message: err.Error()})
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos := []session.Info{}
	if s.deps.Sessions != nil {
		infos = append(infos, s.deps.Sessions.Sessions()...)
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.deps.Sessions == nil || !s.deps.Sessions.Close(id) {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: "unknown_session", Message: "no session " + id})
		return
	}
	s.logger.Info("session closed by request", "session", id)
	w.WriteHeader(http.StatusNoContent)
}

// findItem looks an item up in the queue and its history
func findItem(snap playback.Snapshot, id string) (playback.Item, bool) {
	for _, items := range [][]playback.Item{snap.Items, snap.History} {
		for _, item := range items {
			if item.ID == id {
				return item, true
			}
		}
	}
	return playback.Item{}, false
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	var req videoRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeBadRequest(w, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.writeBadRequest(w, errors.New("url is required"))
		return
	}

	s.logger.Info("request to add video received", "url", req.URL)
	item, err := s.deps.Queue.QueueVideo(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) decodeAddress(w http.ResponseWriter, r *http.Request, req *addressRequest) bool {
	if err := decodeBody(r, req); err != nil {
		s.writeBadRequest(w, err)
		return false
	}
	req.Address = strings.TrimSpace(req.Address)
	if req.Address == "" {
		s.writeBadRequest(w, errors.New("address is required"))
		return false
	}
	return true
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor maps core errors to an HTTP status and a stable error code
func statusFor(err error) (int, string) {
	var busy *devices.BusyError
	var connectErr *devices.ConnectError
	var disconnectErr *devices.DisconnectError
	var sinkErr *devices.SinkError
	var resolutionErr *playback.ResolutionError

	switch {
	case errors.As(err, &busy):
		return http.StatusConflict, "busy"
	case errors.Is(err, devices.ErrUnknownDevice):
		return http.StatusNotFound, "unknown_device"
	case errors.As(err, &connectErr):
		return http.StatusBadGateway, "connect_failed"
	case errors.As(err, &disconnectErr):
		return http.StatusBadGateway, "disconnect_failed"
	case errors.As(err, &sinkErr):
		return http.StatusBadGateway, "sink_failed"
	case errors.Is(err, playback.ErrInvalidURL):
		return http.StatusBadRequest, "invalid_url"
	case errors.As(err, &resolutionErr):
		return http.StatusUnprocessableEntity, "resolution_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	message := err.Error()

	var sinkErr *devices.SinkError
	if errors.As(err, &sinkErr) {
		message = sinkErr.Reason
	}

	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "status", status, "error", err)
	} else {
		s.logger.Info("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, ErrorBody{Error: code, Message: message})
}

func (s *Server) writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, ErrorBody{Error: "bad_request", Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the response status for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrader take over the connection
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
