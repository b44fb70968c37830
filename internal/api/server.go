// Package api exposes the monitored statuses over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/nikicat/unitbar/internal/status"
)

// Server is the HTTP API server. It listens on TCP and, optionally, on a
// Unix socket restricted to same-UID peers.
type Server struct {
	httpServer *http.Server
	registry   *status.Registry
	wsHandler  *WSHandler
	listener   net.Listener
	unixLn     net.Listener

	// UnixSocketPath is the Unix socket path, or "" when disabled.
	UnixSocketPath string
}

// NewServer creates an API server listening on addr. A non-empty unixSocket
// adds a second listener on that path.
func NewServer(addr, unixSocket string, registry *status.Registry) (*Server, error) {
	wsHandler := NewWSHandler(registry)
	s := &Server{
		registry:  registry,
		wsHandler: wsHandler,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", getOnly(s.handleStatus))
	mux.HandleFunc("/api/v1/ws", getOnly(wsHandler.HandleWS))

	// Create listeners first to catch address-in-use errors early
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	if unixSocket != "" {
		unixLn, err := listenUnix(unixSocket)
		if err != nil {
			listener.Close()
			return nil, err
		}
		s.unixLn = unixLn
		s.UnixSocketPath = unixSocket
	}

	s.httpServer = &http.Server{
		Handler:     requireSameUser(mux),
		ConnContext: connContext,
	}
	s.listener = listener
	return s, nil
}

// getOnly restricts a handler to GET (and HEAD) requests, matching the
// behavior of a "GET /path" ServeMux pattern on Go 1.22+.
func getOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", http.MethodGet+", "+http.MethodHead)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// listenUnix creates the socket directory and listener, replacing a stale
// socket from a previous run.
func listenUnix(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// handleStatus returns the latest known status for every monitored service.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.registry.Snapshot()); err != nil {
		slog.Debug("failed to write status response", "error", err)
	}
}

// Start begins serving HTTP requests. This is non-blocking.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	if s.unixLn != nil {
		go func() {
			if err := s.httpServer.Serve(s.unixLn); err != nil && err != http.ErrServerClosed {
				slog.Error("HTTP server error on unix socket", "error", err)
			}
		}()
	}
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
