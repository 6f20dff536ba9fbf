package api

import (
	"log/slog"
	"net/http"
	"time"
)

// Server is the standalone HTTP server for the fusion API.
type Server struct {
	server *http.Server
	mux    *http.ServeMux
}

// NewServer creates a server with every API route registered.
func NewServer(addr string, h *Handlers) *Server {
	mux := http.NewServeMux()
	SetupRoutes(mux, h)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"healthy","service":"fusion-api"}`)); err != nil {
			slog.Error("Failed to write health response", "error", err)
		}
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{server: server, mux: mux}
}

// Start starts the server and blocks until it stops.
func (s *Server) Start() error {
	slog.Info("Starting fusion API server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the server.
func (s *Server) Stop() error {
	slog.Info("Stopping fusion API server")
	return s.server.Close()
}

// GetMux returns the HTTP mux for custom route additions.
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}
