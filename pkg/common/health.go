package common

import (
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

// HealthServer exposes liveness and readiness endpoints. Liveness reports
// healthy as soon as the process is up; readiness flips only after the
// caller stores true, which happens once persisted state has been hydrated.
type HealthServer struct {
	server *http.Server
	ready  *atomic.Bool
}

// NewHealthServer starts an HTTP server for health checks on HEALTH_PORT
// (default 8080). The returned server is already listening.
func NewHealthServer(ready *atomic.Bool) *HealthServer {
	port := os.Getenv("HEALTH_PORT")
	if port == "" {
		port = "8080"
	}

	hs := &HealthServer{ready: ready}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", hs.handleHealth)
	mux.HandleFunc("/v1/readiness", hs.handleReadiness)

	hs.server = &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "health server stopped: %v\n", err)
		}
	}()

	return hs
}

// Server returns the underlying HTTP server for shutdown control.
func (hs *HealthServer) Server() *http.Server { return hs.server }

func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (hs *HealthServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !hs.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
