// Command mock-provider stands in for both upstreams during local runs and load tests:
// an Evolution API server answering one route generation, and an in-memory helpdesk.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"medrelay/internal/config"
	"medrelay/internal/logging"
)

type server struct {
	cfg      config.MockConfig
	helpdesk *helpdesk
	client   *http.Client
	delay    time.Duration
}

func newServer(cfg config.MockConfig) *server {
	return &server{
		cfg:      cfg,
		helpdesk: newHelpdesk(),
		client:   &http.Client{Timeout: 5 * time.Second},
		delay:    time.Duration(cfg.MockDelayMs) * time.Millisecond,
	}
}

func (s *server) routes() http.Handler {
	router := mux.NewRouter()
	s.registerEvolution(router)
	s.registerHelpdesk(router)
	return loggingMiddleware(router)
}

func main() {
	cfg := config.LoadMock()
	logging.Init("mock-provider", cfg.LogFormat, cfg.LogLevel)

	s := newServer(cfg)
	slog.Info("mock provider listening", "port", cfg.Port, "evolution_api", cfg.MockEvolutionAPI)
	if err := http.ListenAndServe(":"+cfg.Port, s.routes()); err != nil {
		slog.Error("mock provider server failed", "err", err)
		os.Exit(1)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		slog.Info("mock provider request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// wait applies MOCK_DELAY_MS; it reports false when the caller went away.
func (s *server) wait(r *http.Request) bool {
	if s.delay <= 0 {
		return true
	}
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-r.Context().Done():
		return false
	case <-t.C:
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
