package httpserver

import (
	"context"
	"net/http"
	"time"
)

type ReadyzCheck = func(ctx context.Context) error

func Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

// Readyz answers 503 when any dependency check fails within timeout.
func Readyz(timeout time.Duration, checks ...ReadyzCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		for _, check := range checks {
			if check == nil {
				continue
			}
			if err := check(ctx); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

// RegisterHealth mounts the probe routes.
func (s *Server) RegisterHealth(timeout time.Duration, checks ...ReadyzCheck) {
	s.Mux.HandleFunc("/healthz", Healthz()).Methods(http.MethodGet)
	s.Mux.HandleFunc("/readyz", Readyz(timeout, checks...)).Methods(http.MethodGet)
}
