package httpserver

import (
	"net/http"

	"github.com/gorilla/mux"

	"medrelay/internal/observability"
)

type Server struct {
	Mux *mux.Router
}

// New returns a router that counts requests per route template.
func New() *Server {
	r := mux.NewRouter()
	r.Use(Metrics(observability.HTTPRequests))
	return &Server{Mux: r}
}

// Handler is the root handler with access logging.
func (s *Server) Handler() http.Handler {
	return Logging(s.Mux)
}
