package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gorilla/mux"
)

var evolutionRoutes = map[string]map[string]string{
	"v1": {
		"text":    "/message/sendText/{instance}",
		"audio":   "/message/sendWhatsAppAudio/{instance}",
		"webhook": "/webhook/set/{instance}",
	},
	"v2": {
		"text":    "/message/send/text/{instance}",
		"audio":   "/message/send/audio/{instance}",
		"webhook": "/webhook/instance/{instance}",
	},
}

var sendSeq uint64

// registerEvolution mounts only the configured generation so clients have to fall back
// to it from the other one.
func (s *server) registerEvolution(r *mux.Router) {
	routes, ok := evolutionRoutes[strings.ToLower(s.cfg.MockEvolutionAPI)]
	if !ok {
		routes = evolutionRoutes["v1"]
	}
	r.HandleFunc(routes["text"], s.handleSend("text")).Methods(http.MethodPost)
	r.HandleFunc(routes["audio"], s.handleSend("audio")).Methods(http.MethodPost)
	r.HandleFunc(routes["webhook"], s.handleSetWebhook).Methods(http.MethodPost)
	// both generations share the instance routes
	r.HandleFunc("/instance/connectionState/{instance}", s.handleConnectionState).Methods(http.MethodGet)
	r.HandleFunc("/instance/connect/{instance}", s.handleConnect).Methods(http.MethodGet)
}

func (s *server) checkAPIKey(r *http.Request) bool {
	return r.Header.Get("apikey") == s.cfg.MockAPIKey
}

func (s *server) handleSend(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.checkAPIKey(r) {
			writeError(w, http.StatusUnauthorized, "invalid apikey")
			return
		}
		var body struct {
			Number string `json:"number"`
			Text   string `json:"text"`
			Audio  string `json:"audio"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if body.Number == "" || (kind == "text" && body.Text == "") || (kind == "audio" && body.Audio == "") {
			writeError(w, http.StatusBadRequest, "missing required field")
			return
		}
		if !s.wait(r) {
			return
		}
		id := fmt.Sprintf("MOCK%08X", atomic.AddUint64(&sendSeq, 1))
		writeJSON(w, http.StatusCreated, map[string]any{
			"key": map[string]any{
				"remoteJid": body.Number + "@s.whatsapp.net",
				"fromMe":    true,
				"id":        id,
			},
			"status":   "PENDING",
			"instance": mux.Vars(r)["instance"],
		})
	}
}

func (s *server) handleSetWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.checkAPIKey(r) {
		writeError(w, http.StatusUnauthorized, "invalid apikey")
		return
	}
	var body struct {
		URL     string            `json:"url"`
		Events  []string          `json:"events"`
		Headers map[string]string `json:"headers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"instanceName": mux.Vars(r)["instance"],
		"webhook":      map[string]any{"url": body.URL, "events": body.Events, "headers": body.Headers, "enabled": true},
	})
}

func (s *server) handleConnectionState(w http.ResponseWriter, r *http.Request) {
	if !s.checkAPIKey(r) {
		writeError(w, http.StatusUnauthorized, "invalid apikey")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instance": map[string]any{"instanceName": mux.Vars(r)["instance"], "state": "open"},
	})
}

func (s *server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !s.checkAPIKey(r) {
		writeError(w, http.StatusUnauthorized, "invalid apikey")
		return
	}
	out := map[string]any{"code": "2@mock-qr-" + mux.Vars(r)["instance"], "count": 1}
	if n := r.URL.Query().Get("number"); n != "" {
		out["pairingCode"] = fmt.Sprintf("MOCK%04d", len(n))
	}
	writeJSON(w, http.StatusOK, out)
}
