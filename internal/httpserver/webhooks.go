package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"medrelay/internal/relay"
)

const maxWebhookBody = 4 << 20

type InboundRelay interface {
	Handle(ctx context.Context, pathEvent string, body []byte) (relay.Outcome, error)
}

type OutboundRelay interface {
	Authorize(secret string) bool
	Handle(ctx context.Context, body []byte) (relay.Outcome, error)
}

// Enqueuer hands a raw webhook to the relay worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, direction, event string, body []byte) error
}

// Webhooks serves both provider callbacks. Apart from a bad shared secret every
// request is answered 200 with an {"ok":true,...} body.
type Webhooks struct {
	Inbound  InboundRelay
	Outbound OutboundRelay
	// InboundSecret is optional; when empty the WhatsApp webhook is open.
	InboundSecret string
	// Queue switches both webhooks to enqueue-and-ack.
	Queue Enqueuer
}

func (h *Webhooks) Register(r *mux.Router) {
	r.HandleFunc("/webhooks/whatsapp", h.handleWhatsApp).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/whatsapp/{event}", h.handleWhatsApp).Methods(http.MethodPost)
	r.HandleFunc("/integrations/helpdesk/events", h.handleHelpdesk).Methods(http.MethodPost)
}

func (h *Webhooks) handleWhatsApp(w http.ResponseWriter, r *http.Request) {
	if h.InboundSecret != "" && !sameSecret(inboundToken(r), h.InboundSecret) {
		writeJSON(w, http.StatusUnauthorized, errorBody(ErrInvalidToken))
		return
	}
	event := mux.Vars(r)["event"]

	body, ok := readBody(w, r)
	if !ok {
		writeJSON(w, http.StatusOK, relay.Ignored(relay.ReasonInvalidJSON))
		return
	}
	if h.enqueue(r.Context(), relay.DirectionInbound, event, body) {
		writeJSON(w, http.StatusOK, relay.Outcome{OK: true, Queued: true})
		return
	}

	out, err := h.Inbound.Handle(r.Context(), event, body)
	if err != nil {
		slog.Error("inbound relay failed", "reason", out.Ignored, "err", err)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Webhooks) handleHelpdesk(w http.ResponseWriter, r *http.Request) {
	if !h.Outbound.Authorize(r.URL.Query().Get("secret")) {
		writeJSON(w, http.StatusUnauthorized, errorBody(ErrInvalidSecret))
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		writeJSON(w, http.StatusOK, relay.Ignored(relay.ReasonInvalidJSON))
		return
	}
	if h.enqueue(r.Context(), relay.DirectionOutbound, "", body) {
		writeJSON(w, http.StatusOK, relay.Outcome{OK: true, Queued: true})
		return
	}

	out, err := h.Outbound.Handle(r.Context(), body)
	if err != nil {
		slog.Error("outbound relay failed", "reason", out.Ignored, "err", err)
	}
	writeJSON(w, http.StatusOK, out)
}

// enqueue reports whether the webhook was queued. A failed enqueue falls back to
// relaying inside the request.
func (h *Webhooks) enqueue(ctx context.Context, direction, event string, body []byte) bool {
	if h.Queue == nil {
		return false
	}
	if err := h.Queue.Enqueue(ctx, direction, event, body); err != nil {
		slog.Error("relay enqueue failed, relaying inline", "direction", direction, "err", err)
		return false
	}
	return true
}

// InboundTokenHeader carries the WhatsApp webhook secret. The provider is told to
// send it when the webhook is registered.
const InboundTokenHeader = "X-Webhook-Token"

func inboundToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return r.Header.Get(InboundTokenHeader)
}

func sameSecret(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		slog.Info("webhook body unreadable", "path", r.URL.Path, "err", err)
		return nil, false
	}
	return body, true
}

func errorBody(msg string) map[string]any {
	return map[string]any{"ok": false, "error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
