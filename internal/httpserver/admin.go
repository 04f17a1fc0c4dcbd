package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"medrelay/internal/domain"
	"medrelay/internal/providers"
	"medrelay/internal/providers/chatwoot"
	"medrelay/internal/providers/evolution"
)

type TenantAdmin interface {
	Create(ctx context.Context, name string) (domain.Tenant, error)
	Get(ctx context.Context, id string) (domain.Tenant, bool, error)
	Bind(ctx context.Context, tenantID, instance string) error
	ConfigureHelpdesk(ctx context.Context, tenantID string, b domain.HelpdeskBinding) error
	Deactivate(ctx context.Context, id string) error
}

type InstanceManager interface {
	SetWebhook(ctx context.Context, instance string, s evolution.WebhookSettings) error
	ConnectionState(ctx context.Context, instance string) (string, error)
	Connect(ctx context.Context, instance, number string) (evolution.Pairing, error)
}

type InboxProvisioner interface {
	CreateInbox(ctx context.Context, acct chatwoot.Account, name, webhookURL string) (chatwoot.Inbox, error)
}

// WebhookEvents are the provider events subscribed when registering a tenant's instance.
var WebhookEvents = []string{"MESSAGES_UPSERT", "CONNECTION_UPDATE"}

// Admin is the operator API for tenant bindings, guarded by a static key.
// InboundSecret and HelpdeskSecret are the webhook secrets handed to the providers
// when this service registers itself with them.
type Admin struct {
	Tenants        TenantAdmin
	WhatsApp       InstanceManager
	Helpdesk       InboxProvisioner
	Key            string
	PublicBaseURL  string
	InboundSecret  string
	HelpdeskSecret string
	Validate       *validator.Validate
}

// Register mounts the admin routes. Nothing is mounted without a key.
func (a *Admin) Register(r *mux.Router) {
	if a.Key == "" {
		slog.Warn("admin api disabled, no key configured")
		return
	}
	if a.Validate == nil {
		a.Validate = validator.New()
	}
	sub := r.PathPrefix("/admin").Subrouter()
	sub.Use(a.requireKey)
	sub.HandleFunc("/tenants", a.handleCreate).Methods(http.MethodPost)
	sub.HandleFunc("/tenants/{id}", a.handleGet).Methods(http.MethodGet)
	sub.HandleFunc("/tenants/{id}/whatsapp", a.handleBindWhatsApp).Methods(http.MethodPut)
	sub.HandleFunc("/tenants/{id}/helpdesk", a.handleConfigureHelpdesk).Methods(http.MethodPut)
	sub.HandleFunc("/tenants/{id}/deactivate", a.handleDeactivate).Methods(http.MethodPost)
	if a.WhatsApp != nil {
		sub.HandleFunc("/tenants/{id}/whatsapp/status", a.handleWhatsAppStatus).Methods(http.MethodGet)
		sub.HandleFunc("/tenants/{id}/whatsapp/connect", a.handleWhatsAppConnect).Methods(http.MethodPost)
	}
	if a.WhatsApp != nil && a.PublicBaseURL != "" {
		sub.HandleFunc("/tenants/{id}/whatsapp/webhook", a.handleRegisterWebhook).Methods(http.MethodPost)
	}
	// the helpdesk only accepts webhooks carrying the secret
	if a.Helpdesk != nil && a.PublicBaseURL != "" && a.HelpdeskSecret != "" {
		sub.HandleFunc("/tenants/{id}/helpdesk/provision", a.handleProvisionHelpdesk).Methods(http.MethodPost)
	}
}

func (a *Admin) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !sameSecret(r.Header.Get("X-Admin-Key"), a.Key) {
			http.Error(w, ErrUnauthorized, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Admin) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return false
	}
	if err := a.Validate.Struct(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (a *Admin) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateTenantRequest
	if !a.decode(w, r, &req) {
		return
	}
	t, err := a.Tenants.Create(r.Context(), req.Name)
	if err != nil {
		slog.Error("create tenant failed", "err", err)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	slog.Info("tenant created", "tenant_id", t.ID)
	writeJSON(w, http.StatusCreated, t)
}

func (a *Admin) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, found, err := a.Tenants.Get(r.Context(), id)
	if err != nil {
		slog.Error("get tenant failed", "err", err, "tenant_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *Admin) handleBindWhatsApp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req domain.BindWhatsAppRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.Tenants.Bind(r.Context(), id, req.Instance); err != nil {
		a.bindingError(w, err, id)
		return
	}
	a.respondTenant(w, r, id)
}

func (a *Admin) handleConfigureHelpdesk(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req domain.ConfigureHelpdeskRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.Tenants.ConfigureHelpdesk(r.Context(), id, req.Binding()); err != nil {
		a.bindingError(w, err, id)
		return
	}
	a.respondTenant(w, r, id)
}

func (a *Admin) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.Tenants.Deactivate(r.Context(), id); err != nil {
		a.bindingError(w, err, id)
		return
	}
	slog.Info("tenant deactivated", "tenant_id", id)
	a.respondTenant(w, r, id)
}

// instanceTenant loads the tenant addressed by the route and requires a bound instance.
func (a *Admin) instanceTenant(w http.ResponseWriter, r *http.Request) (domain.Tenant, bool) {
	id := mux.Vars(r)["id"]
	t, found, err := a.Tenants.Get(r.Context(), id)
	if err != nil {
		slog.Error("get tenant failed", "err", err, "tenant_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return t, false
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return t, false
	}
	if t.WhatsAppInstance == "" {
		http.Error(w, ErrNoInstance, http.StatusConflict)
		return t, false
	}
	return t, true
}

func (a *Admin) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	t, ok := a.instanceTenant(w, r)
	if !ok {
		return
	}

	settings := evolution.WebhookSettings{
		URL:      strings.TrimRight(a.PublicBaseURL, "/") + "/webhooks/whatsapp",
		Events:   WebhookEvents,
		ByEvents: true,
		Enabled:  true,
	}
	if a.InboundSecret != "" {
		settings.Headers = map[string]string{InboundTokenHeader: a.InboundSecret}
	}
	if err := a.WhatsApp.SetWebhook(r.Context(), t.WhatsAppInstance, settings); err != nil {
		slog.Error("whatsapp webhook registration failed", "err", err, "tenant_id", t.ID, "instance", t.WhatsAppInstance)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	slog.Info("whatsapp webhook registered", "tenant_id", t.ID, "instance", t.WhatsAppInstance, "url", settings.URL)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "url": settings.URL})
}

func (a *Admin) handleWhatsAppStatus(w http.ResponseWriter, r *http.Request) {
	t, ok := a.instanceTenant(w, r)
	if !ok {
		return
	}
	state, err := a.WhatsApp.ConnectionState(r.Context(), t.WhatsAppInstance)
	if err != nil {
		a.instanceError(w, err, t)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instance": t.WhatsAppInstance, "state": state})
}

func (a *Admin) handleWhatsAppConnect(w http.ResponseWriter, r *http.Request) {
	t, ok := a.instanceTenant(w, r)
	if !ok {
		return
	}
	// the number is optional; without it the provider only answers with a QR code
	var req domain.ConnectWhatsAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}
	if err := a.Validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := a.WhatsApp.Connect(r.Context(), t.WhatsAppInstance, req.Number)
	if err != nil {
		a.instanceError(w, err, t)
		return
	}
	slog.Info("whatsapp connect requested", "tenant_id", t.ID, "instance", t.WhatsAppInstance, "state", p.State)
	writeJSON(w, http.StatusOK, map[string]any{
		"instance":     t.WhatsAppInstance,
		"state":        p.State,
		"pairing_code": p.PairingCode,
		"code":         p.Code,
	})
}

func (a *Admin) instanceError(w http.ResponseWriter, err error, t domain.Tenant) {
	if providers.IsNotFound(err) {
		http.Error(w, ErrNoUpstream, http.StatusNotFound)
		return
	}
	slog.Error("whatsapp instance call failed", "err", err, "tenant_id", t.ID, "instance", t.WhatsAppInstance)
	http.Error(w, ErrDependency, http.StatusBadGateway)
}

// handleProvisionHelpdesk creates an API inbox that posts agent messages back to this
// service and binds it to the tenant.
func (a *Admin) handleProvisionHelpdesk(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req domain.ProvisionHelpdeskRequest
	if !a.decode(w, r, &req) {
		return
	}
	_, found, err := a.Tenants.Get(r.Context(), id)
	if err != nil {
		slog.Error("get tenant failed", "err", err, "tenant_id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	if !found {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}

	hook := strings.TrimRight(a.PublicBaseURL, "/") + "/integrations/helpdesk/events?secret=" + url.QueryEscape(a.HelpdeskSecret)
	acct := chatwoot.Account{ID: req.AccountID, Token: req.APIToken}
	inbox, err := a.Helpdesk.CreateInbox(r.Context(), acct, req.InboxName, hook)
	if err != nil {
		slog.Error("helpdesk inbox creation failed", "err", err, "tenant_id", id, "account_id", req.AccountID)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	binding := domain.HelpdeskBinding{AccountID: req.AccountID, InboxID: inbox.ID, Token: req.APIToken}
	if err := a.Tenants.ConfigureHelpdesk(r.Context(), id, binding); err != nil {
		a.bindingError(w, err, id)
		return
	}
	slog.Info("helpdesk inbox provisioned", "tenant_id", id, "account_id", req.AccountID, "inbox_id", inbox.ID)

	t, _, err := a.Tenants.Get(r.Context(), id)
	if err != nil {
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"tenant":           t,
		"inbox_id":         inbox.ID,
		"inbox_identifier": inbox.Identifier,
	})
}

func (a *Admin) bindingError(w http.ResponseWriter, err error, tenantID string) {
	switch {
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, ErrConflict, http.StatusConflict)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, ErrNotFound, http.StatusNotFound)
	case errors.Is(err, domain.ErrEmptyBinding):
		http.Error(w, ErrEmptyBinding, http.StatusBadRequest)
	default:
		slog.Error("tenant update failed", "err", err, "tenant_id", tenantID)
		http.Error(w, ErrDependency, http.StatusBadGateway)
	}
}

func (a *Admin) respondTenant(w http.ResponseWriter, r *http.Request, id string) {
	t, _, err := a.Tenants.Get(r.Context(), id)
	if err != nil {
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
