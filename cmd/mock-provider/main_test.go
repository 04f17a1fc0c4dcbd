package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"medrelay/internal/config"
	"medrelay/internal/convmap"
	"medrelay/internal/dedup"
	"medrelay/internal/domain"
	"medrelay/internal/providers/chatwoot"
	"medrelay/internal/providers/evolution"
	"medrelay/internal/relay"
	"medrelay/internal/store/memstore"
	"medrelay/internal/tenant"
)

const upsert = `{
  "event": "messages.upsert",
  "instance": "tenant_7",
  "data": {
    "key": {"remoteJid": "5534999990000@s.whatsapp.net", "fromMe": false, "id": "%s"},
    "pushName": "Maria",
    "message": {"conversation": "Bom dia"}
  }
}`

func mockConfig(api string) config.MockConfig {
	return config.MockConfig{MockEvolutionAPI: api, MockAPIKey: "mock-key"}
}

func TestEvolutionServesOneGeneration(t *testing.T) {
	srv := httptest.NewServer(newServer(mockConfig("v2")).routes())
	defer srv.Close()

	c := &evolution.Client{BaseURL: srv.URL, APIKey: "mock-key", HTTP: srv.Client()}
	res, err := c.SendText(context.Background(), "tenant_7", "5534999990000", "oi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Path != "/message/send/text/tenant_7" || res.MessageID == "" {
		t.Fatalf("result: %+v", res)
	}

	bad := &evolution.Client{BaseURL: srv.URL, APIKey: "wrong", HTTP: srv.Client()}
	if _, err := bad.SendText(context.Background(), "tenant_7", "5534999990000", "oi"); err == nil {
		t.Fatalf("expected auth failure")
	}
}

func TestHelpdeskRoundTrip(t *testing.T) {
	hooks := make(chan []byte, 4)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		hooks <- b
	}))
	defer receiver.Close()

	cfg := mockConfig("v1")
	cfg.MockWebhookURL = receiver.URL
	srv := httptest.NewServer(newServer(cfg).routes())
	defer srv.Close()

	ctx := context.Background()
	st := memstore.New()
	tenants := tenant.New(st)
	tn, err := tenants.Create(ctx, "Tenant 7")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tenants.Bind(ctx, tn.ID, "tenant_7"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := tenants.ConfigureHelpdesk(ctx, tn.ID, domain.HelpdeskBinding{AccountID: 3, InboxID: 12, Token: "tok"}); err != nil {
		t.Fatalf("helpdesk: %v", err)
	}

	convs := convmap.New(st)
	ledger := dedup.NewMemory(time.Minute)
	hd := &chatwoot.Client{BaseURL: srv.URL, HTTP: srv.Client()}
	in := &relay.Inbound{Tenants: tenants, Conversations: convs, Dedup: ledger, Helpdesk: hd, ReuseOpenConversations: true}
	out := &relay.Outbound{
		Tenants:       tenants,
		Conversations: convs,
		Dedup:         ledger,
		Helpdesk:      hd,
		WhatsApp:      &evolution.Client{BaseURL: srv.URL, APIKey: "mock-key", HTTP: srv.Client()},
	}

	first, err := in.Handle(ctx, "", []byte(strings.Replace(upsert, "%s", "M1", 1)))
	if err != nil || first.Relayed != "text" {
		t.Fatalf("first: %+v %v", first, err)
	}
	second, err := in.Handle(ctx, "", []byte(strings.Replace(upsert, "%s", "M2", 1)))
	if err != nil || second.ConversationID != first.ConversationID {
		t.Fatalf("open conversation not reused: %+v %+v %v", first, second, err)
	}

	// agent reply through the helpdesk API fires message_created
	path := "/api/v1/accounts/3/conversations/" + strconv.FormatInt(first.ConversationID, 10) + "/messages"
	req, _ := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(`{"content":"Confirmado para amanhã","message_type":"outgoing"}`))
	req.Header.Set("api_access_token", "tok")
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("agent reply: %v", err)
	}
	_ = resp.Body.Close()

	var hook []byte
	select {
	case hook = <-hooks:
	case <-time.After(5 * time.Second):
		t.Fatalf("no webhook delivered")
	}

	res, err := out.Handle(ctx, hook)
	if err != nil || res.Relayed != "text" || res.To != "5534999990000" {
		t.Fatalf("outbound: %+v %v", res, err)
	}
}

func TestHelpdeskRequiresToken(t *testing.T) {
	srv := httptest.NewServer(newServer(mockConfig("v1")).routes())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/api/v1/accounts/3/contacts/search?q=5534")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestProvisionedInboxReceivesAgentReplies(t *testing.T) {
	hooks := make(chan string, 4)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hooks <- r.URL.Query().Get("secret")
	}))
	defer receiver.Close()

	srv := httptest.NewServer(newServer(mockConfig("v2")).routes())
	defer srv.Close()
	ctx := context.Background()

	hd := &chatwoot.Client{BaseURL: srv.URL, HTTP: srv.Client()}
	acct := chatwoot.Account{ID: 3, Token: "tok"}
	ib, err := hd.CreateInbox(ctx, acct, "Dra. Ana", receiver.URL+"/integrations/helpdesk/events?secret=s3")
	if err != nil || ib.ID == 0 || ib.Identifier == "" {
		t.Fatalf("create inbox: %+v %v", ib, err)
	}
	contactID, err := hd.CreateContact(ctx, acct, chatwoot.ContactInput{Name: "Maria", Phone: "5534999990000", InboxID: ib.ID})
	if err != nil {
		t.Fatalf("contact: %v", err)
	}
	convID, err := hd.CreateConversation(ctx, acct, ib.ID, contactID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}

	path := "/api/v1/accounts/3/conversations/" + strconv.FormatInt(convID, 10) + "/messages"
	req, _ := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(`{"content":"Oi","message_type":"outgoing"}`))
	req.Header.Set("api_access_token", "tok")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("agent reply: %v", err)
	}
	_ = resp.Body.Close()

	select {
	case secret := <-hooks:
		if secret != "s3" {
			t.Fatalf("secret = %q", secret)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no webhook delivered")
	}
}

func TestEvolutionConnectionRoutes(t *testing.T) {
	for _, gen := range []string{"v1", "v2"} {
		srv := httptest.NewServer(newServer(mockConfig(gen)).routes())
		c := &evolution.Client{BaseURL: srv.URL, APIKey: "mock-key", HTTP: srv.Client()}
		state, err := c.ConnectionState(context.Background(), "tenant_7")
		if err != nil || state != "open" {
			srv.Close()
			t.Fatalf("%s state: %q %v", gen, state, err)
		}
		p, err := c.Connect(context.Background(), "tenant_7", "5534999990000")
		srv.Close()
		if err != nil || p.Code == "" || p.PairingCode == "" {
			t.Fatalf("%s connect: %+v %v", gen, p, err)
		}
	}
}
