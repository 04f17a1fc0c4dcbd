package relay

import (
	"context"
	"net/http"
	"testing"

	"medrelay/internal/providers"
)

const textUpsert = `{
  "event": "messages.upsert",
  "instance": "tenant_7",
  "data": {
    "key": {"remoteJid": "5534999990000@s.whatsapp.net", "fromMe": false, "id": "ABC123"},
    "pushName": "Maria",
    "message": {"conversation": "Olá, preciso remarcar"},
    "messageType": "conversation"
  }
}`

func TestInboundTextCreatesContactConversationAndMapping(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.inbound.Handle(ctx, "", []byte(textUpsert))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !out.OK || out.Ignored != "" || out.Relayed != "text" || out.ConversationID == 0 {
		t.Fatalf("outcome: %+v", out)
	}

	contactID, ok := h.helpdesk.contacts["5534999990000"]
	if !ok {
		t.Fatalf("contact not created: %+v", h.helpdesk.contacts)
	}
	if h.helpdesk.contactNames[contactID] != "Maria" {
		t.Fatalf("contact name = %q", h.helpdesk.contactNames[contactID])
	}
	if len(h.helpdesk.conversations) != 1 || h.helpdesk.conversations[0].inboxID != 12 {
		t.Fatalf("conversations: %+v", h.helpdesk.conversations)
	}
	if len(h.helpdesk.messages) != 1 {
		t.Fatalf("messages: %+v", h.helpdesk.messages)
	}
	msg := h.helpdesk.messages[0]
	if msg.in.Content != "Olá, preciso remarcar" || msg.in.SourceID != "WAID:ABC123" || msg.accountID != 3 {
		t.Fatalf("message: %+v", msg)
	}

	phone, found, err := h.convs.Lookup(ctx, 3, out.ConversationID)
	if err != nil || !found || phone != "5534999990000" {
		t.Fatalf("conversation map = %q found=%v err=%v", phone, found, err)
	}
}

func TestInboundDuplicateDeliveryPostsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.inbound.Handle(ctx, "messages-upsert", []byte(textUpsert)); err != nil {
		t.Fatalf("first: %v", err)
	}
	out, err := h.inbound.Handle(ctx, "messages-upsert", []byte(textUpsert))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if out.Ignored != ReasonDuplicate {
		t.Fatalf("second outcome: %+v", out)
	}
	if len(h.helpdesk.messages) != 1 {
		t.Fatalf("expected one posted message, got %d", len(h.helpdesk.messages))
	}
}

func TestInboundGroupMessageMakesNoHelpdeskCalls(t *testing.T) {
	h := newHarness(t)
	body := `{"event":"messages.upsert","instance":"tenant_7","data":{
		"key":{"remoteJid":"120363025@g.us","fromMe":false,"id":"G1","participant":"5534999990000@s.whatsapp.net"},
		"message":{"conversation":"oi grupo"}}}`

	out, err := h.inbound.Handle(context.Background(), "", []byte(body))
	if err != nil || out.Ignored != ReasonGroupMessage || !out.OK {
		t.Fatalf("outcome: %+v err=%v", out, err)
	}
	if len(h.helpdesk.calls) != 0 {
		t.Fatalf("helpdesk calls: %v", h.helpdesk.calls)
	}
}

func TestInboundIgnoredReasons(t *testing.T) {
	cases := []struct {
		name      string
		pathEvent string
		body      string
		want      string
	}{
		{"not json", "", `not json`, ReasonInvalidJSON},
		{"json array", "", `[1,2]`, ReasonInvalidJSON},
		{"connection update", "", `{"event":"connection.update","instance":"tenant_7","data":{"state":"open"}}`, ReasonNotMessageEvent},
		{"path event only", "connection-update", `{"instance":"tenant_7","data":{"state":"close"}}`, ReasonNotMessageEvent},
		{"from me", "", `{"event":"messages.upsert","instance":"tenant_7","data":{"key":{"remoteJid":"5534999990000@s.whatsapp.net","fromMe":true,"id":"M1"},"message":{"conversation":"x"}}}`, ReasonFromMe},
		{"reaction", "", `{"event":"messages.upsert","instance":"tenant_7","data":{"key":{"remoteJid":"5534999990000@s.whatsapp.net","id":"M2"},"message":{"reactionMessage":{"text":"👍"}}}}`, ReasonUnsupportedMessage},
		{"lid without phone", "", `{"event":"messages.upsert","instance":"tenant_7","data":{"key":{"remoteJid":"1987654321@lid","id":"M3"},"message":{"conversation":"oi"}}}`, ReasonMissingSenderPhone},
		{"no instance", "", `{"event":"messages.upsert","data":{"key":{"remoteJid":"5534999990000@s.whatsapp.net","id":"M4"},"message":{"conversation":"oi"}}}`, ReasonMissingInstance},
		{"unknown instance", "", `{"event":"messages.upsert","instance":"tenant_99","data":{"key":{"remoteJid":"5534999990000@s.whatsapp.net","id":"M5"},"message":{"conversation":"oi"}}}`, ReasonTenantNotFound},
		{"helpdesk incomplete", "", `{"event":"messages.upsert","instance":"tenant_bare","data":{"key":{"remoteJid":"5534999990000@s.whatsapp.net","id":"M6"},"message":{"conversation":"oi"}}}`, ReasonHelpdeskIncomplete},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.addTenant(t, "Bare", "tenant_bare", 0, 0)

			out, err := h.inbound.Handle(context.Background(), tc.pathEvent, []byte(tc.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !out.OK || out.Ignored != tc.want {
				t.Fatalf("outcome = %+v, want ignored=%q", out, tc.want)
			}
			if len(h.helpdesk.messages) != 0 {
				t.Fatalf("nothing should be posted: %+v", h.helpdesk.messages)
			}
		})
	}
}

func TestInboundLinkedIDUsesSenderPn(t *testing.T) {
	h := newHarness(t)
	body := `{"event":"MESSAGES_UPSERT","instanceName":"tenant_7","data":{
		"key":{"remoteJid":"1987654321@lid","senderPn":"5534999990000@s.whatsapp.net","id":"L1"},
		"message":{"extendedTextMessage":{"text":"bom dia"}}}}`

	out, err := h.inbound.Handle(context.Background(), "", []byte(body))
	if err != nil || out.Relayed != "text" {
		t.Fatalf("outcome: %+v err=%v", out, err)
	}
	if _, ok := h.helpdesk.contacts["5534999990000"]; !ok {
		t.Fatalf("contact keyed by senderPn expected: %+v", h.helpdesk.contacts)
	}
}

func TestInboundReusesOpenConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	second := `{"event":"messages.upsert","instance":"tenant_7","data":{
		"key":{"remoteJid":"5534999990000@s.whatsapp.net","id":"ABC124"},
		"message":{"conversation":"pode ser amanhã?"}}}`

	first, err := h.inbound.Handle(ctx, "", []byte(textUpsert))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	out, err := h.inbound.Handle(ctx, "", []byte(second))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if out.ConversationID != first.ConversationID {
		t.Fatalf("conversation not reused: %d vs %d", out.ConversationID, first.ConversationID)
	}
	if h.helpdesk.count("create_contact") != 1 || h.helpdesk.count("create_conversation") != 1 {
		t.Fatalf("calls: %v", h.helpdesk.calls)
	}
	if len(h.helpdesk.messages) != 2 {
		t.Fatalf("messages: %d", len(h.helpdesk.messages))
	}
}

func TestInboundResolvedConversationStartsNewOne(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, _ := h.inbound.Handle(ctx, "", []byte(textUpsert))
	h.helpdesk.conversations[0].status = "resolved"

	next := `{"event":"messages.upsert","instance":"tenant_7","data":{
		"key":{"remoteJid":"5534999990000@s.whatsapp.net","id":"ABC125"},
		"message":{"conversation":"voltei"}}}`
	out, err := h.inbound.Handle(ctx, "", []byte(next))
	if err != nil || out.ConversationID == first.ConversationID {
		t.Fatalf("expected a new conversation, got %+v err=%v", out, err)
	}
}

func TestInboundAlwaysCreateWhenReuseDisabled(t *testing.T) {
	h := newHarness(t)
	h.inbound.ReuseOpenConversations = false
	ctx := context.Background()

	_, _ = h.inbound.Handle(ctx, "", []byte(textUpsert))
	next := `{"event":"messages.upsert","instance":"tenant_7","data":{
		"key":{"remoteJid":"5534999990000@s.whatsapp.net","id":"ABC126"},
		"message":{"conversation":"oi de novo"}}}`
	_, _ = h.inbound.Handle(ctx, "", []byte(next))

	if h.helpdesk.count("find_conversation") != 0 || h.helpdesk.count("create_conversation") != 2 {
		t.Fatalf("calls: %v", h.helpdesk.calls)
	}
}

func TestInboundMedia(t *testing.T) {
	cases := []struct {
		name        string
		message     string
		wantContent string
		wantURL     string
		wantType    string
	}{
		{
			name:        "image with url and caption",
			message:     `"message":{"imageMessage":{"url":"https://mmg.whatsapp.net/enc","mimetype":"image/jpeg","caption":"meu exame"},"mediaUrl":"https://s3/exame.jpg"}`,
			wantContent: "meu exame",
			wantURL:     "https://s3/exame.jpg",
			wantType:    "image",
		},
		{
			name:        "audio without url",
			message:     `"messageType":"audioMessage","message":{"audioMessage":{"seconds":4,"ptt":true}}`,
			wantContent: "[audio]",
		},
		{
			name:        "document without url",
			message:     `"message":{"documentMessage":{"fileName":"laudo.pdf","mimetype":"application/pdf"}}`,
			wantContent: "[document: laudo.pdf]",
		},
		{
			name:     "document with url",
			message:  `"message":{"documentMessage":{"fileName":"laudo.pdf","url":"https://cdn/laudo.pdf"}}`,
			wantURL:  "https://cdn/laudo.pdf",
			wantType: "file",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			body := `{"event":"messages.upsert","instance":"tenant_7","data":{
				"key":{"remoteJid":"5534999990000@s.whatsapp.net","id":"MEDIA1"},` + tc.message + `}}`

			out, err := h.inbound.Handle(context.Background(), "", []byte(body))
			if err != nil || out.Ignored != "" {
				t.Fatalf("outcome: %+v err=%v", out, err)
			}
			if len(h.helpdesk.messages) != 1 {
				t.Fatalf("messages: %+v", h.helpdesk.messages)
			}
			in := h.helpdesk.messages[0].in
			if in.Content != tc.wantContent {
				t.Fatalf("content = %q want %q", in.Content, tc.wantContent)
			}
			if tc.wantURL == "" {
				if len(in.Attachments) != 0 {
					t.Fatalf("unexpected attachments: %+v", in.Attachments)
				}
				return
			}
			if len(in.Attachments) != 1 || in.Attachments[0].URL != tc.wantURL || in.Attachments[0].FileType != tc.wantType {
				t.Fatalf("attachments: %+v", in.Attachments)
			}
		})
	}
}

func TestInboundTransientFailureIsRedeliverable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.helpdesk.messageErr = &providers.StatusError{Provider: "helpdesk", Status: http.StatusBadGateway, Class: providers.ClassServer}

	out, err := h.inbound.Handle(ctx, "", []byte(textUpsert))
	if err == nil || !out.OK || out.Ignored != ReasonHelpdeskError {
		t.Fatalf("outcome: %+v err=%v", out, err)
	}

	// not marked as processed, so the provider's redelivery goes through
	h.helpdesk.messageErr = nil
	out, err = h.inbound.Handle(ctx, "", []byte(textUpsert))
	if err != nil || out.Relayed != "text" {
		t.Fatalf("redelivery: %+v err=%v", out, err)
	}
	if len(h.helpdesk.messages) != 1 {
		t.Fatalf("messages: %d", len(h.helpdesk.messages))
	}
}

func TestInboundPermanentFailureIsNotRedelivered(t *testing.T) {
	h := newHarness(t)
	h.helpdesk.messageErr = &providers.StatusError{Provider: "helpdesk", Status: http.StatusUnprocessableEntity, Class: providers.ClassValidation}

	out, err := h.inbound.Handle(context.Background(), "", []byte(textUpsert))
	if err != nil || out.Ignored != ReasonHelpdeskError {
		t.Fatalf("outcome: %+v err=%v", out, err)
	}
}

func TestInboundTenantIsolation(t *testing.T) {
	h := newHarness(t)
	h.addTenant(t, "Dr. Bruno", "tenant_8", 4, 20)

	body := `{"event":"messages.upsert","instance":"tenant_8","data":{
		"key":{"remoteJid":"5534999990000@s.whatsapp.net","id":"ISO1"},
		"message":{"conversation":"oi"}}}`
	if _, err := h.inbound.Handle(context.Background(), "", []byte(body)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(h.helpdesk.messages) != 1 || h.helpdesk.messages[0].accountID != 4 {
		t.Fatalf("message routed to wrong account: %+v", h.helpdesk.messages)
	}
	if h.helpdesk.conversations[0].inboxID != 20 {
		t.Fatalf("conversation in wrong inbox: %+v", h.helpdesk.conversations)
	}
}

func TestInboundDeactivatedTenantIgnored(t *testing.T) {
	h := newHarness(t)
	if err := h.directory.Deactivate(context.Background(), h.tenant.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	out, err := h.inbound.Handle(context.Background(), "", []byte(textUpsert))
	if err != nil || out.Ignored != ReasonTenantNotFound {
		t.Fatalf("outcome: %+v err=%v", out, err)
	}
}

func TestInboundPanicBecomesException(t *testing.T) {
	h := newHarness(t)
	h.inbound.Helpdesk = nil

	out, err := h.inbound.Handle(context.Background(), "", []byte(textUpsert))
	if err != nil || !out.OK || out.Ignored != ReasonException {
		t.Fatalf("outcome: %+v err=%v", out, err)
	}
}
