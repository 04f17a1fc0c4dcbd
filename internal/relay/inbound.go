package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"medrelay/internal/dedup"
	"medrelay/internal/domain"
	"medrelay/internal/normalize"
	"medrelay/internal/providers/chatwoot"
)

// Inbound relays WhatsApp provider webhooks into the tenant's helpdesk inbox.
type Inbound struct {
	Tenants       TenantResolver
	Conversations ConversationMap
	Dedup         dedup.Ledger
	Helpdesk      Helpdesk
	// ReuseOpenConversations looks up an unresolved conversation for the contact
	// before creating a new one.
	ReuseOpenConversations bool
}

// Handle runs one webhook delivery to completion. pathEvent is the event segment of
// the webhook URL, if any. The returned Outcome is always a valid response body.
func (in *Inbound) Handle(ctx context.Context, pathEvent string, body []byte) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("inbound relay panic", "panic", fmt.Sprint(r))
			out, err = Ignored(ReasonException), nil
		}
		record(DirectionInbound, out, err)
	}()
	return in.handle(ctx, pathEvent, body)
}

func (in *Inbound) handle(ctx context.Context, pathEvent string, body []byte) (Outcome, error) {
	ev, err := normalize.ParseWhatsApp(body, pathEvent)
	if err != nil {
		slog.Info("inbound body rejected", "err", err)
		return Ignored(ReasonInvalidJSON), nil
	}

	if !normalize.IsMessageEvent(ev.Event) {
		if ev.Event == normalize.EventConnectionUpdate {
			slog.Info("whatsapp connection update", "instance", ev.Instance, "state", ev.State)
		}
		return Ignored(ReasonNotMessageEvent), nil
	}
	if ev.FromMe {
		return Ignored(ReasonFromMe), nil
	}
	if ev.Group {
		return Ignored(ReasonGroupMessage), nil
	}

	if ev.MessageID != "" {
		seen, err := in.Dedup.Seen(ctx, ev.Instance, ev.MessageID)
		if err != nil {
			slog.Warn("dedup lookup failed", "instance", ev.Instance, "message_id", ev.MessageID, "err", err)
		} else if seen {
			slog.Info("inbound duplicate dropped", "instance", ev.Instance, "message_id", ev.MessageID)
			return Ignored(ReasonDuplicate), nil
		}
	}

	if ev.Message.Kind == normalize.KindUnsupported {
		return Ignored(ReasonUnsupportedMessage), nil
	}
	msg, ok := messageInput(ev)
	if !ok {
		return Ignored(ReasonEmptyContent), nil
	}

	if ev.Phone == "" {
		slog.Info("inbound sender phone missing", "instance", ev.Instance, "remote_jid", ev.RemoteJID)
		return Ignored(ReasonMissingSenderPhone), nil
	}
	if ev.Instance == "" {
		return Ignored(ReasonMissingInstance), nil
	}

	t, found, err := in.Tenants.ResolveByInstance(ctx, ev.Instance)
	if err != nil {
		slog.Error("tenant lookup failed", "instance", ev.Instance, "err", err)
		return Ignored(ReasonStoreError), err
	}
	if !found {
		slog.Info("no tenant for instance", "instance", ev.Instance)
		return Ignored(ReasonTenantNotFound), nil
	}
	if !t.HelpdeskConfigured() {
		slog.Info("tenant helpdesk not configured", "tenant_id", t.ID, "instance", ev.Instance)
		return Ignored(ReasonHelpdeskIncomplete), nil
	}

	convID, err := in.deliver(ctx, t, ev, msg)
	if err != nil {
		slog.Error("inbound helpdesk relay failed",
			"tenant_id", t.ID,
			"instance", ev.Instance,
			"message_id", ev.MessageID,
			"err", err,
		)
		return Ignored(ReasonHelpdeskError), redeliverable(err)
	}

	if ev.MessageID != "" {
		if err := in.Dedup.MarkProcessed(ctx, ev.Instance, ev.MessageID); err != nil {
			slog.Warn("dedup mark failed", "instance", ev.Instance, "message_id", ev.MessageID, "err", err)
		}
	}

	slog.Info("inbound relayed",
		"tenant_id", t.ID,
		"conversation_id", convID,
		"kind", string(ev.Message.Kind),
	)
	return relayed(string(ev.Message.Kind), convID), nil
}

// deliver finds or creates the contact and conversation, records the conversation
// phone and posts the message.
func (in *Inbound) deliver(ctx context.Context, t domain.Tenant, ev normalize.WhatsAppEvent, msg chatwoot.MessageInput) (int64, error) {
	acct := account(t)

	contactID, found, err := in.Helpdesk.SearchContact(ctx, acct, ev.Phone)
	if err != nil {
		return 0, fmt.Errorf("search contact: %w", err)
	}
	if !found {
		contactID, err = in.Helpdesk.CreateContact(ctx, acct, chatwoot.ContactInput{
			Name:    ev.SenderName,
			Phone:   ev.Phone,
			InboxID: t.HelpdeskInboxID,
		})
		if err != nil {
			return 0, fmt.Errorf("create contact: %w", err)
		}
	}

	var convID int64
	if in.ReuseOpenConversations {
		convID, found, err = in.Helpdesk.FindOpenConversation(ctx, acct, contactID, t.HelpdeskInboxID)
		if err != nil {
			return 0, fmt.Errorf("find conversation: %w", err)
		}
	}
	if convID == 0 {
		convID, err = in.Helpdesk.CreateConversation(ctx, acct, t.HelpdeskInboxID, contactID)
		if err != nil {
			return 0, fmt.Errorf("create conversation: %w", err)
		}
	}

	// The outbound path can still resolve the phone live, so a failed write is not fatal.
	if err := in.Conversations.Upsert(ctx, t.HelpdeskAccountID, convID, ev.Phone); err != nil {
		slog.Warn("conversation map upsert failed", "tenant_id", t.ID, "conversation_id", convID, "err", err)
	}

	if _, err := in.Helpdesk.CreateIncomingMessage(ctx, acct, convID, msg); err != nil {
		return convID, fmt.Errorf("create message: %w", err)
	}
	return convID, nil
}

// messageInput builds the helpdesk message for a supported WhatsApp message.
// ok is false when there would be nothing to post.
func messageInput(ev normalize.WhatsAppEvent) (chatwoot.MessageInput, bool) {
	var in chatwoot.MessageInput
	if ev.MessageID != "" {
		in.SourceID = "WAID:" + ev.MessageID
	}

	m := ev.Message
	switch {
	case !m.IsMedia():
		in.Content = strings.TrimSpace(m.Text)
	case m.NoURL:
		in.Content = placeholder(m)
	default:
		in.Content = strings.TrimSpace(m.Media.Caption)
		in.Attachments = []chatwoot.AttachmentRef{{URL: m.Media.URL, FileType: fileType(m.Kind)}}
	}
	return in, in.Content != "" || len(in.Attachments) > 0
}

func placeholder(m normalize.Message) string {
	var tag string
	switch m.Kind {
	case normalize.KindDocument:
		tag = "[document]"
		if name := strings.TrimSpace(m.Media.FileName); name != "" {
			tag = "[document: " + name + "]"
		}
	default:
		tag = "[" + string(m.Kind) + "]"
	}
	if caption := strings.TrimSpace(m.Media.Caption); caption != "" {
		return tag + " " + caption
	}
	return tag
}

func fileType(k normalize.Kind) string {
	switch k {
	case normalize.KindAudio:
		return "audio"
	case normalize.KindImage:
		return "image"
	}
	return "file"
}
