package relay

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"medrelay/internal/dedup"
	"medrelay/internal/domain"
	"medrelay/internal/normalize"
	"medrelay/internal/observability"
	"medrelay/internal/util"
)

// Phone resolution tiers, in the order they are tried.
const (
	TierPayload = "payload"
	TierMap     = "map"
	TierLive    = "live"
	TierNone    = "none"
)

// Outbound relays agent replies from the helpdesk to the customer on WhatsApp.
type Outbound struct {
	Secret        string
	Tenants       TenantResolver
	Conversations ConversationMap
	// Dedup suppresses repeated webhooks for the same helpdesk message.
	Dedup    dedup.Ledger
	Helpdesk Helpdesk
	WhatsApp WhatsApp
}

// Authorize checks the webhook secret. An unconfigured secret rejects everything.
func (o *Outbound) Authorize(secret string) bool {
	if o.Secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(o.Secret)) == 1
}

func (o *Outbound) Handle(ctx context.Context, body []byte) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("outbound relay panic", "panic", fmt.Sprint(r))
			out, err = Ignored(ReasonException), nil
		}
		record(DirectionOutbound, out, err)
	}()
	return o.handle(ctx, body)
}

func dedupScope(accountID int64) string {
	return "helpdesk:" + strconv.FormatInt(accountID, 10)
}

func (o *Outbound) handle(ctx context.Context, body []byte) (Outcome, error) {
	ev, err := normalize.ParseHelpdesk(body)
	if err != nil {
		slog.Info("outbound body rejected", "err", err)
		return Ignored(ReasonInvalidJSON), nil
	}
	// edits of old messages must not be sent again
	if !ev.IsMessageCreated() {
		return Ignored(ReasonNotMessageEvent), nil
	}
	if !ev.HasMessage || !ev.HasConv {
		return Ignored(ReasonMissingMessageOrConv), nil
	}
	if ev.Direction != normalize.DirectionOutgoing {
		return Ignored(ReasonNotOutgoing), nil
	}
	if ev.Private {
		return Ignored(ReasonPrivateNote), nil
	}
	if ev.AccountID == 0 {
		return Ignored(ReasonMissingAccountID), nil
	}
	if ev.InboxID == 0 {
		return Ignored(ReasonMissingInboxID), nil
	}

	scope := dedupScope(ev.AccountID)
	if ev.MessageID != "" && o.Dedup != nil {
		seen, err := o.Dedup.Seen(ctx, scope, ev.MessageID)
		if err != nil {
			slog.Warn("dedup lookup failed", "scope", scope, "message_id", ev.MessageID, "err", err)
		} else if seen {
			slog.Info("outbound duplicate dropped", "scope", scope, "message_id", ev.MessageID)
			return Ignored(ReasonDuplicate), nil
		}
	}

	t, found, err := o.Tenants.ResolveByInbox(ctx, ev.AccountID, ev.InboxID)
	if err != nil {
		slog.Error("tenant lookup failed", "account_id", ev.AccountID, "inbox_id", ev.InboxID, "err", err)
		return Ignored(ReasonStoreError), err
	}
	if !found {
		slog.Info("no tenant for inbox", "account_id", ev.AccountID, "inbox_id", ev.InboxID)
		return Ignored(ReasonTenantNotFoundByInbox), nil
	}
	if t.WhatsAppInstance == "" {
		slog.Info("tenant has no whatsapp instance", "tenant_id", t.ID)
		return Ignored(ReasonTenantMissingInstance), nil
	}

	raw, tier, lookupErr := o.resolvePhone(ctx, t, ev)
	observability.PhoneResolution.WithLabelValues(tier).Inc()
	if raw == "" {
		slog.Info("recipient phone not resolved",
			"tenant_id", t.ID,
			"conversation_id", ev.ConversationID,
			"err", lookupErr,
		)
		return Ignored(ReasonMissingRecipientPhone), redeliverable(lookupErr)
	}
	phone, ok := util.PhoneDigits(raw)
	if !ok {
		slog.Info("recipient phone invalid", "tenant_id", t.ID, "conversation_id", ev.ConversationID)
		return Ignored(ReasonInvalidRecipientPhone), nil
	}

	kind, err := o.send(ctx, t, phone, ev)
	if kind == "" {
		return Ignored(ReasonEmptyContentNoAudio), nil
	}
	if err != nil {
		slog.Error("whatsapp send failed",
			"tenant_id", t.ID,
			"instance", t.WhatsAppInstance,
			"conversation_id", ev.ConversationID,
			"kind", kind,
			"err", err,
		)
		return Ignored(ReasonWhatsAppError), redeliverable(err)
	}

	if ev.MessageID != "" && o.Dedup != nil {
		if err := o.Dedup.MarkProcessed(ctx, scope, ev.MessageID); err != nil {
			slog.Warn("dedup mark failed", "scope", scope, "message_id", ev.MessageID, "err", err)
		}
	}

	slog.Info("outbound relayed",
		"tenant_id", t.ID,
		"conversation_id", ev.ConversationID,
		"phone_tier", tier,
		"kind", kind,
	)
	out := relayed(kind, ev.ConversationID)
	out.To = phone
	return out, nil
}

// send picks audio when the message has an audio attachment, else the text. An empty
// kind means there was nothing to send and no call was made.
func (o *Outbound) send(ctx context.Context, t domain.Tenant, phone string, ev normalize.HelpdeskEvent) (string, error) {
	if audio := ev.AudioURL(); audio != "" {
		_, err := o.WhatsApp.SendAudio(ctx, t.WhatsAppInstance, phone, audio)
		return string(normalize.KindAudio), err
	}
	if text := strings.TrimSpace(ev.Content); text != "" {
		_, err := o.WhatsApp.SendText(ctx, t.WhatsAppInstance, phone, text)
		return string(normalize.KindText), err
	}
	return "", nil
}

// resolvePhone tries the webhook payload, then the conversation map, then the live
// helpdesk conversation. A phone found live is written back to the map. The error
// is the last lookup failure, reported only when no tier produced a phone.
func (o *Outbound) resolvePhone(ctx context.Context, t domain.Tenant, ev normalize.HelpdeskEvent) (string, string, error) {
	if ev.PayloadPhone != "" {
		return ev.PayloadPhone, TierPayload, nil
	}

	var lastErr error
	if ev.ConversationID > 0 {
		phone, found, err := o.Conversations.Lookup(ctx, ev.AccountID, ev.ConversationID)
		if err != nil {
			slog.Warn("conversation map lookup failed", "conversation_id", ev.ConversationID, "err", err)
			lastErr = err
		} else if found {
			return phone, TierMap, nil
		}
	}

	if ev.ConversationID <= 0 || !t.HelpdeskConfigured() {
		return "", TierNone, lastErr
	}
	phone, err := o.livePhone(ctx, t, ev.ConversationID)
	if err != nil {
		slog.Warn("live phone lookup failed", "tenant_id", t.ID, "conversation_id", ev.ConversationID, "err", err)
		return "", TierNone, err
	}
	if phone == "" {
		return "", TierNone, lastErr
	}
	if err := o.Conversations.Upsert(ctx, ev.AccountID, ev.ConversationID, phone); err != nil {
		slog.Warn("conversation map write-back failed", "conversation_id", ev.ConversationID, "err", err)
	}
	return phone, TierLive, nil
}

func (o *Outbound) livePhone(ctx context.Context, t domain.Tenant, conversationID int64) (string, error) {
	acct := account(t)
	conv, err := o.Helpdesk.GetConversation(ctx, acct, conversationID)
	if err != nil {
		return "", fmt.Errorf("get conversation: %w", err)
	}
	if phone, ok := normalize.ConversationPhone(conv); ok {
		return phone, nil
	}
	contactID, ok := normalize.ConversationContactID(conv)
	if !ok {
		return "", nil
	}
	contact, err := o.Helpdesk.GetContact(ctx, acct, contactID)
	if err != nil {
		return "", fmt.Errorf("get contact: %w", err)
	}
	phone, _ := normalize.ContactPhone(contact)
	return phone, nil
}
