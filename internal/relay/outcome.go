package relay

import (
	"context"

	"medrelay/internal/domain"
	"medrelay/internal/observability"
	"medrelay/internal/providers"
	"medrelay/internal/providers/chatwoot"
	"medrelay/internal/providers/evolution"
)

// Ignore reasons reported in webhook responses.
const (
	ReasonInvalidJSON           = "invalid_json"
	ReasonException             = "exception"
	ReasonStoreError            = "store_error"
	ReasonNotMessageEvent       = "not_message_event"
	ReasonFromMe                = "from_me"
	ReasonGroupMessage          = "group_message"
	ReasonDuplicate             = "duplicate"
	ReasonUnsupportedMessage    = "unsupported_message"
	ReasonMissingSenderPhone    = "missing_sender_phone"
	ReasonMissingInstance       = "missing_instance"
	ReasonTenantNotFound        = "tenant_not_found"
	ReasonHelpdeskIncomplete    = "tenant_helpdesk_incomplete"
	ReasonHelpdeskError         = "helpdesk_error"
	ReasonEmptyContent          = "empty_content"
	ReasonMissingMessageOrConv  = "missing_message_or_conversation"
	ReasonNotOutgoing           = "not_outgoing"
	ReasonPrivateNote           = "private_note"
	ReasonMissingAccountID      = "missing_account_id"
	ReasonMissingInboxID        = "missing_inbox_id"
	ReasonTenantNotFoundByInbox = "tenant_not_found_by_inbox"
	ReasonTenantMissingInstance = "tenant_missing_whatsapp_instance"
	ReasonMissingRecipientPhone = "missing_recipient_phone"
	ReasonInvalidRecipientPhone = "invalid_recipient_phone"
	ReasonEmptyContentNoAudio   = "empty_content_no_audio"
	ReasonWhatsAppError         = "whatsapp_error"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Outcome is the webhook response body. OK is always true: upstream providers
// retry on error statuses and a retry storm is worse than a dropped message.
type Outcome struct {
	OK             bool   `json:"ok"`
	Ignored        string `json:"ignored,omitempty"`
	Relayed        string `json:"relayed,omitempty"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	To             string `json:"to,omitempty"`
	Queued         bool   `json:"queued,omitempty"`
}

func Ignored(reason string) Outcome { return Outcome{OK: true, Ignored: reason} }

func relayed(kind string, conversationID int64) Outcome {
	return Outcome{OK: true, Relayed: kind, ConversationID: conversationID}
}

func record(direction string, out Outcome, err error) {
	switch {
	case err != nil:
		observability.Outcomes.WithLabelValues(direction, "error", out.Ignored).Inc()
	case out.Ignored != "":
		observability.Outcomes.WithLabelValues(direction, "ignored", out.Ignored).Inc()
	default:
		observability.Outcomes.WithLabelValues(direction, "relayed", out.Relayed).Inc()
	}
}

// redeliverable keeps only upstream errors a later redelivery can fix.
func redeliverable(err error) error {
	if providers.IsTransient(err) {
		return err
	}
	return nil
}

type TenantResolver interface {
	ResolveByInstance(ctx context.Context, instance string) (domain.Tenant, bool, error)
	ResolveByInbox(ctx context.Context, accountID, inboxID int64) (domain.Tenant, bool, error)
}

type ConversationMap interface {
	Upsert(ctx context.Context, accountID, conversationID int64, phone string) error
	Lookup(ctx context.Context, accountID, conversationID int64) (string, bool, error)
}

type Helpdesk interface {
	SearchContact(ctx context.Context, acct chatwoot.Account, digits string) (int64, bool, error)
	CreateContact(ctx context.Context, acct chatwoot.Account, in chatwoot.ContactInput) (int64, error)
	FindOpenConversation(ctx context.Context, acct chatwoot.Account, contactID, inboxID int64) (int64, bool, error)
	CreateConversation(ctx context.Context, acct chatwoot.Account, inboxID, contactID int64) (int64, error)
	CreateIncomingMessage(ctx context.Context, acct chatwoot.Account, conversationID int64, in chatwoot.MessageInput) (int64, error)
	GetConversation(ctx context.Context, acct chatwoot.Account, conversationID int64) ([]byte, error)
	GetContact(ctx context.Context, acct chatwoot.Account, contactID int64) ([]byte, error)
}

type WhatsApp interface {
	SendText(ctx context.Context, instance, number, text string) (evolution.SendResult, error)
	SendAudio(ctx context.Context, instance, number, audioURL string) (evolution.SendResult, error)
}

func account(t domain.Tenant) chatwoot.Account {
	return chatwoot.Account{ID: t.HelpdeskAccountID, Token: t.HelpdeskToken}
}
