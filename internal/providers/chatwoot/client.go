// Package chatwoot is the helpdesk client. Calls are scoped to one account and
// authenticated with that tenant's access token.
package chatwoot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"

	"medrelay/internal/providers"
	"medrelay/internal/util"
)

const provider = "helpdesk"

var ErrMissingID = errors.New("helpdesk response without id")

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Guard   *providers.Guard
}

type Account struct {
	ID    int64
	Token string
}

type ContactInput struct {
	Name    string
	Phone   string // digits
	InboxID int64
}

type AttachmentRef struct {
	URL      string `json:"external_url"`
	FileType string `json:"file_type"`
}

type MessageInput struct {
	Content     string
	SourceID    string
	Attachments []AttachmentRef
}

type contactPayload struct {
	Name        string `json:"name,omitempty"`
	PhoneNumber string `json:"phone_number"`
	Identifier  string `json:"identifier"`
	InboxID     int64  `json:"inbox_id,omitempty"`
}

type conversationPayload struct {
	InboxID   int64  `json:"inbox_id"`
	ContactID int64  `json:"contact_id"`
	SourceID  string `json:"source_id,omitempty"`
}

type messagePayload struct {
	Content     string          `json:"content"`
	MessageType string          `json:"message_type"`
	Private     bool            `json:"private"`
	SourceID    string          `json:"source_id,omitempty"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
}

// Inbox is an API channel inbox. Identifier is empty when the helpdesk did not return one.
type Inbox struct {
	ID         int64
	Identifier string
}

type inboxPayload struct {
	Name    string       `json:"name"`
	Channel inboxChannel `json:"channel"`
}

type inboxChannel struct {
	Type       string `json:"type"`
	WebhookURL string `json:"webhook_url"`
}

func (c *Client) caller(acct Account) *providers.Caller {
	return &providers.Caller{
		Provider: provider,
		BaseURL:  c.BaseURL,
		HTTP:     c.HTTP,
		Header:   http.Header{"Api_access_token": []string{acct.Token}},
		Guard:    c.Guard,
	}
}

func accountPath(acct Account, format string, args ...any) string {
	return "/api/v1/accounts/" + strconv.FormatInt(acct.ID, 10) + fmt.Sprintf(format, args...)
}

// SearchContact finds the contact whose phone matches digits exactly. The helpdesk
// search is a substring match, so looser hits are ignored.
func (c *Client) SearchContact(ctx context.Context, acct Account, digits string) (int64, bool, error) {
	q := url.QueryEscape(digits)
	resp, err := c.caller(acct).Do(ctx, "search_contact",
		providers.Candidate{Method: http.MethodGet, Path: accountPath(acct, "/contacts/search?q=%s", q)},
	)
	if err != nil {
		return 0, false, err
	}

	list := resp.Body
	if v, typ, _, err := jsonparser.Get(resp.Body, "payload"); err == nil && typ == jsonparser.Array {
		list = v
	}
	var found int64
	_, _ = jsonparser.ArrayEach(list, func(item []byte, typ jsonparser.ValueType, _ int, err error) {
		if found != 0 || err != nil || typ != jsonparser.Object {
			return
		}
		if !contactMatches(item, digits) {
			return
		}
		if id, err := jsonparser.GetInt(item, "id"); err == nil && id > 0 {
			found = id
		}
	})
	return found, found != 0, nil
}

func contactMatches(item []byte, digits string) bool {
	for _, key := range []string{"phone_number", "identifier"} {
		v, err := jsonparser.GetString(item, key)
		if err != nil {
			continue
		}
		if d, ok := util.PhoneDigits(v); ok && d == digits {
			return true
		}
	}
	return false
}

func (c *Client) CreateContact(ctx context.Context, acct Account, in ContactInput) (int64, error) {
	resp, err := c.caller(acct).Do(ctx, "create_contact", providers.Candidate{
		Method: http.MethodPost,
		Path:   accountPath(acct, "/contacts"),
		Body: contactPayload{
			Name:        strings.TrimSpace(in.Name),
			PhoneNumber: util.E164(in.Phone),
			Identifier:  util.WhatsAppJID(in.Phone),
			InboxID:     in.InboxID,
		},
	})
	if err != nil {
		return 0, err
	}
	return responseID(resp.Body, []string{"payload", "contact", "id"}, []string{"payload", "id"}, []string{"id"})
}

// FindOpenConversation returns a conversation of the contact in the inbox that is not resolved.
func (c *Client) FindOpenConversation(ctx context.Context, acct Account, contactID, inboxID int64) (int64, bool, error) {
	resp, err := c.caller(acct).Do(ctx, "list_contact_conversations",
		providers.Candidate{Method: http.MethodGet, Path: accountPath(acct, "/contacts/%d/conversations", contactID)},
	)
	if err != nil {
		return 0, false, err
	}

	list := resp.Body
	if v, typ, _, err := jsonparser.Get(resp.Body, "payload"); err == nil && typ == jsonparser.Array {
		list = v
	}
	var found int64
	_, _ = jsonparser.ArrayEach(list, func(item []byte, typ jsonparser.ValueType, _ int, err error) {
		if found != 0 || err != nil || typ != jsonparser.Object {
			return
		}
		inbox, _ := jsonparser.GetInt(item, "inbox_id")
		status, _ := jsonparser.GetString(item, "status")
		if inbox != inboxID || status == "resolved" {
			return
		}
		if id, err := jsonparser.GetInt(item, "id"); err == nil && id > 0 {
			found = id
		}
	})
	return found, found != 0, nil
}

func (c *Client) CreateConversation(ctx context.Context, acct Account, inboxID, contactID int64) (int64, error) {
	resp, err := c.caller(acct).Do(ctx, "create_conversation", providers.Candidate{
		Method: http.MethodPost,
		Path:   accountPath(acct, "/conversations"),
		Body:   conversationPayload{InboxID: inboxID, ContactID: contactID},
	})
	if err != nil {
		return 0, err
	}
	return responseID(resp.Body, []string{"id"}, []string{"payload", "id"})
}

// CreateIncomingMessage posts a customer message into a conversation.
func (c *Client) CreateIncomingMessage(ctx context.Context, acct Account, conversationID int64, in MessageInput) (int64, error) {
	resp, err := c.caller(acct).Do(ctx, "create_message", providers.Candidate{
		Method: http.MethodPost,
		Path:   accountPath(acct, "/conversations/%d/messages", conversationID),
		Body: messagePayload{
			Content:     in.Content,
			MessageType: "incoming",
			SourceID:    in.SourceID,
			Attachments: in.Attachments,
		},
	})
	if err != nil {
		return 0, err
	}
	return responseID(resp.Body, []string{"id"}, []string{"payload", "id"})
}

// CreateInbox creates an API channel inbox whose agent messages are delivered to webhookURL.
func (c *Client) CreateInbox(ctx context.Context, acct Account, name, webhookURL string) (Inbox, error) {
	resp, err := c.caller(acct).Do(ctx, "create_inbox", providers.Candidate{
		Method: http.MethodPost,
		Path:   accountPath(acct, "/inboxes"),
		Body: inboxPayload{
			Name:    strings.TrimSpace(name),
			Channel: inboxChannel{Type: "api", WebhookURL: webhookURL},
		},
	})
	if err != nil {
		return Inbox{}, err
	}
	id, err := responseID(resp.Body, []string{"id"}, []string{"payload", "id"})
	if err != nil {
		return Inbox{}, err
	}
	return Inbox{ID: id, Identifier: inboxIdentifier(resp.Body)}, nil
}

func inboxIdentifier(body []byte) string {
	if v, typ, _, err := jsonparser.Get(body, "payload"); err == nil && typ == jsonparser.Object {
		body = v
	}
	for _, p := range [][]string{{"inbox_identifier"}, {"identifier"}, {"channel_id"}, {"channel", "identifier"}} {
		v, typ, _, err := jsonparser.Get(body, p...)
		if err != nil || len(v) == 0 {
			continue
		}
		if typ == jsonparser.String || typ == jsonparser.Number {
			return string(v)
		}
	}
	return ""
}

// GetConversation returns the raw conversation document.
func (c *Client) GetConversation(ctx context.Context, acct Account, conversationID int64) ([]byte, error) {
	resp, err := c.caller(acct).Do(ctx, "get_conversation",
		providers.Candidate{Method: http.MethodGet, Path: accountPath(acct, "/conversations/%d", conversationID)},
	)
	return resp.Body, err
}

// GetContact returns the raw contact document.
func (c *Client) GetContact(ctx context.Context, acct Account, contactID int64) ([]byte, error) {
	resp, err := c.caller(acct).Do(ctx, "get_contact",
		providers.Candidate{Method: http.MethodGet, Path: accountPath(acct, "/contacts/%d", contactID)},
	)
	return resp.Body, err
}

func responseID(body []byte, paths ...[]string) (int64, error) {
	for _, p := range paths {
		if id, err := jsonparser.GetInt(body, p...); err == nil && id > 0 {
			return id, nil
		}
	}
	return 0, ErrMissingID
}
