package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
	DirectionActivity = "activity"
	DirectionTemplate = "template"

	EventMessageCreated = "message_created"
)

// numeric message_type values used by the helpdesk API
var directionByCode = map[int64]string{
	0: DirectionIncoming,
	1: DirectionOutgoing,
	2: DirectionActivity,
	3: DirectionTemplate,
}

type Attachment struct {
	FileType string
	URL      string
}

// HelpdeskEvent is everything the outbound relay needs from one helpdesk webhook.
type HelpdeskEvent struct {
	Event          string
	HasMessage     bool
	HasConv        bool
	MessageID      string
	Direction      string
	Private        bool
	Content        string
	AccountID      int64
	InboxID        int64
	ConversationID int64
	// PayloadPhone is a phone found directly in the webhook, as digits.
	PayloadPhone string
	Attachments  []Attachment
}

// IsMessageCreated reports whether the event announces a new message. Envelopes
// without an event name are treated as message payloads.
func (e HelpdeskEvent) IsMessageCreated() bool {
	return e.Event == "" || e.Event == EventMessageCreated
}

// AudioURL returns the URL of the first audio attachment.
func (e HelpdeskEvent) AudioURL() string {
	for _, a := range e.Attachments {
		if a.FileType == "audio" && a.URL != "" {
			return a.URL
		}
	}
	return ""
}

var (
	accountPaths = [][]string{
		p("account", "id"),
		p("conversation", "account_id"),
		p("account_id"),
	}
	inboxPaths = [][]string{
		p("conversation", "inbox_id"),
		p("conversation", "inbox", "id"),
		p("inbox_id"),
		p("inbox", "id"),
	}

	// payload-level phone candidates, relative to the conversation object
	convPhonePaths = [][]string{
		p("contact", "phone_number"),
		p("contact", "phone"),
		p("contact", "phoneNumber"),
		p("meta", "sender", "phone_number"),
		p("contact_inbox", "source_id"),
	}
	// relative to the envelope or message
	senderPhonePaths = [][]string{
		p("contact", "phone_number"),
		p("sender", "phone_number"),
	}

	// live conversation fetch
	liveConvPhonePaths = [][]string{
		p("contact_inbox", "source_id"),
		p("meta", "sender", "phone_number"),
		p("meta", "contact", "phone_number"),
	}
	liveContactIDPaths = [][]string{
		p("meta", "sender", "id"),
		p("contact_inbox", "contact_id"),
		p("contact_id"),
		p("meta", "contact", "id"),
	}
	contactPhonePaths = [][]string{
		p("phone_number"),
		p("identifier"),
	}
)

// ParseHelpdesk extracts a HelpdeskEvent. The message may be nested under "message"
// or be the envelope itself; the conversation may sit in either.
func ParseHelpdesk(body []byte) (HelpdeskEvent, error) {
	if !json.Valid(body) || !isObject(body) {
		return HelpdeskEvent{}, ErrNotJSONObject
	}

	ev := HelpdeskEvent{Event: firstString(body, p("event"))}

	msg := firstObject(body, p("message"))
	if msg == nil && looksLikeMessage(body) {
		msg = body
	}
	conv := firstObject(msg, p("conversation"))
	if conv == nil {
		conv = firstObject(body, p("conversation"))
	}
	ev.HasMessage = msg != nil
	ev.HasConv = conv != nil
	if msg == nil {
		return ev, nil
	}

	ev.MessageID = firstString(msg, p("id"))
	ev.Direction = direction(msg)
	ev.Private, _ = firstBool(msg, p("private"))
	ev.Content = firstString(msg, p("content"))
	ev.Attachments = attachments(msg)

	for _, src := range [][]byte{body, msg} {
		if ev.AccountID == 0 {
			ev.AccountID, _ = firstInt(src, accountPaths...)
		}
		if ev.InboxID == 0 {
			ev.InboxID, _ = firstInt(src, inboxPaths...)
		}
	}
	if conv != nil {
		ev.ConversationID, _ = firstInt(conv, p("id"))
		if ev.AccountID == 0 {
			ev.AccountID, _ = firstInt(conv, p("account_id"))
		}
		if ev.InboxID == 0 {
			ev.InboxID, _ = firstInt(conv, p("inbox_id"), p("inbox", "id"))
		}
		ev.PayloadPhone = firstPhone(conv, convPhonePaths...)
	}
	if ev.ConversationID == 0 {
		ev.ConversationID, _ = firstInt(msg, p("conversation_id"))
	}
	if ev.PayloadPhone == "" {
		ev.PayloadPhone = firstPhone(body, senderPhonePaths[:1]...)
	}
	if ev.PayloadPhone == "" && senderIsContact(msg) {
		ev.PayloadPhone = firstPhone(msg, senderPhonePaths[1:]...)
	}
	return ev, nil
}

func looksLikeMessage(obj []byte) bool {
	for _, k := range []string{"message_type", "content", "content_type"} {
		if _, _, _, err := jsonparser.Get(obj, k); err == nil {
			return true
		}
	}
	return false
}

func direction(msg []byte) string {
	v, typ, _, err := jsonparser.Get(msg, "message_type")
	if err != nil {
		return ""
	}
	switch typ {
	case jsonparser.Number:
		n, err := jsonparser.ParseInt(v)
		if err != nil {
			return ""
		}
		return directionByCode[n]
	case jsonparser.String:
		s := strings.ToLower(strings.TrimSpace(string(v)))
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return directionByCode[n]
		}
		return s
	}
	return ""
}

// An agent's own profile may carry a phone; only a contact sender is a recipient.
func senderIsContact(msg []byte) bool {
	t := strings.ToLower(firstString(msg, p("sender", "type"), p("sender_type")))
	return t == "contact"
}

func attachments(msg []byte) []Attachment {
	var out []Attachment
	_, _ = jsonparser.ArrayEach(msg, func(v []byte, typ jsonparser.ValueType, _ int, err error) {
		if err != nil || typ != jsonparser.Object {
			return
		}
		out = append(out, Attachment{
			FileType: attachmentType(v),
			URL:      firstString(v, attachmentURLPaths...),
		})
	}, "attachments")
	return out
}

var attachmentURLPaths = [][]string{
	p("data_url"),
	p("file_url"),
	p("url"),
	p("external_url"),
}

// attachmentType prefers file_type and falls back to the major part of a MIME content_type.
func attachmentType(att []byte) string {
	if ft := strings.ToLower(firstString(att, p("file_type"), p("fileType"))); ft != "" {
		return ft
	}
	ct := strings.ToLower(firstString(att, p("content_type"), p("contentType")))
	if major, _, ok := strings.Cut(ct, "/"); ok {
		return major
	}
	return ""
}

// ConversationPhone looks for the recipient phone in a conversation fetched from the
// helpdesk API, in precedence order: external source id, sender phone, contact phone.
func ConversationPhone(conv []byte) (string, bool) {
	conv = unwrapPayload(conv)
	d := firstPhone(conv, liveConvPhonePaths...)
	return d, d != ""
}

// ConversationContactID finds the contact behind a fetched conversation.
func ConversationContactID(conv []byte) (int64, bool) {
	return firstInt(unwrapPayload(conv), liveContactIDPaths...)
}

// ContactPhone reads the phone of a contact fetched by id.
func ContactPhone(contact []byte) (string, bool) {
	contact = unwrapPayload(contact)
	d := firstPhone(contact, contactPhonePaths...)
	return d, d != ""
}

// HelpdeskOrderingKey groups events of one helpdesk conversation.
func HelpdeskOrderingKey(body []byte) string {
	ev, err := ParseHelpdesk(body)
	if err != nil {
		return ""
	}
	return strconv.FormatInt(ev.AccountID, 10) + ":" + strconv.FormatInt(ev.ConversationID, 10)
}

func unwrapPayload(obj []byte) []byte {
	if inner := firstObject(obj, p("payload")); inner != nil {
		return inner
	}
	return obj
}
