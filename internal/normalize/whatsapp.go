package normalize

import (
	"encoding/json"
	"errors"
	"strings"

	"medrelay/internal/util"
)

type Kind string

const (
	KindText        Kind = "text"
	KindAudio       Kind = "audio"
	KindImage       Kind = "image"
	KindDocument    Kind = "document"
	KindUnsupported Kind = "unsupported"
)

const (
	EventMessagesUpsert   = "messages.upsert"
	EventConnectionUpdate = "connection.update"
)

const (
	groupSuffix = "@g.us"
	lidSuffix   = "@lid"
)

var ErrNotJSONObject = errors.New("body is not a json object")

// Message is the provider-agnostic form of one chat message.
type Message struct {
	Kind  Kind
	Text  string
	Media Media
	// NoURL marks media whose type was recognised but that carries no retrievable URL.
	NoURL bool
}

type Media struct {
	URL      string
	MimeType string
	Caption  string
	FileName string
}

func (m Message) IsMedia() bool {
	return m.Kind == KindAudio || m.Kind == KindImage || m.Kind == KindDocument
}

// WhatsAppEvent is everything the inbound relay needs from one provider webhook.
type WhatsAppEvent struct {
	Event      string
	Instance   string
	State      string
	MessageID  string
	FromMe     bool
	Group      bool
	RemoteJID  string
	Phone      string
	SenderName string
	Message    Message
}

// EventKind folds the spellings providers use ("MESSAGES_UPSERT", "messages-upsert",
// "messages.upsert") into the dotted lower-case form.
func EventKind(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("_", ".", "-", ".").Replace(s)
	return s
}

func IsMessageEvent(event string) bool {
	return EventKind(event) == EventMessagesUpsert
}

var (
	eventPaths = [][]string{p("event"), p("type")}

	instancePaths = [][]string{
		p("instance"),
		p("instanceName"),
		p("instance", "instanceName"),
		p("data", "instance"),
		p("data", "instanceName"),
	}

	// message object inside the envelope
	dataPaths = [][]string{
		p("data", "messages", "[0]"),
		p("data", "[0]"),
		p("data"),
	}

	textPaths = [][]string{
		p("message", "conversation"),
		p("message", "extendedTextMessage", "text"),
	}

	messageIDPaths = [][]string{p("key", "id"), p("id")}
	fromMePaths    = [][]string{p("key", "fromMe"), p("fromMe")}
	remoteJIDPaths = [][]string{p("key", "remoteJid"), p("remoteJid")}
	altPhonePaths  = [][]string{p("key", "senderPn"), p("key", "remoteJidAlt"), p("senderPn")}
	namePaths      = [][]string{p("pushName"), p("verifiedBizName"), p("notifyName")}
	statePaths     = [][]string{p("data", "state"), p("data", "connection"), p("state")}
)

type mediaShape struct {
	kind        Kind
	typeName    []string
	objectPaths [][]string
}

var mediaShapes = []mediaShape{
	{
		kind:        KindAudio,
		typeName:    []string{"audioMessage", "pttMessage"},
		objectPaths: [][]string{p("message", "audioMessage"), p("message", "pttMessage")},
	},
	{
		kind:        KindImage,
		typeName:    []string{"imageMessage"},
		objectPaths: [][]string{p("message", "imageMessage")},
	},
	{
		kind:     KindDocument,
		typeName: []string{"documentMessage", "documentWithCaptionMessage"},
		objectPaths: [][]string{
			p("message", "documentMessage"),
			p("message", "documentWithCaptionMessage", "message", "documentMessage"),
		},
	},
}

// Public storage URLs come first; the in-object url is often an encrypted CDN link.
var (
	dataURLPaths   = [][]string{p("message", "mediaUrl"), p("mediaUrl")}
	objectURLPaths = [][]string{p("mediaUrl"), p("url")}
)

// ParseWhatsApp extracts a WhatsAppEvent from a provider webhook body. pathEvent is the
// event name from the URL, used when the body does not carry one. Only a body that is
// not a JSON object is an error; anything else degrades to empty fields or KindUnsupported.
func ParseWhatsApp(body []byte, pathEvent string) (WhatsAppEvent, error) {
	if !json.Valid(body) || !isObject(body) {
		return WhatsAppEvent{}, ErrNotJSONObject
	}

	ev := WhatsAppEvent{
		Event:    EventKind(firstString(body, eventPaths...)),
		Instance: firstString(body, instancePaths...),
		State:    firstString(body, statePaths...),
	}
	if ev.Event == "" {
		ev.Event = EventKind(pathEvent)
	}

	data := firstObject(body, dataPaths...)
	if data == nil {
		ev.Message = Message{Kind: KindUnsupported}
		return ev, nil
	}

	ev.MessageID = firstString(data, messageIDPaths...)
	ev.FromMe, _ = firstBool(data, fromMePaths...)
	ev.RemoteJID = firstString(data, remoteJIDPaths...)
	ev.Group = strings.HasSuffix(ev.RemoteJID, groupSuffix)
	ev.Phone = senderPhone(data, ev.RemoteJID)
	ev.SenderName = firstString(data, namePaths...)
	if ev.SenderName == "" {
		ev.SenderName = ev.Phone
	}
	ev.Message = NormalizeWhatsAppMessage(data)
	return ev, nil
}

func senderPhone(data []byte, remoteJID string) string {
	if strings.HasSuffix(remoteJID, groupSuffix) {
		return ""
	}
	if !strings.HasSuffix(remoteJID, lidSuffix) {
		if d, ok := util.PhoneDigits(remoteJID); ok {
			return d
		}
	}
	return firstPhone(data, altPhonePaths...)
}

// NormalizeWhatsAppMessage classifies the message object of a provider event.
// Media is checked before text; a message with neither is KindUnsupported.
func NormalizeWhatsAppMessage(data []byte) Message {
	if m, ok := mediaMessage(data); ok {
		return m
	}
	if text := firstString(data, textPaths...); text != "" {
		return Message{Kind: KindText, Text: text}
	}
	return Message{Kind: KindUnsupported}
}

func mediaMessage(data []byte) (Message, bool) {
	msgType := firstString(data, p("messageType"))

	for _, shape := range mediaShapes {
		obj := firstObject(data, shape.objectPaths...)
		if obj == nil && !contains(shape.typeName, msgType) {
			continue
		}

		m := Message{Kind: shape.kind}
		m.Media.URL = firstString(data, dataURLPaths...)
		if obj != nil {
			if m.Media.URL == "" {
				m.Media.URL = firstString(obj, objectURLPaths...)
			}
			m.Media.MimeType = firstString(obj, p("mimetype"), p("mimeType"))
			m.Media.Caption = firstString(obj, p("caption"))
			m.Media.FileName = firstString(obj, p("fileName"), p("title"))
		}
		m.Text = m.Media.Caption
		m.NoURL = m.Media.URL == ""
		return m, true
	}
	return Message{}, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// WhatsAppOrderingKey groups events of one chat, used as the FIFO group on the relay queue.
func WhatsAppOrderingKey(body []byte) string {
	instance := firstString(body, instancePaths...)
	data := firstObject(body, dataPaths...)
	if data == nil {
		return instance
	}
	return instance + ":" + firstString(data, remoteJIDPaths...)
}
