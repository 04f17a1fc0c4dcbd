package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

type contact struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Identifier  string `json:"identifier"`
}

type attachment struct {
	FileType    string `json:"file_type"`
	DataURL     string `json:"data_url,omitempty"`
	ExternalURL string `json:"external_url,omitempty"`
}

type message struct {
	ID             int64        `json:"id"`
	ConversationID int64        `json:"conversation_id"`
	Content        string       `json:"content"`
	MessageType    string       `json:"message_type"`
	Private        bool         `json:"private"`
	SourceID       string       `json:"source_id,omitempty"`
	Attachments    []attachment `json:"attachments,omitempty"`
	CreatedAt      int64        `json:"created_at"`
}

type inbox struct {
	ID              int64  `json:"id"`
	AccountID       int64  `json:"account_id"`
	Name            string `json:"name"`
	ChannelType     string `json:"channel_type"`
	WebhookURL      string `json:"webhook_url"`
	InboxIdentifier string `json:"inbox_identifier"`
}

type conversation struct {
	ID        int64  `json:"id"`
	AccountID int64  `json:"account_id"`
	InboxID   int64  `json:"inbox_id"`
	ContactID int64  `json:"contact_id"`
	Status    string `json:"status"`
}

// helpdesk keeps every account in one id space; records carry their account.
type helpdesk struct {
	mu            sync.Mutex
	nextID        int64
	inboxes       map[int64]inbox
	contacts      map[int64]contact
	contactAcct   map[int64]int64
	conversations map[int64]conversation
	messages      map[int64][]message
}

func newHelpdesk() *helpdesk {
	return &helpdesk{
		inboxes:       map[int64]inbox{},
		contacts:      map[int64]contact{},
		contactAcct:   map[int64]int64{},
		conversations: map[int64]conversation{},
		messages:      map[int64][]message{},
	}
}

func (h *helpdesk) id() int64 {
	h.nextID++
	return h.nextID
}

func (s *server) registerHelpdesk(r *mux.Router) {
	api := r.PathPrefix("/api/v1/accounts/{account}").Subrouter()
	api.Use(requireAccessToken)
	api.HandleFunc("/inboxes", s.createInbox).Methods(http.MethodPost)
	api.HandleFunc("/contacts/search", s.searchContacts).Methods(http.MethodGet)
	api.HandleFunc("/contacts", s.createContact).Methods(http.MethodPost)
	api.HandleFunc("/contacts/{id}", s.getContact).Methods(http.MethodGet)
	api.HandleFunc("/contacts/{id}/conversations", s.contactConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations", s.createConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}", s.getConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id}/messages", s.createMessage).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/toggle_status", s.toggleStatus).Methods(http.MethodPost)
}

func requireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api_access_token") == "" {
			writeError(w, http.StatusUnauthorized, "You need to sign in or sign up before continuing.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func pathInt(r *http.Request, key string) int64 {
	v, _ := strconv.ParseInt(mux.Vars(r)[key], 10, 64)
	return v
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func (s *server) createInbox(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name    string `json:"name"`
		Channel struct {
			Type       string `json:"type"`
			WebhookURL string `json:"webhook_url"`
		} `json:"channel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" || in.Channel.Type != "api" {
		writeError(w, http.StatusUnprocessableEntity, "name and an api channel are required")
		return
	}
	h := s.helpdesk
	h.mu.Lock()
	ib := inbox{
		ID:          h.id(),
		AccountID:   pathInt(r, "account"),
		Name:        in.Name,
		ChannelType: "Channel::Api",
		WebhookURL:  in.Channel.WebhookURL,
	}
	ib.InboxIdentifier = "mock-inbox-" + strconv.FormatInt(ib.ID, 10)
	h.inboxes[ib.ID] = ib
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, ib)
}

func (s *server) searchContacts(w http.ResponseWriter, r *http.Request) {
	acct := pathInt(r, "account")
	q := digitsOf(r.URL.Query().Get("q"))
	h := s.helpdesk
	h.mu.Lock()
	out := []contact{}
	for id, c := range h.contacts {
		if h.contactAcct[id] != acct || q == "" {
			continue
		}
		if strings.Contains(digitsOf(c.PhoneNumber), q) {
			out = append(out, c)
		}
	}
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"payload": out, "meta": map[string]any{"count": len(out)}})
}

func (s *server) createContact(w http.ResponseWriter, r *http.Request) {
	var in contact
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if !s.wait(r) {
		return
	}
	h := s.helpdesk
	h.mu.Lock()
	in.ID = h.id()
	h.contacts[in.ID] = in
	h.contactAcct[in.ID] = pathInt(r, "account")
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"payload": map[string]any{"contact": in}})
}

func (s *server) getContact(w http.ResponseWriter, r *http.Request) {
	h := s.helpdesk
	h.mu.Lock()
	c, ok := h.contacts[pathInt(r, "id")]
	owner := h.contactAcct[c.ID]
	h.mu.Unlock()
	if !ok || owner != pathInt(r, "account") {
		writeError(w, http.StatusNotFound, "Resource could not be found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payload": c})
}

func (s *server) contactConversations(w http.ResponseWriter, r *http.Request) {
	contactID := pathInt(r, "id")
	h := s.helpdesk
	h.mu.Lock()
	out := []conversation{}
	for _, c := range h.conversations {
		if c.ContactID == contactID && c.AccountID == pathInt(r, "account") {
			out = append(out, c)
		}
	}
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"payload": out})
}

func (s *server) createConversation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		InboxID   int64 `json:"inbox_id"`
		ContactID int64 `json:"contact_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.InboxID == 0 || in.ContactID == 0 {
		writeError(w, http.StatusUnprocessableEntity, "inbox_id and contact_id are required")
		return
	}
	if !s.wait(r) {
		return
	}
	h := s.helpdesk
	h.mu.Lock()
	if _, ok := h.contacts[in.ContactID]; !ok {
		h.mu.Unlock()
		writeError(w, http.StatusNotFound, "Resource could not be found")
		return
	}
	c := conversation{ID: h.id(), AccountID: pathInt(r, "account"), InboxID: in.InboxID, ContactID: in.ContactID, Status: "open"}
	h.conversations[c.ID] = c
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, c)
}

// conversationDoc renders a conversation the way the helpdesk does, sender under meta.
func (h *helpdesk) conversationDoc(c conversation) map[string]any {
	ct := h.contacts[c.ContactID]
	return map[string]any{
		"id":         c.ID,
		"account_id": c.AccountID,
		"inbox_id":   c.InboxID,
		"status":     c.Status,
		"meta": map[string]any{
			"sender": map[string]any{"id": ct.ID, "name": ct.Name, "phone_number": ct.PhoneNumber},
		},
	}
}

func (s *server) lookupConversation(r *http.Request) (conversation, bool) {
	c, ok := s.helpdesk.conversations[pathInt(r, "id")]
	return c, ok && c.AccountID == pathInt(r, "account")
}

func (s *server) getConversation(w http.ResponseWriter, r *http.Request) {
	h := s.helpdesk
	h.mu.Lock()
	c, ok := s.lookupConversation(r)
	var doc map[string]any
	if ok {
		doc = h.conversationDoc(c)
	}
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Resource could not be found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *server) toggleStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status string `json:"status"`
	}
	_ = json.NewDecoder(r.Body).Decode(&in)
	h := s.helpdesk
	h.mu.Lock()
	c, ok := s.lookupConversation(r)
	if ok {
		switch {
		case in.Status != "":
			c.Status = in.Status
		case c.Status == "open":
			c.Status = "resolved"
		default:
			c.Status = "open"
		}
		h.conversations[c.ID] = c
	}
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Resource could not be found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payload": map[string]any{"success": true, "current_status": c.Status}})
}

// createMessage stores the message. Agent replies (outgoing, not private) are also
// posted the way the helpdesk fires message_created.
func (s *server) createMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content     string       `json:"content"`
		MessageType string       `json:"message_type"`
		Private     bool         `json:"private"`
		SourceID    string       `json:"source_id"`
		Attachments []attachment `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if in.MessageType == "" {
		in.MessageType = "outgoing"
	}
	if !s.wait(r) {
		return
	}
	h := s.helpdesk
	h.mu.Lock()
	c, ok := s.lookupConversation(r)
	if !ok {
		h.mu.Unlock()
		writeError(w, http.StatusNotFound, "Resource could not be found")
		return
	}
	m := message{
		ID:             h.id(),
		ConversationID: c.ID,
		Content:        in.Content,
		MessageType:    in.MessageType,
		Private:        in.Private,
		SourceID:       in.SourceID,
		Attachments:    in.Attachments,
		CreatedAt:      time.Now().Unix(),
	}
	h.messages[c.ID] = append(h.messages[c.ID], m)
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, m)

	if m.MessageType == "outgoing" && !m.Private {
		s.emitMessageCreated(c, m)
	}
}
