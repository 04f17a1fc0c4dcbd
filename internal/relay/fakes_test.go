package relay

import (
	"context"
	"net/http"
	"testing"

	"medrelay/internal/convmap"
	"medrelay/internal/dedup"
	"medrelay/internal/domain"
	"medrelay/internal/providers"
	"medrelay/internal/providers/chatwoot"
	"medrelay/internal/providers/evolution"
	"medrelay/internal/store/memstore"
	"medrelay/internal/tenant"
)

type fakeConversation struct {
	id        int64
	accountID int64
	contactID int64
	inboxID   int64
	status    string
}

type postedMessage struct {
	accountID      int64
	conversationID int64
	in             chatwoot.MessageInput
}

type fakeHelpdesk struct {
	nextID        int64
	contacts      map[string]int64 // digits -> contact id
	contactNames  map[int64]string
	conversations []fakeConversation
	messages      []postedMessage
	calls         []string

	// raw documents served by GetConversation / GetContact
	liveConversations map[int64][]byte
	liveContacts      map[int64][]byte

	messageErr error
}

func newFakeHelpdesk() *fakeHelpdesk {
	return &fakeHelpdesk{
		nextID:            100,
		contacts:          map[string]int64{},
		contactNames:      map[int64]string{},
		liveConversations: map[int64][]byte{},
		liveContacts:      map[int64][]byte{},
	}
}

func (f *fakeHelpdesk) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeHelpdesk) SearchContact(ctx context.Context, acct chatwoot.Account, digits string) (int64, bool, error) {
	f.calls = append(f.calls, "search_contact")
	id, ok := f.contacts[digits]
	return id, ok, nil
}

func (f *fakeHelpdesk) CreateContact(ctx context.Context, acct chatwoot.Account, in chatwoot.ContactInput) (int64, error) {
	f.calls = append(f.calls, "create_contact")
	id := f.id()
	f.contacts[in.Phone] = id
	f.contactNames[id] = in.Name
	return id, nil
}

func (f *fakeHelpdesk) FindOpenConversation(ctx context.Context, acct chatwoot.Account, contactID, inboxID int64) (int64, bool, error) {
	f.calls = append(f.calls, "find_conversation")
	for _, c := range f.conversations {
		if c.accountID == acct.ID && c.contactID == contactID && c.inboxID == inboxID && c.status != "resolved" {
			return c.id, true, nil
		}
	}
	return 0, false, nil
}

func (f *fakeHelpdesk) CreateConversation(ctx context.Context, acct chatwoot.Account, inboxID, contactID int64) (int64, error) {
	f.calls = append(f.calls, "create_conversation")
	id := f.id()
	f.conversations = append(f.conversations, fakeConversation{id: id, accountID: acct.ID, contactID: contactID, inboxID: inboxID, status: "open"})
	return id, nil
}

func (f *fakeHelpdesk) CreateIncomingMessage(ctx context.Context, acct chatwoot.Account, conversationID int64, in chatwoot.MessageInput) (int64, error) {
	f.calls = append(f.calls, "create_message")
	if f.messageErr != nil {
		return 0, f.messageErr
	}
	f.messages = append(f.messages, postedMessage{accountID: acct.ID, conversationID: conversationID, in: in})
	return f.id(), nil
}

func (f *fakeHelpdesk) GetConversation(ctx context.Context, acct chatwoot.Account, conversationID int64) ([]byte, error) {
	f.calls = append(f.calls, "get_conversation")
	if doc, ok := f.liveConversations[conversationID]; ok {
		return doc, nil
	}
	return nil, &providers.StatusError{Provider: "helpdesk", Status: http.StatusNotFound, Class: providers.ClassNotFound}
}

func (f *fakeHelpdesk) GetContact(ctx context.Context, acct chatwoot.Account, contactID int64) ([]byte, error) {
	f.calls = append(f.calls, "get_contact")
	if doc, ok := f.liveContacts[contactID]; ok {
		return doc, nil
	}
	return nil, &providers.StatusError{Provider: "helpdesk", Status: http.StatusNotFound, Class: providers.ClassNotFound}
}

func (f *fakeHelpdesk) count(op string) int {
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

type sent struct {
	instance string
	number   string
	text     string
	audioURL string
}

type fakeWhatsApp struct {
	sent []sent
	err  error
}

func (f *fakeWhatsApp) SendText(ctx context.Context, instance, number, text string) (evolution.SendResult, error) {
	if f.err != nil {
		return evolution.SendResult{}, f.err
	}
	f.sent = append(f.sent, sent{instance: instance, number: number, text: text})
	return evolution.SendResult{MessageID: "3EB0"}, nil
}

func (f *fakeWhatsApp) SendAudio(ctx context.Context, instance, number, audioURL string) (evolution.SendResult, error) {
	if f.err != nil {
		return evolution.SendResult{}, f.err
	}
	f.sent = append(f.sent, sent{instance: instance, number: number, audioURL: audioURL})
	return evolution.SendResult{MessageID: "3EB1"}, nil
}

type harness struct {
	inbound   *Inbound
	outbound  *Outbound
	helpdesk  *fakeHelpdesk
	whatsapp  *fakeWhatsApp
	directory *tenant.Directory
	convs     *convmap.Map
	tenant    domain.Tenant
}

const testSecret = "hd-secret"

// newHarness wires both relays over the in-memory store with tenant_7 bound to
// helpdesk account 3, inbox 12.
func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memstore.New()
	dir := tenant.New(st)
	convs := convmap.New(st)
	hd := newFakeHelpdesk()
	wa := &fakeWhatsApp{}

	h := &harness{helpdesk: hd, whatsapp: wa, directory: dir, convs: convs}
	h.tenant = h.addTenant(t, "Dra. Ana", "tenant_7", 3, 12)

	h.inbound = &Inbound{
		Tenants:                dir,
		Conversations:          convs,
		Dedup:                  dedup.NewMemory(dedup.DefaultTTL),
		Helpdesk:               hd,
		ReuseOpenConversations: true,
	}
	h.outbound = &Outbound{
		Secret:        testSecret,
		Tenants:       dir,
		Conversations: convs,
		Dedup:         dedup.NewMemory(dedup.DefaultTTL),
		Helpdesk:      hd,
		WhatsApp:      wa,
	}
	return h
}

func (h *harness) addTenant(t *testing.T, name, instance string, accountID, inboxID int64) domain.Tenant {
	t.Helper()
	ctx := context.Background()
	tn, err := h.directory.Create(ctx, name)
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if instance != "" {
		if err := h.directory.Bind(ctx, tn.ID, instance); err != nil {
			t.Fatalf("bind: %v", err)
		}
	}
	if accountID > 0 {
		err := h.directory.ConfigureHelpdesk(ctx, tn.ID, domain.HelpdeskBinding{AccountID: accountID, InboxID: inboxID, Token: "tok-" + name})
		if err != nil {
			t.Fatalf("configure helpdesk: %v", err)
		}
	}
	tn, _, _ = h.directory.Get(ctx, tn.ID)
	return tn
}
