// Package memstore keeps tenants and the conversation map in process memory.
// It backs STORE_DRIVER=memory for local runs and serves as the fake store in tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"medrelay/internal/domain"
	"medrelay/internal/store"
)

type inboxKey struct {
	accountID int64
	inboxID   int64
}

type convKey struct {
	accountID      int64
	conversationID int64
}

type Store struct {
	mu         sync.RWMutex
	tenants    map[string]domain.Tenant
	byInstance map[string]string
	byInbox    map[inboxKey]string
	convs      map[convKey]string
}

func New() *Store {
	return &Store{
		tenants:    map[string]domain.Tenant{},
		byInstance: map[string]string{},
		byInbox:    map[inboxKey]string{},
		convs:      map[convKey]string{},
	}
}

func (s *Store) InsertTenant(ctx context.Context, in store.TenantInsert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[in.ID] = domain.Tenant{ID: in.ID, Name: in.Name, Active: true, CreatedAt: in.Now, UpdatedAt: in.Now}
	return nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (domain.Tenant, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	return t, ok, nil
}

func (s *Store) TenantByInstance(ctx context.Context, instance string) (domain.Tenant, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byInstance[instance]
	if !ok {
		return domain.Tenant{}, false, nil
	}
	t, ok := s.tenants[id]
	return t, ok, nil
}

func (s *Store) TenantByInbox(ctx context.Context, accountID, inboxID int64) (domain.Tenant, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byInbox[inboxKey{accountID, inboxID}]
	if !ok {
		return domain.Tenant{}, false, nil
	}
	t, ok := s.tenants[id]
	return t, ok, nil
}

func (s *Store) BindInstance(ctx context.Context, in store.InstanceBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[in.TenantID]
	if !ok {
		return domain.ErrNotFound
	}
	if owner, ok := s.byInstance[in.Instance]; ok && owner != in.TenantID {
		return domain.ErrConflict
	}
	if t.WhatsAppInstance != "" {
		delete(s.byInstance, t.WhatsAppInstance)
	}
	t.WhatsAppInstance = in.Instance
	t.UpdatedAt = in.Now
	s.tenants[t.ID] = t
	s.byInstance[in.Instance] = t.ID
	return nil
}

func (s *Store) BindHelpdesk(ctx context.Context, in store.HelpdeskBindingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[in.TenantID]
	if !ok {
		return domain.ErrNotFound
	}
	k := inboxKey{in.AccountID, in.InboxID}
	if owner, ok := s.byInbox[k]; ok && owner != in.TenantID {
		return domain.ErrConflict
	}
	if t.HelpdeskAccountID != 0 || t.HelpdeskInboxID != 0 {
		delete(s.byInbox, inboxKey{t.HelpdeskAccountID, t.HelpdeskInboxID})
	}
	t.HelpdeskAccountID = in.AccountID
	t.HelpdeskInboxID = in.InboxID
	t.HelpdeskToken = in.Token
	t.UpdatedAt = in.Now
	s.tenants[t.ID] = t
	s.byInbox[k] = t.ID
	return nil
}

func (s *Store) DeactivateTenant(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return false, nil
	}
	t.Active = false
	t.UpdatedAt = now
	s.tenants[id] = t
	return true, nil
}

func (s *Store) UpsertConversationPhone(ctx context.Context, in store.ConversationPhone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[convKey{in.AccountID, in.ConversationID}] = in.Phone
	return nil
}

func (s *Store) ConversationPhone(ctx context.Context, accountID, conversationID int64) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.convs[convKey{accountID, conversationID}]
	return p, ok, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }
