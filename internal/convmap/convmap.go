package convmap

import (
	"context"
	"time"

	"medrelay/internal/domain"
	"medrelay/internal/store"
	"medrelay/internal/util"
)

type Store interface {
	UpsertConversationPhone(ctx context.Context, in store.ConversationPhone) error
	ConversationPhone(ctx context.Context, accountID, conversationID int64) (string, bool, error)
}

// Map remembers which phone a helpdesk conversation talks to. Writes are
// last-write-wins; entries never expire.
type Map struct {
	Store Store
	Now   func() time.Time
}

func New(st Store) *Map {
	return &Map{Store: st, Now: util.NowUTC}
}

func (m *Map) Upsert(ctx context.Context, accountID, conversationID int64, phone string) error {
	digits, ok := util.PhoneDigits(phone)
	if !ok {
		return domain.ErrInvalidPhone
	}
	return m.Store.UpsertConversationPhone(ctx, store.ConversationPhone{
		AccountID:      accountID,
		ConversationID: conversationID,
		Phone:          digits,
		Now:            m.Now(),
	})
}

func (m *Map) Lookup(ctx context.Context, accountID, conversationID int64) (string, bool, error) {
	if accountID <= 0 || conversationID <= 0 {
		return "", false, nil
	}
	return m.Store.ConversationPhone(ctx, accountID, conversationID)
}
