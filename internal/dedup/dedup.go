// Package dedup remembers recently relayed provider message ids so webhook
// re-deliveries are not relayed twice. Entries expire after a retention window;
// an expired id that shows up again is relayed again.
package dedup

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

const DefaultTTL = 10 * time.Minute

type Ledger interface {
	Seen(ctx context.Context, instance, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, instance, messageID string) error
}

func Key(instance, messageID string) string {
	return instance + ":" + messageID
}

// Memory is a per-process ledger. Expired entries are dropped lazily on read
// and by the cache janitor.
type Memory struct {
	c *cache.Cache
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{c: cache.New(ttl, ttl)}
}

func (m *Memory) Seen(ctx context.Context, instance, messageID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}
	_, found := m.c.Get(Key(instance, messageID))
	return found, nil
}

func (m *Memory) MarkProcessed(ctx context.Context, instance, messageID string) error {
	if messageID == "" {
		return nil
	}
	m.c.SetDefault(Key(instance, messageID), struct{}{})
	return nil
}
