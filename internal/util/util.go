package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

func NewTenantID() string { return newID("tnt_") }

func NewEventID() string { return newID("evt_") }

func newID(prefix string) string {
	// ULID is sortable (nice for DB indexes and dashboards)
	t := time.Now().UTC()
	return prefix + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
