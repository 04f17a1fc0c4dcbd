package store

import "time"

type TenantInsert struct {
	ID   string
	Name string
	Now  time.Time
}

type InstanceBinding struct {
	TenantID string
	Instance string
	Now      time.Time
}

type HelpdeskBindingUpdate struct {
	TenantID  string
	AccountID int64
	InboxID   int64
	Token     string
	Now       time.Time
}

type ConversationPhone struct {
	AccountID      int64
	ConversationID int64
	Phone          string
	Now            time.Time
}
