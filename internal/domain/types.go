package domain

import (
	"errors"
	"time"
)

// Tenant is one professional with a single WhatsApp instance and a single helpdesk inbox.
type Tenant struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	WhatsAppInstance  string    `json:"whatsapp_instance,omitempty"`
	HelpdeskAccountID int64     `json:"helpdesk_account_id,omitempty"`
	HelpdeskInboxID   int64     `json:"helpdesk_inbox_id,omitempty"`
	HelpdeskToken     string    `json:"-"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (t Tenant) HelpdeskConfigured() bool {
	return t.HelpdeskAccountID > 0 && t.HelpdeskInboxID > 0 && t.HelpdeskToken != ""
}

func (t Tenant) Helpdesk() HelpdeskBinding {
	return HelpdeskBinding{AccountID: t.HelpdeskAccountID, InboxID: t.HelpdeskInboxID, Token: t.HelpdeskToken}
}

type HelpdeskBinding struct {
	AccountID int64
	InboxID   int64
	Token     string
}

var (
	ErrConflict     = errors.New("channel already bound to another tenant")
	ErrNotFound     = errors.New("tenant not found")
	ErrInvalidPhone = errors.New("invalid phone")
	ErrEmptyBinding = errors.New("empty channel binding")
)

type CreateTenantRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type BindWhatsAppRequest struct {
	Instance string `json:"instance" validate:"required,max=128"`
}

type ConfigureHelpdeskRequest struct {
	AccountID int64  `json:"account_id" validate:"required,gt=0"`
	InboxID   int64  `json:"inbox_id" validate:"required,gt=0"`
	APIToken  string `json:"api_token" validate:"required"`
}

func (r ConfigureHelpdeskRequest) Binding() HelpdeskBinding {
	return HelpdeskBinding{AccountID: r.AccountID, InboxID: r.InboxID, Token: r.APIToken}
}

// ProvisionHelpdeskRequest creates a new API inbox for the tenant and binds it.
type ProvisionHelpdeskRequest struct {
	AccountID int64  `json:"account_id" validate:"required,gt=0"`
	APIToken  string `json:"api_token" validate:"required"`
	InboxName string `json:"inbox_name" validate:"required,max=200"`
}

type ConnectWhatsAppRequest struct {
	Number string `json:"number" validate:"omitempty,numeric,min=8,max=15"`
}
