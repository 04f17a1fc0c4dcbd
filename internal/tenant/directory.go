package tenant

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"medrelay/internal/domain"
	"medrelay/internal/store"
	"medrelay/internal/util"
)

type Store interface {
	InsertTenant(ctx context.Context, in store.TenantInsert) error
	GetTenant(ctx context.Context, id string) (domain.Tenant, bool, error)
	TenantByInstance(ctx context.Context, instance string) (domain.Tenant, bool, error)
	TenantByInbox(ctx context.Context, accountID, inboxID int64) (domain.Tenant, bool, error)
	BindInstance(ctx context.Context, in store.InstanceBinding) error
	BindHelpdesk(ctx context.Context, in store.HelpdeskBindingUpdate) error
	DeactivateTenant(ctx context.Context, id string, now time.Time) (bool, error)
}

// Directory maps tenants to their channel bindings. Lookups that find nothing
// return found=false; only storage failures are errors. Inactive tenants keep
// their bindings (so nobody else can take them) but never resolve.
type Directory struct {
	Store Store
	IDGen func() string
	Now   func() time.Time
}

func New(st Store) *Directory {
	return &Directory{Store: st, IDGen: util.NewTenantID, Now: util.NowUTC}
}

func (d *Directory) ResolveByInstance(ctx context.Context, instance string) (domain.Tenant, bool, error) {
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return domain.Tenant{}, false, nil
	}
	t, found, err := d.Store.TenantByInstance(ctx, instance)
	if err != nil || !found || !t.Active {
		return domain.Tenant{}, false, err
	}
	return t, true, nil
}

func (d *Directory) ResolveByInbox(ctx context.Context, accountID, inboxID int64) (domain.Tenant, bool, error) {
	if accountID <= 0 || inboxID <= 0 {
		return domain.Tenant{}, false, nil
	}
	t, found, err := d.Store.TenantByInbox(ctx, accountID, inboxID)
	if err != nil || !found || !t.Active {
		return domain.Tenant{}, false, err
	}
	return t, true, nil
}

func (d *Directory) Create(ctx context.Context, name string) (domain.Tenant, error) {
	id := d.IDGen()
	if err := d.Store.InsertTenant(ctx, store.TenantInsert{ID: id, Name: strings.TrimSpace(name), Now: d.Now()}); err != nil {
		return domain.Tenant{}, err
	}
	t, _, err := d.Store.GetTenant(ctx, id)
	return t, err
}

func (d *Directory) Get(ctx context.Context, id string) (domain.Tenant, bool, error) {
	return d.Store.GetTenant(ctx, id)
}

// Bind attaches a WhatsApp instance to a tenant. Rebinding the same tenant is a no-op;
// an instance owned by another tenant yields domain.ErrConflict.
func (d *Directory) Bind(ctx context.Context, tenantID, instance string) error {
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return domain.ErrEmptyBinding
	}
	err := d.Store.BindInstance(ctx, store.InstanceBinding{TenantID: tenantID, Instance: instance, Now: d.Now()})
	if errors.Is(err, domain.ErrConflict) {
		slog.Warn("whatsapp instance bind conflict", "tenant_id", tenantID, "instance", instance)
	}
	return err
}

func (d *Directory) ConfigureHelpdesk(ctx context.Context, tenantID string, b domain.HelpdeskBinding) error {
	if b.AccountID <= 0 || b.InboxID <= 0 || strings.TrimSpace(b.Token) == "" {
		return domain.ErrEmptyBinding
	}
	err := d.Store.BindHelpdesk(ctx, store.HelpdeskBindingUpdate{
		TenantID:  tenantID,
		AccountID: b.AccountID,
		InboxID:   b.InboxID,
		Token:     strings.TrimSpace(b.Token),
		Now:       d.Now(),
	})
	if errors.Is(err, domain.ErrConflict) {
		slog.Warn("helpdesk inbox bind conflict", "tenant_id", tenantID, "account_id", b.AccountID, "inbox_id", b.InboxID)
	}
	return err
}

func (d *Directory) Deactivate(ctx context.Context, id string) error {
	ok, err := d.Store.DeactivateTenant(ctx, id, d.Now())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}
