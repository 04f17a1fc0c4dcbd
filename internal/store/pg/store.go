package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"medrelay/internal/domain"
	"medrelay/internal/store"
)

const uniqueViolation = "23505"

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

const tenantColumns = `
	id, name, COALESCE(whatsapp_instance,''), COALESCE(helpdesk_account_id,0), COALESCE(helpdesk_inbox_id,0),
	COALESCE(helpdesk_api_token,''), active, created_at, updated_at`

func scanTenant(row pgx.Row) (domain.Tenant, bool, error) {
	var t domain.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.WhatsAppInstance, &t.HelpdeskAccountID, &t.HelpdeskInboxID,
		&t.HelpdeskToken, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Tenant{}, false, nil
		}
		return domain.Tenant{}, false, err
	}
	return t, true, nil
}

func (s *Store) InsertTenant(ctx context.Context, in store.TenantInsert) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO tenants (id, name, active, created_at, updated_at) VALUES ($1,$2,TRUE,$3,$3)
	`, in.ID, in.Name, in.Now)
	return err
}

func (s *Store) GetTenant(ctx context.Context, id string) (domain.Tenant, bool, error) {
	return scanTenant(s.DB.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id=$1`, id))
}

func (s *Store) TenantByInstance(ctx context.Context, instance string) (domain.Tenant, bool, error) {
	return scanTenant(s.DB.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE whatsapp_instance=$1`, instance))
}

func (s *Store) TenantByInbox(ctx context.Context, accountID, inboxID int64) (domain.Tenant, bool, error) {
	return scanTenant(s.DB.QueryRow(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE helpdesk_account_id=$1 AND helpdesk_inbox_id=$2
	`, accountID, inboxID))
}

// BindInstance checks ownership inside the transaction and relies on the unique
// index to settle two racing binds.
func (s *Store) BindInstance(ctx context.Context, in store.InstanceBinding) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var owner string
	err = tx.QueryRow(ctx, `SELECT id FROM tenants WHERE whatsapp_instance=$1`, in.Instance).Scan(&owner)
	switch {
	case err == nil && owner != in.TenantID:
		return domain.ErrConflict
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return err
	}

	ct, err := tx.Exec(ctx, `
		UPDATE tenants SET whatsapp_instance=$2, updated_at=$3 WHERE id=$1
	`, in.TenantID, in.Instance, in.Now)
	if err != nil {
		return mapUnique(err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return mapUnique(tx.Commit(ctx))
}

func (s *Store) BindHelpdesk(ctx context.Context, in store.HelpdeskBindingUpdate) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var owner string
	err = tx.QueryRow(ctx, `
		SELECT id FROM tenants WHERE helpdesk_account_id=$1 AND helpdesk_inbox_id=$2
	`, in.AccountID, in.InboxID).Scan(&owner)
	switch {
	case err == nil && owner != in.TenantID:
		return domain.ErrConflict
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return err
	}

	ct, err := tx.Exec(ctx, `
		UPDATE tenants
		SET helpdesk_account_id=$2, helpdesk_inbox_id=$3, helpdesk_api_token=$4, updated_at=$5
		WHERE id=$1
	`, in.TenantID, in.AccountID, in.InboxID, nullIfEmpty(in.Token), in.Now)
	if err != nil {
		return mapUnique(err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return mapUnique(tx.Commit(ctx))
}

func (s *Store) DeactivateTenant(ctx context.Context, id string, now time.Time) (bool, error) {
	ct, err := s.DB.Exec(ctx, `UPDATE tenants SET active=FALSE, updated_at=$2 WHERE id=$1`, id, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) UpsertConversationPhone(ctx context.Context, in store.ConversationPhone) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO conversation_map (helpdesk_account_id, helpdesk_conversation_id, phone_digits, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$4)
		ON CONFLICT (helpdesk_account_id, helpdesk_conversation_id)
		DO UPDATE SET phone_digits=EXCLUDED.phone_digits, updated_at=EXCLUDED.updated_at
	`, in.AccountID, in.ConversationID, in.Phone, in.Now)
	return err
}

func (s *Store) ConversationPhone(ctx context.Context, accountID, conversationID int64) (string, bool, error) {
	var phone string
	err := s.DB.QueryRow(ctx, `
		SELECT phone_digits FROM conversation_map WHERE helpdesk_account_id=$1 AND helpdesk_conversation_id=$2
	`, accountID, conversationID).Scan(&phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return phone, true, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.Ping(ctx) }

func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrConflict
	}
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
