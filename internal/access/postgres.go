package access

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"skyvault.org/internal/ids"
)

var _ GrantStore = (*PGStore)(nil)

// PGStore implements GrantStore using PostgreSQL. Both upserts lean on
// the unique indexes backing the one-active-grant invariants.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) UpsertPrivateGrant(ctx context.Context, grant *PrivateGrant) error {
	if grant.ID == "" {
		grant.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx,
		`insert into private_grants(id, item_id, granted_by, shared_with, permission, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7)
		 on conflict (item_id, shared_with) do update
		 set permission = excluded.permission, granted_by = excluded.granted_by, updated_at = now()
		 returning id, created_at, updated_at`,
		grant.ID, grant.ItemID, grant.GrantedBy, grant.SharedWith, grant.Permission.String(), grant.CreatedAt, grant.UpdatedAt,
	)
	return row.Scan(&grant.ID, &grant.CreatedAt, &grant.UpdatedAt)
}

func (s *PGStore) FindPrivateGrant(ctx context.Context, itemID, sharedWith uuid.UUID) (*PrivateGrant, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, item_id, granted_by, shared_with, permission, created_at, updated_at
		 from private_grants where item_id=$1 and shared_with=$2`,
		itemID, sharedWith,
	)
	var (
		grant PrivateGrant
		raw   string
	)
	if err := row.Scan(&grant.ID, &grant.ItemID, &grant.GrantedBy, &grant.SharedWith, &raw, &grant.CreatedAt, &grant.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	perm, err := ParsePermission(raw)
	if err != nil {
		return nil, err
	}
	grant.Permission = perm
	return &grant, nil
}

func (s *PGStore) DeletePrivateGrant(ctx context.Context, itemID, sharedWith uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`delete from private_grants where item_id=$1 and shared_with=$2`, itemID, sharedWith)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) UpsertPublicLink(ctx context.Context, link *PublicLink) error {
	if link.ID == "" {
		link.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx,
		`insert into public_links(id, item_id, shared_by, permission, password_hash, expires_at, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)
		 on conflict (item_id) do update
		 set permission = excluded.permission, shared_by = excluded.shared_by,
		     password_hash = excluded.password_hash, expires_at = excluded.expires_at, updated_at = now()
		 returning id, created_at, updated_at`,
		link.ID, link.ItemID, link.SharedBy, link.Permission.String(), link.PasswordHash, link.ExpiresAt, link.CreatedAt, link.UpdatedAt,
	)
	return row.Scan(&link.ID, &link.CreatedAt, &link.UpdatedAt)
}

func (s *PGStore) FindPublicLinkByItem(ctx context.Context, itemID uuid.UUID) (*PublicLink, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, item_id, shared_by, permission, password_hash, expires_at, created_at, updated_at
		 from public_links where item_id=$1`, itemID)
	return scanPublicLink(row)
}

func (s *PGStore) FindPublicLink(ctx context.Context, linkID string) (*PublicLink, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, item_id, shared_by, permission, password_hash, expires_at, created_at, updated_at
		 from public_links where id=$1`, linkID)
	return scanPublicLink(row)
}

func (s *PGStore) DeletePublicLink(ctx context.Context, itemID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`delete from public_links where item_id=$1`, itemID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPublicLink(row *sql.Row) (*PublicLink, error) {
	var (
		link PublicLink
		raw  string
	)
	if err := row.Scan(&link.ID, &link.ItemID, &link.SharedBy, &raw, &link.PasswordHash, &link.ExpiresAt, &link.CreatedAt, &link.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	perm, err := ParsePermission(raw)
	if err != nil {
		return nil, err
	}
	link.Permission = perm
	return &link, nil
}
