package items

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgErrForeignKeyViolation = "23503"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, item *Item) error {
	_, err := s.db.ExecContext(ctx,
		`insert into items(id, owner_id, parent_id, name, kind, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		item.ID, item.OwnerID, item.ParentID, item.Name, string(item.Kind), item.CreatedAt, item.UpdatedAt,
	)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return ErrNotFound
	}
	return err
}

func (s *PGStore) Find(ctx context.Context, id uuid.UUID) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, owner_id, parent_id, name, kind, created_at, updated_at from items where id=$1`, id)
	return scanItem(row)
}

func (s *PGStore) Children(ctx context.Context, parentID uuid.UUID) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, owner_id, parent_id, name, kind, created_at, updated_at
		 from items where parent_id=$1 order by name`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

func (s *PGStore) SetParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`update items set parent_id=$2, updated_at=now() where id=$1`, id, parentID)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item Item
		raw  string
	)
	if err := row.Scan(&item.ID, &item.OwnerID, &item.ParentID, &item.Name, &raw, &item.CreatedAt, &item.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	kind, err := ParseKind(raw)
	if err != nil {
		return nil, err
	}
	item.Kind = kind
	return &item, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	if err == nil {
		return nil, false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
