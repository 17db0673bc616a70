package users

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgErrUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, password_hash, status) values($1,$2,$3,$4)`,
		u.ID, u.Email, u.PasswordHash, u.Status,
	)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return ErrAlreadyExists
	}
	return err
}

func (s *PGStore) Find(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, password_hash, status, created_at, updated_at from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, password_hash, status, created_at, updated_at from users where email=$1`, email)
	return scanUser(row)
}

func (s *PGStore) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `select 1 from users where id=$1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PGStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *PGStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set status=$2, updated_at=now() where id=$1`, id, status)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
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
