package session

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"skyvault.org/internal/ids"
)

const pgErrUniqueViolation = "23505"

var _ TokenStore = (*PGStore)(nil)

// PGStore implements TokenStore using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, rec *TokenRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into session_tokens(id, user_id, kind, token_hash, used, created_at, expires_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.UserID, string(rec.Kind), rec.TokenHash, rec.Used, rec.CreatedAt, rec.ExpiresAt,
	)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return errors.New("session: duplicate token record")
	}
	return err
}

func (s *PGStore) FindByHash(ctx context.Context, kind Kind, tokenHash string) (*TokenRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, kind, token_hash, used, created_at, expires_at
		 from session_tokens where kind=$1 and token_hash=$2`,
		string(kind), tokenHash,
	)
	var (
		rec TokenRecord
		raw string
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &raw, &rec.TokenHash, &rec.Used, &rec.CreatedAt, &rec.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveToken
		}
		return nil, err
	}
	kindParsed, err := ParseKind(raw)
	if err != nil {
		return nil, err
	}
	rec.Kind = kindParsed
	return &rec, nil
}

// Rotate runs the retire-and-replace as one transaction. The UPDATE is
// the compare-and-swap: a concurrent rotation that finds zero rows to
// retire loses the race and must not insert a replacement.
func (s *PGStore) Rotate(ctx context.Context, userID uuid.UUID, kind Kind, oldHash string, next *TokenRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`update session_tokens set used = true
		 where user_id=$1 and kind=$2 and token_hash=$3 and used = false and expires_at > now()`,
		userID, string(kind), oldHash,
	)
	if err != nil {
		return err
	}
	retired, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if retired == 0 {
		return ErrNoActiveToken
	}

	if next.ID == "" {
		next.ID = ids.New()
	}
	if _, err := tx.ExecContext(ctx,
		`insert into session_tokens(id, user_id, kind, token_hash, used, created_at, expires_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		next.ID, next.UserID, string(next.Kind), next.TokenHash, next.Used, next.CreatedAt, next.ExpiresAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) MarkUsed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update session_tokens set used = true where id=$1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoActiveToken
	}
	return nil
}

func (s *PGStore) MarkUsedByUser(ctx context.Context, userID uuid.UUID, kind Kind) error {
	_, err := s.db.ExecContext(ctx,
		`update session_tokens set used = true where user_id=$1 and kind=$2`,
		userID, string(kind),
	)
	return err
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
