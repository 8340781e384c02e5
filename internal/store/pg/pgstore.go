package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"turn.careers/internal/store"
)

// Store implements store.Store on PostgreSQL. Check-and-set operations are
// conditional UPDATEs, so the exactly-once consumption guarantees hold across
// multiple service instances sharing one database.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to PostgreSQL with pool defaults tuned for short auth
// queries.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) RefreshTokens() store.RefreshTokenStore { return &refreshStore{db: s.db} }
func (s *Store) DenyList() store.DenyList               { return &denyStore{db: s.db} }
func (s *Store) Codes() store.CodeStore                 { return &codeStore{db: s.db} }
func (s *Store) Verifications() store.VerificationStore { return &verificationStore{db: s.db} }

// classify folds driver and transport failures into the transient sentinel so
// callers retry them instead of treating them as denials.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	default:
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
}

// Refresh tokens ------------------------------------------------------------

type refreshStore struct{ db *sql.DB }

func (s *refreshStore) Create(ctx context.Context, rec *store.RefreshTokenRecord) error {
	_, err := s.db.ExecContext(ctx, `
		insert into auth_refresh_tokens(id, subject_id, role, token_hash, chain_id, issued_at, expires_at)
		values ($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.SubjectID, rec.Role, rec.TokenHash, rec.ChainID, rec.IssuedAt, rec.ExpiresAt,
	)
	return classify(err)
}

func (s *refreshStore) Find(ctx context.Context, id string) (*store.RefreshTokenRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, subject_id, role, token_hash, chain_id, issued_at, expires_at, used_at
		from auth_refresh_tokens where id = $1`, id)
	var (
		rec    store.RefreshTokenRecord
		usedAt sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.SubjectID, &rec.Role, &rec.TokenHash, &rec.ChainID,
		&rec.IssuedAt, &rec.ExpiresAt, &usedAt)
	if err != nil {
		return nil, classify(err)
	}
	if usedAt.Valid {
		t := usedAt.Time
		rec.UsedAt = &t
	}
	return &rec, nil
}

func (s *refreshStore) MarkUsed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update auth_refresh_tokens set used_at = $2
		where id = $1 and used_at is null`, id, at)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if affected == 1 {
		return nil
	}
	var exists bool
	err = s.db.QueryRowContext(ctx,
		`select exists(select 1 from auth_refresh_tokens where id = $1)`, id).Scan(&exists)
	if err != nil {
		return classify(err)
	}
	if exists {
		return store.ErrConflict
	}
	return store.ErrNotFound
}

func (s *refreshStore) DeleteChain(ctx context.Context, chainID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from auth_refresh_tokens where chain_id = $1`, chainID)
	return classify(err)
}

func (s *refreshStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from auth_refresh_tokens where expires_at <= $1`, now)
	if err != nil {
		return 0, classify(err)
	}
	n, err := res.RowsAffected()
	return int(n), classify(err)
}

// Deny-list -----------------------------------------------------------------

type denyStore struct{ db *sql.DB }

func (s *denyStore) Add(ctx context.Context, id string, until time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		insert into auth_denied_tokens(id, denied_until) values ($1,$2)
		on conflict (id) do update set denied_until = greatest(auth_denied_tokens.denied_until, excluded.denied_until)`,
		id, until)
	return classify(err)
}

func (s *denyStore) Contains(ctx context.Context, id string) (bool, error) {
	var denied bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from auth_denied_tokens where id = $1 and denied_until > now())`, id).Scan(&denied)
	if err != nil {
		return false, classify(err)
	}
	return denied, nil
}

func (s *denyStore) Prune(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from auth_denied_tokens where denied_until <= $1`, now)
	if err != nil {
		return 0, classify(err)
	}
	n, err := res.RowsAffected()
	return int(n), classify(err)
}

// One-time codes ------------------------------------------------------------

type codeStore struct{ db *sql.DB }

func (s *codeStore) Put(ctx context.Context, rec *store.CodeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		insert into auth_one_time_codes(destination, purpose, code_hash, attempts, consumed, created_at, expires_at)
		values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (destination, purpose) do update set
			code_hash = excluded.code_hash,
			attempts = excluded.attempts,
			consumed = excluded.consumed,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		rec.Destination, rec.Purpose, rec.CodeHash, rec.Attempts, rec.Consumed, rec.CreatedAt, rec.ExpiresAt,
	)
	return classify(err)
}

func (s *codeStore) Find(ctx context.Context, destination, purpose string) (*store.CodeRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		select destination, purpose, code_hash, attempts, consumed, created_at, expires_at
		from auth_one_time_codes where destination = $1 and purpose = $2`, destination, purpose)
	var rec store.CodeRecord
	err := row.Scan(&rec.Destination, &rec.Purpose, &rec.CodeHash, &rec.Attempts,
		&rec.Consumed, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		return nil, classify(err)
	}
	return &rec, nil
}

func (s *codeStore) Consume(ctx context.Context, destination, purpose string) error {
	res, err := s.db.ExecContext(ctx, `
		update auth_one_time_codes set consumed = true
		where destination = $1 and purpose = $2 and consumed = false`, destination, purpose)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if affected == 1 {
		return nil
	}
	var exists bool
	err = s.db.QueryRowContext(ctx,
		`select exists(select 1 from auth_one_time_codes where destination = $1 and purpose = $2)`,
		destination, purpose).Scan(&exists)
	if err != nil {
		return classify(err)
	}
	if exists {
		return store.ErrConflict
	}
	return store.ErrNotFound
}

func (s *codeStore) BumpAttempts(ctx context.Context, destination, purpose string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `
		update auth_one_time_codes set attempts = attempts + 1
		where destination = $1 and purpose = $2
		returning attempts`, destination, purpose).Scan(&attempts)
	if err != nil {
		return 0, classify(err)
	}
	return attempts, nil
}

func (s *codeStore) Delete(ctx context.Context, destination, purpose string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from auth_one_time_codes where destination = $1 and purpose = $2`, destination, purpose)
	return classify(err)
}

func (s *codeStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from auth_one_time_codes where consumed or expires_at <= $1`, now)
	if err != nil {
		return 0, classify(err)
	}
	n, err := res.RowsAffected()
	return int(n), classify(err)
}

// Verification tokens -------------------------------------------------------

type verificationStore struct{ db *sql.DB }

func (s *verificationStore) Put(ctx context.Context, rec *store.VerificationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		delete from auth_verification_tokens
		where subject_id = $1 and purpose = $2 and consumed_at is null`,
		rec.SubjectID, rec.Purpose); err != nil {
		return classify(err)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into auth_verification_tokens(token_hash, subject_id, purpose, created_at, expires_at)
		values ($1,$2,$3,$4,$5)`,
		rec.TokenHash, rec.SubjectID, rec.Purpose, rec.CreatedAt, rec.ExpiresAt); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

func (s *verificationStore) Consume(ctx context.Context, tokenHash string, at time.Time) (*store.VerificationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		update auth_verification_tokens set consumed_at = $2
		where token_hash = $1 and consumed_at is null
		returning token_hash, subject_id, purpose, created_at, expires_at`, tokenHash, at)
	var rec store.VerificationRecord
	err := row.Scan(&rec.TokenHash, &rec.SubjectID, &rec.Purpose, &rec.CreatedAt, &rec.ExpiresAt)
	if err == nil {
		consumed := at
		rec.ConsumedAt = &consumed
		return &rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, classify(err)
	}
	var exists bool
	err = s.db.QueryRowContext(ctx,
		`select exists(select 1 from auth_verification_tokens where token_hash = $1)`, tokenHash).Scan(&exists)
	if err != nil {
		return nil, classify(err)
	}
	if exists {
		return nil, store.ErrConflict
	}
	return nil, store.ErrNotFound
}

func (s *verificationStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from auth_verification_tokens where consumed_at is not null or expires_at <= $1`, now)
	if err != nil {
		return 0, classify(err)
	}
	n, err := res.RowsAffected()
	return int(n), classify(err)
}
