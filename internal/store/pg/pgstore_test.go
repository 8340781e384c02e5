package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"turn.careers/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestRefreshTokenCreateAndFind(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := &store.RefreshTokenRecord{
		ID: "rt-1", SubjectID: "user-1", Role: "user", TokenHash: "hash",
		ChainID: "chain-1", IssuedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	mock.ExpectExec("insert into auth_refresh_tokens").
		WithArgs(rec.ID, rec.SubjectID, rec.Role, rec.TokenHash, rec.ChainID, rec.IssuedAt, rec.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.RefreshTokens().Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rows := sqlmock.NewRows([]string{"id", "subject_id", "role", "token_hash", "chain_id", "issued_at", "expires_at", "used_at"}).
		AddRow(rec.ID, rec.SubjectID, rec.Role, rec.TokenHash, rec.ChainID, rec.IssuedAt, rec.ExpiresAt, nil)
	mock.ExpectQuery("select id, subject_id, role, token_hash, chain_id, issued_at, expires_at, used_at.*from auth_refresh_tokens").
		WithArgs("rt-1").WillReturnRows(rows)

	found, err := s.RefreshTokens().Find(ctx, "rt-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if found.ChainID != "chain-1" || found.UsedAt != nil {
		t.Errorf("found = %+v", found)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshTokenFindNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("select id, subject_id, role, token_hash, chain_id").
		WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if _, err := s.RefreshTokens().Find(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Find = %v, want ErrNotFound", err)
	}
}

func TestMarkUsedDistinguishesConflict(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Lost check-and-set against an existing row reports a conflict.
	mock.ExpectExec("update auth_refresh_tokens set used_at").
		WithArgs("rt-1", now).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("rt-1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	if err := s.RefreshTokens().MarkUsed(ctx, "rt-1", now); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("MarkUsed existing = %v, want ErrConflict", err)
	}

	// A vanished row is not found.
	mock.ExpectExec("update auth_refresh_tokens set used_at").
		WithArgs("rt-2", now).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("rt-2").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	if err := s.RefreshTokens().MarkUsed(ctx, "rt-2", now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("MarkUsed missing = %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDenyListAddAndContains(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	until := time.Now().UTC().Add(time.Hour)

	mock.ExpectExec("insert into auth_denied_tokens").
		WithArgs("jti-1", until).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.DenyList().Add(ctx, "jti-1", until); err != nil {
		t.Fatalf("Add: %v", err)
	}

	mock.ExpectQuery("select exists").
		WithArgs("jti-1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	denied, err := s.DenyList().Contains(ctx, "jti-1")
	if err != nil || !denied {
		t.Fatalf("Contains = (%v, %v), want (true, nil)", denied, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCodeConsumeConflict(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("update auth_one_time_codes set consumed").
		WithArgs("user@example.com", "login").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("user@example.com", "login").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	if err := s.Codes().Consume(ctx, "user@example.com", "login"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("Consume = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCodeBumpAttempts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("update auth_one_time_codes set attempts").
		WithArgs("user@example.com", "login").
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(2))

	attempts, err := s.Codes().BumpAttempts(context.Background(), "user@example.com", "login")
	if err != nil {
		t.Fatalf("BumpAttempts: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestVerificationPutReplacesOutstanding(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	rec := &store.VerificationRecord{
		TokenHash: "h1", SubjectID: "user-1", Purpose: "password_reset",
		CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	mock.ExpectBegin()
	mock.ExpectExec("delete from auth_verification_tokens").
		WithArgs(rec.SubjectID, rec.Purpose).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into auth_verification_tokens").
		WithArgs(rec.TokenHash, rec.SubjectID, rec.Purpose, rec.CreatedAt, rec.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.Verifications().Put(context.Background(), rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestVerificationConsume(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"token_hash", "subject_id", "purpose", "created_at", "expires_at"}).
		AddRow("h1", "user-1", "password_reset", now.Add(-time.Minute), now.Add(time.Hour))
	mock.ExpectQuery("update auth_verification_tokens set consumed_at").
		WithArgs("h1", now).WillReturnRows(rows)

	rec, err := s.Verifications().Consume(ctx, "h1", now)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if rec.SubjectID != "user-1" || rec.ConsumedAt == nil {
		t.Errorf("rec = %+v", rec)
	}

	// Already consumed: the conditional update matches nothing but the row
	// still exists.
	mock.ExpectQuery("update auth_verification_tokens set consumed_at").
		WithArgs("h1", now).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select exists").
		WithArgs("h1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	if _, err := s.Verifications().Consume(ctx, "h1", now); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second Consume = %v, want ErrConflict", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClassifyTransientFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("delete from auth_refresh_tokens where chain_id").
		WithArgs("chain-1").WillReturnError(errors.New("connection refused"))

	err := s.RefreshTokens().DeleteChain(context.Background(), "chain-1")
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("DeleteChain = %v, want ErrUnavailable", err)
	}
}
