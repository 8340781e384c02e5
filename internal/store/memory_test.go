package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRefreshTokenMarkUsedOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	rec := &RefreshTokenRecord{
		ID:        "rt-1",
		SubjectID: "user-1",
		Role:      "user",
		TokenHash: "hash",
		ChainID:   "chain-1",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := m.RefreshTokens().Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := m.RefreshTokens().MarkUsed(ctx, "rt-1", now); err != nil {
		t.Fatalf("first MarkUsed: %v", err)
	}
	if err := m.RefreshTokens().MarkUsed(ctx, "rt-1", now); !errors.Is(err, ErrConflict) {
		t.Fatalf("second MarkUsed = %v, want ErrConflict", err)
	}
	if err := m.RefreshTokens().MarkUsed(ctx, "rt-missing", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing MarkUsed = %v, want ErrNotFound", err)
	}

	found, err := m.RefreshTokens().Find(ctx, "rt-1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if found.UsedAt == nil {
		t.Fatal("UsedAt not recorded")
	}
}

func TestRefreshTokenMarkUsedConcurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := m.RefreshTokens().Create(ctx, &RefreshTokenRecord{
		ID: "rt-1", ChainID: "c", ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.RefreshTokens().MarkUsed(ctx, "rt-1", now); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("MarkUsed succeeded %d times, want exactly once", successes)
	}
}

func TestDeleteChain(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"rt-1", "rt-2"} {
		if err := m.RefreshTokens().Create(ctx, &RefreshTokenRecord{
			ID: id, ChainID: "chain-a", ExpiresAt: now.Add(time.Hour),
		}); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	if err := m.RefreshTokens().Create(ctx, &RefreshTokenRecord{
		ID: "rt-3", ChainID: "chain-b", ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("Create rt-3: %v", err)
	}

	if err := m.RefreshTokens().DeleteChain(ctx, "chain-a"); err != nil {
		t.Fatalf("DeleteChain: %v", err)
	}
	if _, err := m.RefreshTokens().Find(ctx, "rt-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("rt-1 survived chain delete: %v", err)
	}
	if _, err := m.RefreshTokens().Find(ctx, "rt-3"); err != nil {
		t.Errorf("rt-3 caught in wrong chain delete: %v", err)
	}
}

func TestDenyList(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := m.DenyList().Add(ctx, "jti-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	denied, err := m.DenyList().Contains(ctx, "jti-1")
	if err != nil || !denied {
		t.Fatalf("Contains = (%v, %v), want (true, nil)", denied, err)
	}
	denied, err = m.DenyList().Contains(ctx, "jti-2")
	if err != nil || denied {
		t.Fatalf("unknown id Contains = (%v, %v), want (false, nil)", denied, err)
	}

	// A shorter re-add never shrinks the deny window.
	if err := m.DenyList().Add(ctx, "jti-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("re-Add: %v", err)
	}
	n, err := m.DenyList().Prune(ctx, now.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 0 {
		t.Errorf("Prune removed %d entries before expiry", n)
	}
	n, err = m.DenyList().Prune(ctx, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("Prune after expiry removed %d, want 1", n)
	}
}

func TestCodeConsumeOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	rec := &CodeRecord{
		Destination: "user@example.com",
		Purpose:     "login",
		CodeHash:    "hash",
		CreatedAt:   now,
		ExpiresAt:   now.Add(5 * time.Minute),
	}
	if err := m.Codes().Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := m.Codes().Consume(ctx, "user@example.com", "login"); err != nil {
		t.Fatalf("first Consume: %v", err)
	}
	if err := m.Codes().Consume(ctx, "user@example.com", "login"); !errors.Is(err, ErrConflict) {
		t.Fatalf("second Consume = %v, want ErrConflict", err)
	}
	if err := m.Codes().Consume(ctx, "other@example.com", "login"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown Consume = %v, want ErrNotFound", err)
	}
}

func TestCodeBumpAttempts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := m.Codes().Put(ctx, &CodeRecord{
		Destination: "user@example.com", Purpose: "login",
		CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute),
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := m.Codes().BumpAttempts(ctx, "user@example.com", "login")
		if err != nil {
			t.Fatalf("BumpAttempts: %v", err)
		}
		if got != want {
			t.Fatalf("attempts = %d, want %d", got, want)
		}
	}
}

func TestVerificationPutSupersedes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	put := func(hash, subject, purpose string) {
		t.Helper()
		err := m.Verifications().Put(ctx, &VerificationRecord{
			TokenHash: hash, SubjectID: subject, Purpose: purpose,
			CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("Put %s: %v", hash, err)
		}
	}

	put("h1", "user-1", "password_reset")
	put("h2", "user-2", "password_reset")
	put("h3", "user-1", "password_reset") // supersedes h1

	if _, err := m.Verifications().Consume(ctx, "h1", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("superseded token = %v, want ErrNotFound", err)
	}
	if _, err := m.Verifications().Consume(ctx, "h2", now); err != nil {
		t.Errorf("other subject's token: %v", err)
	}
	rec, err := m.Verifications().Consume(ctx, "h3", now)
	if err != nil {
		t.Fatalf("fresh token: %v", err)
	}
	if rec.ConsumedAt == nil || !rec.ConsumedAt.Equal(now) {
		t.Errorf("ConsumedAt = %v, want %v", rec.ConsumedAt, now)
	}
	if _, err := m.Verifications().Consume(ctx, "h3", now); !errors.Is(err, ErrConflict) {
		t.Errorf("double consume = %v, want ErrConflict", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := m.RefreshTokens().Create(ctx, &RefreshTokenRecord{
		ID: "rt-old", ChainID: "c", ExpiresAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.RefreshTokens().Create(ctx, &RefreshTokenRecord{
		ID: "rt-new", ChainID: "c", ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Codes().Put(ctx, &CodeRecord{
		Destination: "a@example.com", Purpose: "login", ExpiresAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("Put code: %v", err)
	}
	if err := m.Verifications().Put(ctx, &VerificationRecord{
		TokenHash: "h", SubjectID: "s", Purpose: "password_reset", ExpiresAt: now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("Put verification: %v", err)
	}

	if n, err := m.RefreshTokens().PurgeExpired(ctx, now); err != nil || n != 1 {
		t.Errorf("refresh purge = (%d, %v), want (1, nil)", n, err)
	}
	if n, err := m.Codes().PurgeExpired(ctx, now); err != nil || n != 1 {
		t.Errorf("code purge = (%d, %v), want (1, nil)", n, err)
	}
	if n, err := m.Verifications().PurgeExpired(ctx, now); err != nil || n != 1 {
		t.Errorf("verification purge = (%d, %v), want (1, nil)", n, err)
	}
	if _, err := m.RefreshTokens().Find(ctx, "rt-new"); err != nil {
		t.Errorf("live token purged: %v", err)
	}
}
