package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return ErrUnavailable
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do = %v, want nil", err)
	}
	if calls != 3 {
		t.Fatalf("fn called %d times, want 3", calls)
	}
}

func TestDoDoesNotRetryDomainErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return ErrConflict
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Do = %v, want ErrConflict", err)
	}
	if calls != 1 {
		t.Fatalf("fn called %d times, want 1", calls)
	}
}

func TestDoExhaustionReportsUnavailable(t *testing.T) {
	wrapped := errors.New("connection refused")
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.Join(ErrUnavailable, wrapped)
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Do = %v, want ErrUnavailable", err)
	}
	if calls != retryAttempts {
		t.Fatalf("fn called %d times, want %d", calls, retryAttempts)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return ErrUnavailable
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Do = %v, want ErrUnavailable", err)
	}
	if calls != 1 {
		t.Fatalf("fn called %d times after cancel, want 1", calls)
	}
}

func TestSweeperRemovesExpired(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)

	if err := m.RefreshTokens().Create(ctx, &RefreshTokenRecord{
		ID: "rt-old", ChainID: "c", ExpiresAt: past,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Codes().Put(ctx, &CodeRecord{
		Destination: "a@example.com", Purpose: "login", ExpiresAt: past,
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := m.DenyList().Add(ctx, "jti-old", past); err != nil {
		t.Fatalf("Add: %v", err)
	}

	sw := NewSweeper(m, time.Minute)
	if removed := sw.Sweep(ctx); removed != 3 {
		t.Fatalf("Sweep removed %d, want 3", removed)
	}
	if removed := sw.Sweep(ctx); removed != 0 {
		t.Fatalf("second Sweep removed %d, want 0", removed)
	}
}
