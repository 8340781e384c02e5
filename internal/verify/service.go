package verify

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"turn.careers/internal/store"
)

// Purpose classifies what consuming the token proves.
type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

const (
	emailVerificationTTL = 24 * time.Hour
	passwordResetTTL     = time.Hour
)

var (
	// ErrExpired indicates the token is past its TTL (inclusive boundary).
	ErrExpired = errors.New("verify: expired")
	// ErrAlreadyUsed indicates the token was consumed before.
	ErrAlreadyUsed = errors.New("verify: already used")
	// ErrNotFound indicates an unknown or superseded token.
	ErrNotFound = errors.New("verify: not found")
	// ErrPurposeMismatch indicates the token exists but was issued for a
	// different purpose.
	ErrPurposeMismatch = errors.New("verify: purpose mismatch")
)

// Service issues and consumes single-use opaque tokens for email
// verification and password-reset links. Only the token hash is stored.
type Service struct {
	store store.Store
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service bound to the shared store.
func NewService(st store.Store, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("verify: store is required")
	}
	svc := &Service{store: st, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// TTLFor returns the purpose-specific lifetime: long for email verification,
// short for password reset.
func TTLFor(purpose Purpose) time.Duration {
	if purpose == PurposePasswordReset {
		return passwordResetTTL
	}
	return emailVerificationTTL
}

// Issue creates a fresh opaque token for subject+purpose. Any prior
// outstanding token for the same pair is invalidated.
func (s *Service) Issue(ctx context.Context, subjectID string, purpose Purpose) (string, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" || purpose == "" {
		return "", errors.New("verify: subject and purpose are required")
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	opaque := base64.RawURLEncoding.EncodeToString(raw)

	now := s.now().UTC()
	rec := &store.VerificationRecord{
		TokenHash: hashToken(opaque),
		SubjectID: subjectID,
		Purpose:   string(purpose),
		CreatedAt: now,
		ExpiresAt: now.Add(TTLFor(purpose)),
	}
	err := store.Do(ctx, func(ctx context.Context) error {
		return s.store.Verifications().Put(ctx, rec)
	})
	if err != nil {
		return "", err
	}
	return opaque, nil
}

// Consume atomically checks and invalidates the token, returning the subject
// it was issued for. Exactly one of two concurrent consumers succeeds.
func (s *Service) Consume(ctx context.Context, opaque string, purpose Purpose) (string, error) {
	opaque = strings.TrimSpace(opaque)
	if opaque == "" {
		return "", ErrNotFound
	}

	now := s.now().UTC()
	var rec *store.VerificationRecord
	err := store.Do(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.store.Verifications().Consume(ctx, hashToken(opaque), now)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotFound
	}
	if errors.Is(err, store.ErrConflict) {
		return "", ErrAlreadyUsed
	}
	if err != nil {
		return "", err
	}

	if rec.Purpose != string(purpose) {
		return "", ErrPurposeMismatch
	}
	if !now.Before(rec.ExpiresAt) {
		return "", ErrExpired
	}
	return rec.SubjectID, nil
}

func hashToken(opaque string) string {
	sum := sha256.Sum256([]byte(opaque))
	return hex.EncodeToString(sum[:])
}
