package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/time/rate"

	"turn.careers/internal/obs"
	"turn.careers/internal/store"
)

// Purpose classifies what a one-time code proves.
type Purpose string

const (
	PurposeLogin        Purpose = "login"
	PurposeVerification Purpose = "verification"
	PurposeReset        Purpose = "reset"
)

const (
	defaultTTL         = 5 * time.Minute
	defaultMaxAttempts = 3
	defaultCodeLength  = 6

	// Rate limit: at most defaultBurst requests per destination+purpose
	// inside a rolling defaultWindow.
	defaultWindow = 10 * time.Minute
	defaultBurst  = 3

	limiterIdleTTL = 30 * time.Minute
)

var (
	// ErrCodeInvalid indicates the candidate did not match the outstanding
	// code. The attempt counter has been advanced.
	ErrCodeInvalid = errors.New("otp: code invalid")
	// ErrLockedOut indicates the attempt budget is exhausted; the code has
	// been invalidated and a fresh one must be requested.
	ErrLockedOut = errors.New("otp: locked out")
	// ErrExpired indicates the code is past its TTL (inclusive boundary).
	ErrExpired = errors.New("otp: expired")
	// ErrNotFound indicates no outstanding code for destination+purpose.
	ErrNotFound = errors.New("otp: not found")
)

// RateLimitError reports a throttled request together with the cooldown the
// caller must communicate (Retry-After).
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("otp: rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

// Service issues and verifies short-lived single-use codes. Only a salted
// argon2id hash of the code is ever stored; the plaintext goes back to the
// caller for delivery by the messaging collaborator.
type Service struct {
	store       store.Store
	now         func() time.Time
	ttl         time.Duration
	maxAttempts int
	codeLength  int

	limitWindow time.Duration
	limitBurst  int

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithTTL overrides the code lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxAttempts overrides the wrong-guess budget.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRateLimit overrides the request budget per destination+purpose.
func WithRateLimit(window time.Duration, burst int) Option {
	return func(s *Service) {
		if window > 0 && burst > 0 {
			s.limitWindow = window
			s.limitBurst = burst
		}
	}
}

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
		return nil, errors.New("otp: store is required")
	}
	svc := &Service{
		store:       st,
		now:         time.Now,
		ttl:         defaultTTL,
		maxAttempts: defaultMaxAttempts,
		codeLength:  defaultCodeLength,
		limitWindow: defaultWindow,
		limitBurst:  defaultBurst,
		limiters:    make(map[string]*limiterEntry),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// RequestCode generates a fresh code for destination+purpose, superseding any
// outstanding one, and returns the plaintext for delivery. A throttled
// request fails with *RateLimitError and leaves the outstanding code and its
// cooldown untouched.
func (s *Service) RequestCode(ctx context.Context, destination string, purpose Purpose) (string, error) {
	destination = normalizeDestination(destination)
	if destination == "" || purpose == "" {
		return "", fmt.Errorf("otp: destination and purpose are required")
	}

	if retryAfter, ok := s.allow(destination, purpose); !ok {
		obs.OTPThrottled()
		return "", &RateLimitError{RetryAfter: retryAfter}
	}

	code, err := generateCode(s.codeLength)
	if err != nil {
		return "", err
	}
	hash, err := hashCode(code)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	rec := &store.CodeRecord{
		Destination: destination,
		Purpose:     string(purpose),
		CodeHash:    hash,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	err = store.Do(ctx, func(ctx context.Context) error {
		return s.store.Codes().Put(ctx, rec)
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// VerifyCode checks the candidate against the outstanding code. A match
// consumes the code atomically and succeeds exactly once. The comparison is
// constant-time, so match, mismatch and exhausted attempts are
// timing-indistinguishable.
func (s *Service) VerifyCode(ctx context.Context, destination string, purpose Purpose, candidate string) error {
	err := s.verifyCode(ctx, destination, purpose, candidate)
	switch {
	case err == nil:
		obs.OTPVerified("ok")
	case errors.Is(err, ErrCodeInvalid):
		obs.OTPVerified("invalid")
	case errors.Is(err, ErrLockedOut):
		obs.OTPVerified("locked_out")
	case errors.Is(err, ErrExpired):
		obs.OTPVerified("expired")
	case errors.Is(err, ErrNotFound):
		obs.OTPVerified("not_found")
	default:
		obs.OTPVerified("store_unavailable")
	}
	return err
}

func (s *Service) verifyCode(ctx context.Context, destination string, purpose Purpose, candidate string) error {
	destination = normalizeDestination(destination)
	candidate = strings.TrimSpace(candidate)
	if destination == "" || purpose == "" || candidate == "" {
		return ErrNotFound
	}

	codes := s.store.Codes()
	var rec *store.CodeRecord
	err := store.Do(ctx, func(ctx context.Context) error {
		var err error
		rec, err = codes.Find(ctx, destination, string(purpose))
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if rec.Consumed {
		return ErrNotFound
	}

	now := s.now().UTC()
	if !now.Before(rec.ExpiresAt) {
		_ = store.Do(ctx, func(ctx context.Context) error {
			return codes.Delete(ctx, destination, string(purpose))
		})
		return ErrExpired
	}

	// The hash comparison always runs, even with the attempt budget already
	// spent, so exhausted and mismatch take the same time as a match.
	matched := matchCode(rec.CodeHash, candidate)

	if rec.Attempts >= s.maxAttempts {
		return s.lockOut(ctx, destination, purpose)
	}

	if !matched {
		var attempts int
		err := store.Do(ctx, func(ctx context.Context) error {
			var err error
			attempts, err = codes.BumpAttempts(ctx, destination, string(purpose))
			return err
		})
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if attempts >= s.maxAttempts {
			return s.lockOut(ctx, destination, purpose)
		}
		return ErrCodeInvalid
	}

	err = store.Do(ctx, func(ctx context.Context) error {
		return codes.Consume(ctx, destination, string(purpose))
	})
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		// A concurrent verification won the check-and-set.
		return ErrNotFound
	}
	return err
}

func (s *Service) lockOut(ctx context.Context, destination string, purpose Purpose) error {
	err := store.Do(ctx, func(ctx context.Context) error {
		return s.store.Codes().Delete(ctx, destination, string(purpose))
	})
	if err != nil {
		return err
	}
	return ErrLockedOut
}

// allow consults the per-destination+purpose limiter. It returns the cooldown
// remaining when the request is rejected.
func (s *Service) allow(destination string, purpose Purpose) (time.Duration, bool) {
	key := destination + "|" + string(purpose)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.limiters[key]
	if !ok {
		entry = &limiterEntry{
			lim: rate.NewLimiter(rate.Every(s.limitWindow/time.Duration(s.limitBurst)), s.limitBurst),
		}
		s.limiters[key] = entry
		s.dropIdleLocked(now)
	}
	entry.seen = now

	res := entry.lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return delay, false
	}
	return 0, true
}

func (s *Service) dropIdleLocked(now time.Time) {
	for key, entry := range s.limiters {
		if now.Sub(entry.seen) > limiterIdleTTL {
			delete(s.limiters, key)
		}
	}
}

func normalizeDestination(destination string) string {
	return strings.TrimSpace(strings.ToLower(destination))
}

// generateCode draws length decimal digits from crypto/rand.
func generateCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

const (
	argonMemory      = 64 * 1024
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLength   = 32
	argonSaltLength  = 16
)

// hashCode derives a salted argon2id hash in the standard encoded form.
func hashCode(code string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(code), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)
	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// matchCode recomputes the candidate hash with the stored salt and compares
// in constant time.
func matchCode(encoded, candidate string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(candidate), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
