package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the record does not exist (or was already purged).
	ErrNotFound = errors.New("store: not found")
	// ErrConflict indicates an atomic check-and-set lost to a concurrent writer.
	ErrConflict = errors.New("store: conflict")
	// ErrUnavailable indicates a transient infrastructure failure. Callers
	// retry a bounded number of times and must never report it as a denial.
	ErrUnavailable = errors.New("store: unavailable")
)

// RefreshTokenRecord is the persisted half of an opaque refresh token. Only
// the hash of the client-held secret is stored.
type RefreshTokenRecord struct {
	ID        string
	SubjectID string
	Role      string
	TokenHash string
	ChainID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// CodeRecord is the stored form of a one-time code: salted hash only, never
// the plaintext. There is at most one outstanding record per
// destination+purpose.
type CodeRecord struct {
	Destination string
	Purpose     string
	CodeHash    string
	Attempts    int
	Consumed    bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// VerificationRecord is a single-use opaque token record keyed by token hash.
type VerificationRecord struct {
	TokenHash  string
	SubjectID  string
	Purpose    string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// RefreshTokenStore manages refresh-token lifecycle under concurrency.
type RefreshTokenStore interface {
	Create(ctx context.Context, rec *RefreshTokenRecord) error
	Find(ctx context.Context, id string) (*RefreshTokenRecord, error)
	// MarkUsed atomically flips the used flag. It fails with ErrConflict if
	// the record was already used, which the caller treats as replay.
	MarkUsed(ctx context.Context, id string, at time.Time) error
	DeleteChain(ctx context.Context, chainID string) error
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// DenyList is the bounded set of revoked token and chain identifiers
// consulted at verification time until natural expiry.
type DenyList interface {
	Add(ctx context.Context, id string, until time.Time) error
	Contains(ctx context.Context, id string) (bool, error)
	Prune(ctx context.Context, now time.Time) (int, error)
}

// CodeStore manages one-time-code records.
type CodeStore interface {
	// Put stores the record, superseding any outstanding code for the same
	// destination+purpose.
	Put(ctx context.Context, rec *CodeRecord) error
	Find(ctx context.Context, destination, purpose string) (*CodeRecord, error)
	// Consume atomically marks the outstanding code consumed. Exactly one of
	// two concurrent callers succeeds; the loser gets ErrConflict.
	Consume(ctx context.Context, destination, purpose string) error
	// BumpAttempts atomically increments the attempt counter and returns the
	// new value.
	BumpAttempts(ctx context.Context, destination, purpose string) (int, error)
	Delete(ctx context.Context, destination, purpose string) error
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// VerificationStore manages single-use verification tokens.
type VerificationStore interface {
	// Put stores the record and invalidates any prior outstanding token for
	// the same subject+purpose.
	Put(ctx context.Context, rec *VerificationRecord) error
	// Consume atomically marks the token consumed and returns the record.
	// Already-consumed tokens fail with ErrConflict, missing ones with
	// ErrNotFound.
	Consume(ctx context.Context, tokenHash string, at time.Time) (*VerificationRecord, error)
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// Store aggregates the persistence surfaces required by the identity core.
type Store interface {
	RefreshTokens() RefreshTokenStore
	DenyList() DenyList
	Codes() CodeStore
	Verifications() VerificationStore
}
