package store

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Store used by tests and single-instance
// deployments. All check-and-set operations run under one mutex, which gives
// the same exactly-once consumption guarantees as the shared store.
type Memory struct {
	mu            sync.Mutex
	refresh       map[string]RefreshTokenRecord
	denied        map[string]time.Time
	codes         map[codeKey]CodeRecord
	verifications map[string]VerificationRecord
}

var _ Store = (*Memory)(nil)

type codeKey struct {
	destination string
	purpose     string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		refresh:       make(map[string]RefreshTokenRecord),
		denied:        make(map[string]time.Time),
		codes:         make(map[codeKey]CodeRecord),
		verifications: make(map[string]VerificationRecord),
	}
}

func (m *Memory) RefreshTokens() RefreshTokenStore { return (*memoryRefresh)(m) }
func (m *Memory) DenyList() DenyList               { return (*memoryDeny)(m) }
func (m *Memory) Codes() CodeStore                 { return (*memoryCodes)(m) }
func (m *Memory) Verifications() VerificationStore { return (*memoryVerifications)(m) }

// Refresh tokens ------------------------------------------------------------

type memoryRefresh Memory

func (m *memoryRefresh) Create(ctx context.Context, rec *RefreshTokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[rec.ID] = *rec
	return nil
}

func (m *memoryRefresh) Find(ctx context.Context, id string) (*RefreshTokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.refresh[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

func (m *memoryRefresh) MarkUsed(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.refresh[id]
	if !ok {
		return ErrNotFound
	}
	if rec.UsedAt != nil {
		return ErrConflict
	}
	used := at
	rec.UsedAt = &used
	m.refresh[id] = rec
	return nil
}

func (m *memoryRefresh) DeleteChain(ctx context.Context, chainID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.refresh {
		if rec.ChainID == chainID {
			delete(m.refresh, id)
		}
	}
	return nil
}

func (m *memoryRefresh) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.refresh {
		if !now.Before(rec.ExpiresAt) {
			delete(m.refresh, id)
			n++
		}
	}
	return n, nil
}

// Deny-list -----------------------------------------------------------------

type memoryDeny Memory

func (m *memoryDeny) Add(ctx context.Context, id string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.denied[id]; !ok || until.After(existing) {
		m.denied[id] = until
	}
	return nil
}

func (m *memoryDeny) Contains(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.denied[id]
	if !ok {
		return false, nil
	}
	// Entries past their natural expiry stop mattering even before pruning.
	return time.Now().Before(until), nil
}

func (m *memoryDeny) Prune(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, until := range m.denied {
		if !now.Before(until) {
			delete(m.denied, id)
			n++
		}
	}
	return n, nil
}

// One-time codes ------------------------------------------------------------

type memoryCodes Memory

func (m *memoryCodes) Put(ctx context.Context, rec *CodeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[codeKey{rec.Destination, rec.Purpose}] = *rec
	return nil
}

func (m *memoryCodes) Find(ctx context.Context, destination, purpose string) (*CodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.codes[codeKey{destination, purpose}]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	return &out, nil
}

func (m *memoryCodes) Consume(ctx context.Context, destination, purpose string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := codeKey{destination, purpose}
	rec, ok := m.codes[key]
	if !ok {
		return ErrNotFound
	}
	if rec.Consumed {
		return ErrConflict
	}
	rec.Consumed = true
	m.codes[key] = rec
	return nil
}

func (m *memoryCodes) BumpAttempts(ctx context.Context, destination, purpose string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := codeKey{destination, purpose}
	rec, ok := m.codes[key]
	if !ok {
		return 0, ErrNotFound
	}
	rec.Attempts++
	m.codes[key] = rec
	return rec.Attempts, nil
}

func (m *memoryCodes) Delete(ctx context.Context, destination, purpose string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, codeKey{destination, purpose})
	return nil
}

func (m *memoryCodes) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, rec := range m.codes {
		if rec.Consumed || !now.Before(rec.ExpiresAt) {
			delete(m.codes, key)
			n++
		}
	}
	return n, nil
}

// Verification tokens -------------------------------------------------------

type memoryVerifications Memory

func (m *memoryVerifications) Put(ctx context.Context, rec *VerificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// A reissue destroys any outstanding token for the same subject+purpose.
	for hash, existing := range m.verifications {
		if existing.SubjectID == rec.SubjectID && existing.Purpose == rec.Purpose {
			delete(m.verifications, hash)
		}
	}
	m.verifications[rec.TokenHash] = *rec
	return nil
}

func (m *memoryVerifications) Consume(ctx context.Context, tokenHash string, at time.Time) (*VerificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.verifications[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.ConsumedAt != nil {
		return nil, ErrConflict
	}
	consumed := at
	rec.ConsumedAt = &consumed
	m.verifications[tokenHash] = rec
	out := rec
	return &out, nil
}

func (m *memoryVerifications) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for hash, rec := range m.verifications {
		if rec.ConsumedAt != nil || !now.Before(rec.ExpiresAt) {
			delete(m.verifications, hash)
			n++
		}
	}
	return n, nil
}
