package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"turn.careers/internal/authz"
	"turn.careers/internal/ids"
	"turn.careers/internal/obs"
	"turn.careers/internal/store"
)

const (
	defaultIssuer     = "turn"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14

	typeAccess = "access"
)

// Identity is the verified snapshot carried by an access token. The role is
// frozen at issuance; role changes take effect on the next authentication.
type Identity struct {
	SubjectID string
	Role      authz.Role
	TokenID   string
	ChainID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Pair bundles freshly issued access and refresh artifacts.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	ChainID          string
}

type accessClaims struct {
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	ChainID   string `json:"cid,omitempty"`
	jwt.RegisteredClaims
}

// Service issues, verifies and rotates identity artifacts. Access tokens are
// HS256 JWTs; refresh tokens are opaque "id.secret" values whose hashed
// secret lives in the shared store.
type Service struct {
	secret     []byte
	store      store.Store
	now        func() time.Time
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Option configures Service behavior.
type Option func(*Service)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
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
func NewService(secret []byte, st store.Store, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("token: store is required")
	}
	svc := &Service{
		secret:     secret,
		store:      st,
		now:        time.Now,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// IssueAccessToken signs an access token embedding the principal's identity
// snapshot. chainID ties the token to its refresh rotation chain and may be
// empty for standalone tokens.
func (s *Service) IssueAccessToken(p authz.Principal, chainID string) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, ErrSigningKey
	}
	if strings.TrimSpace(p.ID) == "" || !p.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: principal is incomplete", ErrMalformed)
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.accessTTL)
	claims := accessClaims{
		Role:      p.Role.String(),
		TokenType: typeAccess,
		ChainID:   chainID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrSigningKey, err)
	}
	obs.TokenIssued("access")
	return signed, expiresAt, nil
}

// VerifyAccessToken checks signature, claims and the revocation deny-list,
// and returns the embedded identity snapshot.
func (s *Service) VerifyAccessToken(ctx context.Context, artifact string) (Identity, error) {
	identity, err := s.verifyAccessToken(ctx, artifact)
	switch {
	case err == nil:
		obs.TokenVerified("ok")
	case errors.Is(err, ErrExpired):
		obs.TokenVerified("expired")
	case errors.Is(err, ErrRevoked):
		obs.TokenVerified("revoked")
	case errors.Is(err, ErrSignatureInvalid):
		obs.TokenVerified("signature_invalid")
	case errors.Is(err, store.ErrUnavailable):
		obs.TokenVerified("store_unavailable")
	default:
		obs.TokenVerified("malformed")
	}
	return identity, err
}

func (s *Service) verifyAccessToken(ctx context.Context, artifact string) (Identity, error) {
	artifact = strings.TrimSpace(artifact)
	if artifact == "" {
		return Identity{}, ErrMalformed
	}
	if len(s.secret) == 0 {
		return Identity{}, ErrSigningKey
	}

	// Claim validation runs against the service clock below, so the library
	// validator is disabled.
	parsed, err := jwt.ParseWithClaims(artifact, &accessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, ErrSignatureInvalid):
			return Identity{}, ErrSignatureInvalid
		default:
			return Identity{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	claims, ok := parsed.Claims.(*accessClaims)
	if !ok {
		return Identity{}, ErrMalformed
	}

	if claims.TokenType != typeAccess {
		return Identity{}, fmt.Errorf("%w: unexpected token type", ErrMalformed)
	}
	if claims.Issuer != s.issuer {
		return Identity{}, fmt.Errorf("%w: unexpected issuer", ErrMalformed)
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return Identity{}, fmt.Errorf("%w: identity claims missing", ErrMalformed)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return Identity{}, fmt.Errorf("%w: timestamps missing", ErrMalformed)
	}
	role, err := authz.ParseRole(claims.Role)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	now := s.now().UTC()
	// Expiry boundary is inclusive: a token presented at expiresAt is dead.
	if !now.Before(claims.ExpiresAt.Time) {
		return Identity{}, ErrExpired
	}

	if err := s.checkDenied(ctx, claims.ID, claims.ChainID); err != nil {
		return Identity{}, err
	}

	return Identity{
		SubjectID: claims.Subject,
		Role:      role,
		TokenID:   claims.ID,
		ChainID:   claims.ChainID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) checkDenied(ctx context.Context, tokenID, chainID string) error {
	var denied bool
	err := store.Do(ctx, func(ctx context.Context) error {
		var err error
		denied, err = s.store.DenyList().Contains(ctx, tokenID)
		if err != nil || denied || chainID == "" {
			return err
		}
		denied, err = s.store.DenyList().Contains(ctx, chainID)
		return err
	})
	if err != nil {
		return err
	}
	if denied {
		return ErrRevoked
	}
	return nil
}

// IssuePair starts a fresh rotation chain for the principal and issues an
// access/refresh pair.
func (s *Service) IssuePair(ctx context.Context, p authz.Principal) (Pair, error) {
	return s.mintPair(ctx, p, ids.New())
}

func (s *Service) mintPair(ctx context.Context, p authz.Principal, chainID string) (Pair, error) {
	access, accessExp, err := s.IssueAccessToken(p, chainID)
	if err != nil {
		return Pair{}, err
	}
	refresh, rec, err := s.newRefreshToken(p, chainID)
	if err != nil {
		return Pair{}, err
	}
	err = store.Do(ctx, func(ctx context.Context) error {
		return s.store.RefreshTokens().Create(ctx, rec)
	})
	if err != nil {
		return Pair{}, err
	}
	obs.TokenIssued("refresh")
	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
		ChainID:          chainID,
	}, nil
}

func (s *Service) newRefreshToken(p authz.Principal, chainID string) (string, *store.RefreshTokenRecord, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	now := s.now().UTC()
	rec := &store.RefreshTokenRecord{
		ID:        ids.New(),
		SubjectID: p.ID,
		Role:      p.Role.String(),
		TokenHash: hashSecret(secret),
		ChainID:   chainID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	return rec.ID + "." + secret, rec, nil
}

// RotateRefreshToken exchanges a refresh artifact for a new pair. Presenting
// an already-used artifact is treated as theft: the whole chain is
// invalidated and every access token minted for it fails Revoked afterwards.
func (s *Service) RotateRefreshToken(ctx context.Context, artifact string) (Pair, error) {
	tokenID, secret, err := splitRefreshToken(artifact)
	if err != nil {
		return Pair{}, ErrMalformed
	}

	tokens := s.store.RefreshTokens()
	var rec *store.RefreshTokenRecord
	err = store.Do(ctx, func(ctx context.Context) error {
		var err error
		rec, err = tokens.Find(ctx, tokenID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return Pair{}, ErrMalformed
	}
	if err != nil {
		return Pair{}, err
	}

	if !secureCompareHash(rec.TokenHash, secret) {
		// Valid id with a wrong secret smells like a forged artifact; be
		// conservative and kill the chain.
		s.invalidateChain(ctx, rec)
		return Pair{}, ErrSignatureInvalid
	}

	now := s.now().UTC()
	if !now.Before(rec.ExpiresAt) {
		return Pair{}, ErrExpired
	}

	if rec.UsedAt != nil {
		s.invalidateChain(ctx, rec)
		obs.ReuseDetected()
		return Pair{}, ErrReuseDetected
	}

	err = store.Do(ctx, func(ctx context.Context) error {
		return tokens.MarkUsed(ctx, rec.ID, now)
	})
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		// Lost the check-and-set to a concurrent rotation of the same token.
		s.invalidateChain(ctx, rec)
		obs.ReuseDetected()
		return Pair{}, ErrReuseDetected
	}
	if err != nil {
		return Pair{}, err
	}

	role, err := authz.ParseRole(rec.Role)
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return s.mintPair(ctx, authz.Principal{ID: rec.SubjectID, Role: role}, rec.ChainID)
}

func (s *Service) invalidateChain(ctx context.Context, rec *store.RefreshTokenRecord) {
	until := rec.ExpiresAt
	if minimum := s.now().UTC().Add(s.accessTTL); until.Before(minimum) {
		until = minimum
	}
	err := store.Do(ctx, func(ctx context.Context) error {
		if err := s.store.DenyList().Add(ctx, rec.ChainID, until); err != nil {
			return err
		}
		return s.store.RefreshTokens().DeleteChain(ctx, rec.ChainID)
	})
	if err != nil {
		obs.Logger().Error("invalidate rotation chain", "chain_id", rec.ChainID, "error", err)
	}
}

// Revoke puts a token id on the deny-list until the given time. A zero until
// defaults to the maximum remaining access-token lifetime, which keeps the
// list bounded.
func (s *Service) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return ErrMalformed
	}
	if until.IsZero() {
		until = s.now().UTC().Add(s.accessTTL)
	}
	return store.Do(ctx, func(ctx context.Context) error {
		return s.store.DenyList().Add(ctx, tokenID, until)
	})
}

// RevokeChain invalidates a whole rotation chain (logout).
func (s *Service) RevokeChain(ctx context.Context, chainID string) error {
	chainID = strings.TrimSpace(chainID)
	if chainID == "" {
		return ErrMalformed
	}
	until := s.now().UTC().Add(s.refreshTTL)
	return store.Do(ctx, func(ctx context.Context) error {
		if err := s.store.DenyList().Add(ctx, chainID, until); err != nil {
			return err
		}
		return s.store.RefreshTokens().DeleteChain(ctx, chainID)
	})
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secureCompareHash(expectedHash, secret string) bool {
	actual := hashSecret(secret)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
