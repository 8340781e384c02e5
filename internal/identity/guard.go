package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"turn.careers/internal/authz"
	"turn.careers/internal/store"
	"turn.careers/internal/token"
)

// ErrUnauthenticated indicates a missing, garbled, expired or revoked
// credential. Recoverable by re-authenticating.
var ErrUnauthenticated = errors.New("identity: unauthenticated")

// Account is what the surrounding persistence layer knows about a subject.
type Account struct {
	ID       string
	Role     authz.Role
	Active   bool
	Verified bool
}

// ErrAccountNotFound is returned by Directory implementations when no
// account matches.
var ErrAccountNotFound = errors.New("identity: account not found")

// Directory resolves subjects against the (external) account persistence.
type Directory interface {
	Account(ctx context.Context, subjectID string) (Account, error)
	// AccountByDestination maps an email address or phone number to an
	// account, used by one-time-code login.
	AccountByDestination(ctx context.Context, destination string) (Account, error)
}

// Guard is the request-scoped entry point composing token verification and
// principal status checks into one resolution step.
type Guard struct {
	tokens *token.Service
	dir    Directory
}

// NewGuard constructs a Guard.
func NewGuard(tokens *token.Service, dir Directory) (*Guard, error) {
	if tokens == nil || dir == nil {
		return nil, errors.New("identity: token service and directory are required")
	}
	return &Guard{tokens: tokens, dir: dir}, nil
}

// Resolve verifies the presented artifact and produces a usable Principal.
// Any token failure resolves to Unauthenticated; a deactivated subject
// resolves to Forbidden. Infrastructure failures surface as themselves and
// are never collapsed into a denial.
func (g *Guard) Resolve(ctx context.Context, artifact string) (authz.Principal, error) {
	if strings.TrimSpace(artifact) == "" {
		return authz.Principal{}, fmt.Errorf("%w: no credential presented", ErrUnauthenticated)
	}

	ident, err := g.tokens.VerifyAccessToken(ctx, artifact)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return authz.Principal{}, err
		}
		return authz.Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	account, err := g.dir.Account(ctx, ident.SubjectID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return authz.Principal{}, fmt.Errorf("%w: unknown subject", ErrUnauthenticated)
		}
		return authz.Principal{}, err
	}

	if !account.Active {
		return authz.Principal{}, fmt.Errorf("%w: account deactivated", authz.ErrForbidden)
	}

	// The role stays the issuance-time snapshot; the status flags are live.
	return authz.Principal{
		ID:       ident.SubjectID,
		Role:     ident.Role,
		Active:   account.Active,
		Verified: account.Verified,
	}, nil
}
