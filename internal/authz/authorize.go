package authz

import (
	"errors"
	"fmt"
	"strings"
)

// ErrForbidden indicates a valid identity with insufficient role, permission
// or ownership. Terminal for the request.
var ErrForbidden = errors.New("authz: forbidden")

// Principal is an authenticated actor resolved from a credential artifact.
// The role is the snapshot embedded at token issuance; later role changes do
// not alter it until the subject re-authenticates.
type Principal struct {
	ID       string
	Role     Role
	Active   bool
	Verified bool
}

// RequireRole allows the principal iff its role sits at or above minimum.
func RequireRole(p Principal, minimum Role) error {
	if !p.Role.AtLeast(minimum) {
		return fmt.Errorf("%w: role %s is below %s", ErrForbidden, p.Role, minimum)
	}
	return nil
}

// RequirePermission allows the principal iff its role carries perm.
func RequirePermission(p Principal, perm Permission) error {
	if !HasPermission(p.Role, perm) {
		return fmt.Errorf("%w: missing permission %s", ErrForbidden, perm)
	}
	return nil
}

// RequireOwnershipOrPermission allows the principal iff it owns the resource
// or its role carries the override permission. The resource owner id is
// supplied by the caller; the evaluator holds no resource knowledge.
func RequireOwnershipOrPermission(p Principal, resourceOwnerID string, override Permission) error {
	if p.ID != "" && p.ID == strings.TrimSpace(resourceOwnerID) {
		return nil
	}
	if HasPermission(p.Role, override) {
		return nil
	}
	return fmt.Errorf("%w: not the owner and missing %s", ErrForbidden, override)
}
