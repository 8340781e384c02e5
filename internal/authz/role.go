package authz

import (
	"fmt"
	"strings"
)

// Role is a hierarchically ordered classification of platform accounts.
// The numeric value is the hierarchy level: a higher value always carries at
// least the privileges of every lower one for threshold checks.
type Role int

const (
	RoleUser Role = iota + 1
	RoleMentor
	RoleRecruiter
	RoleCompany
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleUser:      "user",
	RoleMentor:    "mentor",
	RoleRecruiter: "recruiter",
	RoleCompany:   "company",
	RoleAdmin:     "admin",
}

// String returns the canonical lower-case role name.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// AtLeast reports whether r sits at or above threshold in the fixed order
// user < mentor < recruiter < company < admin.
func (r Role) AtLeast(threshold Role) bool {
	return r.Valid() && threshold.Valid() && r >= threshold
}

// ParseRole maps a role name to its Role value. Matching is case-insensitive.
func ParseRole(name string) (Role, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	for role, candidate := range roleNames {
		if candidate == name {
			return role, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", name)
}
