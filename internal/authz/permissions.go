package authz

// Permission is a named capability checked independently of the role order.
type Permission string

const (
	PermUserRead   Permission = "user:read"
	PermUserWrite  Permission = "user:write"
	PermUserDelete Permission = "user:delete"

	PermJobRead   Permission = "job:read"
	PermJobCreate Permission = "job:create"
	PermJobUpdate Permission = "job:update"
	PermJobDelete Permission = "job:delete"
	PermJobApply  Permission = "job:apply"

	PermApplicationRead   Permission = "application:read"
	PermApplicationWrite  Permission = "application:write"
	PermApplicationReview Permission = "application:review"

	PermCVRead   Permission = "cv:read"
	PermCVWrite  Permission = "cv:write"
	PermCVDelete Permission = "cv:delete"

	PermProjectRead   Permission = "project:read"
	PermProjectWrite  Permission = "project:write"
	PermProjectDelete Permission = "project:delete"

	PermMentorRead       Permission = "mentor:read"
	PermMentorWrite      Permission = "mentor:write"
	PermMentorshipCreate Permission = "mentorship:create"

	PermCompanyRead    Permission = "company:read"
	PermCompanyWrite   Permission = "company:write"
	PermCompanyProfile Permission = "company:profile"

	PermAdminRead      Permission = "admin:read"
	PermAdminWrite     Permission = "admin:write"
	PermAdminDelete    Permission = "admin:delete"
	PermSystemSettings Permission = "system:settings"
)

// The table is built compositionally so the hierarchy stays monotonic by
// construction: mentor and recruiter each extend the user set with disjoint
// additions, company extends recruiter, and admin is the union of every set
// plus the admin-only capabilities.
var (
	userPermissions = []Permission{
		PermUserRead, PermUserWrite,
		PermJobRead, PermJobApply,
		PermApplicationRead, PermApplicationWrite,
		PermCVRead, PermCVWrite, PermCVDelete,
		PermProjectRead, PermProjectWrite, PermProjectDelete,
		PermMentorRead,
	}

	mentorAdditions = []Permission{
		PermMentorWrite, PermMentorshipCreate,
	}

	recruiterAdditions = []Permission{
		PermJobCreate, PermJobUpdate, PermJobDelete,
		PermApplicationReview,
		PermCompanyRead, PermCompanyWrite,
	}

	companyAdditions = []Permission{
		PermCompanyProfile,
	}

	adminAdditions = []Permission{
		PermUserDelete,
		PermAdminRead, PermAdminWrite, PermAdminDelete,
		PermSystemSettings,
	}
)

var rolePermissions map[Role]map[Permission]struct{}

func init() {
	user := permSet(userPermissions)
	mentor := union(user, permSet(mentorAdditions))
	recruiter := union(user, permSet(recruiterAdditions))
	company := union(recruiter, permSet(companyAdditions))
	admin := union(union(mentor, company), permSet(adminAdditions))

	rolePermissions = map[Role]map[Permission]struct{}{
		RoleUser:      user,
		RoleMentor:    mentor,
		RoleRecruiter: recruiter,
		RoleCompany:   company,
		RoleAdmin:     admin,
	}
}

// PermissionsOf returns a copy of the capability set granted to role.
func PermissionsOf(role Role) map[Permission]struct{} {
	set, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make(map[Permission]struct{}, len(set))
	for p := range set {
		out[p] = struct{}{}
	}
	return out
}

// HasPermission reports whether role carries the named capability.
func HasPermission(role Role, perm Permission) bool {
	set, ok := rolePermissions[role]
	if !ok {
		return false
	}
	_, ok = set[perm]
	return ok
}

func permSet(perms []Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

func union(a, b map[Permission]struct{}) map[Permission]struct{} {
	out := make(map[Permission]struct{}, len(a)+len(b))
	for p := range a {
		out[p] = struct{}{}
	}
	for p := range b {
		out[p] = struct{}{}
	}
	return out
}
