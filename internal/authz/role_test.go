package authz

import "testing"

func TestRoleOrder(t *testing.T) {
	ordered := []Role{RoleUser, RoleMentor, RoleRecruiter, RoleCompany, RoleAdmin}
	for i, lower := range ordered {
		for j, higher := range ordered {
			got := higher.AtLeast(lower)
			want := j >= i
			if got != want {
				t.Fatalf("%s.AtLeast(%s) = %v, want %v", higher, lower, got, want)
			}
		}
	}
}

func TestRoleAtLeastRejectsUnknown(t *testing.T) {
	if Role(0).AtLeast(RoleUser) {
		t.Fatalf("zero role must not pass a threshold check")
	}
	if RoleAdmin.AtLeast(Role(99)) {
		t.Fatalf("unknown threshold must not be satisfiable")
	}
}

func TestParseRole(t *testing.T) {
	cases := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"admin", RoleAdmin, false},
		{"  Recruiter ", RoleRecruiter, false},
		{"MENTOR", RoleMentor, false},
		{"company", RoleCompany, false},
		{"user", RoleUser, false},
		{"moderator", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseRole(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseRole(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseRole(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseRole(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestAdminSupersetOfEveryRole(t *testing.T) {
	admin := PermissionsOf(RoleAdmin)
	for _, role := range []Role{RoleUser, RoleMentor, RoleRecruiter, RoleCompany, RoleAdmin} {
		for perm := range PermissionsOf(role) {
			if _, ok := admin[perm]; !ok {
				t.Fatalf("admin is missing %s granted to %s", perm, role)
			}
		}
	}
}

func TestMentorAndRecruiterExtendUser(t *testing.T) {
	user := PermissionsOf(RoleUser)
	for _, role := range []Role{RoleMentor, RoleRecruiter} {
		set := PermissionsOf(role)
		for perm := range user {
			if _, ok := set[perm]; !ok {
				t.Fatalf("%s lost base permission %s", role, perm)
			}
		}
		if len(set) <= len(user) {
			t.Fatalf("%s should add capabilities on top of user", role)
		}
	}

	// The additions themselves are disjoint capability families.
	for _, perm := range mentorAdditions {
		if HasPermission(RoleRecruiter, perm) {
			t.Fatalf("recruiter unexpectedly granted mentor capability %s", perm)
		}
	}
	for _, perm := range recruiterAdditions {
		if HasPermission(RoleMentor, perm) {
			t.Fatalf("mentor unexpectedly granted recruiter capability %s", perm)
		}
	}
}

func TestHasPermission(t *testing.T) {
	if !HasPermission(RoleRecruiter, PermJobCreate) {
		t.Fatalf("recruiter should create jobs")
	}
	if HasPermission(RoleRecruiter, PermAdminDelete) {
		t.Fatalf("recruiter must not hold admin:delete")
	}
	if HasPermission(Role(42), PermJobRead) {
		t.Fatalf("unknown role must hold nothing")
	}
	if !HasPermission(RoleCompany, PermCompanyProfile) {
		t.Fatalf("company should manage its profile")
	}
}

func TestPermissionsOfReturnsCopy(t *testing.T) {
	set := PermissionsOf(RoleUser)
	delete(set, PermJobRead)
	if !HasPermission(RoleUser, PermJobRead) {
		t.Fatalf("mutating the returned set must not affect the table")
	}
}
