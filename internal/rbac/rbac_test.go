package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer write", role: RoleViewer, action: ActionWrite, allow: false},
		{name: "editor write", role: RoleEditor, action: ActionWrite, allow: true},
		{name: "editor publish", role: RoleEditor, action: ActionPublish, allow: false},
		{name: "admin publish", role: RoleAdmin, action: ActionPublish, allow: true},
		{name: "admin manage users", role: RoleAdmin, action: ActionManageUsers, allow: true},
		{name: "admin manage account", role: RoleAdmin, action: ActionManageAccount, allow: false},
		{name: "owner manage account", role: RoleOwner, action: ActionManageAccount, allow: true},
		{name: "owner platform admin", role: RoleOwner, action: ActionAdmin, allow: false},
		{name: "super admin platform admin", role: RoleSuperAdmin, action: ActionAdmin, allow: true},
		{name: "unknown role", role: Role("intern"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestInvitable(t *testing.T) {
	if Invitable(RoleOwner) {
		t.Fatal("owners must not be invitable")
	}
	if Invitable(RoleSuperAdmin) {
		t.Fatal("super admin must not be invitable")
	}
	for _, role := range []Role{RoleAdmin, RoleEditor, RoleViewer} {
		if !Invitable(role) {
			t.Fatalf("expected %q to be invitable", role)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("EDITOR"); got != RoleEditor {
		t.Fatalf("Normalize(EDITOR) = %q", got)
	}
	if got := Normalize("root"); got != RoleViewer {
		t.Fatalf("Normalize(root) = %q, want viewer fallback", got)
	}
}
