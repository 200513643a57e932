package rbac

type Role string
type Action string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleOwner      Role = "OWNER"
	RoleAdmin      Role = "ADMIN"
	RoleEditor     Role = "EDITOR"
	RoleViewer     Role = "VIEWER"
)

const (
	ActionRead          Action = "read"
	ActionWrite         Action = "write"
	ActionPublish       Action = "publish"
	ActionManageUsers   Action = "manage_users"
	ActionManageAccount Action = "manage_account"
	ActionAdmin         Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleSuperAdmin:
		return true
	case RoleOwner:
		return action != ActionAdmin
	case RoleAdmin:
		return action == ActionRead || action == ActionWrite || action == ActionPublish || action == ActionManageUsers
	case RoleEditor:
		return action == ActionRead || action == ActionWrite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleSuperAdmin, RoleOwner, RoleAdmin, RoleEditor, RoleViewer:
		return Role(role)
	default:
		return RoleViewer
	}
}

// AccountRole reports whether the role is one a user inside an account can
// hold. SUPER_ADMIN is platform-level and never belongs to an account.
func AccountRole(role Role) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleEditor, RoleViewer:
		return true
	default:
		return false
	}
}

// Invitable reports whether the role may be granted through a user
// invitation. Owners are created with their account, never invited.
func Invitable(role Role) bool {
	return role == RoleAdmin || role == RoleEditor || role == RoleViewer
}
