package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	// RoleSuperAdmin sees every owner's calls and transcripts.
	RoleSuperAdmin = "super_admin"
	// RoleUser places calls and sees only its own.
	RoleUser = "user"
	// RoleViewer reads its own calls, transcripts and reports.
	RoleViewer = "viewer"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }
