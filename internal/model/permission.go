package model

// Permission represents a string code for a specific system action.
type Permission string

const (
	// PermissionSessionsRead allows listing live assessment sessions.
	PermissionSessionsRead Permission = "sessions:read"

	// PermissionSessionsControl allows force-submitting and force-aborting sessions.
	PermissionSessionsControl Permission = "sessions:control"

	// PermissionProctor allows resolving proctor handoff codes.
	PermissionProctor Permission = "sessions:proctor"

	// PermissionStudentsRead allows viewing a student's interaction and completions.
	PermissionStudentsRead Permission = "students:read"

	// PermissionStudentsResetSession allows ending a student's active login.
	PermissionStudentsResetSession Permission = "students:reset_session"

	// PermissionContentRefresh allows reloading templates and documents.
	PermissionContentRefresh Permission = "content:refresh"
)

// AllPermissions is a slice of all available permissions.
var AllPermissions = []Permission{
	PermissionSessionsRead,
	PermissionSessionsControl,
	PermissionProctor,
	PermissionStudentsRead,
	PermissionStudentsResetSession,
	PermissionContentRefresh,
}

// Strings converts permissions for embedding in token claims.
func Strings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
