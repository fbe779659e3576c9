package rbac

// Role names as carried in the access token "role" claim.
const (
	RoleCaller  = "caller"
	RoleSupport = "support"
	RoleAdmin   = "admin"
)

var known = map[string]bool{RoleCaller: true, RoleSupport: true, RoleAdmin: true}

func IsAdmin(role string) bool { return role == RoleAdmin }

// Known reports whether role is one this service grants.
func Known(role string) bool { return known[role] }
