package domain

// Role constants define the allowed user roles.
const (
	RoleBuyer  = "buyer"
	RoleVendor = "vendor"
	RoleAdmin  = "admin"
)

// ValidRoles returns the set of valid user roles.
func ValidRoles() []string {
	return []string{RoleBuyer, RoleVendor, RoleAdmin}
}

// IsValidRole checks whether the given role string is a valid user role.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles() {
		if r == role {
			return true
		}
	}
	return false
}

// IsSelfRegisterable reports whether a new account may sign up with role.
// Admins are only created by the seed command or by another admin.
func IsSelfRegisterable(role string) bool {
	return role == RoleBuyer || role == RoleVendor
}
