package models

// Permission constants for the station back office
const (
	PermManageUsers     = "manage_users"
	PermManageProducts  = "manage_products"
	PermManageSales     = "manage_sales"
	PermViewReports     = "view_reports"
	PermManageInventory = "manage_inventory"
	PermManageExpenses  = "manage_expenses"
	PermManageFinances  = "manage_finances"
	PermViewSecurityLog = "view_security_log"
)

var rolePermissions = map[string]map[string]bool{
	RoleAdmin: {
		PermManageUsers:     true,
		PermManageProducts:  true,
		PermManageSales:     true,
		PermViewReports:     true,
		PermManageInventory: true,
		PermManageExpenses:  true,
		PermManageFinances:  true,
		PermViewSecurityLog: true,
	},
	RoleManager: {
		PermManageProducts:  true,
		PermManageSales:     true,
		PermViewReports:     true,
		PermManageInventory: true,
		PermManageExpenses:  true,
	},
	RoleBookkeeper: {
		PermManageSales:    true,
		PermViewReports:    true,
		PermManageFinances: true,
	},
	RoleAccountant: {
		PermViewReports:    true,
		PermManageFinances: true,
	},
	RoleAttendant: {
		PermManageSales: true,
	},
}

// IsValidRole reports whether role is one of the known roles
func IsValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission reports whether role grants every listed permission.
// Unknown roles grant nothing.
func HasPermission(role string, perms ...string) bool {
	granted, ok := rolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if !granted[p] {
			return false
		}
	}
	return true
}
