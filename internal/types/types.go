// README: Common identifier and geographic value objects shared across modules.
package types

type ID string

// Point is a WGS84 coordinate pair in decimal degrees.
type Point struct {
	Lat float64
	Lng float64
}

// Role is the kind of principal behind an authenticated connection.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleChef     Role = "chef"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
	RoleSupport  Role = "support"
)

// ValidRole reports whether r is one of the known principal roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleCustomer, RoleChef, RoleDriver, RoleAdmin, RoleSupport:
		return true
	}
	return false
}

// Staff reports whether the role may observe any order (admin tooling).
func (r Role) Staff() bool {
	return r == RoleAdmin || r == RoleSupport
}
