// README: Shared identifiers, coordinates and authenticated principal used across modules.
package types

type ID string

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Valid reports whether the point lies within latitude/longitude ranges.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleProvider Role = "PROVIDER"
	RoleAdmin    Role = "ADMIN"
)

// ParseRole maps a raw value onto the closed set of roles.
func ParseRole(v string) (Role, bool) {
	switch Role(v) {
	case RoleCustomer, RoleProvider, RoleAdmin:
		return Role(v), true
	}
	return "", false
}

// Principal is the authenticated caller together with the role on their account.
type Principal struct {
	ID   ID
	Role Role
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }
