package auth

import "context"

// Role grants access to the trigger surface. Roles are ordered:
// viewer < operator < admin.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// ParseRole accepts one of the known role names.
func ParseRole(value string) (Role, bool) {
	role := Role(value)
	_, ok := roleRanks[role]
	return role, ok
}

// Satisfies reports whether r grants at least the required role.
func (r Role) Satisfies(required Role) bool {
	return roleRanks[r] > 0 && roleRanks[r] >= roleRanks[required]
}

// Identity is the caller behind a request. A non-empty CustomerID binds the
// caller to the billing documents of that customer.
type Identity struct {
	Subject    string
	Role       Role
	CustomerID string
}

// CustomerBound reports whether the identity is restricted to one customer.
func (id Identity) CustomerBound() bool {
	return id.CustomerID != ""
}

// MayAccessCustomer reports whether the caller may bill or read documents of
// the customer.
func (id Identity) MayAccessCustomer(customerID string) bool {
	return !id.CustomerBound() || id.CustomerID == customerID
}

type identityKey struct{}

// WithIdentity stores the caller identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller identity, if the request was authenticated.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
