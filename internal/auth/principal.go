package auth

type Role string

const (
	RoleCustomer      Role = "customer"
	RoleDeliveryAgent Role = "delivery_agent"
	RoleAdmin         Role = "admin"
)

// Principal is the verified caller identity extracted from the bearer token.
// Token issuance happens in the external auth system; this service only
// consumes it.
type Principal struct {
	UID  string
	Role Role
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func (p Principal) IsAgent() bool {
	return p.Role == RoleDeliveryAgent
}
