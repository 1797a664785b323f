package model

// Roles carried in access tokens.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Principal is the authenticated caller as established by the access
// token.  Credentials are never re-validated past the middleware.
type Principal struct {
	ID    string
	Role  string
	Email string
}
