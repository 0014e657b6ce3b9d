package rbac

// Role names. Keep these stable; they are carried in access tokens and
// select the websocket namespace a connection may join.
const (
	RoleUser       = "USER"
	RoleTelecaller = "TELECALLER"
	RoleAdmin      = "ADMIN"
)
