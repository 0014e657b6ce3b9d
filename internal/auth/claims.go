package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for this service.
// Role may be empty on tokens minted for regular callers; Verify defaults it to USER.
type Claims struct {
	jwt.RegisteredClaims

	UserID string `json:"userId"`
	Phone  string `json:"phone,omitempty"`
	Role   string `json:"role,omitempty"`
}
