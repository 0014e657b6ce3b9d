package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "

	// CookieName carries the token for browser clients (httpOnly cookie).
	CookieName = "authenticationToken"
	// QueryParam carries the token for native clients that cannot set headers
	// on the websocket handshake.
	QueryParam = "token"
)

// TokenFromRequest extracts a credential from the cookie first (browser
// clients), then from the handshake field: Authorization bearer header or the
// token query parameter (native clients).
func TokenFromRequest(r *http.Request) string {
	if ck, err := r.Cookie(CookieName); err == nil {
		if v := strings.TrimSpace(ck.Value); v != "" {
			return v
		}
	}
	raw := strings.TrimSpace(r.Header.Get(authorizationHeader))
	if strings.HasPrefix(raw, bearerPrefix) {
		if v := strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(QueryParam))
}

// RequireAccessToken verifies an access token and injects identity into request context.
// It does not perform role checks; those belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := TokenFromRequest(c.Request)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication token required"})
			return
		}

		claims, err := m.Verify(tok, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.UserID, claims.Role)
		c.Request = c.Request.WithContext(ctx)

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)

		c.Next()
	}
}
