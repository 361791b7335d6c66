package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"slateboard/internal/core/ports"
)

// Context keys set by the identity middleware for downstream handlers.
const (
	ContextTokenKey    = "token"
	ContextIdentityKey = "identity"
)

// IdentityMiddleware resolves the bearer token into a canonical identity
// and rejects the request when the token cannot be resolved. Handlers
// read the identity from the gin context for permission checks.
func IdentityMiddleware(provider ports.IdentityProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			c.Abort()
			return
		}

		identity, err := provider.ResolveIdentity(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "identity provider unavailable"})
			c.Abort()
			return
		}
		if identity == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token rejected"})
			c.Abort()
			return
		}

		c.Set(ContextTokenKey, token)
		c.Set(ContextIdentityKey, identity)
		c.Next()
	}
}

// OptionalIdentityMiddleware resolves the identity when a token is
// present but lets anonymous requests through. Used on read-only routes
// like board previews.
func OptionalIdentityMiddleware(provider ports.IdentityProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.Next()
			return
		}

		if identity, err := provider.ResolveIdentity(c.Request.Context(), token); err == nil && identity != "" {
			c.Set(ContextTokenKey, token)
			c.Set(ContextIdentityKey, identity)
		}

		c.Next()
	}
}

// extractBearerToken pulls the token from the Authorization header,
// falling back to the `token` query parameter so browser clients can
// share the websocket handshake credential.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}

// IdentityFrom returns the resolved identity for the current request,
// or "" when the request is anonymous.
func IdentityFrom(c *gin.Context) string {
	v, ok := c.Get(ContextIdentityKey)
	if !ok {
		return ""
	}
	identity, _ := v.(string)
	return identity
}

// TokenFrom returns the raw bearer token for the current request.
func TokenFrom(c *gin.Context) string {
	v, ok := c.Get(ContextTokenKey)
	if !ok {
		return ""
	}
	token, _ := v.(string)
	return token
}
