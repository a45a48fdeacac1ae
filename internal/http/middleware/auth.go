// README: Auth middleware: bearer/query token verification, principal resolution, role gates.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"quickassist/internal/infra"
	"quickassist/internal/modules/user"
	"quickassist/internal/types"
)

const (
	ctxUID       = "auth.uid"
	ctxClaims    = "auth.claims"
	ctxPrincipal = "auth.principal"
)

// Auth verifies the caller's token. Browsers cannot set headers on websocket
// upgrades, so those may pass the token as ?token= instead.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" && websocket.IsWebSocketUpgrade(c.Request) {
			raw = c.Query("token")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil || token == nil || token.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxUID, types.ID(token.UID))
		c.Set(ctxClaims, token.Claims)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// CallerUID is the verified token subject, set by Auth.
func CallerUID(c *gin.Context) types.ID {
	v, _ := c.Get(ctxUID)
	uid, _ := v.(types.ID)
	return uid
}

// PrincipalResolver loads the caller's account role.
type PrincipalResolver interface {
	Principal(ctx context.Context, uid types.ID) (types.Principal, error)
}

// Resolve turns the verified subject into a Principal. The role comes from the
// account row on every request, never from token claims.
func Resolve(resolver PrincipalResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := resolver.Principal(c.Request.Context(), CallerUID(c))
		switch {
		case err == nil:
		case errors.Is(err, user.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user not registered"})
			return
		case errors.Is(err, user.ErrInactive):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.Set(ctxPrincipal, p)
		c.Next()
	}
}

// Caller is the resolved principal, set by Resolve.
func Caller(c *gin.Context) types.Principal {
	v, _ := c.Get(ctxPrincipal)
	p, _ := v.(types.Principal)
	return p
}

func RequireRole(roles ...types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Caller(c)
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role not allowed"})
	}
}
