package authz

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxPrincipal = "registry_principal"

// RequirePrincipal returns gin middleware that enforces a valid Bearer
// principal token and injects the resulting Principal into the context.
func RequirePrincipal(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		principal, err := issuer.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token: " + err.Error()})
			return
		}

		c.Set(ctxPrincipal, principal)
		c.Next()
	}
}

// OptionalPrincipal tries to resolve a Principal from the Authorization
// header but never aborts the request when one is absent or invalid —
// used on routes that serve public data but personalize for entitled
// callers (spec.md's discovery visibility rules).
func OptionalPrincipal(issuer *Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			if principal, err := issuer.Verify(tokenStr); err == nil {
				c.Set(ctxPrincipal, principal)
			}
		}
		c.Next()
	}
}

// RequireRole returns middleware that aborts with 403 unless the resolved
// Principal carries role. Must run after RequirePrincipal.
func RequireRole(role Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := FromContext(c)
		if !ok || !p.HasRole(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role " + string(role) + " required"})
			return
		}
		c.Next()
	}
}

// RequireScope returns middleware that aborts with 403 unless the resolved
// Principal carries scope. Must run after RequirePrincipal.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := FromContext(c)
		if !ok || !p.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "scope " + scope + " required"})
			return
		}
		c.Next()
	}
}

// FromContext retrieves the Principal injected by RequirePrincipal or
// OptionalPrincipal.
func FromContext(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(ctxPrincipal)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// RequireTenantMatch reports whether the caller may act on resourceTenant:
// administrators may act across tenants, everyone else must match exactly.
// Handlers call this directly (rather than as middleware) once they know
// the resource's tenant, per spec.md's tenant-isolation rule that a
// mismatch must look identical to not-found, never forbidden.
func RequireTenantMatch(p Principal, resourceTenant string) bool {
	return p.IsAdministrator() || p.Tenant == resourceTenant
}
