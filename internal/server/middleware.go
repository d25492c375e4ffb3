package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mizusense/suimon/internal/auth"
	"github.com/mizusense/suimon/internal/logx"
	"github.com/mizusense/suimon/internal/server/handler"
)

// CORS returns a Gin middleware that handles Cross-Origin Resource Sharing.
func CORS(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && allowed[strings.TrimRight(origin, "/")] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Max-Age", "86400")

			if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
		}

		c.Next()
	}
}

// AdminAuth returns a Gin middleware that requires a valid admin Bearer token.
func AdminAuth(token string) gin.HandlerFunc {
	expected := "Bearer " + token
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}
		if !strings.HasPrefix(authz, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header must use Bearer scheme"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(authz), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}
		c.Next()
	}
}

// requestToken pulls the bearer token from the Authorization header, falling
// back to the access_token and id_token cookies the auth endpoints set.
func requestToken(c *gin.Context) string {
	if authz := c.GetHeader("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	if v, err := c.Cookie("access_token"); err == nil && v != "" {
		return v
	}
	if v, err := c.Cookie("id_token"); err == nil && v != "" {
		return v
	}
	return ""
}

func unauthorized(c *gin.Context) {
	// Validation detail stays in the logs; callers only see a uniform
	// unauthorized outcome.
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// UserAuth returns a middleware that verifies the caller's bearer token and
// stores the validated identity in the request context.
func UserAuth(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := requestToken(c)
		if raw == "" {
			unauthorized(c)
			return
		}
		ident, err := v.Verify(c.Request.Context(), raw)
		if err != nil {
			logx.Debugf("token rejected: %v", err)
			unauthorized(c)
			return
		}
		if ident.TokenUse != auth.TokenUseID && ident.TokenUse != auth.TokenUseAccess {
			logx.Debugf("token rejected: unrecognized token_use %q", ident.TokenUse)
			unauthorized(c)
			return
		}
		c.Set(handler.CtxIdentity, ident)
		c.Set(handler.CtxBearerToken, raw)
		c.Next()
	}
}

// OptionalUserAuth is UserAuth for endpoints that serve anonymous callers:
// no token means no identity, but a token that is present and invalid is
// still rejected.
func OptionalUserAuth(v auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := requestToken(c)
		if raw == "" {
			c.Next()
			return
		}
		ident, err := v.Verify(c.Request.Context(), raw)
		if err != nil {
			logx.Debugf("token rejected: %v", err)
			unauthorized(c)
			return
		}
		c.Set(handler.CtxIdentity, ident)
		c.Set(handler.CtxBearerToken, raw)
		c.Next()
	}
}
