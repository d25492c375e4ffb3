package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/mizusense/suimon/internal/auth"
)

// Context keys populated by the server's auth middleware.
const (
	CtxIdentity    = "identity"
	CtxBearerToken = "bearer_token"
)

// identityFrom returns the validated identity the middleware stored, or nil
// on anonymous requests.
func identityFrom(c *gin.Context) *auth.Identity {
	v, ok := c.Get(CtxIdentity)
	if !ok {
		return nil
	}
	ident, _ := v.(*auth.Identity)
	return ident
}

// bearerFrom returns the raw bearer token for handlers that forward it to
// the identity provider.
func bearerFrom(c *gin.Context) string {
	return c.GetString(CtxBearerToken)
}
