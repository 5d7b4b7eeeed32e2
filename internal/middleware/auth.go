package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/leadforge/mission-service/internal/apperr"
	"github.com/leadforge/mission-service/internal/auth"
)

const (
	internalKeyHeader = "X-Internal-API-Key"
	claimsKey         = "auth.claims"
)

// InternalAuthMiddleware validates service-to-service authentication
// using the X-Internal-API-Key header
func InternalAuthMiddleware(apiKey string) gin.HandlerFunc {
	if apiKey == "" {
		return func(c *gin.Context) {
			AbortWithError(c, apperr.Config(apperr.CodeConfigInvalid, "server misconfigured: internal API key not set"))
		}
	}
	apiKeyBytes := []byte(apiKey)

	return func(c *gin.Context) {
		key := c.GetHeader(internalKeyHeader)
		if subtle.ConstantTimeCompare([]byte(key), apiKeyBytes) != 1 {
			AbortWithError(c, apperr.Auth(apperr.CodeInternalKeyInvalid, "internal API key is missing or invalid"))
			return
		}
		c.Next()
	}
}

// RequireScopes authenticates the bearer token and checks that it grants
// every scope listed. The verified claims are stored on the context.
func RequireScopes(svc *auth.Service, scopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := svc.Authenticate(c.Request, scopes)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by RequireScopes, if any.
func ClaimsFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}
