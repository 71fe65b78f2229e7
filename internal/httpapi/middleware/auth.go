package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jobmesh/platform/internal/auth"
	"github.com/jobmesh/platform/internal/httpapi/response"
	"github.com/jobmesh/platform/internal/platform/apierr"
)

const claimsContextKey = "auth_claims"

// RequireBearer parses and verifies the Authorization header with svc,
// optionally requiring one of requiredScopes (any-of match). On success the
// verified claims are stashed in gin's context under claimsContextKey for
// handlers to read via Claims(c).
func RequireBearer(svc *auth.Service, requiredScopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			response.RespondAPIErr(c, apierr.Of(apierr.Auth, errMissingBearer))
			c.Abort()
			return
		}
		tokenString := strings.TrimPrefix(header, prefix)
		claims, err := svc.VerifyToken(tokenString)
		if err != nil {
			response.RespondAPIErr(c, err)
			c.Abort()
			return
		}
		if len(requiredScopes) > 0 {
			ok := false
			for _, want := range requiredScopes {
				if claims.HasScope(want) {
					ok = true
					break
				}
			}
			if !ok {
				response.RespondAPIErr(c, apierr.Of(apierr.Forbidden, errScopeMismatch))
				c.Abort()
				return
			}
		}
		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// RequireAdminToken compares the Authorization header against a pre-shared
// admin bearer string (§6.1's "Admin authentication is a pre-shared bearer
// string from configuration").
func RequireAdminToken(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if adminToken == "" || header != prefix+adminToken {
			response.RespondAPIErr(c, apierr.Of(apierr.Auth, errInvalidAdminToken))
			c.Abort()
			return
		}
		c.Next()
	}
}

// Claims retrieves the verified token claims set by RequireBearer.
func Claims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

var (
	errMissingBearer     = authError("missing bearer token")
	errScopeMismatch     = authError("token missing required scope")
	errInvalidAdminToken = authError("invalid admin token")
)

type authError string

func (e authError) Error() string { return string(e) }
