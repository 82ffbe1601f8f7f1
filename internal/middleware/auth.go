// Package middleware provides HTTP middleware for the router's gin server.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ruvnet/raftbooking/internal/apierr"
	"github.com/ruvnet/raftbooking/internal/auth"
)

// TokenValidator is the subset of auth.Service the middleware depends on,
// so tests can supply a fake without constructing a real Service.
type TokenValidator interface {
	Validate(token string) (*auth.Principal, error)
}

// Auth validates the bearer token on every request except public paths and
// stores the resulting Principal in the gin context.
func Auth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isPublicPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		principal, err := validateRequest(c, validator)
		if err != nil {
			writeAuthError(c, err)
			return
		}

		setPrincipal(c, principal)
		c.Next()
	}
}

// OptionalAuth validates the bearer token if present but never rejects the
// request; handlers that support anonymous access use this instead of Auth.
func OptionalAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := validateRequest(c, validator)
		if err == nil {
			setPrincipal(c, principal)
		}
		c.Next()
	}
}

// AdminOnly rejects any request whose principal's role is not "admin".
func AdminOnly() gin.HandlerFunc {
	return RequireRole("admin")
}

// RequireRole rejects any request whose principal's role does not match.
func RequireRole(requiredRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := GetUserRole(c)
		if !exists || role != requiredRole {
			apierr.NewCommandRejected("insufficient permissions").WriteJSON(c.Writer, c.Request)
			c.Abort()
			return
		}
		c.Next()
	}
}

func validateRequest(c *gin.Context, validator TokenValidator) (*auth.Principal, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return nil, errMissingToken
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, errMalformedToken
	}

	return validator.Validate(parts[1])
}

var (
	errMissingToken   = apierr.NewAuthRejected("authorization token is required")
	errMalformedToken = apierr.NewAuthRejected("invalid authorization header format")
)

func writeAuthError(c *gin.Context, err error) {
	apiErr, ok := err.(*apierr.APIError)
	if !ok {
		apiErr = apierr.NewAuthRejected("invalid or expired token")
	}
	apiErr.WriteJSON(c.Writer, c.Request)
	c.Abort()
}

func setPrincipal(c *gin.Context, p *auth.Principal) {
	c.Set("username", p.Username)
	c.Set("user_role", p.Role)
}

// isPublicPath reports whether path should skip authentication entirely.
func isPublicPath(path string) bool {
	publicPaths := []string{
		"/health",
		"/metrics",
		"/api/v1/login",
	}
	for _, p := range publicPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// GetUsername extracts the authenticated username from the gin context.
func GetUsername(c *gin.Context) (string, bool) {
	v, exists := c.Get("username")
	if !exists {
		return "", false
	}
	username, ok := v.(string)
	return username, ok
}

// GetUserRole extracts the authenticated role from the gin context.
func GetUserRole(c *gin.Context) (string, bool) {
	v, exists := c.Get("user_role")
	if !exists {
		return "", false
	}
	role, ok := v.(string)
	return role, ok
}
