package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruvnet/raftbooking/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeValidator struct {
	principal *auth.Principal
	err       error
}

func (f *fakeValidator) Validate(token string) (*auth.Principal, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.principal, nil
}

func runThroughAuth(validator TokenValidator, path, authHeader string) (*httptest.ResponseRecorder, *gin.Context) {
	rec := httptest.NewRecorder()
	c, engine := gin.CreateTestContext(rec)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	c.Request = req

	engine.Use(Auth(validator))
	engine.GET(path, func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.HandleContext(c)
	return rec, c
}

func TestAuth_AllowsPublicPathWithoutToken(t *testing.T) {
	rec, _ := runThroughAuth(&fakeValidator{}, "/api/v1/login", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	rec, _ := runThroughAuth(&fakeValidator{}, "/api/v1/list_movies", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_RejectsMalformedHeader(t *testing.T) {
	rec, _ := runThroughAuth(&fakeValidator{}, "/api/v1/list_movies", "NotBearer abc")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_AcceptsValidToken(t *testing.T) {
	validator := &fakeValidator{principal: &auth.Principal{Username: "alice", Role: "user"}}
	rec, _ := runThroughAuth(validator, "/api/v1/list_movies", "Bearer good-token")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRole_RejectsWrongRole(t *testing.T) {
	rec := httptest.NewRecorder()
	c, engine := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/admin", nil)

	engine.Use(func(c *gin.Context) {
		setPrincipal(c, &auth.Principal{Username: "bob", Role: "user"})
		c.Next()
	})
	engine.Use(AdminOnly())
	engine.GET("/admin", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.HandleContext(c)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRequireRole_AllowsMatchingRole(t *testing.T) {
	rec := httptest.NewRecorder()
	c, engine := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/admin", nil)

	engine.Use(func(c *gin.Context) {
		setPrincipal(c, &auth.Principal{Username: "root", Role: "admin"})
		c.Next()
	})
	engine.Use(AdminOnly())
	engine.GET("/admin", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.HandleContext(c)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetUsernameAndRole_RoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	_, exists := GetUsername(c)
	require.False(t, exists)

	setPrincipal(c, &auth.Principal{Username: "alice", Role: "user"})

	username, ok := GetUsername(c)
	require.True(t, ok)
	assert.Equal(t, "alice", username)

	role, ok := GetUserRole(c)
	require.True(t, ok)
	assert.Equal(t, "user", role)
}

func TestIsPublicPath(t *testing.T) {
	assert.True(t, isPublicPath("/health"))
	assert.True(t, isPublicPath("/metrics"))
	assert.True(t, isPublicPath("/api/v1/login"))
	assert.False(t, isPublicPath("/api/v1/book_ticket"))
}
