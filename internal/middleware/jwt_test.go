package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carline/pickup-queue/internal/utils"
)

const testSecret = "test-secret"

func doRequest(e *echo.Echo, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthInjectsTypedClaims(t *testing.T) {
	e := echo.New()
	var gotUser, gotSchool uint64
	var gotRole string
	e.GET("/protected", func(c echo.Context) error {
		gotUser, _ = c.Get("user_id").(uint64)
		gotRole, _ = c.Get("role").(string)
		gotSchool, _ = c.Get("school_id").(uint64)
		return c.NoContent(http.StatusOK)
	}, JWTAuth(testSecret))

	at, err := utils.NewAccessToken(testSecret, 42, "STAFF", 7, 15)
	require.NoError(t, err)

	rec := doRequest(e, at.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(42), gotUser)
	assert.Equal(t, "STAFF", gotRole)
	assert.Equal(t, uint64(7), gotSchool)
}

func TestJWTAuthRejectsBadTokens(t *testing.T) {
	e := echo.New()
	e.GET("/protected", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, JWTAuth(testSecret))

	rec := doRequest(e, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(e, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Token signed with a different secret.
	at, err := utils.NewAccessToken("other-secret", 42, "PARENT", 0, 15)
	require.NoError(t, err)
	rec = doRequest(e, at.Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.GET("/protected", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, JWTAuth(testSecret), RequireRole("ADMIN"))

	admin, err := utils.NewAccessToken(testSecret, 1, "ADMIN", 0, 15)
	require.NoError(t, err)
	parent, err := utils.NewAccessToken(testSecret, 2, "PARENT", 0, 15)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, doRequest(e, admin.Token).Code)
	assert.Equal(t, http.StatusForbidden, doRequest(e, parent.Token).Code)
}
