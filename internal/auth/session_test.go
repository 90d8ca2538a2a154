package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("secret")

	token, err := v.Sign(Session{UserID: "u1", Email: "u1@example.com", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	s, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, "u1@example.com", s.Email)
	assert.True(t, s.IsAdmin())
}

func TestVerifyDefaultsRole(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Sign(Session{UserID: "u1"}, time.Hour)
	require.NoError(t, err)

	s, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, s.Role)
	assert.False(t, s.IsAdmin())
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("secret")

	_, err := v.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)

	other, err := NewVerifier("other").Sign(Session{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := v.Sign(Session{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Verify(noSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareReadsCookieAndBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := NewVerifier("secret")
	token, err := v.Sign(Session{UserID: "u7"}, time.Hour)
	require.NoError(t, err)

	router := gin.New()
	router.Use(Middleware(v))
	router.GET("/whoami", func(c *gin.Context) {
		s, ok := FromContext(c)
		if !ok {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, s.UserID)
	})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "u7", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "u7", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "anonymous", w.Body.String())
}
