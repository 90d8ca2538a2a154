// Package auth verifies session tokens issued by the identity provider.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// CookieName is the cookie carrying the session token.
	CookieName = "session"
	RoleAdmin  = "admin"
	RoleUser   = "user"

	contextKey = "auth.session"
)

var (
	ErrMissingToken = errors.New("session token is missing")
	ErrInvalidToken = errors.New("session token is invalid")
)

// Session is the verified identity of the caller.
type Session struct {
	UserID string
	Email  string
	Role   string
}

func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Verifier checks HS256 session tokens.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Verify parses token and returns the session it carries.
func (v *Verifier) Verify(token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	role := claims.Role
	if role == "" {
		role = RoleUser
	}
	return &Session{UserID: claims.Subject, Email: claims.Email, Role: role}, nil
}

// Sign issues a token for s. Production tokens come from the identity
// provider; this is used by tests and local tooling.
func (v *Verifier) Sign(s Session, ttl time.Duration) (string, error) {
	now := v.now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: s.Email,
		Role:  s.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenFromRequest reads the session cookie, falling back to a bearer token.
func TokenFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(CookieName); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// Middleware attaches the caller's session to the context when the request
// carries a valid token. Requests without one pass through anonymously.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if session, err := v.Verify(TokenFromRequest(c)); err == nil {
			c.Set(contextKey, session)
		}
		c.Next()
	}
}

// FromContext returns the session attached by Middleware.
func FromContext(c *gin.Context) (*Session, bool) {
	value, ok := c.Get(contextKey)
	if !ok {
		return nil, false
	}
	session, ok := value.(*Session)
	return session, ok
}
