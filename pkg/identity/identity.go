// Package identity resolves the id of the calling user. Authentication itself
// belongs to the identity collaborator; this package only trusts what that
// collaborator forwards, either a header set by the gateway or a signed JWT.
package identity

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// UserIDHeader carries the caller id when the gateway resolves identity.
const UserIDHeader = "X-User-ID"

// ServiceTokenHeader authenticates calls from trusted internal collaborators.
const ServiceTokenHeader = "X-Service-Token"

const userIDKey = "identity.user_id"

var ErrUnauthenticated = errors.New("unauthenticated")

// Resolver extracts the caller's user id from a request.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

// HeaderResolver trusts the user id forwarded by the gateway.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(UserIDHeader))
	if id == "" {
		return "", fmt.Errorf("%w: missing %s header", ErrUnauthenticated, UserIDHeader)
	}
	return id, nil
}

// JWTResolver reads the subject of an HS256 bearer token.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

func (j *JWTResolver) Resolve(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}

	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return sub, nil
}

// NewResolver picks the resolver for the configured mode.
func NewResolver(mode, jwtSecret string) (Resolver, error) {
	switch mode {
	case "header":
		return HeaderResolver{}, nil
	case "jwt":
		if jwtSecret == "" {
			return nil, errors.New("jwt mode needs a secret")
		}
		return NewJWTResolver(jwtSecret), nil
	}
	return nil, fmt.Errorf("unknown auth mode %q", mode)
}

// Middleware stores the resolved user id on the gin context and rejects
// requests without one.
func Middleware(res Resolver, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := res.Resolve(c.Request)
		if err != nil {
			log.WithFields(logrus.Fields{
				"path":  c.FullPath(),
				"error": err,
			}).Warn("Identity: unauthenticated request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

// UserID returns the id stored by Middleware.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// RequireServiceToken guards routes called by internal collaborators such as
// the order subsystem. An empty token disables the check.
func RequireServiceToken(token string, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader(ServiceTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			log.WithField("path", c.FullPath()).Warn("Identity: invalid service token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid service token"})
			return
		}
		c.Next()
	}
}
