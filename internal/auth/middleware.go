// Package auth resolves the calling account for HTTP requests. It does not
// authenticate anyone: the identity is read from a bearer token signed by the
// fronting identity service, or from a trusted header in development.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"carbon-scribe/vericarbon-engine/internal/domain"
	"carbon-scribe/vericarbon-engine/internal/httpx"
)

// AccountHeader carries the caller in header mode.
const AccountHeader = "X-Account"

var errMissingToken = errors.New("missing bearer token")

// Resolver extracts the calling account from a request.
type Resolver interface {
	Resolve(r *http.Request) (domain.Account, error)
}

// JWTResolver reads the account from the sub claim of an HS256 token.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

func (j *JWTResolver) Resolve(r *http.Request) (domain.Account, error) {
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		// browsers cannot set headers on websocket upgrades
		raw = r.URL.Query().Get("access_token")
	}
	if raw == "" {
		return "", errMissingToken
	}

	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return domain.NewAccount(claims.Subject), nil
}

// HeaderResolver trusts the X-Account header.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (domain.Account, error) {
	return domain.NewAccount(r.Header.Get(AccountHeader)), nil
}

// IssueToken signs a token for account. The engine never calls it; it exists
// for tooling and tests that stand in for the identity service.
func IssueToken(secret string, account domain.Account, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   account.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Middleware stores the resolved caller on the gin context. Requests without
// an identity pass through anonymously; handlers that need a caller reject
// them. A token that is present but invalid is refused outright.
func Middleware(resolver Resolver, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := resolver.Resolve(c.Request)
		switch {
		case errors.Is(err, errMissingToken):
		case err != nil:
			logger.Debug("Rejected caller identity", zap.Error(err))
			httpx.WriteError(c, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error())
			c.Abort()
			return
		default:
			httpx.SetCaller(c, account)
		}
		c.Next()
	}
}
