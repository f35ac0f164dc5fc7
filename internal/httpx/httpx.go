// Package httpx holds the response envelope and caller plumbing shared by the
// gin handlers.
package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carbon-scribe/vericarbon-engine/internal/domain"
)

// CallerKey is the gin context key holding the authenticated account.
const CallerKey = "caller"

func NewRequestID() string { return "req_" + uuid.NewString() }

// SetCaller records the calling account on the request context.
func SetCaller(c *gin.Context, account domain.Account) {
	c.Set(CallerKey, account)
}

// Caller returns the account set by the auth middleware, or the zero account.
func Caller(c *gin.Context) domain.Account {
	if v, ok := c.Get(CallerKey); ok {
		if account, ok := v.(domain.Account); ok {
			return account
		}
	}
	return ""
}

// WriteError writes the standard error envelope.
func WriteError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"request_id": NewRequestID(),
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// BadRequest reports a request that failed binding or parsing.
func BadRequest(c *gin.Context, err error) {
	WriteError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
}

// Fail maps an engine error onto its HTTP status and code.
func Fail(c *gin.Context, err error) {
	WriteError(c, StatusOf(err), domain.ErrorCode(err), err.Error())
}

// StatusOf returns the HTTP status for an engine error.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidAccount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrAlreadyMinted),
		errors.Is(err, domain.ErrDuplicateVote):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientQuorum),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientLiquidity),
		errors.Is(err, domain.ErrExpired):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RequireCaller aborts with 401 when no usable caller was authenticated.
func RequireCaller(c *gin.Context) (domain.Account, bool) {
	account := Caller(c)
	if account.IsZero() {
		WriteError(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing caller identity")
		return "", false
	}
	if account.IsReserved() {
		WriteError(c, http.StatusForbidden, domain.ErrorCode(domain.ErrUnauthorized), "reserved account cannot call the engine")
		return "", false
	}
	return account, true
}

// AssetIDParam parses a path parameter as an asset id.
func AssetIDParam(c *gin.Context, name string) (domain.AssetID, bool) {
	id, err := domain.ParseAssetID(c.Param(name))
	if err != nil {
		WriteError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid "+name)
		return 0, false
	}
	return id, true
}

// IntQuery reads an integer query parameter with a default.
func IntQuery(c *gin.Context, key string, def int64) int64 {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}
