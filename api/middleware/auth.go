package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pagegate/models"
)

// ContextKeyAPIKey is the gin context key holding the authenticated key.
const ContextKeyAPIKey = "api_key"

// keyring is the set of accepted API keys.
type keyring [][]byte

func newKeyring(apiKeys []string) keyring {
	var ring keyring
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			ring = append(ring, []byte(k))
		}
	}
	return ring
}

// contains compares against every key so timing does not reveal which
// key, if any, shares a prefix with the candidate.
func (r keyring) contains(candidate string) bool {
	found := 0
	for _, k := range r {
		found |= subtle.ConstantTimeCompare(k, []byte(candidate))
	}
	return found == 1
}

// Auth requires an API key on every request, sent as either
//
//	X-API-Key: <key>
//	Authorization: Bearer <key>
//
// With no keys configured it lets everything through.
func Auth(apiKeys []string) gin.HandlerFunc {
	ring := newKeyring(apiKeys)
	if len(ring) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key, ok := requestKey(c.Request.Header)
		switch {
		case !ok:
			abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized,
				"missing API key: provide X-API-Key header or Authorization: Bearer <key>")
		case !ring.contains(key):
			abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "invalid API key")
		default:
			c.Set(ContextKeyAPIKey, key)
			c.Next()
		}
	}
}

// requestKey reads X-API-Key, then a Bearer token. The scheme is matched
// case-insensitively.
func requestKey(h http.Header) (string, bool) {
	if key := strings.TrimSpace(h.Get("X-API-Key")); key != "" {
		return key, true
	}
	scheme, token, found := strings.Cut(h.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Success: false,
		Error:   &models.ErrorDetail{Code: code, Message: message},
	})
}
