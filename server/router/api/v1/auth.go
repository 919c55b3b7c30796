package v1

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/errcode"
)

// HeaderAPIKey carries the API key. "Authorization: Bearer <key>" is accepted too.
const HeaderAPIKey = "X-API-Key"

const presentedKeyContextKey = "finja.api_key"

// presentedKey returns the key sent by the client, or "".
func presentedKey(c echo.Context) string {
	if key := strings.TrimSpace(c.Request().Header.Get(HeaderAPIKey)); key != "" {
		return key
	}
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func keyMatches(presented, expected string) bool {
	if presented == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// KeyAuth rejects requests that do not present expected. With no key
// configured every request is rejected.
func KeyAuth(expected string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := presentedKey(c)
			if !keyMatches(key, expected) {
				return errcode.Unauthorized("missing or invalid API key")
			}
			c.Set(presentedKeyContextKey, key)
			return next(c)
		}
	}
}

// AdminAuth guards the admin endpoints. They are disabled when no admin key
// is configured.
func AdminAuth(expected string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if expected == "" {
				return errcode.Forbidden("admin endpoints are disabled")
			}
			key := presentedKey(c)
			if !keyMatches(key, expected) {
				return errcode.Unauthorized("missing or invalid admin API key")
			}
			c.Set(presentedKeyContextKey, key)
			return next(c)
		}
	}
}
