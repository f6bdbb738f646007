// Package middleware defines request tracking and route based authentication
package middleware

import (
	"crypto/subtle"

	"ml-server/internal/ctx"
	"ml-server/internal/shared"

	"github.com/labstack/echo/v4"
)

// HasKey reports whether the Authorization header carries key. An empty key
// never matches, so unset keys disable the routes they guard.
func HasKey(c echo.Context, key string) bool {
	if key == "" {
		return false
	}
	apiKey, err := shared.ExtractAPIKey(c)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1
}

func RequireKey(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(cc echo.Context) error {
			if !HasKey(cc, key) {
				return cc.JSON(shared.ErrUnauthorized.StatusCode, map[string]string{
					"error": shared.ErrUnauthorized.Message(),
					"code":  "unauthorized",
				})
			}
			if c, ok := cc.(*ctx.Context); ok {
				c.LogValues.Admin = true
			}
			return next(cc)
		}
	}
}
