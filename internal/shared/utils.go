// Package shared
package shared

import (
	"os"
	"strings"

	"github.com/labstack/echo/v4"
)

func GetEnv(env, fallback string) string {
	if value, ok := os.LookupEnv(env); ok {
		return value
	}
	return fallback
}

func ExtractAPIKey(c echo.Context) (string, error) {
	return ExtractBearer(c.Request().Header.Get("Authorization"))
}

// ExtractBearer validates an Authorization header value and returns the key
func ExtractBearer(auth string) (string, error) {
	if auth == "" {
		return "", ErrMissingAuth
	}

	// Validate bearer format
	parts := strings.Split(auth, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", ErrInvalidFormat
	}

	apiKey := parts[1]

	// Validate key length
	if len(apiKey) < APIKeyMinLength {
		return "", ErrInvalidKeyLen
	}

	return apiKey, nil
}
