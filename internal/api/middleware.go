package api

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sync4science/authproxy/internal/oauth"
)

// tokenContextKey is the echo context key a verified bearer token is stored
// under by bearerAuth.
const tokenContextKey = "oauth_token"

// bearerAuth resolves the Authorization: Bearer <token> header to a live,
// unexpired Token and stores it on the echo context, or fails the request
// with 401.
func (s *AuthorizationServer) bearerAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			return errorJSON(c, 401, "invalid_token", "missing bearer token")
		}
		accessToken := strings.TrimSpace(strings.TrimPrefix(header, prefix))
		if accessToken == "" {
			return errorJSON(c, 401, "invalid_token", "missing bearer token")
		}

		t, err := s.engine.VerifyToken(c.Request().Context(), accessToken)
		if err != nil {
			return errorJSON(c, 500, "server_error", err.Error())
		}
		if t == nil || t.Expires.Before(s.clock.Now()) {
			return errorJSON(c, 401, "invalid_token", "token is unknown or expired")
		}

		c.Set(tokenContextKey, t)
		return next(c)
	}
}

// tokenFromContext returns the Token bearerAuth attached to c.
func tokenFromContext(c echo.Context) *oauth.Token {
	t, _ := c.Get(tokenContextKey).(*oauth.Token)
	return t
}
