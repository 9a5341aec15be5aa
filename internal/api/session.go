package api

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sync4science/authproxy/internal/oauth"
)

// SessionResolver is the minimal contract this facade needs from the
// session/login layer. Session cookies and HTML rendering of the
// login/consent prompts live outside this proxy; a real deployment wires
// this interface to whatever holds that session. CurrentUser reports the
// already-authenticated end user for the inbound request, if any.
type SessionResolver interface {
	CurrentUser(c echo.Context) (*oauth.User, bool)
}

// HeaderSessionResolver is a minimal stand-in SessionResolver: it treats an
// inbound X-Authenticated-User-Id header as an already-established session.
// It exists so the authorize/consent endpoints are exercisable without a
// full login UI; production deployments should replace it with one backed
// by real session cookies.
type HeaderSessionResolver struct {
	Store oauth.Store
}

const authenticatedUserHeader = "X-Authenticated-User-Id"

// CurrentUser implements SessionResolver.
func (r HeaderSessionResolver) CurrentUser(c echo.Context) (*oauth.User, bool) {
	raw := c.Request().Header.Get(authenticatedUserHeader)
	if raw == "" {
		return nil, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, false
	}
	user, err := r.Store.FindUserByID(c.Request().Context(), id)
	if err != nil || user == nil {
		return nil, false
	}
	return user, true
}
