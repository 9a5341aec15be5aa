package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestIDHeader is the response header carrying the per-request identifier.
const RequestIDHeader = "X-Request-ID"

// RequestID returns middleware that assigns a request-scoped identifier,
// reusing an inbound X-Request-ID header if the caller already set one. The
// id is stored under the "request_id" context key so Logger and error
// handlers can attach it to their output.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Set("request_id", rid)
			c.Response().Header().Set(RequestIDHeader, rid)
			return next(c)
		}
	}
}
