package api

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/sync4science/authproxy/internal/oauth"
	"github.com/sync4science/authproxy/internal/proxy"
)

// oauthURIExtensions builds the oauth-uris extension map ConformanceRewriter
// merges into the capability statement, canonicalized against BaseURL when
// configured.
func (s *AuthorizationServer) oauthURIExtensions() map[string]string {
	base := strings.TrimSuffix(s.cfg.BaseURL, "/")
	return map[string]string{
		"authorize": base + "/oauth/authorize",
		"token":     base + "/oauth/token",
		"register":  base + "/oauth/register",
	}
}

// handleFHIRMetadata handles GET /api/fhir/metadata.
func (s *AuthorizationServer) handleFHIRMetadata(c echo.Context) error {
	metadataURL := strings.TrimSuffix(s.cfg.APIServer, "/") + "/metadata"

	doc, err := s.conformance.Conformance(c.Request().Context(), metadataURL, s.oauthURIExtensions())
	if err != nil {
		return upstreamError(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

// handleFHIRProxy handles GET,POST /api/fhir/*: the bearer-protected FHIR
// proxy.
func (s *AuthorizationServer) handleFHIRProxy(c echo.Context) error {
	token := tokenFromContext(c)
	return s.proxyRequest(c, token)
}

// handleOpenFHIRProxy handles GET,POST /api/open-fhir/*: the unsecured proxy
// variant, gated by cfg.EnableUnsecureFHIR at route-registration time. It
// bypasses RequestGuard and SecurityTagger entirely.
func (s *AuthorizationServer) handleOpenFHIRProxy(c echo.Context) error {
	path := c.Param("*")
	target, err := s.buildUpstreamURL(path, c.QueryParams())
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", err.Error())
	}

	body, err := readBody(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "could not read request body")
	}

	resp, err := s.pipeline.Forward(c.Request().Context(), c.Request().Method, target, proxy.FilterHeaders(c.Request().Header), body)
	if err != nil {
		return upstreamError(c, err)
	}
	return writeProxyResponse(c, resp)
}

// proxyRequest is the shared guard->tag->forward pipeline used by the
// bearer-protected /api/fhir/* route.
func (s *AuthorizationServer) proxyRequest(c echo.Context, token *oauth.Token) error {
	path := c.Param("*")

	if err := s.guard.Check(c.Request().Method, path, c.QueryParams()); err != nil {
		if fe, ok := err.(*oauth.ForbiddenError); ok {
			return errorJSON(c, http.StatusForbidden, "forbidden", fe.Error())
		}
		return errorJSON(c, http.StatusForbidden, "forbidden", err.Error())
	}

	tagged := s.tagger.Tag(c.QueryParams(), path, token)
	target, err := s.buildUpstreamURL(path, tagged)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", err.Error())
	}

	body, err := readBody(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "could not read request body")
	}

	resp, err := s.pipeline.Forward(c.Request().Context(), c.Request().Method, target, proxy.FilterHeaders(c.Request().Header), body)
	if err != nil {
		return upstreamError(c, err)
	}
	return writeProxyResponse(c, resp)
}

// buildUpstreamURL resolves path+query against the configured upstream FHIR
// base URL.
func (s *AuthorizationServer) buildUpstreamURL(path string, query url.Values) (*url.URL, error) {
	base, err := url.Parse(strings.TrimSuffix(s.cfg.APIServer, "/") + "/" + strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, err
	}
	base.RawQuery = query.Encode()
	return base, nil
}

func readBody(c echo.Context) ([]byte, error) {
	if c.Request().Body == nil {
		return nil, nil
	}
	defer c.Request().Body.Close()
	return io.ReadAll(c.Request().Body)
}

func writeProxyResponse(c echo.Context, resp *proxy.Response) error {
	for k, values := range resp.Headers {
		for _, v := range values {
			c.Response().Header().Add(k, v)
		}
	}
	contentType := echo.MIMEApplicationJSON
	if ct := resp.Headers["Content-Type"]; len(ct) > 0 {
		contentType = ct[0]
	}
	return c.Blob(resp.Status, contentType, resp.Body)
}

func upstreamError(c echo.Context, err error) error {
	switch err.(type) {
	case *oauth.UpstreamTimeoutError:
		return errorJSON(c, http.StatusGatewayTimeout, "upstream_timeout", err.Error())
	case *oauth.UpstreamTransportError:
		return errorJSON(c, http.StatusBadGateway, "upstream_transport_error", err.Error())
	default:
		return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
	}
}

// handleMe handles GET /api/me: returns the bearer client's identity and
// every token currently stored for it.
func (s *AuthorizationServer) handleMe(c echo.Context) error {
	token := tokenFromContext(c)

	tokens, err := s.engine.AuditClient(c.Request().Context(), token.ClientID)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	interests := make([]*oauth.Interest, 0, len(tokens))
	for _, t := range tokens {
		interest, err := s.engine.Interest(c.Request().Context(), t)
		if err != nil {
			return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
		}
		interests = append(interests, interest)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"client_id": token.ClientID,
		"tokens":    interests,
	})
}
