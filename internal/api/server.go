// Package api binds the OAuth engine, client registry, and proxy pipeline to
// the inbound HTTP surface.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sync4science/authproxy/internal/config"
	"github.com/sync4science/authproxy/internal/oauth"
	"github.com/sync4science/authproxy/internal/proxy"
)

// AccessTokenLifetime is the fixed access-token lifetime the token endpoint
// issues. The debug-token endpoint takes its lifetime from the request instead.
const AccessTokenLifetime = time.Hour

// DefaultApprovalWindow is how long an authorization created by the consent
// POST remains approved for refresh; every consent starts a new window.
const DefaultApprovalWindow = 365 * 24 * time.Hour

// AuthorizationServer is the facade binding every OAuth/proxy component to
// echo routes.
type AuthorizationServer struct {
	cfg         *config.Config
	store       oauth.Store
	registry    *oauth.ClientRegistry
	engine      *oauth.OAuthEngine
	guard       proxy.RequestGuard
	tagger      proxy.SecurityTagger
	pipeline    *proxy.ProxyPipeline
	conformance *proxy.ConformanceRewriter
	sessions    SessionResolver
	clock       oauth.Clock
}

// New constructs an AuthorizationServer. httpClient is shared across the
// proxy pipeline and conformance rewriter and must honor cfg's configured
// upstream timeout.
func New(cfg *config.Config, store oauth.Store, ids oauth.Identifier, clock oauth.Clock, httpClient *http.Client, sessions SessionResolver) *AuthorizationServer {
	return &AuthorizationServer{
		cfg:         cfg,
		store:       store,
		registry:    oauth.NewClientRegistry(store, ids, clock),
		engine:      oauth.NewOAuthEngine(store, ids, clock),
		guard:       proxy.RequestGuard{},
		tagger:      proxy.SecurityTagger{},
		pipeline:    proxy.NewProxyPipeline(httpClient),
		conformance: proxy.NewConformanceRewriter(httpClient),
		sessions:    sessions,
		clock:       clock,
	}
}

// RegisterRoutes wires every endpoint this facade exposes onto e.
func (s *AuthorizationServer) RegisterRoutes(e *echo.Echo) {
	e.POST("/oauth/register", s.handleRegister)
	e.GET("/oauth/token", s.handleToken)
	e.POST("/oauth/token", s.handleToken)
	e.GET("/oauth/authorize", s.handleAuthorizePrompt)
	e.POST("/oauth/authorize", s.handleAuthorizeDecision)
	e.GET("/oauth/errors", s.handleErrors)

	if s.cfg.DebugEndpointsEnabled {
		e.POST("/oauth/debug/token", s.handleDebugToken)
		e.GET("/oauth/debug/introspect/:token", s.handleDebugIntrospect)
	}

	e.GET("/api/me", s.handleMe, s.bearerAuth)
	e.GET("/api/fhir/metadata", s.handleFHIRMetadata)
	e.GET("/api/fhir/*", s.handleFHIRProxy, s.bearerAuth)
	e.POST("/api/fhir/*", s.handleFHIRProxy, s.bearerAuth)

	if s.cfg.EnableUnsecureFHIR {
		e.GET("/api/open-fhir/*", s.handleOpenFHIRProxy)
		e.POST("/api/open-fhir/*", s.handleOpenFHIRProxy)
	}
}

// errorJSON writes the module-wide {error, description} error shape.
func errorJSON(c echo.Context, status int, code, description string) error {
	body := map[string]string{"error": code}
	if description != "" {
		body["description"] = description
	}
	return c.JSON(status, body)
}
