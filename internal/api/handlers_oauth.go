package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sync4science/authproxy/internal/oauth"
)

// handleRegister handles POST /oauth/register (dynamic client registration).
func (s *AuthorizationServer) handleRegister(c echo.Context) error {
	var req struct {
		ClientName   string   `json:"client_name"`
		RedirectURIs []string `json:"redirect_uris"`
		Scope        string   `json:"scope"`
	}
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "invalid request body")
	}

	reg, err := s.registry.Register(c.Request().Context(), req.RedirectURIs, req.Scope, req.ClientName)
	if err != nil {
		switch e := err.(type) {
		case *oauth.InvalidClientMetadataError:
			return errorJSON(c, http.StatusBadRequest, "invalid_client_metadata", e.Description)
		case *oauth.InvalidRedirectURIError:
			return errorJSON(c, http.StatusBadRequest, "invalid_redirect_uri", "A URI scheme is required: "+e.URI)
		default:
			return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
		}
	}

	return c.JSON(http.StatusCreated, reg)
}

// extractClientCredentials reads client_id/client_secret from HTTP Basic
// auth, falling back to form values.
func extractClientCredentials(c echo.Context) (string, string) {
	clientID, clientSecret, ok := c.Request().BasicAuth()
	if ok && clientID != "" {
		return clientID, clientSecret
	}
	return c.FormValue("client_id"), c.FormValue("client_secret")
}

// handleToken handles GET,POST /oauth/token, dispatching on grant_type.
func (s *AuthorizationServer) handleToken(c echo.Context) error {
	grantType := c.FormValue("grant_type")
	switch grantType {
	case "authorization_code":
		return s.handleTokenAuthorizationCode(c)
	case "refresh_token":
		return s.handleTokenRefresh(c)
	default:
		return errorJSON(c, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
	}
}

func (s *AuthorizationServer) handleTokenAuthorizationCode(c echo.Context) error {
	clientID, clientSecret := extractClientCredentials(c)
	if clientID == "" {
		return errorJSON(c, http.StatusUnauthorized, "invalid_client", "client authentication required")
	}
	client, err := s.registry.Lookup(c.Request().Context(), clientID)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	if client == nil || client.ClientSecret != clientSecret {
		return errorJSON(c, http.StatusUnauthorized, "invalid_client", "unknown client or bad secret")
	}

	code := c.FormValue("code")
	redirectURI := c.FormValue("redirect_uri")

	grant, err := s.engine.LoadGrant(c.Request().Context(), clientID, code)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	if grant == nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_grant", "authorization code is unknown or expired")
	}
	if redirectURI != "" && grant.RedirectURI != redirectURI {
		return errorJSON(c, http.StatusBadRequest, "invalid_grant", "redirect_uri does not match the authorization request")
	}

	token, err := s.engine.IssueToken(c.Request().Context(), clientID, code, AccessTokenLifetime)
	if err != nil {
		return tokenEngineError(c, err)
	}

	return c.JSON(http.StatusOK, tokenResponse(token))
}

func (s *AuthorizationServer) handleTokenRefresh(c echo.Context) error {
	refreshToken := c.FormValue("refresh_token")
	if refreshToken == "" {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "refresh_token is required")
	}

	token, err := s.engine.RefreshToken(c.Request().Context(), refreshToken, AccessTokenLifetime)
	if err != nil {
		return tokenEngineError(c, err)
	}

	return c.JSON(http.StatusOK, tokenResponse(token))
}

// tokenResponse builds the standard OAuth 2.0 token body augmented with the
// SMART `patient` launch-context field.
func tokenResponse(t *oauth.Token) map[string]interface{} {
	return map[string]interface{}{
		"token_type":    t.TokenType,
		"access_token":  t.AccessToken,
		"refresh_token": t.RefreshToken,
		"expires_in":    int64(time.Until(t.Expires).Seconds()),
		"scope":         strings.Join(t.Scopes, " "),
		"patient":       t.PatientID,
	}
}

// tokenEngineError maps an OAuthEngine error to the standard OAuth error
// response shape.
func tokenEngineError(c echo.Context, err error) error {
	switch err.(type) {
	case *oauth.GrantNotFoundError:
		return errorJSON(c, http.StatusBadRequest, "invalid_grant", "")
	case *oauth.ApprovalExpiredError:
		return errorJSON(c, http.StatusBadRequest, "invalid_grant", "approval window expired")
	default:
		return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
	}
}

// handleAuthorizePrompt handles GET /oauth/authorize: it validates the
// request and returns a JSON consent-prompt payload in place of an
// HTML login/consent page, which this proxy does not render.
func (s *AuthorizationServer) handleAuthorizePrompt(c echo.Context) error {
	redirectURI := c.QueryParam("redirect_uri")
	scope := c.QueryParam("scope")
	state := c.QueryParam("state")
	clientID := c.QueryParam("client_id")

	if redirectURI == "" || scope == "" || state == "" {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "redirect_uri, scope, and state are required")
	}

	client, err := s.registry.Lookup(c.Request().Context(), clientID)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	if client == nil || !client.HasRedirectURI(redirectURI) {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "unknown client_id or redirect_uri")
	}

	user, ok := s.sessions.CurrentUser(c)
	if !ok {
		return errorJSON(c, http.StatusUnauthorized, "login_required", "no authenticated session")
	}

	patientID := c.QueryParam("patient_id")
	if patientID == "" {
		patientID, err = oauth.DefaultPatientID(c.Request().Context(), s.store, user.ID)
		if err != nil {
			return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
		}
	}
	if patientID == "" {
		patients, err := s.store.ListPatientsForUser(c.Request().Context(), user.ID)
		if err != nil {
			return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"requires_patient_selection": true,
			"client_id":                  client.ClientID,
			"client_name":                client.Name,
			"scope":                      scope,
			"redirect_uri":               redirectURI,
			"state":                      state,
			"patients":                   patients,
		})
	}

	patient, err := s.store.FindPatientByPatientID(c.Request().Context(), patientID)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	if patient == nil || patient.OwnerUserID != user.ID {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "patient_id does not belong to the authenticated user")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"client_id":     client.ClientID,
		"client_name":   client.Name,
		"scope":         scope,
		"redirect_uri":  redirectURI,
		"state":         state,
		"patient_id":    patient.PatientID,
		"abort_url":     redirectURI + withQuerySeparator(redirectURI) + "error=access_denied",
		"security_labels": client.SecurityLabels,
	})
}

// handleAuthorizeDecision handles POST /oauth/authorize: the outcome of the
// consent prompt above. approve=true creates the authorization and grant and
// redirects with a code; otherwise redirects with error=access_denied.
func (s *AuthorizationServer) handleAuthorizeDecision(c echo.Context) error {
	clientID := c.FormValue("client_id")
	redirectURI := c.FormValue("redirect_uri")
	scope := c.FormValue("scope")
	state := c.FormValue("state")
	patientID := c.FormValue("patient_id")
	approved := c.FormValue("approve") == "true" || c.FormValue("approve") == "1"

	if redirectURI == "" {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "redirect_uri is required")
	}

	if !approved {
		return c.Redirect(http.StatusFound, redirectURI+withQuerySeparator(redirectURI)+"error=access_denied&state="+url.QueryEscape(state))
	}

	user, ok := s.sessions.CurrentUser(c)
	if !ok {
		return errorJSON(c, http.StatusUnauthorized, "login_required", "no authenticated session")
	}

	client, err := s.registry.Lookup(c.Request().Context(), clientID)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	if client == nil || !client.HasRedirectURI(redirectURI) {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "unknown client_id or redirect_uri")
	}

	approvalExpires := s.clock.Now().Add(DefaultApprovalWindow)
	if _, err := s.engine.CreateAuthorization(c.Request().Context(), clientID, user, approvalExpires, client.SecurityLabels, patientID); err != nil {
		return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	code := newGrantCode()
	scopes := strings.Fields(scope)
	if _, err := s.engine.CreateGrant(c.Request().Context(), clientID, user, code, redirectURI, scopes); err != nil {
		return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	dest, err := url.Parse(redirectURI)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid_request", "malformed redirect_uri")
	}
	q := dest.Query()
	q.Set("code", code)
	q.Set("state", state)
	dest.RawQuery = q.Encode()

	return c.Redirect(http.StatusFound, dest.String())
}

func withQuerySeparator(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.RawQuery != "" {
		return "&"
	}
	return "?"
}

// newGrantCode mints a fresh authorization-code value. Grant codes share the
// same UUID identifier space as every other token/client id in this proxy.
func newGrantCode() string {
	return oauth.UUIDIdentifier{}.New()
}

// handleErrors handles GET /oauth/errors: the OAuth error landing page,
// echoing the query string back as JSON in place of the out-of-scope HTML
// error template.
func (s *AuthorizationServer) handleErrors(c echo.Context) error {
	out := map[string]string{}
	for k, v := range c.QueryParams() {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return c.JSON(http.StatusOK, out)
}

// handleDebugToken handles POST /oauth/debug/token, gated by
// cfg.DebugEndpointsEnabled.
func (s *AuthorizationServer) handleDebugToken(c echo.Context) error {
	req := oauth.DebugTokenRequest{
		ClientID:        c.FormValue("client_id"),
		AccessLifetime:  c.FormValue("access_lifetime"),
		ApprovalExpires: c.FormValue("approval_expires"),
		Scope:           c.FormValue("scope"),
		Username:        c.FormValue("username"),
		PatientID:       c.FormValue("patient_id"),
	}

	t, err := s.engine.CreateDebugToken(c.Request().Context(), req)
	if err != nil {
		switch err.(type) {
		case *oauth.NoUserError, *oauth.NoClientError, *oauth.NoPatientError,
			*oauth.NoPatientForUserError, *oauth.MalformedLifetimeError, *oauth.MalformedExpirationError:
			return errorJSON(c, http.StatusBadRequest, err.Error(), "")
		default:
			return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
		}
	}

	return c.JSON(http.StatusCreated, tokenResponse(t))
}

// handleDebugIntrospect handles GET /oauth/debug/introspect/:token, gated by
// cfg.DebugEndpointsEnabled.
func (s *AuthorizationServer) handleDebugIntrospect(c echo.Context) error {
	t, err := s.engine.Introspect(c.Request().Context(), c.Param("token"))
	if err != nil {
		if _, ok := err.(*oauth.NoTokenError); ok {
			return errorJSON(c, http.StatusBadRequest, "no_token", "")
		}
		return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	interest, err := s.engine.Interest(c.Request().Context(), t)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	return c.JSON(http.StatusOK, interest)
}
