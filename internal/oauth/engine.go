package oauth

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// OAuthEngine implements grant issuance, token exchange/refresh, the
// approval-window lifecycle, and SMART credential augmentation.
type OAuthEngine struct {
	store Store
	ids   Identifier
	clock Clock
}

// NewOAuthEngine constructs an OAuthEngine backed by store.
func NewOAuthEngine(store Store, ids Identifier, clock Clock) *OAuthEngine {
	return &OAuthEngine{store: store, ids: ids, clock: clock}
}

// CreateGrant issues a fresh, single-use authorization code for an
// authenticated user. Precondition: the caller has already authenticated
// user via PasswordHasher (or an equivalent session check).
func (e *OAuthEngine) CreateGrant(ctx context.Context, clientID string, user *User, code, redirectURI string, scopes []string) (*Grant, error) {
	now := e.clock.Now()
	g := &Grant{
		ID:          e.ids.New(),
		ClientID:    clientID,
		UserID:      user.ID,
		Code:        code,
		RedirectURI: redirectURI,
		Scopes:      scopes,
		Expires:     now.Add(GrantLifetime),
	}
	if err := e.store.SaveGrant(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// LoadGrant returns the grant for (clientID, code), or nil if it does not
// exist or has already expired.
func (e *OAuthEngine) LoadGrant(ctx context.Context, clientID, code string) (*Grant, error) {
	return e.store.FindGrant(ctx, clientID, code, e.clock.Now())
}

// IssueToken exchanges an authorization code for a bearer token, copying
// forward the approval window, security labels, and patient binding from the
// unexpired (client, user) token with the latest approval_expires.
func (e *OAuthEngine) IssueToken(ctx context.Context, clientID, code string, accessLifetime time.Duration) (*Token, error) {
	var issued *Token

	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		now := e.clock.Now()

		grant, err := e.store.FindGrant(ctx, clientID, code, now)
		if err != nil {
			return err
		}
		if grant == nil {
			return &GrantNotFoundError{}
		}

		candidates, err := e.store.BasisTokens(ctx, clientID, grant.UserID, now)
		if err != nil {
			return err
		}

		t, err := e.issueFromBasis(ctx, clientID, grant.UserID, candidates, grant.Scopes, now, accessLifetime)
		if err != nil {
			return err
		}

		if err := e.store.DeleteGrant(ctx, grant.ID); err != nil {
			return err
		}

		issued = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// RefreshToken exchanges a refresh_token for a new bearer token. Fails with
// ApprovalExpiredError if the basis token's approval window has elapsed.
func (e *OAuthEngine) RefreshToken(ctx context.Context, refreshToken string, accessLifetime time.Duration) (*Token, error) {
	var issued *Token

	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		now := e.clock.Now()

		basis, err := e.store.FindTokenByRefreshToken(ctx, refreshToken)
		if err != nil {
			return err
		}
		if basis == nil {
			return &GrantNotFoundError{}
		}
		if basis.ApprovalExpires.Before(now) {
			return &ApprovalExpiredError{}
		}

		candidates, err := e.store.BasisTokens(ctx, basis.ClientID, basis.UserID, now)
		if err != nil {
			return err
		}

		t, err := e.issueFromBasis(ctx, basis.ClientID, basis.UserID, candidates, basis.Scopes, now, accessLifetime)
		if err != nil {
			return err
		}

		issued = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// issueFromBasis performs the shared "find basis, delete siblings, insert
// new" step used by both IssueToken and RefreshToken. candidates must
// already be filtered to approval_expires >= now and ordered ascending by
// approval_expires; the last element is the basis.
func (e *OAuthEngine) issueFromBasis(ctx context.Context, clientID string, userID int64, candidates []*Token, scopes []string, now time.Time, accessLifetime time.Duration) (*Token, error) {
	var basis *Token
	if len(candidates) > 0 {
		basis = candidates[len(candidates)-1]
	}

	t := &Token{
		ID:          e.ids.New(),
		ClientID:    clientID,
		UserID:      userID,
		TokenType:   "bearer",
		AccessToken: e.ids.New(),
		RefreshToken: e.ids.New(),
		Scopes:      scopes,
		Expires:     now.Add(accessLifetime),
		CreatedAt:   now,
	}
	if basis != nil {
		t.PatientID = basis.PatientID
		t.SecurityLabels = basis.SecurityLabels
		t.ApprovalExpires = basis.ApprovalExpires
	} else {
		t.ApprovalExpires = now.Add(accessLifetime)
	}

	if len(candidates) > 0 {
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		if err := e.store.DeleteTokens(ctx, ids); err != nil {
			return nil, err
		}
	}

	if err := e.store.SaveToken(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// CreateAuthorization records consent for clientID without issuing an
// access/refresh token yet; it is invoked from the consent POST, before the
// client performs its token exchange. Deletes every existing token for
// clientID first.
func (e *OAuthEngine) CreateAuthorization(ctx context.Context, clientID string, user *User, approvalExpires time.Time, securityLabels []string, patientID string) (*Token, error) {
	return e.createAuthorization(ctx, clientID, user, approvalExpires, securityLabels, patientID)
}

func (e *OAuthEngine) createAuthorization(ctx context.Context, clientID string, user *User, approvalExpires time.Time, securityLabels []string, patientID string) (*Token, error) {
	var t *Token
	err := e.store.Atomic(ctx, func(ctx context.Context) error {
		if err := e.store.DeleteTokensForClient(ctx, clientID); err != nil {
			return err
		}
		t = &Token{
			ID:              e.ids.New(),
			ClientID:        clientID,
			UserID:          user.ID,
			PatientID:       patientID,
			SecurityLabels:  securityLabels,
			ApprovalExpires: approvalExpires,
			CreatedAt:       e.clock.Now(),
		}
		return e.store.SaveToken(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// RevokeToken deletes a token record outright.
func (e *OAuthEngine) RevokeToken(ctx context.Context, tokenID string) error {
	return e.store.DeleteToken(ctx, tokenID)
}

// AuthorizationsFor returns every token (issued or preauthorized) belonging
// to user.
func (e *OAuthEngine) AuthorizationsFor(ctx context.Context, userID int64) ([]*Token, error) {
	return e.store.ListTokensForUser(ctx, userID)
}

// AuditClient returns every token currently stored for clientID, issued or
// preauthorized; tokens superseded by a later issuance have been deleted.
func (e *OAuthEngine) AuditClient(ctx context.Context, clientID string) ([]*Token, error) {
	return e.store.ListTokensForClient(ctx, clientID)
}

// VerifyToken resolves a bearer access token to its Token record, or nil if
// unknown. Expiry is enforced by the caller, which compares Token.Expires
// against the current instant -- an access token remains valid until
// Expires even after ApprovalExpires has passed.
func (e *OAuthEngine) VerifyToken(ctx context.Context, accessToken string) (*Token, error) {
	return e.store.FindTokenByAccessToken(ctx, accessToken)
}

// DebugTokenRequest is the input shape accepted by CreateDebugToken.
type DebugTokenRequest struct {
	ClientID        string
	AccessLifetime  string
	ApprovalExpires string
	Scope           string
	Username        string
	PatientID       string
}

// CreateDebugToken mints a token directly, bypassing the grant/consent flow.
// It is gated by a privileged/admin-only route and disabled by default.
func (e *OAuthEngine) CreateDebugToken(ctx context.Context, req DebugTokenRequest) (*Token, error) {
	user, err := e.store.FindUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, &NoUserError{}
	}

	client, err := e.store.FindClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, &NoClientError{}
	}

	var patient *Patient
	if req.PatientID != "" {
		patient, err = e.store.FindPatientByPatientID(ctx, req.PatientID)
		if err != nil {
			return nil, err
		}
		if patient == nil {
			return nil, &NoPatientError{}
		}
		if patient.OwnerUserID != user.ID {
			return nil, &NoPatientForUserError{}
		}
	}

	lifetimeSeconds, err := strconv.ParseInt(req.AccessLifetime, 10, 64)
	if err != nil || lifetimeSeconds < 0 {
		return nil, &MalformedLifetimeError{}
	}

	approvalUnix, err := strconv.ParseInt(req.ApprovalExpires, 10, 64)
	if err != nil {
		return nil, &MalformedExpirationError{}
	}

	now := e.clock.Now()
	t := &Token{
		ID:              e.ids.New(),
		ClientID:        client.ClientID,
		UserID:          user.ID,
		TokenType:       "bearer",
		AccessToken:     e.ids.New(),
		RefreshToken:    e.ids.New(),
		Scopes:          strings.Fields(req.Scope),
		SecurityLabels:  client.SecurityLabels,
		Expires:         now.Add(time.Duration(lifetimeSeconds) * time.Second),
		ApprovalExpires: time.Unix(approvalUnix, 0).UTC(),
		CreatedAt:       now,
	}
	if patient != nil {
		t.PatientID = patient.PatientID
	}

	if err := e.store.SaveToken(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Introspect returns the token matching access or refresh token value,
// treating either as a valid lookup key.
func (e *OAuthEngine) Introspect(ctx context.Context, token string) (*Token, error) {
	t, err := e.store.FindTokenByAccessToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if t != nil {
		return t, nil
	}
	t, err = e.store.FindTokenByRefreshToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, &NoTokenError{}
	}
	return t, nil
}

// Interest converts a Token into its client-facing inspection view, resolving
// the owning user's username.
func (e *OAuthEngine) Interest(ctx context.Context, t *Token) (*Interest, error) {
	user, err := e.store.FindUserByID(ctx, t.UserID)
	if err != nil {
		return nil, err
	}
	username := ""
	if user != nil {
		username = user.Username
	}
	return &Interest{
		TokenType:       t.TokenType,
		AccessToken:     t.AccessToken,
		RefreshToken:    t.RefreshToken,
		ApprovalExpires: t.ApprovalExpires.Unix(),
		SecurityLabels:  t.SecurityLabels,
		AccessExpires:   t.Expires.Unix(),
		Scope:           strings.Join(t.Scopes, " "),
		ClientID:        t.ClientID,
		Username:        username,
	}, nil
}
