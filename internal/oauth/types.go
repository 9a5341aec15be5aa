// Package oauth implements the SMART-on-FHIR authorization-code engine: client
// registration, grants, bearer/refresh tokens, and approval-window semantics.
package oauth

import "time"

// DefaultSecurityLabels is the fixed set of SMART confidentiality labels a
// newly registered client is seeded with.
var DefaultSecurityLabels = []string{
	"patient", "medications", "allergies", "immunizations",
	"problems", "procedures", "vital-signs", "laboratory", "smoking",
}

// GrantLifetime is how long an authorization code remains exchangeable.
const GrantLifetime = 100 * time.Second

// Client is a registered OAuth client application. Clients are created by
// ClientRegistry.Register and never mutated afterward.
type Client struct {
	ClientID       string
	ClientSecret   string
	Name           string
	RedirectURIs   []string // ordered, non-empty; RedirectURIs[0] is the default
	DefaultScopes  []string
	SecurityLabels []string
	CreatedAt      time.Time
}

// DefaultRedirectURI returns the client's first registered redirect URI.
func (c *Client) DefaultRedirectURI() string {
	if len(c.RedirectURIs) == 0 {
		return ""
	}
	return c.RedirectURIs[0]
}

// HasRedirectURI reports whether uri was registered for this client.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// User is an authenticated end user. Authentication is per-request (via
// PasswordHasher.Verify) and is never itself persisted.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Name         string
}

// Patient is a FHIR patient record owned by a User.
type Patient struct {
	ID         int64
	PatientID  string // FHIR resource identifier
	Name       string
	IsUser     bool
	OwnerUserID int64
}

// Grant is a single-use authorization code.
type Grant struct {
	ID          string
	ClientID    string
	UserID      int64
	Code        string
	RedirectURI string
	Scopes      []string
	Expires     time.Time
}

// Valid reports whether the grant has not yet expired as of now.
func (g *Grant) Valid(now time.Time) bool {
	return g.Expires.After(now) || g.Expires.Equal(now)
}

// Token is a bearer/refresh token pair plus its approval window. A Token
// created by CreateAuthorization carries no access/refresh values; IssueToken
// or RefreshToken replaces it with a new Token that does.
type Token struct {
	ID              string
	ClientID        string
	UserID          int64
	PatientID       string
	TokenType       string // always "bearer" once issued
	AccessToken     string
	RefreshToken    string
	Scopes          []string
	SecurityLabels  []string
	Expires         time.Time // access-token expiry; zero until issued
	ApprovalExpires time.Time
	CreatedAt       time.Time
}

// Interest is the view of a Token returned to clients (the /api/me and
// audit/introspection surfaces). It includes the access and refresh token
// values.
type Interest struct {
	TokenType       string   `json:"token_type"`
	AccessToken     string   `json:"access_token"`
	RefreshToken    string   `json:"refresh_token"`
	ApprovalExpires int64    `json:"approval_expires"`
	SecurityLabels  []string `json:"security_labels"`
	AccessExpires   int64    `json:"access_expires"`
	Scope           string   `json:"scope"`
	ClientID        string   `json:"client_id"`
	Username        string   `json:"username"`
}
