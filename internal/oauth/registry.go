package oauth

import (
	"context"
	"net/url"
	"strings"
)

// ClientRegistry implements the RFC 7591 subset of dynamic client
// registration this proxy supports: a client supplies redirect URIs and a
// requested scope, and receives back a fresh client_id/client_secret pair.
type ClientRegistry struct {
	store Store
	ids   Identifier
	clock Clock
}

// NewClientRegistry constructs a ClientRegistry backed by store.
func NewClientRegistry(store Store, ids Identifier, clock Clock) *ClientRegistry {
	return &ClientRegistry{store: store, ids: ids, clock: clock}
}

// Registration is the response shape returned by Register.
type Registration struct {
	ClientID              string   `json:"client_id"`
	ClientSecret          string   `json:"client_secret"`
	ClientSecretExpiresAt int64    `json:"client_secret_expires_at"`
	ClientName            string   `json:"client_name"`
	RedirectURIs          []string `json:"redirect_uris"`
	Scope                 string   `json:"scope"`
}

// Register validates and persists a new Client, seeding it with the fixed
// SMART security-label set.
func (r *ClientRegistry) Register(ctx context.Context, redirectURIs []string, scope, clientName string) (*Registration, error) {
	if len(redirectURIs) == 0 {
		return nil, &InvalidClientMetadataError{Description: "redirect_uris must not be empty"}
	}
	for _, uri := range redirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return nil, err
		}
	}

	clientID := r.ids.New()
	if clientName == "" {
		clientName = clientID
	}

	scopes := splitScope(scope)

	c := &Client{
		ClientID:       clientID,
		ClientSecret:   r.ids.New(),
		Name:           clientName,
		RedirectURIs:   redirectURIs,
		DefaultScopes:  scopes,
		SecurityLabels: append([]string(nil), DefaultSecurityLabels...),
		CreatedAt:      r.clock.Now(),
	}
	if err := r.store.SaveClient(ctx, c); err != nil {
		return nil, err
	}

	return &Registration{
		ClientID:              c.ClientID,
		ClientSecret:          c.ClientSecret,
		ClientSecretExpiresAt: 0,
		ClientName:            c.Name,
		RedirectURIs:          c.RedirectURIs,
		Scope:                 joinScope(c.DefaultScopes),
	}, nil
}

// Lookup returns the Client for clientID, or nil if none is registered.
func (r *ClientRegistry) Lookup(ctx context.Context, clientID string) (*Client, error) {
	return r.store.FindClient(ctx, clientID)
}

// validateRedirectURI fails with InvalidRedirectURIError if uri has no
// scheme or carries a fragment.
func validateRedirectURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return &InvalidRedirectURIError{URI: uri}
	}
	if u.Fragment != "" || strings.Contains(uri, "#") {
		return &InvalidRedirectURIError{URI: uri}
	}
	return nil
}

func splitScope(scope string) []string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}

func joinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}
