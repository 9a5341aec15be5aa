package oauth

import (
	"context"
	"time"
)

// Store is the abstract persistence boundary for every OAuth record. All
// methods are safe to call inside a caller-managed transaction (see
// internal/platform/db.WithTx) or standalone against the pool; concrete
// implementations resolve the connection to use from ctx.
type Store interface {
	// Atomic runs fn with SERIALIZABLE isolation (or an equivalent
	// compare-and-set scheme): fn sees ctx carrying the transaction, and
	// every Store call fn makes through that ctx participates in the same
	// unit of work. Used by OAuthEngine to make "find basis, delete
	// siblings, insert new" a single atomic step.
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error

	// Clients: ClientRegistry.Register is the only writer; writes are
	// effectively append-only (a Client is never mutated after creation,
	// deleted only by an admin path this proxy does not expose).
	SaveClient(ctx context.Context, c *Client) error
	FindClient(ctx context.Context, clientID string) (*Client, error)

	// Grants.
	SaveGrant(ctx context.Context, g *Grant) error
	// FindGrant returns the grant for (clientID, code) only if it has not
	// expired as of now; an expired grant is treated as absent.
	FindGrant(ctx context.Context, clientID, code string, now time.Time) (*Grant, error)
	DeleteGrant(ctx context.Context, id string) error

	// Tokens.
	SaveToken(ctx context.Context, t *Token) error
	FindTokenByAccessToken(ctx context.Context, accessToken string) (*Token, error)
	FindTokenByRefreshToken(ctx context.Context, refreshToken string) (*Token, error)
	FindTokenByID(ctx context.Context, id string) (*Token, error)
	// BasisTokens returns every Token for (clientID, userID) whose
	// approval_expires has not elapsed, ordered ascending by
	// approval_expires -- the last element is the current basis.
	BasisTokens(ctx context.Context, clientID string, userID int64, now time.Time) ([]*Token, error)
	DeleteTokens(ctx context.Context, ids []string) error
	DeleteTokensForClient(ctx context.Context, clientID string) error
	DeleteToken(ctx context.Context, id string) error
	ListTokensForUser(ctx context.Context, userID int64) ([]*Token, error)
	ListTokensForClient(ctx context.Context, clientID string) ([]*Token, error)

	// Users and patients.
	FindUserByID(ctx context.Context, id int64) (*User, error)
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	FindPatientByID(ctx context.Context, id int64) (*Patient, error)
	FindPatientByPatientID(ctx context.Context, patientID string) (*Patient, error)
	ListPatientsForUser(ctx context.Context, userID int64) ([]*Patient, error)
}

// DefaultPatientID returns the id of the single Patient owned by userID, or
// "" if the user owns zero or more than one patient.
func DefaultPatientID(ctx context.Context, store Store, userID int64) (string, error) {
	patients, err := store.ListPatientsForUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(patients) != 1 {
		return "", nil
	}
	return patients[0].PatientID, nil
}
