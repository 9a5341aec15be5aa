// Package pg is the Postgres-backed implementation of oauth.Store.
package pg

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sync4science/authproxy/internal/oauth"
	"github.com/sync4science/authproxy/internal/platform/db"
)

// Store is a PostgreSQL-backed oauth.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, s.pool)
}

// Atomic runs fn inside a SERIALIZABLE transaction, retrying up to 3 times
// with jittered backoff on a serialization conflict.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < 4; attempt++ {
		txCtx, tx, err := db.WithTxOptions(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		err = fn(txCtx)
		if err != nil {
			tx.Rollback(ctx)
			if isSerializationFailure(err) {
				lastErr = err
				time.Sleep(jitteredBackoff(attempt))
				continue
			}
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			if isSerializationFailure(err) {
				lastErr = err
				time.Sleep(jitteredBackoff(attempt))
				continue
			}
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	}
	return fmt.Errorf("transaction conflict after 4 attempts: %w", lastErr)
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" // serialization_failure
	}
	return false
}

func jitteredBackoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond
	return base + time.Duration(rand.Int63n(int64(base)))
}

// --- Clients ---

func (s *Store) SaveClient(ctx context.Context, c *oauth.Client) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO client (client_id, client_secret, name, redirect_uris, default_scopes, security_labels, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ClientID, c.ClientSecret, c.Name,
		joinSpace(c.RedirectURIs), joinSpace(c.DefaultScopes), joinSpace(c.SecurityLabels),
		c.CreatedAt,
	)
	return err
}

const clientColumns = `client_id, client_secret, name, redirect_uris, default_scopes, security_labels, created_at`

func (s *Store) FindClient(ctx context.Context, clientID string) (*oauth.Client, error) {
	row := s.conn(ctx).QueryRow(ctx, `SELECT `+clientColumns+` FROM client WHERE client_id = $1`, clientID)
	return scanClient(row)
}

func scanClient(row pgx.Row) (*oauth.Client, error) {
	var c oauth.Client
	var redirectURIs, defaultScopes, securityLabels string
	err := row.Scan(&c.ClientID, &c.ClientSecret, &c.Name, &redirectURIs, &defaultScopes, &securityLabels, &c.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	c.RedirectURIs = splitSpace(redirectURIs)
	c.DefaultScopes = splitSpace(defaultScopes)
	c.SecurityLabels = splitSpace(securityLabels)
	return &c, nil
}

// --- Grants ---

func (s *Store) SaveGrant(ctx context.Context, g *oauth.Grant) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO grant_code (id, client_id, user_id, code, redirect_uri, scopes, expires)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		g.ID, g.ClientID, g.UserID, g.Code, g.RedirectURI, joinSpace(g.Scopes), g.Expires,
	)
	return err
}

const grantColumns = `id, client_id, user_id, code, redirect_uri, scopes, expires`

func (s *Store) FindGrant(ctx context.Context, clientID, code string, now time.Time) (*oauth.Grant, error) {
	row := s.conn(ctx).QueryRow(ctx, `
		SELECT `+grantColumns+` FROM grant_code
		WHERE client_id = $1 AND code = $2 AND expires >= $3`,
		clientID, code, now,
	)
	var g oauth.Grant
	var scopes string
	err := row.Scan(&g.ID, &g.ClientID, &g.UserID, &g.Code, &g.RedirectURI, &scopes, &g.Expires)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	g.Scopes = splitSpace(scopes)
	return &g, nil
}

func (s *Store) DeleteGrant(ctx context.Context, id string) error {
	_, err := s.conn(ctx).Exec(ctx, `DELETE FROM grant_code WHERE id = $1`, id)
	return err
}

// --- Tokens ---

const tokenColumns = `id, client_id, user_id, patient_id, token_type, access_token, refresh_token,
	scopes, security_labels, expires, approval_expires, created_at`

func (s *Store) SaveToken(ctx context.Context, t *oauth.Token) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO token (`+tokenColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		t.ID, t.ClientID, t.UserID, t.PatientID, t.TokenType, t.AccessToken, t.RefreshToken,
		joinSpace(t.Scopes), joinSpace(t.SecurityLabels), nullableTime(t.Expires), t.ApprovalExpires, t.CreatedAt,
	)
	return err
}

func scanToken(row pgx.Row) (*oauth.Token, error) {
	var t oauth.Token
	var scopes, securityLabels string
	var expires *time.Time
	err := row.Scan(&t.ID, &t.ClientID, &t.UserID, &t.PatientID, &t.TokenType, &t.AccessToken, &t.RefreshToken,
		&scopes, &securityLabels, &expires, &t.ApprovalExpires, &t.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if expires != nil {
		t.Expires = *expires
	}
	t.Scopes = splitSpace(scopes)
	t.SecurityLabels = splitSpace(securityLabels)
	return &t, nil
}

func scanTokenRow(rows pgx.Rows) (*oauth.Token, error) {
	var t oauth.Token
	var scopes, securityLabels string
	var expires *time.Time
	err := rows.Scan(&t.ID, &t.ClientID, &t.UserID, &t.PatientID, &t.TokenType, &t.AccessToken, &t.RefreshToken,
		&scopes, &securityLabels, &expires, &t.ApprovalExpires, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if expires != nil {
		t.Expires = *expires
	}
	t.Scopes = splitSpace(scopes)
	t.SecurityLabels = splitSpace(securityLabels)
	return &t, nil
}

func (s *Store) FindTokenByAccessToken(ctx context.Context, accessToken string) (*oauth.Token, error) {
	if accessToken == "" {
		return nil, nil
	}
	row := s.conn(ctx).QueryRow(ctx, `SELECT `+tokenColumns+` FROM token WHERE access_token = $1`, accessToken)
	return scanToken(row)
}

func (s *Store) FindTokenByRefreshToken(ctx context.Context, refreshToken string) (*oauth.Token, error) {
	if refreshToken == "" {
		return nil, nil
	}
	row := s.conn(ctx).QueryRow(ctx, `SELECT `+tokenColumns+` FROM token WHERE refresh_token = $1`, refreshToken)
	return scanToken(row)
}

func (s *Store) FindTokenByID(ctx context.Context, id string) (*oauth.Token, error) {
	row := s.conn(ctx).QueryRow(ctx, `SELECT `+tokenColumns+` FROM token WHERE id = $1`, id)
	return scanToken(row)
}

func (s *Store) BasisTokens(ctx context.Context, clientID string, userID int64, now time.Time) ([]*oauth.Token, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+tokenColumns+` FROM token
		WHERE client_id = $1 AND user_id = $2 AND approval_expires >= $3
		ORDER BY approval_expires ASC`,
		clientID, userID, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*oauth.Token
	for rows.Next() {
		t, err := scanTokenRow(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *Store) DeleteTokens(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.conn(ctx).Exec(ctx, `DELETE FROM token WHERE id = ANY($1)`, ids)
	return err
}

func (s *Store) DeleteTokensForClient(ctx context.Context, clientID string) error {
	_, err := s.conn(ctx).Exec(ctx, `DELETE FROM token WHERE client_id = $1`, clientID)
	return err
}

func (s *Store) DeleteToken(ctx context.Context, id string) error {
	_, err := s.conn(ctx).Exec(ctx, `DELETE FROM token WHERE id = $1`, id)
	return err
}

func (s *Store) ListTokensForUser(ctx context.Context, userID int64) ([]*oauth.Token, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+tokenColumns+` FROM token WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*oauth.Token
	for rows.Next() {
		t, err := scanTokenRow(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *Store) ListTokensForClient(ctx context.Context, clientID string) ([]*oauth.Token, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT `+tokenColumns+` FROM token WHERE client_id = $1`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*oauth.Token
	for rows.Next() {
		t, err := scanTokenRow(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// --- Users and patients ---

func (s *Store) FindUserByID(ctx context.Context, id int64) (*oauth.User, error) {
	row := s.conn(ctx).QueryRow(ctx, `SELECT id, username, password_hash, name FROM "user" WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*oauth.User, error) {
	row := s.conn(ctx).QueryRow(ctx, `SELECT id, username, password_hash, name FROM "user" WHERE username = $1`, username)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*oauth.User, error) {
	var u oauth.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Name)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) FindPatientByID(ctx context.Context, id int64) (*oauth.Patient, error) {
	row := s.conn(ctx).QueryRow(ctx, `SELECT id, patient_id, name, is_user, user_id FROM patient WHERE id = $1`, id)
	return scanPatient(row)
}

func (s *Store) FindPatientByPatientID(ctx context.Context, patientID string) (*oauth.Patient, error) {
	row := s.conn(ctx).QueryRow(ctx, `SELECT id, patient_id, name, is_user, user_id FROM patient WHERE patient_id = $1`, patientID)
	return scanPatient(row)
}

func scanPatient(row pgx.Row) (*oauth.Patient, error) {
	var p oauth.Patient
	err := row.Scan(&p.ID, &p.PatientID, &p.Name, &p.IsUser, &p.OwnerUserID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPatientsForUser(ctx context.Context, userID int64) ([]*oauth.Patient, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT id, patient_id, name, is_user, user_id FROM patient WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []*oauth.Patient
	for rows.Next() {
		var p oauth.Patient
		if err := rows.Scan(&p.ID, &p.PatientID, &p.Name, &p.IsUser, &p.OwnerUserID); err != nil {
			return nil, err
		}
		patients = append(patients, &p)
	}
	return patients, rows.Err()
}

// --- helpers ---

func joinSpace(values []string) string {
	return strings.Join(values, " ")
}

func splitSpace(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return strings.Fields(value)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
