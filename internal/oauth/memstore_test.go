package oauth

import (
	"context"
	"sort"
	"strconv"
	"time"
)

// memStore is an in-memory oauth.Store used across this package's tests. It
// intentionally implements Atomic without real isolation, since single
// goroutine tests never race with themselves.
type memStore struct {
	clients  map[string]*Client
	grants   map[string]*Grant
	tokens   map[string]*Token
	users    map[int64]*User
	patients map[int64]*Patient
}

func newMemStore() *memStore {
	return &memStore{
		clients:  map[string]*Client{},
		grants:   map[string]*Grant{},
		tokens:   map[string]*Token{},
		users:    map[int64]*User{},
		patients: map[int64]*Patient{},
	}
}

func (m *memStore) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *memStore) SaveClient(ctx context.Context, c *Client) error {
	cp := *c
	m.clients[c.ClientID] = &cp
	return nil
}

func (m *memStore) FindClient(ctx context.Context, clientID string) (*Client, error) {
	c, ok := m.clients[clientID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) SaveGrant(ctx context.Context, g *Grant) error {
	cp := *g
	m.grants[g.ID] = &cp
	return nil
}

func (m *memStore) FindGrant(ctx context.Context, clientID, code string, now time.Time) (*Grant, error) {
	for _, g := range m.grants {
		if g.ClientID == clientID && g.Code == code {
			if !g.Valid(now) {
				return nil, nil
			}
			cp := *g
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) DeleteGrant(ctx context.Context, id string) error {
	delete(m.grants, id)
	return nil
}

func (m *memStore) SaveToken(ctx context.Context, t *Token) error {
	cp := *t
	m.tokens[t.ID] = &cp
	return nil
}

func (m *memStore) FindTokenByAccessToken(ctx context.Context, accessToken string) (*Token, error) {
	for _, t := range m.tokens {
		if t.AccessToken != "" && t.AccessToken == accessToken {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindTokenByRefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	for _, t := range m.tokens {
		if t.RefreshToken != "" && t.RefreshToken == refreshToken {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindTokenByID(ctx context.Context, id string) (*Token, error) {
	t, ok := m.tokens[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) BasisTokens(ctx context.Context, clientID string, userID int64, now time.Time) ([]*Token, error) {
	var out []*Token
	for _, t := range m.tokens {
		if t.ClientID == clientID && t.UserID == userID && !t.ApprovalExpires.Before(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApprovalExpires.Before(out[j].ApprovalExpires) })
	return out, nil
}

func (m *memStore) DeleteTokens(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(m.tokens, id)
	}
	return nil
}

func (m *memStore) DeleteTokensForClient(ctx context.Context, clientID string) error {
	for id, t := range m.tokens {
		if t.ClientID == clientID {
			delete(m.tokens, id)
		}
	}
	return nil
}

func (m *memStore) DeleteToken(ctx context.Context, id string) error {
	delete(m.tokens, id)
	return nil
}

func (m *memStore) ListTokensForUser(ctx context.Context, userID int64) ([]*Token, error) {
	var out []*Token
	for _, t := range m.tokens {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListTokensForClient(ctx context.Context, clientID string) ([]*Token, error) {
	var out []*Token
	for _, t := range m.tokens {
		if t.ClientID == clientID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) FindUserByID(ctx context.Context, id int64) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindPatientByID(ctx context.Context, id int64) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) FindPatientByPatientID(ctx context.Context, patientID string) (*Patient, error) {
	for _, p := range m.patients {
		if p.PatientID == patientID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListPatientsForUser(ctx context.Context, userID int64) ([]*Patient, error) {
	var out []*Patient
	for _, p := range m.patients {
		if p.OwnerUserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeClock is a Clock stub returning a fixed instant, advanceable by tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// seqIdentifier is an Identifier stub returning predictable incrementing ids.
type seqIdentifier struct {
	n int
}

func (s *seqIdentifier) New() string {
	s.n++
	return "id-" + strconv.Itoa(s.n)
}
