package api

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/sync4science/authproxy/internal/oauth"
)

// fakeStore is a minimal in-memory oauth.Store used only by this package's
// handler tests; internal/oauth has its own richer fake for engine-level
// tests.
type fakeStore struct {
	clients  map[string]*oauth.Client
	grants   map[string]*oauth.Grant
	tokens   map[string]*oauth.Token
	users    map[int64]*oauth.User
	patients map[int64]*oauth.Patient
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clients:  map[string]*oauth.Client{},
		grants:   map[string]*oauth.Grant{},
		tokens:   map[string]*oauth.Token{},
		users:    map[int64]*oauth.User{},
		patients: map[int64]*oauth.Patient{},
	}
}

func (s *fakeStore) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *fakeStore) SaveClient(ctx context.Context, c *oauth.Client) error {
	cp := *c
	s.clients[c.ClientID] = &cp
	return nil
}

func (s *fakeStore) FindClient(ctx context.Context, clientID string) (*oauth.Client, error) {
	c, ok := s.clients[clientID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) SaveGrant(ctx context.Context, g *oauth.Grant) error {
	cp := *g
	s.grants[g.ID] = &cp
	return nil
}

func (s *fakeStore) FindGrant(ctx context.Context, clientID, code string, now time.Time) (*oauth.Grant, error) {
	for _, g := range s.grants {
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

func (s *fakeStore) DeleteGrant(ctx context.Context, id string) error {
	delete(s.grants, id)
	return nil
}

func (s *fakeStore) SaveToken(ctx context.Context, t *oauth.Token) error {
	cp := *t
	s.tokens[t.ID] = &cp
	return nil
}

func (s *fakeStore) FindTokenByAccessToken(ctx context.Context, accessToken string) (*oauth.Token, error) {
	for _, t := range s.tokens {
		if t.AccessToken != "" && t.AccessToken == accessToken {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindTokenByRefreshToken(ctx context.Context, refreshToken string) (*oauth.Token, error) {
	for _, t := range s.tokens {
		if t.RefreshToken != "" && t.RefreshToken == refreshToken {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindTokenByID(ctx context.Context, id string) (*oauth.Token, error) {
	t, ok := s.tokens[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) BasisTokens(ctx context.Context, clientID string, userID int64, now time.Time) ([]*oauth.Token, error) {
	var out []*oauth.Token
	for _, t := range s.tokens {
		if t.ClientID == clientID && t.UserID == userID && !t.ApprovalExpires.Before(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApprovalExpires.Before(out[j].ApprovalExpires) })
	return out, nil
}

func (s *fakeStore) DeleteTokens(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(s.tokens, id)
	}
	return nil
}

func (s *fakeStore) DeleteTokensForClient(ctx context.Context, clientID string) error {
	for id, t := range s.tokens {
		if t.ClientID == clientID {
			delete(s.tokens, id)
		}
	}
	return nil
}

func (s *fakeStore) DeleteToken(ctx context.Context, id string) error {
	delete(s.tokens, id)
	return nil
}

func (s *fakeStore) ListTokensForUser(ctx context.Context, userID int64) ([]*oauth.Token, error) {
	var out []*oauth.Token
	for _, t := range s.tokens {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) ListTokensForClient(ctx context.Context, clientID string) ([]*oauth.Token, error) {
	var out []*oauth.Token
	for _, t := range s.tokens {
		if t.ClientID == clientID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) FindUserByID(ctx context.Context, id int64) (*oauth.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) FindUserByUsername(ctx context.Context, username string) (*oauth.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindPatientByID(ctx context.Context, id int64) (*oauth.Patient, error) {
	p, ok := s.patients[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) FindPatientByPatientID(ctx context.Context, patientID string) (*oauth.Patient, error) {
	for _, p := range s.patients {
		if p.PatientID == patientID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListPatientsForUser(ctx context.Context, userID int64) ([]*oauth.Patient, error) {
	var out []*oauth.Patient
	for _, p := range s.patients {
		if p.OwnerUserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n int }

func (s *seqIDs) New() string {
	s.n++
	return "id-" + strconv.Itoa(s.n)
}
