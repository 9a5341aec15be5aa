package oauth

import (
	"context"
	"testing"
	"time"
)

func newTestEngine() (*OAuthEngine, *memStore, *fakeClock) {
	store := newMemStore()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	engine := NewOAuthEngine(store, &seqIdentifier{}, clock)
	return engine, store, clock
}

func seedUserAndClient(store *memStore) *User {
	user := &User{ID: 1, Username: "alice", PasswordHash: "irrelevant"}
	store.users[user.ID] = user
	store.clients["acme"] = &Client{ClientID: "acme", SecurityLabels: []string{"medications"}}
	return user
}

func TestIssueToken_FromGrantWithNoPriorBasis(t *testing.T) {
	engine, store, clock := newTestEngine()
	user := seedUserAndClient(store)

	grant, err := engine.CreateGrant(context.Background(), "acme", user, "code-1", "https://acme/cb", []string{"patient/*.read"})
	if err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	token, err := engine.IssueToken(context.Background(), "acme", grant.Code, 3600*time.Second)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	if token.AccessToken == "" || token.RefreshToken == "" {
		t.Fatal("expected issued token to carry fresh access/refresh values")
	}
	if !token.ApprovalExpires.After(clock.now) && !token.ApprovalExpires.Equal(clock.now) {
		t.Fatal("invariant 1 violated: approval_expires must be >= expires/created_at lineage")
	}
	if !token.Expires.After(token.CreatedAt) {
		t.Fatal("invariant 1 violated: expires must be after created_at")
	}

	if _, err := store.FindGrant(context.Background(), "acme", grant.Code, clock.now); err != nil {
		t.Fatalf("FindGrant: %v", err)
	}
	if g, _ := store.FindGrant(context.Background(), "acme", grant.Code, clock.now); g != nil {
		t.Fatal("invariant 2 violated: grant must be deleted once consumed")
	}
}

func TestIssueToken_PreservesBasisPatientAndApprovalWindow(t *testing.T) {
	// S5: pre-existing preauthorized token carries patient_id/approval_expires
	// forward into the freshly issued token, and is itself removed.
	engine, store, clock := newTestEngine()
	user := seedUserAndClient(store)

	approvalExpires := clock.now.Add(365 * 24 * time.Hour)
	basis, err := engine.CreateAuthorization(context.Background(), "acme", user, approvalExpires, []string{"medications"}, "smart-1")
	if err != nil {
		t.Fatalf("CreateAuthorization: %v", err)
	}

	grant, err := engine.CreateGrant(context.Background(), "acme", user, "code-1", "https://acme/cb", []string{"patient/*.read"})
	if err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	issued, err := engine.IssueToken(context.Background(), "acme", grant.Code, 3600*time.Second)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	if issued.PatientID != "smart-1" {
		t.Errorf("expected patient_id smart-1 carried forward, got %q", issued.PatientID)
	}
	if !issued.ApprovalExpires.Equal(approvalExpires) {
		t.Errorf("expected approval_expires preserved, got %v want %v", issued.ApprovalExpires, approvalExpires)
	}

	if basisStill, _ := store.FindTokenByID(context.Background(), basis.ID); basisStill != nil {
		t.Fatal("invariant 3 violated: old basis token must be deleted once superseded")
	}

	all, _ := store.ListTokensForClient(context.Background(), "acme")
	live := 0
	for _, tok := range all {
		if !tok.ApprovalExpires.Before(clock.now) {
			live++
		}
	}
	if live != 1 {
		t.Fatalf("invariant 3 violated: expected exactly one live token, got %d", live)
	}
}

func TestRefreshToken_FailsAfterApprovalWindowExpires(t *testing.T) {
	engine, store, clock := newTestEngine()
	user := seedUserAndClient(store)

	approvalExpires := clock.now.Add(-time.Minute) // already expired
	issued := &Token{
		ID:              "basis",
		ClientID:        "acme",
		UserID:          user.ID,
		TokenType:       "bearer",
		AccessToken:     "at-1",
		RefreshToken:    "rt-1",
		Expires:         clock.now.Add(time.Hour), // access token itself still unexpired
		ApprovalExpires: approvalExpires,
		CreatedAt:       clock.now.Add(-2 * time.Hour),
	}
	store.SaveToken(context.Background(), issued)

	if _, err := engine.RefreshToken(context.Background(), "rt-1", time.Hour); err == nil {
		t.Fatal("expected ApprovalExpiredError")
	} else if _, ok := err.(*ApprovalExpiredError); !ok {
		t.Fatalf("expected *ApprovalExpiredError, got %T: %v", err, err)
	}

	// The access token itself remains valid until its own Expires, even
	// though the approval window has elapsed.
	found, err := engine.VerifyToken(context.Background(), "at-1")
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if found == nil {
		t.Fatal("expected already-issued access token to remain resolvable")
	}
}

func TestLoadGrant_ExpiredGrantIsAbsent(t *testing.T) {
	engine, store, clock := newTestEngine()
	user := seedUserAndClient(store)

	grant, err := engine.CreateGrant(context.Background(), "acme", user, "code-1", "https://acme/cb", nil)
	if err != nil {
		t.Fatalf("CreateGrant: %v", err)
	}

	clock.now = grant.Expires.Add(time.Second)

	got, err := engine.LoadGrant(context.Background(), "acme", grant.Code)
	if err != nil {
		t.Fatalf("LoadGrant: %v", err)
	}
	if got != nil {
		t.Fatal("invariant 2 violated: expired grant must not be loadable")
	}
}

func TestInterest_ResolvesOwningUsername(t *testing.T) {
	engine, store, clock := newTestEngine()
	user := seedUserAndClient(store)

	token := &Token{
		ID: "t1", ClientID: "acme", UserID: user.ID, TokenType: "bearer",
		AccessToken: "at", RefreshToken: "rt", Scopes: []string{"patient/*.read"},
		SecurityLabels: []string{"medications"}, PatientID: "smart-1",
		Expires: clock.now.Add(time.Hour), ApprovalExpires: clock.now.Add(time.Hour), CreatedAt: clock.now,
	}
	store.SaveToken(context.Background(), token)

	interest, err := engine.Interest(context.Background(), token)
	if err != nil {
		t.Fatalf("Interest: %v", err)
	}
	if interest.Username != "alice" {
		t.Errorf("expected username alice, got %q", interest.Username)
	}
	if interest.Scope != "patient/*.read" {
		t.Errorf("expected joined scope, got %q", interest.Scope)
	}
}
