package oauth

import "testing"

func TestPasswordHasher_HashAndVerifyRoundTrip(t *testing.T) {
	h := PasswordHasher{}
	stored, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !h.Verify("correct horse battery staple", stored) {
		t.Fatal("expected Verify to accept the correct password")
	}
	if h.Verify("wrong password", stored) {
		t.Fatal("expected Verify to reject an incorrect password")
	}
}

func TestPasswordHasher_VerifyRejectsMalformedStoredValue(t *testing.T) {
	h := PasswordHasher{}
	if h.Verify("anything", "not-a-valid-hash") {
		t.Fatal("expected malformed stored value to fail verification")
	}
	if h.Verify("anything", "pbkdf2:sha512:not-a-number:c2FsdA:ZGVyaXZlZA") {
		t.Fatal("expected non-numeric cost to fail verification")
	}
}

func TestPasswordHasher_HashProducesDistinctSaltsPerCall(t *testing.T) {
	h := PasswordHasher{}
	a, err := h.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := h.Hash("same-password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a == b {
		t.Fatal("expected independently hashed passwords to differ by salt")
	}
}
