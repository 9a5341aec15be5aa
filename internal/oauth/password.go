package oauth

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Algorithm = "pbkdf2:sha512"
	pbkdf2Cost      = 29000
	pbkdf2KeyLen    = 64
	pbkdf2SaltLen   = 16
)

// PasswordHasher hashes and verifies user passwords with PBKDF2-SHA512. The
// stored form embeds the algorithm name, iteration count, and salt so a
// future cost-factor rotation can recognize and re-hash old entries.
type PasswordHasher struct{}

// Hash produces a stored password string of the form
// "pbkdf2:sha512:<cost>:<salt-b64>:<derived-key-b64>".
func (PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, pbkdf2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Cost, pbkdf2KeyLen, sha512.New)
	return fmt.Sprintf("%s:%d:%s:%s",
		pbkdf2Algorithm, pbkdf2Cost,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(derived),
	), nil
}

// Verify reports whether password matches stored, a string previously
// produced by Hash. Comparison of the derived key is constant-time.
func (PasswordHasher) Verify(password, stored string) bool {
	rest, ok := strings.CutPrefix(stored, pbkdf2Algorithm+":")
	if !ok {
		return false
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 3 {
		return false
	}
	cost, err := strconv.Atoi(parts[0])
	if err != nil || cost <= 0 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, cost, len(want), sha512.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
