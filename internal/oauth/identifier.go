package oauth

import (
	"time"

	"github.com/google/uuid"
)

// Identifier generates fresh opaque identifiers for clients, grants, and
// tokens. The default implementation wraps github.com/google/uuid, the same
// generator the rest of the module uses for every other identifier.
type Identifier interface {
	New() string
}

// UUIDIdentifier is the production Identifier.
type UUIDIdentifier struct{}

// New returns a fresh random UUID string.
func (UUIDIdentifier) New() string { return uuid.New().String() }

// Clock supplies the current UTC instant. Store and engine logic always go
// through this seam instead of calling time.Now() directly, so tests can
// inject a fixed or stepped clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now().
type SystemClock struct{}

// Now returns the current instant in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
