package oauth

import "fmt"

// ForbiddenPart names which part of a proxied request RequestGuard rejected.
type ForbiddenPart string

const (
	ForbiddenResourceType ForbiddenPart = "resource type"
	ForbiddenParameter    ForbiddenPart = "parameter"
	ForbiddenMethod       ForbiddenPart = "method"
)

// InvalidClientMetadataError is returned by ClientRegistry.Register when the
// supplied metadata cannot form a valid client.
type InvalidClientMetadataError struct {
	Description string
}

func (e *InvalidClientMetadataError) Error() string {
	return fmt.Sprintf("invalid_client_metadata: %s", e.Description)
}

// InvalidRedirectURIError is returned when a redirect URI lacks a scheme or
// carries a fragment.
type InvalidRedirectURIError struct {
	URI string
}

func (e *InvalidRedirectURIError) Error() string {
	return fmt.Sprintf("invalid_redirect_uri: A URI scheme is required: %s", e.URI)
}

// ForbiddenError is raised by RequestGuard. Value is the rejected item and
// Part names whether it is a resource type, a parameter, or a method.
type ForbiddenError struct {
	Value string
	Part  ForbiddenPart
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("Not allowed to query for %q %s.", e.Value, e.Part)
}

// Debug-issuance errors (spec §4.3).
type (
	NoUserError             struct{}
	NoClientError           struct{}
	NoPatientError          struct{}
	NoPatientForUserError   struct{}
	MalformedLifetimeError  struct{}
	MalformedExpirationError struct{}
	NoTokenError            struct{}
)

func (NoUserError) Error() string              { return "no_user" }
func (NoClientError) Error() string             { return "no_client" }
func (NoPatientError) Error() string             { return "no_patient" }
func (NoPatientForUserError) Error() string       { return "no_patient_for_user" }
func (MalformedLifetimeError) Error() string      { return "malformed_lifetime" }
func (MalformedExpirationError) Error() string    { return "malformed_expiration" }
func (NoTokenError) Error() string               { return "no_token" }

// AuthenticationFailureError is raised when login credentials are unknown or
// incorrect.
type AuthenticationFailureError struct{}

func (AuthenticationFailureError) Error() string { return "authentication_failure" }

// GrantNotFoundError is raised when a token exchange references a missing or
// expired authorization code.
type GrantNotFoundError struct{}

func (GrantNotFoundError) Error() string { return "invalid_grant" }

// ApprovalExpiredError is raised when a refresh is attempted against a basis
// token whose approval window has elapsed.
type ApprovalExpiredError struct{}

func (ApprovalExpiredError) Error() string { return "invalid_grant: approval window expired" }

// UpstreamTimeoutError wraps a deadline exceeded while calling the upstream
// FHIR server (ProxyPipeline or ConformanceRewriter).
type UpstreamTimeoutError struct {
	Cause error
}

func (e *UpstreamTimeoutError) Error() string { return fmt.Sprintf("upstream timeout: %v", e.Cause) }
func (e *UpstreamTimeoutError) Unwrap() error  { return e.Cause }

// UpstreamTransportError wraps any other network-level failure reaching the
// upstream FHIR server.
type UpstreamTransportError struct {
	Cause error
}

func (e *UpstreamTransportError) Error() string { return fmt.Sprintf("upstream transport error: %v", e.Cause) }
func (e *UpstreamTransportError) Unwrap() error  { return e.Cause }
