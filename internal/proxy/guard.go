// Package proxy implements the FHIR request pipeline: allow-list enforcement,
// security-label injection, upstream forwarding, and capability-statement
// rewriting.
package proxy

import (
	"net/http"
	"strings"

	"github.com/sync4science/authproxy/internal/oauth"
)

var allowedResourceTypes = map[string]bool{
	"metadata":                true,
	"AllergyIntolerance":      true,
	"Binary":                  true,
	"Condition":                true,
	"Coverage":                 true,
	"DocumentReference":        true,
	"Encounter":                true,
	"ExplanationOfBenefit":     true,
	"Immunization":             true,
	"MedicationAdministration": true,
	"MedicationDispense":       true,
	"MedicationStatement":      true,
	"MedicationRequest":        true,
	"Observation":              true,
	"Patient":                  true,
	"Practitioner":             true,
	"Procedure":                true,
}

var allowedQueryParams = map[string]bool{
	"_count":       true,
	"_format":      true,
	"_lastUpdated": true,
	"category":     true,
	"patient":      true,
	"_security":    true,
	"beneficiary":  true,
}

// RequestGuard enforces the method/resource-type/query-parameter allow-lists
// on proxied FHIR requests.
type RequestGuard struct{}

// Check validates an inbound proxy request, returning a *oauth.ForbiddenError
// carrying exactly one of {segment, parameter, method} on rejection.
func (RequestGuard) Check(method, path string, query map[string][]string) error {
	if method != http.MethodGet {
		return &oauth.ForbiddenError{Value: method, Part: oauth.ForbiddenMethod}
	}

	segment := firstSegment(path)
	if !allowedResourceTypes[segment] {
		return &oauth.ForbiddenError{Value: segment, Part: oauth.ForbiddenResourceType}
	}

	for name := range query {
		if !allowedQueryParams[name] {
			return &oauth.ForbiddenError{Value: name, Part: oauth.ForbiddenParameter}
		}
	}

	return nil
}

// firstSegment returns the first path segment of a proxied FHIR request
// path, e.g. "Observation" from "Observation/123" or "Observation".
func firstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// IsTypeLevel reports whether path addresses a type-level search (a single
// segment, e.g. "Observation") rather than a read-by-id ("Observation/123").
func IsTypeLevel(path string) bool {
	path = strings.TrimPrefix(path, "/")
	return path != "" && !strings.Contains(path, "/")
}
