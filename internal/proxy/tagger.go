package proxy

import (
	"net/url"

	"github.com/sync4science/authproxy/internal/oauth"
)

// allowedForwardHeaders is the header allow-list retained on outbound
// requests; everything else is stripped.
var allowedForwardHeaders = map[string]bool{
	"Accept": true,
	"Origin": true,
}

// SecurityTagger derives the _security query parameters a proxied request
// carries upstream, binding it to the bearer token's security labels and
// patient.
type SecurityTagger struct{}

// Tag strips any client-supplied _security values from query, then (for a
// type-level search only) appends the two derived _security values. token
// may be nil, in which case both appended values are "public".
func (SecurityTagger) Tag(query url.Values, path string, token *oauth.Token) url.Values {
	out := url.Values{}
	for k, v := range query {
		if k == "_security" {
			continue
		}
		out[k] = v
	}

	if IsTypeLevel(path) {
		if token != nil {
			out.Add("_security", "public,"+joinComma(token.SecurityLabels))
			out.Add("_security", "Patient/"+token.PatientID)
		} else {
			out.Add("_security", "public")
			out.Add("_security", "public")
		}
	}

	return out
}

// FilterHeaders returns a copy of in containing only the headers allowed to
// reach the upstream server.
func FilterHeaders(in map[string][]string) map[string][]string {
	out := make(map[string][]string)
	for k, v := range in {
		if allowedForwardHeaders[k] {
			out[k] = v
		}
	}
	return out
}

func joinComma(values []string) string {
	if len(values) == 0 {
		return ""
	}
	s := values[0]
	for _, v := range values[1:] {
		s += "," + v
	}
	return s
}
