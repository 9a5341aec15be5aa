package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/sync4science/authproxy/internal/oauth"
)

const oauthURIsExtensionURL = "http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris"
const securityServiceSystem = "http://hl7.org/fhir/restful-security-service"
const securityServiceText = "OAuth2 using SMART-on-FHIR profile (see http://docs.smarthealthit.org)"

// ConformanceRewriter fetches the upstream capability statement and merges
// in the SMART-on-FHIR oauth-uris security extension.
type ConformanceRewriter struct {
	Client *http.Client
}

// NewConformanceRewriter constructs a ConformanceRewriter using client.
func NewConformanceRewriter(client *http.Client) *ConformanceRewriter {
	return &ConformanceRewriter{Client: client}
}

// Conformance fetches metadataURL and returns it with rest[0].security's
// extension and service entries set from extensions (typically
// authorize/token/register URLs).
func (c *ConformanceRewriter) Conformance(ctx context.Context, metadataURL string, extensions map[string]string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, &oauth.UpstreamTransportError{Cause: err}
	}
	req.Header.Set("Accept", "application/json+fhir")

	resp, err := c.Client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &oauth.UpstreamTimeoutError{Cause: err}
		}
		return nil, &oauth.UpstreamTransportError{Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &oauth.UpstreamTransportError{Cause: err}
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &oauth.UpstreamTransportError{Cause: err}
	}

	return MergeOAuthURIs(doc, extensions), nil
}

// MergeOAuthURIs sets rest[0].security.extension in doc to the oauth-uris
// extension built from extensions and rest[0].security.service to the
// SMART-on-FHIR security-service coding, replacing any previous values of
// those two keys; other keys of rest[0].security are kept. Applying it
// twice with the same extensions map yields the same document (idempotent).
func MergeOAuthURIs(doc map[string]interface{}, extensions map[string]string) map[string]interface{} {
	restList, _ := doc["rest"].([]interface{})
	if len(restList) == 0 {
		restList = []interface{}{map[string]interface{}{}}
	}
	rest0, _ := restList[0].(map[string]interface{})
	if rest0 == nil {
		rest0 = map[string]interface{}{}
	}

	keys := make([]string, 0, len(extensions))
	for k := range extensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	extList := make([]interface{}, 0, len(extensions))
	for _, k := range keys {
		extList = append(extList, map[string]interface{}{
			"url":      k,
			"valueUri": extensions[k],
		})
	}

	security, _ := rest0["security"].(map[string]interface{})
	if security == nil {
		security = map[string]interface{}{}
	}
	security["extension"] = []interface{}{
		map[string]interface{}{
			"url":       oauthURIsExtensionURL,
			"extension": extList,
		},
	}
	security["service"] = []interface{}{
		map[string]interface{}{
			"coding": []interface{}{
				map[string]interface{}{
					"system": securityServiceSystem,
					"code":   "SMART-on-FHIR",
				},
			},
			"text": securityServiceText,
		},
	}

	rest0["security"] = security
	restList[0] = rest0
	doc["rest"] = restList

	return doc
}
