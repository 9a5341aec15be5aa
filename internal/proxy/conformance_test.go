package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConformance_MergesOAuthURIs(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json+fhir")
		w.Write([]byte(`{"resourceType":"CapabilityStatement","rest":[{"mode":"server"}]}`))
	}))
	defer upstream.Close()

	rewriter := NewConformanceRewriter(upstream.Client())
	extensions := map[string]string{"authorize": "https://proxy/oauth/authorize", "token": "https://proxy/oauth/token"}

	doc, err := rewriter.Conformance(context.Background(), upstream.URL+"/metadata", extensions)
	if err != nil {
		t.Fatalf("Conformance: %v", err)
	}

	rest := doc["rest"].([]interface{})
	security := rest[0].(map[string]interface{})["security"].(map[string]interface{})
	if security["extension"] == nil {
		t.Fatal("expected oauth-uris extension to be present")
	}
}

func TestMergeOAuthURIs_IsIdempotent(t *testing.T) {
	doc := map[string]interface{}{
		"resourceType": "CapabilityStatement",
		"rest":         []interface{}{map[string]interface{}{"mode": "server"}},
	}
	extensions := map[string]string{"authorize": "https://proxy/oauth/authorize"}

	once, _ := json.Marshal(MergeOAuthURIs(doc, extensions))
	twice, _ := json.Marshal(MergeOAuthURIs(MergeOAuthURIs(doc, extensions), extensions))

	if string(once) != string(twice) {
		t.Fatalf("invariant 6 violated: merge is not idempotent\nonce:  %s\ntwice: %s", once, twice)
	}
}

func TestMergeOAuthURIs_OverwritesRatherThanAppends(t *testing.T) {
	doc := map[string]interface{}{
		"rest": []interface{}{map[string]interface{}{
			"security": map[string]interface{}{
				"extension": []interface{}{"stale"},
			},
		}},
	}
	out := MergeOAuthURIs(doc, map[string]string{"authorize": "https://proxy/oauth/authorize"})
	rest := out["rest"].([]interface{})
	security := rest[0].(map[string]interface{})["security"].(map[string]interface{})
	ext := security["extension"].([]interface{})
	if len(ext) != 1 {
		t.Fatalf("expected the stale extension entry to be replaced, got %d entries", len(ext))
	}
}
