package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/sync4science/authproxy/internal/oauth"
)

// allowedResponseHeaders is the header allow-list retained on the response
// relayed back to the client.
var allowedResponseHeaders = map[string]bool{
	"Content-Type":                true,
	"Access-Control-Allow-Origin": true,
}

// ProxyPipeline assembles and performs the outbound upstream request and
// sanitizes the response before it is relayed to the client.
type ProxyPipeline struct {
	Client *http.Client
}

// NewProxyPipeline constructs a ProxyPipeline using the given HTTP client,
// which must be safe for concurrent use (a shared connection pool).
func NewProxyPipeline(client *http.Client) *ProxyPipeline {
	return &ProxyPipeline{Client: client}
}

// Response is the sanitized upstream reply returned to the caller.
type Response struct {
	Status  int
	Headers map[string][]string
	Body    []byte
}

// Forward builds the outbound request from the prepared URL, method,
// headers, and body, performs it, and returns a header-filtered Response.
// Network errors are wrapped as *oauth.UpstreamTransportError; a context
// deadline exceeded is wrapped as *oauth.UpstreamTimeoutError.
func (p *ProxyPipeline) Forward(ctx context.Context, method string, target *url.URL, headers map[string][]string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, &oauth.UpstreamTransportError{Cause: err}
	}
	for k, values := range headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := p.Client.Do(req)
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

	filtered := make(map[string][]string)
	for k, v := range resp.Header {
		if allowedResponseHeaders[k] {
			filtered[k] = v
		}
	}

	return &Response{
		Status:  resp.StatusCode,
		Headers: filtered,
		Body:    data,
	}, nil
}
