package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RequestOptions describes one upstream call. Params feed both the request
// (query string for reads) and the cache key derivation.
type RequestOptions struct {
	// Method defaults to GET.
	Method string

	// Params are the logical request parameters. For GET requests they are
	// sent as the query string.
	Params map[string]any

	// Headers are additional request headers.
	Headers map[string]string

	// Body is the request body for write methods.
	Body []byte
}

// Response is the transport-level result: status, headers and raw body.
// The payload shape is opaque to this layer.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// UpstreamTransport executes one HTTP exchange against the upstream service.
// Implementations must not retry, cache or classify; that is the client's
// job. A nil Response with a non-nil error means no response was received.
type UpstreamTransport interface {
	Do(ctx context.Context, endpoint string, opts RequestOptions) (*Response, error)
}

// HTTPTransport is the production UpstreamTransport over net/http.
type HTTPTransport struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewHTTPTransport creates a transport for the given upstream base URL.
func NewHTTPTransport(baseURL, userAgent string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Do executes the request and reads the full response body.
func (t *HTTPTransport) Do(ctx context.Context, endpoint string, opts RequestOptions) (*Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	reqURL := t.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if method == http.MethodGet && len(opts.Params) > 0 {
		query := url.Values{}
		for key, value := range opts.Params {
			query.Set(key, fmt.Sprintf("%v", value))
		}
		reqURL += "?" + query.Encode()
	}

	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "application/json")
	if len(opts.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		Status:  resp.StatusCode,
		Headers: resp.Header.Clone(),
		Body:    data,
	}, nil
}
