package searchkit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/ksuid"
)

const (
	// DefaultHTTPTimeout bounds a single request to the search service.
	DefaultHTTPTimeout = 10 * time.Second

	searchPath       = "/search"
	contentTypeJSON  = "application/json"
	maxResponseBytes = 8 << 20
	maxErrorMessage  = 512
)

// HTTPClient represents a minimal http client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPTransport talks to the search service over HTTP:
// POST <baseURL>/search with a bearer token and a JSON query body.
type HTTPTransport struct {
	client  HTTPClient
	timeout time.Duration
}

// HTTPTransportOption configures an HTTPTransport.
type HTTPTransportOption func(*HTTPTransport)

// WithHTTPClient replaces the underlying http client.
func WithHTTPClient(c HTTPClient) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithHTTPTimeout sets the per-request timeout. Zero or negative keeps the default.
func WithHTTPTimeout(d time.Duration) HTTPTransportOption {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// NewHTTPTransport creates the default transport.
func NewHTTPTransport(opts ...HTTPTransportOption) *HTTPTransport {
	t := &HTTPTransport{
		client:  &http.Client{},
		timeout: DefaultHTTPTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type searchRequest struct {
	Text    string           `json:"text"`
	Filters []map[string]any `json:"filters"`
	Cursor  *string          `json:"cursor"`
	Limit   int              `json:"limit"`
	Sort    []sortRequest    `json:"sort,omitempty"`
}

type sortRequest struct {
	Field string `json:"field"`
	Order string `json:"order"`
}

// Search implements Transport.
func (t *HTTPTransport) Search(ctx context.Context, cfg SessionConfig, params QueryParams) (RawResponse, error) {
	if cfg.IsZero() {
		return nil, configError("searchkit: session config is empty")
	}

	body, err := encodeSearchRequest(params)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint(searchPath), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build search request")
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey())
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("X-Request-Id", ksuid.New().String())

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	if len(data) > maxResponseBytes {
		return nil, MalformedResponseError(nil, "response body exceeds size limit")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewServiceError(resp.StatusCode, truncate(strings.TrimSpace(string(data)), maxErrorMessage))
	}

	return RawResponse(data), nil
}

func encodeSearchRequest(params QueryParams) ([]byte, error) {
	p := params.normalized()

	filters, err := EncodeFilters(p.Filters)
	if err != nil {
		return nil, errors.Wrap(err, "encode filters")
	}

	payload := searchRequest{
		Text:    p.Text,
		Filters: filters,
		Limit:   p.Limit,
	}
	if p.Cursor != "" {
		cursor := p.Cursor
		payload.Cursor = &cursor
	}
	for _, s := range p.Sort {
		order := "asc"
		if s.Desc {
			order = "desc"
		}
		payload.Sort = append(payload.Sort, sortRequest{Field: s.Field, Order: order})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal search request")
	}
	return body, nil
}

// classifyTransportError maps http client failures onto the taxonomy.
// A canceled parent context is a cancellation; anything else, including the
// transport's own deadline, is a TransportError.
func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), context.Canceled) || errors.Is(err, context.Canceled) {
		return errors.Mark(errors.Wrap(err, "search request canceled"), ErrCanceled)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransportError(err, "search request timed out")
	}
	return TransportError(err, "search request failed")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
