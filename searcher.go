package searchkit

import "context"

// Transport executes one search request against the remote service.
//
// Implementations return the raw response body on success. Failures should be
// marked with ErrService (the service rejected the request) or ErrTransport
// (network problems); unmarked errors are treated as transport failures.
// Implementations must honor ctx cancellation on a best-effort basis.
type Transport interface {
	Search(ctx context.Context, cfg SessionConfig, params QueryParams) (RawResponse, error)
}

// TransportFunc is a function type that implements the Transport interface.
// This allows using a function as a Transport, similar to http.HandlerFunc.
type TransportFunc func(context.Context, SessionConfig, QueryParams) (RawResponse, error)

// Search implements the Transport interface for TransportFunc.
func (f TransportFunc) Search(ctx context.Context, cfg SessionConfig, params QueryParams) (RawResponse, error) {
	return f(ctx, cfg, params)
}
