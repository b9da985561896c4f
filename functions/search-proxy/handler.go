package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/cockroachdb/errors"

	"github.com/letmevibethatforyou/searchkit"
)

const (
	filterPrefix   = "filter."
	maxLimit       = 100
	requestTimeout = 10 * time.Second
)

// Handler answers search requests through one warm provider, so repeated
// queries in the same container are served from the client cache.
type Handler struct {
	provider *searchkit.Provider
	logger   *slog.Logger
}

func NewHandler(provider *searchkit.Provider, logger *slog.Logger) *Handler {
	return &Handler{provider: provider, logger: logger}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HandleRequest serves GET /search?q=...&limit=...&cursor=...&filter.<field>=<value>.
// The body is the canonical {"items","cursor","total"} page.
func (h *Handler) HandleRequest(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if method := req.RequestContext.HTTP.Method; method != "" && method != http.MethodGet {
		return h.respond(http.StatusMethodNotAllowed, errorBody{Error: "only GET is supported", Code: "method_not_allowed"}), nil
	}

	params, err := parseParams(req.QueryStringParameters)
	if err != nil {
		return h.respond(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "bad_request"}), nil
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	client := h.provider.Client()
	start := time.Now()
	result, err := client.Search(ctx, params)
	if err != nil {
		status := statusFor(err)
		h.logger.WarnContext(ctx, "search failed",
			"fingerprint", searchkit.NewFingerprint(params).Short(),
			"code", searchkit.CodeOf(err).String(),
			"status", status,
			"error", err,
		)
		return h.respond(status, errorBody{Error: err.Error(), Code: searchkit.CodeOf(err).String()}), nil
	}

	stats := client.Stats()
	h.logger.InfoContext(ctx, "search served",
		"fingerprint", searchkit.NewFingerprint(params).Short(),
		"items", len(result.Items),
		"total", result.Total,
		"took", time.Since(start),
		"cache_hits", stats.Hits,
		"requests", stats.Requests,
	)
	return h.respond(http.StatusOK, page(result)), nil
}

type pageBody struct {
	Items  []searchkit.ResultItem `json:"items"`
	Cursor *string                `json:"cursor"`
	Total  int64                  `json:"total"`
}

func page(p searchkit.ResultProjection) pageBody {
	body := pageBody{Items: p.Items, Total: p.Total}
	if body.Items == nil {
		body.Items = []searchkit.ResultItem{}
	}
	if p.HasMore() {
		cursor := p.Cursor
		body.Cursor = &cursor
	}
	return body
}

func (h *Handler) respond(status int, body any) events.APIGatewayV2HTTPResponse {
	data, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"error":"failed to encode response","code":"internal"}`)
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(data),
	}
}

// statusFor maps a session error onto the proxy's HTTP status.
func statusFor(err error) int {
	var svcErr *searchkit.ServiceError
	if errors.As(err, &svcErr) && svcErr.StatusCode >= 400 && svcErr.StatusCode < 600 {
		return svcErr.StatusCode
	}
	switch searchkit.CodeOf(err) {
	case searchkit.ErrCodeConfig:
		return http.StatusServiceUnavailable
	case searchkit.ErrCodeInvalidQuery:
		return http.StatusBadRequest
	case searchkit.ErrCodeCanceled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func parseParams(q map[string]string) (searchkit.QueryParams, error) {
	var opts []searchkit.SearchOption

	if raw := q["limit"]; raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxLimit {
			return searchkit.QueryParams{}, errors.Newf("limit must be between 1 and %d", maxLimit)
		}
		opts = append(opts, searchkit.WithLimit(limit))
	}
	if cursor := q["cursor"]; cursor != "" {
		opts = append(opts, searchkit.WithCursor(cursor))
	}

	var fields []string
	for key := range q {
		if strings.HasPrefix(key, filterPrefix) {
			fields = append(fields, key)
		}
	}
	sort.Strings(fields)
	for _, key := range fields {
		field := strings.TrimPrefix(key, filterPrefix)
		if field == "" {
			return searchkit.QueryParams{}, errors.New("filter field must not be empty")
		}
		values := strings.Split(q[key], ",")
		if len(values) == 1 {
			opts = append(opts, searchkit.Eq(field, values[0]))
			continue
		}
		in := make([]any, 0, len(values))
		for _, v := range values {
			in = append(in, v)
		}
		opts = append(opts, searchkit.In(field, in...))
	}

	return searchkit.NewQueryParams(q["q"], opts...), nil
}
