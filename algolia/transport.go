package algolia

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/algolia/algoliasearch-client-go/v3/algolia/errs"
	"github.com/algolia/algoliasearch-client-go/v3/algolia/opt"
	"github.com/algolia/algoliasearch-client-go/v3/algolia/search"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/letmevibethatforyou/searchkit"
)

// Transport implements searchkit.Transport over one Algolia index.
// Cursors are Algolia page numbers.
type Transport struct {
	indexName string
	appID     string
	open      IndexOpener
	tracer    trace.Tracer
}

// Option configures a Transport.
type Option func(*Transport)

// WithAppID fixes the application id instead of deriving it from the
// session URL.
func WithAppID(appID string) Option {
	return func(t *Transport) {
		t.appID = appID
	}
}

// WithIndexOpener replaces how indexes are opened; used to stub Algolia.
func WithIndexOpener(open IndexOpener) Option {
	return func(t *Transport) {
		t.open = open
	}
}

// WithTracerProvider sets the tracer provider for search spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *Transport) {
		t.tracer = tp.Tracer("searchkit-algolia")
	}
}

// New returns a transport searching indexName.
func New(indexName string, opts ...Option) *Transport {
	t := &Transport{
		indexName: indexName,
		open:      newClientPool().open,
		tracer:    otel.Tracer("searchkit-algolia"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type response struct {
	Items  []item  `json:"items"`
	Cursor *string `json:"cursor"`
	Total  int64   `json:"total"`
}

type item struct {
	ID     string         `json:"id"`
	Score  float64        `json:"score"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Search implements searchkit.Transport.
func (t *Transport) Search(ctx context.Context, cfg searchkit.SessionConfig, params searchkit.QueryParams) (searchkit.RawResponse, error) {
	ctx, span := t.tracer.Start(ctx, "algolia.search",
		trace.WithAttributes(
			attribute.String("algolia.index_name", t.indexName),
			attribute.Int("algolia.hits_per_page", params.Limit),
		),
	)
	defer span.End()

	res, err := t.search(ctx, cfg, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "algolia search failed")
		return nil, err
	}

	body, err := json.Marshal(toResponse(res))
	if err != nil {
		return nil, errors.Wrap(err, "algolia: marshal response")
	}
	span.SetAttributes(attribute.Int("algolia.nb_hits", res.NbHits))
	span.SetStatus(codes.Ok, "search completed")
	return body, nil
}

func (t *Transport) search(ctx context.Context, cfg searchkit.SessionConfig, params searchkit.QueryParams) (search.QueryRes, error) {
	appID := t.appID
	if appID == "" {
		var err error
		if appID, err = AppIDFromConfig(cfg); err != nil {
			return search.QueryRes{}, err
		}
	}

	opts, err := buildSearchParams(params)
	if err != nil {
		return search.QueryRes{}, err
	}
	index := t.open(appID, cfg.APIKey(), t.indexName)

	type result struct {
		res search.QueryRes
		err error
	}
	// The v3 client has no per-call context; the call is abandoned on cancel.
	done := make(chan result, 1)
	go func() {
		res, err := index.Search(params.Text, opts...)
		done <- result{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return search.QueryRes{}, searchkit.TransportError(ctx.Err(), "algolia search timed out")
		}
		return search.QueryRes{}, errors.Mark(errors.Wrap(ctx.Err(), "algolia search canceled"), searchkit.ErrCanceled)
	case r := <-done:
		if r.err != nil {
			return search.QueryRes{}, classifyError(r.err)
		}
		return r.res, nil
	}
}

// classifyError maps Algolia client failures onto the searchkit taxonomy.
func classifyError(err error) error {
	if apiErr, ok := errs.IsAlgoliaErr(err); ok {
		return searchkit.NewServiceError(apiErr.Status, apiErr.Message)
	}
	return searchkit.TransportError(err, "algolia search failed")
}

// buildSearchParams converts query params to Algolia search options.
func buildSearchParams(params searchkit.QueryParams) ([]interface{}, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = searchkit.DefaultLimit
	}
	opts := []interface{}{opt.HitsPerPage(limit)}

	if params.Cursor != "" {
		page, err := strconv.Atoi(params.Cursor)
		if err != nil || page < 0 {
			return nil, searchkit.InvalidQueryError("algolia: invalid page cursor %q", params.Cursor)
		}
		opts = append(opts, opt.Page(page))
	}

	if len(params.Filters) > 0 {
		filters := make([]string, 0, len(params.Filters))
		for _, expr := range params.Filters {
			if f := convertExpressionToFilter(expr); f != "" {
				filters = append(filters, "("+f+")")
			}
		}
		if len(filters) > 0 {
			opts = append(opts, opt.Filters(strings.Join(filters, " AND ")))
		}
	}

	// Sorting needs replica indices with custom ranking; Sort is not sent.
	return opts, nil
}

func toResponse(res search.QueryRes) response {
	out := response{
		Items: make([]item, 0, len(res.Hits)),
		Total: int64(res.NbHits),
	}
	for i, hit := range res.Hits {
		fields := make(map[string]any, len(hit))
		var id string
		for k, v := range hit {
			switch k {
			case "objectID":
				id, _ = v.(string)
			case "_highlightResult", "_snippetResult", "_rankingInfo":
			default:
				fields[k] = v
			}
		}
		out.Items = append(out.Items, item{
			ID:     id,
			Score:  calculateScore(len(res.Hits), i),
			Fields: fields,
		})
	}
	if next := res.Page + 1; next < res.NbPages {
		cursor := strconv.Itoa(next)
		out.Cursor = &cursor
	}
	return out
}

// calculateScore creates a rank-based score, since Algolia does not expose
// relevance scores.
func calculateScore(totalResults, position int) float64 {
	if totalResults == 0 {
		return 1.0
	}
	return float64(totalResults-position) / float64(totalResults)
}
