package searchkit

import "strings"

// DefaultLimit is the page size used when a query does not set one.
const DefaultLimit = 10

// SearchOption represents a query parameter option.
type SearchOption interface {
	Apply(*QueryParams)
}

// QueryParams holds everything that identifies a logical query.
type QueryParams struct {
	// Text is the free-text query.
	Text string

	// Filters contains filter expressions; all of them must match.
	Filters []Expression

	// Cursor is the opaque pagination token of the requested page.
	// Empty means the first page.
	Cursor string

	// Limit specifies the maximum number of results per page.
	Limit int

	// Sort specifies sorting configuration.
	Sort []SortField
}

// SortField represents a field to sort by.
type SortField struct {
	// Field is the name of the field to sort by.
	Field string
	// Desc indicates whether to sort in descending order (true) or ascending order (false).
	Desc bool
}

// NewQueryParams builds params for text with the given options applied.
func NewQueryParams(text string, opts ...SearchOption) QueryParams {
	params := QueryParams{Text: text}
	for _, opt := range opts {
		opt.Apply(&params)
	}
	return params.normalized()
}

// normalized returns a copy with surrounding whitespace trimmed and the
// default limit filled in. Slices are copied so callers cannot mutate a
// fingerprinted query.
func (p QueryParams) normalized() QueryParams {
	out := QueryParams{
		Text:   strings.TrimSpace(p.Text),
		Cursor: p.Cursor,
		Limit:  p.Limit,
	}
	if out.Limit <= 0 {
		out.Limit = DefaultLimit
	}
	if len(p.Filters) > 0 {
		out.Filters = append([]Expression(nil), p.Filters...)
	}
	if len(p.Sort) > 0 {
		out.Sort = append([]SortField(nil), p.Sort...)
	}
	return out
}

// optionFunc is a function that implements SearchOption.
type optionFunc func(*QueryParams)

// Apply implements the SearchOption interface for optionFunc.
func (f optionFunc) Apply(params *QueryParams) {
	f(params)
}

// WithLimit sets the maximum number of results to return.
func WithLimit(n int) SearchOption {
	return optionFunc(func(params *QueryParams) {
		params.Limit = n
	})
}

// WithCursor requests the page identified by a cursor from a previous result.
func WithCursor(cursor string) SearchOption {
	return optionFunc(func(params *QueryParams) {
		params.Cursor = cursor
	})
}

// WithSort adds a sort field to the search.
func WithSort(field string, desc bool) SearchOption {
	return optionFunc(func(params *QueryParams) {
		params.Sort = append(params.Sort, SortField{Field: field, Desc: desc})
	})
}
