package algolia

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/algolia/algoliasearch-client-go/v3/algolia/errs"
	"github.com/algolia/algoliasearch-client-go/v3/algolia/opt"
	"github.com/algolia/algoliasearch-client-go/v3/algolia/search"
	"github.com/cockroachdb/errors"

	"github.com/letmevibethatforyou/searchkit"
)

type fakeIndex struct {
	mu      sync.Mutex
	queries []string
	opts    [][]interface{}
	res     search.QueryRes
	err     error
	block   chan struct{}
}

func (f *fakeIndex) Search(query string, opts ...interface{}) (search.QueryRes, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.opts = append(f.opts, opts)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	return f.res, f.err
}

func newTestTransport(index *fakeIndex, opened *[]string) *Transport {
	return New("products", WithIndexOpener(func(appID, apiKey, indexName string) Index {
		if opened != nil {
			*opened = append(*opened, appID+"/"+apiKey+"/"+indexName)
		}
		return index
	}))
}

func mustConfig(t *testing.T, apiKey, url string) searchkit.SessionConfig {
	t.Helper()
	cfg, err := searchkit.NewSessionConfig(apiKey, url)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	return cfg
}

func TestAppIDFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
		wantErr  bool
	}{
		{"dsn host", "https://abc123-dsn.algolia.net", "ABC123", false},
		{"plain host", "https://abc123.algolia.net/1/indexes", "ABC123", false},
		{"foreign host", "https://search.example.com", "", true},
		{"nested host", "https://a.b.algolia.net", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appID, err := AppIDFromConfig(mustConfig(t, "key", tt.url))
			if tt.wantErr {
				if !errors.Is(err, searchkit.ErrConfig) {
					t.Errorf("Expected ErrConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if appID != tt.expected {
				t.Errorf("Expected app id '%s', got '%s'", tt.expected, appID)
			}
		})
	}
}

func TestBuildSearchParams(t *testing.T) {
	tests := []struct {
		name          string
		params        searchkit.QueryParams
		expectedCount int
		wantErr       bool
	}{
		{
			name:          "default parameters",
			params:        searchkit.NewQueryParams("shoes"),
			expectedCount: 1, // HitsPerPage
		},
		{
			name:          "with cursor",
			params:        searchkit.NewQueryParams("shoes", searchkit.WithCursor("2")),
			expectedCount: 2, // HitsPerPage and Page
		},
		{
			name:          "with filters",
			params:        searchkit.NewQueryParams("shoes", searchkit.Eq("status", "active")),
			expectedCount: 2, // HitsPerPage and Filters
		},
		{
			name:          "sort is not sent",
			params:        searchkit.NewQueryParams("shoes", searchkit.WithSort("price", true)),
			expectedCount: 1,
		},
		{
			name:    "invalid cursor",
			params:  searchkit.NewQueryParams("shoes", searchkit.WithCursor("next-please")),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := buildSearchParams(tt.params)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				if !errors.Is(err, searchkit.ErrInvalidQuery) {
					t.Errorf("Expected an invalid query error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if len(opts) != tt.expectedCount {
				t.Errorf("Expected %d options, got %d", tt.expectedCount, len(opts))
			}
		})
	}
}

func TestBuildSearchParams_Values(t *testing.T) {
	params := searchkit.NewQueryParams("shoes",
		searchkit.Eq("color", "red"),
		searchkit.Gte("size", 40),
		searchkit.WithCursor("3"),
		searchkit.WithLimit(25),
	)
	opts, err := buildSearchParams(params)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var hitsPerPage, page int
	var filters string
	for _, o := range opts {
		switch v := o.(type) {
		case *opt.HitsPerPageOption:
			hitsPerPage = v.Get()
		case *opt.PageOption:
			page = v.Get()
		case *opt.FiltersOption:
			filters = v.Get()
		}
	}
	if hitsPerPage != 25 {
		t.Errorf("Expected 25 hits per page, got %d", hitsPerPage)
	}
	if page != 3 {
		t.Errorf("Expected page 3, got %d", page)
	}
	if expected := `(color:"red") AND (size >= 40)`; filters != expected {
		t.Errorf("Expected filters '%s', got '%s'", expected, filters)
	}
}

func TestCalculateScore(t *testing.T) {
	tests := []struct {
		name         string
		totalResults int
		position     int
		expected     float64
	}{
		{"first result", 10, 0, 1.0},
		{"middle result", 10, 5, 0.5},
		{"last result", 10, 9, 0.1},
		{"no results", 0, 0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := calculateScore(tt.totalResults, tt.position)
			if result != tt.expected {
				t.Errorf("Expected score %f, got %f", tt.expected, result)
			}
		})
	}
}

func TestTransport_Search(t *testing.T) {
	index := &fakeIndex{res: search.QueryRes{
		Hits: []map[string]interface{}{
			{"objectID": "a1", "title": "Red shoe", "_highlightResult": map[string]interface{}{}},
			{"objectID": "a2", "title": "Blue shoe"},
		},
		NbHits:  42,
		Page:    0,
		NbPages: 21,
	}}
	var opened []string
	transport := newTestTransport(index, &opened)
	cfg := mustConfig(t, "search-key", "https://app1-dsn.algolia.net")

	raw, err := transport.Search(context.Background(), cfg, searchkit.NewQueryParams(" shoes ", searchkit.WithLimit(2)))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(opened) != 1 || opened[0] != "APP1/search-key/products" {
		t.Errorf("Unexpected index opens %v", opened)
	}
	if len(index.queries) != 1 || index.queries[0] != "shoes" {
		t.Errorf("Unexpected queries %v", index.queries)
	}

	p, err := searchkit.Project(raw)
	if err != nil {
		t.Fatalf("Expected projectable response, got %v", err)
	}
	if len(p.Items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(p.Items))
	}
	if p.Items[0].ID != "a1" || p.Items[0].Fields["title"] != "Red shoe" {
		t.Errorf("Unexpected first item %+v", p.Items[0])
	}
	if _, ok := p.Items[0].Fields["_highlightResult"]; ok {
		t.Error("Highlight metadata must not be exposed as a field")
	}
	if p.Items[0].Score <= p.Items[1].Score {
		t.Error("Expected scores to decrease with rank")
	}
	if p.Cursor != "1" {
		t.Errorf("Expected next cursor '1', got '%s'", p.Cursor)
	}
	if p.Total != 42 {
		t.Errorf("Expected total 42, got %d", p.Total)
	}
}

func TestTransport_LastPageHasNoCursor(t *testing.T) {
	index := &fakeIndex{res: search.QueryRes{
		Hits:    []map[string]interface{}{{"objectID": "z"}},
		NbHits:  21,
		Page:    2,
		NbPages: 3,
	}}
	cfg := mustConfig(t, "k", "https://app1.algolia.net")

	raw, err := newTestTransport(index, nil).Search(context.Background(), cfg, searchkit.NewQueryParams("z", searchkit.WithCursor("2")))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("Expected JSON body, got %v", err)
	}
	if string(body["cursor"]) != "null" {
		t.Errorf("Expected null cursor on the last page, got %s", body["cursor"])
	}
}

func TestTransport_Errors(t *testing.T) {
	cfg := mustConfig(t, "k", "https://app1.algolia.net")

	apiErrors := map[string]error{
		"api error":         errs.AlgoliaErr{Status: 403, Message: "Invalid Application-ID or API key"},
		"api error pointer": &errs.AlgoliaErr{Status: 403, Message: "Invalid Application-ID or API key"},
	}
	for name, apiErr := range apiErrors {
		t.Run(name, func(t *testing.T) {
			index := &fakeIndex{err: apiErr}
			_, err := newTestTransport(index, nil).Search(context.Background(), cfg, searchkit.NewQueryParams("x"))

			var svcErr *searchkit.ServiceError
			if !errors.As(err, &svcErr) {
				t.Fatalf("Expected ServiceError, got %v", err)
			}
			if svcErr.StatusCode != 403 {
				t.Errorf("Expected status 403, got %d", svcErr.StatusCode)
			}
			if svcErr.Message != "Invalid Application-ID or API key" {
				t.Errorf("Expected Algolia message, got %q", svcErr.Message)
			}
		})
	}

	t.Run("unreachable hosts", func(t *testing.T) {
		index := &fakeIndex{err: errs.ErrNoMoreHostToTry}
		_, err := newTestTransport(index, nil).Search(context.Background(), cfg, searchkit.NewQueryParams("x"))
		if searchkit.CodeOf(err) != searchkit.ErrCodeTransport {
			t.Errorf("Expected transport error, got %v", err)
		}
	})

	t.Run("network error", func(t *testing.T) {
		index := &fakeIndex{err: errors.New("all hosts unreachable")}
		_, err := newTestTransport(index, nil).Search(context.Background(), cfg, searchkit.NewQueryParams("x"))
		if searchkit.CodeOf(err) != searchkit.ErrCodeTransport {
			t.Errorf("Expected transport error, got %v", err)
		}
	})

	t.Run("foreign host", func(t *testing.T) {
		other := mustConfig(t, "k", "https://search.example.com")
		index := &fakeIndex{}
		_, err := newTestTransport(index, nil).Search(context.Background(), other, searchkit.NewQueryParams("x"))
		if !errors.Is(err, searchkit.ErrConfig) {
			t.Errorf("Expected ErrConfig, got %v", err)
		}
		if len(index.queries) != 0 {
			t.Error("Expected no search for a misconfigured session")
		}
	})

	t.Run("explicit app id", func(t *testing.T) {
		other := mustConfig(t, "k", "https://search.example.com")
		var opened []string
		transport := New("products", WithAppID("FIXED"), WithIndexOpener(func(appID, apiKey, indexName string) Index {
			opened = append(opened, appID)
			return &fakeIndex{}
		}))
		if _, err := transport.Search(context.Background(), other, searchkit.NewQueryParams("x")); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(opened) != 1 || opened[0] != "FIXED" {
			t.Errorf("Unexpected app ids %v", opened)
		}
	})
}

func TestTransport_Cancellation(t *testing.T) {
	cfg := mustConfig(t, "k", "https://app1.algolia.net")
	index := &fakeIndex{block: make(chan struct{})}
	defer close(index.block)
	transport := newTestTransport(index, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := transport.Search(ctx, cfg, searchkit.NewQueryParams("x"))
	if !errors.Is(err, searchkit.ErrCanceled) {
		t.Errorf("Expected ErrCanceled, got %v", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = transport.Search(ctx, cfg, searchkit.NewQueryParams("x"))
	if !errors.Is(err, searchkit.ErrTransport) {
		t.Errorf("Expected a timeout to be a transport error, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Unexpected error message %q", err.Error())
	}
}
