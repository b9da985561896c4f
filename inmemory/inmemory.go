// Package inmemory provides a searchkit Transport over documents held in
// process memory. It answers in the canonical {items, cursor, total} shape
// with offset cursors, which makes it useful for demos and tests that need
// a real service without a network.
package inmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/letmevibethatforyou/searchkit"
)

// Document represents a JSON document in the in-memory store.
type Document struct {
	// ID is the unique identifier for the document.
	ID string
	// Fields contains the document's data as key-value pairs.
	Fields map[string]interface{}
}

// Store is an in-memory search service. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	documents []Document
	idIndex   map[string]int // maps document ID to index in documents slice

	apiKey  string
	latency time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithAPIKey makes the store reject sessions whose key differs from key with
// a 401 service error.
func WithAPIKey(key string) Option {
	return func(s *Store) {
		s.apiKey = key
	}
}

// WithLatency delays every answer by d, honoring cancellation while waiting.
func WithLatency(d time.Duration) Option {
	return func(s *Store) {
		s.latency = d
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		documents: make([]Document, 0),
		idIndex:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddDocument adds a document, replacing any document with the same ID.
func (s *Store) AddDocument(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, exists := s.idIndex[doc.ID]; exists {
		s.documents[idx] = doc
	} else {
		s.idIndex[doc.ID] = len(s.documents)
		s.documents = append(s.documents, doc)
	}
}

// AddJSON parses jsonData as an object and adds it under id.
func (s *Store) AddJSON(id string, jsonData []byte) error {
	var fields map[string]interface{}
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return errors.Wrap(err, "failed to unmarshal JSON")
	}

	s.AddDocument(Document{
		ID:     id,
		Fields: fields,
	})
	return nil
}

// LoadJSON adds every document of a JSON array. Each element must carry a
// string "id" field.
func (s *Store) LoadJSON(data []byte) (int, error) {
	var docs []map[string]interface{}
	if err := json.Unmarshal(data, &docs); err != nil {
		return 0, errors.Wrap(err, "failed to unmarshal document list")
	}
	for i, fields := range docs {
		id, ok := fields["id"].(string)
		if !ok || id == "" {
			return i, errors.Newf("document %d has no string id", i)
		}
		s.AddDocument(Document{ID: id, Fields: fields})
	}
	return len(docs), nil
}

// RemoveDocument removes a document by ID and reports whether it existed.
func (s *Store) RemoveDocument(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, exists := s.idIndex[id]
	if !exists {
		return false
	}

	s.documents = append(s.documents[:idx], s.documents[idx+1:]...)

	delete(s.idIndex, id)
	for i := idx; i < len(s.documents); i++ {
		s.idIndex[s.documents[i].ID] = i
	}

	return true
}

// Clear removes all documents.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents = make([]Document, 0)
	s.idIndex = make(map[string]int)
}

// Size returns the number of stored documents.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}

type response struct {
	Items  []item  `json:"items"`
	Cursor *string `json:"cursor"`
	Total  int64   `json:"total"`
}

type item struct {
	ID     string                 `json:"id"`
	Score  float64                `json:"score"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Search implements searchkit.Transport. Cursors are decimal offsets.
func (s *Store) Search(ctx context.Context, cfg searchkit.SessionConfig, params searchkit.QueryParams) (searchkit.RawResponse, error) {
	if s.apiKey != "" && cfg.APIKey() != s.apiKey {
		return nil, searchkit.NewServiceError(401, "invalid api key")
	}

	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, canceled(ctx)
		case <-timer.C:
		}
	}

	res, err := s.search(ctx, params)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(res)
	if err != nil {
		return nil, errors.Wrap(err, "marshal response")
	}
	return body, nil
}

func (s *Store) search(ctx context.Context, params searchkit.QueryParams) (response, error) {
	if ctx.Err() != nil {
		return response{}, canceled(ctx)
	}

	start := 0
	if params.Cursor != "" {
		offset, err := strconv.Atoi(params.Cursor)
		if err != nil || offset < 0 {
			return response{}, searchkit.NewServiceError(400, fmt.Sprintf("invalid cursor %q", params.Cursor))
		}
		start = offset
	}
	limit := params.Limit
	if limit <= 0 {
		limit = searchkit.DefaultLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []scoredDocument
	for _, doc := range s.documents {
		if ctx.Err() != nil {
			return response{}, canceled(ctx)
		}

		if !s.matchesFilters(doc, params.Filters) {
			continue
		}

		score := s.scoreDocument(doc, params.Text)
		if score > 0 {
			matches = append(matches, scoredDocument{
				document: doc,
				score:    score,
			})
		}
	}

	s.sortMatches(matches, params.Sort)

	end := start + limit
	if end > len(matches) {
		end = len(matches)
	}
	if start > len(matches) {
		start = len(matches)
	}

	res := response{
		Items: make([]item, 0, end-start),
		Total: int64(len(matches)),
	}
	for _, match := range matches[start:end] {
		res.Items = append(res.Items, item{
			ID:     match.document.ID,
			Score:  match.score,
			Fields: match.document.Fields,
		})
	}
	if end < len(matches) {
		next := strconv.Itoa(end)
		res.Cursor = &next
	}
	return res, nil
}

func canceled(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return searchkit.TransportError(ctx.Err(), "in-memory search timed out")
	}
	return errors.Mark(errors.Wrap(ctx.Err(), "in-memory search canceled"), searchkit.ErrCanceled)
}

type scoredDocument struct {
	document Document
	score    float64
}

// scoreDocument scores one point per field containing each query term, with
// a 1.5x boost when every term matched. Documents scoring 0 do not match.
func (s *Store) scoreDocument(doc Document, query string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 1.0
	}

	score := 0.0
	matchedTerms := 0

	for _, term := range terms {
		termMatched := false
		for _, value := range doc.Fields {
			if s.valueContainsTerm(value, term) {
				termMatched = true
				score += 1.0
			}
		}
		if termMatched {
			matchedTerms++
		}
	}

	if matchedTerms == 0 {
		return 0
	}
	if matchedTerms == len(terms) {
		score *= 1.5
	}
	return score
}

func (s *Store) valueContainsTerm(value interface{}, term string) bool {
	switch v := value.(type) {
	case string:
		return strings.Contains(strings.ToLower(v), term)
	case []interface{}:
		for _, item := range v {
			if s.valueContainsTerm(item, term) {
				return true
			}
		}
	case map[string]interface{}:
		for _, item := range v {
			if s.valueContainsTerm(item, term) {
				return true
			}
		}
	default:
		str := fmt.Sprintf("%v", v)
		return strings.Contains(strings.ToLower(str), term)
	}
	return false
}

// sortMatches orders by the sort fields, then by score descending, then by
// ID so pages are stable across requests.
func (s *Store) sortMatches(matches []scoredDocument, sortFields []searchkit.SortField) {
	sort.SliceStable(matches, func(i, j int) bool {
		for _, sf := range sortFields {
			var cmp int
			if sf.Field == "_score" {
				cmp = s.compareValues(matches[i].score, matches[j].score)
			} else {
				cmp = s.compareValues(matches[i].document.Fields[sf.Field], matches[j].document.Fields[sf.Field])
			}
			if cmp != 0 {
				if sf.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].document.ID < matches[j].document.ID
	})
}

// compareValues orders nil first, numbers numerically and everything else by
// its string form.
func (s *Store) compareValues(v1, v2 interface{}) int {
	if v1 == nil && v2 == nil {
		return 0
	}
	if v1 == nil {
		return -1
	}
	if v2 == nil {
		return 1
	}

	if f1, ok1 := toFloat64(v1); ok1 {
		if f2, ok2 := toFloat64(v2); ok2 {
			if f1 < f2 {
				return -1
			} else if f1 > f2 {
				return 1
			}
			return 0
		}
	}

	return strings.Compare(fmt.Sprintf("%v", v1), fmt.Sprintf("%v", v2))
}
