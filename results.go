package searchkit

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/cockroachdb/errors"
)

// RawResponse is the undecoded body returned by a Transport.
type RawResponse []byte

// ResultItem represents a single search hit.
type ResultItem struct {
	// ID is the unique identifier of the hit.
	ID string `json:"id"`

	// Score represents the relevance score of this hit.
	Score float64 `json:"score,omitempty"`

	// Fields contains the document fields as key-value pairs.
	Fields map[string]any `json:"fields,omitempty"`
}

// ResultProjection is the display-ready page of results. It is immutable once
// produced; a newer projection replaces it whole.
type ResultProjection struct {
	// Items contains the hits in service order.
	Items []ResultItem `json:"items"`

	// Cursor is the opaque token for the next page. Empty means there is none.
	Cursor string `json:"cursor,omitempty"`

	// Total is the total number of matching documents.
	Total int64 `json:"total"`
}

// HasMore reports whether another page can be requested.
func (p ResultProjection) HasMore() bool {
	return p.Cursor != ""
}

type wireResponse struct {
	Items  *[]json.RawMessage `json:"items"`
	Cursor json.RawMessage    `json:"cursor"`
	Total  *json.Number       `json:"total"`
	Hits   *openSearchHits    `json:"hits"`
}

type openSearchHits struct {
	Total json.RawMessage `json:"total"`
	Hits  []struct {
		ID     string          `json:"_id"`
		Score  *float64        `json:"_score"`
		Source json.RawMessage `json:"_source"`
	} `json:"hits"`
}

// Project turns a raw service response into a ResultProjection.
//
// The canonical body is {"items":[...],"cursor":"...","total":N}; items and
// total are required. OpenSearch search bodies ({"hits":{"total":...,"hits":[...]}})
// are accepted as well. Anything else fails with ErrMalformedResponse.
func Project(raw RawResponse) (ResultProjection, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ResultProjection{}, MalformedResponseError(nil, "empty response body")
	}

	var wire wireResponse
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&wire); err != nil {
		return ResultProjection{}, MalformedResponseError(err, "decode response")
	}

	if wire.Items == nil && wire.Total == nil && wire.Hits != nil {
		return projectOpenSearch(wire.Hits)
	}

	if wire.Items == nil {
		return ResultProjection{}, MalformedResponseError(nil, `response is missing "items"`)
	}
	if wire.Total == nil {
		return ResultProjection{}, MalformedResponseError(nil, `response is missing "total"`)
	}

	total, err := wire.Total.Int64()
	if err != nil || total < 0 {
		return ResultProjection{}, MalformedResponseError(err, `"total" must be a non-negative integer`)
	}

	cursor, err := decodeCursor(wire.Cursor)
	if err != nil {
		return ResultProjection{}, err
	}

	items := make([]ResultItem, 0, len(*wire.Items))
	for i, rawItem := range *wire.Items {
		item, err := decodeItem(rawItem)
		if err != nil {
			return ResultProjection{}, errors.Wrapf(err, "item %d", i)
		}
		items = append(items, item)
	}

	return ResultProjection{Items: items, Cursor: cursor, Total: total}, nil
}

func decodeCursor(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var cursor string
	if err := json.Unmarshal(raw, &cursor); err == nil {
		return cursor, nil
	}
	// Numeric cursors (page numbers, offsets) are kept verbatim.
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", MalformedResponseError(nil, `"cursor" must be a string, number or null`)
}

func decodeItem(raw json.RawMessage) (ResultItem, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return ResultItem{}, MalformedResponseError(err, "result item must be an object")
	}

	item := ResultItem{}
	for _, key := range []string{"id", "_id", "objectID"} {
		if v, ok := fields[key]; ok {
			item.ID = stringify(v)
			delete(fields, key)
			break
		}
	}
	for _, key := range []string{"score", "_score"} {
		if v, ok := fields[key]; ok {
			if f, ok := toFloat64(v); ok {
				item.Score = f
			}
			delete(fields, key)
			break
		}
	}
	if nested, ok := fields["fields"].(map[string]any); ok && len(fields) == 1 {
		fields = nested
	}
	if len(fields) > 0 {
		item.Fields = fields
	}
	return item, nil
}

func projectOpenSearch(hits *openSearchHits) (ResultProjection, error) {
	total, err := openSearchTotal(hits.Total)
	if err != nil {
		return ResultProjection{}, err
	}

	items := make([]ResultItem, 0, len(hits.Hits))
	for i, hit := range hits.Hits {
		item := ResultItem{ID: hit.ID}
		if hit.Score != nil {
			item.Score = *hit.Score
		}
		if len(hit.Source) > 0 && string(hit.Source) != "null" {
			dec := json.NewDecoder(bytes.NewReader(hit.Source))
			dec.UseNumber()
			if err := dec.Decode(&item.Fields); err != nil {
				return ResultProjection{}, MalformedResponseError(err, "decode _source of hit "+strconv.Itoa(i))
			}
		}
		items = append(items, item)
	}
	return ResultProjection{Items: items, Total: total}, nil
}

// openSearchTotal accepts both {"value":N,"relation":"eq"} and a bare number.
func openSearchTotal(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, MalformedResponseError(nil, `response is missing "hits.total"`)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil && v >= 0 {
			return v, nil
		}
	}
	var obj struct {
		Value *int64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj.Value == nil || *obj.Value < 0 {
		return 0, MalformedResponseError(err, `"hits.total" must be a non-negative integer`)
	}
	return *obj.Value, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// toFloat64 attempts to convert a numeric value to float64.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
