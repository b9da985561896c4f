package main

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/letmevibethatforyou/searchkit"
)

// comparisons are tried in order, so two-character operators come first.
var comparisons = []struct {
	op    string
	build func(field string, value any) searchkit.Expression
}{
	{">=", searchkit.Gte},
	{"<=", searchkit.Lte},
	{"!=", searchkit.Ne},
	{">", searchkit.Gt},
	{"<", searchkit.Lt},
	{"=", searchkit.Eq},
}

func buildFilterOptions(raw []string) ([]searchkit.SearchOption, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	options := make([]searchkit.SearchOption, 0, len(raw))
	for _, item := range raw {
		expr, err := parseFilter(item)
		if err != nil {
			return nil, err
		}
		options = append(options, expr)
	}
	return options, nil
}

func parseFilter(item string) (searchkit.Expression, error) {
	item = strings.TrimSpace(item)
	if item == "" {
		return nil, errors.New("filter cannot be empty")
	}

	for _, cmp := range comparisons {
		field, value, found := strings.Cut(item, cmp.op)
		if !found {
			continue
		}
		field, value = strings.TrimSpace(field), strings.TrimSpace(value)
		if field == "" || value == "" {
			return nil, errors.Newf("filter field and value must be non-empty: %q", item)
		}
		return cmp.build(field, parseValue(value)), nil
	}
	return nil, errors.Newf("filter must look like field=value or field>=value: %q", item)
}

// parseValue turns numeric and boolean literals into typed values so they
// compare as numbers; everything else stays a string.
func parseValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
