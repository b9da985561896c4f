package searchkit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint is the canonical key of a logical query. It is used for cache
// lookups and in-flight deduplication.
type Fingerprint string

// String implements fmt.Stringer.
func (f Fingerprint) String() string {
	return string(f)
}

// Short returns an abbreviated form for logs.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// NewFingerprint derives the fingerprint of params.
//
// The canonical encoding is injective: every component is length-prefixed.
// Filter lists and the operands of And, Or and In are sorted because their
// order carries no meaning, and numbers are compared by value so 5 and 5.0
// produce the same key.
func NewFingerprint(params QueryParams) Fingerprint {
	p := params.normalized()

	var b strings.Builder
	writeTagged(&b, "text", p.Text)
	writeTagged(&b, "cursor", p.Cursor)
	writeTagged(&b, "limit", strconv.Itoa(p.Limit))

	sortKeys := make([]string, 0, len(p.Sort))
	for _, s := range p.Sort {
		dir := "asc"
		if s.Desc {
			dir = "desc"
		}
		sortKeys = append(sortKeys, lengthPrefixed(s.Field)+dir)
	}
	writeList(&b, "sort", sortKeys)

	filters := make([]string, 0, len(p.Filters))
	for _, expr := range p.Filters {
		filters = append(filters, canonicalExpression(expr))
	}
	sort.Strings(filters)
	writeList(&b, "filters", filters)

	sum := sha256.Sum256([]byte(b.String()))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

func lengthPrefixed(s string) string {
	return strconv.Itoa(len(s)) + ":" + s
}

func writeTagged(b *strings.Builder, tag, value string) {
	b.WriteString(tag)
	b.WriteByte('=')
	b.WriteString(lengthPrefixed(value))
	b.WriteByte(';')
}

func writeList(b *strings.Builder, tag string, items []string) {
	b.WriteString(tag)
	b.WriteByte('[')
	b.WriteString(strconv.Itoa(len(items)))
	b.WriteByte(']')
	for _, item := range items {
		b.WriteString(lengthPrefixed(item))
	}
	b.WriteByte(';')
}

func canonicalList(op Operator, parts []string, ordered bool) string {
	if !ordered {
		sort.Strings(parts)
	}
	var b strings.Builder
	writeList(&b, string(op), parts)
	return b.String()
}

func canonicalExpression(expr Expression) string {
	switch e := expr.(type) {
	case nil:
		return "nil"
	case AndExpr:
		return canonicalList(OpAnd, canonicalExpressions(e.Exprs), false)
	case OrExpr:
		return canonicalList(OpOr, canonicalExpressions(e.Exprs), false)
	case NotExpr:
		return canonicalList(OpNot, []string{canonicalExpression(e.Inner)}, true)
	case CompareExpr:
		return canonicalList(e.Operator, []string{e.Field, canonicalValue(e.Value)}, true)
	case RangeExpr:
		return canonicalList(OpRange, []string{e.Field, canonicalValue(e.Min), canonicalValue(e.Max)}, true)
	case ExistsExpr:
		return canonicalList(OpExists, []string{e.Field}, true)
	case InExpr:
		values := make([]string, 0, len(e.Values))
		for _, v := range e.Values {
			values = append(values, canonicalValue(v))
		}
		sort.Strings(values)
		return canonicalList(OpIn, append([]string{e.Field}, values...), true)
	default:
		return canonicalList(expr.Op(), []string{fmt.Sprintf("%T:%#v", expr, expr)}, true)
	}
}

func canonicalExpressions(exprs []Expression) []string {
	out := make([]string, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, canonicalExpression(e))
	}
	return out
}

func canonicalValue(v any) string {
	if v == nil {
		return "n"
	}
	if n, ok := canonicalNumber(v); ok {
		return n
	}
	switch val := v.(type) {
	case string:
		return "s:" + val
	case bool:
		return "b:" + strconv.FormatBool(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, canonicalValue(item))
		}
		return canonicalList("list", parts, true)
	case []string:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, canonicalValue(item))
		}
		return canonicalList("list", parts, true)
	default:
		return fmt.Sprintf("v:%T:%v", v, v)
	}
}

// canonicalNumber encodes numbers so that equal values share one form and
// distinct values never do. Integers are written exactly; a float folds into
// the integer form only when it holds an integral value.
func canonicalNumber(v any) (string, bool) {
	switch val := v.(type) {
	case int:
		return "i:" + strconv.FormatInt(int64(val), 10), true
	case int8:
		return "i:" + strconv.FormatInt(int64(val), 10), true
	case int16:
		return "i:" + strconv.FormatInt(int64(val), 10), true
	case int32:
		return "i:" + strconv.FormatInt(int64(val), 10), true
	case int64:
		return "i:" + strconv.FormatInt(val, 10), true
	case uint:
		return "i:" + strconv.FormatUint(uint64(val), 10), true
	case uint8:
		return "i:" + strconv.FormatUint(uint64(val), 10), true
	case uint16:
		return "i:" + strconv.FormatUint(uint64(val), 10), true
	case uint32:
		return "i:" + strconv.FormatUint(uint64(val), 10), true
	case uint64:
		return "i:" + strconv.FormatUint(val, 10), true
	case float32:
		return canonicalFloat(float64(val)), true
	case float64:
		return canonicalFloat(val), true
	case json.Number:
		return canonicalJSONNumber(val), true
	default:
		return "", false
	}
}

const (
	minInt64Float  = -(1 << 63)
	maxUint64Float = 1 << 64
)

func canonicalFloat(f float64) string {
	if f == math.Trunc(f) && f >= minInt64Float && f < maxUint64Float {
		if f < 0 {
			return "i:" + strconv.FormatInt(int64(f), 10)
		}
		return "i:" + strconv.FormatUint(uint64(f), 10)
	}
	return "f:" + strconv.FormatFloat(f, 'g', -1, 64)
}

// canonicalJSONNumber keeps the literal when float64 cannot hold it exactly.
func canonicalJSONNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return "i:" + strconv.FormatInt(i, 10)
	}
	if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return "i:" + strconv.FormatUint(u, 10)
	}
	f, err := n.Float64()
	if err != nil {
		return "num:" + n.String()
	}
	exact, ok := new(big.Rat).SetString(n.String())
	if !ok {
		return "num:" + n.String()
	}
	if exact.Cmp(new(big.Rat).SetFloat64(f)) != 0 {
		return "num:" + exact.RatString()
	}
	return canonicalFloat(f)
}
