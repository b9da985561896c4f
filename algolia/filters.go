package algolia

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/letmevibethatforyou/searchkit"
)

// convertExpressionToFilter converts an expression to an Algolia filter string.
// Unsupported expressions convert to "".
func convertExpressionToFilter(expr searchkit.Expression) string {
	switch e := expr.(type) {
	case searchkit.AndExpr:
		return joinExpressions(e.Exprs, " AND ")
	case searchkit.OrExpr:
		return joinExpressions(e.Exprs, " OR ")
	case searchkit.NotExpr:
		inner := convertExpressionToFilter(e.Inner)
		if inner == "" {
			return ""
		}
		return "NOT (" + inner + ")"
	case searchkit.CompareExpr:
		return convertCompareExpression(e)
	case searchkit.RangeExpr:
		return convertRangeExpression(e)
	case searchkit.ExistsExpr:
		return fmt.Sprintf("%s:*", escapeField(e.Field))
	case searchkit.InExpr:
		return convertInExpression(e)
	default:
		return ""
	}
}

func joinExpressions(exprs []searchkit.Expression, sep string) string {
	filters := make([]string, 0, len(exprs))
	for _, e := range exprs {
		if filter := convertExpressionToFilter(e); filter != "" {
			filters = append(filters, "("+filter+")")
		}
	}
	return strings.Join(filters, sep)
}

func convertCompareExpression(expr searchkit.CompareExpr) string {
	field := escapeField(expr.Field)
	switch expr.Operator {
	case searchkit.OpEq:
		return fmt.Sprintf("%s:%s", field, escapeValue(expr.Value))
	case searchkit.OpNe:
		return fmt.Sprintf("NOT %s:%s", field, escapeValue(expr.Value))
	case searchkit.OpGt:
		return fmt.Sprintf("%s > %s", field, escapeNumericValue(expr.Value))
	case searchkit.OpGte:
		return fmt.Sprintf("%s >= %s", field, escapeNumericValue(expr.Value))
	case searchkit.OpLt:
		return fmt.Sprintf("%s < %s", field, escapeNumericValue(expr.Value))
	case searchkit.OpLte:
		return fmt.Sprintf("%s <= %s", field, escapeNumericValue(expr.Value))
	default:
		return ""
	}
}

// convertRangeExpression uses Algolia's inclusive "field:min TO max" form
// when both bounds are set.
func convertRangeExpression(expr searchkit.RangeExpr) string {
	field := escapeField(expr.Field)
	switch {
	case expr.Min != nil && expr.Max != nil:
		return fmt.Sprintf("%s:%s TO %s", field, escapeNumericValue(expr.Min), escapeNumericValue(expr.Max))
	case expr.Min != nil:
		return fmt.Sprintf("%s >= %s", field, escapeNumericValue(expr.Min))
	case expr.Max != nil:
		return fmt.Sprintf("%s <= %s", field, escapeNumericValue(expr.Max))
	default:
		return ""
	}
}

func convertInExpression(expr searchkit.InExpr) string {
	if len(expr.Values) == 0 {
		return ""
	}
	field := escapeField(expr.Field)
	parts := make([]string, 0, len(expr.Values))
	for _, v := range expr.Values {
		parts = append(parts, fmt.Sprintf("%s:%s", field, escapeValue(v)))
	}
	return strings.Join(parts, " OR ")
}

// escapeField quotes field names containing filter syntax characters.
func escapeField(field string) string {
	if strings.ContainsAny(field, " :-()") {
		return fmt.Sprintf(`"%s"`, field)
	}
	return field
}

// escapeValue quotes a facet value and escapes internal quotes.
func escapeValue(value interface{}) string {
	if value == nil {
		return "null"
	}

	switch v := value.(type) {
	case string:
		escaped := strings.ReplaceAll(v, `"`, `\"`)
		return fmt.Sprintf(`"%s"`, escaped)
	case bool:
		return fmt.Sprintf(`"%s"`, strconv.FormatBool(v))
	default:
		return fmt.Sprintf(`"%v"`, value)
	}
}

// escapeNumericValue renders numbers bare and falls back to escapeValue.
func escapeNumericValue(value interface{}) string {
	if value == nil {
		return "0"
	}

	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%v", v)
	case float32, float64:
		return fmt.Sprintf("%v", v)
	default:
		if str := fmt.Sprintf("%v", value); str != "" {
			if _, err := strconv.ParseFloat(str, 64); err == nil {
				return str
			}
		}
		return escapeValue(value)
	}
}
