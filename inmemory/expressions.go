package inmemory

import (
	"fmt"

	"github.com/letmevibethatforyou/searchkit"
)

// matchesFilters checks if a document matches all the filter expressions.
func (s *Store) matchesFilters(doc Document, filters []searchkit.Expression) bool {
	for _, filter := range filters {
		if !s.evaluateExpression(doc, filter) {
			return false
		}
	}
	return true
}

// evaluateExpression evaluates a single expression against a document.
// Unknown expression types match everything.
func (s *Store) evaluateExpression(doc Document, expr searchkit.Expression) bool {
	switch e := expr.(type) {
	case searchkit.AndExpr:
		for _, inner := range e.Exprs {
			if !s.evaluateExpression(doc, inner) {
				return false
			}
		}
		return true
	case searchkit.OrExpr:
		for _, inner := range e.Exprs {
			if s.evaluateExpression(doc, inner) {
				return true
			}
		}
		return false
	case searchkit.NotExpr:
		return !s.evaluateExpression(doc, e.Inner)
	case searchkit.CompareExpr:
		return s.evaluateCompare(doc, e)
	case searchkit.RangeExpr:
		return s.evaluateRange(doc, e)
	case searchkit.ExistsExpr:
		_, exists := doc.Fields[e.Field]
		return exists
	case searchkit.InExpr:
		return s.evaluateIn(doc, e)
	default:
		return true
	}
}

func (s *Store) evaluateCompare(doc Document, expr searchkit.CompareExpr) bool {
	docValue, exists := doc.Fields[expr.Field]

	switch expr.Operator {
	case searchkit.OpEq:
		if !exists {
			return expr.Value == nil
		}
		return s.compareEqual(docValue, expr.Value)
	case searchkit.OpNe:
		if !exists {
			return expr.Value != nil
		}
		return !s.compareEqual(docValue, expr.Value)
	}

	if !exists {
		return false
	}
	cmp := s.compareValues(docValue, expr.Value)
	switch expr.Operator {
	case searchkit.OpGt:
		return cmp > 0
	case searchkit.OpGte:
		return cmp >= 0
	case searchkit.OpLt:
		return cmp < 0
	case searchkit.OpLte:
		return cmp <= 0
	default:
		return true
	}
}

func (s *Store) evaluateRange(doc Document, expr searchkit.RangeExpr) bool {
	docValue, exists := doc.Fields[expr.Field]
	if !exists {
		return false
	}

	if expr.Min != nil && s.compareValues(docValue, expr.Min) < 0 {
		return false
	}
	if expr.Max != nil && s.compareValues(docValue, expr.Max) > 0 {
		return false
	}
	return true
}

func (s *Store) evaluateIn(doc Document, expr searchkit.InExpr) bool {
	docValue, exists := doc.Fields[expr.Field]
	if !exists {
		return false
	}
	for _, v := range expr.Values {
		if s.compareEqual(docValue, v) {
			return true
		}
	}
	return false
}

// compareEqual compares numbers numerically and everything else by string form.
func (s *Store) compareEqual(v1, v2 interface{}) bool {
	if v1 == nil || v2 == nil {
		return v1 == v2
	}

	if f1, ok1 := toFloat64(v1); ok1 {
		if f2, ok2 := toFloat64(v2); ok2 {
			return f1 == f2
		}
	}

	return fmt.Sprintf("%v", v1) == fmt.Sprintf("%v", v2)
}

func toFloat64(v interface{}) (float64, bool) {
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
	default:
		return 0, false
	}
}
