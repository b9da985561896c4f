package searchkit

import "github.com/cockroachdb/errors"

// EncodeFilter converts an expression to the operator tree sent on the wire:
//
//	{"op":"eq","field":"color","value":"red"}
//	{"op":"and","exprs":[...]}
func EncodeFilter(expr Expression) (map[string]any, error) {
	switch e := expr.(type) {
	case AndExpr:
		children, err := EncodeFilters(e.Exprs)
		if err != nil {
			return nil, err
		}
		return map[string]any{"op": string(OpAnd), "exprs": children}, nil
	case OrExpr:
		children, err := EncodeFilters(e.Exprs)
		if err != nil {
			return nil, err
		}
		return map[string]any{"op": string(OpOr), "exprs": children}, nil
	case NotExpr:
		inner, err := EncodeFilter(e.Inner)
		if err != nil {
			return nil, err
		}
		return map[string]any{"op": string(OpNot), "expr": inner}, nil
	case CompareExpr:
		return map[string]any{"op": string(e.Operator), "field": e.Field, "value": e.Value}, nil
	case RangeExpr:
		out := map[string]any{"op": string(OpRange), "field": e.Field}
		if e.Min != nil {
			out["min"] = e.Min
		}
		if e.Max != nil {
			out["max"] = e.Max
		}
		return out, nil
	case ExistsExpr:
		return map[string]any{"op": string(OpExists), "field": e.Field}, nil
	case InExpr:
		values := e.Values
		if values == nil {
			values = []any{}
		}
		return map[string]any{"op": string(OpIn), "field": e.Field, "values": values}, nil
	case nil:
		return nil, InvalidQueryError("nil filter expression")
	default:
		return nil, InvalidQueryError("unsupported filter expression %T", expr)
	}
}

// EncodeFilters encodes a filter list, preserving order.
func EncodeFilters(exprs []Expression) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(exprs))
	for i, expr := range exprs {
		encoded, err := EncodeFilter(expr)
		if err != nil {
			return nil, errors.Wrapf(err, "filter %d", i)
		}
		out = append(out, encoded)
	}
	return out, nil
}
