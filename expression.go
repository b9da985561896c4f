package searchkit

// Expression represents a composable filter expression.
// All Expressions are SearchOptions, but not all SearchOptions are Expressions.
type Expression interface {
	SearchOption
	// Op reports the operator the expression applies.
	Op() Operator
}

// addFilter appends expr to the query's conjunctive filter list.
func addFilter(params *QueryParams, expr Expression) {
	params.Filters = append(params.Filters, expr)
}

// AndExpr represents an AND combination of expressions.
type AndExpr struct {
	// Exprs contains the expressions to combine with AND logic.
	Exprs []Expression
}

func (a AndExpr) Apply(params *QueryParams) { addFilter(params, a) }
func (AndExpr) Op() Operator { return OpAnd }

// And creates an AND expression combining multiple expressions.
func And(exprs ...Expression) Expression {
	return AndExpr{Exprs: exprs}
}

// OrExpr represents an OR combination of expressions.
type OrExpr struct {
	// Exprs contains the expressions to combine with OR logic.
	Exprs []Expression
}

func (o OrExpr) Apply(params *QueryParams) { addFilter(params, o) }
func (OrExpr) Op() Operator { return OpOr }

// Or creates an OR expression combining multiple expressions.
func Or(exprs ...Expression) Expression {
	return OrExpr{Exprs: exprs}
}

// NotExpr represents a NOT negation of an expression.
type NotExpr struct {
	// Inner is the expression to negate.
	Inner Expression
}

func (n NotExpr) Apply(params *QueryParams) { addFilter(params, n) }
func (NotExpr) Op() Operator { return OpNot }

// Not creates a NOT expression negating the given expression.
func Not(expr Expression) Expression {
	return NotExpr{Inner: expr}
}

// CompareExpr is a single field comparison (eq, ne, gt, gte, lt, lte).
type CompareExpr struct {
	// Operator is the comparison to apply.
	Operator Operator
	// Field is the name of the field to compare.
	Field string
	// Value is the value to compare against.
	Value any
}

func (c CompareExpr) Apply(params *QueryParams) { addFilter(params, c) }
func (c CompareExpr) Op() Operator { return c.Operator }

// Eq creates an equality comparison expression.
func Eq(field string, value any) Expression {
	return CompareExpr{Operator: OpEq, Field: field, Value: value}
}

// Ne creates a not-equal comparison expression.
func Ne(field string, value any) Expression {
	return CompareExpr{Operator: OpNe, Field: field, Value: value}
}

// Gt creates a greater-than comparison expression.
func Gt(field string, value any) Expression {
	return CompareExpr{Operator: OpGt, Field: field, Value: value}
}

// Gte creates a greater-than-or-equal comparison expression.
func Gte(field string, value any) Expression {
	return CompareExpr{Operator: OpGte, Field: field, Value: value}
}

// Lt creates a less-than comparison expression.
func Lt(field string, value any) Expression {
	return CompareExpr{Operator: OpLt, Field: field, Value: value}
}

// Lte creates a less-than-or-equal comparison expression.
func Lte(field string, value any) Expression {
	return CompareExpr{Operator: OpLte, Field: field, Value: value}
}

// RangeExpr represents a range comparison expression.
type RangeExpr struct {
	// Field is the name of the field to compare.
	Field string
	// Min is the minimum value of the range (inclusive). Can be nil for no lower bound.
	Min any
	// Max is the maximum value of the range (inclusive). Can be nil for no upper bound.
	Max any
}

func (r RangeExpr) Apply(params *QueryParams) { addFilter(params, r) }
func (RangeExpr) Op() Operator { return OpRange }

// Range creates a range comparison expression.
func Range(field string, min, max any) Expression {
	return RangeExpr{Field: field, Min: min, Max: max}
}

// ExistsExpr represents a field existence check expression.
type ExistsExpr struct {
	// Field is the name of the field to check for existence.
	Field string
}

func (e ExistsExpr) Apply(params *QueryParams) { addFilter(params, e) }
func (ExistsExpr) Op() Operator { return OpExists }

// Exists creates a field existence check expression.
func Exists(field string) Expression {
	return ExistsExpr{Field: field}
}

// InExpr matches documents whose field equals any of Values.
type InExpr struct {
	Field  string
	Values []any
}

func (i InExpr) Apply(params *QueryParams) { addFilter(params, i) }
func (InExpr) Op() Operator { return OpIn }

// In creates a set membership expression.
func In(field string, values ...any) Expression {
	return InExpr{Field: field, Values: values}
}
