package algolia

import (
	"testing"

	"github.com/letmevibethatforyou/searchkit"
)

func TestConvertExpressionToFilter(t *testing.T) {
	tests := []struct {
		name     string
		expr     searchkit.Expression
		expected string
	}{
		{
			name:     "equality expression",
			expr:     searchkit.Eq("status", "active"),
			expected: `status:"active"`,
		},
		{
			name:     "not equal expression",
			expr:     searchkit.Ne("status", "deleted"),
			expected: `NOT status:"deleted"`,
		},
		{
			name:     "greater than expression",
			expr:     searchkit.Gt("price", 100),
			expected: "price > 100",
		},
		{
			name:     "greater than or equal expression",
			expr:     searchkit.Gte("price", 50),
			expected: "price >= 50",
		},
		{
			name:     "less than expression",
			expr:     searchkit.Lt("price", 200),
			expected: "price < 200",
		},
		{
			name:     "less than or equal expression",
			expr:     searchkit.Lte("price", 150),
			expected: "price <= 150",
		},
		{
			name:     "range expression",
			expr:     searchkit.Range("price", 50, 200),
			expected: "price:50 TO 200",
		},
		{
			name:     "range expression with nil min",
			expr:     searchkit.Range("price", nil, 200),
			expected: "price <= 200",
		},
		{
			name:     "range expression with nil max",
			expr:     searchkit.Range("price", 50, nil),
			expected: "price >= 50",
		},
		{
			name:     "open range",
			expr:     searchkit.Range("price", nil, nil),
			expected: "",
		},
		{
			name:     "exists expression",
			expr:     searchkit.Exists("description"),
			expected: "description:*",
		},
		{
			name:     "in expression",
			expr:     searchkit.In("brand", "acme", "zenith"),
			expected: `brand:"acme" OR brand:"zenith"`,
		},
		{
			name:     "empty in expression",
			expr:     searchkit.In("brand"),
			expected: "",
		},
		{
			name:     "AND expression",
			expr:     searchkit.And(searchkit.Eq("status", "active"), searchkit.Gt("price", 100)),
			expected: `(status:"active") AND (price > 100)`,
		},
		{
			name:     "OR expression",
			expr:     searchkit.Or(searchkit.Eq("category", "electronics"), searchkit.Eq("category", "books")),
			expected: `(category:"electronics") OR (category:"books")`,
		},
		{
			name:     "NOT expression",
			expr:     searchkit.Not(searchkit.Eq("status", "deleted")),
			expected: `NOT (status:"deleted")`,
		},
		{
			name: "complex nested expression",
			expr: searchkit.And(
				searchkit.Eq("status", "active"),
				searchkit.Or(
					searchkit.Gt("price", 100),
					searchkit.Eq("featured", true),
				),
			),
			expected: `(status:"active") AND ((price > 100) OR (featured:"true"))`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := convertExpressionToFilter(tt.expr)
			if result != tt.expected {
				t.Errorf("Expected filter '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestEscapeField(t *testing.T) {
	tests := []struct {
		field    string
		expected string
	}{
		{"title", "title"},
		{"product name", `"product name"`},
		{"user:id", `"user:id"`},
		{"created-at", `"created-at"`},
		{"count(items)", `"count(items)"`},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			if result := escapeField(tt.field); result != tt.expected {
				t.Errorf("Expected escaped field '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestEscapeValue(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected string
	}{
		{"string value", "test", `"test"`},
		{"string with quotes", `hello "world"`, `"hello \"world\""`},
		{"boolean true", true, `"true"`},
		{"nil value", nil, "null"},
		{"integer value", 42, `"42"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := escapeValue(tt.value); result != tt.expected {
				t.Errorf("Expected escaped value '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestEscapeNumericValue(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected string
	}{
		{"integer", 42, "42"},
		{"float", 3.14, "3.14"},
		{"negative number", -100, "-100"},
		{"string number", "123.45", "123.45"},
		{"non-numeric string", "abc", `"abc"`},
		{"nil", nil, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := escapeNumericValue(tt.value); result != tt.expected {
				t.Errorf("Expected escaped numeric value '%s', got '%s'", tt.expected, result)
			}
		})
	}
}
