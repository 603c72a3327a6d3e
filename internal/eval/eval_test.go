package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamkash/intellispec/internal/apperror"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want float64
	}{
		{"single literal", "42", 42},
		{"decimal literal", "3.5", 3.5},
		{"addition", "2+3", 5},
		{"precedence", "2+3*4", 14},
		{"parentheses", "(2+3)*4", 20},
		{"left associativity subtraction", "10-4-3", 3},
		{"left associativity division", "100/5/2", 10},
		{"unary minus", "-5+8", 3},
		{"nested parens", "((1+2)*(3+4))", 21},
		{"mixed spacing", " 2 + 3 * ( 4 - 1 ) ", 11},
		{"negated group", "-(2+3)", -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.expr)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEvaluateRejectsNonWhitelistedInput(t *testing.T) {
	exprs := []string{
		"process.exit()",
		"2+foo",
		"1; 2",
		"2**3",
		"__proto__",
		"1e3",
		"0x10",
		"a",
		`"2"+"3"`,
	}
	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			_, err := Evaluate(expr)
			require.Error(t, err)
			assert.True(t, apperror.IsKind(err, apperror.KindValidation), "expected validation error, got %v", err)
		})
	}
}

func TestEvaluateRejectsMalformedExpressions(t *testing.T) {
	exprs := []string{
		"",
		"   ",
		"(2+3",
		"2+3)",
		"2+",
		"*3",
		"1..2",
		"2 3",
		"()",
	}
	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			_, err := Evaluate(expr)
			require.Error(t, err)
			assert.True(t, apperror.IsKind(err, apperror.KindValidation))
		})
	}
}

func TestEvaluateDivisionByZero(t *testing.T) {
	_, err := Evaluate("1/0")
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))

	_, err = Evaluate("1/(2-2)")
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}
