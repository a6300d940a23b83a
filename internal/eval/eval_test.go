package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainindexer/internal/lang"
)

func mustFilter(t *testing.T, src string) *lang.Expr {
	t.Helper()
	expr, err := lang.ParseFilter(src)
	require.NoError(t, err)
	return expr
}

func mustArith(t *testing.T, src string) *lang.ArithNode {
	t.Helper()
	node, err := lang.ParseArithmetic(src)
	require.NoError(t, err)
	return node
}

func TestEvalSimpleComparison(t *testing.T) {
	expr := mustFilter(t, "$value > 100")
	ok, err := Eval(expr, Fields{"value": "150"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Eval(expr, Fields{"value": "50"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalWideIntegerDecimalStringNormalization(t *testing.T) {
	// A field wider than 64 bits arrives JSON-encoded as a decimal string
	// (internal/wire.ToJSON); the evaluator must still compare it as an
	// integer, not lexicographically.
	expr := mustFilter(t, "$balance > 9")
	ok, err := Eval(expr, Fields{"balance": "10000000000000000000"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalLogicalAndShortCircuits(t *testing.T) {
	expr := mustFilter(t, "$value > 0 && $value > 10")
	ok, err := Eval(expr, Fields{"value": "-5"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalLogicalOr(t *testing.T) {
	expr := mustFilter(t, "$value > 1000 || $force == true")
	ok, err := Eval(expr, Fields{"value": "1", "force": true})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalBooleanComparison(t *testing.T) {
	expr := mustFilter(t, "$force == true")
	ok, err := Eval(expr, Fields{"force": true})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Eval(expr, Fields{"force": false})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalFieldAccessorsWalkArraysAndObjects(t *testing.T) {
	expr := mustFilter(t, "$data.0 == 5")
	ok, err := Eval(expr, Fields{"data": []any{"5", "6"}})
	require.NoError(t, err)
	assert.True(t, ok)

	expr2 := mustFilter(t, "$data[1] == 6")
	ok, err = Eval(expr2, Fields{"data": []any{"5", "6"}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalArithmeticOperators(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"1 + 2 * 3", "7"},
		{"(1 + 2) * 3", "9"},
		{"10 / 3", "3"},
		{"2 ^ 8", "256"},
		{"2 * 3 ^ 2", "18"},
	}
	for _, tt := range tests {
		node := mustArith(t, tt.expr)
		result, err := EvalArithmetic(node, nil)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, result.String(), tt.expr)
	}
}

func TestEvalArithmeticDivisionByZeroErrors(t *testing.T) {
	node := mustArith(t, "1 / 0")
	_, err := EvalArithmetic(node, nil)
	assert.Error(t, err)
}

func TestEvalArithmeticPowerOverflowErrors(t *testing.T) {
	node := mustArith(t, "2 ^ 300")
	_, err := EvalArithmetic(node, nil)
	assert.Error(t, err)
}

func TestEvalArithmeticPowerNegativeErrors(t *testing.T) {
	node := mustArith(t, "-2 ^ 2")
	_, err := EvalArithmetic(node, nil)
	assert.Error(t, err)
}

func TestEvalArithmeticViewCallDecimalsPattern(t *testing.T) {
	// "$amount / (10 ^ $call($asset,"decimals()"))" is resolved upstream by
	// substituting the call with its numeric result before this package
	// ever sees the expression; here we exercise the arithmetic shape that
	// substitution leaves behind.
	node := mustArith(t, "1000000000000000000 / (10 ^ 18)")
	result, err := EvalArithmetic(node, nil)
	require.NoError(t, err)
	assert.Equal(t, "1", result.String())
}

func TestEvalArithmeticStringLiteralPassesThroughWithoutOp(t *testing.T) {
	node := mustArith(t, "'hello'")
	result, err := EvalArithmetic(node, nil)
	require.NoError(t, err)
	assert.Equal(t, ResultString, result.Kind)
	assert.Equal(t, "hello", result.Str)
}

func TestEvalArithmeticMixedStringErrors(t *testing.T) {
	node := mustArith(t, "1 + $name")
	_, err := EvalArithmetic(node, Fields{"name": "not-a-number"})
	assert.Error(t, err)
}

func TestEvalUnresolvedFieldErrors(t *testing.T) {
	expr := mustFilter(t, "$missing > 0")
	_, err := Eval(expr, Fields{})
	assert.Error(t, err)
}

// --- SQL push-down, grounded directly on the upstream to_sql_condition
// test suite (variable substitutions, operator mapping, quoting rules).

func TestCompileSQLSimple(t *testing.T) {
	tableName := "token_balances"

	expr1 := mustFilter(t, "$value > 100")
	sql, err := CompileSQL(expr1, tableName)
	require.NoError(t, err)
	assert.Equal(t, `EXCLUDED."value" > 100`, sql)

	expr2 := mustFilter(t, "@balance < 1000")
	sql, err = CompileSQL(expr2, tableName)
	require.NoError(t, err)
	assert.Equal(t, `token_balances."balance" < 1000`, sql)

	expr3 := mustFilter(t, "$value > @balance")
	sql, err = CompileSQL(expr3, tableName)
	require.NoError(t, err)
	assert.Equal(t, `EXCLUDED."value" > token_balances."balance"`, sql)
}

func TestCompileSQLLogical(t *testing.T) {
	tableName := "token_balances"

	expr1 := mustFilter(t, "$value > 0 && $value > @balance")
	sql, err := CompileSQL(expr1, tableName)
	require.NoError(t, err)
	assert.Equal(t, `(EXCLUDED."value" > 0 AND EXCLUDED."value" > token_balances."balance")`, sql)

	expr2 := mustFilter(t, "$value > @balance || $force == true")
	sql, err = CompileSQL(expr2, tableName)
	require.NoError(t, err)
	assert.Equal(t, `(EXCLUDED."value" > token_balances."balance" OR EXCLUDED."force" = TRUE)`, sql)
}

func TestCompileSQLSchemaQualifiedTable(t *testing.T) {
	tableName := `"myschema"."token_balances"`
	expr := mustFilter(t, "$value > @balance")
	sql, err := CompileSQL(expr, tableName)
	require.NoError(t, err)
	assert.Equal(t, `EXCLUDED."value" > "myschema"."token_balances"."balance"`, sql)
}

func TestCompileSQLReservedKeywordColumns(t *testing.T) {
	expr := mustFilter(t, "$order > @group")
	sql, err := CompileSQL(expr, "my_table")
	require.NoError(t, err)
	assert.Equal(t, `EXCLUDED."order" > my_table."group"`, sql)
}

func TestCompileSQLStringEscaping(t *testing.T) {
	expr := mustFilter(t, `$name == "O'Brien"`)
	sql, err := CompileSQL(expr, "my_table")
	require.NoError(t, err)
	assert.Equal(t, `EXCLUDED."name" = 'O''Brien'`, sql)

	expr2 := mustFilter(t, `$desc == "It's a 'test'"`)
	sql, err = CompileSQL(expr2, "my_table")
	require.NoError(t, err)
	assert.Equal(t, `EXCLUDED."desc" = 'It''s a ''test'''`, sql)
}

func TestCompileSQLPowerUsesPowerFunction(t *testing.T) {
	expr := mustFilter(t, "@amount > 10 ^ 18")
	sql, err := CompileSQL(expr, "my_table")
	require.NoError(t, err)
	assert.Equal(t, `my_table."amount" > POWER(10, 18)`, sql)
}
