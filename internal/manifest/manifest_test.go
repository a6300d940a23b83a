package manifest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainindexer/internal/tv"
)

const validManifest = `
tables:
  - name: token_balances
    columns:
      - name: holder
        type: address
      - name: balance
        type: uint256
    events:
      - event: Transfer
        operations:
          - type: upsert
            where:
              holder: "$to"
            filter: "$value > 0"
            set:
              - column: balance
                action: add
                value: "$value"
  - name: pool_reserves
    columns:
      - name: pool
        type: address
      - name: reserve0
        type: uint112
    events:
      - event: Sync
        operations:
          - type: upsert
            where:
              pool: "$rindexer_contract_address"
            set:
              - column: reserve0
                action: set
                value: "$call($rindexer_contract_address, \"getReserves() returns (uint112 reserve0, uint112 reserve1)\").reserve0"
constants:
  oracle:
    ethereum: "0x0000000000000000000000000000000000000001"
    polygon: "0x0000000000000000000000000000000000000002"
  fee_bps: "30"
`

func TestParseValidManifest(t *testing.T) {
	m, err := Parse(strings.NewReader(validManifest))
	require.NoError(t, err)
	require.Len(t, m.Tables, 2)

	tb := m.FindTable("token_balances")
	require.NotNil(t, tb)
	assert.Equal(t, tv.KindAddress, tb.FindColumn("holder").Type.Kind)
	assert.Equal(t, tv.KindUint, tb.FindColumn("balance").Type.Kind)
	assert.Equal(t, 256, tb.FindColumn("balance").Type.Width)

	pool := m.FindTable("pool_reserves")
	require.NotNil(t, pool)
	require.Len(t, pool.Events, 1)
	require.Len(t, pool.Events[0].Operations, 1)
	assert.Equal(t, OpUpsert, pool.Events[0].Operations[0].Type)

	assert.Contains(t, m.Constants, "oracle")
	v, ok := m.Constants["oracle"].Resolve("ethereum")
	assert.True(t, ok)
	assert.Equal(t, "0x0000000000000000000000000000000000000001", v)
}

func TestParseRejectsDuplicateTableName(t *testing.T) {
	const doc = `
tables:
  - name: foo
    columns: [{name: a, type: string}]
    events: [{event: E, operations: [{type: insert, set: [{column: a, action: set, value: "$x"}]}]}]
  - name: foo
    columns: [{name: a, type: string}]
    events: [{event: E, operations: [{type: insert, set: [{column: a, action: set, value: "$x"}]}]}]
`
	_, err := Parse(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestParseRejectsMalformedFilterExpression(t *testing.T) {
	const doc = `
tables:
  - name: foo
    columns: [{name: a, type: string}]
    events:
      - event: E
        operations:
          - type: upsert
            filter: "$value >"
            where: {a: "$x"}
`
	_, err := Parse(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestParseRejectsUnknownOperationType(t *testing.T) {
	const doc = `
tables:
  - name: foo
    columns: [{name: a, type: string}]
    events:
      - event: E
        operations:
          - type: upsert_everything
            where: {a: "$x"}
`
	_, err := Parse(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestParseRejectsUnknownSetAction(t *testing.T) {
	const doc = `
tables:
  - name: foo
    columns: [{name: a, type: string}]
    events:
      - event: E
        operations:
          - type: insert
            set:
              - column: a
                action: multiply
                value: "$x"
`
	_, err := Parse(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestParseRejectsUndeclaredConstantReference(t *testing.T) {
	const doc = `
tables:
  - name: foo
    columns: [{name: a, type: string}]
    events:
      - event: E
        operations:
          - type: insert
            set:
              - column: a
                action: set
                value: "$constant(missing_constant)"
`
	_, err := Parse(strings.NewReader(doc))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared constant")
}

func TestParseRejectsMalformedCallSignature(t *testing.T) {
	const doc = `
tables:
  - name: foo
    columns: [{name: a, type: uint256}]
    events:
      - event: E
        operations:
          - type: insert
            set:
              - column: a
                action: set
                value: "$call($addr, notquoted)"
`
	_, err := Parse(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestParseRejectsTableWithNoEvents(t *testing.T) {
	const doc = `
tables:
  - name: foo
    columns: [{name: a, type: string}]
`
	_, err := Parse(strings.NewReader(doc))
	assert.Error(t, err)
}

func TestParseAcceptsTableWithNoColumns(t *testing.T) {
	// Columns are optional at the table level (they may be introduced
	// implicitly by a set clause), so an empty columns list alone must not
	// be rejected — only a missing events list and malformed expressions are.
	const doc = `
tables:
  - name: foo
    events:
      - event: E
        operations:
          - type: insert
            set:
              - column: newcol
                action: set
                value: "$x"
`
	m, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Empty(t, m.Tables[0].Columns)
}

func TestResolveColumnTypeVariants(t *testing.T) {
	cases := []struct {
		raw  string
		kind tv.Kind
	}{
		{"address", tv.KindAddress},
		{"bool", tv.KindBool},
		{"uint256", tv.KindUint},
		{"int128", tv.KindInt},
		{"string", tv.KindString},
		{"bytes32", tv.KindBytes},
		{"timestamptz", tv.KindTimestamp},
		{"bigint", tv.KindUint},
		{"char(66)", tv.KindString},
	}
	for _, tc := range cases {
		ct, err := ResolveColumnType(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.kind, ct.Kind, tc.raw)
	}
}

func TestResolveColumnTypeRejectsUnknown(t *testing.T) {
	_, err := ResolveColumnType("frobnicate")
	assert.Error(t, err)
}

func TestFindCallPatternsHandlesNestedParens(t *testing.T) {
	matches := FindCallPatterns(`$amount / (10 ^ $call($asset, "decimals()"))`)
	require.Len(t, matches, 1)
	assert.Equal(t, `$call($asset, "decimals()")`, matches[0].Expr)
}

func TestFindCallPatternsMultipleCalls(t *testing.T) {
	matches := FindCallPatterns(`$call($a, "f()") + $call($b, "g()")`)
	require.Len(t, matches, 2)
}

func TestParseCallSyntaxSplitsTargetSigAndArgs(t *testing.T) {
	parsed, err := ParseCallSyntax(`$call($token, "balanceOf(address)", $holder)`)
	require.NoError(t, err)
	assert.Equal(t, "$token", parsed.Target)
	assert.Equal(t, "balanceOf(address)", parsed.FunctionSig)
	require.Len(t, parsed.Args, 1)
	assert.Equal(t, "$holder", parsed.Args[0])
}

func TestParseCallSyntaxWithAccessor(t *testing.T) {
	parsed, err := ParseCallSyntax(`$call($pool, "getReserves()")[0]`)
	require.NoError(t, err)
	assert.Equal(t, "[0]", parsed.Accessor)
}

func TestExtractConstantRefsFindsNestedReference(t *testing.T) {
	names := ExtractConstantRefs(`$call($constant(oracle), "getPrice()")`)
	require.Len(t, names, 1)
	assert.Equal(t, "oracle", names[0])
}

func TestValidateValueExprAcceptsArithmeticWithPower(t *testing.T) {
	err := ValidateValueExpr("$amount / (10 ^ $call($asset, \"decimals()\"))")
	assert.NoError(t, err)
}

func TestValidateValueExprAcceptsTemplate(t *testing.T) {
	err := ValidateValueExpr("Pool: $token0/$token1")
	assert.NoError(t, err)
}

func TestValidateValueExprRejectsMalformedEmbeddedCall(t *testing.T) {
	// Plain text is always a valid template (spec.md §4.3: a literal
	// string with no interpolation is itself a legal value), so only a
	// malformed $call(...) embedded in it should be rejected.
	err := ValidateValueExpr(`price is $call($addr, notquoted)`)
	assert.Error(t, err)
}
