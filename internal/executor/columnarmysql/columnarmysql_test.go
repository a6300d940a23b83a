package columnarmysql

import (
	"context"
	"math/big"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"chainindexer/internal/executor"
	"chainindexer/internal/tv"
)

func TestQuoteIdentEscapesBacktick(t *testing.T) {
	assert.Equal(t, "`normal`", quoteIdent("normal"))
	assert.Equal(t, "`weird``col`", quoteIdent("weird`col"))
}

func TestQuoteQualifiedTableSplitsOnDot(t *testing.T) {
	assert.Equal(t, "`mydb`.`token_balances`", quoteQualifiedTable("mydb.token_balances"))
	assert.Equal(t, "`token_balances`", quoteQualifiedTable("token_balances"))
}

func TestTranslateToMySQLRewritesExcludedAndQuotes(t *testing.T) {
	in := `EXCLUDED."value" > "mytable"."threshold"`
	got := translateToMySQL(in)
	assert.Equal(t, "VALUES(`value`) > `mytable`.`threshold`", got)
}

func TestArgForMySQLConvertsIntegerToDecimalString(t *testing.T) {
	v := tv.NewUint(256, tv.RepNumeric, big.NewInt(12345))
	arg, err := argForMySQL(v)
	require.NoError(t, err)
	assert.Equal(t, "12345", arg)
}

func TestArgForMySQLNullKindYieldsNilArg(t *testing.T) {
	arg, err := argForMySQL(tv.Null())
	require.NoError(t, err)
	assert.Nil(t, arg)
}

func TestArgForMySQLAddressYieldsHexString(t *testing.T) {
	var raw [20]byte
	raw[19] = 0xAB
	v := tv.NewAddress(raw)
	arg, err := argForMySQL(v)
	require.NoError(t, err)
	assert.Equal(t, v.Str, arg)
}

func TestBuildInsertStatementPlainInsert(t *testing.T) {
	rows := []executor.Row{
		{
			{Name: "holder", Value: tv.NewString("0xabc"), Action: executor.ActionWhere},
			{Name: "balance", Value: tv.NewUint(256, tv.RepNumeric, big.NewInt(10)), Action: executor.ActionSet},
		},
	}
	stmt, args, err := buildInsertStatement("`token_balances`", columnNames(rows[0]), rows, false, "")
	require.NoError(t, err)
	assert.Contains(t, stmt, "INSERT INTO `token_balances`")
	assert.NotContains(t, stmt, "ON DUPLICATE")
	require.Len(t, args, 2)
}

func TestBuildInsertStatementUpsertAddsOnDuplicateClause(t *testing.T) {
	rows := []executor.Row{
		{
			{Name: "holder", Value: tv.NewString("0xabc"), Action: executor.ActionWhere},
			{Name: "balance", Value: tv.NewUint(256, tv.RepNumeric, big.NewInt(10)), Action: executor.ActionAdd},
		},
	}
	stmt, _, err := buildInsertStatement("`token_balances`", columnNames(rows[0]), rows, true, "")
	require.NoError(t, err)
	assert.Contains(t, stmt, "ON DUPLICATE KEY UPDATE")
	assert.Contains(t, stmt, "`balance` = `balance` + VALUES(`balance`)")
}

func TestBuildInsertStatementUpsertGatesOnSQLWhere(t *testing.T) {
	rows := []executor.Row{
		{
			{Name: "holder", Value: tv.NewString("0xabc"), Action: executor.ActionWhere},
			{Name: "balance", Value: tv.NewUint(256, tv.RepNumeric, big.NewInt(10)), Action: executor.ActionSet},
		},
	}
	stmt, _, err := buildInsertStatement("`token_balances`", columnNames(rows[0]), rows, true, `EXCLUDED."balance" > "token_balances"."balance"`)
	require.NoError(t, err)
	assert.Contains(t, stmt, "IF(VALUES(`balance`) > `token_balances`.`balance`, VALUES(`balance`), `balance`)")
}

func TestDedupeByDistinctKeyKeepsHighestSequence(t *testing.T) {
	mkRow := func(pool string, reserve, seq int64) executor.Row {
		return executor.Row{
			{Name: "pool", Value: tv.NewString(pool), Behavior: executor.Distinct},
			{Name: "reserve0", Value: tv.NewUint(256, tv.RepNumeric, big.NewInt(reserve))},
			{Name: "rindexer_sequence_id", Value: tv.NewUint(256, tv.RepNumeric, big.NewInt(seq)), Behavior: executor.Sequence},
		}
	}
	rows := []executor.Row{
		mkRow("0xpool", 100, 5),
		mkRow("0xpool", 200, 9),
		mkRow("0xpool", 150, 7),
		mkRow("0xother", 1, 1),
	}

	deduped := dedupeByDistinctKey(rows)
	require.Len(t, deduped, 2)
	assert.Equal(t, "0xpool", deduped[0][0].Value.Str)
	assert.Equal(t, big.NewInt(200), deduped[0][1].Value.Int)
	assert.Equal(t, "0xother", deduped[1][0].Value.Str)
}

func TestDedupeByDistinctKeyPassesThroughWithoutDistinctColumns(t *testing.T) {
	rows := []executor.Row{
		{{Name: "a", Value: tv.NewString("x")}},
		{{Name: "a", Value: tv.NewString("y")}},
	}
	assert.Len(t, dedupeByDistinctKey(rows), 2)
}

// --- integration: requires Docker, skipped in short mode ---

type testMySQLContainer struct {
	dsn string
}

func setupMySQL(t *testing.T) *testMySQLContainer {
	t.Helper()
	ctx := context.Background()

	c, err := mysql.Run(ctx, "mysql:8.0",
		mysql.WithDatabase("testdb"),
		mysql.WithUsername("root"),
		mysql.WithPassword("testpass"),
	)
	require.NoError(t, err, "failed to start MySQL container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := c.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err, "failed to get connection string")
	return &testMySQLContainer{dsn: dsn}
}

func TestExecutorUpsertIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tc := setupMySQL(t)
	ctx := context.Background()

	exec, err := Connect(ctx, tc.dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close() })

	_, err = exec.db.ExecContext(ctx, `CREATE TABLE token_balances (
		holder VARCHAR(42) PRIMARY KEY,
		balance VARCHAR(78) NOT NULL
	)`)
	require.NoError(t, err)

	row := func(holder string, balance int64) executor.Row {
		return executor.Row{
			{Name: "holder", Value: tv.NewString(holder), Action: executor.ActionWhere},
			{Name: "balance", Value: tv.NewUint(256, tv.RepNumeric, big.NewInt(balance)), Action: executor.ActionAdd},
		}
	}

	err = exec.Execute(ctx, "token_balances", executor.OpUpsert, []executor.Row{row("0xabc", 10)}, "Transfer", "")
	require.NoError(t, err)
	err = exec.Execute(ctx, "token_balances", executor.OpUpsert, []executor.Row{row("0xabc", 5)}, "Transfer", "")
	require.NoError(t, err)

	var balance string
	require.NoError(t, exec.db.QueryRowContext(ctx, "SELECT balance FROM token_balances WHERE holder = ?", "0xabc").Scan(&balance))
	assert.Equal(t, "15", balance)
}
