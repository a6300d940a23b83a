// Package columnarmysql is the reference Batch Executor (spec.md §6.1):
// a database/sql sink backed by MySQL, writing through the same
// connect/transact/statement-timing shape the teacher's migration
// applier uses for its own database work.
package columnarmysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"chainindexer/internal/executor"
	"chainindexer/internal/tv"
)

// Executor writes batches dispatched by the table runtime into MySQL.
// A zero Executor is not usable; construct one with Connect or New.
type Executor struct {
	db *sql.DB
	// ChunkSize bounds how many rows go into a single multi-row
	// INSERT/upsert statement, keeping well clear of max_allowed_packet.
	// Zero means DefaultChunkSize.
	ChunkSize int
}

// DefaultChunkSize is used when Executor.ChunkSize is unset.
const DefaultChunkSize = 500

// New wraps an already-opened database handle.
func New(db *sql.DB) *Executor {
	return &Executor{db: db}
}

// Connect opens a MySQL connection and pings it to verify reachability,
// mirroring the teacher's own Connect/Close pair.
func Connect(ctx context.Context, dsn string) (*Executor, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("columnarmysql: failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("columnarmysql: failed to ping database: %w; additionally failed to close connection: %w", err, closeErr)
		}
		return nil, fmt.Errorf("columnarmysql: failed to ping database: %w", err)
	}
	return &Executor{db: db}, nil
}

// Close closes the underlying connection pool.
func (e *Executor) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

func (e *Executor) chunkSize() int {
	if e.ChunkSize > 0 {
		return e.ChunkSize
	}
	return DefaultChunkSize
}

// Execute implements executor.BatchExecutor.
func (e *Executor) Execute(ctx context.Context, qualifiedTableName string, op executor.OpType, rows []executor.Row, eventLabel string, sqlWhere string) error {
	if len(rows) == 0 {
		return nil
	}

	table := quoteQualifiedTable(qualifiedTableName)

	switch op {
	case executor.OpInsert:
		return e.execInsertLike(ctx, table, rows, eventLabel, "", false)
	case executor.OpUpsert:
		deduped := dedupeByDistinctKey(rows)
		return e.execInsertLike(ctx, table, deduped, eventLabel, sqlWhere, true)
	case executor.OpUpdate:
		return e.execUpdate(ctx, table, rows, eventLabel, sqlWhere)
	case executor.OpDelete:
		return e.execDelete(ctx, table, rows, eventLabel, sqlWhere)
	default:
		return fmt.Errorf("columnarmysql: unknown op type %d for event %s", op, eventLabel)
	}
}

// execInsertLike handles both plain inserts and upserts, chunking the
// row set into bounded multi-row statements executed inside one
// transaction (the teacher's applyWithTransaction shape).
func (e *Executor) execInsertLike(ctx context.Context, table string, rows []executor.Row, eventLabel, sqlWhere string, upsert bool) error {
	names := columnNames(rows[0])

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("columnarmysql: begin transaction for %s: %w", eventLabel, err)
	}

	chunk := e.chunkSize()
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		batch := rows[start:end]

		stmt, args, err := buildInsertStatement(table, names, batch, upsert, sqlWhere)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("columnarmysql: building statement for %s: %w", eventLabel, err)
		}

		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("columnarmysql: %s batch %d-%d failed: %w; rollback also failed: %w", eventLabel, start, end, err, rbErr)
			}
			return fmt.Errorf("columnarmysql: %s batch %d-%d failed (rolled back): %w", eventLabel, start, end, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("columnarmysql: commit for %s: %w", eventLabel, err)
	}
	return nil
}

func buildInsertStatement(table string, names []string, rows []executor.Row, upsert bool, sqlWhere string) (string, []any, error) {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(quoted, ", "))
	sb.WriteString(") VALUES ")

	placeholderRow := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ") + ")"
	rowPlaceholders := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(names))
	for i, row := range rows {
		rowPlaceholders[i] = placeholderRow
		for _, col := range row {
			arg, err := argForMySQL(col.Value)
			if err != nil {
				return "", nil, err
			}
			args = append(args, arg)
		}
	}
	sb.WriteString(strings.Join(rowPlaceholders, ", "))

	if upsert {
		assignments, err := updateAssignments(rows[0], sqlWhere)
		if err != nil {
			return "", nil, err
		}
		if len(assignments) > 0 {
			sb.WriteString(" ON DUPLICATE KEY UPDATE ")
			sb.WriteString(strings.Join(assignments, ", "))
		}
	}

	return sb.String(), args, nil
}

// updateAssignments builds the ON DUPLICATE KEY UPDATE clause's per-column
// expressions for every column carrying a write Action. When sqlWhere is
// non-empty it gates each assignment individually, since MySQL's upsert
// syntax has no clause-level WHERE of its own: `col = IF(<cond>, <expr>, col)`.
func updateAssignments(row executor.Row, sqlWhere string) ([]string, error) {
	cond := ""
	if sqlWhere != "" {
		cond = translateToMySQL(sqlWhere)
	}

	var out []string
	for _, col := range row {
		ident := quoteIdent(col.Name)
		var expr string
		switch col.Action {
		case executor.ActionNothing, executor.ActionWhere:
			continue
		case executor.ActionSet:
			expr = fmt.Sprintf("VALUES(%s)", ident)
		case executor.ActionAdd:
			expr = fmt.Sprintf("%s + VALUES(%s)", ident, ident)
		case executor.ActionSub:
			expr = fmt.Sprintf("%s - VALUES(%s)", ident, ident)
		case executor.ActionMax:
			expr = fmt.Sprintf("GREATEST(%s, VALUES(%s))", ident, ident)
		case executor.ActionMin:
			expr = fmt.Sprintf("LEAST(%s, VALUES(%s))", ident, ident)
		default:
			return nil, fmt.Errorf("columnarmysql: unknown column action %d for %q", col.Action, col.Name)
		}
		if cond != "" {
			expr = fmt.Sprintf("IF(%s, %s, %s)", cond, expr, ident)
		}
		out = append(out, fmt.Sprintf("%s = %s", ident, expr))
	}
	return out, nil
}

// execUpdate runs one UPDATE per row, predicated on its ActionWhere
// columns (plus the pushed-down sqlWhere fragment, if any), inside one
// transaction. Rows are not batched into a single statement since each
// may carry distinct predicate values.
func (e *Executor) execUpdate(ctx context.Context, table string, rows []executor.Row, eventLabel, sqlWhere string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("columnarmysql: begin transaction for %s: %w", eventLabel, err)
	}

	for i, row := range rows {
		stmt, args, err := buildUpdateStatement(table, row, sqlWhere)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("columnarmysql: building update for %s row %d: %w", eventLabel, i, err)
		}
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("columnarmysql: %s row %d failed: %w; rollback also failed: %w", eventLabel, i, err, rbErr)
			}
			return fmt.Errorf("columnarmysql: %s row %d failed (rolled back): %w", eventLabel, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("columnarmysql: commit for %s: %w", eventLabel, err)
	}
	return nil
}

func buildUpdateStatement(table string, row executor.Row, sqlWhere string) (string, []any, error) {
	var sets []string
	var setArgs []any
	var preds []string
	var predArgs []any

	for _, col := range row {
		arg, err := argForMySQL(col.Value)
		if err != nil {
			return "", nil, err
		}
		ident := quoteIdent(col.Name)
		switch col.Action {
		case executor.ActionWhere:
			preds = append(preds, ident+" = ?")
			predArgs = append(predArgs, arg)
		case executor.ActionSet:
			sets = append(sets, ident+" = ?")
			setArgs = append(setArgs, arg)
		case executor.ActionAdd:
			sets = append(sets, fmt.Sprintf("%s = %s + ?", ident, ident))
			setArgs = append(setArgs, arg)
		case executor.ActionSub:
			sets = append(sets, fmt.Sprintf("%s = %s - ?", ident, ident))
			setArgs = append(setArgs, arg)
		case executor.ActionMax:
			sets = append(sets, fmt.Sprintf("%s = GREATEST(%s, ?)", ident, ident))
			setArgs = append(setArgs, arg)
		case executor.ActionMin:
			sets = append(sets, fmt.Sprintf("%s = LEAST(%s, ?)", ident, ident))
			setArgs = append(setArgs, arg)
		case executor.ActionNothing:
			// carried for read access only; never written
		default:
			return "", nil, fmt.Errorf("columnarmysql: unknown column action %d for %q", col.Action, col.Name)
		}
	}

	if len(sets) == 0 {
		return "", nil, fmt.Errorf("columnarmysql: update row has no Set/Add/Sub/Max/Min columns")
	}

	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(table)
	sb.WriteString(" SET ")
	sb.WriteString(strings.Join(sets, ", "))

	whereParts := preds
	if sqlWhere != "" {
		whereParts = append(whereParts, translateToMySQL(sqlWhere))
	}
	if len(whereParts) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(whereParts, " AND "))
	}

	args := append(setArgs, predArgs...)
	return sb.String(), args, nil
}

func (e *Executor) execDelete(ctx context.Context, table string, rows []executor.Row, eventLabel, sqlWhere string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("columnarmysql: begin transaction for %s: %w", eventLabel, err)
	}

	for i, row := range rows {
		var preds []string
		var args []any
		for _, col := range row {
			if col.Action != executor.ActionWhere {
				continue
			}
			arg, err := argForMySQL(col.Value)
			if err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("columnarmysql: building delete for %s row %d: %w", eventLabel, i, err)
			}
			preds = append(preds, quoteIdent(col.Name)+" = ?")
			args = append(args, arg)
		}
		if sqlWhere != "" {
			preds = append(preds, translateToMySQL(sqlWhere))
		}
		if len(preds) == 0 {
			_ = tx.Rollback()
			return fmt.Errorf("columnarmysql: delete row %d for %s has no predicate columns", i, eventLabel)
		}

		stmt := "DELETE FROM " + table + " WHERE " + strings.Join(preds, " AND ")
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("columnarmysql: %s row %d failed: %w; rollback also failed: %w", eventLabel, i, err, rbErr)
			}
			return fmt.Errorf("columnarmysql: %s row %d failed (rolled back): %w", eventLabel, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("columnarmysql: commit for %s: %w", eventLabel, err)
	}
	return nil
}

func columnNames(row executor.Row) []string {
	names := make([]string, len(row))
	for i, col := range row {
		names[i] = col.Name
	}
	return names
}

// quoteIdent backtick-quotes a single MySQL identifier.
func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// quoteQualifiedTable backtick-quotes each dot-separated component of a
// possibly schema-qualified table name.
func quoteQualifiedTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}
	return strings.Join(parts, ".")
}

// translateToMySQL rewrites a portable SQL fragment produced by
// internal/eval.CompileSQL (double-quoted identifiers, EXCLUDED.col for
// the incoming row) into MySQL's dialect (backtick identifiers,
// VALUES(col) for the incoming row).
func translateToMySQL(sql string) string {
	var sb strings.Builder
	i := 0
	for i < len(sql) {
		if strings.HasPrefix(sql[i:], "EXCLUDED.\"") {
			rest := sql[i+len("EXCLUDED."):]
			end := strings.IndexByte(rest[1:], '"')
			if end >= 0 {
				ident := rest[1 : end+1]
				sb.WriteString("VALUES(")
				sb.WriteString(quoteIdent(ident))
				sb.WriteString(")")
				i += len("EXCLUDED.") + end + 2
				continue
			}
		}
		if sql[i] == '"' {
			end := strings.IndexByte(sql[i+1:], '"')
			if end >= 0 {
				ident := sql[i+1 : i+1+end]
				sb.WriteString(quoteIdent(ident))
				i += end + 2
				continue
			}
		}
		sb.WriteByte(sql[i])
		i++
	}
	return sb.String()
}

// argForMySQL converts a tagged value into a driver-compatible argument.
func argForMySQL(v tv.Value) (any, error) {
	if v.Kind == tv.KindNull {
		return nil, nil
	}
	if v.NullOnZero && v.IsZero() {
		return nil, nil
	}

	switch v.Kind {
	case tv.KindBool:
		return v.Bool, nil

	case tv.KindInt, tv.KindUint:
		if v.Int == nil {
			return nil, nil
		}
		return v.Int.String(), nil

	case tv.KindIntBytes, tv.KindUintBytes, tv.KindAddressBytes:
		return v.Bytes, nil

	case tv.KindAddress, tv.KindHash, tv.KindString:
		return v.Str, nil

	case tv.KindBytes:
		return v.Bytes, nil

	case tv.KindTimestamp:
		if v.Time == 0 {
			return nil, nil
		}
		return time.Unix(v.Time, 0).UTC(), nil

	case tv.KindJSON:
		data, err := json.Marshal(v.JSONVal)
		if err != nil {
			return nil, fmt.Errorf("columnarmysql: encoding JSON value: %w", err)
		}
		return string(data), nil

	case tv.KindVecBool, tv.KindVecInt, tv.KindVecUint, tv.KindVecIntBytes, tv.KindVecUintBytes,
		tv.KindVecAddress, tv.KindVecAddressBytes, tv.KindVecHash, tv.KindVecString, tv.KindVecBytes:
		elems := make([]any, len(v.Elems))
		for i, elem := range v.Elems {
			a, err := argForMySQL(elem)
			if err != nil {
				return nil, fmt.Errorf("columnarmysql: encoding array element %d: %w", i, err)
			}
			elems[i] = a
		}
		data, err := json.Marshal(elems)
		if err != nil {
			return nil, fmt.Errorf("columnarmysql: encoding array value: %w", err)
		}
		return string(data), nil

	default:
		return nil, fmt.Errorf("columnarmysql: no MySQL argument form for kind %s", v.Kind)
	}
}

// dedupeByDistinctKey collapses rows sharing the same Distinct-tagged
// column values to the one with the highest Sequence value (spec.md
// §6.1). Rows with no Distinct/Sequence columns pass through unchanged.
func dedupeByDistinctKey(rows []executor.Row) []executor.Row {
	if len(rows) == 0 {
		return rows
	}

	var distinctIdx []int
	seqIdx := -1
	for i, col := range rows[0] {
		switch col.Behavior {
		case executor.Distinct:
			distinctIdx = append(distinctIdx, i)
		case executor.Sequence:
			seqIdx = i
		}
	}
	if len(distinctIdx) == 0 || seqIdx < 0 {
		return rows
	}

	order := make([]string, 0, len(rows))
	best := make(map[string]executor.Row, len(rows))
	for _, row := range rows {
		key := distinctKey(row, distinctIdx)
		existing, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = row
			continue
		}
		if higherSequence(row[seqIdx].Value, existing[seqIdx].Value) {
			best[key] = row
		}
	}

	out := make([]executor.Row, len(order))
	for i, k := range order {
		out[i] = best[k]
	}
	return out
}

func higherSequence(a, b tv.Value) bool {
	if a.Int == nil {
		return false
	}
	if b.Int == nil {
		return true
	}
	return a.Int.Cmp(b.Int) > 0
}

func distinctKey(row executor.Row, idx []int) string {
	var sb strings.Builder
	for _, i := range idx {
		sb.WriteString(valueKey(row[i].Value))
		sb.WriteByte(0)
	}
	return sb.String()
}

func valueKey(v tv.Value) string {
	switch v.Kind {
	case tv.KindNull:
		return "null"
	case tv.KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case tv.KindInt, tv.KindUint:
		if v.Int == nil {
			return ""
		}
		return v.Int.String()
	case tv.KindAddress, tv.KindHash, tv.KindString:
		return v.Str
	case tv.KindBytes, tv.KindIntBytes, tv.KindUintBytes, tv.KindAddressBytes:
		return string(v.Bytes)
	case tv.KindTimestamp:
		return fmt.Sprintf("%d", v.Time)
	default:
		data, _ := json.Marshal(v.JSONVal)
		return string(data)
	}
}
