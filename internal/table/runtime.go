// Package table implements the declarative aggregation table runtime
// (spec.md §4.6): for one decoded event instance, it expands any iterate
// bindings, gates each operation's rows on its filter, resolves every
// where/set expression to a typed value, injects the six transaction
// metadata columns, computes the row's sequence id, and hands the
// assembled rows to a Batch Executor grouped by (table, operation type,
// SQL push-down condition).
package table

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"chainindexer/internal/abimap"
	"chainindexer/internal/chainmeta"
	"chainindexer/internal/eval"
	"chainindexer/internal/executor"
	"chainindexer/internal/lang"
	"chainindexer/internal/manifest"
	"chainindexer/internal/obslog"
	"chainindexer/internal/tv"
	"chainindexer/internal/viewcall"
)

// EventParam is one top-level decoded log parameter.
type EventParam struct {
	Shape abimap.Shape
	Value abimap.DecodedValue
}

// Event is one decoded occurrence the runtime dispatches against every
// table that maps it.
type Event struct {
	Name            string
	Network         string
	ContractAddress common.Address
	BlockNumber     uint64
	Params          []EventParam
	Meta            chainmeta.TxMetadata
}

// Runtime is the table aggregation engine: one manifest, one view-call
// coordinator, one debug-log/metrics sink, and a batch executor per table
// (falling back to a single default sink when no table-specific override
// is configured).
type Runtime struct {
	manifest        *manifest.Manifest
	defaultExecutor executor.BatchExecutor
	executors       map[string]executor.BatchExecutor
	coordinator     *viewcall.Coordinator
	obs             *obslog.Logger
}

// NewRuntime builds a Runtime. defaultExecutor is used for every table
// unless overridden by SetTableExecutor.
func NewRuntime(m *manifest.Manifest, defaultExecutor executor.BatchExecutor, coordinator *viewcall.Coordinator, obs *obslog.Logger) *Runtime {
	return &Runtime{
		manifest:        m,
		defaultExecutor: defaultExecutor,
		executors:       make(map[string]executor.BatchExecutor),
		coordinator:     coordinator,
		obs:             obs,
	}
}

// SetTableExecutor routes a specific table's writes through a different
// sink than the runtime's default — multiple physical databases behind
// one manifest.
func (r *Runtime) SetTableExecutor(tableName string, e executor.BatchExecutor) {
	r.executors[strings.ToLower(tableName)] = e
}

func (r *Runtime) executorFor(tableName string) executor.BatchExecutor {
	if e, ok := r.executors[strings.ToLower(tableName)]; ok {
		return e
	}
	return r.defaultExecutor
}

type batchKey struct {
	table    string
	op       executor.OpType
	sqlWhere string
}

// ProcessEvent runs spec.md §4.6's full pipeline for one event instance
// against every table that maps it.
func (r *Runtime) ProcessEvent(ctx context.Context, ev Event) error {
	baseScope, err := newEventScope(ev.Params)
	if err != nil {
		return fmt.Errorf("table: building event scope: %w", err)
	}
	baseScope, err = withTxMetadataFields(baseScope, ev)
	if err != nil {
		return fmt.Errorf("table: binding transaction metadata fields: %w", err)
	}

	rc := &resolveCtx{
		ctx:             ctx,
		m:               r.manifest,
		network:         ev.Network,
		contractAddress: ev.ContractAddress,
		blockNumber:     ev.BlockNumber,
		coordinator:     r.coordinator,
	}

	batches := make(map[batchKey][]executor.Row)

	for i := range r.manifest.Tables {
		table := &r.manifest.Tables[i]
		for _, evMapping := range table.Events {
			if !strings.EqualFold(evMapping.Event, ev.Name) {
				continue
			}

			scopes, err := expandIterateBindings(evMapping.Iterate, baseScope)
			if err != nil {
				r.obs.DroppedRow(ctx, ev.Name, table.Name, describeIterate(evMapping.Iterate), err)
				continue
			}

			for _, scope := range scopes {
				for _, op := range evMapping.Operations {
					if err := r.processOperation(rc, scope, table, ev.Name, op, ev.Meta, batches); err != nil {
						r.obs.DroppedRow(ctx, ev.Name, table.Name, op.Filter, err)
					}
				}
			}
		}
	}

	for key, rows := range batches {
		exec := r.executorFor(key.table)
		if exec == nil {
			return fmt.Errorf("table: no batch executor configured for table %q", key.table)
		}
		if err := exec.Execute(ctx, key.table, key.op, rows, ev.Name, key.sqlWhere); err != nil {
			r.obs.TransientError(ctx, ev.Name, key.op.String(), err)
			return fmt.Errorf("table: executing %s on %q: %w", key.op, key.table, err)
		}
	}
	return nil
}

// processOperation gates one operation's row on its filter (in-process or
// pushed down to SQL), assembles the row, and appends it to batches.
func (r *Runtime) processOperation(rc *resolveCtx, scope *eventScope, table *manifest.Table, eventLabel string, op manifest.Operation, meta chainmeta.TxMetadata, batches map[batchKey][]executor.Row) error {
	sqlWhere, proceed, err := r.gateFilter(rc, scope, table.Name, op, eventLabel)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}

	row, err := assembleRow(rc, scope, table, op, meta)
	if err != nil {
		return err
	}

	key := batchKey{table: table.Name, op: mapOpType(op.Type), sqlWhere: sqlWhere}
	batches[key] = append(batches[key], row)
	return nil
}

// gateFilter evaluates op.Filter, reporting whether the row proceeds and,
// when the filter references another row in the table, the compiled SQL
// fragment the executor must apply on the conflict-update branch instead
// (spec.md §4.4 SQL push-down; only upsert has a conflict-update branch
// to apply it on).
func (r *Runtime) gateFilter(rc *resolveCtx, scope *eventScope, tableName string, op manifest.Operation, eventLabel string) (sqlWhere string, proceed bool, err error) {
	if op.Filter == "" {
		return "", true, nil
	}

	matches := manifest.FindCallPatterns(op.Filter)
	substituted, err := substituteCalls(rc, scope, op.Filter, matches)
	if err != nil {
		return "", false, err
	}
	expr, err := lang.ParseFilter(substituted)
	if err != nil {
		return "", false, fmt.Errorf("table: filter expression %q: %w", op.Filter, err)
	}

	if expr.HasTableReferences() {
		if op.Type != manifest.OpUpsert {
			return "", false, fmt.Errorf("table: filter %q references another row but operation %q has no conflict-update branch to apply it on", op.Filter, op.Type)
		}
		sql, err := eval.CompileSQL(expr, tableName)
		if err != nil {
			return "", false, fmt.Errorf("table: compiling filter %q: %w", op.Filter, err)
		}
		return sql, true, nil
	}

	ok, err := eval.Eval(expr, scope.fields)
	if err != nil {
		return "", false, fmt.Errorf("table: evaluating filter %q: %w", op.Filter, err)
	}
	if !ok {
		r.obs.FilterMiss(eventLabel)
		return "", false, nil
	}
	return "", true, nil
}

// networkColumnName is the implicit discriminator column every non-
// cross-chain table row carries (spec.md §3 Row: "a network tag", distinct
// from the six auto-injected metadata columns; spec.md §3 Table:
// cross_chain=false rows "implicitly carry a network discriminator").
const networkColumnName = "network"

// assembleRow resolves every where/set column named by op — declared
// columns named by a where clause in column-declaration order, then
// declared columns named by a set clause in set-clause order, then any
// columns the operation introduces implicitly — prepends the implicit network discriminator for
// non-cross-chain tables, then appends the six auto-injected metadata
// columns (spec.md §4.6 steps 3-5).
func assembleRow(rc *resolveCtx, scope *eventScope, table *manifest.Table, op manifest.Operation, meta chainmeta.TxMetadata) (executor.Row, error) {
	names := operationColumnNames(table, op)

	row := make(executor.Row, 0, len(names)+len(chainmeta.AutoInjectedColumnNames)+1)

	if !table.CrossChain {
		// For Insert there is no conflict target to dedup against, so the
		// network column is carried along as a plain value rather than
		// part of the distinct/PK set.
		behavior := executor.Distinct
		if op.Type == manifest.OpInsert {
			behavior = executor.Normal
		}
		row = append(row, executor.DynColumn{
			Name:        networkColumnName,
			Value:       tv.NewString(rc.network),
			SQLTypeHint: "varchar",
			Behavior:    behavior,
			Action:      executor.ActionWhere,
		})
	}

	for _, name := range names {
		col, ct := columnTypeFor(table, name)

		if whereExpr, ok := op.Where[name]; ok {
			val, err := resolveValueExpr(rc, scope, whereExpr, ct)
			if err != nil {
				return nil, fmt.Errorf("table: where clause for column %q: %w", name, err)
			}
			// A global table's primary key is exactly {network}: a where
			// clause naming a business column still resolves and writes
			// its value, but does not also join the distinct/PK set.
			behavior := executor.Distinct
			if table.Global {
				behavior = executor.Normal
			}
			row = append(row, executor.DynColumn{
				Name:        name,
				Value:       val,
				SQLTypeHint: sqlTypeHint(ct),
				Behavior:    behavior,
				Action:      executor.ActionWhere,
			})
			continue
		}

		sc, found := findSetClause(op, name)
		action, exprText := mapSetAction(sc, found)

		resolved, err := resolveColumnValue(rc, scope, exprText, ct, col)
		if err != nil {
			return nil, fmt.Errorf("table: set clause for column %q: %w", name, err)
		}
		row = append(row, executor.DynColumn{
			Name:        name,
			Value:       resolved,
			SQLTypeHint: sqlTypeHint(ct),
			Behavior:    executor.Normal,
			Action:      action,
		})
	}

	metaValues := meta.AutoInjectedValues()
	for i, name := range chainmeta.AutoInjectedColumnNames {
		behavior := executor.Normal
		if i == 0 {
			behavior = executor.Sequence
		}
		row = append(row, executor.DynColumn{
			Name:     name,
			Value:    metaValues[i],
			Behavior: behavior,
			Action:   executor.ActionSet,
		})
	}

	return row, nil
}

func operationColumnNames(table *manifest.Table, op manifest.Operation) []string {
	seen := make(map[string]bool)
	var names []string

	add := func(name string) {
		lower := strings.ToLower(name)
		if seen[lower] {
			return
		}
		seen[lower] = true
		names = append(names, name)
	}

	for _, col := range table.Columns {
		if _, ok := op.Where[col.Name]; ok {
			add(col.Name)
		}
	}
	for _, sc := range op.Set {
		if col := table.FindColumn(sc.Column); col != nil {
			add(col.Name)
		}
	}
	whereNames := make([]string, 0, len(op.Where))
	for name := range op.Where {
		whereNames = append(whereNames, name)
	}
	sort.Strings(whereNames)
	for _, name := range whereNames {
		add(name)
	}
	for _, sc := range op.Set {
		add(sc.Column)
	}
	return names
}

func columnTypeFor(table *manifest.Table, name string) (*manifest.Column, manifest.ColumnType) {
	col := table.FindColumn(name)
	if col == nil {
		return nil, manifest.ColumnType{Kind: tv.KindInvalid}
	}
	return col, col.Type
}

func findSetClause(op manifest.Operation, name string) (sc manifest.SetClause, found bool) {
	for _, c := range op.Set {
		if strings.EqualFold(c.Column, name) {
			return c, true
		}
	}
	return manifest.SetClause{}, false
}

func mapSetAction(sc manifest.SetClause, found bool) (executor.Action, string) {
	if !found {
		return executor.ActionNothing, ""
	}
	switch sc.Action {
	case manifest.ActionSet:
		return executor.ActionSet, sc.Value
	case manifest.ActionAdd:
		return executor.ActionAdd, sc.Value
	case manifest.ActionSubtract:
		return executor.ActionSub, sc.Value
	case manifest.ActionMax:
		return executor.ActionMax, sc.Value
	case manifest.ActionMin:
		return executor.ActionMin, sc.Value
	case manifest.ActionIncrement:
		v := sc.Value
		if v == "" {
			v = "1"
		}
		return executor.ActionAdd, v
	case manifest.ActionDecrement:
		v := sc.Value
		if v == "" {
			v = "1"
		}
		return executor.ActionSub, v
	default:
		return executor.ActionNothing, ""
	}
}

func mapOpType(t manifest.OperationType) executor.OpType {
	switch t {
	case manifest.OpInsert:
		return executor.OpInsert
	case manifest.OpUpdate:
		return executor.OpUpdate
	case manifest.OpDelete:
		return executor.OpDelete
	default:
		return executor.OpUpsert
	}
}

func sqlTypeHint(ct manifest.ColumnType) string {
	return strings.ToLower(ct.Kind.String())
}

func describeIterate(bindings []manifest.IterateBinding) string {
	var parts []string
	for _, b := range bindings {
		parts = append(parts, fmt.Sprintf("%s as %s", b.ArrayPath, b.Alias))
	}
	return strings.Join(parts, ", ")
}

// withTxMetadataFields binds the two transaction-metadata names a where/set
// expression can reference as plain fields rather than through $call's
// dedicated "$rindexer_contract_address" target sigil (e.g. a where clause
// keying a row on the emitting contract, as opposed to a $call target).
func withTxMetadataFields(base *eventScope, ev Event) (*eventScope, error) {
	scope, err := base.withAlias("rindexer_contract_address", tv.NewAddress([20]byte(ev.ContractAddress)))
	if err != nil {
		return nil, err
	}
	return scope.withAlias("rindexer_block_number", tv.NewUint(64, tv.RepNumeric, new(big.Int).SetUint64(ev.BlockNumber)))
}

// expandIterateBindings resolves every iterate binding's array against the
// base event scope and zips them by index into one expanded scope per
// index (spec.md §4.6 step 1: "verify that all bindings resolve to arrays
// of equal length, and produce one expanded parameter list per index").
// Every binding's array is extracted up front; the moment one array's
// length disagrees with the first, the whole event mapping is rejected
// (zero rows) rather than falling back to a cartesian fan-out. Bindings
// are resolved against the same base scope, not against each other's
// aliases — a later binding cannot reference an earlier binding's loop
// variable.
func expandIterateBindings(bindings []manifest.IterateBinding, base *eventScope) ([]*eventScope, error) {
	if len(bindings) == 0 {
		return []*eventScope{base}, nil
	}

	arrays := make([][]any, len(bindings))
	for i, b := range bindings {
		node, err := lang.ParseArithmetic(b.ArrayPath)
		if err != nil {
			return nil, fmt.Errorf("table: iterate array path %q: %w", b.ArrayPath, err)
		}
		if node.Kind != lang.ArithVariable {
			return nil, fmt.Errorf("table: iterate array path %q is not a field reference", b.ArrayPath)
		}

		raw, ok := eval.ResolveField(base.fields, node.Variable)
		if !ok {
			return nil, fmt.Errorf("table: iterate array %q not found on event", b.ArrayPath)
		}
		arr, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("table: iterate array %q is not an array", b.ArrayPath)
		}
		arrays[i] = arr
	}

	expectedLen := len(arrays[0])
	for i, arr := range arrays {
		if len(arr) != expectedLen {
			return nil, fmt.Errorf("table: iterate binding %q has length %d but expected %d (arrays must have equal length)",
				bindings[i].ArrayPath, len(arr), expectedLen)
		}
	}

	scopes := make([]*eventScope, expectedLen)
	for idx := 0; idx < expectedLen; idx++ {
		scope := base
		for i, b := range bindings {
			scope = scope.withJSONAlias(b.Alias, arrays[i][idx])
		}
		scopes[idx] = scope
	}
	return scopes, nil
}
