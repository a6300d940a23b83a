// Package executor defines the Batch Executor contract (spec.md §6.1):
// the boundary between the table runtime, which decides what to write,
// and a concrete sink, which decides how. internal/executor/columnarmysql
// is the reference implementation.
package executor

import (
	"context"

	"chainindexer/internal/tv"
)

// OpType is one of the four row operations the table runtime dispatches.
type OpType int

const (
	OpUpsert OpType = iota
	OpInsert
	OpUpdate
	OpDelete
)

func (t OpType) String() string {
	switch t {
	case OpUpsert:
		return "upsert"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Behavior tags how a column participates in deduplication and
// conflict resolution within one batch.
type Behavior int

const (
	// Normal columns carry no special batch semantics.
	Normal Behavior = iota
	// Distinct columns together form the dedup key: rows sharing every
	// Distinct column collapse to the one with the highest Sequence
	// column (spec.md §6.1). Insert operations never dedup, regardless
	// of Distinct columns.
	Distinct
	// Sequence is the ordering token used to break dedup ties and to
	// resolve last-write-wins (there is exactly one per row).
	Sequence
)

// Action is the per-column write semantics within an upsert/update.
type Action int

const (
	// ActionNothing means the column is carried for read access only
	// (e.g. informational) and never written.
	ActionNothing Action = iota
	// ActionSet overwrites the column unconditionally.
	ActionSet
	// ActionAdd/ActionSub/ActionMax/ActionMin realize as
	// `target = target <op> EXCLUDED.value` on the conflict-update
	// branch of an upsert (spec.md §6.1).
	ActionAdd
	ActionSub
	ActionMax
	ActionMin
	// ActionWhere marks the column as part of the upsert conflict key /
	// update predicate.
	ActionWhere
)

// DynColumn bundles one column's name, value, and write semantics —
// the unit the table runtime hands to a Batch Executor, deliberately
// untyped at the Go level (spec.md: "trait"-style boundary) so a sink can
// be written against nothing more than this package.
type DynColumn struct {
	Name        string
	Value       tv.Value
	SQLTypeHint string // the sink-facing declared type, e.g. "numeric", "char(66)"
	Behavior    Behavior
	Action      Action
}

// Row is one fully assembled row: the network discriminator column first
// (non-cross-chain tables only), then the operation's declared columns,
// then any columns the operation introduces implicitly, then the six
// auto-injected metadata columns appended by the table runtime.
type Row []DynColumn

// BatchExecutor is the sink boundary the table runtime writes through.
// Implementations must be safe for concurrent use: distinct event
// dispatches for the same table may call Execute concurrently (spec.md §5).
type BatchExecutor interface {
	// Execute applies one batch of same-table, same-op-type rows.
	// sqlWhere, when non-empty, is a raw SQL boolean expression (as
	// produced by internal/eval.CompileSQL) applied as a WHERE clause on
	// the conflict-update branch of an upsert.
	Execute(ctx context.Context, qualifiedTableName string, op OpType, rows []Row, eventLabel string, sqlWhere string) error
}
