package manifest

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// OperationType is one of the four row operations a manifest operation
// entry may declare.
type OperationType string

const (
	OpUpsert OperationType = "upsert"
	OpInsert OperationType = "insert"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

func (t OperationType) valid() bool {
	switch t {
	case OpUpsert, OpInsert, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// SetAction is one of the per-column actions a "set" clause may apply.
// "increment"/"decrement" are manifest-surface sugar for "add"/"subtract"
// with the clause's value, or 1 when the clause gives none — the table
// runtime normalizes them away, so callers never need a
// fifth/sixth case downstream of this package.
type SetAction string

const (
	ActionSet       SetAction = "set"
	ActionAdd       SetAction = "add"
	ActionSubtract  SetAction = "subtract"
	ActionMax       SetAction = "max"
	ActionMin       SetAction = "min"
	ActionIncrement SetAction = "increment"
	ActionDecrement SetAction = "decrement"
)

func (a SetAction) valid() bool {
	switch a {
	case ActionSet, ActionAdd, ActionSubtract, ActionMax, ActionMin, ActionIncrement, ActionDecrement:
		return true
	default:
		return false
	}
}

// Column is one validated table column.
type Column struct {
	Name    string
	Type    ColumnType
	Default string // raw literal text; empty means "use the type's zero value"
}

// IterateBinding is one parsed "$arr as alias" iterate entry.
type IterateBinding struct {
	ArrayPath string
	Alias     string
}

// SetClause is one validated "set" list entry.
type SetClause struct {
	Column string
	Action SetAction
	Value  string // raw expression text, already eagerly parse-checked
}

// Operation is one validated operation entry under an event mapping.
type Operation struct {
	Type   OperationType
	Where  map[string]string // column -> raw expression text, eagerly parse-checked
	Filter string             // raw filter expression text, eagerly parse-checked; empty means unconditional
	Set    []SetClause
}

// EventMapping is one validated "events" list entry under a table.
type EventMapping struct {
	Event      string
	Iterate    []IterateBinding
	Operations []Operation
}

// Table is one validated "tables" list entry.
type Table struct {
	Name       string
	Global     bool
	CrossChain bool
	Columns    []Column
	Events     []EventMapping
}

// FindColumn returns the named column, or nil if the table declares no
// such column up front (it may still be introduced implicitly by a "set"
// or "where" clause that names it).
func (t *Table) FindColumn(name string) *Column {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i]
		}
	}
	return nil
}

// Manifest is the fully validated, load-time-parsed manifest: every
// table, event mapping, operation, and expression it names has already
// been structurally checked.
type Manifest struct {
	Tables    []Table
	Constants map[string]ConstantValue
}

// FindTable returns the named table, or nil.
func (m *Manifest) FindTable(name string) *Table {
	for i := range m.Tables {
		if strings.EqualFold(m.Tables[i].Name, name) {
			return &m.Tables[i]
		}
	}
	return nil
}

// Load opens and parses the manifest file at path.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: open %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a YAML manifest document from r, validates it, and eagerly
// parses every expression it contains.
func Parse(r io.Reader) (*Manifest, error) {
	var raw rawManifest
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("manifest: decode YAML: %w", err)
	}
	return newConverter(&raw).convert()
}

type converter struct {
	raw        *rawManifest
	seenTables map[string]bool
}

func newConverter(raw *rawManifest) *converter {
	return &converter{raw: raw, seenTables: make(map[string]bool, len(raw.Tables))}
}

func (c *converter) convert() (*Manifest, error) {
	m := &Manifest{Constants: c.raw.Constants}

	for i := range c.raw.Tables {
		t, err := c.convertTable(&c.raw.Tables[i])
		if err != nil {
			return nil, fmt.Errorf("manifest: table %q: %w", c.raw.Tables[i].Name, err)
		}
		m.Tables = append(m.Tables, *t)
	}

	if err := validateConstantReferences(m); err != nil {
		return nil, err
	}

	return m, nil
}

// validateConstantReferences checks that every $constant(name) reference
// reachable from any operation's filter/where/set expressions names a
// constant actually declared in the manifest's top-level "constants" map
// — resolving it against a specific network still happens at runtime
// (a per-network constant may be legitimately absent for one network),
// but the name itself must exist.
func validateConstantReferences(m *Manifest) error {
	for _, t := range m.Tables {
		for _, ev := range t.Events {
			for _, op := range ev.Operations {
				if err := checkConstantRefsIn(m, op.Filter); err != nil {
					return fmt.Errorf("manifest: table %q event %q: %w", t.Name, ev.Event, err)
				}
				for col, expr := range op.Where {
					if err := checkConstantRefsIn(m, expr); err != nil {
						return fmt.Errorf("manifest: table %q event %q where %q: %w", t.Name, ev.Event, col, err)
					}
				}
				for _, sc := range op.Set {
					if err := checkConstantRefsIn(m, sc.Value); err != nil {
						return fmt.Errorf("manifest: table %q event %q set %q: %w", t.Name, ev.Event, sc.Column, err)
					}
				}
			}
		}
	}
	return nil
}

func checkConstantRefsIn(m *Manifest, expr string) error {
	for _, name := range ExtractConstantRefs(expr) {
		if _, ok := m.Constants[name]; !ok {
			return fmt.Errorf("undeclared constant %q", name)
		}
	}
	return nil
}

func (c *converter) convertTable(rt *rawTable) (*Table, error) {
	if strings.TrimSpace(rt.Name) == "" {
		return nil, fmt.Errorf("table name is empty")
	}
	lower := strings.ToLower(rt.Name)
	if c.seenTables[lower] {
		return nil, fmt.Errorf("duplicate table name %q", rt.Name)
	}
	c.seenTables[lower] = true

	table := &Table{Name: rt.Name, Global: rt.Global, CrossChain: rt.CrossChain}

	seenCols := make(map[string]bool, len(rt.Columns))
	for _, rc := range rt.Columns {
		if strings.TrimSpace(rc.Name) == "" {
			return nil, fmt.Errorf("column name is empty")
		}
		colLower := strings.ToLower(rc.Name)
		if seenCols[colLower] {
			return nil, fmt.Errorf("duplicate column name %q", rc.Name)
		}
		seenCols[colLower] = true

		ct, err := ResolveColumnType(rc.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", rc.Name, err)
		}
		table.Columns = append(table.Columns, Column{Name: rc.Name, Type: ct, Default: rc.Default})
	}

	for i := range rt.Events {
		ev, err := c.convertEvent(&rt.Events[i])
		if err != nil {
			return nil, fmt.Errorf("event %q: %w", rt.Events[i].Event, err)
		}
		table.Events = append(table.Events, *ev)
	}

	if len(table.Events) == 0 {
		return nil, fmt.Errorf("table has no events")
	}

	return table, nil
}

func (c *converter) convertEvent(re *rawEvent) (*EventMapping, error) {
	if strings.TrimSpace(re.Event) == "" {
		return nil, fmt.Errorf("event name is empty")
	}

	ev := &EventMapping{Event: re.Event}

	for _, binding := range re.Iterate {
		path, alias, err := ValidateIterateBinding(binding)
		if err != nil {
			return nil, err
		}
		ev.Iterate = append(ev.Iterate, IterateBinding{ArrayPath: path, Alias: alias})
	}

	for i := range re.Operations {
		op, err := convertOperation(&re.Operations[i])
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		ev.Operations = append(ev.Operations, *op)
	}

	if len(ev.Operations) == 0 {
		return nil, fmt.Errorf("event has no operations")
	}

	return ev, nil
}

func convertOperation(ro *rawOperation) (*Operation, error) {
	opType := OperationType(strings.ToLower(strings.TrimSpace(ro.Type)))
	if !opType.valid() {
		return nil, fmt.Errorf("unknown operation type %q", ro.Type)
	}

	op := &Operation{Type: opType, Filter: ro.Filter}

	if ro.Filter != "" {
		if err := ValidateFilterExpr(ro.Filter); err != nil {
			return nil, err
		}
	}

	if len(ro.Where) > 0 {
		op.Where = make(map[string]string, len(ro.Where))
		for col, expr := range ro.Where {
			if err := ValidateValueExpr(expr); err != nil {
				return nil, fmt.Errorf("where clause for column %q: %w", col, err)
			}
			op.Where[col] = expr
		}
	}

	for i, rs := range ro.Set {
		action := SetAction(strings.ToLower(strings.TrimSpace(rs.Action)))
		if !action.valid() {
			return nil, fmt.Errorf("set[%d]: unknown action %q", i, rs.Action)
		}
		if strings.TrimSpace(rs.Column) == "" {
			return nil, fmt.Errorf("set[%d]: column name is empty", i)
		}
		if err := ValidateValueExpr(rs.Value); err != nil {
			return nil, fmt.Errorf("set[%d] (column %q): %w", i, rs.Column, err)
		}
		op.Set = append(op.Set, SetClause{Column: rs.Column, Action: action, Value: rs.Value})
	}

	return op, nil
}
