package table

import (
	"fmt"

	"chainindexer/internal/abimap"
	"chainindexer/internal/eval"
	"chainindexer/internal/tv"
	"chainindexer/internal/wire"
)

// eventScope is one named view onto an event instance: the flat Fields
// map internal/eval resolves filter/arithmetic/template expressions
// against, plus the typed TV form of the same top-level names for
// fidelity-preserving field/call resolution (spec.md §4.6 step 3 needs
// the exact Kind/Width of a bare "$field" reference, which a round trip
// through eval.Result would lose).
//
// An iterate binding clones the base scope and adds one extra name (the
// alias) bound to one array element, so nested operations see both the
// event's own fields and the current loop variable under the same
// lookup.
type eventScope struct {
	fields eval.Fields
	named  map[string]tv.Value
}

func newEventScope(params []EventParam) (*eventScope, error) {
	shapes := make([]abimap.Shape, len(params))
	values := make([]abimap.DecodedValue, len(params))
	for i, p := range params {
		shapes[i] = p.Shape
		values[i] = p.Value
	}

	named, err := abimap.MapNamedFields(shapes, values)
	if err != nil {
		return nil, fmt.Errorf("table: mapping event fields: %w", err)
	}

	fields := make(eval.Fields, len(named))
	for name, v := range named {
		rendered, err := wire.ToJSON(v)
		if err != nil {
			return nil, fmt.Errorf("table: field %q: %w", name, err)
		}
		fields[name] = rendered
	}

	return &eventScope{fields: fields, named: named}, nil
}

// withAlias returns a copy of the scope with name bound to value — used
// both for iterate-binding loop variables and for injecting metadata
// fields that must be visible to expressions under their own names.
func (s *eventScope) withAlias(name string, value tv.Value) (*eventScope, error) {
	rendered, err := wire.ToJSON(value)
	if err != nil {
		return nil, fmt.Errorf("table: binding %q: %w", name, err)
	}

	fields := make(eval.Fields, len(s.fields)+1)
	for k, v := range s.fields {
		fields[k] = v
	}
	fields[name] = rendered

	named := make(map[string]tv.Value, len(s.named)+1)
	for k, v := range s.named {
		named[k] = v
	}
	named[name] = value

	return &eventScope{fields: fields, named: named}, nil
}

// withJSONAlias is the same as withAlias for one loop element already
// resolved as a raw JSON-ish Go value (an array element pulled out of
// eval.Fields rather than a fresh TV) — the iterate-expansion path, since
// an array field's elements only exist as the json.Marshal-friendly view
// eval already works in.
func (s *eventScope) withJSONAlias(name string, value any) *eventScope {
	fields := make(eval.Fields, len(s.fields)+1)
	for k, v := range s.fields {
		fields[k] = v
	}
	fields[name] = value

	named := make(map[string]tv.Value, len(s.named))
	for k, v := range s.named {
		named[k] = v
	}

	return &eventScope{fields: fields, named: named}
}
