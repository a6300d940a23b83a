// Package abimap converts a decoded EVM log parameter — a pair of a
// static ABI shape descriptor and a dynamic decoded value — into a flat
// sequence of internal/tv values, the way the upstream decoder hands logs
// to the rest of the pipeline.
//
// This package does not decode logs itself (spec: "the ABI reader, log
// decoder ... produce the inputs the core consumes"); it only walks the
// already-decoded shape/value pair.
package abimap

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"chainindexer/internal/tv"
	"chainindexer/internal/wire"
)

// Shape is one node of an ABI type tree: a parameter name, its Solidity
// type string ("uint256", "tuple", "tuple[]", "address[3]", ...), whether
// it is an indexed event topic, and — for tuple and tuple-array types —
// its child fields.
type Shape struct {
	Name         string
	SolidityType string
	Indexed      bool
	Components   []Shape
}

// DecodedKind tags the dynamic shape of a decoded ABI value. Go has no
// sum type, so DecodedValue carries one Kind tag plus the payload field
// that Kind implies — the same pattern internal/tv.Value uses for the
// Tagged Value enumeration itself.
type DecodedKind int

const (
	DecodedInvalid DecodedKind = iota
	DecodedAddress
	DecodedInt
	DecodedUint
	DecodedBool
	DecodedString
	DecodedFixedBytes
	DecodedBytes
	DecodedArray
	DecodedTuple
)

// DecodedValue is one decoded ABI value, produced upstream by the log
// decoder this package does not implement.
type DecodedValue struct {
	Kind    DecodedKind
	Address common.Address
	Int     *big.Int // magnitude for both DecodedInt (signed) and DecodedUint
	Bool    bool
	Str     string
	Bytes   []byte
	Elems   []DecodedValue // DecodedArray elements, or DecodedTuple fields
}

// MapLogParams converts a full set of log parameters (ABI shapes paired
// positionally with decoded values) into a flat TV sequence.
func MapLogParams(shapes []Shape, values []DecodedValue) ([]tv.Value, error) {
	if len(shapes) != len(values) {
		return nil, fmt.Errorf("abimap: %d shapes but %d decoded values", len(shapes), len(values))
	}
	var out []tv.Value
	for i := range shapes {
		mapped, err := MapToken(shapes[i], values[i])
		if err != nil {
			return nil, fmt.Errorf("abimap: field %q: %w", shapes[i].Name, err)
		}
		out = append(out, mapped...)
	}
	return out, nil
}

// MapToken converts one shape/value pair into the TV(s) it expands to.
// Scalars produce exactly one TV; tuples flatten their children into the
// output sequence; tuple arrays produce exactly one JSON-object TV.
func MapToken(shape Shape, value DecodedValue) ([]tv.Value, error) {
	switch value.Kind {
	case DecodedAddress:
		return []tv.Value{tv.NewAddress([20]byte(value.Address))}, nil

	case DecodedBool:
		return []tv.Value{tv.NewBool(value.Bool)}, nil

	case DecodedString:
		return []tv.Value{tv.NewString(value.Str)}, nil

	case DecodedFixedBytes, DecodedBytes:
		return []tv.Value{tv.NewBytes(value.Bytes)}, nil

	case DecodedInt, DecodedUint:
		v, err := mapInteger(shape.SolidityType, value)
		if err != nil {
			return nil, err
		}
		return []tv.Value{v}, nil

	case DecodedTuple:
		if len(shape.Components) != len(value.Elems) {
			return nil, fmt.Errorf("abimap: tuple %q has %d components but %d decoded fields",
				shape.SolidityType, len(shape.Components), len(value.Elems))
		}
		var out []tv.Value
		for i, child := range value.Elems {
			mapped, err := MapToken(shape.Components[i], child)
			if err != nil {
				return nil, err
			}
			out = append(out, mapped...)
		}
		return out, nil

	case DecodedArray:
		return mapArray(shape, value)

	default:
		return nil, fmt.Errorf("abimap: unsupported decoded value kind %d for shape %q", value.Kind, shape.SolidityType)
	}
}

// mapArray handles both fixed-size (address[3]) and dynamic (uint256[])
// arrays. Tuple arrays are the one case that does not flatten: they
// always emit a single JSON-object TV so a table's column count stays
// stable across batches where the array length varies.
func mapArray(shape Shape, value DecodedValue) ([]tv.Value, error) {
	isTupleArray := strings.HasPrefix(shape.SolidityType, "tuple[")

	if len(value.Elems) == 0 {
		if isTupleArray {
			return []tv.Value{tv.NewJSON([]any{})}, nil
		}
		// An empty non-tuple array still needs a typed empty Vec TV; the
		// element's base Kind is derived from the shape's declared
		// element type rather than from a first element (there isn't
		// one).
		elemKind, err := elementKindFromShape(shape)
		if err != nil {
			return nil, err
		}
		return []tv.Value{tv.NewVec(elemKind, nil)}, nil
	}

	if isTupleArray {
		elemShape := shape
		elemShape.SolidityType = strings.TrimSuffix(shape.SolidityType, "[]")
		if idx := strings.IndexByte(elemShape.SolidityType, '['); idx >= 0 {
			elemShape.SolidityType = elemShape.SolidityType[:idx]
		}
		objects := make([]any, len(value.Elems))
		for i, elem := range value.Elems {
			obj, err := tupleToJSON(shape.Components, elem)
			if err != nil {
				return nil, fmt.Errorf("abimap: tuple array element %d: %w", i, err)
			}
			objects[i] = obj
		}
		return []tv.Value{tv.NewJSON(objects)}, nil
	}

	elems := make([]tv.Value, len(value.Elems))
	for i, elem := range value.Elems {
		mapped, err := MapToken(elementShape(shape), elem)
		if err != nil {
			return nil, fmt.Errorf("abimap: array element %d: %w", i, err)
		}
		if len(mapped) != 1 {
			return nil, fmt.Errorf("abimap: array element produced %d TVs, want exactly 1", len(mapped))
		}
		elems[i] = mapped[0]
	}
	return []tv.Value{tv.NewVec(elems[0].Kind, elems)}, nil
}

// elementShape strips one array suffix ("[]" or "[N]") from shape's
// Solidity type so the element can be mapped with MapToken as if it were
// a scalar of that type.
func elementShape(shape Shape) Shape {
	t := shape.SolidityType
	if idx := strings.LastIndexByte(t, '['); idx >= 0 {
		t = t[:idx]
	}
	return Shape{Name: shape.Name, SolidityType: t, Indexed: shape.Indexed}
}

// elementKindFromShape determines the TV Kind an empty array's (absent)
// elements would have had, purely from the declared Solidity type.
func elementKindFromShape(shape Shape) (tv.Kind, error) {
	t := elementShape(shape).SolidityType
	switch {
	case t == "address":
		return tv.KindAddress, nil
	case t == "bool":
		return tv.KindBool, nil
	case t == "string":
		return tv.KindString, nil
	case strings.HasPrefix(t, "bytes"):
		return tv.KindBytes, nil
	case strings.HasPrefix(t, "int") || strings.HasPrefix(t, "uint"):
		signed, _, err := parseIntegerType(t)
		if err != nil {
			return tv.KindInvalid, err
		}
		if signed {
			return tv.KindInt, nil
		}
		return tv.KindUint, nil
	default:
		return tv.KindInvalid, fmt.Errorf("abimap: unsupported empty-array element type %q", t)
	}
}

// tupleToJSON renders a decoded tuple as a JSON-object tree keyed by
// stringified positional index, so tuple fields stay addressable even
// when the ABI carries no field names.
func tupleToJSON(components []Shape, value DecodedValue) (map[string]any, error) {
	if len(components) != len(value.Elems) {
		return nil, fmt.Errorf("abimap: tuple has %d components but %d decoded fields", len(components), len(value.Elems))
	}
	out := make(map[string]any, len(value.Elems))
	for i, child := range value.Elems {
		rendered, err := tupleFieldJSON(components[i], child)
		if err != nil {
			return nil, err
		}
		out[strconv.Itoa(i)] = rendered
	}
	return out, nil
}

// MapNamedFields builds a top-level name -> TV map for a set of decoded
// log parameters, the view the table runtime resolves "$field" references
// against. Unlike MapLogParams, a top-level tuple does not flatten here —
// it collapses to a single JSON-object TV (the same rendering
// mapArray/tupleToJSON already gives a tuple array) so a named reference
// to the tuple parameter itself resolves to one value, and the runtime's
// JSON-path accessor walk reaches into its fields the same way it reaches
// into a decoded tuple-array element.
func MapNamedFields(shapes []Shape, values []DecodedValue) (map[string]tv.Value, error) {
	if len(shapes) != len(values) {
		return nil, fmt.Errorf("abimap: %d shapes but %d decoded values", len(shapes), len(values))
	}
	out := make(map[string]tv.Value, len(shapes))
	for i := range shapes {
		shape := shapes[i]
		value := values[i]
		if shape.Name == "" {
			continue
		}
		if value.Kind == DecodedTuple {
			obj, err := tupleToJSON(shape.Components, value)
			if err != nil {
				return nil, fmt.Errorf("abimap: field %q: %w", shape.Name, err)
			}
			out[shape.Name] = tv.NewJSON(obj)
			continue
		}
		mapped, err := MapToken(shape, value)
		if err != nil {
			return nil, fmt.Errorf("abimap: field %q: %w", shape.Name, err)
		}
		if len(mapped) != 1 {
			return nil, fmt.Errorf("abimap: field %q produced %d TVs, want exactly 1", shape.Name, len(mapped))
		}
		out[shape.Name] = mapped[0]
	}
	return out, nil
}

// tupleFieldJSON renders a single tuple field to a JSON-marshalable
// value by mapping it to a TV first and reusing the TV's own canonical
// JSON rule (kept in internal/wire): this guarantees a tuple field's JSON
// rendering is identical whether it is reached through a top-level TV or
// through a nested tuple-array JSON-object TV.
func tupleFieldJSON(shape Shape, value DecodedValue) (any, error) {
	if value.Kind == DecodedTuple {
		return tupleToJSON(shape.Components, value)
	}
	if value.Kind == DecodedArray && strings.HasPrefix(shape.SolidityType, "tuple[") {
		objects := make([]any, len(value.Elems))
		for i, elem := range value.Elems {
			obj, err := tupleToJSON(shape.Components, elem)
			if err != nil {
				return nil, fmt.Errorf("abimap: nested tuple array element %d: %w", i, err)
			}
			objects[i] = obj
		}
		return objects, nil
	}
	mapped, err := MapToken(shape, value)
	if err != nil {
		return nil, err
	}
	if len(mapped) != 1 {
		return nil, fmt.Errorf("abimap: tuple field %q produced %d TVs, want exactly 1", shape.Name, len(mapped))
	}
	return wire.ToJSON(mapped[0])
}
