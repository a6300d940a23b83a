// Package tv implements the Tagged Value universe: a single closed
// enumeration capable of representing every scalar, composite, and array
// shape that an ABI-decoded log can produce, plus the encoding intent each
// wire serializer needs (width, signedness, representation, nullability).
//
// Unlike the source this was ported from, which keeps a legacy H160/
// VecH160 variant pair behind deprecation annotations next to the current
// Address/VecAddress pair, this enumeration folds that down to a single
// Address kind — representation is a field, not a type distinction.
package tv

import (
	"fmt"
	"math/big"
)

// Kind identifies one variant of the Tagged Value enumeration. Every Kind
// must be handled exhaustively by every wire serializer in internal/wire;
// see allKinds below, which internal/wire's init-time checks range over.
type Kind int

const (
	KindInvalid Kind = iota

	KindBool
	KindVecBool

	// Integers. Width is carried on the Value, not the Kind: one Int kind
	// and one Uint kind cover every width from 8 to 256 bits, plus the
	// 512-bit unsigned width used for some hash-adjacent accumulators.
	KindInt
	KindUint
	KindVecInt
	KindVecUint

	// Representation-tagged 256-bit integers. The source carries these as
	// distinct enum variants (U256Numeric, U256Bytes, U256Nullable, ...);
	// here they are the same KindInt/KindUint with a Representation field,
	// except where the representation changes what a JSON/array TV needs
	// to carry, which is only the "bytes" forms — those get a dedicated
	// kind because they serialize to a different relational column type
	// (bytea) than their numeric siblings (numeric/varchar).
	KindIntBytes
	KindUintBytes
	KindVecUintBytes
	KindVecIntBytes

	KindAddress
	KindVecAddress
	KindAddressBytes
	KindVecAddressBytes

	KindHash // B128/B256/B512 in the source, unified: width lives on the Value.
	KindVecHash

	KindString
	KindVecString

	KindBytes
	KindVecBytes

	KindTimestamp

	KindJSON // tuples, tuple-arrays: carried as a JSON-marshalable value.

	KindNull // explicit SQL NULL, independent of any other kind.
)

// Representation distinguishes how an integer-family TV should be rendered
// where more than one wire form is valid for the same logical magnitude.
type Representation int

const (
	// RepNumeric is the default: native fixed-width binary for <=64 bits,
	// Postgres NUMERIC binary for wider non-bytes integers, decimal string
	// in JSON/columnar contexts.
	RepNumeric Representation = iota
	// RepBytes renders the value as raw big-endian bytes (bytea column).
	RepBytes
	// RepDecimalString forces varchar/decimal-string rendering even for
	// widths that would otherwise use NUMERIC binary.
	RepDecimalString
)

// Value is one instance of the Tagged Value enumeration: a Kind plus the
// payload and encoding intent needed to serialize it on every sink.
type Value struct {
	Kind Kind

	// Width is the bit width for Int/Uint/Hash kinds (1, 8, 16, 24, ...,
	// 256, 512) and is meaningless for every other kind.
	Width int

	// Rep is meaningful only for Int/Uint-family kinds.
	Rep Representation

	// NullOnZero marks a kind whose payload serializes to SQL NULL when it
	// is the zero/empty value (the source's *Nullable variants).
	NullOnZero bool

	Bool    bool
	Int     *big.Int // signed and unsigned payloads both live here
	Str     string
	Bytes   []byte
	Time    int64 // unix seconds; zero is the "unset" value for Timestamp-kind nullables (see IsZero)
	JSONVal any   // tuple/tuple-array payload, already a JSON-marshalable tree

	Elems []Value // populated for every Vec* kind
}

// IsZero reports whether the payload is the "zero/empty value" a nullable
// kind promises to turn into SQL NULL.
func (v Value) IsZero() bool {
	switch v.Kind {
	case KindInt, KindUint, KindIntBytes, KindUintBytes:
		return v.Int == nil || v.Int.Sign() == 0
	case KindAddress, KindAddressBytes:
		return v.Str == "" || v.Str == "0x0000000000000000000000000000000000000000"
	case KindString:
		return v.Str == ""
	case KindBytes:
		return len(v.Bytes) == 0
	case KindTimestamp:
		return v.Time == 0
	default:
		return false
	}
}

// Null returns the explicit SQL-NULL TV.
func Null() Value { return Value{Kind: KindNull} }

// NewBool constructs a boolean TV.
func NewBool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// NewInt constructs a signed integer TV of the given width and representation.
func NewInt(width int, rep Representation, val *big.Int) Value {
	return Value{Kind: KindInt, Width: width, Rep: rep, Int: val}
}

// NewUint constructs an unsigned integer TV of the given width and representation.
func NewUint(width int, rep Representation, val *big.Int) Value {
	return Value{Kind: KindUint, Width: width, Rep: rep, Int: val}
}

// NewAddress constructs an address TV from its canonical lowercase-20-byte form.
func NewAddress(addr [20]byte) Value {
	return Value{Kind: KindAddress, Bytes: addr[:], Str: fmt.Sprintf("0x%x", addr)}
}

// NewHash constructs a hash TV (B128/B256/B512 family) of the given bit width.
func NewHash(width int, raw []byte) Value {
	return Value{Kind: KindHash, Width: width, Bytes: raw, Str: fmt.Sprintf("0x%x", raw)}
}

// NewString constructs a string TV.
func NewString(s string) Value { return Value{Kind: KindString, Str: s} }

// NewBytes constructs a dynamic-bytes TV.
func NewBytes(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// NewTimestamp constructs a timestamp TV from a unix-seconds value.
func NewTimestamp(unixSeconds int64) Value { return Value{Kind: KindTimestamp, Time: unixSeconds} }

// NewJSON constructs a JSON-object TV (tuples, tuple arrays).
func NewJSON(v any) Value { return Value{Kind: KindJSON, JSONVal: v} }

// NewVec wraps element TVs into the matching Vec* kind. All elements must
// share the same base Kind; base is the element Kind being wrapped.
func NewVec(base Kind, elems []Value) Value {
	var vecKind Kind
	switch base {
	case KindBool:
		vecKind = KindVecBool
	case KindInt:
		vecKind = KindVecInt
	case KindUint:
		vecKind = KindVecUint
	case KindIntBytes:
		vecKind = KindVecIntBytes
	case KindUintBytes:
		vecKind = KindVecUintBytes
	case KindAddress:
		vecKind = KindVecAddress
	case KindAddressBytes:
		vecKind = KindVecAddressBytes
	case KindHash:
		vecKind = KindVecHash
	case KindString:
		vecKind = KindVecString
	case KindBytes:
		vecKind = KindVecBytes
	default:
		vecKind = KindInvalid
	}
	return Value{Kind: vecKind, Elems: elems}
}

// ElemKind returns the base element Kind for a Vec* kind, or KindInvalid.
func (k Kind) ElemKind() Kind {
	switch k {
	case KindVecBool:
		return KindBool
	case KindVecInt:
		return KindInt
	case KindVecUint:
		return KindUint
	case KindVecIntBytes:
		return KindIntBytes
	case KindVecUintBytes:
		return KindUintBytes
	case KindVecAddress:
		return KindAddress
	case KindVecAddressBytes:
		return KindAddressBytes
	case KindVecHash:
		return KindHash
	case KindVecString:
		return KindString
	case KindVecBytes:
		return KindBytes
	default:
		return KindInvalid
	}
}

// IsVec reports whether k is one of the Vec* (sequence) kinds.
func (k Kind) IsVec() bool { return k.ElemKind() != KindInvalid }

// allKinds lists every variant of the enumeration. internal/wire's
// exhaustiveness checks range over this slice at package init so a new Kind
// added here and missed by a serializer panics at program start, not at
// batch-execute time (spec.md design note: no silent partial coverage).
var allKinds = []Kind{
	KindBool, KindVecBool,
	KindInt, KindUint, KindVecInt, KindVecUint,
	KindIntBytes, KindUintBytes, KindVecUintBytes, KindVecIntBytes,
	KindAddress, KindVecAddress, KindAddressBytes, KindVecAddressBytes,
	KindHash, KindVecHash,
	KindString, KindVecString,
	KindBytes, KindVecBytes,
	KindTimestamp,
	KindJSON,
	KindNull,
}

// AllKinds returns every variant of the Tagged Value enumeration.
func AllKinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "Bool"
	case KindVecBool:
		return "VecBool"
	case KindInt:
		return "Int"
	case KindUint:
		return "Uint"
	case KindVecInt:
		return "VecInt"
	case KindVecUint:
		return "VecUint"
	case KindIntBytes:
		return "IntBytes"
	case KindUintBytes:
		return "UintBytes"
	case KindVecUintBytes:
		return "VecUintBytes"
	case KindVecIntBytes:
		return "VecIntBytes"
	case KindAddress:
		return "Address"
	case KindVecAddress:
		return "VecAddress"
	case KindAddressBytes:
		return "AddressBytes"
	case KindVecAddressBytes:
		return "VecAddressBytes"
	case KindHash:
		return "Hash"
	case KindVecHash:
		return "VecHash"
	case KindString:
		return "String"
	case KindVecString:
		return "VecString"
	case KindBytes:
		return "Bytes"
	case KindVecBytes:
		return "VecBytes"
	case KindTimestamp:
		return "Timestamp"
	case KindJSON:
		return "JSON"
	case KindNull:
		return "Null"
	default:
		return "Invalid"
	}
}
