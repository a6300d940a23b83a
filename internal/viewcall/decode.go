package viewcall

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"chainindexer/internal/abimap"
)

// DecodeReturn decodes a view call's raw return bytes into a DecodedValue
// tree. When fields is non-empty the stated "returns (...)" type tree
// governs decoding (spec.md §4.5 step 5); otherwise a single uint256
// return is assumed, with a probe for the ABI-string/bytes dynamic-type
// shape first.
func DecodeReturn(data []byte, fields []ReturnField) (abimap.DecodedValue, error) {
	if len(fields) == 0 {
		return autoDecodeReturn(data)
	}

	typ, err := buildReturnABIType(fields)
	if err != nil {
		return abimap.DecodedValue{}, fmt.Errorf("viewcall: building return type: %w", err)
	}
	values, err := (abi.Arguments{{Type: typ}}).UnpackValues(data)
	if err != nil {
		return abimap.DecodedValue{}, fmt.Errorf("viewcall: decoding return value: %w", err)
	}
	if len(values) != 1 {
		return abimap.DecodedValue{}, fmt.Errorf("viewcall: expected exactly one decoded return value, got %d", len(values))
	}
	return convertABIValue(values[0], fieldsToShape(fields))
}

func buildReturnABIType(fields []ReturnField) (abi.Type, error) {
	if len(fields) == 1 && len(fields[0].Children) == 0 {
		t := orDefault(fields[0].TypeStr, "uint256")
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			return abi.NewType("uint256", "", nil)
		}
		return typ, nil
	}
	components := make([]abi.ArgumentMarshaling, len(fields))
	for i, f := range fields {
		components[i] = buildArgumentMarshaling(f)
	}
	return abi.NewType("tuple", "", components)
}

func buildArgumentMarshaling(f ReturnField) abi.ArgumentMarshaling {
	if len(f.Children) > 0 {
		children := make([]abi.ArgumentMarshaling, len(f.Children))
		for i, c := range f.Children {
			children[i] = buildArgumentMarshaling(c)
		}
		return abi.ArgumentMarshaling{Name: f.Name, Type: "tuple", Components: children}
	}
	return abi.ArgumentMarshaling{Name: f.Name, Type: orDefault(f.TypeStr, "uint256")}
}

func fieldsToShape(fields []ReturnField) abimap.Shape {
	if len(fields) == 1 && len(fields[0].Children) == 0 {
		return returnFieldToShape(fields[0])
	}
	components := make([]abimap.Shape, len(fields))
	for i, f := range fields {
		components[i] = returnFieldToShape(f)
	}
	return abimap.Shape{SolidityType: "tuple", Components: components}
}

func returnFieldToShape(f ReturnField) abimap.Shape {
	if len(f.Children) > 0 {
		components := make([]abimap.Shape, len(f.Children))
		for i, c := range f.Children {
			components[i] = returnFieldToShape(c)
		}
		return abimap.Shape{Name: f.Name, SolidityType: "tuple", Components: components}
	}
	return abimap.Shape{Name: f.Name, SolidityType: orDefault(f.TypeStr, "uint256")}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// convertABIValue walks a go-ethereum abi-decoded native Go value
// (reflect struct for tuples, slice for arrays, or a scalar) into the
// same DecodedValue tree internal/abimap builds for decoded log
// parameters — the two packages share this representation so a view-call
// result and a log field look identical to the rest of the pipeline.
func convertABIValue(v any, shape abimap.Shape) (abimap.DecodedValue, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Struct:
		elems := make([]abimap.DecodedValue, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			var childShape abimap.Shape
			if i < len(shape.Components) {
				childShape = shape.Components[i]
			}
			dv, err := convertABIValue(rv.Field(i).Interface(), childShape)
			if err != nil {
				return abimap.DecodedValue{}, fmt.Errorf("viewcall: tuple field %d: %w", i, err)
			}
			elems[i] = dv
		}
		return abimap.DecodedValue{Kind: abimap.DecodedTuple, Elems: elems}, nil

	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return abimap.DecodedValue{Kind: abimap.DecodedBytes, Bytes: b}, nil
		}
		elemShape := shape
		if len(shape.Components) > 0 {
			elemShape = shape.Components[0]
		}
		elems := make([]abimap.DecodedValue, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			dv, err := convertABIValue(rv.Index(i).Interface(), elemShape)
			if err != nil {
				return abimap.DecodedValue{}, fmt.Errorf("viewcall: array element %d: %w", i, err)
			}
			elems[i] = dv
		}
		return abimap.DecodedValue{Kind: abimap.DecodedArray, Elems: elems}, nil

	default:
		switch val := v.(type) {
		case common.Address:
			return abimap.DecodedValue{Kind: abimap.DecodedAddress, Address: val}, nil
		case bool:
			return abimap.DecodedValue{Kind: abimap.DecodedBool, Bool: val}, nil
		case string:
			return abimap.DecodedValue{Kind: abimap.DecodedString, Str: val}, nil
		case uint8, uint16, uint32, uint64:
			return abimap.DecodedValue{Kind: abimap.DecodedUint, Int: new(big.Int).SetUint64(rv.Uint())}, nil
		case int8, int16, int32, int64:
			return abimap.DecodedValue{Kind: abimap.DecodedInt, Int: big.NewInt(rv.Int())}, nil
		case *big.Int:
			kind := abimap.DecodedUint
			if len(shape.SolidityType) >= 3 && shape.SolidityType[:3] == "int" {
				kind = abimap.DecodedInt
			}
			return abimap.DecodedValue{Kind: kind, Int: val}, nil
		default:
			return abimap.DecodedValue{}, fmt.Errorf("viewcall: unsupported decoded Go type %T", v)
		}
	}
}

// autoDecodeReturn mirrors the upstream auto-detection: probe for the
// ABI-string/bytes dynamic-type shape (offset 0x20, sane length,
// printable content) before defaulting to uint256. Addresses and bools
// are deliberately not auto-detected — see spec.md §4.5 step 5; the
// caller's declared column type drives that conversion via Widen.
func autoDecodeReturn(data []byte) (abimap.DecodedValue, error) {
	if len(data) == 0 {
		return abimap.DecodedValue{}, errors.New("viewcall: empty return data")
	}

	if len(data) >= 64 {
		offset := new(big.Int).SetBytes(data[0:32])
		if offset.Cmp(big.NewInt(32)) == 0 {
			length := new(big.Int).SetBytes(data[32:64])
			if length.IsUint64() {
				n := length.Uint64()
				if n < 10000 && uint64(len(data)) >= 64+n {
					if s, ok := tryDecodeASCIIString(data); ok {
						return abimap.DecodedValue{Kind: abimap.DecodedString, Str: s}, nil
					}
					if b, ok := tryDecodeDynamicBytes(data); ok {
						return abimap.DecodedValue{Kind: abimap.DecodedBytes, Bytes: b}, nil
					}
				}
			}
		}
	}

	typ, _ := abi.NewType("uint256", "", nil)
	values, err := (abi.Arguments{{Type: typ}}).UnpackValues(data)
	if err != nil {
		return abimap.DecodedValue{}, fmt.Errorf("viewcall: default uint256 decode: %w", err)
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		return abimap.DecodedValue{}, fmt.Errorf("viewcall: unexpected decode result type %T", values[0])
	}
	return abimap.DecodedValue{Kind: abimap.DecodedUint, Int: n}, nil
}

func tryDecodeASCIIString(data []byte) (string, bool) {
	typ, _ := abi.NewType("string", "", nil)
	values, err := (abi.Arguments{{Type: typ}}).UnpackValues(data)
	if err != nil {
		return "", false
	}
	s, ok := values[0].(string)
	if !ok || !isPrintableASCII(s) {
		return "", false
	}
	return s, true
}

func tryDecodeDynamicBytes(data []byte) ([]byte, bool) {
	typ, _ := abi.NewType("bytes", "", nil)
	values, err := (abi.Arguments{{Type: typ}}).UnpackValues(data)
	if err != nil {
		return nil, false
	}
	b, ok := values[0].([]byte)
	return b, ok
}

func isPrintableASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
		c := byte(r)
		graphic := c > 0x20 && c < 0x7f
		whitespace := c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
		if !graphic && !whitespace && c != '/' {
			return false
		}
	}
	return true
}
