package wire

import (
	"encoding/json"
	"fmt"

	"chainindexer/internal/tv"
)

func init() {
	for _, k := range tv.AllKinds() {
		if !jsonHandled(k) {
			panic(fmt.Sprintf("wire: Kind %s has no JSON encoding case", k))
		}
	}
}

func jsonHandled(k tv.Kind) bool {
	switch k {
	case tv.KindNull, tv.KindBool, tv.KindVecBool,
		tv.KindInt, tv.KindUint, tv.KindVecInt, tv.KindVecUint,
		tv.KindIntBytes, tv.KindUintBytes, tv.KindVecIntBytes, tv.KindVecUintBytes,
		tv.KindAddress, tv.KindVecAddress, tv.KindAddressBytes, tv.KindVecAddressBytes,
		tv.KindHash, tv.KindVecHash,
		tv.KindString, tv.KindVecString,
		tv.KindBytes, tv.KindVecBytes,
		tv.KindTimestamp,
		tv.KindJSON:
		return true
	default:
		return false
	}
}

// jsonMarshal is the shared json.Marshal entry point used by both the
// canonical JSON sink and the JSONB binary wire encoding, so a tuple's
// JSONVal tree and a TV's canonical form always go through the same
// marshaling rules.
func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ToJSON renders v as its canonical JSON representation: integers wide
// enough to lose precision in a JSON number (anything over 64 bits, and
// every *Bytes-representation integer regardless of width) render as
// decimal strings; addresses and hashes render as lowercase 0x-prefixed
// hex strings; bytes render as 0x-prefixed hex; timestamps render as
// Unix-seconds integers; tuples/tuple-arrays pass their JSONVal through
// unchanged.
func ToJSON(v tv.Value) (any, error) {
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
			return nil, fmt.Errorf("wire: %s has a nil payload", v.Kind)
		}
		if v.Width > 64 || v.Rep != tv.RepNumeric {
			return v.Int.String(), nil
		}
		return v.Int, nil

	case tv.KindIntBytes, tv.KindUintBytes:
		if v.Int == nil {
			return nil, fmt.Errorf("wire: %s has a nil payload", v.Kind)
		}
		return v.Int.String(), nil

	case tv.KindAddress, tv.KindAddressBytes:
		return v.Str, nil

	case tv.KindHash:
		return v.Str, nil

	case tv.KindString:
		return v.Str, nil

	case tv.KindBytes:
		return fmt.Sprintf("0x%x", v.Bytes), nil

	case tv.KindTimestamp:
		return v.Time, nil

	case tv.KindJSON:
		return v.JSONVal, nil

	case tv.KindVecBool, tv.KindVecInt, tv.KindVecUint, tv.KindVecIntBytes, tv.KindVecUintBytes,
		tv.KindVecAddress, tv.KindVecAddressBytes, tv.KindVecHash, tv.KindVecString, tv.KindVecBytes:
		out := make([]any, len(v.Elems))
		for i, elem := range v.Elems {
			rendered, err := ToJSON(elem)
			if err != nil {
				return nil, fmt.Errorf("wire: encoding array element %d: %w", i, err)
			}
			out[i] = rendered
		}
		return out, nil

	default:
		return nil, fmt.Errorf("wire: no JSON encoding for kind %s", v.Kind)
	}
}
