package viewcall

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"chainindexer/internal/abimap"
)

// WidenTarget names the column-facing shape a view-call result is being
// converted to, per spec.md §4.5 step 7 ("cross-type widening").
type WidenTarget int

const (
	WidenNone WidenTarget = iota
	WidenBool
	WidenAddress
	WidenSigned
)

// Widen converts a decoded view-call result to the declared column shape:
// a uint256 going to a bool column becomes value != 0; to address, the
// lower 20 bytes; to a signed type, a two's-complement reinterpretation
// at the given bit width.
func Widen(value abimap.DecodedValue, target WidenTarget, signedBits int) (abimap.DecodedValue, error) {
	switch target {
	case WidenNone:
		return value, nil

	case WidenBool:
		n, ok := magnitudeOf(value)
		if !ok {
			return abimap.DecodedValue{}, fmt.Errorf("viewcall: cannot widen %v to bool", value.Kind)
		}
		return abimap.DecodedValue{Kind: abimap.DecodedBool, Bool: n.Sign() != 0}, nil

	case WidenAddress:
		n, ok := magnitudeOf(value)
		if !ok {
			return abimap.DecodedValue{}, fmt.Errorf("viewcall: cannot widen %v to address", value.Kind)
		}
		raw := n.Bytes()
		if len(raw) > 20 {
			raw = raw[len(raw)-20:]
		}
		var addr common.Address
		copy(addr[20-len(raw):], raw)
		return abimap.DecodedValue{Kind: abimap.DecodedAddress, Address: addr}, nil

	case WidenSigned:
		n, ok := magnitudeOf(value)
		if !ok {
			return abimap.DecodedValue{}, fmt.Errorf("viewcall: cannot widen %v to a signed integer", value.Kind)
		}
		return abimap.DecodedValue{Kind: abimap.DecodedInt, Int: toTwosComplementSigned(n, signedBits)}, nil

	default:
		return abimap.DecodedValue{}, fmt.Errorf("viewcall: unknown widen target %d", target)
	}
}

func magnitudeOf(value abimap.DecodedValue) (*big.Int, bool) {
	switch value.Kind {
	case abimap.DecodedUint, abimap.DecodedInt:
		return value.Int, value.Int != nil
	case abimap.DecodedBool:
		if value.Bool {
			return big.NewInt(1), true
		}
		return big.NewInt(0), true
	default:
		return nil, false
	}
}

// toTwosComplementSigned reinterprets an unsigned magnitude as a signed
// integer of the given bit width: if the top bit is set, the value is
// val - 2^bits.
func toTwosComplementSigned(val *big.Int, bits int) *big.Int {
	if bits <= 0 {
		return new(big.Int).Set(val)
	}
	modulus := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	reduced := new(big.Int).Mod(val, modulus)
	half := new(big.Int).Rsh(modulus, 1)
	if reduced.Cmp(half) >= 0 {
		return new(big.Int).Sub(reduced, modulus)
	}
	return reduced
}
