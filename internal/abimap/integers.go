package abimap

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"chainindexer/internal/tv"
)

// parseIntegerType splits a Solidity integer type string ("uint256",
// "int8", "uint", "int") into its signedness and declared bit width.
// A bare "int"/"uint" with no width suffix is the Solidity alias for 256
// bits.
func parseIntegerType(t string) (signed bool, bits int, err error) {
	switch {
	case strings.HasPrefix(t, "uint"):
		signed = false
		t = strings.TrimPrefix(t, "uint")
	case strings.HasPrefix(t, "int"):
		signed = true
		t = strings.TrimPrefix(t, "int")
	default:
		return false, 0, fmt.Errorf("abimap: %q is not an integer type", t)
	}
	if t == "" {
		return signed, 256, nil
	}
	bits, convErr := strconv.Atoi(t)
	if convErr != nil {
		return false, 0, fmt.Errorf("abimap: invalid integer bit width in %q: %w", t, convErr)
	}
	return signed, bits, nil
}

// roundWidth rounds a declared Solidity integer bit width up to the
// nearest TV width variant, mirroring the source's match over
// 8/16/(24|32)/(40|48|56|64)/(72..128)/(136..256).
func roundWidth(bits int) int {
	switch {
	case bits <= 8:
		return 8
	case bits <= 16:
		return 16
	case bits <= 32:
		return 32
	case bits <= 64:
		return 64
	case bits <= 128:
		return 128
	case bits <= 256:
		return 256
	default:
		return 256
	}
}

// mapInteger converts a decoded integer value into its TV, selecting
// width and signedness from the Solidity type string and enforcing the
// width-narrowing invariant for declared widths of 64 bits or more: a
// magnitude that does not fit such a width panics rather than silently
// losing high bits. Declared widths below 64 bits are not checked.
func mapInteger(solidityType string, value DecodedValue) (tv.Value, error) {
	signed, bits, err := parseIntegerType(solidityType)
	if err != nil {
		return tv.Value{}, err
	}
	width := roundWidth(bits)

	if value.Int == nil {
		return tv.Value{}, fmt.Errorf("abimap: integer value has a nil payload")
	}

	checkMagnitudeFits(value.Int, bits, signed)

	if signed {
		return tv.NewInt(width, tv.RepNumeric, new(big.Int).Set(value.Int)), nil
	}
	return tv.NewUint(width, tv.RepNumeric, new(big.Int).Set(value.Int)), nil
}

// checkMagnitudeFits panics if value does not fit in the declared bit
// width, for declared widths of 64 bits or more; narrower widths are not
// checked. An overflow is a decoder-contract violation (the upstream ABI decoder
// promises values already bounded to their declared width), not a
// user-facing error, so it is reported the way the source reports it:
// a panic, not a returned error.
func checkMagnitudeFits(value *big.Int, bits int, signed bool) {
	if bits >= 64 {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(bits))
		if signed {
			half := new(big.Int).Rsh(limit, 1)
			neg := new(big.Int).Neg(half)
			if value.Cmp(neg) < 0 || value.Cmp(new(big.Int).Sub(half, big.NewInt(1))) > 0 {
				panic(fmt.Sprintf("abimap: value %s overflows signed %d-bit integer", value, bits))
			}
			return
		}
		if value.Sign() < 0 || value.Cmp(new(big.Int).Sub(limit, big.NewInt(1))) > 0 {
			panic(fmt.Sprintf("abimap: value %s overflows unsigned %d-bit integer", value, bits))
		}
	}
}
