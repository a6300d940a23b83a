package viewcall

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// Selector returns the 4-byte function selector: the leading bytes of
// the keccak256 hash of the raw signature (spec.md §4.5 step 2).
func Selector(sig string) [4]byte {
	hash := crypto.Keccak256([]byte(sig))
	var sel [4]byte
	copy(sel[:], hash[:4])
	return sel
}

// BuildCalldata encodes selector(sig) followed by the ABI encoding of
// args interpreted against paramTypes, in order. Only elementary and
// elementary-array parameter types are supported — the same restriction
// the upstream literal-argument resolver applies, since $call arguments
// are always literals, field references, or constants, never nested
// tuples.
func BuildCalldata(sig string, paramTypes []string, args []any) ([]byte, error) {
	if len(paramTypes) != len(args) {
		return nil, fmt.Errorf("viewcall: %q expects %d arguments, got %d", sig, len(paramTypes), len(args))
	}

	sel := Selector(sig)
	if len(paramTypes) == 0 {
		return sel[:], nil
	}

	arguments := make(abi.Arguments, len(paramTypes))
	for i, t := range paramTypes {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			return nil, fmt.Errorf("viewcall: parameter %d type %q: %w", i, t, err)
		}
		arguments[i] = abi.Argument{Type: typ}
	}

	packed, err := arguments.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("viewcall: encoding arguments for %q: %w", sig, err)
	}

	calldata := make([]byte, 0, 4+len(packed))
	calldata = append(calldata, sel[:]...)
	calldata = append(calldata, packed...)
	return calldata, nil
}
