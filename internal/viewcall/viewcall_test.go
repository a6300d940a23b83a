package viewcall

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainindexer/internal/abimap"
)

func TestSelectorMatchesKnownERC20Signature(t *testing.T) {
	// balanceOf(address) -> 0x70a08231, a widely known selector.
	sel := Selector("balanceOf(address)")
	assert.Equal(t, "70a08231", fmtHex(sel[:]))
}

func fmtHex(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexDigits[c>>4]
		out[i*2+1] = hexDigits[c&0xf]
	}
	return string(out)
}

func TestBuildCalldataEncodesSelectorAndArgs(t *testing.T) {
	addr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	data, err := BuildCalldata("balanceOf(address)", []string{"address"}, []any{addr})
	require.NoError(t, err)
	require.Len(t, data, 4+32)
	assert.Equal(t, "70a08231", fmtHex(data[:4]))
}

func TestBuildCalldataArgCountMismatchErrors(t *testing.T) {
	_, err := BuildCalldata("balanceOf(address)", []string{"address"}, nil)
	assert.Error(t, err)
}

func TestParseFunctionSigWithReturnsSplitsCleanly(t *testing.T) {
	clean, fields := ParseFunctionSigWithReturns("decimals() returns (uint8)")
	assert.Equal(t, "decimals()", clean)
	require.Len(t, fields, 1)
	assert.Equal(t, "uint8", fields[0].TypeStr)
}

func TestParseFunctionSigWithReturnsNestedTuple(t *testing.T) {
	clean, fields := ParseFunctionSigWithReturns("getReserves() returns ((uint112 reserve0, uint112 reserve1) reserves)")
	assert.Equal(t, "getReserves()", clean)
	require.Len(t, fields, 1)
	assert.Equal(t, "reserves", fields[0].Name)
	require.Len(t, fields[0].Children, 2)
	assert.Equal(t, "reserve0", fields[0].Children[0].Name)
	assert.Equal(t, "uint112", fields[0].Children[0].TypeStr)
}

func TestParseFunctionSignatureSplitsParamTypes(t *testing.T) {
	name, params, err := ParseFunctionSignature("transfer(address,uint256)")
	require.NoError(t, err)
	assert.Equal(t, "transfer", name)
	assert.Equal(t, []string{"address", "uint256"}, params)
}

func TestParseFunctionSignatureNoParams(t *testing.T) {
	name, params, err := ParseFunctionSignature("totalSupply()")
	require.NoError(t, err)
	assert.Equal(t, "totalSupply", name)
	assert.Nil(t, params)
}

func TestDecodeReturnDefaultsToUint256(t *testing.T) {
	// 18 left-padded to 32 bytes.
	data := make([]byte, 32)
	data[31] = 18
	v, err := DecodeReturn(data, nil)
	require.NoError(t, err)
	assert.Equal(t, abimap.DecodedUint, v.Kind)
	assert.Equal(t, int64(18), v.Int.Int64())
}

func TestDecodeReturnWithExplicitFieldType(t *testing.T) {
	data := make([]byte, 32)
	data[31] = 6
	v, err := DecodeReturn(data, []ReturnField{{TypeStr: "uint8"}})
	require.NoError(t, err)
	assert.Equal(t, abimap.DecodedUint, v.Kind)
	assert.Equal(t, int64(6), v.Int.Int64())
}

func TestWidenUintToBool(t *testing.T) {
	nonzero := abimap.DecodedValue{Kind: abimap.DecodedUint, Int: big.NewInt(5)}
	v, err := Widen(nonzero, WidenBool, 0)
	require.NoError(t, err)
	assert.True(t, v.Bool)

	zero := abimap.DecodedValue{Kind: abimap.DecodedUint, Int: big.NewInt(0)}
	v, err = Widen(zero, WidenBool, 0)
	require.NoError(t, err)
	assert.False(t, v.Bool)
}

func TestWidenUintToAddressTruncatesToLower20Bytes(t *testing.T) {
	n := new(big.Int).SetBytes(common.HexToAddress("0x00000000000000000000000000000000000042").Bytes())
	v, err := Widen(abimap.DecodedValue{Kind: abimap.DecodedUint, Int: n}, WidenAddress, 0)
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000000000000000000000000000042"[2:], v.Address.Hex()[2:])
}

func TestWidenUintToSignedTwosComplement(t *testing.T) {
	// 2^256 - 1 at 256 bits is -1 in two's complement.
	maxUint256 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	v, err := Widen(abimap.DecodedValue{Kind: abimap.DecodedUint, Int: maxUint256}, WidenSigned, 256)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v.Int.Int64())
}

func TestApplyAccessorIndexIntoTuple(t *testing.T) {
	tuple := abimap.DecodedValue{
		Kind: abimap.DecodedTuple,
		Elems: []abimap.DecodedValue{
			{Kind: abimap.DecodedUint, Int: big.NewInt(100)},
			{Kind: abimap.DecodedUint, Int: big.NewInt(200)},
		},
	}
	fields := []ReturnField{{Name: "reserve0", TypeStr: "uint112"}, {Name: "reserve1", TypeStr: "uint112"}}

	byIndex, err := ApplyAccessor(tuple, "[1]", fields)
	require.NoError(t, err)
	assert.Equal(t, int64(200), byIndex.Int.Int64())

	byName, err := ApplyAccessor(tuple, ".reserve0", fields)
	require.NoError(t, err)
	assert.Equal(t, int64(100), byName.Int.Int64())
}

func TestApplyAccessorUnknownFieldErrors(t *testing.T) {
	tuple := abimap.DecodedValue{Kind: abimap.DecodedTuple, Elems: []abimap.DecodedValue{{Kind: abimap.DecodedUint, Int: big.NewInt(1)}}}
	_, err := ApplyAccessor(tuple, ".missing", []ReturnField{{Name: "reserve0"}})
	assert.Error(t, err)
}

func TestResolveTargetRindexerContractAddress(t *testing.T) {
	contract := common.HexToAddress("0x00000000000000000000000000000000000099")
	addr, err := ResolveTarget("$rindexer_contract_address", contract, nil)
	require.NoError(t, err)
	assert.Equal(t, contract, addr)
}

func TestResolveTargetLiteralAddress(t *testing.T) {
	addr, err := ResolveTarget("0x0000000000000000000000000000000000000042", common.Address{}, nil)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x0000000000000000000000000000000000000042"), addr)
}

func TestResolveTargetDelegatesFieldReference(t *testing.T) {
	want := common.HexToAddress("0x0000000000000000000000000000000000000007")
	addr, err := ResolveTarget("$token", common.Address{}, func(field string) (common.Address, error) {
		assert.Equal(t, "token", field)
		return want, nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, addr)
}

func TestResolveTargetInvalidAddressErrors(t *testing.T) {
	_, err := ResolveTarget("not-an-address", common.Address{}, nil)
	assert.Error(t, err)
}

// fakeCaller is a Caller that returns a fixed response and counts calls,
// used to assert the coordinator's cache avoids redundant RPC round-trips.
type fakeCaller struct {
	response []byte
	calls    int
}

func (f *fakeCaller) EthCall(_ context.Context, _ string, _ common.Address, _ []byte, _ uint64) ([]byte, error) {
	f.calls++
	return f.response, nil
}

func TestCoordinatorExecuteCachesByBlockAndCalldata(t *testing.T) {
	data := make([]byte, 32)
	data[31] = 18
	caller := &fakeCaller{response: data}
	coord := NewCoordinator(caller, Config{})

	req := CallRequest{
		Network:     "ethereum",
		Target:      common.HexToAddress("0x0000000000000000000000000000000000000001"),
		FunctionSig: "decimals()",
		BlockNumber: 100,
	}

	v1, err := coord.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(18), v1.Int.Int64())
	assert.Equal(t, 1, caller.calls)

	v2, err := coord.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(18), v2.Int.Int64())
	assert.Equal(t, 1, caller.calls, "second call at the same block should hit the cache")

	req.BlockNumber = 101
	_, err = coord.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, caller.calls, "a different block number must bypass the cache")
}

func TestCoordinatorExecuteAppliesAccessor(t *testing.T) {
	// getReserves() returns (uint112, uint112) packed as two 32-byte words.
	data := make([]byte, 64)
	data[31] = 10
	data[63] = 20
	caller := &fakeCaller{response: data}
	coord := NewCoordinator(caller, Config{})

	req := CallRequest{
		Network:      "ethereum",
		Target:       common.HexToAddress("0x0000000000000000000000000000000000000002"),
		FunctionSig:  "getReserves()",
		ReturnFields: []ReturnField{{Name: "reserve0", TypeStr: "uint112"}, {Name: "reserve1", TypeStr: "uint112"}},
		BlockNumber:  1,
		Accessor:     ".reserve1",
	}

	v, err := coord.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(20), v.Int.Int64())
}
