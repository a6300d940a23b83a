package wire

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainindexer/internal/tv"
)

// TestNumericBinaryS6 is scenario S6: -170 encoded as a 128-bit signed
// NUMERIC must produce the exact byte sequence
// 00 01 00 00 40 00 00 00 00 AA.
func TestNumericBinaryS6(t *testing.T) {
	v := tv.NewInt(128, tv.RepNumeric, big.NewInt(-170))
	data, isNull, err := EncodeBinary(v)
	require.NoError(t, err)
	require.False(t, isNull)
	assert.Equal(t, []byte{0x00, 0x01, 0x00, 0x00, 0x40, 0x00, 0x00, 0x00, 0x00, 0xAA}, data)
}

func TestNumericBinaryZero(t *testing.T) {
	v := tv.NewUint(128, tv.RepNumeric, big.NewInt(0))
	data, isNull, err := EncodeBinary(v)
	require.NoError(t, err)
	require.False(t, isNull)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, data)
}

func TestNumericBinaryPositiveMultiGroup(t *testing.T) {
	// 100000000 = 0x5F5E100; base-10000 groups from least to most
	// significant: 0, 0, 10000^2 digit is 1 -> groups [1, 0, 0].
	v := tv.NewUint(128, tv.RepNumeric, big.NewInt(100000000))
	data, isNull, err := EncodeBinary(v)
	require.NoError(t, err)
	require.False(t, isNull)
	require.Len(t, data, 8+2*3)
	ndigits := binary.BigEndian.Uint16(data[0:2])
	weight := binary.BigEndian.Uint16(data[2:4])
	sign := binary.BigEndian.Uint16(data[4:6])
	assert.EqualValues(t, 3, ndigits)
	assert.EqualValues(t, 2, weight)
	assert.EqualValues(t, 0x0000, sign)
	assert.EqualValues(t, 1, binary.BigEndian.Uint16(data[8:10]))
	assert.EqualValues(t, 0, binary.BigEndian.Uint16(data[10:12]))
	assert.EqualValues(t, 0, binary.BigEndian.Uint16(data[12:14]))
}

func TestFixedWidthNativeEncoding(t *testing.T) {
	v := tv.NewUint(64, tv.RepNumeric, big.NewInt(258))
	data, isNull, err := EncodeBinary(v)
	require.NoError(t, err)
	require.False(t, isNull)
	assert.Equal(t, uint64(258), binary.BigEndian.Uint64(data))
}

func TestFixedWidthSignedNegative(t *testing.T) {
	v := tv.NewInt(32, tv.RepNumeric, big.NewInt(-1))
	data, isNull, err := EncodeBinary(v)
	require.NoError(t, err)
	require.False(t, isNull)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, data)
}

func TestBytesRepresentationIsRawBigEndian(t *testing.T) {
	v := tv.NewUint(256, tv.RepBytes, big.NewInt(1))
	data, isNull, err := EncodeBinary(v)
	require.NoError(t, err)
	require.False(t, isNull)
	require.Len(t, data, 32)
	assert.Equal(t, byte(1), data[31])
}

func TestNullOnZeroProducesNull(t *testing.T) {
	v := tv.NewUint(64, tv.RepNumeric, big.NewInt(0))
	v.NullOnZero = true
	_, isNull, err := EncodeBinary(v)
	require.NoError(t, err)
	assert.True(t, isNull)
}

func TestExplicitNullIsNull(t *testing.T) {
	_, isNull, err := EncodeBinary(tv.Null())
	require.NoError(t, err)
	assert.True(t, isNull)
}

func TestEmptyVecIsNull(t *testing.T) {
	v := tv.NewVec(tv.KindUint, nil)
	_, isNull, err := EncodeBinary(v)
	require.NoError(t, err)
	assert.True(t, isNull)
}

func TestVecArrayHeader(t *testing.T) {
	elems := []tv.Value{
		tv.NewUint(64, tv.RepNumeric, big.NewInt(1)),
		tv.NewUint(64, tv.RepNumeric, big.NewInt(2)),
	}
	v := tv.NewVec(tv.KindUint, elems)
	data, isNull, err := EncodeBinary(v)
	require.NoError(t, err)
	require.False(t, isNull)
	require.GreaterOrEqual(t, len(data), 20)
	assert.EqualValues(t, 1, binary.BigEndian.Uint32(data[0:4]))  // ndim
	assert.EqualValues(t, 0, binary.BigEndian.Uint32(data[4:8]))  // hasnull
	assert.EqualValues(t, 2, binary.BigEndian.Uint32(data[12:16])) // length
	assert.EqualValues(t, 1, binary.BigEndian.Uint32(data[16:20])) // lower bound
}

// TestInvariantSerializerTotality is invariant 1: every kind that
// init()'s exhaustiveness check accepts must also produce output (or a
// deliberate error) from EncodeBinary without panicking.
func TestInvariantSerializerTotality(t *testing.T) {
	for _, k := range tv.AllKinds() {
		v := sampleValue(k)
		assert.NotPanics(t, func() {
			_, _, _ = EncodeBinary(v)
		}, "kind %s must not panic EncodeBinary", k)
	}
}

func sampleValue(k tv.Kind) tv.Value {
	switch k {
	case tv.KindBool:
		return tv.NewBool(true)
	case tv.KindVecBool:
		return tv.NewVec(tv.KindBool, []tv.Value{tv.NewBool(true)})
	case tv.KindInt:
		return tv.NewInt(64, tv.RepNumeric, big.NewInt(-1))
	case tv.KindUint:
		return tv.NewUint(128, tv.RepNumeric, big.NewInt(1))
	case tv.KindVecInt:
		return tv.NewVec(tv.KindInt, []tv.Value{tv.NewInt(64, tv.RepNumeric, big.NewInt(1))})
	case tv.KindVecUint:
		return tv.NewVec(tv.KindUint, []tv.Value{tv.NewUint(64, tv.RepNumeric, big.NewInt(1))})
	case tv.KindIntBytes:
		return tv.NewInt(256, tv.RepBytes, big.NewInt(-1))
	case tv.KindUintBytes:
		return tv.NewUint(256, tv.RepBytes, big.NewInt(1))
	case tv.KindVecIntBytes:
		return tv.NewVec(tv.KindIntBytes, []tv.Value{tv.NewInt(256, tv.RepBytes, big.NewInt(1))})
	case tv.KindVecUintBytes:
		return tv.NewVec(tv.KindUintBytes, []tv.Value{tv.NewUint(256, tv.RepBytes, big.NewInt(1))})
	case tv.KindAddress:
		return tv.NewAddress([20]byte{1})
	case tv.KindVecAddress:
		return tv.NewVec(tv.KindAddress, []tv.Value{tv.NewAddress([20]byte{1})})
	case tv.KindAddressBytes:
		v := tv.NewAddress([20]byte{1})
		v.Kind = tv.KindAddressBytes
		return v
	case tv.KindVecAddressBytes:
		elem := tv.NewAddress([20]byte{1})
		elem.Kind = tv.KindAddressBytes
		return tv.NewVec(tv.KindAddressBytes, []tv.Value{elem})
	case tv.KindHash:
		return tv.NewHash(256, make([]byte, 32))
	case tv.KindVecHash:
		return tv.NewVec(tv.KindHash, []tv.Value{tv.NewHash(256, make([]byte, 32))})
	case tv.KindString:
		return tv.NewString("x")
	case tv.KindVecString:
		return tv.NewVec(tv.KindString, []tv.Value{tv.NewString("x")})
	case tv.KindBytes:
		return tv.NewBytes([]byte{1})
	case tv.KindVecBytes:
		return tv.NewVec(tv.KindBytes, []tv.Value{tv.NewBytes([]byte{1})})
	case tv.KindTimestamp:
		return tv.NewTimestamp(1700000000)
	case tv.KindJSON:
		return tv.NewJSON(map[string]any{"a": 1})
	case tv.KindNull:
		return tv.Null()
	default:
		return tv.Value{Kind: k}
	}
}
