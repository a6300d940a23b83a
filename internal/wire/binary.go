// Package wire implements the three Wire Serializer sinks the spec
// requires for every Tagged Value: a relational binary wire format
// (Postgres-style COPY BINARY field encoding), a columnar SQL literal
// form (ClickHouse-style textual literal), and canonical JSON.
//
// Each sink is one exhaustive switch over tv.Kind. The exhaustiveness is
// checked once, at package init, against tv.AllKinds() — a Kind added to
// internal/tv and missed here panics at program start rather than at
// batch-execute time, matching the no-silent-partial-coverage design note.
package wire

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"chainindexer/internal/tv"
)

// pgEpoch is 2000-01-01 00:00:00 UTC, the zero point for Postgres
// timestamptz binary encoding.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

// Postgres type OIDs used to tag array headers. These are the real
// well-known OIDs (see sql_type_wrapper.rs's to_type()), reused here only
// as array element tags — this package never opens a wire connection.
const (
	oidBool        = 16
	oidBytea       = 17
	oidInt8        = 20
	oidText        = 25
	oidJSONB       = 3802
	oidBPChar      = 1042
	oidVarchar     = 1043
	oidTimestampTZ = 1184
	oidNumeric     = 1700
)

func init() {
	for _, k := range tv.AllKinds() {
		if !binaryHandled(k) {
			panic(fmt.Sprintf("wire: Kind %s has no binary encoding case", k))
		}
	}
}

// binaryHandled reports whether EncodeBinary has a case for k. Kept as a
// standalone function (rather than inlining the switch) so the init-time
// exhaustiveness check and EncodeBinary can't silently drift apart: both
// list the same kinds.
func binaryHandled(k tv.Kind) bool {
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

// EncodeBinary renders v in the relational binary wire format. isNull
// reports that the field must be written as SQL NULL (the explicit Null
// kind, a NullOnZero kind at its zero value, or an empty array) — data is
// nil in that case.
func EncodeBinary(v tv.Value) (data []byte, isNull bool, err error) {
	if v.Kind == tv.KindNull {
		return nil, true, nil
	}
	if v.NullOnZero && v.IsZero() {
		return nil, true, nil
	}

	switch v.Kind {
	case tv.KindBool:
		if v.Bool {
			return []byte{1}, false, nil
		}
		return []byte{0}, false, nil

	case tv.KindInt, tv.KindUint:
		return encodeIntBinary(v)

	case tv.KindIntBytes, tv.KindUintBytes:
		return encodeFixedBytes(v.Int, v.Width, v.Kind == tv.KindIntBytes), false, nil

	case tv.KindAddress:
		return []byte(v.Str), false, nil

	case tv.KindAddressBytes:
		return v.Bytes, false, nil

	case tv.KindHash:
		return v.Bytes, false, nil

	case tv.KindString:
		return []byte(v.Str), false, nil

	case tv.KindBytes:
		return v.Bytes, false, nil

	case tv.KindTimestamp:
		micros := (v.Time - pgEpoch) * 1_000_000
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(micros))
		return buf, false, nil

	case tv.KindJSON:
		return encodeJSONB(v.JSONVal)

	case tv.KindVecBool, tv.KindVecInt, tv.KindVecUint, tv.KindVecIntBytes, tv.KindVecUintBytes,
		tv.KindVecAddress, tv.KindVecAddressBytes, tv.KindVecHash, tv.KindVecString, tv.KindVecBytes:
		return encodeArrayBinary(v)

	default:
		return nil, false, fmt.Errorf("wire: no binary encoding for kind %s", v.Kind)
	}
}

func encodeIntBinary(v tv.Value) ([]byte, bool, error) {
	if v.Int == nil {
		return nil, false, fmt.Errorf("wire: %s has a nil payload", v.Kind)
	}

	switch v.Rep {
	case tv.RepBytes:
		return encodeFixedBytes(v.Int, v.Width, v.Kind == tv.KindInt), false, nil
	case tv.RepDecimalString:
		return []byte(v.Int.String()), false, nil
	}

	if v.Width <= 64 {
		buf := make([]byte, v.Width/8)
		putFixedWidth(buf, v.Int)
		return buf, false, nil
	}

	negative := v.Kind == tv.KindInt && v.Int.Sign() < 0
	abs := new(big.Int).Abs(v.Int)
	return encodeNumeric(abs, negative), false, nil
}

// putFixedWidth writes val into buf (native byte order semantics: plain
// big-endian two's complement) sized to len(buf)*8 bits.
func putFixedWidth(buf []byte, val *big.Int) {
	n := len(buf)
	tmp := new(big.Int)
	if val.Sign() < 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), uint(n*8))
		tmp.Add(mod, val)
	} else {
		tmp.Set(val)
	}
	b := tmp.Bytes()
	copy(buf[n-len(b):], b)
}

// encodeFixedBytes renders val as len(width/8) big-endian bytes, two's
// complement when signed is true. Used for the *Bytes representation
// kinds, where the wire column is BYTEA, not NUMERIC.
func encodeFixedBytes(val *big.Int, width int, signed bool) []byte {
	n := width / 8
	buf := make([]byte, n)
	if val == nil {
		return buf
	}
	if signed && val.Sign() < 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), uint(n*8))
		tmp := new(big.Int).Add(mod, val)
		b := tmp.Bytes()
		copy(buf[n-len(b):], b)
		return buf
	}
	b := val.Bytes()
	copy(buf[n-len(b):], b)
	return buf
}

// encodeNumeric implements the Postgres NUMERIC binary wire format:
// sign word (0x0000 positive, 0x4000 negative), weight = ndigits-1,
// dscale = 0 (this domain never carries a fractional NUMERIC), and
// base-10000 digit groups computed by repeated division, most
// significant group first. abs must be non-negative.
func encodeNumeric(abs *big.Int, negative bool) []byte {
	if abs.Sign() == 0 {
		buf := make([]byte, 8)
		return buf // ndigits=0, weight=0, sign=0x0000, dscale=0
	}

	base := big.NewInt(10000)
	var digits []uint16
	n := new(big.Int).Set(abs)
	rem := new(big.Int)
	for n.Sign() > 0 {
		n.QuoRem(n, base, rem)
		digits = append(digits, uint16(rem.Int64()))
	}
	// digits is currently least-significant-group first; reverse it.
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}

	sign := uint16(0x0000)
	if negative {
		sign = 0x4000
	}

	buf := make([]byte, 8+2*len(digits))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(digits))) // ndigits
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(digits)-1)) // weight
	binary.BigEndian.PutUint16(buf[4:6], sign)
	binary.BigEndian.PutUint16(buf[6:8], 0) // dscale
	for i, d := range digits {
		binary.BigEndian.PutUint16(buf[8+2*i:10+2*i], d)
	}
	return buf
}

func encodeJSONB(v any) ([]byte, bool, error) {
	data, err := jsonMarshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("wire: encoding JSONB payload: %w", err)
	}
	// Postgres's jsonb binary wire form is a single version byte (1)
	// followed by the JSON text.
	out := make([]byte, 0, len(data)+1)
	out = append(out, 1)
	out = append(out, data...)
	return out, false, nil
}

// encodeArrayBinary implements the 1-D Postgres array binary header
// (ndim=1, hasnull=0, element OID, dimension length, lower bound=1)
// followed by each element as a length-prefixed field. An empty array
// serializes as SQL NULL, matching every *Nullable vector variant in the
// source (VecU64, VecAddress, ... all return IsNull::Yes when empty).
func encodeArrayBinary(v tv.Value) ([]byte, bool, error) {
	if len(v.Elems) == 0 {
		return nil, true, nil
	}

	oid := arrayElementOID(v.Kind.ElemKind(), v.Elems[0])

	header := make([]byte, 20)
	binary.BigEndian.PutUint32(header[0:4], 1)   // ndim
	binary.BigEndian.PutUint32(header[4:8], 0)   // hasnull (this domain never emits a null element)
	binary.BigEndian.PutUint32(header[8:12], uint32(oid))
	binary.BigEndian.PutUint32(header[12:16], uint32(len(v.Elems))) // dimension length
	binary.BigEndian.PutUint32(header[16:20], 1)                    // lower bound

	out := header
	for _, elem := range v.Elems {
		data, isNull, err := EncodeBinary(elem)
		if err != nil {
			return nil, false, fmt.Errorf("wire: encoding array element: %w", err)
		}
		lenBuf := make([]byte, 4)
		if isNull {
			binary.BigEndian.PutUint32(lenBuf, 0xFFFFFFFF) // -1 as int32
			out = append(out, lenBuf...)
			continue
		}
		binary.BigEndian.PutUint32(lenBuf, uint32(len(data)))
		out = append(out, lenBuf...)
		out = append(out, data...)
	}
	return out, false, nil
}

func arrayElementOID(elemKind tv.Kind, sample tv.Value) int32 {
	switch elemKind {
	case tv.KindBool:
		return oidBool
	case tv.KindInt, tv.KindUint:
		if sample.Rep == tv.RepDecimalString {
			return oidVarchar
		}
		if sample.Width <= 64 {
			return oidInt8
		}
		return oidNumeric
	case tv.KindIntBytes, tv.KindUintBytes:
		return oidBytea
	case tv.KindAddress:
		return oidBPChar
	case tv.KindAddressBytes:
		return oidBytea
	case tv.KindHash:
		return oidBPChar
	case tv.KindString:
		return oidText
	case tv.KindBytes:
		return oidBytea
	default:
		return oidText
	}
}
