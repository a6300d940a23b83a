package wire

import (
	"fmt"
	"strings"
	"time"

	"chainindexer/internal/tv"
)

func init() {
	for _, k := range tv.AllKinds() {
		if !columnarHandled(k) {
			panic(fmt.Sprintf("wire: Kind %s has no columnar literal case", k))
		}
	}
}

func columnarHandled(k tv.Kind) bool {
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

// quoteSingle escapes s for a single-quoted SQL string literal the way
// the teacher's dialect/mysql.QuoteString does: double every embedded
// single quote.
func quoteSingle(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// formatColumnarTimestamp renders an RFC3339 timestamp with the timezone
// offset stripped after the "+" (the source's to_clickhouse_value() strips
// the chrono to_rfc3339() tail the same way; this domain only ever carries
// UTC timestamps, so the stripped suffix is always "+00:00").
func formatColumnarTimestamp(unixSeconds int64) string {
	full := time.Unix(unixSeconds, 0).UTC().Format("2006-01-02T15:04:05-07:00")
	if i := strings.Index(full, "+"); i >= 0 {
		return full[:i]
	}
	return full
}

// ColumnarLiteral renders v as a textual SQL literal suitable for a
// columnar store's INSERT/VALUES clause (the ClickHouse-style sink).
// Raw-bytes representations (AddressBytes, *Bytes-representation
// integers, VecXBytes) have no natural textual form in this sink — the
// source panics on exactly this set of variants in to_clickhouse_value()
// — so ColumnarLiteral returns an error instead, which the caller must
// treat as a configuration mistake (a column declared with a bytes
// representation routed at a columnar destination).
func ColumnarLiteral(v tv.Value) (string, error) {
	if v.Kind == tv.KindNull {
		return "NULL", nil
	}
	if v.NullOnZero && v.IsZero() {
		return "NULL", nil
	}

	switch v.Kind {
	case tv.KindBool:
		if v.Bool {
			return "true", nil
		}
		return "false", nil

	case tv.KindInt, tv.KindUint:
		if v.Int == nil {
			return "", fmt.Errorf("wire: %s has a nil payload", v.Kind)
		}
		if v.Rep == tv.RepBytes {
			return "", fmt.Errorf("wire: %s (bytes representation) has no columnar literal form", v.Kind)
		}
		return v.Int.String(), nil

	case tv.KindIntBytes, tv.KindUintBytes:
		return "", fmt.Errorf("wire: %s has no columnar literal form", v.Kind)

	case tv.KindAddress:
		return quoteSingle(v.Str), nil

	case tv.KindAddressBytes:
		return "", fmt.Errorf("wire: AddressBytes has no columnar literal form")

	case tv.KindHash:
		// Hashes render hex without the 0x prefix here — the one place
		// this sink's hex form diverges from every other hex-bearing
		// kind, because it is rendered through the debug form rather
		// than an explicit 0x-prefixed formatter.
		return quoteSingle(strings.TrimPrefix(v.Str, "0x")), nil

	case tv.KindString:
		return quoteSingle(v.Str), nil

	case tv.KindBytes:
		return quoteSingle(fmt.Sprintf("0x%x", v.Bytes)), nil

	case tv.KindTimestamp:
		return quoteSingle(formatColumnarTimestamp(v.Time)), nil

	case tv.KindJSON:
		data, err := jsonMarshal(v.JSONVal)
		if err != nil {
			return "", fmt.Errorf("wire: encoding JSON columnar literal: %w", err)
		}
		return quoteSingle(string(data)), nil

	case tv.KindVecBool, tv.KindVecInt, tv.KindVecUint, tv.KindVecIntBytes, tv.KindVecUintBytes,
		tv.KindVecAddress, tv.KindVecAddressBytes, tv.KindVecHash, tv.KindVecString, tv.KindVecBytes:
		if len(v.Elems) == 0 {
			return "NULL", nil
		}
		parts := make([]string, len(v.Elems))
		for i, elem := range v.Elems {
			lit, err := ColumnarLiteral(elem)
			if err != nil {
				return "", fmt.Errorf("wire: encoding array element %d: %w", i, err)
			}
			parts[i] = lit
		}
		return "[" + strings.Join(parts, ",") + "]", nil

	default:
		return "", fmt.Errorf("wire: no columnar literal for kind %s", v.Kind)
	}
}
