package manifest

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"chainindexer/internal/tv"
)

// ColumnType is a declared column's resolved shape: the TV kind a value
// assigned to the column must be coercible to, plus the bit width for
// integer-family kinds.
type ColumnType struct {
	Kind  tv.Kind
	Width int // meaningful only for Int/Uint/Hash kinds
}

// ResolveColumnType maps a manifest column's declared type string — a
// Solidity-style scalar type, one of the SQL-facing aliases the
// auto-injected columns use (spec.md §6.3: numeric, bigint, timestamptz,
// char(66)), or empty (type inferred later from the column's expression)
// — to the TV kind/width it resolves to.
func ResolveColumnType(raw string) (ColumnType, error) {
	t := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case t == "":
		return ColumnType{Kind: tv.KindInvalid}, nil

	case t == "bool" || t == "boolean":
		return ColumnType{Kind: tv.KindBool}, nil

	case t == "address":
		return ColumnType{Kind: tv.KindAddress}, nil

	case t == "string" || t == "text" || t == "varchar" || strings.HasPrefix(t, "varchar("):
		return ColumnType{Kind: tv.KindString}, nil

	case strings.HasPrefix(t, "char(") && strings.HasSuffix(t, ")"):
		// char(66): the auto-injected tx/block hash columns' declared type.
		return ColumnType{Kind: tv.KindString}, nil

	case t == "bytes" || strings.HasPrefix(t, "bytes"):
		return ColumnType{Kind: tv.KindBytes}, nil

	case t == "timestamptz" || t == "timestamp" || t == "datetime":
		return ColumnType{Kind: tv.KindTimestamp}, nil

	case t == "numeric" || t == "bigint" || t == "integer" || t == "int":
		return ColumnType{Kind: tv.KindUint, Width: 256}, nil

	case strings.HasPrefix(t, "uint"):
		bits, err := integerBits(t, "uint")
		if err != nil {
			return ColumnType{}, err
		}
		return ColumnType{Kind: tv.KindUint, Width: bits}, nil

	case strings.HasPrefix(t, "int"):
		bits, err := integerBits(t, "int")
		if err != nil {
			return ColumnType{}, err
		}
		return ColumnType{Kind: tv.KindInt, Width: bits}, nil

	default:
		return ColumnType{}, fmt.Errorf("manifest: unsupported column type %q", raw)
	}
}

func integerBits(t, prefix string) (int, error) {
	rest := strings.TrimPrefix(t, prefix)
	if rest == "" {
		return 256, nil
	}
	bits, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("manifest: invalid integer width in column type %q: %w", t, err)
	}
	return bits, nil
}

// ZeroValue returns the per-type zero TV a column falls back to when
// neither an expression nor a declared default resolves a value
// (spec.md §4.6 step 3).
func (ct ColumnType) ZeroValue() tv.Value {
	switch ct.Kind {
	case tv.KindBool:
		return tv.NewBool(false)
	case tv.KindAddress:
		return tv.NewAddress([20]byte{})
	case tv.KindString:
		return tv.NewString("")
	case tv.KindBytes:
		return tv.NewBytes(nil)
	case tv.KindTimestamp:
		return tv.NewTimestamp(0)
	case tv.KindInt:
		return tv.NewInt(ct.Width, tv.RepNumeric, big.NewInt(0))
	case tv.KindUint:
		return tv.NewUint(ct.Width, tv.RepNumeric, big.NewInt(0))
	default:
		return tv.Null()
	}
}
