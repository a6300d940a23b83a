package table

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"chainindexer/internal/abimap"
	"chainindexer/internal/eval"
	"chainindexer/internal/lang"
	"chainindexer/internal/manifest"
	"chainindexer/internal/tv"
	"chainindexer/internal/viewcall"
)

// resolveCtx carries everything a value/filter/call resolution needs for
// one event dispatch: the manifest (for the constant table), the network
// and contract address the event arrived on, and the coordinator that
// actually executes a $call(...).
type resolveCtx struct {
	ctx             context.Context
	m               *manifest.Manifest
	network         string
	contractAddress common.Address
	blockNumber     uint64
	coordinator     *viewcall.Coordinator
}

func (rc *resolveCtx) resolveConstant(name string) (string, error) {
	cv, ok := rc.m.Constants[name]
	if !ok {
		return "", fmt.Errorf("table: undeclared constant %q", name)
	}
	val, ok := cv.Resolve(rc.network)
	if !ok {
		return "", fmt.Errorf("table: constant %q has no value for network %q", name, rc.network)
	}
	return val, nil
}

// resolveColumnValue resolves one where/set expression's text to a TV,
// falling back to the column's declared default literal or per-type zero
// value when the operation carries no expression for this column at all
// (spec.md §4.6 step 3).
func resolveColumnValue(rc *resolveCtx, scope *eventScope, exprText string, ct manifest.ColumnType, col *manifest.Column) (tv.Value, error) {
	if exprText == "" {
		if col != nil && col.Default != "" {
			return parseLiteralForColumn(col.Default, ct)
		}
		if col != nil {
			return ct.ZeroValue(), nil
		}
		return tv.Null(), nil
	}
	return resolveValueExpr(rc, scope, exprText, ct)
}

// resolveValueExpr resolves one where/set value expression to a TV
// matching ct (spec.md §4.6 step 3). An empty expr signals "no
// expression" — callers fall back to the column's declared default or
// zero value themselves.
func resolveValueExpr(rc *resolveCtx, scope *eventScope, expr string, ct manifest.ColumnType) (tv.Value, error) {
	if manifest.IsConstantRef(expr) {
		name, ok := manifest.ParseConstantRef(expr)
		if !ok {
			return tv.Value{}, fmt.Errorf("table: malformed constant reference %q", expr)
		}
		text, err := rc.resolveConstant(name)
		if err != nil {
			return tv.Value{}, err
		}
		return parseLiteralForColumn(text, ct)
	}

	matches := manifest.FindCallPatterns(expr)
	if len(matches) == 1 && matches[0].Start == 0 && isAccessorOnlySuffix(expr[matches[0].End:]) {
		decoded, err := resolveCall(rc, scope, strings.TrimSpace(expr))
		if err != nil {
			return tv.Value{}, err
		}
		return decodedToColumn(decoded, ct)
	}

	substituted, err := substituteCalls(rc, scope, expr, matches)
	if err != nil {
		return tv.Value{}, err
	}

	if node, err := lang.ParseArithmetic(substituted); err == nil {
		result, err := eval.EvalArithmetic(node, scope.fields)
		if err != nil {
			return tv.Value{}, fmt.Errorf("table: evaluating %q: %w", expr, err)
		}
		return resultToColumn(result, ct)
	}

	if tmpl, err := lang.ParseTemplate(substituted); err == nil {
		rendered, err := renderTemplate(tmpl, scope.fields)
		if err != nil {
			return tv.Value{}, fmt.Errorf("table: rendering template %q: %w", expr, err)
		}
		return parseLiteralForColumn(rendered, ct)
	}

	return tv.Value{}, fmt.Errorf("table: value expression %q is neither arithmetic nor a template", expr)
}

// substituteCalls resolves every $call(...) occurrence in expr to its
// decoded result's text rendering and splices that text in place of the
// call, so the remaining text is plain arithmetic/template grammar that
// internal/lang already knows how to parse.
func substituteCalls(rc *resolveCtx, scope *eventScope, expr string, matches []manifest.CallMatch) (string, error) {
	if len(matches) == 0 {
		return expr, nil
	}
	var sb strings.Builder
	prev := 0
	for _, m := range matches {
		decoded, err := resolveCall(rc, scope, m.Expr)
		if err != nil {
			return "", err
		}
		sb.WriteString(expr[prev:m.Start])
		sb.WriteString(decodedToLiteralText(decoded))
		prev = m.End
	}
	sb.WriteString(expr[prev:])
	return sb.String(), nil
}

// resolveCall executes one "$call(target, \"sig\", args...)[.accessor]"
// expression end to end: parse its syntax, resolve target/args against
// the current scope, dispatch through the coordinator, and apply the
// accessor.
func resolveCall(rc *resolveCtx, scope *eventScope, callExpr string) (abimap.DecodedValue, error) {
	parsed, err := manifest.ParseCallSyntax(callExpr)
	if err != nil {
		return abimap.DecodedValue{}, err
	}

	target, err := viewcall.ResolveTarget(parsed.Target, rc.contractAddress, func(spec string) (common.Address, error) {
		return resolveCallFieldAddress(rc, scope, spec)
	})
	if err != nil {
		return abimap.DecodedValue{}, err
	}

	clean, returnFields := viewcall.ParseFunctionSigWithReturns(parsed.FunctionSig)
	_, paramTypes, err := viewcall.ParseFunctionSignature(clean)
	if err != nil {
		return abimap.DecodedValue{}, err
	}
	if len(paramTypes) != len(parsed.Args) {
		return abimap.DecodedValue{}, fmt.Errorf("table: %q expects %d arguments, got %d", clean, len(paramTypes), len(parsed.Args))
	}

	args := make([]any, len(parsed.Args))
	for i, a := range parsed.Args {
		v, err := resolveCallArg(rc, scope, a, paramTypes[i])
		if err != nil {
			return abimap.DecodedValue{}, fmt.Errorf("table: $call argument %d: %w", i, err)
		}
		args[i] = v
	}

	decoded, err := rc.coordinator.Execute(rc.ctx, viewcall.CallRequest{
		Network:      rc.network,
		Target:       target,
		FunctionSig:  clean,
		ReturnFields: returnFields,
		Args:         args,
		BlockNumber:  rc.blockNumber,
		Accessor:     parsed.Accessor,
	})
	if err != nil {
		return abimap.DecodedValue{}, err
	}
	return decoded, nil
}

// resolveCallFieldAddress resolves the "spec" half of a $call target/arg
// reference once the "$" prefix (or "constant(...)" wrapper) has been
// identified: either a bare named field, already expected to be an
// address-kind TV, or a constant name.
func resolveCallFieldAddress(rc *resolveCtx, scope *eventScope, spec string) (common.Address, error) {
	if strings.HasPrefix(spec, "constant(") && strings.HasSuffix(spec, ")") {
		name := strings.TrimSuffix(strings.TrimPrefix(spec, "constant("), ")")
		text, err := rc.resolveConstant(name)
		if err != nil {
			return common.Address{}, err
		}
		if !common.IsHexAddress(text) {
			return common.Address{}, fmt.Errorf("table: constant %q is not a valid address", name)
		}
		return common.HexToAddress(text), nil
	}
	v, ok := scope.named[spec]
	if !ok {
		return common.Address{}, fmt.Errorf("table: field %q not found for $call target", spec)
	}
	if v.Kind != tv.KindAddress {
		return common.Address{}, fmt.Errorf("table: field %q is not an address (kind %s)", spec, v.Kind)
	}
	return common.HexToAddress(v.Str), nil
}

// resolveCallArg resolves one $call(...) argument — a bare field
// reference, a $constant(...) reference, or a literal — to the Go value
// go-ethereum's ABI packer expects for paramType (spec.md §4.5 step 3:
// "$call arguments are always literals, field references, or constants").
func resolveCallArg(rc *resolveCtx, scope *eventScope, argExpr, paramType string) (any, error) {
	if manifest.IsConstantRef(argExpr) {
		name, _ := manifest.ParseConstantRef(argExpr)
		text, err := rc.resolveConstant(name)
		if err != nil {
			return nil, err
		}
		return argValueForType(text, paramType)
	}

	if strings.HasPrefix(argExpr, "$") {
		name := strings.TrimPrefix(argExpr, "$")
		v, ok := scope.named[name]
		if !ok {
			return nil, fmt.Errorf("table: field %q not found", name)
		}
		return tvToCallArg(v, paramType)
	}

	return argValueForType(argExpr, paramType)
}

// tvToCallArg converts a resolved field TV directly to the packer's
// expected Go shape, preserving precision the text round trip in
// argValueForType would not need to take for an already-typed field.
func tvToCallArg(v tv.Value, paramType string) (any, error) {
	switch v.Kind {
	case tv.KindAddress:
		return common.HexToAddress(v.Str), nil
	case tv.KindBool:
		return v.Bool, nil
	case tv.KindString:
		return v.Str, nil
	case tv.KindBytes:
		return v.Bytes, nil
	case tv.KindInt, tv.KindUint:
		if v.Int == nil {
			return nil, fmt.Errorf("table: integer field has no value")
		}
		return v.Int, nil
	default:
		return argValueForType(v.Str, paramType)
	}
}

func argValueForType(text, paramType string) (any, error) {
	switch {
	case paramType == "address":
		if !common.IsHexAddress(text) {
			return nil, fmt.Errorf("table: %q is not a valid address", text)
		}
		return common.HexToAddress(text), nil
	case paramType == "bool":
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, fmt.Errorf("table: %q is not a valid bool: %w", text, err)
		}
		return b, nil
	case strings.HasPrefix(paramType, "bytes"):
		return hexutil.Decode(text)
	case paramType == "string":
		return text, nil
	case strings.HasPrefix(paramType, "uint") || strings.HasPrefix(paramType, "int"):
		n, ok := parseBigInt(text)
		if !ok {
			return nil, fmt.Errorf("table: %q is not a valid integer", text)
		}
		return n, nil
	default:
		return text, nil
	}
}

// isAccessorOnlySuffix reports whether suffix is nothing but a chain of
// "[n]"/".name" accessor syntax (plus surrounding whitespace) — the text
// ParseCallSyntax expects to follow a $call(...)'s closing paren when the
// call is the entire value expression.
func isAccessorOnlySuffix(suffix string) bool {
	suffix = strings.TrimSpace(suffix)
	for _, r := range suffix {
		switch {
		case r == '[' || r == ']' || r == '.' || r == '_':
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

func parseBigInt(text string) (*big.Int, bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		return new(big.Int).SetString(text[2:], 16)
	}
	return new(big.Int).SetString(text, 10)
}

// decodedToColumn converts a fully accessor-applied $call result directly
// to the declared column type, widening cross-type where needed (spec.md
// §4.5 step 7) rather than round-tripping it through decimal text.
func decodedToColumn(value abimap.DecodedValue, ct manifest.ColumnType) (tv.Value, error) {
	target := viewcall.WidenNone
	switch {
	case ct.Kind == tv.KindBool && value.Kind != abimap.DecodedBool:
		target = viewcall.WidenBool
	case ct.Kind == tv.KindAddress && value.Kind != abimap.DecodedAddress:
		target = viewcall.WidenAddress
	case ct.Kind == tv.KindInt && value.Kind == abimap.DecodedUint:
		target = viewcall.WidenSigned
	}
	if target != viewcall.WidenNone {
		widened, err := viewcall.Widen(value, target, ct.Width)
		if err != nil {
			return tv.Value{}, err
		}
		value = widened
	}
	return decodedScalarToTV(value, ct)
}

func decodedScalarToTV(value abimap.DecodedValue, ct manifest.ColumnType) (tv.Value, error) {
	switch value.Kind {
	case abimap.DecodedAddress:
		return tv.NewAddress([20]byte(value.Address)), nil
	case abimap.DecodedBool:
		return tv.NewBool(value.Bool), nil
	case abimap.DecodedString:
		return tv.NewString(value.Str), nil
	case abimap.DecodedBytes, abimap.DecodedFixedBytes:
		return tv.NewBytes(value.Bytes), nil
	case abimap.DecodedInt:
		width := ct.Width
		if width == 0 {
			width = 256
		}
		return tv.NewInt(width, tv.RepNumeric, value.Int), nil
	case abimap.DecodedUint:
		width := ct.Width
		if width == 0 {
			width = 256
		}
		return tv.NewUint(width, tv.RepNumeric, value.Int), nil
	default:
		return tv.Value{}, fmt.Errorf("table: $call result kind %d has no scalar column rendering", value.Kind)
	}
}

// decodedToLiteralText renders a $call result as the literal text that
// would substitute for it inside a larger arithmetic/template expression.
func decodedToLiteralText(value abimap.DecodedValue) string {
	switch value.Kind {
	case abimap.DecodedAddress:
		return value.Address.Hex()
	case abimap.DecodedBool:
		if value.Bool {
			return "true"
		}
		return "false"
	case abimap.DecodedString:
		return value.Str
	case abimap.DecodedBytes, abimap.DecodedFixedBytes:
		return fmt.Sprintf("0x%x", value.Bytes)
	case abimap.DecodedInt, abimap.DecodedUint:
		if value.Int == nil {
			return "0"
		}
		return value.Int.String()
	default:
		return ""
	}
}

// resultToColumn converts an evaluated arithmetic Result to the declared
// column type.
func resultToColumn(result eval.Result, ct manifest.ColumnType) (tv.Value, error) {
	switch result.Kind {
	case eval.ResultBool:
		return tv.NewBool(result.Bool), nil
	case eval.ResultInt:
		return intResultToColumn(result.Int, ct)
	default:
		return parseLiteralForColumn(result.Str, ct)
	}
}

func intResultToColumn(n *big.Int, ct manifest.ColumnType) (tv.Value, error) {
	switch ct.Kind {
	case tv.KindInt:
		width := ct.Width
		if width == 0 {
			width = 256
		}
		return tv.NewInt(width, tv.RepNumeric, n), nil
	case tv.KindUint, tv.KindInvalid:
		width := ct.Width
		if width == 0 {
			width = 256
		}
		return tv.NewUint(width, tv.RepNumeric, n), nil
	case tv.KindTimestamp:
		return tv.NewTimestamp(n.Int64()), nil
	default:
		return parseLiteralForColumn(n.String(), ct)
	}
}

// parseLiteralForColumn parses raw text (a constant's resolved value, a
// column default, or a rendered template) into a TV matching ct. When ct
// carries no declared Kind (an event-only-introduced column), the text's
// own shape decides the TV Kind — a best-effort inference the same way
// the manifest lets a column's type be "inferred from the resolved
// expression's TV kind at runtime".
func parseLiteralForColumn(text string, ct manifest.ColumnType) (tv.Value, error) {
	switch ct.Kind {
	case tv.KindBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return tv.Value{}, fmt.Errorf("table: %q is not a valid bool: %w", text, err)
		}
		return tv.NewBool(b), nil
	case tv.KindAddress:
		if !common.IsHexAddress(text) {
			return tv.Value{}, fmt.Errorf("table: %q is not a valid address", text)
		}
		return tv.NewAddress([20]byte(common.HexToAddress(text))), nil
	case tv.KindString:
		return tv.NewString(text), nil
	case tv.KindBytes:
		raw, err := hexutil.Decode(text)
		if err != nil {
			return tv.Value{}, fmt.Errorf("table: %q is not valid hex bytes: %w", text, err)
		}
		return tv.NewBytes(raw), nil
	case tv.KindTimestamp:
		n, ok := parseBigInt(text)
		if !ok {
			return tv.Value{}, fmt.Errorf("table: %q is not a valid unix timestamp", text)
		}
		return tv.NewTimestamp(n.Int64()), nil
	case tv.KindInt:
		n, ok := parseBigInt(text)
		if !ok {
			return tv.Value{}, fmt.Errorf("table: %q is not a valid integer", text)
		}
		width := ct.Width
		if width == 0 {
			width = 256
		}
		return tv.NewInt(width, tv.RepNumeric, n), nil
	case tv.KindUint:
		n, ok := parseBigInt(text)
		if !ok {
			return tv.Value{}, fmt.Errorf("table: %q is not a valid integer", text)
		}
		width := ct.Width
		if width == 0 {
			width = 256
		}
		return tv.NewUint(width, tv.RepNumeric, n), nil
	default:
		return inferLiteral(text), nil
	}
}

func inferLiteral(text string) tv.Value {
	if b, err := strconv.ParseBool(text); err == nil {
		return tv.NewBool(b)
	}
	if common.IsHexAddress(text) {
		return tv.NewAddress([20]byte(common.HexToAddress(text)))
	}
	if n, ok := parseBigInt(text); ok {
		return tv.NewUint(256, tv.RepNumeric, n)
	}
	return tv.NewString(text)
}

// renderTemplate concatenates a parsed template's literal and
// variable segments, resolving each variable against fields.
func renderTemplate(tmpl lang.Template, fields eval.Fields) (string, error) {
	var sb strings.Builder
	for _, seg := range tmpl {
		if !seg.IsVariable {
			sb.WriteString(seg.Literal)
			continue
		}
		v, ok := eval.ResolveField(fields, seg.Variable)
		if !ok {
			return "", fmt.Errorf("table: unresolved field %q", seg.Variable.Base)
		}
		sb.WriteString(stringifyFieldValue(v))
	}
	return sb.String(), nil
}

func stringifyFieldValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case *big.Int:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
