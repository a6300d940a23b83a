// Package eval evaluates the parsed filter/arithmetic trees internal/lang
// produces against a JSON view of one event plus any resolvable metadata
// fields, and compiles the same trees into SQL fragments for conditions
// that reference another row in the owning table (spec.md §4.4, "SQL
// push-down").
package eval

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"chainindexer/internal/lang"
)

// ResultKind tags what an arithmetic sub-expression evaluated to.
type ResultKind int

const (
	// ResultInt covers both genuine JSON numbers and decimal-string
	// fields — internal/wire renders any integer wider than 64 bits as a
	// decimal string, so an "integer" field may arrive as either Go type;
	// both fold into the same big.Int representation here.
	ResultInt ResultKind = iota
	// ResultString is a value that could not be parsed as a base-10
	// integer: a genuine text field, or a quoted string literal.
	ResultString
	// ResultBool is a boolean literal or boolean field; it only
	// participates in equality comparisons, never arithmetic.
	ResultBool
)

// Result is the value an arithmetic expression evaluates to.
type Result struct {
	Kind ResultKind
	Int  *big.Int
	Str  string
	Bool bool
}

func intResult(v *big.Int) Result  { return Result{Kind: ResultInt, Int: v} }
func stringResult(s string) Result { return Result{Kind: ResultString, Str: s} }
func boolResult(b bool) Result     { return Result{Kind: ResultBool, Bool: b} }

// String renders the result the way it would appear substituted into a
// template or compared lexicographically against a string literal.
func (r Result) String() string {
	switch r.Kind {
	case ResultInt:
		return r.Int.String()
	case ResultBool:
		if r.Bool {
			return "true"
		}
		return "false"
	default:
		return r.Str
	}
}

var u256Max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Fields is the JSON-shaped view an expression resolves variables
// against: event field values plus whatever transaction-metadata fields
// the caller chooses to expose under the same map.
type Fields map[string]any

// ResolveField walks fields along path: the base name looks up a direct
// field, then each accessor walks one level deeper. "[n]" indexes an
// array; ".key" resolves an object field, or, per spec.md §4.4, a
// positional index into an array when the key is itself numeric.
func ResolveField(fields Fields, path lang.VariablePath) (any, bool) {
	cur, ok := fields[path.Base]
	if !ok {
		return nil, false
	}
	for _, acc := range path.Accessors {
		cur, ok = stepAccessor(cur, acc)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stepAccessor(cur any, acc lang.Accessor) (any, bool) {
	if acc.IsIndex {
		arr, ok := cur.([]any)
		if !ok || acc.Index < 0 || acc.Index >= len(arr) {
			return nil, false
		}
		return arr[acc.Index], true
	}

	if idx, ok := parseArrayIndex(acc.Key); ok {
		if arr, ok := cur.([]any); ok {
			if idx < 0 || idx >= len(arr) {
				return nil, false
			}
			return arr[idx], true
		}
	}
	obj, ok := cur.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[acc.Key]
	return v, ok
}

func parseArrayIndex(key string) (int, bool) {
	if key == "" {
		return 0, false
	}
	n := 0
	for _, c := range key {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// valueToResult converts one resolved field value — whatever shape a
// decoded JSON view carries it as — into an arithmetic Result.
func valueToResult(v any) (Result, error) {
	switch val := v.(type) {
	case nil:
		return Result{}, errors.New("eval: field resolved to null")
	case bool:
		return boolResult(val), nil
	case string:
		if n, ok := new(big.Int).SetString(val, 10); ok {
			return intResult(n), nil
		}
		return stringResult(val), nil
	case float64:
		bi, _ := big.NewFloat(val).Int(nil)
		return intResult(bi), nil
	case int:
		return intResult(big.NewInt(int64(val))), nil
	case int64:
		return intResult(big.NewInt(val)), nil
	case uint64:
		return intResult(new(big.Int).SetUint64(val)), nil
	case *big.Int:
		return intResult(val), nil
	default:
		return Result{}, fmt.Errorf("eval: unsupported field value type %T", v)
	}
}

func evalLiteral(lit lang.Literal) (Result, error) {
	switch lit.Kind {
	case lang.LitNumber:
		if strings.Contains(lit.Raw, ".") {
			// Fixed-point literals are not representable in the U256
			// arithmetic domain; they evaluate to their decimal text
			// instead, the same way a non-numeric field would.
			return stringResult(lit.Raw), nil
		}
		n, ok := new(big.Int).SetString(lit.Raw, 10)
		if !ok {
			return Result{}, fmt.Errorf("eval: invalid integer literal %q", lit.Raw)
		}
		return intResult(n), nil
	case lang.LitHex:
		digits := strings.TrimPrefix(strings.TrimPrefix(lit.Raw, "0x"), "0X")
		n, ok := new(big.Int).SetString(digits, 16)
		if !ok {
			return Result{}, fmt.Errorf("eval: invalid hex literal %q", lit.Raw)
		}
		return intResult(n), nil
	case lang.LitBool:
		return boolResult(lit.Bool), nil
	case lang.LitString:
		return stringResult(lit.Str), nil
	default:
		return Result{}, fmt.Errorf("eval: unknown literal kind %d", lit.Kind)
	}
}

// EvalArithmetic evaluates an arithmetic expression tree against fields.
func EvalArithmetic(node *lang.ArithNode, fields Fields) (Result, error) {
	if node == nil {
		return Result{}, errors.New("eval: nil arithmetic node")
	}
	switch node.Kind {
	case lang.ArithLiteral:
		return evalLiteral(node.Literal)
	case lang.ArithVariable:
		v, ok := ResolveField(fields, node.Variable)
		if !ok {
			return Result{}, fmt.Errorf("eval: unresolved field %q", node.Variable.Base)
		}
		return valueToResult(v)
	case lang.ArithBinary:
		left, err := EvalArithmetic(node.Left, fields)
		if err != nil {
			return Result{}, err
		}
		right, err := EvalArithmetic(node.Right, fields)
		if err != nil {
			return Result{}, err
		}
		return applyArithOp(node.Op, left, right)
	default:
		return Result{}, fmt.Errorf("eval: unknown arithmetic node kind %d", node.Kind)
	}
}

func asInt(r Result) (*big.Int, bool) {
	switch r.Kind {
	case ResultInt:
		return r.Int, true
	case ResultString:
		return new(big.Int).SetString(r.Str, 10)
	default:
		return nil, false
	}
}

// applyArithOp implements spec.md §4.4: arithmetic only evaluates when
// both operands are integer or decimal-string valued; string
// concatenation is not supported, so a non-numeric operand errors rather
// than coercing.
func applyArithOp(op string, left, right Result) (Result, error) {
	li, lok := asInt(left)
	ri, rok := asInt(right)
	if !lok || !rok {
		return Result{}, fmt.Errorf("eval: arithmetic operator %q requires integer operands, got non-numeric string", op)
	}
	switch op {
	case "+":
		return intResult(new(big.Int).Add(li, ri)), nil
	case "-":
		return intResult(new(big.Int).Sub(li, ri)), nil
	case "*":
		return intResult(new(big.Int).Mul(li, ri)), nil
	case "/":
		if ri.Sign() == 0 {
			return Result{}, errors.New("eval: division by zero")
		}
		return intResult(new(big.Int).Quo(li, ri)), nil
	case "^":
		if li.Sign() < 0 || ri.Sign() < 0 {
			return Result{}, errors.New("eval: exponentiation requires non-negative operands")
		}
		if !ri.IsInt64() {
			return Result{}, errors.New("eval: exponent too large")
		}
		result := new(big.Int).Exp(li, ri, nil)
		if result.Cmp(u256Max) > 0 {
			return Result{}, errors.New("eval: exponentiation overflowed the 256-bit integer range")
		}
		return intResult(result), nil
	default:
		return Result{}, fmt.Errorf("eval: unknown arithmetic operator %q", op)
	}
}

// Eval evaluates a filter expression tree against fields, short-circuiting
// "&&"/"||" the way Go's own boolean operators do.
func Eval(expr *lang.Expr, fields Fields) (bool, error) {
	if expr == nil {
		return false, errors.New("eval: nil filter expression")
	}
	switch expr.Kind {
	case lang.ExprLogical:
		left, err := Eval(expr.Left, fields)
		if err != nil {
			return false, err
		}
		switch expr.LogicalOp {
		case lang.LogicalAnd:
			if !left {
				return false, nil
			}
			return Eval(expr.Right, fields)
		case lang.LogicalOr:
			if left {
				return true, nil
			}
			return Eval(expr.Right, fields)
		default:
			return false, fmt.Errorf("eval: unknown logical operator %q", expr.LogicalOp)
		}
	case lang.ExprComparison:
		left, err := EvalArithmetic(expr.CmpLeft, fields)
		if err != nil {
			return false, err
		}
		right, err := EvalArithmetic(expr.CmpRight, fields)
		if err != nil {
			return false, err
		}
		return compare(expr.CmpOp, left, right)
	default:
		return false, fmt.Errorf("eval: unknown expression kind %d", expr.Kind)
	}
}

// compare implements spec.md §4.4's "big integers are compared via
// decimal-string normalization when one side exceeds 64 bits" — since
// EvalArithmetic already folds any decimal-string field into a big.Int,
// normalization falls out of comparing two big.Ints directly rather than
// needing a separate wide-integer code path.
func compare(op lang.CmpOp, left, right Result) (bool, error) {
	if left.Kind == ResultBool || right.Kind == ResultBool {
		if left.Kind != ResultBool || right.Kind != ResultBool {
			return false, errors.New("eval: cannot compare a boolean operand against a non-boolean operand")
		}
		switch op {
		case lang.CmpEq:
			return left.Bool == right.Bool, nil
		case lang.CmpNeq:
			return left.Bool != right.Bool, nil
		default:
			return false, fmt.Errorf("eval: comparison operator %q is not defined on boolean operands", op)
		}
	}

	if li, lok := asInt(left); lok {
		if ri, rok := asInt(right); rok {
			return cmpFromOrdering(op, li.Cmp(ri))
		}
	}

	return cmpFromOrdering(op, strings.Compare(left.String(), right.String()))
}

func cmpFromOrdering(op lang.CmpOp, c int) (bool, error) {
	switch op {
	case lang.CmpEq:
		return c == 0, nil
	case lang.CmpNeq:
		return c != 0, nil
	case lang.CmpGt:
		return c > 0, nil
	case lang.CmpGte:
		return c >= 0, nil
	case lang.CmpLt:
		return c < 0, nil
	case lang.CmpLte:
		return c <= 0, nil
	default:
		return false, fmt.Errorf("eval: unknown comparison operator %q", op)
	}
}
