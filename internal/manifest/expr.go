package manifest

import (
	"fmt"

	"chainindexer/internal/lang"
	"chainindexer/internal/viewcall"
)

// validateCalls validates the structural syntax of every $call(...)
// occurrence in value (target/signature/args split, a well-formed
// function signature) without resolving any target or argument — that
// needs the runtime's log params and constants. Returns the call-free
// substituted text so the caller can classify and parse what remains.
func validateCalls(value string) (string, error) {
	substituted, calls := substituteCallPlaceholders(value)
	for _, m := range calls {
		parsed, err := ParseCallSyntax(m.Expr)
		if err != nil {
			return "", fmt.Errorf("manifest: %w", err)
		}
		clean, _ := viewcall.ParseFunctionSigWithReturns(parsed.FunctionSig)
		if _, _, err := viewcall.ParseFunctionSignature(clean); err != nil {
			return "", fmt.Errorf("manifest: $call(...) function signature %q: %w", parsed.FunctionSig, err)
		}
	}
	return substituted, nil
}

// ValidateFilterExpr eagerly parses an operation's "filter" string,
// rejecting any syntax error at manifest-load time. $call(...)
// occurrences are validated structurally and elided before the filter
// grammar sees the string, since the filter grammar has no function-call
// syntax of its own.
func ValidateFilterExpr(value string) error {
	if value == "" {
		return nil
	}
	substituted, err := validateCalls(value)
	if err != nil {
		return err
	}
	if _, err := lang.ParseFilter(substituted); err != nil {
		return fmt.Errorf("manifest: filter expression %q: %w", value, err)
	}
	return nil
}

// ValidateValueExpr eagerly parses a "where"/"set value" expression
// string: a constant reference, a pure field/view-call reference, a
// computed arithmetic expression, or a string template embedding any of
// the above. At least one of the arithmetic or template grammars must
// accept the call-elided text. The template grammar accepts any text, so
// in practice a value is rejected only for a malformed embedded
// $call(...) or a malformed whole-string $constant(...) reference.
func ValidateValueExpr(value string) error {
	if value == "" {
		return nil
	}
	if IsConstantRef(value) {
		if _, ok := ParseConstantRef(value); !ok {
			return fmt.Errorf("manifest: malformed constant reference %q", value)
		}
		return nil
	}

	substituted, err := validateCalls(value)
	if err != nil {
		return err
	}

	if _, arithErr := lang.ParseArithmetic(substituted); arithErr == nil {
		return nil
	}
	if _, tmplErr := lang.ParseTemplate(substituted); tmplErr == nil {
		return nil
	}
	return fmt.Errorf("manifest: value expression %q is neither a valid arithmetic expression nor a valid template", value)
}

// ValidateIterateBinding eagerly parses one "$arr as alias" iterate
// binding's array-path side as a bare variable reference (via the
// arithmetic grammar, which accepts a lone variable as a complete
// expression).
func ValidateIterateBinding(binding string) (arrayPath string, alias string, err error) {
	arrayPath, alias, ok := splitIterateBinding(binding)
	if !ok {
		return "", "", fmt.Errorf("manifest: iterate binding %q must have the form \"$path as alias\"", binding)
	}
	if _, err := lang.ParseArithmetic(arrayPath); err != nil {
		return "", "", fmt.Errorf("manifest: iterate binding %q: %w", binding, err)
	}
	return arrayPath, alias, nil
}

func splitIterateBinding(binding string) (string, string, bool) {
	const sep = " as "
	idx := indexOf(binding, sep)
	if idx < 0 {
		return "", "", false
	}
	path := binding[:idx]
	alias := binding[idx+len(sep):]
	if path == "" || alias == "" {
		return "", "", false
	}
	return path, alias, true
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
