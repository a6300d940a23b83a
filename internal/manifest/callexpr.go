package manifest

import (
	"strings"
)

// CallMatch is one `$call(...)` occurrence found inside a larger
// expression string, with byte offsets into the original string.
type CallMatch struct {
	Start, End int // End is exclusive, points just past the matched ')'
	Expr       string
}

// FindCallPatterns finds every `$call(...)` occurrence in value, handling
// parentheses nested inside the call's own arguments (e.g. a nested
// `$call(...)` used as an argument, or a quoted signature string
// containing parens). A malformed call with no matching close paren is
// skipped rather than reported, matching the permissive parse used
// upstream to find call patterns.
func FindCallPatterns(value string) []CallMatch {
	const marker = "$call("
	var matches []CallMatch
	searchStart := 0

	for {
		idx := strings.Index(value[searchStart:], marker)
		if idx < 0 {
			break
		}
		absoluteStart := searchStart + idx
		callStart := absoluteStart + len(marker)

		depth := 1
		endPos := -1
		for i := callStart; i < len(value); i++ {
			switch value[i] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					endPos = i
				}
			}
			if endPos >= 0 {
				break
			}
		}

		if endPos < 0 {
			searchStart = absoluteStart + len(marker)
			continue
		}
		matches = append(matches, CallMatch{Start: absoluteStart, End: endPos + 1, Expr: value[absoluteStart : endPos+1]})
		searchStart = endPos + 1
	}

	return matches
}

// ExtractConstantRefs finds every `$constant(name)` occurrence anywhere
// in value — including nested inside a $call(...)'s own arguments, e.g.
// "$call($constant(oracle), \"getPrice()\")" — and returns the referenced
// names, ported from the upstream embedded-constant scanning loop.
func ExtractConstantRefs(value string) []string {
	const marker = "$constant("
	var names []string
	searchStart := 0
	for {
		idx := strings.Index(value[searchStart:], marker)
		if idx < 0 {
			break
		}
		nameStart := searchStart + idx + len(marker)
		endOffset := strings.IndexByte(value[nameStart:], ')')
		if endOffset < 0 {
			break
		}
		names = append(names, strings.TrimSpace(value[nameStart:nameStart+endOffset]))
		searchStart = nameStart + endOffset + 1
	}
	return names
}

// IsConstantRef reports whether value is exactly a `$constant(name)`
// reference — the entire string, not embedded inside a larger expression.
func IsConstantRef(value string) bool {
	return strings.HasPrefix(value, "$constant(") && strings.HasSuffix(value, ")")
}

// ParseConstantRef extracts the constant name from a `$constant(name)`
// reference. Returns false if value is not such a reference.
func ParseConstantRef(value string) (string, bool) {
	if !IsConstantRef(value) {
		return "", false
	}
	start := len("$constant(")
	end := len(value) - 1
	if start >= end {
		return "", false
	}
	return strings.TrimSpace(value[start:end]), true
}

// IsViewCall reports whether value is (or starts with) a `$call(...)`
// expression, optionally followed by an accessor.
func IsViewCall(value string) bool {
	return strings.HasPrefix(value, "$call(") && strings.Contains(value, ")")
}

// substituteCallPlaceholders replaces every `$call(...)` occurrence in
// value with a syntactically-legal bare identifier placeholder, so the
// surrounding text can be classified and parsed by internal/lang without
// internal/lang ever needing to understand function-call syntax — that
// understanding belongs to the table runtime, which alone has the log
// params and constants needed to actually resolve a call's target and
// arguments. Returns the substituted text and the list of matches
// removed, in order.
func substituteCallPlaceholders(value string) (string, []CallMatch) {
	matches := FindCallPatterns(value)
	if len(matches) == 0 {
		return value, nil
	}
	var sb strings.Builder
	prev := 0
	for i, m := range matches {
		sb.WriteString(value[prev:m.Start])
		sb.WriteString(placeholderName(i))
		prev = m.End
	}
	sb.WriteString(value[prev:])
	return sb.String(), matches
}

func placeholderName(i int) string {
	const digits = "0123456789"
	n := i
	suffix := make([]byte, 0, 4)
	if n == 0 {
		suffix = append(suffix, '0')
	}
	for n > 0 {
		suffix = append([]byte{digits[n%10]}, suffix...)
		n /= 10
	}
	return "rindexercallplaceholder" + string(suffix)
}
