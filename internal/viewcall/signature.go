package viewcall

import (
	"fmt"
	"strings"
)

// ReturnField is one parsed element of a "returns (...)" type tree
// attached to a $call(...) expression: a Solidity type, an optional
// name, and — for a nested tuple — the fields inside it.
type ReturnField struct {
	Name     string
	TypeStr  string
	Children []ReturnField
}

// ParseFunctionSigWithReturns splits a function signature that may carry
// a trailing "returns (...)" clause (spec.md §4.5: "the first four bytes
// of the keccak256 of the raw signature (pre-returns trimmed)") into the
// clean signature and the parsed return type tree.
func ParseFunctionSigWithReturns(sig string) (string, []ReturnField) {
	lower := strings.ToLower(sig)
	idx := strings.Index(lower, " returns ")
	if idx < 0 {
		return strings.TrimSpace(sig), nil
	}
	clean := strings.TrimSpace(sig[:idx])
	returnsPart := strings.TrimSpace(sig[idx+len(" returns "):])
	return clean, ParseReturnFields(returnsPart)
}

// ParseReturnFields parses "(type name, type name, ...)" — including
// nested tuples like "(uint256 x, uint256 y) coords" — into a flat list
// of top-level fields.
func ParseReturnFields(s string) []ReturnField {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return nil
	}
	return parseReturnFieldList(s[1 : len(s)-1])
}

func parseReturnFieldList(s string) []ReturnField {
	var fields []ReturnField
	var current strings.Builder
	depth := 0
	for _, c := range s {
		switch c {
		case '(':
			depth++
			current.WriteRune(c)
		case ')':
			depth--
			current.WriteRune(c)
		case ',':
			if depth == 0 {
				if f, ok := parseSingleReturnField(strings.TrimSpace(current.String())); ok {
					fields = append(fields, f)
				}
				current.Reset()
				continue
			}
			current.WriteRune(c)
		default:
			current.WriteRune(c)
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		if f, ok := parseSingleReturnField(strings.TrimSpace(current.String())); ok {
			fields = append(fields, f)
		}
	}
	return fields
}

func parseSingleReturnField(s string) (ReturnField, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ReturnField{}, false
	}

	if strings.HasPrefix(s, "(") {
		depth := 0
		end := -1
		for i, c := range s {
			switch c {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					end = i
				}
			}
			if end >= 0 {
				break
			}
		}
		if end >= 0 {
			tuplePart := s[:end+1]
			name := strings.TrimSpace(s[end+1:])
			return ReturnField{Name: name, TypeStr: "tuple", Children: ParseReturnFields(tuplePart)}, true
		}
	}

	parts := strings.Fields(s)
	switch len(parts) {
	case 1:
		return ReturnField{TypeStr: parts[0]}, true
	case 2:
		return ReturnField{Name: parts[1], TypeStr: parts[0]}, true
	default:
		return ReturnField{}, false
	}
}

// ParseFunctionSignature parses "name(type,type,...)" into the function
// name and its top-level parameter type strings.
func ParseFunctionSignature(sig string) (name string, paramTypes []string, err error) {
	open := strings.IndexByte(sig, '(')
	closeIdx := strings.LastIndexByte(sig, ')')
	if open < 0 || closeIdx < open {
		return "", nil, fmt.Errorf("viewcall: malformed function signature %q", sig)
	}
	name = sig[:open]
	inner := sig[open+1 : closeIdx]
	if strings.TrimSpace(inner) == "" {
		return name, nil, nil
	}
	for _, p := range splitTopLevelCommas(inner) {
		paramTypes = append(paramTypes, strings.TrimSpace(p))
	}
	return name, paramTypes, nil
}

// splitTopLevelCommas splits s on commas that are not nested inside
// parentheses (tuple parameter types).
func splitTopLevelCommas(s string) []string {
	var parts []string
	var current strings.Builder
	depth := 0
	for _, c := range s {
		switch c {
		case '(':
			depth++
			current.WriteRune(c)
		case ')':
			depth--
			current.WriteRune(c)
		case ',':
			if depth == 0 {
				parts = append(parts, current.String())
				current.Reset()
				continue
			}
			current.WriteRune(c)
		default:
			current.WriteRune(c)
		}
	}
	parts = append(parts, current.String())
	return parts
}
