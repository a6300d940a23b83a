package viewcall

import (
	"fmt"
	"strconv"
	"strings"

	"chainindexer/internal/abimap"
)

type accessorSegment struct {
	isIndex bool
	index   int
	name    string
}

// parseAccessorSegments parses "[0].field[1].nested" into an ordered
// segment list (spec.md §4.5 step 6: "[n] / .name chained").
func parseAccessorSegments(accessor string) []accessorSegment {
	var segments []accessorSegment
	remaining := strings.TrimSpace(accessor)
	for remaining != "" {
		switch {
		case strings.HasPrefix(remaining, "["):
			end := strings.IndexByte(remaining, ']')
			if end < 0 {
				return segments
			}
			if idx, err := strconv.Atoi(remaining[1:end]); err == nil {
				segments = append(segments, accessorSegment{isIndex: true, index: idx})
			}
			remaining = remaining[end+1:]
		case strings.HasPrefix(remaining, "."):
			remaining = remaining[1:]
			end := strings.IndexAny(remaining, ".[")
			if end < 0 {
				end = len(remaining)
			}
			name := remaining[:end]
			if name != "" {
				segments = append(segments, accessorSegment{name: name})
			}
			remaining = remaining[end:]
		default:
			return segments
		}
	}
	return segments
}

// ApplyAccessor walks value/fields in tandem along the parsed accessor
// path: a numeric index resolves against a tuple or array positionally;
// a named index resolves by position within the declared "returns" type
// tree (spec.md §4.5 step 6).
func ApplyAccessor(value abimap.DecodedValue, accessor string, fields []ReturnField) (abimap.DecodedValue, error) {
	if accessor == "" {
		return value, nil
	}

	current := value
	currentFields := fields
	for _, seg := range parseAccessorSegments(accessor) {
		if seg.isIndex {
			if seg.index < 0 || seg.index >= len(current.Elems) {
				return abimap.DecodedValue{}, fmt.Errorf("viewcall: accessor index %d out of range (len %d)", seg.index, len(current.Elems))
			}
			current = current.Elems[seg.index]
			if seg.index < len(currentFields) {
				currentFields = currentFields[seg.index].Children
			} else {
				currentFields = nil
			}
			continue
		}

		idx := -1
		for i, f := range currentFields {
			if f.Name == seg.name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return abimap.DecodedValue{}, fmt.Errorf("viewcall: accessor field %q not found in return type", seg.name)
		}
		if idx >= len(current.Elems) {
			return abimap.DecodedValue{}, fmt.Errorf("viewcall: accessor field %q resolves to out-of-range index %d", seg.name, idx)
		}
		current = current.Elems[idx]
		currentFields = currentFields[idx].Children
	}
	return current, nil
}
