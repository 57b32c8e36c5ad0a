// Package adminpath resolves the dotted property-path strings used by the
// `@examine`/`@edit` admin commands (spec §4.6) against a merged entity, and
// coerces a string-typed wire value into the Go type of the existing leaf
// before the caller constructs a structured $update patch (internal/patch).
//
// Path *resolution* here is read-only and string-path based by necessity —
// admin operators type the path at a keyboard. The merge-operator language
// itself (internal/patch) stays a typed tree, per Design Note §9; adminpath
// never returns a patch, only the current value and its type.
package adminpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"
)

// ErrPropertyNotFound is returned when the path resolves to nothing.
var ErrPropertyNotFound = errors.New("adminpath: property not found")

// ErrTypeMismatch is returned when a replacement value's coerced type does
// not match the existing leaf's type (spec §4.6 @edit, §8.3 boundary case).
var ErrTypeMismatch = errors.New("adminpath: type mismatch")

// Resolve navigates entity (a map[string]any, typically a MergedInstance
// flattened to JSON) along the dotted path and returns the current value.
func Resolve(entity any, path string) (any, error) {
	result, err := jmespath.Search(path, entity)
	if err != nil {
		return nil, fmt.Errorf("adminpath: %q: %w", path, err)
	}
	if result == nil {
		return nil, fmt.Errorf("%w: %q", ErrPropertyNotFound, path)
	}
	return result, nil
}

// Coerce converts raw (a string token from the wire command) into the Go
// type of existing, rejecting a value whose coerced type disagrees with
// existing's type (spec §8.3: "@edit item X visible 'hello' when visible is
// a boolean → rejected with a type-mismatch error").
func Coerce(existing any, raw string) (any, error) {
	switch existing.(type) {
	case bool:
		switch strings.ToLower(raw) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			return nil, fmt.Errorf("%w: %q is not a boolean", ErrTypeMismatch, raw)
		}
	case float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, raw)
		}
		return f, nil
	case string:
		return raw, nil
	case nil:
		// No prior value to match against: infer the most specific type.
		if b, err := strconv.ParseBool(raw); err == nil {
			return b, nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f, nil
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: cannot edit a value of this shape", ErrTypeMismatch)
	}
}

// ToNestedFields turns a dotted path ("state.visible") and a leaf value
// into the nested map shape internal/patch's $update deep-merge expects
// ({"state": {"visible": value}}).
func ToNestedFields(path string, value any) map[string]any {
	segments := strings.Split(path, ".")
	root := map[string]any{}
	cur := root
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = value
			break
		}
		next := map[string]any{}
		cur[seg] = next
		cur = next
	}
	return root
}

// Enumerate lists every leaf property path under entity, for @examine's
// "enumeration of editable properties" (spec §4.6).
func Enumerate(entity map[string]any) []string {
	var paths []string
	var walk func(prefix string, v any)
	walk = func(prefix string, v any) {
		m, ok := v.(map[string]any)
		if !ok {
			paths = append(paths, prefix)
			return
		}
		for k, child := range m {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			walk(p, child)
		}
	}
	walk("", entity)
	return paths
}
