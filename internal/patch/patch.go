// Package patch implements the merge-operator language of spec §4.1 and
// Design Note §9 ("structured patch language, not stringly-typed paths"):
// a small, closed set of operators (`$append`, `$remove`, `$update`, `$set`)
// applied recursively to a generic JSON document tree. Patches are built and
// consumed as plain Go values (map[string]any / []any / scalars) decoded
// from JSON — the same representation the state manager uses internally for
// world and player-view documents, so Apply composes directly with
// encoding/json without an intermediate typed layer.
package patch

import (
	"errors"
	"fmt"
	"reflect"
)

// Operator key names recognized by Apply. Any other "$"-prefixed key is
// rejected (spec §9: "reject unknown operators explicitly").
const (
	OpAppend = "$append"
	OpRemove = "$remove"
	OpUpdate = "$update"
	OpSet    = "$set"
)

var knownOperators = map[string]bool{
	OpAppend: true,
	OpRemove: true,
	OpUpdate: true,
	OpSet:    true,
}

// ErrUnknownOperator is returned when a patch node uses a "$"-prefixed key
// outside the closed operator set.
var ErrUnknownOperator = errors.New("patch: unknown operator")

// ErrAmbiguousOperators is returned when a patch node specifies more than
// one operator at the same level.
var ErrAmbiguousOperators = errors.New("patch: more than one operator at the same node")

// ErrWrongTargetType is returned when an operator's structural precondition
// fails (e.g. $append against a non-list target).
var ErrWrongTargetType = errors.New("patch: operator applied to wrong target type")

// ErrNoMatch is returned by $remove/$update when no list element satisfies
// the given criteria. Callers that validate existence before building a
// patch can still observe it when a concurrent write removed the element
// in between (collect_item maps it to item_not_found, drop_item to
// not_in_inventory).
var ErrNoMatch = errors.New("patch: no list element matched criteria")

// Apply recursively applies patch to doc and returns the resulting document.
// doc may be nil (missing target, e.g. a not-yet-created field); it is
// treated as the zero value appropriate to the patch being applied.
func Apply(doc any, node any) (any, error) {
	patchMap, ok := node.(map[string]any)
	if !ok {
		// Not a map: a leaf value (scalar, array, null) replaces the
		// target wholesale (spec: "a leaf value replaces the target
		// value (deep write)").
		return node, nil
	}

	op, opValue, err := extractOperator(patchMap)
	if err != nil {
		return nil, err
	}
	if op == "" {
		return applyNavigation(doc, patchMap)
	}

	switch op {
	case OpSet:
		return opValue, nil
	case OpAppend:
		return applyAppend(doc, opValue)
	case OpRemove:
		return applyRemove(doc, opValue)
	case OpUpdate:
		return applyUpdate(doc, opValue)
	default:
		// Unreachable: extractOperator only returns known operators.
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}
}

// extractOperator scans m for a "$"-prefixed key. It returns ("", nil, nil)
// if none is present, the operator name and its value if exactly one is
// present, or an error if an unknown operator or more than one operator key
// is present.
func extractOperator(m map[string]any) (string, any, error) {
	found := ""
	var value any
	for k, v := range m {
		if len(k) == 0 || k[0] != '$' {
			continue
		}
		if !knownOperators[k] {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownOperator, k)
		}
		if found != "" {
			return "", nil, fmt.Errorf("%w: %q and %q", ErrAmbiguousOperators, found, k)
		}
		found = k
		value = v
	}
	return found, value, nil
}

// applyNavigation treats patchMap as structural navigation: for every key,
// recurse into the corresponding child of doc (spec: "Nested sub-maps in
// the patch are interpreted as structural navigation").
func applyNavigation(doc any, patchMap map[string]any) (any, error) {
	target, ok := asMap(doc)
	if !ok {
		target = map[string]any{}
	}
	result := make(map[string]any, len(target)+len(patchMap))
	for k, v := range target {
		result[k] = v
	}
	for k, childPatch := range patchMap {
		merged, err := Apply(target[k], childPatch)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", k, err)
		}
		result[k] = merged
	}
	return result, nil
}

func applyAppend(doc any, value any) (any, error) {
	list, ok := asList(doc)
	if !ok && doc != nil {
		return nil, fmt.Errorf("%w: $append target", ErrWrongTargetType)
	}
	return append(list, value), nil
}

func applyRemove(doc any, criteria any) (any, error) {
	list, ok := asList(doc)
	if !ok {
		return nil, fmt.Errorf("%w: $remove target", ErrWrongTargetType)
	}
	crit, ok := criteria.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: $remove criteria must be an object", ErrWrongTargetType)
	}

	for i, el := range list {
		elMap, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if matchesCriteria(elMap, crit) {
			out := make([]any, 0, len(list)-1)
			out = append(out, list[:i]...)
			out = append(out, list[i+1:]...)
			return out, nil
		}
	}
	return nil, ErrNoMatch
}

func applyUpdate(doc any, criteriaList any) (any, error) {
	list, ok := asList(doc)
	if !ok {
		return nil, fmt.Errorf("%w: $update target", ErrWrongTargetType)
	}
	crits, ok := criteriaList.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: $update value must be an array", ErrWrongTargetType)
	}

	out := make([]any, len(list))
	copy(out, list)

	for _, c := range crits {
		criteria, ok := c.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: $update entry must be an object", ErrWrongTargetType)
		}
		id, _ := criteria["instance_id"].(string)
		matched := false
		for i, el := range out {
			elMap, ok := el.(map[string]any)
			if !ok {
				continue
			}
			elID, _ := elMap["instance_id"].(string)
			if id == "" || elID != id {
				continue
			}
			out[i] = deepMergeFields(elMap, criteria)
			matched = true
			break
		}
		if !matched {
			return nil, ErrNoMatch
		}
	}
	return out, nil
}

// deepMergeFields merges every key of fields except "instance_id" (the
// match key, not a field to overwrite) into target, recursing into nested
// objects.
func deepMergeFields(target map[string]any, fields map[string]any) map[string]any {
	out := make(map[string]any, len(target))
	for k, v := range target {
		out[k] = v
	}
	for k, v := range fields {
		if k == "instance_id" {
			continue
		}
		if vm, ok := v.(map[string]any); ok {
			if existing, ok := asMap(out[k]); ok {
				out[k] = deepMergeFields(existing, vm)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// matchesCriteria reports whether every key in criteria is present in el
// with an equal value. Spec only names instance_id matching explicitly,
// but the criteria object is not restricted to that single field.
func matchesCriteria(el, criteria map[string]any) bool {
	for k, v := range criteria {
		if !reflect.DeepEqual(el[k], v) {
			return false
		}
	}
	return true
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, true
	}
	l, ok := v.([]any)
	return l, ok
}
