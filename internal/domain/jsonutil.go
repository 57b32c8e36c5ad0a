package domain

import (
	"encoding/json"
	"time"
)

// marshalWithExtra merges named into extra (named wins on key collision) and
// marshals the result. Empty/nil values in named are omitted so Extra can
// supply them instead.
func marshalWithExtra(named map[string]any, extra map[string]any) ([]byte, error) {
	out := make(map[string]any, len(named)+len(extra))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range named {
		switch t := v.(type) {
		case string:
			if t == "" {
				continue
			}
		case map[string]any:
			if len(t) == 0 {
				continue
			}
		}
		out[k] = v
	}
	return json.Marshal(out)
}

// unmarshalToMap decodes data into a generic map, tolerating a JSON null by
// returning an empty map.
func unmarshalToMap(data []byte) (map[string]any, error) {
	if string(data) == "null" {
		return map[string]any{}, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// popString removes the first present key among names from raw and returns
// its string value (or "" if none are present or the value isn't a string).
func popString(raw map[string]any, names ...string) string {
	for _, name := range names {
		v, ok := raw[name]
		if !ok {
			continue
		}
		delete(raw, name)
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// popMap removes key from raw and returns it as a map[string]any, if present.
func popMap(raw map[string]any, key string) (map[string]any, bool) {
	v, ok := raw[key]
	if !ok {
		return nil, false
	}
	delete(raw, key)
	m, ok := v.(map[string]any)
	return m, ok
}

// jsonClone deep-copies v through a JSON round trip, matching the teacher's
// statestore.MemoryStore deep-copy-on-read/write discipline.
func jsonClone[T any](v *T) *T {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return &out
}

// stampVersion bumps *version to a value strictly greater than its current
// value, preferring wall-clock milliseconds but falling back to a plain
// increment when the clock hasn't advanced since the last stamp (spec §9
// Versioning: "Implementations should clamp to strictly greater than
// previous, regardless of clock reading").
func stampVersion(version *int64, now time.Time) int64 {
	candidate := now.UnixMilli()
	if candidate <= *version {
		candidate = *version + 1
	}
	*version = candidate
	return candidate
}
