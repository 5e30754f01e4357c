// Package dynvalue implements the dynamic JSON value type used throughout
// the engine for output shaping, secret-reference resolution, and
// redaction (spec §9's "do not try to generate static types per tool").
//
// A Value is exactly the shape encoding/json already produces when
// unmarshaling into interface{}: nil, bool, float64, string, []interface{},
// or map[string]interface{}. Helpers here add path addressing, deep copy,
// and structural walking on top of that shape so the three subsystems that
// need it (output shaping, resolveDeep, redaction) share one walker.
package dynvalue

import (
	"encoding/json"
	"strconv"

	"github.com/tidwall/gjson"
)

// Value is the dynamic JSON value alias.
type Value = interface{}

// FromJSON unmarshals raw JSON bytes into a Value.
func FromJSON(raw []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ToJSON marshals a Value back to JSON bytes.
func ToJSON(v Value) ([]byte, error) {
	return json.Marshal(v)
}

// FromAny converts an arbitrary Go value to a Value by round-tripping
// through JSON. Used at manager boundaries that produce typed structs.
func FromAny(v interface{}) (Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return FromJSON(raw)
}

// DeepCopy returns a structurally independent copy of v. Arrays/maps are
// copied recursively; primitives are returned as-is (they are immutable).
func DeepCopy(v Value) Value {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = DeepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = DeepCopy(val)
		}
		return out
	default:
		return v
	}
}

// Get extracts the value addressed by a dotted path, where numeric segments
// index into arrays. Returns (value, true) on success, (nil, false) when
// the path does not resolve. Delegates the actual path walk to gjson (the
// same dependency the teacher uses for this concern in
// services/datafeeds/datafeeds.go's gjson.GetBytes(body, jsonPath)):
// v is re-marshaled to JSON and the result handed to gjson.GetBytes, whose
// .Value() already decodes back into the same nil/bool/float64/string/
// []interface{}/map[string]interface{} shape Value uses.
func Get(v Value, path string) (Value, bool) {
	if path == "" {
		return v, true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return nil, false
	}
	return result.Value(), true
}

// Walk applies fn to every value in the tree (post-order on containers,
// fn is called on the container itself too) and returns a new tree built
// from fn's replacements. fn receives the path ("" at the root) and value,
// and returns the replacement value.
func Walk(v Value, fn func(path string, val Value) Value) Value {
	return walk("", v, fn)
}

func walk(path string, v Value, fn func(string, Value) Value) Value {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			out[k] = walk(childPath, val, fn)
		}
		return fn(path, out)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			childPath := strconv.Itoa(i)
			if path != "" {
				childPath = path + "." + childPath
			}
			out[i] = walk(childPath, val, fn)
		}
		return fn(path, out)
	default:
		return fn(path, v)
	}
}

// IsString reports whether v is a string and returns it.
func IsString(v Value) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// AsMap returns v as a map[string]interface{}, or nil, false if it is not one.
func AsMap(v Value) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

// AsSlice returns v as a []interface{}, or nil, false if it is not one.
func AsSlice(v Value) ([]interface{}, bool) {
	s, ok := v.([]interface{})
	return s, ok
}
