package dispatcher

import (
	"github.com/sentryfrogg/engine/internal/dynvalue"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// shapeOutput applies the `output` directive to a successful handler result,
// in order: path, pick, omit, map (spec §4.9 "Output shaping"). A nil or
// malformed directive passes the result through unchanged.
func shapeOutput(result map[string]interface{}, directive interface{}) (interface{}, error) {
	if directive == nil {
		return result, nil
	}
	dir, ok := directive.(map[string]interface{})
	if !ok {
		return result, nil
	}

	var val dynvalue.Value = result
	if path, ok := dir["path"].(string); ok && path != "" {
		resolved, found := dynvalue.Get(val, path)
		if !found {
			missing, _ := dir["missing"].(string)
			switch missing {
			case "error":
				return nil, apperr.New(apperr.NotFound, "output_path_missing", "output.path did not resolve against the result").
					WithDetails("path", path)
			case "null", "undefined":
				val = nil
			default:
				if def, has := dir["default"]; has {
					val = def
				} else {
					val = nil
				}
			}
		} else {
			val = resolved
		}
	}

	if pick, ok := dir["pick"].([]interface{}); ok {
		val = applyPick(val, pick)
	}
	if omit, ok := dir["omit"].([]interface{}); ok {
		val = applyOmit(val, omit)
	}
	if rename, ok := dir["map"].(map[string]interface{}); ok {
		val = applyRename(val, rename)
	}
	return val, nil
}

func applyPick(val dynvalue.Value, keys []interface{}) dynvalue.Value {
	m, ok := dynvalue.AsMap(val)
	if !ok {
		return val
	}
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		if ks, ok := k.(string); ok {
			if v, exists := m[ks]; exists {
				out[ks] = v
			}
		}
	}
	return out
}

func applyOmit(val dynvalue.Value, keys []interface{}) dynvalue.Value {
	m, ok := dynvalue.AsMap(val)
	if !ok {
		return val
	}
	omit := make(map[string]bool, len(keys))
	for _, k := range keys {
		if ks, ok := k.(string); ok {
			omit[ks] = true
		}
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if !omit[k] {
			out[k] = v
		}
	}
	return out
}

func applyRename(val dynvalue.Value, rename map[string]interface{}) dynvalue.Value {
	m, ok := dynvalue.AsMap(val)
	if !ok {
		return val
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		newKey := k
		if nk, ok := rename[k].(string); ok && nk != "" {
			newKey = nk
		}
		out[newKey] = v
	}
	return out
}
