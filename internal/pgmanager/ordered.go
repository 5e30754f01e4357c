package pgmanager

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// OrderedFields decodes a JSON object while preserving its key order, which
// plain map[string]interface{} unmarshaling discards. insert/update need the
// caller's column order to survive into the emitted SQL column list.
type OrderedFields struct {
	Keys   []string
	Values map[string]interface{}
}

func (o *OrderedFields) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("pgmanager: expected JSON object for ordered fields")
	}

	o.Keys = nil
	o.Values = map[string]interface{}{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("pgmanager: expected string object key")
		}
		var val interface{}
		if err := dec.Decode(&val); err != nil {
			return err
		}
		if _, seen := o.Values[key]; !seen {
			o.Keys = append(o.Keys, key)
		}
		o.Values[key] = val
	}
	return nil
}

// FieldsFromMap builds an OrderedFields from a plain map, falling back to sorted
// key order since map iteration order is not preserved by the time a caller
// has only a map[string]interface{} in hand (e.g. values already decoded
// upstream without going through UnmarshalJSON on this type directly).
func FieldsFromMap(m map[string]interface{}) OrderedFields {
	return OrderedFields{Keys: sortedKeys(m), Values: m}
}

func (o OrderedFields) empty() bool {
	return len(o.Keys) == 0
}
