package main

import (
	"encoding/json"
	"time"

	"github.com/sentryfrogg/engine/internal/platform/apperr"
)

// decode re-marshals args (already decoded from the incoming JSON-RPC
// request) into dest, a concrete request struct. Field names match
// case-insensitively since none of the manager request structs carry json
// tags (the teacher's own internal structs mostly don't either).
func decode(args map[string]interface{}, dest interface{}) error {
	b, err := json.Marshal(args)
	if err != nil {
		return apperr.Wrap(apperr.InvalidParams, "bad_args", "failed to encode arguments", err)
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return apperr.Wrap(apperr.InvalidParams, "bad_args", "failed to decode arguments", err)
	}
	return nil
}

// encode turns any result value into the map[string]interface{} shape the
// dispatcher requires from a Handler.
func encode(v interface{}) (map[string]interface{}, error) {
	if v == nil {
		return map[string]interface{}{}, nil
	}
	if m, ok := v.(map[string]interface{}); ok {
		return m, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "encode_result_failed", "failed to encode result", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		// Not a JSON object (e.g. a bare slice or scalar) - carry it under
		// a single field so every Handler still returns a map.
		return map[string]interface{}{"value": v}, nil
	}
	return m, nil
}

// durationMS pulls a "*_ms" integer field out of args and returns it as a
// time.Duration, leaving args untouched for the subsequent decode() call.
func durationMS(args map[string]interface{}, key string) time.Duration {
	switch v := args[key].(type) {
	case float64:
		return time.Duration(v) * time.Millisecond
	case int:
		return time.Duration(v) * time.Millisecond
	}
	return 0
}

func action(args map[string]interface{}) string {
	s, _ := args["action"].(string)
	return s
}

func requireAction(args map[string]interface{}) (string, error) {
	a := action(args)
	if a == "" {
		return "", apperr.MissingParam("action")
	}
	return a, nil
}
