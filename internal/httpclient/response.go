package httpclient

import (
	"encoding/json"
	"strings"

	"github.com/sentryfrogg/engine/internal/dynvalue"
	"github.com/sentryfrogg/engine/internal/model"
)

// decodeBody interprets the captured body bytes according to responseType
// (spec §4.6 "Body reading"): "auto" sniffs JSON via Content-Type, "json"
// forces a parse, "text" returns a string, "bytes" returns the raw bytes.
// JSON parsing is always skipped when the body was truncated.
func decodeBody(data []byte, contentType, responseType string, truncated bool) (interface{}, bool) {
	if responseType == "" {
		responseType = "auto"
	}

	if responseType == "bytes" {
		return data, false
	}

	if truncated {
		return string(data), true
	}

	wantsJSON := responseType == "json" || (responseType == "auto" && strings.Contains(contentType, "json"))
	if wantsJSON && len(data) > 0 {
		v, err := dynvalue.FromJSON(data)
		if err == nil {
			return v, false
		}
		if responseType == "json" {
			return string(data), false
		}
	}
	return string(data), false
}

// responseFromCacheEntry reshapes a cached model.CacheEntry's generically
// decoded Value back into a typed Response, the same remarshal-through-JSON
// pattern internal/vault uses to reshape a generic map into a typed
// envelope without a second round trip.
func responseFromCacheEntry(entry model.CacheEntry) (Response, bool) {
	raw, err := json.Marshal(entry.Value)
	if err != nil {
		return Response{}, false
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, false
	}
	return resp, true
}
