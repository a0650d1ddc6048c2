package txid

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Wallet providers disagree on the shape of a submit response: some return
// the transaction id as a bare string, some wrap it in an object under one
// of several field names, and at least one returns a JSON-encoded string of
// such an object. Extract flattens all of those into a single canonical id.

// idFields is checked in priority order on object-shaped responses.
var idFields = []string{"transactionId", "result", "id", "txId"}

// Extract returns the canonical transaction id for an arbitrary submit
// response, or "" when no id can be determined. It never fails: callers
// treat "" as "do not track".
func Extract(raw any) string {
	return strings.Trim(extract(raw, true), `"`)
}

func extract(raw any, reparse bool) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		if reparse && looksLikeJSON(v) {
			if id := reExtract(v); id != "" {
				return id
			}
		}
		return v
	case map[string]any:
		for _, field := range idFields {
			if id := asString(v[field]); id != "" {
				return id
			}
		}
		if data, ok := v["data"].(map[string]any); ok {
			if id := asString(data["transactionId"]); id != "" {
				return id
			}
		}
		// Unknown object shape: stringify so the caller at least has
		// something to show, then try one re-extraction pass.
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		if reparse {
			if id := reExtract(string(b)); id != "" {
				return id
			}
		}
		return string(b)
	default:
		return asString(v)
	}
}

// reExtract parses a JSON-looking string and extracts from the result.
func reExtract(s string) string {
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return ""
	}
	if inner, ok := parsed.(string); ok && inner == s {
		return ""
	}
	return extract(parsed, false)
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, `"`) || strings.HasPrefix(s, "{")
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64, int, int64, uint64:
		return fmt.Sprintf("%v", s)
	default:
		return ""
	}
}
