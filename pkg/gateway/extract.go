package gateway

// Clients are inconsistent about where they put the context id and the text
// payload; these helpers accept every shape seen in the wild rather than
// rejecting near-miss requests.

// contextIDPaths lists, in priority order, where a context id may live.
var contextIDPaths = [][]string{
	{"message", "contextId"},
	{"message", "context_id"},
	{"contextId"},
	{"context_id"},
	{"params", "message", "contextId"},
	{"params", "message", "context_id"},
}

// ExtractContextID returns the conversation context id from an A2A payload,
// or "" when the payload carries none.
func ExtractContextID(payload map[string]interface{}) string {
	for _, path := range contextIDPaths {
		value, ok := lookupPath(payload, path)
		if !ok {
			continue
		}
		if s, ok := value.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// ExtractText returns the user text from an A2A payload. It prefers the
// first text part of a structured message, recurses into JSON-RPC params
// nesting, and falls back to common flat text fields.
func ExtractText(payload map[string]interface{}) (string, bool) {
	if message, ok := payload["message"].(map[string]interface{}); ok {
		if parts, ok := message["parts"].([]interface{}); ok {
			for _, raw := range parts {
				part, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}
				if kind, _ := part["kind"].(string); kind != "text" {
					continue
				}
				if text, ok := part["text"].(string); ok {
					return text, true
				}
			}
		}
	}

	if params, ok := payload["params"].(map[string]interface{}); ok {
		if _, nested := params["message"]; nested {
			return ExtractText(params)
		}
	}

	for _, key := range []string{"text", "content", "query", "input"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s, true
		}
	}

	return "", false
}

func lookupPath(payload map[string]interface{}, path []string) (interface{}, bool) {
	var current interface{} = payload
	for _, key := range path {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
