package web

import (
	"bytes"
	"encoding/json"
	"strings"
)

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// normalizeContent turns message content into the plain string the token
// manager counts. Strings pass through, text parts are joined by newlines,
// other JSON values are kept in their compact encoding.
func normalizeContent(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return "", err
		}
		texts := make([]string, 0, len(items))
		for _, it := range items {
			it = bytes.TrimSpace(it)
			if len(it) > 0 && it[0] == '"' {
				var s string
				if err := json.Unmarshal(it, &s); err != nil {
					return "", err
				}
				texts = append(texts, s)
				continue
			}
			var part contentPart
			if err := json.Unmarshal(it, &part); err != nil {
				continue
			}
			if part.Type == "text" || (part.Type == "" && part.Text != "") {
				texts = append(texts, part.Text)
			}
		}
		return strings.Join(texts, "\n"), nil
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
}
