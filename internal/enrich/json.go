package enrich

import "strings"

// cleanJSON pulls a JSON value out of text that may carry markdown code
// fences or prose around it. open and close are the value's delimiters,
// '{' '}' for objects and '[' ']' for arrays.
func cleanJSON(text string, open, close byte) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
