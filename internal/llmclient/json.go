package llmclient

import (
	"encoding/json"
	"strings"
)

// parseInnerJSON parses the model's raw text response a second time as
// JSON — the outer HTTP envelope's "response" field is itself expected to
// be a JSON-encoded string. Models routinely wrap that JSON in a markdown
// code fence or surround it with prose, so a fenced or brace-delimited
// substring is extracted before parsing. If extraction or parsing fails,
// the raw text is preserved for operator inspection rather than discarded.
func parseInnerJSON(raw string) Result {
	candidate := extractJSON(raw)

	var parsed Result
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return Result{RawAnalysis: raw, Error: "Failed to parse JSON"}
	}
	return parsed
}

// extractJSON pulls a JSON object out of text that may be wrapped in a
// ```json fenced block or surrounded by prose, falling back to the first
// balanced-looking {...} substring.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)

	if idx := strings.Index(text, "```json"); idx != -1 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if idx := strings.Index(text, "```"); idx != -1 {
		rest := text[idx+3:]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end != -1 && end > start {
		return text[start : end+1]
	}

	return text
}
