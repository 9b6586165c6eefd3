package llm

import (
	"fmt"
	"strings"
)

// extractJSONObject trims markdown code fences and cuts the text down to the
// outermost JSON object. Chat and vision models habitually wrap JSON in
// prose or fences even when asked not to.
func extractJSONObject(text string) ([]byte, error) {
	text = strings.TrimSpace(text)

	// Remove opening markdown code blocks
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}

	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}

	return []byte(text[startIdx : endIdx+1]), nil
}
