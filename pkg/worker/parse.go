package worker

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	codeBlockPattern = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	embeddedPattern  = regexp.MustCompile(`(\{[\s\S]*\}|\[[\s\S]*\])`)
)

// ParseLLMJSON extracts JSON from a model response. Fenced code blocks are
// tried first, then the whole response, then any embedded object or array.
// The second return is the text the JSON was parsed from, or the trimmed
// response when nothing parsed.
func ParseLLMJSON(text string) (any, string) {
	cleaned := strings.TrimSpace(text)

	for _, match := range codeBlockPattern.FindAllStringSubmatch(cleaned, -1) {
		candidate := strings.TrimSpace(match[1])
		var parsed any
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			return parsed, candidate
		}
	}

	var parsed any
	if err := json.Unmarshal([]byte(cleaned), &parsed); err == nil {
		return parsed, cleaned
	}

	for _, match := range embeddedPattern.FindAllString(cleaned, -1) {
		var embedded any
		if err := json.Unmarshal([]byte(match), &embedded); err == nil {
			return embedded, match
		}
	}

	return nil, cleaned
}
