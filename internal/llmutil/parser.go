// Package llmutil holds helpers for consuming model output.
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// fencedBlockRegex captures the body of the first markdown code fence.
// \x60 is a backtick; raw strings cannot contain one.
var fencedBlockRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")

// ExtractJSON pulls the JSON document out of a model response. It handles
// markdown fences and conversational text around a single object or array.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)
	if m := fencedBlockRegex.FindStringSubmatch(response); len(m) > 1 {
		response = strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		first := strings.Index(response, pair[0])
		last := strings.LastIndex(response, pair[1])
		if first != -1 && last > first {
			return response[first : last+1]
		}
	}
	return response
}

// ParseJSONResponse decodes a model response into T after extracting the
// JSON document from it.
func ParseJSONResponse[T any](response string) (*T, error) {
	doc := ExtractJSON(response)
	if doc == "" {
		return nil, fmt.Errorf("LLM response is empty")
	}
	var result T
	if err := json.Unmarshal([]byte(doc), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w (extracted: %s)", err, truncate(doc, 500))
	}
	return &result, nil
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
