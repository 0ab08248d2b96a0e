// Package llmutil extracts structured output from model responses.
package llmutil

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fencedJSONRegex extracts the body of a markdown code fence. \x60 is a
// backtick, which raw strings cannot contain.
var fencedJSONRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*(.*?)\\s*\x60\x60\x60")

// ParseJSONResponse parses a model response into T. It tolerates markdown
// fences and conversational text around the JSON payload.
func ParseJSONResponse[T any](response string) (*T, error) {
	payload := ExtractJSON(response)

	var result T
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(payload, 500))
	}
	return &result, nil
}

// ExtractJSON returns the most likely JSON object or array inside a response.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if m := fencedJSONRegex.FindStringSubmatch(response); len(m) > 1 {
		response = strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	if fb, lb := strings.Index(response, "{"), strings.LastIndex(response, "}"); fb != -1 && lb > fb {
		return response[fb : lb+1]
	}
	if fb, lb := strings.Index(response, "["), strings.LastIndex(response, "]"); fb != -1 && lb > fb {
		return response[fb : lb+1]
	}
	return response
}

// truncateString shortens s to at most maxLen bytes without splitting a rune.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 0 {
		return ""
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
