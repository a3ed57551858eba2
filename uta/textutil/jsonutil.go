package textutil

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	// jsonBlockPattern matches JSON inside markdown code blocks: ```json { ... } ```
	jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	// jsonObjectPattern matches the outermost object (greedy fallback).
	jsonObjectPattern    = regexp.MustCompile(`(?s)\{.*\}`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON returns the first JSON object embedded in a model reply, or ""
// when none is present. Fenced blocks win over bare objects; trailing commas
// are dropped.
func ExtractJSON(content string) string {
	raw := ""
	if m := jsonBlockPattern.FindStringSubmatch(content); len(m) > 1 {
		raw = m[1]
	} else if m := jsonObjectPattern.FindString(content); m != "" {
		raw = m
	}
	if raw == "" {
		return ""
	}
	return trailingCommaPattern.ReplaceAllString(strings.TrimSpace(raw), "$1")
}

// ExtractObject decodes the first embedded JSON object in content. ok is false
// when nothing decodable is found.
func ExtractObject(content string) (map[string]any, bool) {
	raw := ExtractJSON(content)
	if raw == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, false
	}
	return obj, true
}
