// Package ai provides AI client adapters and response handling utilities.
package ai

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ResponseCleaner extracts and repairs JSON payloads from LLM responses.
// Models frequently wrap JSON in markdown fences or surround it with prose;
// the cleaner recovers the first complete JSON object or array.
type ResponseCleaner struct{}

// NewResponseCleaner creates a new response cleaner.
func NewResponseCleaner() *ResponseCleaner {
	return &ResponseCleaner{}
}

// CleanJSONResponse cleans and sanitizes a JSON response from LLM models.
func (rc *ResponseCleaner) CleanJSONResponse(response string) (string, error) {
	// Step 1: Remove markdown code blocks
	response = rc.removeMarkdownBlocks(response)

	// Step 2: Extract the JSON value from surrounding prose
	response = rc.extractJSON(response)

	// Step 3: Repair only if the extracted payload does not parse as-is
	response = rc.validateAndFixJSON(response)

	return response, nil
}

// removeMarkdownBlocks removes markdown code fences from the response.
func (rc *ResponseCleaner) removeMarkdownBlocks(response string) string {
	response = strings.TrimSpace(response)
	if i := strings.Index(response, "```json"); i != -1 {
		response = response[i+len("```json"):]
	} else if i := strings.Index(response, "```"); i != -1 {
		response = response[i+len("```"):]
	}
	if i := strings.LastIndex(response, "```"); i != -1 {
		response = response[:i]
	}
	return strings.TrimSpace(response)
}

// extractJSON extracts the first complete JSON object or array from mixed
// content. The scan is string-aware so braces inside quoted values do not
// unbalance the depth count.
func (rc *ResponseCleaner) extractJSON(response string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(response); i++ {
		if response[i] == '{' {
			start, open, close = i, '{', '}'
			break
		}
		if response[i] == '[' {
			start, open, close = i, '[', ']'
			break
		}
	}
	if start == -1 {
		return response
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		ch := response[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
			// ignore structural characters inside strings
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}

	return response[start:]
}

// validateAndFixJSON returns the payload unchanged when it already parses,
// otherwise applies best-effort repairs for common model mistakes.
func (rc *ResponseCleaner) validateAndFixJSON(response string) string {
	var temp interface{}
	if err := json.Unmarshal([]byte(response), &temp); err == nil {
		return response
	}
	return rc.fixCommonJSONIssues(response)
}

var (
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)(\w+)(\s*):`)
)

// fixCommonJSONIssues fixes common JSON generation mistakes.
func (rc *ResponseCleaner) fixCommonJSONIssues(response string) string {
	// Trailing commas before a closing brace or bracket
	response = trailingCommaRe.ReplaceAllString(response, "$1")

	// Keys emitted without quotes
	response = unquotedKeyRe.ReplaceAllString(response, `$1"$2"$3:`)

	// Single-quoted strings
	response = strings.ReplaceAll(response, "'", "\"")

	return response
}

// IsValidJSON checks if a string is valid JSON.
func (rc *ResponseCleaner) IsValidJSON(response string) bool {
	var temp interface{}
	return json.Unmarshal([]byte(response), &temp) == nil
}

// CleanAndValidateJSON cleans a response and fails if it still is not valid JSON.
func (rc *ResponseCleaner) CleanAndValidateJSON(response string) (string, error) {
	cleaned, err := rc.CleanJSONResponse(response)
	if err != nil {
		return "", err
	}

	if !rc.IsValidJSON(cleaned) {
		return "", &JSONValidationError{
			Original: response,
			Cleaned:  cleaned,
			Message:  "cleaned response is still not valid JSON",
		}
	}

	return cleaned, nil
}

// JSONValidationError represents a JSON validation error.
type JSONValidationError struct {
	Original string
	Cleaned  string
	Message  string
}

func (e *JSONValidationError) Error() string {
	return e.Message
}
