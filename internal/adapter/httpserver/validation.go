package httpserver

import "regexp"

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of validating one input.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func invalid(field, code, message string) ValidationResult {
	return ValidationResult{Valid: false, Errors: []ValidationError{{Field: field, Code: code, Message: message}}}
}

// Session ids are ULIDs and question ids are ULIDs plus deterministic
// suffixes such as _medium, _hard, or _followup.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const maxIDLen = 100

// ValidateSessionID checks a session id URL parameter before it reaches the
// store.
func ValidateSessionID(id string) ValidationResult {
	return validateID("id", id)
}

// ValidateQuestionID checks a question id URL parameter before it reaches the
// store.
func ValidateQuestionID(id string) ValidationResult {
	return validateID("question_id", id)
}

func validateID(field, id string) ValidationResult {
	if id == "" {
		return invalid(field, "REQUIRED", field+" is required")
	}
	if len(id) > maxIDLen {
		return invalid(field, "TOO_LONG", field+" is too long (max 100 characters)")
	}
	if !idPattern.MatchString(id) {
		return invalid(field, "INVALID_FORMAT", field+" contains invalid characters")
	}
	return ValidationResult{Valid: true}
}
