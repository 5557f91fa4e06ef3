package utils

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 20
)

var (
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

// ValidateUsername checks the sign-in name of a patient or doctor: 3-20
// letters, digits or underscores, starting with a letter or digit.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)

	if len(username) < MinUsernameLength {
		return &ValidationError{Field: "username", Message: "Username must be at least 3 characters"}
	}

	if len(username) > MaxUsernameLength {
		return &ValidationError{Field: "username", Message: "Username must be at most 20 characters"}
	}

	if !usernameRegex.MatchString(username) {
		return &ValidationError{Field: "username", Message: "Username can only contain letters, numbers, and underscores"}
	}

	// Check if it starts with a letter or number (not underscore)
	if len(username) > 0 && !(unicode.IsLetter(rune(username[0])) || unicode.IsNumber(rune(username[0]))) {
		return &ValidationError{Field: "username", Message: "Username must start with a letter or number"}
	}

	return nil
}

// MaxDisplayNameLength matches the actors.display_name column.
const MaxDisplayNameLength = 255

// ValidateDisplayName checks the name shown to the other participant. Empty
// is allowed; the username is used instead.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if len(name) > MaxDisplayNameLength {
		return &ValidationError{Field: "display_name", Message: "Display name must be at most 255 characters"}
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return &ValidationError{Field: "display_name", Message: "Display name cannot contain control characters"}
		}
	}
	return nil
}

// NormalizeUsername converts username to lowercase for storage
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
