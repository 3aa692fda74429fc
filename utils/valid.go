package utils

import (
	"errors"
	"html"
	"strings"
	"unicode"
)

const maxIdentifierLength = 128

// SanitizeInput trims, HTML-escapes and strips control characters from free text
// such as cancellation reasons before it is persisted.
func SanitizeInput(input string) string {
	input = strings.TrimSpace(input)
	input = html.EscapeString(input)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
}

// SanitizeIdentifier validates an external identifier (user id, deposit id).
// Identifiers may not be empty, contain whitespace, control characters or the path separator.
func SanitizeIdentifier(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("identifier is required")
	}
	if len(id) > maxIdentifierLength {
		return "", errors.New("identifier too long")
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '/' {
			return "", errors.New("identifier contains invalid characters")
		}
	}
	return id, nil
}
