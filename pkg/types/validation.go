package types

import "strings"

// IsBlank reports whether s is empty or whitespace-only.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// ValidateText rejects empty or whitespace-only text.
func ValidateText(text string) error {
	if IsBlank(text) {
		return ErrEmptyText
	}
	return nil
}

// ValidateLanguageCode rejects empty or whitespace-only language codes.
// Beyond non-emptiness the code is opaque; language coverage belongs to the
// translation provider.
func ValidateLanguageCode(code string) error {
	if IsBlank(code) {
		return ErrInvalidLanguageCode
	}
	return nil
}
