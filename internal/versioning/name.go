package versioning

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameLength is the longest accepted version name, in characters, after trimming.
const MaxNameLength = 25

// ValidateName trims raw and checks it is a usable version name.
func ValidateName(raw string) (string, error) {
	trimmed := strings.TrimFunc(raw, isNameSpace)
	if trimmed == "" {
		return "", ErrEmptyName
	}
	if utf8.RuneCountInString(trimmed) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return trimmed, nil
}

// isNameSpace reports the runes trimmed from names: Unicode white space and
// the byte order mark.
func isNameSpace(r rune) bool {
	return unicode.IsSpace(r) || r == '\uFEFF'
}
