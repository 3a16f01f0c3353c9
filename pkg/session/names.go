package session

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameLength is the longest name SFN accepts for activities, state
// machines and executions.
const MaxNameLength = 80

// ErrInvalidName is returned by ValidateName.
var ErrInvalidName = errors.New("invalid name")

const invalidNameChars = "<>{}[]?*\"#%\\^|~`$&,;:/"

// ValidateName checks name against SFN's naming rules.
func ValidateName(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidName, name)
	}
	n := utf8.RuneCountInString(name)
	if n == 0 {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidName)
	}
	if n > MaxNameLength {
		return fmt.Errorf("%w: %q is %d characters, maximum is %d", ErrInvalidName, name, n, MaxNameLength)
	}
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			return fmt.Errorf("%w: %q contains whitespace", ErrInvalidName, name)
		case isControl(r):
			return fmt.Errorf("%w: %q contains control character %U", ErrInvalidName, name, r)
		case strings.ContainsRune(invalidNameChars, r):
			return fmt.Errorf("%w: %q contains %q", ErrInvalidName, name, r)
		}
	}
	return nil
}

func isControl(r rune) bool {
	return r <= 0x1f || (r >= 0x7f && r <= 0x9f)
}
