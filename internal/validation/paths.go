// Package validation checks user- and server-supplied file names before they
// are joined onto a path.
package validation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyName    = errors.New("name cannot be empty")
	ErrNullByte     = errors.New("name contains null byte")
	ErrSeparator    = errors.New("name cannot contain path separators")
	ErrReservedName = errors.New("name cannot be '.' or '..'")
)

// ValidateName validates a single path segment (not a full path).
// It is applied to folder names typed by the user and to entry names
// returned by a remote listing before they are joined onto a local path.
//
// Returns an error if the name:
//   - Is empty
//   - Contains path separators (/ or \)
//   - Is "." or ".."
//   - Contains null bytes
func ValidateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrNullByte, name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %s", ErrSeparator, name)
	}
	// Names like "foo..bar.txt" are fine; only the literal segments are rejected.
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	return nil
}

// invisibleChars are zero-width characters that survive copy and paste
// into a name field.
var invisibleChars = strings.NewReplacer(
	"\u200B", "", // zero-width space
	"\u200C", "", // zero-width non-joiner
	"\u200D", "", // zero-width joiner
	"\uFEFF", "", // BOM
	"\u00AD", "", // soft hyphen
	"\u2060", "", // word joiner
)

// CleanFolderName strips invisible characters, leading and trailing
// slashes and surrounding whitespace from a folder name typed by the user,
// then validates it.
func CleanFolderName(name string) (string, error) {
	name = strings.TrimSpace(invisibleChars.Replace(name))
	name = strings.Trim(name, `/\`)
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}
