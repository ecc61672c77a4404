package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrPathOutsideBase is returned when a path escapes its base directory.
var ErrPathOutsideBase = errors.New("path is outside allowed directory")

// ConfinePath resolves path inside baseDir and rejects anything that would
// land outside it. Absolute paths are accepted only if they already lie
// within baseDir.
func ConfinePath(path, baseDir string) (string, error) {
	if path == "" {
		return "", errors.New("file path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return "", errors.New("null byte detected in file path")
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("invalid base directory: %w", err)
	}

	var abs string
	if filepath.IsAbs(path) {
		abs = filepath.Clean(path)
	} else {
		abs = filepath.Join(absBase, path)
	}

	if abs != absBase && !strings.HasPrefix(abs, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideBase, path)
	}
	return abs, nil
}

// SafeFileName replaces every character that is not a letter or digit with
// an underscore.
func SafeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, name)
}

// SanitizeString removes null bytes and control characters other than
// newline, tab and carriage return.
func SanitizeString(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r >= 32 || r == '\n' || r == '\t' || r == '\r' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
