// Package sanitize cleans user-supplied strings before they reach object
// names, the durable store, or the UI feed.
package sanitize

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Filename strips path components and unsafe characters from a filename
// so it can be embedded in an object store key.
func Filename(name string) string {
	name = filepath.Base(name)
	name = strings.TrimSpace(name)
	name = unsafeFilenameChars.ReplaceAllString(name, "_")

	// A name of only dots or underscores carries no information
	trimmed := strings.Trim(name, "._")
	if trimmed == "" {
		return "file"
	}
	return name
}

// StripControlCharacters removes non-printable runes, keeping newlines
// and tabs
func StripControlCharacters(input string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
}

// DisplayName trims and bounds a user-facing name
func DisplayName(name string) string {
	name = StripControlCharacters(strings.TrimSpace(name))
	const maxLen = 128
	if len(name) > maxLen {
		name = name[:maxLen]
	}
	return name
}
