package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilename(t *testing.T) {
	cases := map[string]string{
		"photo.png":          "photo.png",
		"../../etc/passwd":   "passwd",
		"my file (1).png":    "my_file__1_.png",
		"voice-123.ogg":      "voice-123.ogg",
		"..":                 "file",
		"":                   "file",
		"résumé.pdf":         "r_sum_.pdf",
		"/tmp/x/report.pdf":  "report.pdf",
		"weird\x00name.txt":  "weird_name.txt",
	}
	for in, want := range cases {
		assert.Equal(t, want, Filename(in), "input %q", in)
	}
}

func TestStripControlCharacters(t *testing.T) {
	assert.Equal(t, "hello\nworld", StripControlCharacters("hello\nworld"))
	assert.Equal(t, "hello", StripControlCharacters("he\x00ll\x1bo"))
	assert.Equal(t, "tab\tkept", StripControlCharacters("tab\tkept"))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Alice", DisplayName("  Alice \x00"))

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, DisplayName(string(long)), 128)
}
