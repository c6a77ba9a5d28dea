package attachment

import (
	"encoding/base64"
	"strings"

	"callcore/pkg/constants"
)

// buildPreview returns an inline data URI for small images, empty otherwise.
// Large images skip the preview rather than inflate memory; the composer
// falls back to a generic thumbnail.
func buildPreview(contentType string, data []byte) string {
	if !strings.HasPrefix(contentType, "image/") {
		return ""
	}
	if len(data) > constants.PreviewMaxBytes {
		return ""
	}

	var b strings.Builder
	b.WriteString("data:")
	b.WriteString(contentType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}
