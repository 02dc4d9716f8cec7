package filestore

import (
	"encoding/base64"
	"strings"
)

// dataURL is a decoded "data:<mime>;base64,<body>" payload.
type dataURL struct {
	ContentType string
	Data        []byte
}

// parseDataURL decodes a self-describing base64 payload.
// Malformed input is a validation rejection, not an infrastructure error.
func parseDataURL(s string) (*dataURL, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, newValidationError("payload", "not a data URL")
	}

	header, body, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, newValidationError("payload", "missing data separator")
	}

	mediaType, encoding, hasEncoding := strings.Cut(header, ";")
	if !hasEncoding || encoding != "base64" {
		return nil, newValidationError("payload", "only base64 encoding is supported")
	}
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		return nil, newValidationError("payload", "missing media type")
	}

	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, newValidationError("payload", "invalid base64 body: %v", err)
	}
	if len(data) == 0 {
		return nil, newValidationError("payload", "empty body")
	}

	return &dataURL{ContentType: mediaType, Data: data}, nil
}

// extensionForMime maps common image media types to a file extension.
func extensionForMime(mime string) string {
	switch mime {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	default:
		return ".bin"
	}
}
