// Package sniff classifies a byte stream by the magic number at its start.
package sniff

import (
	"net/http"
	"strings"
)

// MinPrefix is the number of leading bytes required before classifying.
const MinPrefix = 10

// Format is the detected container format of an upload.
type Format int

const (
	Unknown Format = iota
	PNG
	JPEG
	GIF
	BMP
	WebP
	ICO
)

var formatNames = map[Format]string{
	Unknown: "unknown",
	PNG:     "png",
	JPEG:    "jpeg",
	GIF:     "gif",
	BMP:     "bmp",
	WebP:    "webp",
	ICO:     "ico",
}

var contentTypes = map[string]Format{
	"image/png":    PNG,
	"image/jpeg":   JPEG,
	"image/gif":    GIF,
	"image/bmp":    BMP,
	"image/webp":   WebP,
	"image/x-icon": ICO,
}

// Classify inspects prefix and returns its format. Prefixes shorter than
// MinPrefix are never classified.
func Classify(prefix []byte) Format {
	if len(prefix) < MinPrefix {
		return Unknown
	}
	if f, ok := contentTypes[http.DetectContentType(prefix)]; ok {
		return f
	}
	return Unknown
}

// FromExtension maps a stored object extension back to its format.
func FromExtension(ext string) Format {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return PNG
	case "jpg", "jpeg":
		return JPEG
	}
	return Unknown
}

// Accepted reports whether uploads of this format are stored.
func (f Format) Accepted() bool {
	return f == PNG || f == JPEG
}

// Extension returns the canonical file extension for accepted formats and
// an empty string otherwise.
func (f Format) Extension() string {
	switch f {
	case PNG:
		return "png"
	case JPEG:
		return "jpg"
	}
	return ""
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	for ct, format := range contentTypes {
		if format == f {
			return ct
		}
	}
	return "application/octet-stream"
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unknown"
}
