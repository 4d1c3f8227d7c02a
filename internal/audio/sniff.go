package audio

import (
	"bytes"
	"strings"
)

const (
	ContentTypeWAV  = "audio/wav"
	ContentTypeWebM = "audio/webm"
	ContentTypeOgg  = "audio/ogg"
	ContentTypeMPEG = "audio/mpeg"
	ContentTypeRaw  = "application/octet-stream"
)

// SniffContentType guesses the container of an encoded audio payload from its magic bytes.
func SniffContentType(b []byte) string {
	switch {
	case len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE":
		return ContentTypeWAV
	case bytes.HasPrefix(b, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return ContentTypeWebM
	case bytes.HasPrefix(b, []byte("OggS")):
		return ContentTypeOgg
	case bytes.HasPrefix(b, []byte("ID3")), len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0:
		return ContentTypeMPEG
	default:
		return ContentTypeRaw
	}
}

// ContentTypeForFormat maps a short format label ("wav", "audio/mpeg", "mp3")
// to a MIME type. Unknown labels fall back to sniffing b.
func ContentTypeForFormat(format string, b []byte) string {
	f := strings.ToLower(strings.TrimSpace(format))
	switch {
	case f == "":
		return SniffContentType(b)
	case strings.Contains(f, "wav"):
		return ContentTypeWAV
	case strings.Contains(f, "webm"):
		return ContentTypeWebM
	case strings.Contains(f, "ogg") || strings.Contains(f, "opus"):
		return ContentTypeOgg
	case strings.Contains(f, "mp3") || strings.Contains(f, "mpeg"):
		return ContentTypeMPEG
	default:
		return SniffContentType(b)
	}
}

// Extension returns a file extension for a MIME type produced by this package.
func Extension(contentType string) string {
	switch contentType {
	case ContentTypeWAV:
		return ".wav"
	case ContentTypeWebM:
		return ".webm"
	case ContentTypeOgg:
		return ".ogg"
	case ContentTypeMPEG:
		return ".mp3"
	default:
		return ".bin"
	}
}
