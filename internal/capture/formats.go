package capture

import (
	"fmt"
	"strings"

	"liveassist/internal/ports"
)

// knownFormats maps a mime type to the ffmpeg container and encoders that
// produce it.
var knownFormats = []ports.EncodingFormat{
	{MimeType: "video/webm;codecs=vp8,opus", Container: "webm", AudioCodec: "libopus", VideoCodec: "libvpx"},
	{MimeType: "video/webm;codecs=vp9,opus", Container: "webm", AudioCodec: "libopus", VideoCodec: "libvpx-vp9"},
	{MimeType: "video/webm", Container: "webm", AudioCodec: "libvorbis", VideoCodec: "libvpx"},
	{MimeType: "video/x-matroska", Container: "matroska", AudioCodec: "aac", VideoCodec: "libx264"},
}

// DefaultPreference is the negotiation order used when none is configured.
var DefaultPreference = []string{
	"video/webm;codecs=vp8,opus",
	"video/webm",
	"video/x-matroska",
}

// ResolveFormats turns an ordered list of mime types into encoding formats.
func ResolveFormats(mimeTypes []string) ([]ports.EncodingFormat, error) {
	if len(mimeTypes) == 0 {
		mimeTypes = DefaultPreference
	}

	formats := make([]ports.EncodingFormat, 0, len(mimeTypes))
	for _, mimeType := range mimeTypes {
		format, ok := lookupFormat(mimeType)
		if !ok {
			return nil, fmt.Errorf("unknown encoding format %q", mimeType)
		}
		formats = append(formats, format)
	}
	return formats, nil
}

func lookupFormat(mimeType string) (ports.EncodingFormat, bool) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(mimeType)), " ", "")
	for _, format := range knownFormats {
		if format.MimeType == normalized {
			return format, true
		}
	}
	return ports.EncodingFormat{}, false
}
