package subtitle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"subtrans/internal/services"
)

// Format identifies a subtitle container format.
type Format string

const (
	FormatSRT Format = "srt"
	FormatASS Format = "ass"
)

// Unit is one translatable dialogue entry. Index is the zero-based position
// within the document; Text keeps inline override tags intact.
type Unit struct {
	Index int
	Text  string
}

// Document is a parsed subtitle file whose dialogue text can be replaced
// while every other byte is preserved.
type Document interface {
	Format() Format
	Units() []Unit
	SetText(index int, text string)
	Marshal() []byte
}

// DetectFormat infers the format from a file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".srt":
		return FormatSRT, nil
	case ".ass", ".ssa":
		return FormatASS, nil
	default:
		return "", services.Wrap(services.ErrCodec, "subtitle", "detect", fmt.Sprintf("unsupported subtitle extension %q", filepath.Ext(path)), nil)
	}
}

// ParseFormat validates a format name from configuration or API input.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "srt":
		return FormatSRT, nil
	case "ass", "ssa":
		return FormatASS, nil
	default:
		return "", services.Wrap(services.ErrUser, "subtitle", "format", fmt.Sprintf("unknown subtitle format %q", name), nil)
	}
}

// Parse decodes raw bytes into a document of the given format.
func Parse(format Format, data []byte) (Document, error) {
	text, err := DecodeText(data)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatSRT:
		return parseSRT(text)
	case FormatASS:
		return parseASS(text)
	default:
		return nil, services.Wrap(services.ErrCodec, "subtitle", "parse", fmt.Sprintf("unsupported format %q", format), nil)
	}
}

// Load reads, decodes, and parses a subtitle file, detecting the format
// from the extension.
func Load(path string) (Document, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrCodec, "subtitle", "load", "read subtitle file", err)
	}
	return Parse(format, data)
}
