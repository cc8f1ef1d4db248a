package subtitle

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"subtrans/internal/services"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// DecodeText converts raw subtitle bytes to a UTF-8 string. BOMs decide the
// encoding when present; otherwise valid UTF-8 is taken as-is, a NUL-byte
// heuristic catches BOM-less UTF-16, and anything left decodes as Latin-1.
func DecodeText(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return string(data[len(bomUTF8):]), nil
	case bytes.HasPrefix(data, bomUTF16LE):
		return decodeWith(data, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM))
	case bytes.HasPrefix(data, bomUTF16BE):
		return decodeWith(data, unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM))
	}

	if utf8.Valid(data) {
		return string(data), nil
	}

	if endian, ok := sniffUTF16(data); ok {
		return decodeWith(data, unicode.UTF16(endian, unicode.IgnoreBOM))
	}

	return decodeWith(data, charmap.ISO8859_1)
}

func decodeWith(data []byte, enc encoding.Encoding) (string, error) {
	decoded, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return "", services.Wrap(services.ErrCodec, "subtitle", "decode", "decode subtitle text", err)
	}
	return string(decoded), nil
}

// sniffUTF16 looks for the NUL stripes ASCII-heavy UTF-16 text produces.
func sniffUTF16(data []byte) (unicode.Endianness, bool) {
	if len(data) < 4 || len(data)%2 != 0 {
		return unicode.LittleEndian, false
	}
	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}
	var oddNul, evenNul int
	for i, b := range sample {
		if b != 0 {
			continue
		}
		if i%2 == 0 {
			evenNul++
		} else {
			oddNul++
		}
	}
	threshold := len(sample) / 4
	switch {
	case oddNul > threshold && oddNul > evenNul*4:
		return unicode.LittleEndian, true
	case evenNul > threshold && evenNul > oddNul*4:
		return unicode.BigEndian, true
	default:
		return unicode.LittleEndian, false
	}
}
