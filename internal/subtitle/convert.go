package subtitle

import (
	"fmt"
	"regexp"
	"strings"

	"subtrans/internal/services"
)

// assHeader is the skeleton emitted when converting SRT input to ASS.
const assHeader = `[Script Info]
ScriptType: v4.00+
WrapStyle: 0
ScaledBorderAndShadow: yes
YCbCr Matrix: None

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,Arial,20,&H00FFFFFF,&H000000FF,&H00000000,&H00000000,0,0,0,0,100,100,0,0,1,2,2,2,10,10,10,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

var overrideTagPattern = regexp.MustCompile(`\{[^}]*\}`)

// Convert serializes a document into the target format, translating timing
// and line-break conventions when the formats differ.
func Convert(doc Document, target Format) ([]byte, error) {
	if doc.Format() == target {
		return doc.Marshal(), nil
	}
	switch {
	case doc.Format() == FormatSRT && target == FormatASS:
		return srtToASS(doc.(*SRTDocument))
	case doc.Format() == FormatASS && target == FormatSRT:
		return assToSRT(doc.(*ASSDocument))
	default:
		return nil, services.Wrap(services.ErrCodec, "subtitle", "convert", fmt.Sprintf("cannot convert %s to %s", doc.Format(), target), nil)
	}
}

func srtToASS(doc *SRTDocument) ([]byte, error) {
	var b strings.Builder
	b.WriteString(assHeader)
	for _, unit := range doc.Units() {
		startRaw, endRaw, err := doc.Timing(unit.Index)
		if err != nil {
			return nil, err
		}
		start, err := parseSRTTimecode(startRaw)
		if err != nil {
			return nil, err
		}
		end, err := parseSRTTimecode(endRaw)
		if err != nil {
			return nil, err
		}
		text := strings.ReplaceAll(unit.Text, "\n", `\N`)
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			formatASSTimecode(start), formatASSTimecode(end), text)
	}
	return []byte(b.String()), nil
}

func assToSRT(doc *ASSDocument) ([]byte, error) {
	var b strings.Builder
	for i, unit := range doc.Units() {
		startRaw, endRaw, err := doc.Timing(unit.Index)
		if err != nil {
			return nil, err
		}
		start, err := parseASSTimecode(startRaw)
		if err != nil {
			return nil, err
		}
		end, err := parseASSTimecode(endRaw)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, formatSRTTimecode(start), formatSRTTimecode(end), StripOverrideTags(unit.Text))
	}
	return []byte(b.String()), nil
}

// StripOverrideTags removes inline ASS override blocks and converts soft
// and hard breaks to plain newlines.
func StripOverrideTags(text string) string {
	cleaned := overrideTagPattern.ReplaceAllString(text, "")
	cleaned = strings.ReplaceAll(cleaned, `\N`, "\n")
	cleaned = strings.ReplaceAll(cleaned, `\n`, "\n")
	cleaned = strings.ReplaceAll(cleaned, `\h`, " ")
	return cleaned
}
