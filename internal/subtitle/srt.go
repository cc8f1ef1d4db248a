package subtitle

import (
	"fmt"
	"strings"

	"subtrans/internal/services"
)

// srtCue is one SubRip block. The number and timing lines are kept verbatim
// so serialization reproduces the input exactly.
type srtCue struct {
	number string
	timing string
	lines  []string
}

// SRTDocument is a parsed SubRip file.
type SRTDocument struct {
	cues       []srtCue
	terminator string
}

func parseSRT(text string) (*SRTDocument, error) {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	body := strings.TrimRight(normalized, "\n")
	terminator := normalized[len(body):]
	if strings.TrimSpace(body) == "" {
		return &SRTDocument{terminator: terminator}, nil
	}

	doc := &SRTDocument{terminator: terminator}
	for _, block := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		if len(lines) < 2 {
			return nil, services.Wrap(services.ErrCodec, "subtitle", "parse", fmt.Sprintf("malformed srt block %q", block), nil)
		}
		cue := srtCue{number: lines[0]}
		rest := lines[1:]
		if !strings.Contains(cue.number, "-->") {
			if len(rest) == 0 || !strings.Contains(rest[0], "-->") {
				return nil, services.Wrap(services.ErrCodec, "subtitle", "parse", fmt.Sprintf("srt block missing timing line: %q", block), nil)
			}
			cue.timing = rest[0]
			rest = rest[1:]
		} else {
			// Numberless cue: the first line is already the timing.
			cue.timing = cue.number
			cue.number = ""
		}
		cue.lines = rest
		doc.cues = append(doc.cues, cue)
	}
	return doc, nil
}

// Format returns FormatSRT.
func (d *SRTDocument) Format() Format { return FormatSRT }

// Units returns one unit per cue; multi-line cue text is joined with "\n".
func (d *SRTDocument) Units() []Unit {
	units := make([]Unit, len(d.cues))
	for i, cue := range d.cues {
		units[i] = Unit{Index: i, Text: strings.Join(cue.lines, "\n")}
	}
	return units
}

// SetText replaces the dialogue text of one cue.
func (d *SRTDocument) SetText(index int, text string) {
	if index < 0 || index >= len(d.cues) {
		return
	}
	d.cues[index].lines = strings.Split(text, "\n")
}

// Marshal serializes the document with LF line endings.
func (d *SRTDocument) Marshal() []byte {
	blocks := make([]string, len(d.cues))
	for i, cue := range d.cues {
		parts := make([]string, 0, len(cue.lines)+2)
		if cue.number != "" {
			parts = append(parts, cue.number)
		}
		parts = append(parts, cue.timing)
		parts = append(parts, cue.lines...)
		blocks[i] = strings.Join(parts, "\n")
	}
	return []byte(strings.Join(blocks, "\n\n") + d.terminator)
}

// Timing returns the raw timing line of a cue, used for conversion.
func (d *SRTDocument) Timing(index int) (start, end string, err error) {
	if index < 0 || index >= len(d.cues) {
		return "", "", services.Wrap(services.ErrCodec, "subtitle", "timing", "cue index out of range", nil)
	}
	return splitSRTTiming(d.cues[index].timing)
}

func splitSRTTiming(timing string) (start, end string, err error) {
	parts := strings.Split(timing, "-->")
	if len(parts) != 2 {
		return "", "", services.Wrap(services.ErrCodec, "subtitle", "timing", fmt.Sprintf("malformed timing line %q", timing), nil)
	}
	start = strings.TrimSpace(parts[0])
	// Positioning hints may follow the end time; keep just the timecode.
	endFields := strings.Fields(strings.TrimSpace(parts[1]))
	if len(endFields) == 0 {
		return "", "", services.Wrap(services.ErrCodec, "subtitle", "timing", fmt.Sprintf("malformed timing line %q", timing), nil)
	}
	return start, endFields[0], nil
}
