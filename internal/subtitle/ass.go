package subtitle

import (
	"fmt"
	"strconv"
	"strings"

	"subtrans/internal/services"
)

// assEvent records one Dialogue line: its position in the file, everything
// up to and including the final format field separator, the raw text, and
// the start/end timecodes for conversion.
type assEvent struct {
	line   int
	prefix string
	text   string
	start  string
	end    string
	style  string
}

// ASSDocument is a parsed SubStation Alpha file. Non-dialogue lines are kept
// verbatim; dialogue text is spliced back on serialization.
type ASSDocument struct {
	lines           []string
	events          []assEvent
	terminator      string
	defaultFontSize int
}

func parseASS(text string) (*ASSDocument, error) {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	body := strings.TrimRight(normalized, "\n")
	doc := &ASSDocument{terminator: normalized[len(body):]}
	doc.lines = strings.Split(body, "\n")

	var (
		section      string
		eventFields  []string
		styleFields  []string
		styleSizes   = map[string]int{}
		firstSize    int
		haveAnyStyle bool
	)

	for i, line := range doc.lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			section = strings.ToLower(strings.Trim(trimmed, "[]"))
			continue
		}

		switch {
		case strings.Contains(section, "styles"):
			if name, rest, ok := splitASSKey(trimmed); ok {
				switch strings.ToLower(name) {
				case "format":
					styleFields = splitFormatFields(rest)
				case "style":
					if len(styleFields) == 0 {
						continue
					}
					values := strings.SplitN(rest, ",", len(styleFields))
					styleName, size := styleNameAndSize(styleFields, values)
					if size > 0 {
						styleSizes[strings.ToLower(styleName)] = size
						if !haveAnyStyle {
							firstSize = size
							haveAnyStyle = true
						}
					}
				}
			}
		case section == "events":
			name, rest, ok := splitASSKey(line)
			if !ok {
				continue
			}
			switch strings.ToLower(strings.TrimSpace(name)) {
			case "format":
				eventFields = splitFormatFields(rest)
			case "dialogue":
				if len(eventFields) == 0 {
					return nil, services.Wrap(services.ErrCodec, "subtitle", "parse", "dialogue before events format line", nil)
				}
				values := strings.SplitN(rest, ",", len(eventFields))
				if len(values) != len(eventFields) {
					return nil, services.Wrap(services.ErrCodec, "subtitle", "parse", fmt.Sprintf("dialogue line has %d fields, format declares %d", len(values), len(eventFields)), nil)
				}
				event := assEvent{line: i, text: values[len(values)-1]}
				event.prefix = line[:len(line)-len(event.text)]
				for fi, field := range eventFields {
					switch strings.ToLower(field) {
					case "start":
						event.start = strings.TrimSpace(values[fi])
					case "end":
						event.end = strings.TrimSpace(values[fi])
					case "style":
						event.style = strings.TrimSpace(values[fi])
					}
				}
				doc.events = append(doc.events, event)
			}
		}
	}

	if size, ok := styleSizes["default"]; ok {
		doc.defaultFontSize = size
	} else if haveAnyStyle {
		doc.defaultFontSize = firstSize
	}
	return doc, nil
}

// Format returns FormatASS.
func (d *ASSDocument) Format() Format { return FormatASS }

// Units returns one unit per dialogue event with override tags intact.
func (d *ASSDocument) Units() []Unit {
	units := make([]Unit, len(d.events))
	for i, event := range d.events {
		units[i] = Unit{Index: i, Text: event.text}
	}
	return units
}

// SetText replaces the text of one dialogue event. Literal newlines become
// soft breaks so a multi-line replacement cannot corrupt the event grid.
func (d *ASSDocument) SetText(index int, text string) {
	if index < 0 || index >= len(d.events) {
		return
	}
	d.events[index].text = strings.ReplaceAll(text, "\n", `\N`)
}

// Marshal serializes the document with LF line endings.
func (d *ASSDocument) Marshal() []byte {
	lines := make([]string, len(d.lines))
	copy(lines, d.lines)
	for _, event := range d.events {
		lines[event.line] = event.prefix + event.text
	}
	return []byte(strings.Join(lines, "\n") + d.terminator)
}

// DefaultFontSize returns the font size of the Default style, the first
// style when no Default exists, or 0 when the file declares no styles.
func (d *ASSDocument) DefaultFontSize() int {
	return d.defaultFontSize
}

// Timing returns the start and end timecodes of a dialogue event.
func (d *ASSDocument) Timing(index int) (start, end string, err error) {
	if index < 0 || index >= len(d.events) {
		return "", "", services.Wrap(services.ErrCodec, "subtitle", "timing", "event index out of range", nil)
	}
	return d.events[index].start, d.events[index].end, nil
}

func splitASSKey(line string) (key, rest string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], strings.TrimLeft(line[idx+1:], " "), true
}

func splitFormatFields(rest string) []string {
	parts := strings.Split(rest, ",")
	fields := make([]string, len(parts))
	for i, part := range parts {
		fields[i] = strings.TrimSpace(part)
	}
	return fields
}

func styleNameAndSize(fields, values []string) (name string, size int) {
	for i, field := range fields {
		if i >= len(values) {
			break
		}
		switch strings.ToLower(field) {
		case "name":
			name = strings.TrimSpace(values[i])
		case "fontsize":
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(values[i]), 64); err == nil {
				size = int(parsed)
			}
		}
	}
	return name, size
}
