package subtitle_test

import (
	"bytes"
	"strings"
	"testing"

	"subtrans/internal/subtitle"
)

const sampleSRT = `1
00:00:01,000 --> 00:00:02,500
Hello there.

2
00:00:03,000 --> 00:00:04,000
How are you
doing today?

3
00:00:05,000 --> 00:00:06,000
{\an8}Sign text
`

const sampleASS = `[Script Info]
Title: Sample
ScriptType: v4.00+

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour
Style: Default,Arial,28,&H00FFFFFF
Style: Top,Arial,18,&H00FFFFFF

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
Dialogue: 0,0:00:01.00,0:00:02.50,Default,,0,0,0,,Hello there.
Dialogue: 0,0:00:03.00,0:00:04.00,Top,,0,0,0,,{\an8}Sign text, with commas
`

func TestSRTRoundTripIsByteIdentical(t *testing.T) {
	doc, err := subtitle.Parse(subtitle.FormatSRT, []byte(sampleSRT))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := doc.Marshal(); !bytes.Equal(got, []byte(sampleSRT)) {
		t.Fatalf("round trip changed bytes:\n--- want ---\n%s\n--- got ---\n%s", sampleSRT, got)
	}
}

func TestSRTRoundTripNormalizesCRLF(t *testing.T) {
	crlf := strings.ReplaceAll(sampleSRT, "\n", "\r\n")
	doc, err := subtitle.Parse(subtitle.FormatSRT, []byte(crlf))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := doc.Marshal(); !bytes.Equal(got, []byte(sampleSRT)) {
		t.Fatalf("expected LF normalization, got:\n%s", got)
	}
}

func TestSRTUnits(t *testing.T) {
	doc, err := subtitle.Parse(subtitle.FormatSRT, []byte(sampleSRT))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	units := doc.Units()
	if len(units) != 3 {
		t.Fatalf("expected 3 units, got %d", len(units))
	}
	if units[1].Text != "How are you\ndoing today?" {
		t.Fatalf("unexpected multi-line unit: %q", units[1].Text)
	}
	if units[2].Text != `{\an8}Sign text` {
		t.Fatalf("override tag should be preserved: %q", units[2].Text)
	}
}

func TestSRTSetTextOnlyChangesDialogue(t *testing.T) {
	doc, err := subtitle.Parse(subtitle.FormatSRT, []byte(sampleSRT))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	doc.SetText(0, "你好。")
	out := string(doc.Marshal())
	if !strings.Contains(out, "00:00:01,000 --> 00:00:02,500\n你好。") {
		t.Fatalf("translation not spliced under its timing line:\n%s", out)
	}
	if !strings.Contains(out, "How are you\ndoing today?") {
		t.Fatalf("untouched cues must survive:\n%s", out)
	}
}

func TestSRTParseRejectsGarbage(t *testing.T) {
	if _, err := subtitle.Parse(subtitle.FormatSRT, []byte("not\nan srt\n\nfile at all")); err == nil {
		t.Fatal("expected parse error for missing timing lines")
	}
}

func TestASSRoundTripIsByteIdentical(t *testing.T) {
	doc, err := subtitle.Parse(subtitle.FormatASS, []byte(sampleASS))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := doc.Marshal(); !bytes.Equal(got, []byte(sampleASS)) {
		t.Fatalf("round trip changed bytes:\n--- want ---\n%s\n--- got ---\n%s", sampleASS, got)
	}
}

func TestASSUnitsKeepCommasAndTags(t *testing.T) {
	doc, err := subtitle.Parse(subtitle.FormatASS, []byte(sampleASS))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	units := doc.Units()
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	if units[1].Text != `{\an8}Sign text, with commas` {
		t.Fatalf("dialogue text with commas mangled: %q", units[1].Text)
	}
}

func TestASSSetTextPreservesEventPrefix(t *testing.T) {
	doc, err := subtitle.Parse(subtitle.FormatASS, []byte(sampleASS))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	doc.SetText(0, "你好。")
	out := string(doc.Marshal())
	if !strings.Contains(out, "Dialogue: 0,0:00:01.00,0:00:02.50,Default,,0,0,0,,你好。") {
		t.Fatalf("event prefix not preserved:\n%s", out)
	}
}

func TestASSDefaultFontSize(t *testing.T) {
	doc, err := subtitle.Parse(subtitle.FormatASS, []byte(sampleASS))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	ass := doc.(*subtitle.ASSDocument)
	if ass.DefaultFontSize() != 28 {
		t.Fatalf("expected Default style size 28, got %d", ass.DefaultFontSize())
	}
}

func TestBilingualText(t *testing.T) {
	cases := []struct {
		name       string
		format     subtitle.Format
		translated string
		original   string
		fontSize   int
		want       string
	}{
		{"srt plain", subtitle.FormatSRT, "你好", "Hello", 0, "你好\nHello"},
		{"ass no style falls back to size 20", subtitle.FormatASS, "你好", "Hello", 0, `你好\N{\fs16}Hello{\r}`},
		{"ass sized", subtitle.FormatASS, "你好", "Hello", 28, `你好\N{\fs22}Hello{\r}`},
		{"ass size floor", subtitle.FormatASS, "你好", "Hello", 10, `你好\N{\fs10}Hello{\r}`},
		{"empty original", subtitle.FormatSRT, "你好", "", 0, "你好"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := subtitle.BilingualText(tc.format, tc.translated, tc.original, tc.fontSize)
			if got != tc.want {
				t.Fatalf("BilingualText = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestApplyTranslationsBilingualASS(t *testing.T) {
	doc, err := subtitle.Parse(subtitle.FormatASS, []byte(sampleASS))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	originals := []string{"Hello there.", `{\an8}Sign text, with commas`}
	subtitle.ApplyTranslations(doc, originals, []string{"你好。", `{\an8}标志`}, true)
	out := string(doc.Marshal())
	if !strings.Contains(out, `你好。\N{\fs22}Hello there.{\r}`) {
		t.Fatalf("bilingual ass composition wrong:\n%s", out)
	}
}

func TestConvertSRTToASS(t *testing.T) {
	doc, err := subtitle.Parse(subtitle.FormatSRT, []byte(sampleSRT))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	out, err := subtitle.Convert(doc, subtitle.FormatASS)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	text := string(out)
	if !strings.Contains(text, "[Events]") {
		t.Fatalf("missing events section:\n%s", text)
	}
	if !strings.Contains(text, `Dialogue: 0,0:00:03.00,0:00:04.00,Default,,0,0,0,,How are you\Ndoing today?`) {
		t.Fatalf("line breaks not converted to soft breaks:\n%s", text)
	}

	// The conversion output must itself parse.
	if _, err := subtitle.Parse(subtitle.FormatASS, out); err != nil {
		t.Fatalf("converted output does not parse: %v", err)
	}
}

func TestConvertASSToSRT(t *testing.T) {
	doc, err := subtitle.Parse(subtitle.FormatASS, []byte(sampleASS))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	out, err := subtitle.Convert(doc, subtitle.FormatSRT)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	text := string(out)
	if !strings.Contains(text, "00:00:01,000 --> 00:00:02,500\nHello there.") {
		t.Fatalf("timing conversion wrong:\n%s", text)
	}
	if strings.Contains(text, `{\an8}`) {
		t.Fatalf("override tags should be stripped for srt:\n%s", text)
	}
	if _, err := subtitle.Parse(subtitle.FormatSRT, out); err != nil {
		t.Fatalf("converted output does not parse: %v", err)
	}
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		path string
		want subtitle.Format
		ok   bool
	}{
		{"a.srt", subtitle.FormatSRT, true},
		{"a.SRT", subtitle.FormatSRT, true},
		{"a.ass", subtitle.FormatASS, true},
		{"a.ssa", subtitle.FormatASS, true},
		{"a.sub", "", false},
	}
	for _, tc := range cases {
		got, err := subtitle.DetectFormat(tc.path)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("DetectFormat(%q) = %v, %v", tc.path, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("DetectFormat(%q) should fail", tc.path)
		}
	}
}
