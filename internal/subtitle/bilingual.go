package subtitle

import "fmt"

// minBilingualFontSize is the floor for the shrunken original line in
// bilingual ASS output.
const minBilingualFontSize = 10

// fallbackBilingualFontSize stands in when the file defines no usable style.
const fallbackBilingualFontSize = 20

// bilingualScale shrinks the original line relative to the style size.
const bilingualScale = 0.8

// BilingualText stacks a translation above the original line. For ASS the
// original is rendered smaller using a font-size override that resets
// afterwards; files without a resolvable style size get the fallback base.
// For SRT the two lines are joined with a plain newline.
func BilingualText(format Format, translated, original string, styleFontSize int) string {
	if original == "" {
		return translated
	}
	switch format {
	case FormatASS:
		base := styleFontSize
		if base <= 0 {
			base = fallbackBilingualFontSize
		}
		smaller := int(float64(base) * bilingualScale)
		if smaller < minBilingualFontSize {
			smaller = minBilingualFontSize
		}
		return fmt.Sprintf(`%s\N{\fs%d}%s{\r}`, translated, smaller, original)
	default:
		return translated + "\n" + original
	}
}

// ApplyTranslations writes translated unit texts back into the document,
// optionally composing bilingual lines from the original texts.
func ApplyTranslations(doc Document, originals, translations []string, bilingual bool) {
	fontSize := 0
	if ass, ok := doc.(*ASSDocument); ok {
		fontSize = ass.DefaultFontSize()
	}
	for i, translated := range translations {
		text := translated
		if bilingual && i < len(originals) {
			text = BilingualText(doc.Format(), translated, originals[i], fontSize)
		}
		doc.SetText(i, text)
	}
}
