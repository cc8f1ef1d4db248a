package language

import (
	"sort"
	"strings"
)

// Language is one selectable translation language as exposed by the
// settings API.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type entry struct {
	code    string   // Canonical settings value ("Chinese")
	display string   // Human-readable name ("Chinese (Simplified)")
	tag     string   // Output filename tag ("zh-Hans")
	iso3    string   // ISO 639-2/B code for container metadata
	alt3    string   // ISO 639-2/T alternate (e.g. "zho" vs "chi")
	words   []string // Extra aliases seen in track tags and filenames
}

var languages = []entry{
	{"Chinese", "Chinese (Simplified)", "zh-Hans", "chi", "zho", []string{"zh", "zh-cn", "chs", "sc", "simplified", "简", "简体"}},
	{"English", "English", "en", "eng", "", nil},
	{"Japanese", "Japanese", "ja", "jpn", "", []string{"jp"}},
	{"Korean", "Korean", "ko", "kor", "", []string{"kr"}},
	{"French", "French", "fr", "fre", "fra", nil},
	{"German", "German", "de", "ger", "deu", nil},
	{"Spanish", "Spanish", "es", "spa", "", nil},
	{"Russian", "Russian", "ru", "rus", "", nil},
	{"Portuguese", "Portuguese", "pt", "por", "", nil},
	{"Italian", "Italian", "it", "ita", "", nil},
}

// byToken indexes every alias form, built at init time.
var byToken map[string]*entry

func init() {
	byToken = make(map[string]*entry, len(languages)*6)
	for i := range languages {
		e := &languages[i]
		for _, token := range e.tokens() {
			byToken[token] = e
		}
	}
}

func (e *entry) tokens() []string {
	tokens := []string{strings.ToLower(e.code), strings.ToLower(e.tag), e.iso3}
	if e.alt3 != "" {
		tokens = append(tokens, e.alt3)
	}
	tokens = append(tokens, e.words...)
	return tokens
}

func lookup(token string) *entry {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return nil
	}
	return byToken[token]
}

// All returns the selectable languages in presentation order.
func All() []Language {
	out := make([]Language, 0, len(languages))
	for i := range languages {
		out = append(out, Language{Code: languages[i].code, Name: languages[i].display})
	}
	return out
}

// Canonical resolves any recognized alias to the canonical settings code.
// Returns empty string for unrecognized input.
func Canonical(token string) string {
	if e := lookup(token); e != nil {
		return e.code
	}
	return ""
}

// ToISO3 converts a language to its ISO 639-2 code for container metadata.
// Returns "und" for unrecognized input.
func ToISO3(language string) string {
	if e := lookup(language); e != nil {
		return e.iso3
	}
	return "und"
}

// FilenameTag converts a language to the tag used in output filenames.
// Returns "und" for unrecognized input.
func FilenameTag(language string) string {
	if e := lookup(language); e != nil {
		return e.tag
	}
	return "und"
}

// KnownTags returns every filename tag an output file may carry,
// including the undetermined fallback.
func KnownTags() []string {
	tags := make([]string, 0, len(languages)+1)
	for i := range languages {
		tags = append(tags, languages[i].tag)
	}
	return append(tags, "und")
}

// Tokens returns the sorted alias tokens for one language, used to spot
// that language in filenames and track tags. Unrecognized input yields
// just its own normalized form.
func Tokens(language string) []string {
	normalized := strings.ToLower(strings.TrimSpace(language))
	if normalized == "" {
		return nil
	}
	e := lookup(normalized)
	if e == nil {
		return []string{normalized}
	}
	set := map[string]struct{}{normalized: {}}
	for _, token := range e.tokens() {
		set[token] = struct{}{}
	}
	tokens := make([]string, 0, len(set))
	for token := range set {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// Matches reports whether a track tag or filename token refers to the
// given language.
func Matches(token, language string) bool {
	t := strings.ToLower(strings.TrimSpace(token))
	l := strings.ToLower(strings.TrimSpace(language))
	if t == "" || l == "" {
		return false
	}
	if t == l {
		return true
	}
	te, le := lookup(t), lookup(l)
	return te != nil && te == le
}

// ExtractFromTags pulls a normalized language value from stream metadata
// tags. Checks common tag keys: language, LANGUAGE, Language,
// language_ietf, lang, LANG.
func ExtractFromTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := []string{"language", "LANGUAGE", "Language", "language_ietf", "lang", "LANG"}
	for _, key := range keys {
		if value, ok := tags[key]; ok {
			value = strings.TrimSpace(strings.ReplaceAll(value, "\x00", ""))
			if value != "" {
				return strings.ToLower(value)
			}
		}
	}
	return ""
}
