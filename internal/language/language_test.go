package language

import (
	"testing"
)

func TestToISO3(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Chinese", "chi"},
		{"chinese", "chi"},
		{"English", "eng"},
		{"Japanese", "jpn"},
		{"Korean", "kor"},
		{"French", "fre"},
		{"German", "ger"},
		{"Spanish", "spa"},
		{"Russian", "rus"},
		{"Portuguese", "por"},
		{"Italian", "ita"},
		// Aliases resolve too
		{"zh-Hans", "chi"},
		{"zho", "chi"},
		{"fra", "fre"},
		{"deu", "ger"},
		// Unknown falls back to undetermined
		{"Klingon", "und"},
		{"", "und"},
		{" ", "und"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := ToISO3(tt.input)
			if result != tt.expected {
				t.Errorf("ToISO3(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFilenameTag(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Chinese", "zh-Hans"},
		{"CHINESE", "zh-Hans"},
		{"English", "en"},
		{"Japanese", "ja"},
		{"Korean", "ko"},
		{"French", "fr"},
		{"German", "de"},
		{"Spanish", "es"},
		{"Russian", "ru"},
		{"Portuguese", "pt"},
		{"Italian", "it"},
		{"Klingon", "und"},
		{"", "und"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := FilenameTag(tt.input)
			if result != tt.expected {
				t.Errorf("FilenameTag(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestKnownTags(t *testing.T) {
	tags := KnownTags()
	if len(tags) != 11 {
		t.Fatalf("KnownTags() returned %d tags, want 11", len(tags))
	}
	if tags[0] != "zh-Hans" {
		t.Errorf("KnownTags()[0] = %q, want %q", tags[0], "zh-Hans")
	}
	if tags[len(tags)-1] != "und" {
		t.Errorf("KnownTags() last = %q, want %q", tags[len(tags)-1], "und")
	}
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"chinese", "Chinese"},
		{"zh", "Chinese"},
		{"zh-CN", "Chinese"},
		{"chs", "Chinese"},
		{"简体", "Chinese"},
		{"eng", "English"},
		{"jp", "Japanese"},
		{"kr", "Korean"},
		{"fra", "French"},
		{"xyz", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := Canonical(tt.input)
			if result != tt.expected {
				t.Errorf("Canonical(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		token    string
		language string
		expected bool
	}{
		{"chi", "Chinese", true},
		{"zho", "Chinese", true},
		{"zh", "chinese", true},
		{"zh-Hans", "Chinese", true},
		{"simplified", "Chinese", true},
		{"eng", "English", true},
		{"en", "English", true},
		{"jpn", "Japanese", true},
		{"chi", "English", false},
		{"eng", "Chinese", false},
		{"und", "Chinese", false},
		{"", "Chinese", false},
		{"chi", "", false},
		// Unknown pairs still match on exact equality
		{"klingon", "Klingon", true},
		{"klingon", "Vulcan", false},
	}
	for _, tt := range tests {
		t.Run(tt.token+"/"+tt.language, func(t *testing.T) {
			result := Matches(tt.token, tt.language)
			if result != tt.expected {
				t.Errorf("Matches(%q, %q) = %v, want %v", tt.token, tt.language, result, tt.expected)
			}
		})
	}
}

func TestTokensIncludesAliases(t *testing.T) {
	tokens := Tokens("Chinese")
	want := []string{"chi", "chinese", "chs", "sc", "simplified", "zh", "zh-cn", "zh-hans", "zho", "简", "简体"}
	if len(tokens) != len(want) {
		t.Fatalf("Tokens(Chinese) = %v, want %v", tokens, want)
	}
	for i := range tokens {
		if tokens[i] != want[i] {
			t.Errorf("Tokens(Chinese)[%d] = %q, want %q", i, tokens[i], want[i])
		}
	}
}

func TestTokensUnknownLanguage(t *testing.T) {
	tokens := Tokens("Klingon")
	if len(tokens) != 1 || tokens[0] != "klingon" {
		t.Errorf("Tokens(Klingon) = %v, want [klingon]", tokens)
	}
	if Tokens("") != nil {
		t.Errorf("Tokens(\"\") = %v, want nil", Tokens(""))
	}
}

func TestAll(t *testing.T) {
	all := All()
	if len(all) != 10 {
		t.Fatalf("All() returned %d languages, want 10", len(all))
	}
	if all[0].Code != "Chinese" || all[0].Name != "Chinese (Simplified)" {
		t.Errorf("All()[0] = %+v, want Chinese / Chinese (Simplified)", all[0])
	}
	if all[1].Code != "English" {
		t.Errorf("All()[1].Code = %q, want English", all[1].Code)
	}
}

func TestExtractFromTags(t *testing.T) {
	tests := []struct {
		name     string
		tags     map[string]string
		expected string
	}{
		{"nil tags", nil, ""},
		{"empty tags", map[string]string{}, ""},
		{"lowercase key", map[string]string{"language": "chi"}, "chi"},
		{"uppercase key", map[string]string{"LANGUAGE": "CHI"}, "chi"},
		{"ietf key", map[string]string{"language_ietf": "zh-Hans"}, "zh-hans"},
		{"null bytes stripped", map[string]string{"language": "eng\x00"}, "eng"},
		{"empty value", map[string]string{"language": ""}, ""},
		{"priority: language over LANG", map[string]string{"language": "fr", "LANG": "en"}, "fr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractFromTags(tt.tags)
			if result != tt.expected {
				t.Errorf("ExtractFromTags(%v) = %q, want %q", tt.tags, result, tt.expected)
			}
		})
	}
}

// Verify the alias sets used by track matching round-trip through the
// canonical codes: every token of every language resolves back to it.
func TestTokenRoundTrip(t *testing.T) {
	for _, lang := range All() {
		for _, token := range Tokens(lang.Code) {
			if got := Canonical(token); got != lang.Code {
				t.Errorf("Canonical(%q) = %q, want %q", token, got, lang.Code)
			}
		}
	}
}
