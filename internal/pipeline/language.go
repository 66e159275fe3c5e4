package pipeline

import "strings"

// languageCodes maps the full language names whisper's verbose output
// uses to ISO 639-1 codes. Unknown names pass through unchanged.
var languageCodes = map[string]string{
	"english":    "en",
	"german":     "de",
	"french":     "fr",
	"spanish":    "es",
	"portuguese": "pt",
	"italian":    "it",
	"dutch":      "nl",
	"polish":     "pl",
	"russian":    "ru",
	"ukrainian":  "uk",
	"turkish":    "tr",
	"arabic":     "ar",
	"hindi":      "hi",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
}

// languageNames is the reverse mapping, used to phrase translation
// prompts with a readable language name.
var languageNames = map[string]string{}

func init() {
	for name, code := range languageCodes {
		languageNames[code] = name
	}
}

// langCode normalises a detected language to a comparable code.
func langCode(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageCodes[l]; ok {
		return code
	}
	return l
}

// langName returns a readable name for a language code, falling back to
// the code itself.
func langName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}
