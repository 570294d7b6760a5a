// Package lang identifies the language of transcript text. The statistical
// pass is whatlanggo; a set of overrides layered on top corrects the cases
// short, code-mixed transcripts are known to get wrong. The override order
// is load-bearing: changing it changes results on edge cases.
package lang

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Code is an ISO 639-1 language code, or Unknown.
type Code string

const Unknown Code = "unknown"

// Supported is the closed set of codes the pipeline understands.
var Supported = map[Code]string{
	"ru": "Russian",
	"kk": "Kazakh",
	"en": "English",
	"ko": "Korean",
	"ja": "Japanese",
	"zh": "Chinese",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
}

// detectSampleLen bounds how much text the detector looks at. The head of a
// transcript is representative enough and keeps detection cheap.
const detectSampleLen = 1000

// englishMarkers are common English stopwords plus domain terms that show up
// in finance/trading transcripts whatlanggo tends to misread as Russian.
var englishMarkers = []string{
	"the", "and", "you", "is", "are", "this", "that", "what", "where",
	"when", "how", "fibonacci", "trend", "level", "market", "usd",
	"uptrend", "continue", "profit",
}

// russianMarkers disambiguate languages the statistical pass confuses with
// Russian (Macedonian in particular).
var russianMarkers = []string{
	"это", "привет", "спасибо", "пожалуйста", "да", "нет",
	"говорить", "русский",
}

// Detect returns the best-guess language code for text. It never fails:
// when the statistical pass is unusable it falls back to script-range
// heuristics, and returns Unknown only when nothing matches.
func Detect(text string) Code {
	if strings.TrimSpace(text) == "" {
		return Unknown
	}

	sample := text
	if runes := []rune(text); len(runes) > detectSampleLen {
		sample = string(runes[:detectSampleLen])
	}
	lower := strings.ToLower(sample)

	info := whatlanggo.Detect(sample)
	code := Code(info.Lang.Iso6391())

	// A low-confidence guess is still a guess; only a detector that names no
	// language at all sends us to the script fallback. Short transcripts come
	// back unreliable as a matter of course and must still resolve.
	if code == "" || info.Confidence == 0 {
		// Statistical pass unusable: scripts are the only signal left.
		switch {
		case containsRange(sample, 0xAC00, 0xD7A3):
			return "ko"
		case containsRange(sample, 0x3040, 0x30FF):
			return "ja"
		case containsRange(sample, 0x4E00, 0x9FFF):
			return "zh"
		}
		return Unknown
	}

	// Short mixed samples with obvious English words get misread as Russian.
	if code == "ru" && containsAny(lower, englishMarkers) {
		return "en"
	}

	// Script overrides win over the statistical result, not only on failure.
	if containsRange(sample, 0xAC00, 0xD7A3) {
		return "ko"
	}
	if containsRange(sample, 0x3040, 0x30FF) {
		return "ja"
	}

	// Macedonian comes back for plainly Russian samples now and then.
	if code == "mk" && containsAny(lower, russianMarkers) {
		return "ru"
	}

	if _, ok := Supported[code]; ok {
		return code
	}
	return Unknown
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func containsRange(s string, lo, hi rune) bool {
	for _, r := range s {
		if r >= lo && r <= hi {
			return true
		}
	}
	return false
}

// Name returns the English name for a supported code, or the code itself.
func Name(c Code) string {
	if n, ok := Supported[c]; ok {
		return n
	}
	return string(c)
}
