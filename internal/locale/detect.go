// internal/locale/detect.go
package locale

import "unicode"

// Language is an ISO 639-1 code used to pick prompt and status text.
type Language string

const (
	English  Language = "en"
	Japanese Language = "ja"
	Korean   Language = "ko"
	Chinese  Language = "zh"
	Russian  Language = "ru"
	Arabic   Language = "ar"
)

// Script ratio cutoffs. Kana is distinctive enough that a small share marks Japanese
// even when most of the text is kanji.
const (
	kanaThreshold     = 0.10
	hangulThreshold   = 0.30
	hanThreshold      = 0.30
	cyrillicThreshold = 0.30
	arabicThreshold   = 0.30
)

// Detect classifies text by the share of letters belonging to each script.
// Whitespace, digits, punctuation and symbols are ignored. Empty or letterless
// text is English.
func Detect(text string) Language {
	var letters, kana, hangul, han, cyrillic, arabic int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		switch {
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			kana++
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Han, r):
			han++
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Arabic, r):
			arabic++
		}
	}
	if letters == 0 {
		return English
	}

	ratio := func(n int) float64 { return float64(n) / float64(letters) }
	switch {
	case ratio(kana) >= kanaThreshold:
		return Japanese
	case ratio(hangul) >= hangulThreshold:
		return Korean
	case kana == 0 && ratio(han) >= hanThreshold:
		return Chinese
	case ratio(cyrillic) >= cyrillicThreshold:
		return Russian
	case ratio(arabic) >= arabicThreshold:
		return Arabic
	}
	return English
}

// Name returns the English name of the language for use inside prompts.
func (l Language) Name() string {
	switch l {
	case Japanese:
		return "Japanese"
	case Korean:
		return "Korean"
	case Chinese:
		return "Chinese"
	case Russian:
		return "Russian"
	case Arabic:
		return "Arabic"
	}
	return "English"
}

// Parse maps a configured language code to a Language. Unknown codes return ok=false.
func Parse(code string) (Language, bool) {
	switch l := Language(code); l {
	case English, Japanese, Korean, Chinese, Russian, Arabic:
		return l, true
	}
	return "", false
}
