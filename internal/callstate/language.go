package callstate

import "unicode"

// Language is the routing language for speech synthesis.
type Language string

const (
	English   Language = "EN"
	Tamil     Language = "TA"
	Telugu    Language = "TE"
	Kannada   Language = "KN"
	Malayalam Language = "ML"
	Hindi     Language = "HI"
)

// BaseLanguage is used when no regional script is present.
const BaseLanguage = English

type scriptRange struct {
	lang   Language
	lo, hi rune
}

// Checked in this order; the first range with a matching rune wins.
var scriptRanges = []scriptRange{
	{Tamil, 0x0B80, 0x0BFF},
	{Telugu, 0x0C00, 0x0C7F},
	{Kannada, 0x0C80, 0x0CFF},
	{Malayalam, 0x0D00, 0x0D7F},
	{Hindi, 0x0900, 0x097F},
}

// DetectLanguage returns the language of text, or prior when text carries no
// letters once whitespace, digits and punctuation are removed.
func DetectLanguage(text string, prior Language) Language {
	stripped := make([]rune, 0, len(text))
	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsDigit(r) || unicode.IsPunct(r) {
			continue
		}
		stripped = append(stripped, r)
	}
	if len(stripped) == 0 {
		if prior == "" {
			return BaseLanguage
		}
		return prior
	}
	for _, sr := range scriptRanges {
		for _, r := range stripped {
			if r >= sr.lo && r <= sr.hi {
				return sr.lang
			}
		}
	}
	return BaseLanguage
}
