// Package phrase holds the small pure helpers every voice flow shares:
// yes/no detection, phone-number normalization, digit-by-digit speech and
// case-insensitive name matching.
package phrase

import (
	"strings"
	"unicode"
)

// affirmativeWord is the token that marks a confirmation as positive.
const affirmativeWord = "yes"

var digitWords = map[rune]string{
	'0': "zero",
	'1': "one",
	'2': "two",
	'3': "three",
	'4': "four",
	'5': "five",
	'6': "six",
	'7': "seven",
	'8': "eight",
	'9': "nine",
	'+': "plus",
}

// IsAffirmative reports whether text contains "yes". Recognizers often wrap the
// answer in carrier phrases ("yes please", "oh yes"), so this is a substring
// test. Anything else, including "no", is negative.
func IsAffirmative(text string) bool {
	return strings.Contains(strings.ToLower(text), affirmativeWord)
}

// NormalizeDigits removes all whitespace from text. Other characters are kept
// so that IsPhoneLike can reject them.
func NormalizeDigits(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
}

// IsPhoneLike reports whether text is non-empty and consists of digits with an
// optional single leading "+".
func IsPhoneLike(text string) bool {
	digits := strings.TrimPrefix(text, "+")
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SpokenDigits spells a number one character at a time for clear speech:
// "+1234" becomes "plus one two three four". Unmapped characters are spoken
// as themselves.
func SpokenDigits(number string) string {
	words := make([]string, 0, len(number))
	for _, r := range number {
		if w, ok := digitWords[r]; ok {
			words = append(words, w)
			continue
		}
		words = append(words, string(r))
	}
	return strings.Join(words, " ")
}

// FindCaseInsensitive returns the candidate equal to name ignoring case, after
// trimming surrounding whitespace from name. Substrings never match.
func FindCaseInsensitive(name string, candidates []string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	for _, c := range candidates {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}

// ContainsKeyword reports whether text contains keyword, ignoring case.
func ContainsKeyword(text, keyword string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(keyword))
}

// JoinNames renders names as a spoken list: each name capitalised and joined
// with ", ".
func JoinNames(names []string) string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, Capitalize(n))
	}
	return strings.Join(out, ", ")
}

// Capitalize upper-cases the first letter of s.
func Capitalize(s string) string {
	for i, r := range s {
		return string(unicode.ToUpper(r)) + s[i+len(string(r)):]
	}
	return s
}
