// Package text provides input normalization for synthesis requests.
//
// MeloTTS handles its own grapheme-to-phoneme conversion, so the gateway only
// cleans up artifacts that degrade spoken output: abbreviations, bare
// integers, typographic punctuation, and ragged whitespace.
package text

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Bounds for integer-to-words conversion. Larger values are read digit
// sequences by the engine anyway, so they pass through unchanged.
const (
	wordsBaseTen      = 10
	wordsBaseTwenty   = 20
	wordsBaseHundred  = 100
	wordsBaseThousand = 1000
	wordsMaxInteger   = 999999
)

var integerPattern = regexp.MustCompile(`\d+`)

var whitespacePattern = regexp.MustCompile(`\s+`)

// Normalizer cleans request text before it reaches the engine.
type Normalizer struct {
	abbreviations *strings.Replacer
	typography    *strings.Replacer
}

// NewNormalizer creates a normalizer with its replacers built upfront.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		abbreviations: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Ms.", "Miss",
			"Dr.", "Doctor",
			"St.", "Saint",
			"Co.", "Company",
			"Ltd.", "Limited",
			"Corp.", "Corporation",
			"Inc.", "Incorporated",
			"vs.", "versus",
			"etc.", "et cetera",
		),
		typography: strings.NewReplacer(
			"—", "-",
			"–", "-",
			"‒", "-",
			"…", "...",
			"“", `"`,
			"”", `"`,
			"‘", "'",
			"’", "'",
		),
	}
}

// Normalize applies the full cleanup pipeline. Cheap replacements run first;
// the regex passes run on already-shortened text.
func (n *Normalizer) Normalize(input string) string {
	if input == "" {
		return input
	}

	out := n.abbreviations.Replace(input)
	out = n.typography.Replace(out)
	out = spellOutIntegers(out)
	out = collapseWhitespace(out)
	out = collapsePunctuationRuns(out)

	return ensureTerminalPunctuation(out)
}

// spellOutIntegers converts each standalone integer to its English words.
func spellOutIntegers(input string) string {
	return integerPattern.ReplaceAllStringFunc(input, func(match string) string {
		value, err := strconv.Atoi(match)
		if err != nil || value > wordsMaxInteger {
			return match
		}

		return integerWords(value)
	})
}

// collapseWhitespace folds runs of spaces, tabs, and newlines into one space.
func collapseWhitespace(input string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(input, " "))
}

// collapsePunctuationRuns drops repeated punctuation marks ("!!" -> "!"),
// which TTS engines otherwise render as stutters or long pauses.
func collapsePunctuationRuns(input string) string {
	var builder strings.Builder

	builder.Grow(len(input))

	previousWasPunct := false

	for _, r := range input {
		isPunct := unicode.IsPunct(r)
		if !isPunct || !previousWasPunct {
			builder.WriteRune(r)
		}

		previousWasPunct = isPunct
	}

	return builder.String()
}

// ensureTerminalPunctuation appends a period when the text does not end in
// sentence-final punctuation, so the engine closes the prosodic phrase.
func ensureTerminalPunctuation(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}

	last, _ := utf8.DecodeLastRuneInString(trimmed)
	switch last {
	case '.', '!', '?':
		return trimmed
	}

	if unicode.IsPunct(last) {
		return trimmed + "."
	}

	return trimmed + "."
}

// integerWords renders a non-negative integer up to wordsMaxInteger in words.
func integerWords(value int) string {
	if value == 0 {
		return "zero"
	}

	var parts []string

	if thousands := value / wordsBaseThousand; thousands > 0 {
		parts = append(parts, underThousandWords(thousands), "thousand")
		value %= wordsBaseThousand
	}

	if value > 0 {
		parts = append(parts, underThousandWords(value))
	}

	return strings.Join(parts, " ")
}

func underThousandWords(value int) string {
	ones := []string{
		"", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teens := []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tens := []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}

	var parts []string

	if hundreds := value / wordsBaseHundred; hundreds > 0 {
		parts = append(parts, ones[hundreds], "hundred")
		value %= wordsBaseHundred
	}

	switch {
	case value == 0:
	case value < wordsBaseTen:
		parts = append(parts, ones[value])
	case value < wordsBaseTwenty:
		parts = append(parts, teens[value-wordsBaseTen])
	default:
		word := tens[value/wordsBaseTen]
		if value%wordsBaseTen > 0 {
			word += " " + ones[value%wordsBaseTen]
		}

		parts = append(parts, word)
	}

	return strings.Join(parts, " ")
}
