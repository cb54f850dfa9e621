// Package textnorm cleans extracted e-book text ahead of segmentation.
//
// Extractors hand the engine decoded plain text that still carries print
// artifacts: footnote markers, academic citations, typographic quotes,
// inconsistent whitespace. The normalizer removes or regularizes those while
// preserving paragraph structure, which the segmenter depends on.
package textnorm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Number-to-words conversion bounds.
const (
	numberBaseTen      = 10
	numberBaseTwenty   = 20
	numberBaseHundred  = 100
	numberBaseThousand = 1000
	maxNumberForWords  = 999999
)

// Regex patterns applied during normalization.
const (
	urlRegexPattern       = `https?://\S+`
	emailRegexPattern     = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberRegexPattern    = `\d+`
	footnoteRegexPattern  = `(?:\[\d+\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+)`
	citationRegexPattern  = `\([^()]*\d{4}[^()]*\)`
	lineSpaceRegexPattern = `[ \t\x{00A0}]+`
	paragraphGapPattern   = `\n[ \t]*\n+`
)

// Placeholder formats used to shield URLs and emails from cleanup.
const (
	urlPlaceholderFormat   = `__URL_TOKEN_%d__`
	emailPlaceholderFormat = `__EMAIL_TOKEN_%d__`
)

// Typographic characters regularized for speech.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisRune = "…"
)

// Normalizer regularizes raw extracted text for synthesis. It is stateless
// apart from precompiled patterns and safe for concurrent use.
type Normalizer struct {
	urlPattern          *regexp.Regexp
	emailPattern        *regexp.Regexp
	numberPattern       *regexp.Regexp
	footnotePattern     *regexp.Regexp
	citationPattern     *regexp.Regexp
	lineSpacePattern    *regexp.Regexp
	paragraphGapPattern *regexp.Regexp
	abbreviations       *strings.Replacer
	typography          *strings.Replacer
}

// New creates a normalizer with all patterns and replacers compiled upfront.
func New() *Normalizer {
	abbreviations := []string{
		"Mr.", "Mister",
		"Mrs.", "Misses",
		"Ms.", "Miss",
		"Dr.", "Doctor",
		"St.", "Saint",
		"Co.", "Company",
		"Ltd.", "Limited",
		"Corp.", "Corporation",
		"Inc.", "Incorporated",
	}

	typography := []string{
		emDash, "-",
		enDash, "-",
		figureDash, "-",
		ellipsisRune, ellipsis,
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	}

	return &Normalizer{
		urlPattern:          regexp.MustCompile(urlRegexPattern),
		emailPattern:        regexp.MustCompile(emailRegexPattern),
		numberPattern:       regexp.MustCompile(numberRegexPattern),
		footnotePattern:     regexp.MustCompile(footnoteRegexPattern),
		citationPattern:     regexp.MustCompile(citationRegexPattern),
		lineSpacePattern:    regexp.MustCompile(lineSpaceRegexPattern),
		paragraphGapPattern: regexp.MustCompile(paragraphGapPattern),
		abbreviations:       strings.NewReplacer(abbreviations...),
		typography:          strings.NewReplacer(typography...),
	}
}

// Normalize runs the full cleanup pipeline. Paragraph breaks (blank-line
// runs) survive as exactly one blank line each; everything else is collapsed
// to single spaces. The result of normalizing twice equals normalizing once.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")

	expanded := n.abbreviations.Replace(text)

	shielded, tokens := n.shieldTokens(expanded)

	cleaned := n.footnotePattern.ReplaceAllString(shielded, "")
	cleaned = n.citationPattern.ReplaceAllString(cleaned, "")
	cleaned = n.typography.Replace(cleaned)

	restored := n.restoreTokens(cleaned, tokens)

	return n.normalizeParagraphs(restored)
}

// SpellOutNumbers converts standalone integers up to six digits to their
// English word form, which most acoustic models pronounce more reliably than
// digit strings.
func (n *Normalizer) SpellOutNumbers(text string) string {
	return n.numberPattern.ReplaceAllStringFunc(text, func(s string) string {
		num, err := strconv.Atoi(s)
		if err != nil {
			return s
		}

		return integerToWords(num)
	})
}

// EnsureSentenceEnding appends a period when the text does not already end
// with sentence-terminal punctuation, so synthesized prosody falls at the
// close of every unit.
func EnsureSentenceEnding(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	lastRune, _ := utf8.DecodeLastRuneInString(trimmed)

	switch lastRune {
	case '.', '!', '?', '。', '！', '？':
		return trimmed
	}

	if unicode.IsPunct(lastRune) {
		return trimmed
	}

	return trimmed + "."
}

// shieldTokens swaps URLs and emails for placeholders so the cleanup passes
// cannot corrupt them. Multiple identical tokens each get their own
// placeholder.
func (n *Normalizer) shieldTokens(text string) (string, map[string]string) {
	tokens := make(map[string]string)
	counter := 0

	shield := func(pattern *regexp.Regexp, format string, input string) string {
		return pattern.ReplaceAllStringFunc(input, func(match string) string {
			placeholder := fmt.Sprintf(format, counter)
			tokens[placeholder] = match
			counter++

			return placeholder
		})
	}

	shielded := shield(n.urlPattern, urlPlaceholderFormat, text)
	shielded = shield(n.emailPattern, emailPlaceholderFormat, shielded)

	return shielded, tokens
}

func (n *Normalizer) restoreTokens(text string, tokens map[string]string) string {
	for placeholder, original := range tokens {
		text = strings.ReplaceAll(text, placeholder, original)
	}

	return text
}

// normalizeParagraphs collapses intra-paragraph whitespace to single spaces
// while keeping one blank line between paragraphs. Empty paragraphs vanish.
func (n *Normalizer) normalizeParagraphs(text string) string {
	paragraphs := n.paragraphGapPattern.Split(text, -1)

	kept := make([]string, 0, len(paragraphs))

	for _, paragraph := range paragraphs {
		flat := strings.ReplaceAll(paragraph, "\n", " ")
		flat = n.lineSpacePattern.ReplaceAllString(flat, " ")

		flat = strings.TrimSpace(flat)
		if flat == "" {
			continue
		}

		kept = append(kept, flat)
	}

	return strings.Join(kept, "\n\n")
}

// integerToWords converts a non-negative integer below one million to
// English words; anything outside that range is returned as digits.
func integerToWords(number int) string {
	if number < 0 || number > maxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	var parts []string

	thousands := number / numberBaseThousand
	if thousands > 0 {
		parts = append(parts, underThousand(thousands)+" thousand")
	}

	remainder := number % numberBaseThousand
	if remainder > 0 {
		parts = append(parts, underThousand(remainder))
	}

	return strings.Join(parts, " ")
}

func underThousand(num int) string {
	var parts []string

	hundreds := num / numberBaseHundred
	if hundreds > 0 {
		parts = append(parts, onesWord(hundreds)+" hundred")
	}

	remainder := num % numberBaseHundred
	if remainder > 0 {
		parts = append(parts, underHundred(remainder))
	}

	return strings.Join(parts, " ")
}

func underHundred(num int) string {
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

	switch {
	case num < numberBaseTen:
		return ones[num]
	case num < numberBaseTwenty:
		return teens[num-numberBaseTen]
	default:
		result := tens[num/numberBaseTen]
		if num%numberBaseTen > 0 {
			result += " " + ones[num%numberBaseTen]
		}

		return result
	}
}

func onesWord(num int) string {
	ones := []string{
		"", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}

	return ones[num]
}
