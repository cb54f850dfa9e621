// Package segment turns normalized document text plus optional structural
// hints into the ordered sequence of speakable text units a job is built
// from.
//
// Segmentation is pure and deterministic: identical input always yields an
// identical unit sequence. Splitting honors, in priority order, chapter
// hints, blank-line paragraph boundaries, sentence boundaries, and finally a
// code-point-safe hard split for text that offers no better break.
package segment

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/book-expert/audiobook-engine/internal/core"
)

// DefaultMaxUnitChars bounds a unit's text when the caller does not supply
// a limit.
const DefaultMaxUnitChars = 4000

// HintKind identifies the kind of structural hint an extractor supplies.
type HintKind string

// HintChapterStart marks the byte offset of a chapter heading line.
const HintChapterStart HintKind = "chapter_start"

// Hint is a structural marker handed over by the text-extraction
// collaborator. Offsets are byte offsets into the text passed to Segment
// and are expected to point at the start of a heading line.
type Hint struct {
	Offset int      `json:"offset"`
	Kind   HintKind `json:"kind"`
}

// Chapter heading patterns recognized by DetectChapters. The set covers the
// English and CJK heading conventions commonly found in extracted e-books.
var chapterHeadingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^Chapter\s+\d+\b`),
	regexp.MustCompile(`^Section\s+\d+\b`),
	regexp.MustCompile(`^第[一二三四五六七八九十百千\d]+章`),
	regexp.MustCompile(`^第[一二三四五六七八九十百千\d]+节`),
}

var paragraphGapPattern = regexp.MustCompile(`\n[ \t]*\n`)

// span is a byte range of the source text carried through splitting so that
// every emitted unit keeps an accurate source offset.
type span struct {
	start int
	text  string
}

// Segment splits text into ordered units no longer than maxUnitChars runes
// each. Chapter hints take priority over paragraph boundaries; a chapter's
// heading line is excluded from the spoken units. Whitespace-only input
// yields zero units, which is not an error.
func Segment(text string, hints []Hint, maxUnitChars int) []core.TextUnit {
	if maxUnitChars <= 0 {
		maxUnitChars = DefaultMaxUnitChars
	}

	if strings.TrimSpace(text) == "" {
		return nil
	}

	var units []core.TextUnit

	if chapters := chapterSpans(text, hints); chapters != nil {
		for _, chapter := range chapters {
			units = appendSpanUnits(units, chapter.body, maxUnitChars, true)
		}

		return units
	}

	return appendSpanUnits(units, span{start: 0, text: text}, maxUnitChars, false)
}

// DetectChapters scans raw text for heading lines matching the known
// chapter patterns and returns them as chapter-start hints, ordered by
// offset. It lets callers recover structure when the extractor supplies
// none.
func DetectChapters(text string) []Hint {
	var hints []Hint

	offset := 0

	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		indent := len(line) - len(trimmed)

		for _, pattern := range chapterHeadingPatterns {
			if pattern.MatchString(strings.TrimRight(trimmed, "\r\n")) {
				hints = append(hints, Hint{
					Offset: offset + indent,
					Kind:   HintChapterStart,
				})

				break
			}
		}

		offset += len(line)
	}

	return hints
}

// chapter is one hint-delimited region: the heading line is already
// stripped from body.
type chapter struct {
	body span
}

// chapterSpans carves the text into chapters at the hinted offsets. Text
// before the first hint becomes a headingless preamble chapter. Returns nil
// when no usable hints exist.
func chapterSpans(text string, hints []Hint) []chapter {
	offsets := make([]int, 0, len(hints))

	for _, hint := range hints {
		if hint.Kind == HintChapterStart && hint.Offset >= 0 && hint.Offset < len(text) {
			offsets = append(offsets, hint.Offset)
		}
	}

	if len(offsets) == 0 {
		return nil
	}

	sort.Ints(offsets)

	var chapters []chapter

	if offsets[0] > 0 {
		chapters = append(chapters, chapter{
			body: span{start: 0, text: text[:offsets[0]]},
		})
	}

	for i, start := range offsets {
		end := len(text)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}

		body := stripHeadingLine(span{start: start, text: text[start:end]})
		chapters = append(chapters, chapter{body: body})
	}

	return chapters
}

// stripHeadingLine drops the first line of a chapter span; the heading is
// structural, not spoken.
func stripHeadingLine(s span) span {
	newline := strings.IndexByte(s.text, '\n')
	if newline < 0 {
		return span{start: s.start + len(s.text), text: ""}
	}

	return span{start: s.start + newline + 1, text: s.text[newline+1:]}
}

// appendSpanUnits splits one region by the paragraph/sentence/hard-split
// cascade and appends the resulting units. When chapterStart is true the
// first emitted unit is marked as a chapter break.
func appendSpanUnits(units []core.TextUnit, s span, maxUnitChars int, chapterStart bool) []core.TextUnit {
	first := chapterStart

	for _, paragraph := range splitParagraphs(s) {
		trimmed := trimSpan(paragraph)
		if trimmed.text == "" {
			continue
		}

		if utf8.RuneCountInString(trimmed.text) <= maxUnitChars {
			kind := core.UnitParagraph
			if first {
				kind = core.UnitChapterBreak
			}

			units = append(units, newUnit(len(units), trimmed, kind))
			first = false

			continue
		}

		for _, piece := range splitOversized(trimmed, maxUnitChars) {
			kind := core.UnitSentenceFragment
			if first {
				kind = core.UnitChapterBreak
			}

			units = append(units, newUnit(len(units), piece, kind))
			first = false
		}
	}

	return units
}

func newUnit(id int, s span, kind core.UnitKind) core.TextUnit {
	return core.TextUnit{
		ID:             id,
		SourceOffset:   s.start,
		Text:           s.text,
		Kind:           kind,
		EstimatedChars: utf8.RuneCountInString(s.text),
	}
}

// splitParagraphs divides a span at blank-line boundaries, keeping offsets.
func splitParagraphs(s span) []span {
	separators := paragraphGapPattern.FindAllStringIndex(s.text, -1)

	var paragraphs []span

	prev := 0

	for _, sep := range separators {
		paragraphs = append(paragraphs, span{
			start: s.start + prev,
			text:  s.text[prev:sep[0]],
		})
		prev = sep[1]
	}

	paragraphs = append(paragraphs, span{
		start: s.start + prev,
		text:  s.text[prev:],
	})

	return paragraphs
}

// splitOversized breaks a paragraph that exceeds the unit limit: first by
// sentence boundaries packed greedily up to the limit, then by a
// whitespace-preferring hard split for any single sentence that is still
// too long.
func splitOversized(s span, maxUnitChars int) []span {
	var pieces []span

	for _, chunk := range packSentences(s, maxUnitChars) {
		chunk = trimSpan(chunk)
		if chunk.text == "" {
			continue
		}

		if utf8.RuneCountInString(chunk.text) <= maxUnitChars {
			pieces = append(pieces, chunk)

			continue
		}

		pieces = append(pieces, hardSplit(chunk, maxUnitChars)...)
	}

	return pieces
}

// packSentences groups consecutive sentences into chunks whose combined
// source text stays within the limit. A chunk never ends inside a sentence
// unless the sentence alone exceeds the limit, in which case it is emitted
// on its own for hardSplit to handle.
func packSentences(s span, maxUnitChars int) []span {
	boundaries := sentenceBoundaries(s.text)

	var chunks []span

	chunkStart := 0
	prev := 0

	for _, boundary := range boundaries {
		candidate := s.text[chunkStart:boundary]
		if utf8.RuneCountInString(candidate) > maxUnitChars && prev > chunkStart {
			chunks = append(chunks, span{
				start: s.start + chunkStart,
				text:  s.text[chunkStart:prev],
			})
			chunkStart = prev
		}

		prev = boundary
	}

	if utf8.RuneCountInString(s.text[chunkStart:]) > maxUnitChars && prev > chunkStart {
		chunks = append(chunks, span{
			start: s.start + chunkStart,
			text:  s.text[chunkStart:prev],
		})
		chunkStart = prev
	}

	chunks = append(chunks, span{
		start: s.start + chunkStart,
		text:  s.text[chunkStart:],
	})

	return chunks
}

// sentenceBoundaries returns the byte offsets just after each
// sentence-terminal punctuation mark that is followed by whitespace or end
// of text.
func sentenceBoundaries(text string) []int {
	var boundaries []int

	for i, r := range text {
		if !isSentenceTerminal(r) {
			continue
		}

		next := i + utf8.RuneLen(r)
		if next >= len(text) {
			boundaries = append(boundaries, len(text))

			break
		}

		following, _ := utf8.DecodeRuneInString(text[next:])
		if unicode.IsSpace(following) {
			boundaries = append(boundaries, next)
		}
	}

	return boundaries
}

func isSentenceTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	default:
		return false
	}
}

// hardSplit cuts a sentence-less run of text into limit-sized pieces. The
// cut prefers the last whitespace inside the window so words stay intact;
// failing that it falls back to the rune boundary at the limit, never
// landing inside a multi-byte code point.
func hardSplit(s span, maxUnitChars int) []span {
	var pieces []span

	rest := s

	for utf8.RuneCountInString(rest.text) > maxUnitChars {
		cut := runeBoundary(rest.text, maxUnitChars)

		if ws := lastWhitespace(rest.text[:cut]); ws > 0 {
			cut = ws
		}

		piece := trimSpan(span{start: rest.start, text: rest.text[:cut]})
		if piece.text != "" {
			pieces = append(pieces, piece)
		}

		rest = span{start: rest.start + cut, text: rest.text[cut:]}
	}

	rest = trimSpan(rest)
	if rest.text != "" {
		pieces = append(pieces, rest)
	}

	return pieces
}

// runeBoundary returns the byte index after the first n runes of text.
func runeBoundary(text string, n int) int {
	count := 0

	for i := range text {
		if count == n {
			return i
		}

		count++
	}

	return len(text)
}

// lastWhitespace returns the byte index just past the last whitespace rune
// in text, or 0 when text contains none.
func lastWhitespace(text string) int {
	for i := len(text); i > 0; {
		r, size := utf8.DecodeLastRuneInString(text[:i])
		if unicode.IsSpace(r) {
			return i
		}

		i -= size
	}

	return 0
}

// trimSpan trims surrounding whitespace while keeping the start offset
// pointing at the first retained byte.
func trimSpan(s span) span {
	trimmedLeft := strings.TrimLeftFunc(s.text, unicode.IsSpace)
	s.start += len(s.text) - len(trimmedLeft)
	s.text = strings.TrimRightFunc(trimmedLeft, unicode.IsSpace)

	return s
}
