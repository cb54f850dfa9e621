// Package textnorm_test tests the text normalization pipeline.
package textnorm_test

import (
	"testing"

	"github.com/book-expert/audiobook-engine/internal/textnorm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type normalizeTestCase struct {
	name     string
	input    string
	expected string
}

func runNormalizeTests(t *testing.T, tests []normalizeTestCase) {
	t.Helper()

	normalizer := textnorm.New()

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			result := normalizer.Normalize(testCase.input)
			assert.Equal(t, testCase.expected, result)
		})
	}
}

func TestNormalize_EmptyInput(t *testing.T) {
	t.Parallel()

	normalizer := textnorm.New()

	require.Empty(t, normalizer.Normalize(""))
}

func TestNormalize_AbbreviationsAndTypography(t *testing.T) {
	t.Parallel()

	tests := []normalizeTestCase{
		{
			name:     "mister expansion",
			input:    "Mr. Smith arrived.",
			expected: "Mister Smith arrived.",
		},
		{
			name:     "doctor expansion",
			input:    "Dr. Jones spoke.",
			expected: "Doctor Jones spoke.",
		},
		{
			name:     "smart quotes",
			input:    "She said “hello” to him.",
			expected: `She said "hello" to him.`,
		},
		{
			name:     "em dash and ellipsis",
			input:    "Wait—what… now?",
			expected: "Wait-what... now?",
		},
	}

	runNormalizeTests(t, tests)
}

func TestNormalize_FootnotesAndCitations(t *testing.T) {
	t.Parallel()

	tests := []normalizeTestCase{
		{
			name:     "bracketed footnote removed",
			input:    "The claim[12] was repeated.",
			expected: "The claim was repeated.",
		},
		{
			name:     "superscript footnote removed",
			input:    "A result¹ stands.",
			expected: "A result stands.",
		},
		{
			name:     "year citation removed",
			input:    "It was shown (Smith 1999) earlier.",
			expected: "It was shown earlier.",
		},
	}

	runNormalizeTests(t, tests)
}

func TestNormalize_ParagraphStructurePreserved(t *testing.T) {
	t.Parallel()

	normalizer := textnorm.New()

	input := "First  line\ncontinues here.\n\n\nSecond\tparagraph.\n\n   \n\nThird."
	expected := "First line continues here.\n\nSecond paragraph.\n\nThird."

	require.Equal(t, expected, normalizer.Normalize(input))
}

func TestNormalize_URLsSurviveCleanup(t *testing.T) {
	t.Parallel()

	normalizer := textnorm.New()

	input := "Visit https://example.com/a—b for details."
	result := normalizer.Normalize(input)

	assert.Contains(t, result, "https://example.com/a—b")
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	normalizer := textnorm.New()

	input := "One  two.\n\nThree[4] four — five.\n\n\nSix."
	once := normalizer.Normalize(input)
	twice := normalizer.Normalize(once)

	require.Equal(t, once, twice)
}

func TestSpellOutNumbers(t *testing.T) {
	t.Parallel()

	normalizer := textnorm.New()

	tests := []normalizeTestCase{
		{name: "zero", input: "0", expected: "zero"},
		{name: "teens", input: "17", expected: "seventeen"},
		{name: "compound", input: "42", expected: "forty two"},
		{name: "hundreds", input: "305", expected: "three hundred five"},
		{
			name:     "thousands",
			input:    "12345",
			expected: "twelve thousand three hundred forty five",
		},
		{name: "too large stays digits", input: "1000000", expected: "1000000"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, normalizer.SpellOutNumbers(testCase.input))
		})
	}
}

func TestEnsureSentenceEnding(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Hello.", textnorm.EnsureSentenceEnding("Hello"))
	assert.Equal(t, "Hello!", textnorm.EnsureSentenceEnding("Hello!"))
	assert.Equal(t, "Done,", textnorm.EnsureSentenceEnding("Done,"))
	assert.Empty(t, textnorm.EnsureSentenceEnding("   "))
}
