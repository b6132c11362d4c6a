package transcribe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParagraphizeGroupsSentences(t *testing.T) {
	text := "First. Second. Third. Fourth. Fifth. Sixth."
	assert.Equal(t, []string{
		"First. Second. Third. Fourth.",
		"Fifth. Sixth.",
	}, Paragraphize(text))
}

func TestParagraphizeNormalizesSpacingBeforePunctuation(t *testing.T) {
	paragraphs := Paragraphize("Hello , world . Next sentence !")
	assert.Equal(t, []string{"Hello, world. Next sentence!"}, paragraphs)
}

func TestParagraphizeKeepsPunctuationRuns(t *testing.T) {
	paragraphs := Paragraphize("Really?! Yes... Absolutely. Fine.")
	assert.Equal(t, []string{"Really?! Yes... Absolutely. Fine."}, paragraphs)
}

func TestParagraphizeHandlesTextWithoutTerminators(t *testing.T) {
	paragraphs := Paragraphize("a running transcript with no punctuation yet")
	assert.Equal(t, []string{"a running transcript with no punctuation yet"}, paragraphs)
}

func TestParagraphizeEmptyInput(t *testing.T) {
	assert.Nil(t, Paragraphize(""))
	assert.Nil(t, Paragraphize("   \n\t"))
}
