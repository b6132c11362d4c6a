package transcribe

import (
	"regexp"
	"strings"
)

const sentencesPerParagraph = 4

var spaceBeforePunct = regexp.MustCompile(`\s+([.!?,;:])`)

// Paragraphize splits flat transcript text into readable paragraphs.
// Spacing before punctuation is normalized, the text is split into
// sentences, and sentences are grouped four to a paragraph.
func Paragraphize(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	text = spaceBeforePunct.ReplaceAllString(text, "$1")

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return []string{text}
	}

	var paragraphs []string
	for i := 0; i < len(sentences); i += sentencesPerParagraph {
		end := i + sentencesPerParagraph
		if end > len(sentences) {
			end = len(sentences)
		}
		paragraphs = append(paragraphs, strings.Join(sentences[i:end], " "))
	}

	return paragraphs
}

// splitSentences breaks text at whitespace following sentence-ending
// punctuation, keeping the punctuation with its sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		// Consume runs of terminal punctuation ("?!", "...")
		j := i
		for j+1 < len(runes) && (runes[j+1] == '.' || runes[j+1] == '!' || runes[j+1] == '?') {
			j++
		}
		if j+1 >= len(runes) || runes[j+1] == ' ' || runes[j+1] == '\n' || runes[j+1] == '\t' {
			sentence := strings.TrimSpace(string(runes[start : j+1]))
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			start = j + 1
		}
		i = j
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}

	return sentences
}
