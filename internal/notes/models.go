// Package notes turns lecture transcripts into structured study notes
// through an LLM, with a bounded retry on malformed output, and serves
// per-transcript enhancement requests.
package notes

import (
	"errors"
)

// Package errors
var (
	ErrInvalidNotesJSON      = errors.New("model returned invalid notes JSON")
	ErrNotesGenerationFailed = errors.New("notes generation failed")
	ErrUnknownEnhancement    = errors.New("unknown enhancement type")
)

// WebLink is a suggested further-reading link
type WebLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// QuizQuestion is a multiple-choice question generated from the lecture
type QuizQuestion struct {
	Question    string            `json:"question"`
	Options     map[string]string `json:"options"`
	Answer      string            `json:"answer"`
	Explanation string            `json:"explanation,omitempty"`
}

// NotesPayload is the canonical structured-notes document the model
// must return
type NotesPayload struct {
	NotesMarkdown  string         `json:"notes_markdown"`
	SummaryBullets []string       `json:"summary_bullets"`
	WebLinks       []WebLink      `json:"web_links,omitempty"`
	Quiz           []QuizQuestion `json:"quiz,omitempty"`
}

// EnhancementType selects one of the fixed transcript enhancement modes
type EnhancementType string

// Enhancement types
const (
	EnhanceCleanup    EnhancementType = "enhance"
	EnhanceSummarize  EnhancementType = "summarize"
	EnhanceKeyPoints  EnhancementType = "key-points"
	EnhanceStudyGuide EnhancementType = "study-guide"
	EnhanceQuiz       EnhancementType = "quiz"
)

// ParseEnhancementType validates a client-supplied enhancement type
// before anything touches the network
func ParseEnhancementType(s string) (EnhancementType, error) {
	switch EnhancementType(s) {
	case EnhanceCleanup, EnhanceSummarize, EnhanceKeyPoints, EnhanceStudyGuide, EnhanceQuiz:
		return EnhancementType(s), nil
	}
	return "", ErrUnknownEnhancement
}
