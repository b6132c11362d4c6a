package notes

import (
	"encoding/json"
	"fmt"
	"strings"
)

const notesSystemPrompt = `You are an expert academic note-taker. You receive the raw transcript of a recorded lecture and produce structured study notes.

Respond with a single JSON object of exactly this shape:
{
  "notes_markdown": "full lecture notes in Markdown with headings and bullet points",
  "summary_bullets": ["3 to 6 one-sentence takeaways"],
  "web_links": [{"title": "resource name", "url": "https://..."}],
  "quiz": [{"question": "...", "options": {"A": "...", "B": "...", "C": "...", "D": "..."}, "answer": "A", "explanation": "..."}]
}

Rules:
- notes_markdown and summary_bullets are required; web_links and quiz may be empty arrays.
- Base everything strictly on the transcript. Do not invent material that was not covered.
- The quiz should have 3 to 5 questions with exactly four options each.`

// strictJSONSuffix is appended to the user prompt on the single retry
// after the model returns something that does not parse
const strictJSONSuffix = "Return ONLY valid JSON. No explanations."

// BuildNotesPrompt returns the fixed system/user prompt pair for
// structured notes generation
func BuildNotesPrompt(title, transcript string) (system, user string) {
	user = fmt.Sprintf("Lecture title: %s\n\nTranscript:\n%s", title, transcript)
	return notesSystemPrompt, user
}

// ParseNotes extracts and validates the structured notes document from
// a model response. Models wrap JSON in prose and code fences often
// enough that everything outside the outermost braces is discarded
// before unmarshaling.
func ParseNotes(raw string) (*NotesPayload, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrInvalidNotesJSON)
	}

	var payload NotesPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotesJSON, err)
	}

	if payload.NotesMarkdown == "" && len(payload.SummaryBullets) == 0 {
		return nil, fmt.Errorf("%w: required fields missing", ErrInvalidNotesJSON)
	}

	return &payload, nil
}

// Fixed prompt pairs per enhancement type. The transcript itself is
// supplied through the user prompt.
var enhancementPrompts = map[EnhancementType]string{
	EnhanceCleanup:    "You are an expert note-taking assistant. Rewrite the lecture transcript into polished, well-structured notes in Markdown. Fix grammar, remove filler words and false starts, and keep every piece of factual content.",
	EnhanceSummarize:  "You are an expert academic summarizer. Write a concise summary of the lecture transcript in two or three short paragraphs a student could review in under a minute.",
	EnhanceKeyPoints:  "You are an expert academic assistant. Extract the key points of the lecture transcript as a flat Markdown bullet list, one point per line, most important first.",
	EnhanceStudyGuide: "You are an expert study coach. Turn the lecture transcript into a study guide in Markdown with topic sections, key definitions, and a short list of review questions at the end.",
	EnhanceQuiz:       "You are an expert quiz writer. Write a five-question multiple-choice quiz in Markdown based on the lecture transcript. Give four options per question and list the correct answers at the end.",
}

// PromptFor returns the fixed prompt pair for an enhancement type.
// An unknown type fails validation here, before any provider call.
func PromptFor(t EnhancementType, title, text string) (system, user string, err error) {
	system, ok := enhancementPrompts[t]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownEnhancement, t)
	}
	user = fmt.Sprintf("Lecture title: %s\n\nTranscript:\n%s", title, text)
	return system, user, nil
}
