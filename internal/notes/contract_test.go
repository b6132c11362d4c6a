package notes

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsavary/classnote/internal/ai"
	"github.com/rsavary/classnote/internal/storage/sqlite"
	"github.com/rsavary/classnote/pkg/logger"
)

func TestParseNotesAcceptsBareJSON(t *testing.T) {
	payload, err := ParseNotes(`{"notes_markdown": "# Notes", "summary_bullets": ["one"]}`)
	require.NoError(t, err)
	assert.Equal(t, "# Notes", payload.NotesMarkdown)
	assert.Equal(t, []string{"one"}, payload.SummaryBullets)
}

func TestParseNotesStripsCodeFences(t *testing.T) {
	raw := "Here are your notes:\n```json\n{\"notes_markdown\": \"# Notes\", \"summary_bullets\": [\"one\"]}\n```\nEnjoy!"
	payload, err := ParseNotes(raw)
	require.NoError(t, err)
	assert.Equal(t, "# Notes", payload.NotesMarkdown)
}

func TestParseNotesRejectsNonJSON(t *testing.T) {
	_, err := ParseNotes("I am unable to help with that.")
	assert.ErrorIs(t, err, ErrInvalidNotesJSON)
}

func TestParseNotesRejectsMalformedJSON(t *testing.T) {
	_, err := ParseNotes(`{"notes_markdown": "# Notes", "summary_bullets": [`)
	assert.ErrorIs(t, err, ErrInvalidNotesJSON)
}

func TestParseNotesRejectsEmptyDocument(t *testing.T) {
	_, err := ParseNotes(`{"web_links": []}`)
	assert.ErrorIs(t, err, ErrInvalidNotesJSON)
}

func TestBuildNotesPromptIncludesTitleAndTranscript(t *testing.T) {
	system, user := BuildNotesPrompt("Linear Algebra", "Vectors have magnitude and direction.")
	assert.Contains(t, system, "notes_markdown")
	assert.Contains(t, user, "Lecture title: Linear Algebra")
	assert.Contains(t, user, "Vectors have magnitude and direction.")
}

func TestParseEnhancementType(t *testing.T) {
	for _, valid := range []string{"enhance", "summarize", "key-points", "study-guide", "quiz"} {
		kind, err := ParseEnhancementType(valid)
		require.NoError(t, err, valid)
		assert.Equal(t, EnhancementType(valid), kind)
	}

	_, err := ParseEnhancementType("translate")
	assert.ErrorIs(t, err, ErrUnknownEnhancement)
}

func TestPromptForEachTypeIsDistinct(t *testing.T) {
	seen := map[string]EnhancementType{}
	for _, kind := range []EnhancementType{EnhanceCleanup, EnhanceSummarize, EnhanceKeyPoints, EnhanceStudyGuide, EnhanceQuiz} {
		system, user, err := PromptFor(kind, "Intro", "transcript text")
		require.NoError(t, err)
		require.NotEmpty(t, system)
		assert.Contains(t, user, "transcript text")
		if prev, dup := seen[system]; dup {
			t.Fatalf("types %s and %s share a system prompt", prev, kind)
		}
		seen[system] = kind
	}
}

func TestDefaultRetryPolicyShape(t *testing.T) {
	policy := DefaultRetryPolicy(0.2)
	require.Equal(t, 2, policy.MaxAttempts)

	first := policy.Build(0, "Title", "transcript")
	assert.InDelta(t, 0.2, first.Temperature, 1e-9)
	assert.False(t, strings.Contains(first.User, "Return ONLY valid JSON"))

	second := policy.Build(1, "Title", "transcript")
	assert.Zero(t, second.Temperature)
	assert.True(t, strings.HasSuffix(second.User, "Return ONLY valid JSON. No explanations."))
	assert.Equal(t, first.System, second.System)
}

type fakeEnhancementStore struct {
	stored []*sqlite.EnhancementRecord
}

func (f *fakeEnhancementStore) StoreEnhancement(record *sqlite.EnhancementRecord) (int64, error) {
	f.stored = append(f.stored, record)
	return int64(len(f.stored)), nil
}

func TestEnhancerRunStoresResult(t *testing.T) {
	provider := &fakeChatProvider{responses: []string{"## Key Points\n- one\n- two"}}
	store := &fakeEnhancementStore{}
	enhancer := NewEnhancer(provider, store, ai.ChatConfig{Model: "gpt-4o-mini", Temperature: 0.3}, logger.NewNop())

	out, err := enhancer.Run(context.Background(), "rec-9", "key-points", "Trees", "A tree is an acyclic graph.")
	require.NoError(t, err)
	assert.Contains(t, out, "Key Points")

	require.Len(t, store.stored, 1)
	assert.Equal(t, "rec-9", store.stored[0].RecordingID)
	assert.Equal(t, "key-points", store.stored[0].Type)
	assert.Equal(t, "A tree is an acyclic graph.", store.stored[0].InputText)
	assert.Equal(t, out, store.stored[0].OutputText)

	require.Len(t, provider.calls, 1)
	assert.InDelta(t, 0.3, provider.calls[0].config.Temperature, 1e-9)
}

func TestEnhancerRejectsUnknownTypeBeforeProviderCall(t *testing.T) {
	provider := &fakeChatProvider{}
	store := &fakeEnhancementStore{}
	enhancer := NewEnhancer(provider, store, ai.ChatConfig{}, logger.NewNop())

	_, err := enhancer.Run(context.Background(), "rec-10", "translate", "Trees", "text")
	assert.ErrorIs(t, err, ErrUnknownEnhancement)
	assert.Empty(t, provider.calls)
	assert.Empty(t, store.stored)
}
