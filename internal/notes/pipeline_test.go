package notes

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsavary/classnote/internal/ai"
	"github.com/rsavary/classnote/internal/storage/sqlite"
	"github.com/rsavary/classnote/internal/transcribe"
	"github.com/rsavary/classnote/pkg/logger"
)

const validNotesJSON = `{
	"notes_markdown": "# Sorting\n\n- merge sort splits and merges",
	"summary_bullets": ["Merge sort runs in O(n log n)."],
	"web_links": [],
	"quiz": []
}`

// fakeChatProvider returns canned responses in order and counts calls
type fakeChatProvider struct {
	responses []string
	errs      []error
	calls     []fakeChatCall
}

type fakeChatCall struct {
	messages []ai.ChatMessage
	config   ai.ChatConfig
}

func (f *fakeChatProvider) ChatCompletion(_ context.Context, messages []ai.ChatMessage, config ai.ChatConfig) (string, error) {
	idx := len(f.calls)
	f.calls = append(f.calls, fakeChatCall{messages: messages, config: config})
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	if idx < len(f.responses) {
		return f.responses[idx], nil
	}
	return "", errors.New("no response configured")
}

type fakeRecordingStore struct {
	statuses []string
	failOn   string
}

func (f *fakeRecordingStore) UpdateRecordingStatus(_, status string) error {
	if f.failOn != "" && status == f.failOn {
		return errors.New("storage failure")
	}
	f.statuses = append(f.statuses, status)
	return nil
}

type fakeTranscriptStore struct {
	stored []*sqlite.TranscriptRecord
}

func (f *fakeTranscriptStore) StoreTranscript(record *sqlite.TranscriptRecord) error {
	f.stored = append(f.stored, record)
	return nil
}

type fakeNotesStore struct {
	stored []*sqlite.NotesRecord
}

func (f *fakeNotesStore) StoreNotes(record *sqlite.NotesRecord) error {
	f.stored = append(f.stored, record)
	return nil
}

type fakeTranscriber struct {
	result *transcribe.Transcription
	err    error
	calls  int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (*transcribe.Transcription, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeProgress struct {
	stages   []string
	statuses []string
}

func (f *fakeProgress) ProcessingProgress(_, stage string) {
	f.stages = append(f.stages, stage)
}

func (f *fakeProgress) RecordingStatus(_, status string) {
	f.statuses = append(f.statuses, status)
}

type pipelineFixture struct {
	pipeline    *Pipeline
	provider    *fakeChatProvider
	recordings  *fakeRecordingStore
	transcripts *fakeTranscriptStore
	notes       *fakeNotesStore
	transcriber *fakeTranscriber
	progress    *fakeProgress
	cache       *Cache
}

func newPipelineFixture(provider *fakeChatProvider, transcriber *fakeTranscriber) *pipelineFixture {
	log := logger.NewNop()
	f := &pipelineFixture{
		provider:    provider,
		recordings:  &fakeRecordingStore{},
		transcripts: &fakeTranscriptStore{},
		notes:       &fakeNotesStore{},
		transcriber: transcriber,
		progress:    &fakeProgress{},
		cache:       NewCache(log),
	}
	f.pipeline = NewPipeline(
		f.recordings, f.transcripts, f.notes, f.transcriber,
		provider, f.cache, f.progress,
		DefaultRetryPolicy(0.2),
		ai.ChatConfig{Model: "gpt-4o-mini", Temperature: 0.2, MaxTokens: 4096},
		log,
	)
	return f
}

func TestRunHappyPathWithClientTranscript(t *testing.T) {
	provider := &fakeChatProvider{responses: []string{validNotesJSON}}
	f := newPipelineFixture(provider, &fakeTranscriber{})

	err := f.pipeline.Run(context.Background(), Job{
		RecordingID: "rec-1",
		Title:       "Sorting Algorithms",
		Transcript:  "Today we cover merge sort. It splits the input in half.",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, f.transcriber.calls, "client transcript should skip the sidecar")
	assert.Equal(t, []string{sqlite.StatusProcessing, sqlite.StatusReady}, f.recordings.statuses)
	assert.Equal(t, []string{StageTranscribing, StageGenerating, StageReady}, f.progress.stages)
	assert.Equal(t, []string{sqlite.StatusProcessing, sqlite.StatusReady}, f.progress.statuses, "status changes are mirrored to live clients")

	require.Len(t, f.transcripts.stored, 1)
	assert.Equal(t, "rec-1", f.transcripts.stored[0].RecordingID)
	assert.NotEmpty(t, f.transcripts.stored[0].Paragraphs)

	require.Len(t, f.notes.stored, 1)
	assert.Contains(t, f.notes.stored[0].NotesMarkdown, "merge sort")

	cached := f.cache.Get("rec-1")
	require.NotNil(t, cached)
	assert.Len(t, cached.SummaryBullets, 1)

	require.Len(t, provider.calls, 1)
	assert.InDelta(t, 0.2, provider.calls[0].config.Temperature, 1e-9)
}

func TestRunFallsBackToSidecarTranscription(t *testing.T) {
	provider := &fakeChatProvider{responses: []string{validNotesJSON}}
	transcriber := &fakeTranscriber{
		result: &transcribe.Transcription{
			Text:       "Hello class.",
			Paragraphs: []string{"Hello class."},
			Segments:   []transcribe.Segment{{Start: 0, End: 1.5, Text: "Hello class."}},
			Metadata:   transcribe.Metadata{Language: "en"},
		},
	}
	f := newPipelineFixture(provider, transcriber)

	err := f.pipeline.Run(context.Background(), Job{
		RecordingID: "rec-2",
		Title:       "Week 1",
		Audio:       []byte("webm-bytes"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, transcriber.calls)
	require.Len(t, f.transcripts.stored, 1)
	assert.Equal(t, "en", f.transcripts.stored[0].Language)
	require.Len(t, f.transcripts.stored[0].Segments, 1)
	assert.Equal(t, 1.5, f.transcripts.stored[0].Segments[0].End)
}

func TestRunFlagsRecordingWhenTranscriptionFails(t *testing.T) {
	provider := &fakeChatProvider{}
	transcriber := &fakeTranscriber{err: transcribe.ErrTransport}
	f := newPipelineFixture(provider, transcriber)

	err := f.pipeline.Run(context.Background(), Job{
		RecordingID: "rec-3",
		Title:       "Week 2",
		Audio:       []byte("webm-bytes"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, transcribe.ErrTransport)

	assert.Equal(t, []string{sqlite.StatusProcessing, sqlite.StatusFlagged}, f.recordings.statuses)
	assert.Equal(t, []string{StageTranscribing, StageFlagged}, f.progress.stages)
	assert.Empty(t, provider.calls, "no generation should run without a transcript")
	assert.Empty(t, f.notes.stored)
}

func TestGenerateRetriesOnceOnParseFailure(t *testing.T) {
	provider := &fakeChatProvider{responses: []string{"I cannot produce JSON, sorry.", validNotesJSON}}
	f := newPipelineFixture(provider, &fakeTranscriber{})

	err := f.pipeline.Run(context.Background(), Job{
		RecordingID: "rec-4",
		Title:       "Graphs",
		Transcript:  "Breadth-first search visits neighbors level by level.",
	})
	require.NoError(t, err)

	require.Len(t, provider.calls, 2)

	first := provider.calls[0]
	assert.InDelta(t, 0.2, first.config.Temperature, 1e-9)
	assert.False(t, strings.Contains(first.messages[1].Content, "Return ONLY valid JSON"))

	second := provider.calls[1]
	assert.Zero(t, second.config.Temperature)
	assert.True(t, strings.HasSuffix(second.messages[1].Content, "Return ONLY valid JSON. No explanations."))
	assert.Equal(t, first.messages[0].Content, second.messages[0].Content, "system prompt is unchanged on retry")

	assert.Equal(t, []string{sqlite.StatusProcessing, sqlite.StatusReady}, f.recordings.statuses)
}

func TestGenerateFailsAfterSecondParseFailure(t *testing.T) {
	provider := &fakeChatProvider{responses: []string{"still not json", "nope"}}
	f := newPipelineFixture(provider, &fakeTranscriber{})

	err := f.pipeline.Run(context.Background(), Job{
		RecordingID: "rec-5",
		Title:       "Graphs",
		Transcript:  "Depth-first search uses a stack.",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotesGenerationFailed)
	assert.True(t, IsGenerationFailure(err))

	assert.Len(t, provider.calls, 2, "exactly one retry on parse failure")
	assert.Empty(t, f.notes.stored)
	assert.Nil(t, f.cache.Get("rec-5"))
	assert.Equal(t, []string{sqlite.StatusProcessing}, f.recordings.statuses, "recording stays in processing for manual retry")
	assert.Equal(t, []string{StageTranscribing, StageGenerating, StageFailed}, f.progress.stages)
}

func TestGenerateTransportErrorSurfacesWithoutRetry(t *testing.T) {
	transportErr := errors.New("connection refused")
	provider := &fakeChatProvider{errs: []error{transportErr}}
	f := newPipelineFixture(provider, &fakeTranscriber{})

	err := f.pipeline.Run(context.Background(), Job{
		RecordingID: "rec-6",
		Title:       "Graphs",
		Transcript:  "Dijkstra relaxes edges.",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, transportErr)
	assert.False(t, IsGenerationFailure(err))

	assert.Len(t, provider.calls, 1, "transport errors must not consume retry attempts")
	assert.Empty(t, f.notes.stored)
}

func TestNotesRecordRoundTrip(t *testing.T) {
	payload := &NotesPayload{
		NotesMarkdown:  "# Heap\n\nA heap is a tree.",
		SummaryBullets: []string{"Heaps support O(log n) inserts."},
		WebLinks:       []WebLink{{Title: "Heaps", URL: "https://example.com/heaps"}},
		Quiz: []QuizQuestion{{
			Question: "What is the root of a min-heap?",
			Options:  map[string]string{"A": "The minimum", "B": "The maximum", "C": "Random", "D": "The median"},
			Answer:   "A",
		}},
	}

	record, err := notesToRecord("rec-7", payload)
	require.NoError(t, err)
	assert.Equal(t, "rec-7", record.RecordingID)
	assert.JSONEq(t, `["Heaps support O(log n) inserts."]`, record.SummaryBullets)

	restored, err := RecordToPayload(record)
	require.NoError(t, err)
	assert.Equal(t, payload.NotesMarkdown, restored.NotesMarkdown)
	assert.Equal(t, payload.WebLinks, restored.WebLinks)
	require.Len(t, restored.Quiz, 1)
	assert.Equal(t, "A", restored.Quiz[0].Answer)
}

func TestCacheOperations(t *testing.T) {
	cache := NewCache(logger.NewNop())
	assert.Nil(t, cache.Get("missing"))

	payload := &NotesPayload{NotesMarkdown: "# Notes"}
	cache.Set("rec-8", payload)
	assert.Same(t, payload, cache.Get("rec-8"))
	assert.Equal(t, 1, cache.Len())

	cache.Delete("rec-8")
	assert.Nil(t, cache.Get("rec-8"))
	assert.Equal(t, 0, cache.Len())
}
