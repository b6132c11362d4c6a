package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsavary/classnote/pkg/logger"
)

func newTestStorage(t *testing.T) (*RecordingStorage, *TranscriptStorage, *NotesStorage) {
	t.Helper()

	log := logger.NewNop()
	dbPath := filepath.Join(t.TempDir(), "classnote.db")

	recordings, err := NewRecordingStorage(dbPath, log)
	require.NoError(t, err)
	t.Cleanup(func() { recordings.Close() })

	transcripts := NewTranscriptStorage(recordings.GetDB(), log)
	notes := NewNotesStorage(recordings.GetDB(), log)
	return recordings, transcripts, notes
}

func newStoredRecording(t *testing.T, recordings *RecordingStorage, id, status string) *RecordingRecord {
	t.Helper()
	record := &RecordingRecord{
		ID:        id,
		Title:     "Untitled lecture",
		Course:    "CS101",
		Status:    status,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, recordings.CreateRecording(record))
	return record
}

func TestRecordingLifecycle(t *testing.T) {
	recordings, _, _ := newTestStorage(t)

	newStoredRecording(t, recordings, "rec-1", StatusRecording)

	got, err := recordings.GetRecordingByID("rec-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Untitled lecture", got.Title)
	assert.Equal(t, StatusRecording, got.Status)
	assert.Empty(t, got.DurationLabel)

	require.NoError(t, recordings.FinalizeRecording("rec-1", "Sorting Lecture", "42:07"))
	got, err = recordings.GetRecordingByID("rec-1")
	require.NoError(t, err)
	assert.Equal(t, "Sorting Lecture", got.Title)
	assert.Equal(t, "42:07", got.DurationLabel)

	require.NoError(t, recordings.UpdateRecordingStatus("rec-1", StatusReady))
	got, _ = recordings.GetRecordingByID("rec-1")
	assert.Equal(t, StatusReady, got.Status)
}

func TestGetRecordingByIDMissing(t *testing.T) {
	recordings, _, _ := newTestStorage(t)
	got, err := recordings.GetRecordingByID("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateStatusUnknownRecordingFails(t *testing.T) {
	recordings, _, _ := newTestStorage(t)
	err := recordings.UpdateRecordingStatus("nope", StatusReady)
	assert.Error(t, err)
}

func TestListRecordingsPaginationAndStatusFilter(t *testing.T) {
	recordings, _, _ := newTestStorage(t)

	for i, status := range []string{StatusReady, StatusReady, StatusFlagged} {
		newStoredRecording(t, recordings, "rec-"+string(rune('a'+i)), status)
	}

	all, err := recordings.GetRecordings(10, 0, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	ready, err := recordings.GetRecordings(10, 0, StatusReady)
	require.NoError(t, err)
	assert.Len(t, ready, 2)

	count, err := recordings.CountRecordings(StatusFlagged)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	page, err := recordings.GetRecordings(2, 2, "")
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestTranscriptRoundTrip(t *testing.T) {
	recordings, transcripts, _ := newTestStorage(t)
	newStoredRecording(t, recordings, "rec-1", StatusProcessing)

	record := &TranscriptRecord{
		RecordingID: "rec-1",
		Text:        "Hello class. Today we cover heaps.",
		Paragraphs:  []string{"Hello class. Today we cover heaps."},
		Segments:    []TranscriptSegment{{Start: 0, End: 3.2, Text: "Hello class."}},
		Language:    "en",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, transcripts.StoreTranscript(record))

	got, err := transcripts.GetTranscript("rec-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record.Text, got.Text)
	assert.Equal(t, record.Paragraphs, got.Paragraphs)
	require.Len(t, got.Segments, 1)
	assert.Equal(t, 3.2, got.Segments[0].End)
	assert.Equal(t, "en", got.Language)

	// Storing again replaces the transcript
	record.Text = "Updated text."
	require.NoError(t, transcripts.StoreTranscript(record))
	got, _ = transcripts.GetTranscript("rec-1")
	assert.Equal(t, "Updated text.", got.Text)
}

func TestGetTranscriptMissing(t *testing.T) {
	_, transcripts, _ := newTestStorage(t)
	got, err := transcripts.GetTranscript("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLiveTranscriptUpsert(t *testing.T) {
	recordings, transcripts, _ := newTestStorage(t)
	newStoredRecording(t, recordings, "rec-1", StatusRecording)

	text, err := transcripts.GetLiveTranscript("rec-1")
	require.NoError(t, err)
	assert.Empty(t, text)

	require.NoError(t, transcripts.SaveLiveTranscript("rec-1", "Hello "))
	require.NoError(t, transcripts.SaveLiveTranscript("rec-1", "Hello world "))

	text, err = transcripts.GetLiveTranscript("rec-1")
	require.NoError(t, err)
	assert.Equal(t, "Hello world ", text)
}

func TestNotesAndEnhancements(t *testing.T) {
	recordings, _, notes := newTestStorage(t)
	newStoredRecording(t, recordings, "rec-1", StatusProcessing)

	record := &NotesRecord{
		RecordingID:    "rec-1",
		SummaryBullets: `["point one"]`,
		NotesMarkdown:  "# Lecture",
		WebLinks:       `[]`,
		Quiz:           `[]`,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, notes.StoreNotes(record))

	got, err := notes.GetNotes("rec-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "# Lecture", got.NotesMarkdown)

	missing, err := notes.GetNotes("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	id1, err := notes.StoreEnhancement(&EnhancementRecord{
		RecordingID: "rec-1",
		Type:        "summarize",
		InputText:   "in",
		OutputText:  "out",
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Positive(t, id1)

	id2, err := notes.StoreEnhancement(&EnhancementRecord{
		RecordingID: "rec-1",
		Type:        "quiz",
		InputText:   "in",
		OutputText:  "quiz out",
		CreatedAt:   time.Now().UTC().Add(time.Second),
	})
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	enhancements, err := notes.GetEnhancements("rec-1")
	require.NoError(t, err)
	require.Len(t, enhancements, 2)
}

func TestDeleteRecordingCascades(t *testing.T) {
	recordings, transcripts, notes := newTestStorage(t)
	newStoredRecording(t, recordings, "rec-1", StatusReady)

	require.NoError(t, transcripts.StoreTranscript(&TranscriptRecord{
		RecordingID: "rec-1",
		Text:        "text",
		CreatedAt:   time.Now().UTC(),
	}))
	require.NoError(t, transcripts.SaveLiveTranscript("rec-1", "live"))
	require.NoError(t, notes.StoreNotes(&NotesRecord{
		RecordingID:   "rec-1",
		NotesMarkdown: "# Notes",
		CreatedAt:     time.Now().UTC(),
	}))
	_, err := notes.StoreEnhancement(&EnhancementRecord{
		RecordingID: "rec-1",
		Type:        "enhance",
		OutputText:  "out",
		CreatedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, recordings.DeleteRecording("rec-1"))

	record, err := recordings.GetRecordingByID("rec-1")
	require.NoError(t, err)
	assert.Nil(t, record)

	transcript, err := transcripts.GetTranscript("rec-1")
	require.NoError(t, err)
	assert.Nil(t, transcript)

	live, err := transcripts.GetLiveTranscript("rec-1")
	require.NoError(t, err)
	assert.Empty(t, live)

	stored, err := notes.GetNotes("rec-1")
	require.NoError(t, err)
	assert.Nil(t, stored)

	enhancements, err := notes.GetEnhancements("rec-1")
	require.NoError(t, err)
	assert.Empty(t, enhancements)
}
