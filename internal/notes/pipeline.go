package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rsavary/classnote/internal/ai"
	"github.com/rsavary/classnote/internal/storage/sqlite"
	"github.com/rsavary/classnote/internal/transcribe"
	"github.com/rsavary/classnote/pkg/logger"
)

// Pipeline stage names broadcast to clients
const (
	StageTranscribing = "transcribing"
	StageGenerating   = "generating"
	StageReady        = "ready"
	StageFlagged      = "flagged"
	StageFailed       = "failed"
)

// RecordingStore is the slice of recording storage the pipeline needs
type RecordingStore interface {
	UpdateRecordingStatus(id, status string) error
}

// TranscriptStore persists completed transcripts
type TranscriptStore interface {
	StoreTranscript(record *sqlite.TranscriptRecord) error
}

// NotesStore persists generated notes
type NotesStore interface {
	StoreNotes(record *sqlite.NotesRecord) error
}

// Transcriber converts an audio blob into a transcript
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (*transcribe.Transcription, error)
}

// ProgressSink receives pipeline stage transitions and status changes
// for live clients. Implementations must not block.
type ProgressSink interface {
	ProcessingProgress(recordingID, stage string)
	RecordingStatus(recordingID, status string)
}

// Job is one recording queued for processing. Transcript may be
// pre-filled from a client-side transcription, in which case the
// sidecar is skipped.
type Job struct {
	RecordingID string
	Title       string
	Transcript  string
	Audio       []byte
}

// Pipeline runs the full post-recording flow: transcription fallback,
// structured notes generation with a bounded retry, and persistence.
type Pipeline struct {
	recordings  RecordingStore
	transcripts TranscriptStore
	notes       NotesStore
	transcriber Transcriber
	provider    ai.ChatProvider
	cache       *Cache
	progress    ProgressSink
	policy      RetryPolicy
	chatCfg     ai.ChatConfig
	logger      *logger.Logger
}

// NewPipeline creates a processing pipeline. The progress sink may be
// nil when no live clients need stage updates.
func NewPipeline(
	recordings RecordingStore,
	transcripts TranscriptStore,
	notesStore NotesStore,
	transcriber Transcriber,
	provider ai.ChatProvider,
	cache *Cache,
	progress ProgressSink,
	policy RetryPolicy,
	chatCfg ai.ChatConfig,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		recordings:  recordings,
		transcripts: transcripts,
		notes:       notesStore,
		transcriber: transcriber,
		provider:    provider,
		cache:       cache,
		progress:    progress,
		policy:      policy,
		chatCfg:     chatCfg,
		logger:      log.Named("notes-pipeline"),
	}
}

// Run processes one recording end to end. Stages run in a fixed order
// and each stage's result is persisted before the next begins, so a
// failure partway through never leaves later artifacts without
// earlier ones.
func (p *Pipeline) Run(ctx context.Context, job Job) error {
	p.logger.Info("Processing recording",
		logger.String("recording_id", job.RecordingID),
		logger.String("title", job.Title),
		logger.Bool("has_transcript", job.Transcript != ""),
		logger.Int("audio_bytes", len(job.Audio)))

	if err := p.setStatus(job.RecordingID, sqlite.StatusProcessing); err != nil {
		return fmt.Errorf("failed to mark recording as processing: %w", err)
	}
	p.report(job.RecordingID, StageTranscribing)

	transcript, err := p.ensureTranscript(ctx, job)
	if err != nil {
		p.logger.Error("Transcription failed, flagging recording",
			logger.String("recording_id", job.RecordingID),
			logger.Error(err))
		if flagErr := p.setStatus(job.RecordingID, sqlite.StatusFlagged); flagErr != nil {
			p.logger.Error("Failed to flag recording",
				logger.String("recording_id", job.RecordingID),
				logger.Error(flagErr))
		}
		p.report(job.RecordingID, StageFlagged)
		return err
	}

	if err := p.transcripts.StoreTranscript(transcript); err != nil {
		return fmt.Errorf("failed to store transcript: %w", err)
	}

	p.report(job.RecordingID, StageGenerating)
	payload, err := p.generate(ctx, job.Title, transcript.Text)
	if err != nil {
		p.report(job.RecordingID, StageFailed)
		return err
	}

	record, err := notesToRecord(job.RecordingID, payload)
	if err != nil {
		return err
	}
	if err := p.notes.StoreNotes(record); err != nil {
		return fmt.Errorf("failed to store notes: %w", err)
	}
	p.cache.Set(job.RecordingID, payload)

	if err := p.setStatus(job.RecordingID, sqlite.StatusReady); err != nil {
		return fmt.Errorf("failed to mark recording as ready: %w", err)
	}
	p.report(job.RecordingID, StageReady)

	p.logger.Info("Recording processed",
		logger.String("recording_id", job.RecordingID),
		logger.Int("summary_bullets", len(payload.SummaryBullets)),
		logger.Int("quiz_questions", len(payload.Quiz)))
	return nil
}

// ensureTranscript uses the client-supplied transcript when present
// and falls back to the sidecar otherwise.
func (p *Pipeline) ensureTranscript(ctx context.Context, job Job) (*sqlite.TranscriptRecord, error) {
	if job.Transcript != "" {
		return &sqlite.TranscriptRecord{
			RecordingID: job.RecordingID,
			Text:        job.Transcript,
			Paragraphs:  transcribe.Paragraphize(job.Transcript),
			CreatedAt:   time.Now().UTC(),
		}, nil
	}

	result, err := p.transcriber.Transcribe(ctx, job.Audio, "recording.webm")
	if err != nil {
		return nil, err
	}

	segments := make([]sqlite.TranscriptSegment, 0, len(result.Segments))
	for _, seg := range result.Segments {
		segments = append(segments, sqlite.TranscriptSegment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}

	return &sqlite.TranscriptRecord{
		RecordingID: job.RecordingID,
		Text:        result.Text,
		Paragraphs:  result.Paragraphs,
		Segments:    segments,
		Language:    result.Metadata.Language,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// generate runs the retry policy against the provider. Transport
// errors surface immediately; only a malformed response consumes
// another attempt.
func (p *Pipeline) generate(ctx context.Context, title, transcript string) (*NotesPayload, error) {
	var lastParseErr error

	for attempt := 0; attempt < p.policy.MaxAttempts; attempt++ {
		req := p.policy.Build(attempt, title, transcript)

		messages := []ai.ChatMessage{
			{Role: ai.RoleSystem, Content: req.System},
			{Role: ai.RoleUser, Content: req.User},
		}
		cfg := ai.ChatConfig{
			Model:       p.chatCfg.Model,
			Temperature: req.Temperature,
			MaxTokens:   p.chatCfg.MaxTokens,
		}

		raw, err := p.provider.ChatCompletion(ctx, messages, cfg)
		if err != nil {
			return nil, fmt.Errorf("notes generation request failed: %w", err)
		}

		payload, parseErr := ParseNotes(raw)
		if parseErr == nil {
			return payload, nil
		}

		lastParseErr = parseErr
		p.logger.Warn("Model returned unparseable notes",
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", p.policy.MaxAttempts),
			logger.Error(parseErr))
	}

	return nil, fmt.Errorf("%w: %v", ErrNotesGenerationFailed, lastParseErr)
}

// IsGenerationFailure reports whether an error is the terminal
// malformed-output failure rather than a transport problem.
func IsGenerationFailure(err error) bool {
	return errors.Is(err, ErrNotesGenerationFailed)
}

// setStatus persists a status change and mirrors it to live clients
func (p *Pipeline) setStatus(recordingID, status string) error {
	if err := p.recordings.UpdateRecordingStatus(recordingID, status); err != nil {
		return err
	}
	if p.progress != nil {
		p.progress.RecordingStatus(recordingID, status)
	}
	return nil
}

func (p *Pipeline) report(recordingID, stage string) {
	if p.progress == nil {
		return
	}
	p.progress.ProcessingProgress(recordingID, stage)
}

func notesToRecord(recordingID string, payload *NotesPayload) (*sqlite.NotesRecord, error) {
	bullets, err := json.Marshal(payload.SummaryBullets)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary bullets: %w", err)
	}
	links, err := json.Marshal(payload.WebLinks)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal web links: %w", err)
	}
	quiz, err := json.Marshal(payload.Quiz)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal quiz: %w", err)
	}

	return &sqlite.NotesRecord{
		RecordingID:    recordingID,
		SummaryBullets: string(bullets),
		NotesMarkdown:  payload.NotesMarkdown,
		WebLinks:       string(links),
		Quiz:           string(quiz),
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// RecordToPayload rebuilds the structured payload from a stored row,
// used when serving notes that are not in the cache.
func RecordToPayload(record *sqlite.NotesRecord) (*NotesPayload, error) {
	payload := &NotesPayload{NotesMarkdown: record.NotesMarkdown}

	if record.SummaryBullets != "" {
		if err := json.Unmarshal([]byte(record.SummaryBullets), &payload.SummaryBullets); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary bullets: %w", err)
		}
	}
	if record.WebLinks != "" {
		if err := json.Unmarshal([]byte(record.WebLinks), &payload.WebLinks); err != nil {
			return nil, fmt.Errorf("failed to unmarshal web links: %w", err)
		}
	}
	if record.Quiz != "" {
		if err := json.Unmarshal([]byte(record.Quiz), &payload.Quiz); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quiz: %w", err)
		}
	}

	return payload, nil
}
