package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rsavary/classnote/internal/config"
	"github.com/rsavary/classnote/internal/notes"
	"github.com/rsavary/classnote/internal/session"
	"github.com/rsavary/classnote/internal/storage/sqlite"
	"github.com/rsavary/classnote/internal/transcribe"
	"github.com/rsavary/classnote/pkg/logger"
)

// maxUploadBytes caps the multipart audio upload size
const maxUploadBytes = 256 << 20

// Handler contains the API handlers
type Handler struct {
	config       *config.Config
	logger       *logger.Logger
	recordings   *sqlite.RecordingStorage
	transcripts  *sqlite.TranscriptStorage
	notesStorage *sqlite.NotesStorage
	notesCache   *notes.Cache
	pipeline     *notes.Pipeline
	enhancer     *notes.Enhancer
	transcriber  *transcribe.Client
	sessions     *session.Manager
}

// NewHandler creates a new API handler
func NewHandler(
	cfg *config.Config,
	log *logger.Logger,
	recordings *sqlite.RecordingStorage,
	transcripts *sqlite.TranscriptStorage,
	notesStorage *sqlite.NotesStorage,
	notesCache *notes.Cache,
	pipeline *notes.Pipeline,
	enhancer *notes.Enhancer,
	transcriber *transcribe.Client,
	sessions *session.Manager,
) *Handler {
	return &Handler{
		config:       cfg,
		logger:       log.Named("api-handler"),
		recordings:   recordings,
		transcripts:  transcripts,
		notesStorage: notesStorage,
		notesCache:   notesCache,
		pipeline:     pipeline,
		enhancer:     enhancer,
		transcriber:  transcriber,
		sessions:     sessions,
	}
}

// GetHealth reports service health including the transcription sidecar
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.transcriber.Health(ctx); err != nil {
		response["sidecar"] = "unreachable"
	} else {
		response["sidecar"] = "ok"
	}

	WriteJSON(w, http.StatusOK, response)
}

// CreateRecording creates recording metadata ahead of an audio upload
func (h *Handler) CreateRecording(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title  string `json:"title"`
		Course string `json:"course"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		WriteError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Course == "" {
		req.Course = h.config.Recording.DefaultCourse
	}

	record := &sqlite.RecordingRecord{
		ID:        newRecordingID(),
		Title:     req.Title,
		Course:    req.Course,
		Status:    sqlite.StatusRecording,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := h.recordings.CreateRecording(record); err != nil {
		h.logger.Error("Failed to create recording", logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to create recording")
		return
	}

	h.logger.Info("Recording created",
		logger.String("recording_id", record.ID),
		logger.String("title", record.Title))

	WriteJSON(w, http.StatusCreated, record)
}

// GetRecordings returns a paginated recording list
func (h *Handler) GetRecordings(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePaginationParams(r)
	status := r.URL.Query().Get("status")

	records, err := h.recordings.GetRecordings(pageSize, (page-1)*pageSize, status)
	if err != nil {
		h.logger.Error("Failed to list recordings", logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to list recordings")
		return
	}

	total, err := h.recordings.CountRecordings(status)
	if err != nil {
		h.logger.Error("Failed to count recordings", logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to list recordings")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"recordings":  records,
		"total_count": total,
		"page":        page,
		"page_size":   pageSize,
	})
}

// GetRecordingByID returns one recording with its transcript and notes
// when they exist
func (h *Handler) GetRecordingByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.recordings.GetRecordingByID(id)
	if err != nil {
		h.logger.Error("Failed to get recording", logger.String("recording_id", id), logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to get recording")
		return
	}
	if record == nil {
		WriteError(w, http.StatusNotFound, "recording not found")
		return
	}

	response := map[string]any{"recording": record}

	if transcript, err := h.transcripts.GetTranscript(id); err == nil && transcript != nil {
		response["transcript"] = transcript
	}
	if payload := h.loadNotes(id); payload != nil {
		response["notes"] = payload
	}

	WriteJSON(w, http.StatusOK, response)
}

// DeleteRecording deletes a recording and everything derived from it
func (h *Handler) DeleteRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.recordings.GetRecordingByID(id)
	if err != nil {
		h.logger.Error("Failed to get recording", logger.String("recording_id", id), logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to delete recording")
		return
	}
	if record == nil {
		WriteError(w, http.StatusNotFound, "recording not found")
		return
	}

	if err := h.recordings.DeleteRecording(id); err != nil {
		h.logger.Error("Failed to delete recording", logger.String("recording_id", id), logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to delete recording")
		return
	}
	h.notesCache.Delete(id)

	h.logger.Info("Recording deleted", logger.String("recording_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// ProcessRecording accepts the recorded audio (and optionally the live
// transcript) and queues the processing pipeline. Responds 202; clients
// follow progress over the WebSocket hub.
func (h *Handler) ProcessRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	record, err := h.recordings.GetRecordingByID(id)
	if err != nil {
		h.logger.Error("Failed to get recording", logger.String("recording_id", id), logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to process recording")
		return
	}
	if record == nil {
		WriteError(w, http.StatusNotFound, "recording not found")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	var audio []byte
	if file, _, err := r.FormFile("file"); err == nil {
		audio, err = io.ReadAll(file)
		file.Close()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "failed to read audio upload")
			return
		}
	}
	transcript := r.FormValue("transcript")

	if len(audio) == 0 && transcript == "" {
		WriteError(w, http.StatusBadRequest, "an audio file or a transcript is required")
		return
	}

	job := notes.Job{
		RecordingID: id,
		Title:       record.Title,
		Transcript:  transcript,
		Audio:       audio,
	}

	go func() {
		if err := h.pipeline.Run(context.Background(), job); err != nil {
			h.logger.Error("Processing pipeline failed",
				logger.String("recording_id", id),
				logger.Error(err))
		}
	}()

	h.logger.Info("Recording queued for processing",
		logger.String("recording_id", id),
		logger.Int("audio_bytes", len(audio)),
		logger.Bool("has_transcript", transcript != ""))

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"recording_id": id,
		"status":       sqlite.StatusProcessing,
	})
}

// GetNotes returns the structured notes for a recording, serving from
// the in-memory cache before touching storage
func (h *Handler) GetNotes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	payload := h.loadNotes(id)
	if payload == nil {
		WriteError(w, http.StatusNotFound, "notes not found")
		return
	}

	WriteJSON(w, http.StatusOK, payload)
}

// loadNotes is the cache-first notes fetch shared by handlers. A
// storage hit repopulates the cache.
func (h *Handler) loadNotes(recordingID string) *notes.NotesPayload {
	if payload := h.notesCache.Get(recordingID); payload != nil {
		return payload
	}

	record, err := h.notesStorage.GetNotes(recordingID)
	if err != nil || record == nil {
		return nil
	}
	payload, err := notes.RecordToPayload(record)
	if err != nil {
		h.logger.Error("Failed to decode stored notes",
			logger.String("recording_id", recordingID),
			logger.Error(err))
		return nil
	}

	h.notesCache.Set(recordingID, payload)
	return payload
}

// EnhanceTranscript runs one enhancement over a transcript
func (h *Handler) EnhanceTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := h.recordings.GetRecordingByID(id)
	if err != nil {
		h.logger.Error("Failed to get recording", logger.String("recording_id", id), logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to enhance transcript")
		return
	}
	if record == nil {
		WriteError(w, http.StatusNotFound, "recording not found")
		return
	}

	text := req.Text
	if text == "" {
		transcript, err := h.transcripts.GetTranscript(id)
		if err != nil || transcript == nil {
			WriteError(w, http.StatusBadRequest, "no transcript available to enhance")
			return
		}
		text = transcript.Text
	}

	output, err := h.enhancer.Run(r.Context(), id, req.Type, record.Title, text)
	if err != nil {
		if errors.Is(err, notes.ErrUnknownEnhancement) {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown enhancement type %q", req.Type))
			return
		}
		h.logger.Error("Enhancement failed",
			logger.String("recording_id", id),
			logger.String("type", req.Type),
			logger.Error(err))
		WriteError(w, http.StatusBadGateway, "enhancement failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"recording_id": id,
		"type":         req.Type,
		"output":       output,
	})
}

// GetEnhancements lists stored enhancement results, newest first
func (h *Handler) GetEnhancements(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	records, err := h.notesStorage.GetEnhancements(id)
	if err != nil {
		h.logger.Error("Failed to list enhancements", logger.String("recording_id", id), logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to list enhancements")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"recording_id": id,
		"enhancements": records,
	})
}

// GetTranscript returns the stored transcript for a recording, falling
// back to the live transcript snapshot for recordings that were never
// processed
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	transcript, err := h.transcripts.GetTranscript(id)
	if err != nil {
		h.logger.Error("Failed to get transcript", logger.String("recording_id", id), logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "failed to get transcript")
		return
	}
	if transcript != nil {
		WriteJSON(w, http.StatusOK, transcript)
		return
	}

	live, err := h.transcripts.GetLiveTranscript(id)
	if err != nil || live == "" {
		WriteError(w, http.StatusNotFound, "transcript not found")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"recording_id": id,
		"text":         live,
		"live":         true,
	})
}

// GetActiveSession reports the live recording session, if any
func (h *Handler) GetActiveSession(w http.ResponseWriter, r *http.Request) {
	active := h.sessions.Active()
	if active == nil {
		WriteJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"active":          true,
		"recording_id":    active.ID(),
		"state":           string(active.State()),
		"elapsed_seconds": active.Elapsed(),
		"markers":         active.Markers(),
	})
}

func newRecordingID() string {
	return uuid.New().String()
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// parsePaginationParams reads page/page_size query parameters with
// sane bounds
func parsePaginationParams(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = 50

	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			pageSize = n
		}
	}
	return page, pageSize
}
