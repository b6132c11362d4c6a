package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rsavary/classnote/internal/config"
	"github.com/rsavary/classnote/internal/notes"
	"github.com/rsavary/classnote/internal/session"
	"github.com/rsavary/classnote/internal/storage/sqlite"
	"github.com/rsavary/classnote/internal/transcribe"
	"github.com/rsavary/classnote/internal/websocket"
	"github.com/rsavary/classnote/pkg/logger"
)

// Router assembles the HTTP surface
type Router struct {
	handler         *Handler
	captureHandlers *CaptureHandlers
	wsServer        *websocket.Server
	config          *config.Config
	logger          *logger.Logger
}

// NewRouter creates the API router
func NewRouter(
	cfg *config.Config,
	log *logger.Logger,
	wsServer *websocket.Server,
	recordings *sqlite.RecordingStorage,
	transcripts *sqlite.TranscriptStorage,
	notesStorage *sqlite.NotesStorage,
	notesCache *notes.Cache,
	pipeline *notes.Pipeline,
	enhancer *notes.Enhancer,
	transcriber *transcribe.Client,
	sessions *session.Manager,
) *Router {
	return &Router{
		handler:         NewHandler(cfg, log, recordings, transcripts, notesStorage, notesCache, pipeline, enhancer, transcriber, sessions),
		captureHandlers: NewCaptureHandlers(sessions, pipeline, wsServer, cfg, log),
		wsServer:        wsServer,
		config:          cfg,
		logger:          log.Named("api-router"),
	}
}

// Routes builds the chi route tree
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(rt.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(rt.corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", rt.handler.GetHealth)

		r.Route("/recordings", func(r chi.Router) {
			r.Post("/", rt.handler.CreateRecording)
			r.Get("/", rt.handler.GetRecordings)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", rt.handler.GetRecordingByID)
				r.Delete("/", rt.handler.DeleteRecording)
				r.Post("/process", rt.handler.ProcessRecording)
				r.Get("/notes", rt.handler.GetNotes)
				r.Post("/enhance", rt.handler.EnhanceTranscript)
				r.Get("/enhancements", rt.handler.GetEnhancements)
				r.Get("/transcript", rt.handler.GetTranscript)
			})
		})

		r.Get("/session", rt.handler.GetActiveSession)
	})

	r.Get("/ws", rt.wsServer.HandleConnection)
	r.Get("/ws/capture", rt.captureHandlers.WebSocketHandler)

	if rt.config.Server.StaticFilesDir != "" {
		static := NewStaticFileHandler(rt.config.Server.StaticFilesDir, rt.logger)
		r.NotFound(static.ServeHTTP)
	}

	return r
}

// requestLogger logs each request with its duration and status
func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		rt.logger.Debug("Request handled",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration("duration", time.Since(start)),
			logger.String("remote_addr", r.RemoteAddr))
	})
}

// corsMiddleware applies the configured allowed origins
func (rt *Router) corsMiddleware(next http.Handler) http.Handler {
	allowed := rt.config.Server.CORSAllowedOrigins

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, a := range allowed {
				if a == "*" || a == origin {
					w.Header().Set("Access-Control-Allow-Origin", a)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
					break
				}
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
