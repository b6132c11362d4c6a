package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rsavary/classnote/internal/ai"
	"github.com/rsavary/classnote/internal/ai/gemini"
	"github.com/rsavary/classnote/internal/ai/ollama"
	"github.com/rsavary/classnote/internal/ai/openai"
	"github.com/rsavary/classnote/internal/api"
	"github.com/rsavary/classnote/internal/config"
	"github.com/rsavary/classnote/internal/notes"
	"github.com/rsavary/classnote/internal/session"
	"github.com/rsavary/classnote/internal/storage/sqlite"
	"github.com/rsavary/classnote/internal/transcribe"
	"github.com/rsavary/classnote/internal/websocket"
	"github.com/rsavary/classnote/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting ClassNote server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Storage
	recordingStorage, err := sqlite.NewRecordingStorage(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer recordingStorage.Close()
	log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))

	transcriptStorage := sqlite.NewTranscriptStorage(recordingStorage.GetDB(), log)
	notesStorage := sqlite.NewNotesStorage(recordingStorage.GetDB(), log)

	// WebSocket hub
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	// Chat provider
	provider, err := buildChatProvider(cfg, log)
	if err != nil {
		log.Error("Failed to create chat provider", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Chat provider ready",
		logger.String("provider", cfg.Notes.Provider),
		logger.String("model", cfg.Notes.Model))

	// Transcription sidecar client
	transcriber := transcribe.NewClient(
		cfg.Transcription.BaseURL,
		time.Duration(cfg.Transcription.TimeoutSeconds)*time.Second,
		cfg.Transcription.MaxRetries,
		log,
	)
	healthCtx, healthCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := transcriber.Health(healthCtx); err != nil {
		log.Warn("Transcription sidecar unreachable, uploads without a live transcript will be flagged",
			logger.String("base_url", cfg.Transcription.BaseURL),
			logger.Error(err))
	}
	healthCancel()

	// Notes pipeline and enhancer
	notesCache := notes.NewCache(log)
	chatCfg := ai.ChatConfig{
		Model:       cfg.Notes.Model,
		Temperature: cfg.Notes.Temperature,
		MaxTokens:   cfg.Notes.MaxTokens,
	}
	pipeline := notes.NewPipeline(
		recordingStorage,
		transcriptStorage,
		notesStorage,
		transcriber,
		provider,
		notesCache,
		wsServer,
		notes.DefaultRetryPolicy(cfg.Notes.Temperature),
		chatCfg,
		log,
	)
	enhancer := notes.NewEnhancer(provider, notesStorage, ai.ChatConfig{
		Model:       cfg.Notes.Model,
		Temperature: cfg.Enhance.Temperature,
		MaxTokens:   cfg.Enhance.MaxTokens,
	}, log)

	// Recording sessions
	sessionManager := session.NewManager(cfg, recordingStorage, transcriptStorage, wsServer, log)

	// HTTP server
	router := api.NewRouter(cfg, log, wsServer, recordingStorage, transcriptStorage, notesStorage, notesCache, pipeline, enhancer, transcriber, sessionManager)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error on startup", logger.String("addr", addr), logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	} else {
		log.Info("HTTP server shutdown complete")
	}

	// Abort any live recording session so the audio stream is released
	sessionManager.AbortActive()

	log.Info("Server fully stopped")
}

// buildChatProvider selects the configured chat backend
func buildChatProvider(cfg *config.Config, log *logger.Logger) (ai.ChatProvider, error) {
	timeout := time.Duration(cfg.Notes.TimeoutSeconds) * time.Second

	switch cfg.Notes.Provider {
	case "openai":
		return openai.NewClient(cfg.Notes.APIKey, log, cfg.Notes.BaseURL, timeout), nil
	case "ollama":
		return ollama.NewClient(log, cfg.Notes.BaseURL, timeout), nil
	case "gemini":
		return gemini.NewClient(context.Background(), cfg.Notes.APIKey, log)
	default:
		return nil, fmt.Errorf("unknown notes provider: %q", cfg.Notes.Provider)
	}
}
