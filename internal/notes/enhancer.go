package notes

import (
	"context"
	"fmt"
	"time"

	"github.com/rsavary/classnote/internal/ai"
	"github.com/rsavary/classnote/internal/storage/sqlite"
	"github.com/rsavary/classnote/pkg/logger"
)

// EnhancementStore persists enhancement results
type EnhancementStore interface {
	StoreEnhancement(record *sqlite.EnhancementRecord) (int64, error)
}

// Enhancer runs single-shot transcript enhancements through the
// configured chat provider and records every result.
type Enhancer struct {
	provider ai.ChatProvider
	store    EnhancementStore
	chatCfg  ai.ChatConfig
	logger   *logger.Logger
}

// NewEnhancer creates an enhancer
func NewEnhancer(provider ai.ChatProvider, store EnhancementStore, chatCfg ai.ChatConfig, log *logger.Logger) *Enhancer {
	return &Enhancer{
		provider: provider,
		store:    store,
		chatCfg:  chatCfg,
		logger:   log.Named("enhancer"),
	}
}

// Run validates the enhancement type, sends the fixed prompt pair for
// it, stores the result, and returns the model output. An unknown
// type fails before any provider call.
func (e *Enhancer) Run(ctx context.Context, recordingID, rawType, title, text string) (string, error) {
	kind, err := ParseEnhancementType(rawType)
	if err != nil {
		return "", err
	}

	system, user, err := PromptFor(kind, title, text)
	if err != nil {
		return "", err
	}

	messages := []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: system},
		{Role: ai.RoleUser, Content: user},
	}

	start := time.Now()
	output, err := e.provider.ChatCompletion(ctx, messages, e.chatCfg)
	if err != nil {
		return "", fmt.Errorf("enhancement request failed: %w", err)
	}

	id, err := e.store.StoreEnhancement(&sqlite.EnhancementRecord{
		RecordingID: recordingID,
		Type:        string(kind),
		InputText:   text,
		OutputText:  output,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store enhancement: %w", err)
	}

	e.logger.Info("Enhancement complete",
		logger.String("recording_id", recordingID),
		logger.String("type", string(kind)),
		logger.Int64("enhancement_id", id),
		logger.Duration("elapsed", time.Since(start)))

	return output, nil
}
