// Package gemini implements ai.ChatProvider on top of the Google Gen AI SDK.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/rsavary/classnote/internal/ai"
	"github.com/rsavary/classnote/pkg/logger"
)

// Client represents a Google Gemini API client
type Client struct {
	client *genai.Client
	logger *logger.Logger
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, apiKey string, logger *logger.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Client{
		client: client,
		logger: logger.Named("gemini"),
	}, nil
}

// ChatCompletion implements ai.ChatProvider
func (c *Client) ChatCompletion(ctx context.Context, messages []ai.ChatMessage, config ai.ChatConfig) (string, error) {
	genConfig := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(config.Temperature)),
		MaxOutputTokens: int32(config.MaxTokens),
	}

	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case ai.RoleSystem:
			genConfig.SystemInstruction = genai.NewContentFromText(msg.Content, genai.RoleUser)
		case ai.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, config.Model, contents, genConfig)
	if err != nil {
		return "", fmt.Errorf("gemini chat failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("no content in gemini response")
	}

	return text, nil
}
