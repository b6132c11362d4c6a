// Package openai implements ai.ChatProvider against any
// OpenAI-compatible chat completions endpoint, including OpenRouter.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rsavary/classnote/internal/ai"
	"github.com/rsavary/classnote/pkg/logger"
)

// Client handles communication with an OpenAI-compatible API
type Client struct {
	apiKey     string
	httpClient *http.Client
	logger     *logger.Logger
	baseURL    string // Stored without trailing slash

	chatCompletionsPath string
}

// NewClient creates a new OpenAI-compatible client
func NewClient(apiKey string, logger *logger.Logger, baseURL string, timeout time.Duration) *Client {
	// Determine base URL (prefer explicit parameter, then env, then default)
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		if env := os.Getenv("OPENAI_API_BASE"); env != "" {
			base = env
		} else {
			base = "https://api.openai.com"
		}
	}
	base = strings.TrimRight(base, "/")

	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		apiKey:  apiKey,
		logger:  logger.Named("openai"),
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		chatCompletionsPath: "/v1/chat/completions",
	}
}

// SetChatCompletionsPath overrides the chat completions endpoint path
// (some proxies and vendors mount it elsewhere)
func (c *Client) SetChatCompletionsPath(path string) {
	if path != "" {
		c.chatCompletionsPath = path
	}
}

// ChatCompletion implements ai.ChatProvider
func (c *Client) ChatCompletion(ctx context.Context, messages []ai.ChatMessage, config ai.ChatConfig) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("API key is required")
	}

	apiURL := c.baseURL + c.chatCompletionsPath

	type Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	type Request struct {
		Model       string    `json:"model"`
		Messages    []Message `json:"messages"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
		Temperature float64   `json:"temperature"`
	}

	reqMessages := make([]Message, len(messages))
	for i, msg := range messages {
		reqMessages[i] = Message{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	reqBody := Request{
		Model:       config.Model,
		Messages:    reqMessages,
		MaxTokens:   config.MaxTokens,
		Temperature: config.Temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat completion failed: %s %s", resp.Status, string(body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return result.Choices[0].Message.Content, nil
}
