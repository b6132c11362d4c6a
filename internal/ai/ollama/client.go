// Package ollama implements ai.ChatProvider against a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rsavary/classnote/internal/ai"
	"github.com/rsavary/classnote/pkg/logger"
)

// Client handles communication with the Ollama chat API
type Client struct {
	httpClient *http.Client
	logger     *logger.Logger
	baseURL    string // Stored without trailing slash
}

// NewClient creates a new Ollama client
func NewClient(logger *logger.Logger, baseURL string, timeout time.Duration) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "http://localhost:11434"
	}

	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		logger:  logger.Named("ollama"),
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ChatCompletion implements ai.ChatProvider
func (c *Client) ChatCompletion(ctx context.Context, messages []ai.ChatMessage, config ai.ChatConfig) (string, error) {
	apiURL := c.baseURL + "/api/chat"

	type Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	type Options struct {
		Temperature float64 `json:"temperature"`
		NumPredict  int     `json:"num_predict,omitempty"`
	}

	type Request struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
		Stream   bool      `json:"stream"`
		Options  Options   `json:"options"`
	}

	reqMessages := make([]Message, len(messages))
	for i, msg := range messages {
		reqMessages[i] = Message{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	reqBody := Request{
		Model:    config.Model,
		Messages: reqMessages,
		Stream:   false,
		Options: Options{
			Temperature: config.Temperature,
			NumPredict:  config.MaxTokens,
		},
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

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama chat failed: %s %s", resp.Status, string(body))
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	if result.Message.Content == "" {
		return "", fmt.Errorf("no content in ollama response")
	}

	return result.Message.Content, nil
}
