// Package transcribe is the client for the faster-whisper transcription
// sidecar. The sidecar accepts an audio upload and returns the full text
// with paragraph and segment breakdowns.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rsavary/classnote/pkg/logger"
)

// ErrTransport marks failures to reach the sidecar or non-2xx responses
var ErrTransport = errors.New("transcription transport error")

// Segment is a timed span of transcribed text
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Metadata describes the transcription run
type Metadata struct {
	Language            string  `json:"language"`
	LanguageProbability float64 `json:"language_probability"`
	Duration            float64 `json:"duration"`
}

// Transcription is the sidecar's response for a completed transcription
type Transcription struct {
	Text       string    `json:"text"`
	Paragraphs []string  `json:"paragraphs"`
	Segments   []Segment `json:"segments"`
	Metadata   Metadata  `json:"metadata"`
}

// errorResponse is the sidecar's error body
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Client communicates with the transcription sidecar
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	logger     *logger.Logger
}

// NewClient creates a new transcription sidecar client
func NewClient(baseURL string, timeout time.Duration, maxRetries int, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: maxRetries,
		logger:     log.Named("transcribe-client"),
	}
}

// Transcribe uploads an audio blob and returns the transcription.
// The upload is a multipart form with a single "file" field.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (*Transcription, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio payload", ErrTransport)
	}
	if filename == "" {
		filename = "recording.webm"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to write audio payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/transcribe", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Info("Uploading audio for transcription",
		logger.String("filename", filename),
		logger.Int("bytes", len(audio)))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		var errBody errorResponse
		if json.Unmarshal(raw, &errBody) == nil && (errBody.Error != "" || errBody.Detail != "") {
			return nil, fmt.Errorf("%w: %s (%s %s)", ErrTransport, resp.Status, errBody.Error, errBody.Detail)
		}
		return nil, fmt.Errorf("%w: %s", ErrTransport, resp.Status)
	}

	var result Transcription
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrTransport, err)
	}

	// Older sidecar versions return only the flat text
	if len(result.Paragraphs) == 0 && result.Text != "" {
		result.Paragraphs = Paragraphize(result.Text)
	}

	c.logger.Info("Transcription complete",
		logger.Duration("elapsed", time.Since(start)),
		logger.String("language", result.Metadata.Language),
		logger.Int("segments", len(result.Segments)))

	return &result, nil
}

// Health checks the sidecar's /health endpoint, retrying with
// exponential backoff up to maxRetries attempts.
func (c *Client) Health(ctx context.Context) error {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries+1; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(500*(1<<uint(attempt-2))) * time.Millisecond
			c.logger.Warn("Retrying sidecar health check",
				logger.Int("attempt", attempt),
				logger.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = c.checkHealth(ctx)
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("%w: %v", ErrTransport, lastErr)
}

func (c *Client) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	return nil
}
