// Package transcribe converts voice attachments to text via an
// OpenAI-compatible audio transcription API (Whisper).
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
)

const (
	defaultBaseURL = "https://api.openai.com"
	audioPath      = "/v1/audio/transcriptions"
	defaultModel   = "whisper-1"
)

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Client implements Transcriber against the OpenAI audio API. Ollama and
// other OpenAI-compatible servers work via WithBaseURL.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the transcription client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithModel overrides the transcription model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// NewClient creates a transcription client.
func NewClient(apiKey string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe uploads the audio as multipart form data and returns the text.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	body, contentType, err := buildForm(audio, filename, c.model)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+audioPath, body)
	if err != nil {
		return "", fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response body: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var apiResp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}

	c.logger.DebugContext(ctx, "audio transcribed",
		slog.String("model", c.model),
		slog.Int("chars", len(apiResp.Text)),
	)
	return apiResp.Text, nil
}

// buildForm streams the audio into a multipart body. The request is small
// enough (voice notes, not podcasts) that buffering it in memory is fine.
func buildForm(audio io.Reader, filename, model string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, "", fmt.Errorf("copying audio: %w", err)
	}
	if err := w.WriteField("model", model); err != nil {
		return nil, "", fmt.Errorf("writing model field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("finalizing form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
