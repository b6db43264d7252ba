// Package morph talks to an OpenAI-compatible chat completions endpoint
// serving a code merge model.
package morph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/livepatch/internal/logger"
)

const (
	DefaultEndpoint    = "https://api.openrouter.ai/api/v1/chat/completions"
	DefaultModel       = "morph-pro-apply"
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 4000
	DefaultReferer     = "https://localhost:3000"
	DefaultTitle       = "Resume-to-Hire Platform"

	contentType = "application/json"
	// Responses larger than this are treated as broken.
	maxResponseBytes = 8 << 20
)

// ErrEmptyCompletion is returned when the service answers without text.
var ErrEmptyCompletion = errors.New("merge service returned empty completion")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("merge service bad status: %s", e.Status)
}

// Client sends merge prompts. It implements merge.Completer.
type Client struct {
	Endpoint    string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Referer     string
	Title       string
	HTTPClient  *http.Client

	logger *zap.Logger
}

// New creates a client with the default merge parameters.
func New(apiKey string, log *zap.Logger) *Client {
	return &Client{
		Endpoint:    DefaultEndpoint,
		Model:       DefaultModel,
		APIKey:      strings.TrimSpace(apiKey),
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Referer:     DefaultReferer,
		Title:       DefaultTitle,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.WithCommonFields(log, "morph", DefaultModel),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `mapstructure:"content"`
		} `mapstructure:"message"`
	} `mapstructure:"choices"`
}

// Complete sends the prompt as a single user message and returns the first
// choice's content.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal merge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	c.logger.Debug("make request", zap.String("url", req.URL.String()), zap.String("model", c.Model))

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("merge request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read merge response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: string(data)}
	}

	return parseCompletion(data)
}

func parseCompletion(data []byte) (string, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("parse merge response: %w", err)
	}

	var parsed chatResponse
	if err := mapstructure.Decode(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode merge response: %w", err)
	}

	if len(parsed.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	content := parsed.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyCompletion
	}

	return content, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	req.Header.Set("Content-Type", contentType)
	if c.Referer != "" {
		req.Header.Set("HTTP-Referer", c.Referer)
	}
	if c.Title != "" {
		req.Header.Set("X-Title", c.Title)
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}
