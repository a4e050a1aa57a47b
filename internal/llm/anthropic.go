package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

const (
	anthropicBaseURL      = "https://api.anthropic.com"
	anthropicVersion      = "2023-06-01"
	anthropicDefaultModel = "claude-sonnet-4-20250514"
)

// AnthropicProvider extracts receipts from images and PDFs with Claude.
type AnthropicProvider struct {
	httpClient  *http.Client
	limiter     *rateLimiter
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
}

// NewAnthropicProvider creates an Anthropic extraction provider.
func NewAnthropicProvider(cfg Config) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic API key is required", common.ErrMissingConfig)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = anthropicDefaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}

	return &AnthropicProvider{
		apiKey:      cfg.APIKey,
		model:       modelName,
		baseURL:     strings.TrimRight(baseURL, "/"),
		temperature: cfg.Temperature,
		maxTokens:   maxTokensOrDefault(cfg.MaxTokens),
		httpClient:  newHTTPClient(),
		limiter:     newRateLimiter(cfg.RateLimit),
	}, nil
}

// Name implements extraction.Provider.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Supports implements extraction.Provider.
func (p *AnthropicProvider) Supports(contentType string) bool {
	return extraction.IsImage(contentType) || contentType == extraction.ContentTypePDF
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Extract implements extraction.Provider.
func (p *AnthropicProvider) Extract(ctx context.Context, doc extraction.Document) (*model.ExtractedReceipt, error) {
	if !p.Supports(doc.ContentType) {
		return nil, fmt.Errorf("%w: %s", common.ErrUnsupportedContent, doc.ContentType)
	}
	if err := p.limiter.wait(ctx); err != nil {
		return nil, err
	}

	blockType := "image"
	if doc.ContentType == extraction.ContentTypePDF {
		blockType = "document"
	}

	requestBody := map[string]any{
		"model":       p.model,
		"max_tokens":  p.maxTokens,
		"temperature": p.temperature,
		"system":      "You extract structured data from receipts. Respond only with JSON.",
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{
						"type": blockType,
						"source": map[string]string{
							"type":       "base64",
							"media_type": doc.ContentType,
							"data":       encodeBase64(doc.Data),
						},
					},
					{
						"type": "text",
						"text": extractionPrompt,
					},
				},
			},
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("anthropic", resp.StatusCode, anthropicErrorMessage(body))
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, ErrEmptyResponse
	}

	return parseReceipt(text.String())
}

func anthropicErrorMessage(body []byte) string {
	var e anthropicErrorBody
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return string(body)
}

// statusError maps a non-200 response to an error the retry helpers understand.
func statusError(provider string, status int, message string) error {
	err := fmt.Errorf("%s API error (status %d): %s", provider, status, message)
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
	case status >= 500:
		return &common.RetryableError{Err: err, Retryable: true}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &common.RetryableError{Err: errors.Join(common.ErrInvalidConfig, err), Retryable: false}
	default:
		return &common.RetryableError{Err: err, Retryable: false}
	}
}
