package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

const (
	openAIBaseURL      = "https://api.openai.com"
	openAIDefaultModel = "gpt-4o"
)

// OpenAIProvider extracts receipts from images with a vision-capable GPT model.
type OpenAIProvider struct {
	httpClient  *http.Client
	limiter     *rateLimiter
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
}

// NewOpenAIProvider creates an OpenAI extraction provider.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is required", common.ErrMissingConfig)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = openAIDefaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIBaseURL
	}

	return &OpenAIProvider{
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
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Supports implements extraction.Provider. The chat API accepts images only.
func (p *OpenAIProvider) Supports(contentType string) bool {
	return extraction.IsImage(contentType)
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Extract implements extraction.Provider.
func (p *OpenAIProvider) Extract(ctx context.Context, doc extraction.Document) (*model.ExtractedReceipt, error) {
	if !p.Supports(doc.ContentType) {
		return nil, fmt.Errorf("%w: %s", common.ErrUnsupportedContent, doc.ContentType)
	}
	if err := p.limiter.wait(ctx); err != nil {
		return nil, err
	}

	dataURL := "data:" + doc.ContentType + ";base64," + encodeBase64(doc.Data)
	requestBody := map[string]any{
		"model":       p.model,
		"max_tokens":  p.maxTokens,
		"temperature": p.temperature,
		"response_format": map[string]string{
			"type": "json_object",
		},
		"messages": []map[string]any{
			{
				"role":    "system",
				"content": "You extract structured data from receipts. Respond only with JSON.",
			},
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "text", "text": extractionPrompt},
					{"type": "image_url", "image_url": map[string]string{"url": dataURL}},
				},
			},
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

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
		msg := string(body)
		var e openAIErrorBody
		if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
			msg = e.Error.Message
		}
		return nil, statusError("OpenAI", resp.StatusCode, msg)
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	choice := response.Choices[0].Message
	if choice.Refusal != "" {
		return nil, fmt.Errorf("model refused: %s", choice.Refusal)
	}

	return parseReceipt(choice.Content)
}
