package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnthropicProvider(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid config", config: Config{APIKey: "test-key"}},
		{name: "missing API key", config: Config{}, wantErr: true},
		{name: "custom model", config: Config{APIKey: "test-key", Model: "claude-opus-4-20250514", MaxTokens: 200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewAnthropicProvider(tt.config)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, common.ErrMissingConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "anthropic", p.Name())
		})
	}
}

func TestAnthropicProvider_Supports(t *testing.T) {
	p, err := NewAnthropicProvider(Config{APIKey: "k"})
	require.NoError(t, err)

	assert.True(t, p.Supports(extraction.ContentTypeJPEG))
	assert.True(t, p.Supports(extraction.ContentTypePNG))
	assert.True(t, p.Supports(extraction.ContentTypePDF))
	assert.False(t, p.Supports(extraction.ContentTypeHTML))
	assert.False(t, p.Supports(extraction.ContentTypePlain))
}

func TestAnthropicProvider_Extract(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &captured))

		text := "```json\n" + `{"merchant": "Starbucks #1234", "total": "5.75", "date": "2024-01-15", ` +
			`"order_number": "A-99812", "confidence": 0.92, ` +
			`"line_items": [{"description": "Latte", "quantity": 1, "unit_price": "5.75"}]}` + "\n```"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]string{{"type": "text", "text": text}},
			"stop_reason": "end_turn",
		})
	}))
	defer server.Close()

	p, err := NewAnthropicProvider(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	receipt, err := p.Extract(context.Background(), extraction.Document{
		ContentType: extraction.ContentTypePDF,
		Data:        []byte("%PDF-1.4"),
	})
	require.NoError(t, err)

	assert.Equal(t, "Starbucks #1234", receipt.MerchantRaw)
	assert.Equal(t, "5.75", receipt.Amount.Decimal.StringFixed(2))
	assert.Equal(t, model.NewDate(2024, 1, 15), receipt.Date)
	assert.Equal(t, "A-99812", receipt.OrderNumber)
	assert.Equal(t, model.KindPurchase, receipt.Kind)
	assert.InDelta(t, 0.92, receipt.Confidence, 1e-9)
	require.Len(t, receipt.LineItems, 1)
	assert.Equal(t, "Latte", receipt.LineItems[0].Description)

	messages := captured["messages"].([]any)
	content := messages[0].(map[string]any)["content"].([]any)
	block := content[0].(map[string]any)
	assert.Equal(t, "document", block["type"])
	source := block["source"].(map[string]any)
	assert.Equal(t, "application/pdf", source["media_type"])
	assert.Equal(t, "JVBERi0xLjQ=", source["data"])
}

func TestAnthropicProvider_ErrorStatus(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRateLimit bool
		wantRetryable bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, wantRateLimit: true, wantRetryable: true},
		{name: "server error", status: http.StatusInternalServerError, wantRetryable: true},
		{name: "bad request", status: http.StatusBadRequest},
		{name: "unauthorized", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": {"type": "x", "message": "nope"}}`))
			}))
			defer server.Close()

			p, err := NewAnthropicProvider(Config{APIKey: "k", BaseURL: server.URL})
			require.NoError(t, err)

			_, err = p.Extract(context.Background(), extraction.Document{
				ContentType: extraction.ContentTypePNG,
				Data:        []byte{0x89, 'P', 'N', 'G'},
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "nope")
			assert.Equal(t, tt.wantRateLimit, errors.Is(err, common.ErrRateLimit))
			assert.Equal(t, tt.wantRetryable, common.IsRetryable(err))
		})
	}
}

func TestAnthropicProvider_RejectsUnsupported(t *testing.T) {
	p, err := NewAnthropicProvider(Config{APIKey: "k", BaseURL: "http://127.0.0.1:0"})
	require.NoError(t, err)

	_, err = p.Extract(context.Background(), extraction.Document{ContentType: extraction.ContentTypeHTML, Data: []byte("<html>")})
	assert.ErrorIs(t, err, common.ErrUnsupportedContent)
}
