package vision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/config"
	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewProviderWithClient(context.Background(), server.Client(), option.WithEndpoint(server.URL+"/"))
	require.NoError(t, err)
	return p
}

func TestProvider_Extract(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images:annotate", r.URL.Path)

		var req struct {
			Requests []struct {
				Image struct {
					Content string `json:"content"`
				} `json:"image"`
				Features []struct {
					Type string `json:"type"`
				} `json:"features"`
			} `json:"requests"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if assert.Len(t, req.Requests, 1) {
			assert.Equal(t, "/9j/", req.Requests[0].Image.Content)
			assert.Equal(t, "DOCUMENT_TEXT_DETECTION", req.Requests[0].Features[0].Type)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"responses": []map[string]any{
				{"fullTextAnnotation": map[string]string{
					"text": "TRADER JOE'S\n01/15/2024\nBANANAS 0.99\nTOTAL $12.47\n",
				}},
			},
		})
	})

	receipt, err := p.Extract(context.Background(), extraction.Document{
		ContentType: extraction.ContentTypeJPEG,
		Data:        []byte{0xff, 0xd8, 0xff},
	})
	require.NoError(t, err)
	assert.Equal(t, "TRADER JOE'S", receipt.MerchantRaw)
	assert.Equal(t, "12.47", receipt.Amount.Decimal.StringFixed(2))
	assert.Equal(t, "2024-01-15", receipt.Date.String())
}

func TestProvider_NoText(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"responses": [{}]}`))
	})

	_, err := p.Extract(context.Background(), extraction.Document{ContentType: extraction.ContentTypePNG, Data: []byte("x")})
	assert.ErrorIs(t, err, ErrNoText)
}

func TestProvider_AnnotateError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"responses": [{"error": {"code": 3, "message": "Bad image data."}}]}`))
	})

	_, err := p.Extract(context.Background(), extraction.Document{ContentType: extraction.ContentTypePNG, Data: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad image data.")
}

func TestProvider_HTTPErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRateLimit bool
		wantRetryable bool
	}{
		{name: "quota", status: http.StatusTooManyRequests, wantRateLimit: true, wantRetryable: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, wantRetryable: true},
		{name: "forbidden", status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": {"code": 1, "message": "failure"}}`))
			})

			_, err := p.Extract(context.Background(), extraction.Document{ContentType: extraction.ContentTypePNG, Data: []byte("x")})
			require.Error(t, err)
			assert.Equal(t, tt.wantRateLimit, errors.Is(err, common.ErrRateLimit))
			assert.Equal(t, tt.wantRetryable, common.IsRetryable(err))
		})
	}
}

func TestNewProvider_RequiresCredentials(t *testing.T) {
	_, err := NewProvider(context.Background(), config.VisionConfig{})
	assert.ErrorIs(t, err, common.ErrMissingConfig)

	_, err = NewProvider(context.Background(), config.VisionConfig{CredentialsPath: "/nonexistent/key.json"})
	assert.Error(t, err)
}

func TestProvider_Supports(t *testing.T) {
	p := &Provider{}
	assert.True(t, p.Supports(extraction.ContentTypeGIF))
	assert.False(t, p.Supports(extraction.ContentTypePDF))
	assert.Equal(t, "vision", p.Name())
}
