// Package vision runs Google Cloud Vision OCR over receipt images and parses
// the recognized text locally.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/config"
	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	vision "google.golang.org/api/vision/v1"
)

const featureDocumentText = "DOCUMENT_TEXT_DETECTION"

// ErrNoText is returned when OCR found no text in the image.
var ErrNoText = errors.New("no text detected")

// Provider extracts receipts from images using Cloud Vision document OCR.
type Provider struct {
	service *vision.Service
}

// NewProvider authenticates with a service account key or an OAuth2 refresh
// token, whichever is configured.
func NewProvider(ctx context.Context, cfg config.VisionConfig) (*Provider, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: vision credentials", common.ErrMissingConfig)
	}

	var tokenSource oauth2.TokenSource
	if cfg.CredentialsPath != "" {
		jsonKey, err := os.ReadFile(cfg.CredentialsPath) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}
		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, vision.CloudVisionScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		oauthConfig := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{vision.CloudVisionScope},
		}
		tokenSource = oauthConfig.TokenSource(ctx, &oauth2.Token{
			RefreshToken: cfg.RefreshToken,
			TokenType:    "Bearer",
		})
	}

	return NewProviderWithClient(ctx, oauth2.NewClient(ctx, tokenSource))
}

// NewProviderWithClient builds a provider on an already-authorized HTTP client.
// Extra options such as option.WithEndpoint are passed to the service.
func NewProviderWithClient(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Provider, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	srv, err := vision.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create vision service: %w", err)
	}
	return &Provider{service: srv}, nil
}

// Name implements extraction.Provider.
func (p *Provider) Name() string {
	return "vision"
}

// Supports implements extraction.Provider. images:annotate does not read PDFs.
func (p *Provider) Supports(contentType string) bool {
	return extraction.IsImage(contentType)
}

// Extract implements extraction.Provider.
func (p *Provider) Extract(ctx context.Context, doc extraction.Document) (*model.ExtractedReceipt, error) {
	req := &vision.BatchAnnotateImagesRequest{
		Requests: []*vision.AnnotateImageRequest{
			{
				Image:    &vision.Image{Content: base64.StdEncoding.EncodeToString(doc.Data)},
				Features: []*vision.Feature{{Type: featureDocumentText}},
			},
		},
	}

	resp, err := p.service.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Responses) == 0 {
		return nil, ErrNoText
	}

	annotation := resp.Responses[0]
	if annotation.Error != nil && annotation.Error.Code != 0 {
		return nil, fmt.Errorf("vision annotate error %d: %s", annotation.Error.Code, annotation.Error.Message)
	}

	var text string
	if annotation.FullTextAnnotation != nil {
		text = annotation.FullTextAnnotation.Text
	} else if len(annotation.TextAnnotations) > 0 {
		text = annotation.TextAnnotations[0].Description
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoText
	}

	return extraction.FromText(text)
}

func classifyError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
		case apiErr.Code >= 500:
			return &common.RetryableError{Err: err, Retryable: true}
		}
	}
	return fmt.Errorf("vision annotate failed: %w", err)
}
