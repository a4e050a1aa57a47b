// Package extraction turns raw receipt documents into structured receipts by
// running a cascading chain of providers behind a content-addressed cache and
// per-provider circuit breakers.
package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// Content types understood by the built-in providers.
const (
	ContentTypeJPEG  = "image/jpeg"
	ContentTypePNG   = "image/png"
	ContentTypeGIF   = "image/gif"
	ContentTypeWebP  = "image/webp"
	ContentTypePDF   = "application/pdf"
	ContentTypeHTML  = "text/html"
	ContentTypePlain = "text/plain"
)

// Document is raw receipt content handed to providers. Providers must not
// modify Data.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// Provider extracts a receipt from a document. Implementations must honor ctx;
// the pipeline abandons calls that outlive their deadline regardless.
type Provider interface {
	Name() string
	Supports(contentType string) bool
	Extract(ctx context.Context, doc Document) (*model.ExtractedReceipt, error)
}

// HashContent returns the hex SHA-256 digest of data.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NormalizeContentType lower-cases a media type and drops its parameters.
func NormalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mediaType
}

// DetectContentType guesses a content type from the file name, falling back
// to sniffing the bytes.
func DetectContentType(name string, data []byte) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return ContentTypeJPEG
	case ".png":
		return ContentTypePNG
	case ".gif":
		return ContentTypeGIF
	case ".webp":
		return ContentTypeWebP
	case ".pdf":
		return ContentTypePDF
	case ".html", ".htm", ".eml":
		return ContentTypeHTML
	case ".txt":
		return ContentTypePlain
	}
	return NormalizeContentType(http.DetectContentType(data))
}

// IsImage reports whether the content type is a raster image.
func IsImage(contentType string) bool {
	return strings.HasPrefix(contentType, "image/")
}
