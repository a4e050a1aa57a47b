package extraction

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/Veraticus/the-receipts-must-match/internal/receipttext"
)

// ErrNoReceiptFields is returned when text contains neither a total nor a date.
var ErrNoReceiptFields = errors.New("no receipt fields found")

// TextProvider parses plain-text receipts locally.
type TextProvider struct{}

// NewTextProvider creates a plain-text provider.
func NewTextProvider() *TextProvider {
	return &TextProvider{}
}

// Name implements Provider.
func (p *TextProvider) Name() string {
	return "text"
}

// Supports implements Provider.
func (p *TextProvider) Supports(contentType string) bool {
	return contentType == ContentTypePlain
}

// Extract implements Provider.
func (p *TextProvider) Extract(ctx context.Context, doc Document) (*model.ExtractedReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !utf8.Valid(doc.Data) {
		return nil, errors.New("text document is not valid UTF-8")
	}
	text := strings.TrimSpace(string(doc.Data))
	return FromText(text)
}

// FromText parses text into a receipt, failing when nothing usable was found.
func FromText(text string) (*model.ExtractedReceipt, error) {
	fields := receipttext.Parse(text)
	if !fields.Total.Valid && fields.Date.IsZero() {
		return nil, ErrNoReceiptFields
	}
	return fields.Receipt(text), nil
}
