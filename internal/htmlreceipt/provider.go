// Package htmlreceipt extracts receipts from HTML documents such as e-mailed
// order confirmations.
package htmlreceipt

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/Veraticus/the-receipts-must-match/internal/receipttext"
)

// Provider renders HTML to receipt-shaped text and parses it locally.
type Provider struct{}

// NewProvider creates an HTML provider.
func NewProvider() *Provider {
	return &Provider{}
}

// Name implements extraction.Provider.
func (p *Provider) Name() string {
	return "html"
}

// Supports implements extraction.Provider.
func (p *Provider) Supports(contentType string) bool {
	return contentType == extraction.ContentTypeHTML
}

// Extract implements extraction.Provider.
func (p *Provider) Extract(ctx context.Context, doc extraction.Document) (*model.ExtractedReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	html, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Data))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	site := siteName(html)
	domOrder := domOrderNumber(html)
	text := Text(html)
	fields := receipttext.Parse(text)

	if site != "" {
		if fields.Merchant == "" {
			fields.Confidence = math.Min(fields.Confidence+0.20, 1.0)
		}
		fields.Merchant = site
	}
	if fields.OrderNumber == "" {
		fields.OrderNumber = domOrder
	}

	if !fields.Total.Valid && fields.Date.IsZero() {
		return nil, extraction.ErrNoReceiptFields
	}
	return fields.Receipt(text), nil
}

var blockElements = map[string]bool{
	"address": true, "article": true, "blockquote": true, "br": true, "div": true,
	"footer": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "header": true, "hr": true, "li": true, "p": true, "section": true,
	"table": true, "tbody": true, "thead": true, "tfoot": true, "tr": true,
}

// Text renders the visible text of a document one logical line at a time.
// Table rows collapse to a single line so labels stay next to their amounts.
func Text(doc *goquery.Document) string {
	doc.Find("script, style, head, noscript, template").Remove()

	var b strings.Builder
	render(doc.Selection, &b)

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func render(sel *goquery.Selection, b *strings.Builder) {
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		name := goquery.NodeName(child)
		switch {
		case name == "#text":
			b.WriteString(child.Text())
		case name == "td" || name == "th":
			b.WriteString(" ")
			render(child, b)
			b.WriteString(" ")
		case blockElements[name]:
			b.WriteString("\n")
			render(child, b)
			b.WriteString("\n")
		case strings.HasPrefix(name, "#"):
		default:
			render(child, b)
		}
	})
}

func siteName(doc *goquery.Document) string {
	for _, selector := range []string{
		`meta[property="og:site_name"]`,
		`meta[name="application-name"]`,
	} {
		if content, ok := doc.Find(selector).First().Attr("content"); ok {
			if content = strings.TrimSpace(content); content != "" {
				return content
			}
		}
	}
	return ""
}

// domOrderNumber looks for order numbers carried in markup rather than text.
func domOrderNumber(doc *goquery.Document) string {
	if v, ok := doc.Find("[data-order-number]").First().Attr("data-order-number"); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	var found string
	doc.Find(`[class*="order-number"], [id*="order-number"], [class*="orderNumber"], [id*="orderNumber"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return true
		}
		fields := strings.Fields(text)
		found = strings.Trim(fields[len(fields)-1], "#:")
		return found == ""
	})
	return found
}
