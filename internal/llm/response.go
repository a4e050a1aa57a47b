package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/shopspring/decimal"
)

const extractionPrompt = `Read this receipt and respond with a single JSON object, no prose:
{
  "merchant": "store or company name as printed",
  "total": "final amount paid as a decimal string, e.g. \"12.34\", or null",
  "date": "purchase date as YYYY-MM-DD, or null",
  "currency": "ISO 4217 code if shown",
  "order_number": "order or invoice number if shown",
  "is_refund": false,
  "line_items": [{"description": "", "quantity": "1", "unit_price": "0.00"}],
  "confidence": 0.0
}
Amounts are always positive; set is_refund to true for refunds and returns.
confidence is your certainty between 0 and 1 that merchant, total and date are correct.`

// ErrEmptyResponse is returned when the model produced no usable text.
var ErrEmptyResponse = errors.New("no content in response")

// flexDecimal accepts JSON numbers and strings such as "$1,234.50".
type flexDecimal struct {
	decimal.NullDecimal
}

func (f *flexDecimal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		f.Valid = false
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	raw = strings.NewReplacer("$", "", ",", "", " ", "").Replace(raw)
	if raw == "" {
		f.Valid = false
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	f.Decimal = d
	f.Valid = true
	return nil
}

type receiptJSON struct {
	Merchant    string      `json:"merchant"`
	Date        string      `json:"date"`
	Currency    string      `json:"currency"`
	OrderNumber string      `json:"order_number"`
	LineItems   []itemJSON  `json:"line_items"`
	Total       flexDecimal `json:"total"`
	Confidence  float64     `json:"confidence"`
	IsRefund    bool        `json:"is_refund"`
}

type itemJSON struct {
	Description string      `json:"description"`
	Quantity    flexDecimal `json:"quantity"`
	UnitPrice   flexDecimal `json:"unit_price"`
}

// cleanMarkdownWrapper strips a ```json fence that models sometimes add.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		content = content[nl+1:]
	} else {
		content = strings.TrimPrefix(content, "json")
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// parseReceipt converts model output into a receipt. Content hash, provider
// and timestamps are stamped by the extraction pipeline.
func parseReceipt(content string) (*model.ExtractedReceipt, error) {
	content = cleanMarkdownWrapper(content)
	if content == "" {
		return nil, ErrEmptyResponse
	}

	var resp receiptJSON
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	date, err := model.ParseDate(strings.TrimSpace(resp.Date))
	if err != nil {
		return nil, fmt.Errorf("invalid receipt date %q: %w", resp.Date, err)
	}

	receipt := &model.ExtractedReceipt{
		Date:        date,
		MerchantRaw: strings.TrimSpace(resp.Merchant),
		OrderNumber: strings.TrimSpace(resp.OrderNumber),
		Currency:    strings.ToUpper(strings.TrimSpace(resp.Currency)),
		Kind:        model.KindPurchase,
	}
	if resp.IsRefund {
		receipt.Kind = model.KindRefund
	}
	if resp.Total.Valid {
		// Some models sign refunds despite the instructions.
		total := resp.Total.Decimal
		if total.IsNegative() {
			total = total.Abs()
			receipt.Kind = model.KindRefund
		}
		receipt.Amount = decimal.NewNullDecimal(total)
	}

	for _, item := range resp.LineItems {
		desc := strings.TrimSpace(item.Description)
		if desc == "" || !item.UnitPrice.Valid {
			continue
		}
		qty := decimal.NewFromInt(1)
		if item.Quantity.Valid && item.Quantity.Decimal.IsPositive() {
			qty = item.Quantity.Decimal
		}
		receipt.LineItems = append(receipt.LineItems, model.LineItem{
			Description: desc,
			Quantity:    qty,
			UnitPrice:   item.UnitPrice.Decimal,
		})
	}

	receipt.Confidence = resp.Confidence
	if receipt.Confidence <= 0 || receipt.Confidence > 1 {
		receipt.Confidence = fieldConfidence(receipt)
	}
	if receipt.MerchantRaw == "" && !receipt.Amount.Valid && receipt.Date.IsZero() {
		return nil, errors.New("response contained no receipt fields")
	}
	return receipt, nil
}

// fieldConfidence scores a receipt by which fields were found.
func fieldConfidence(r *model.ExtractedReceipt) float64 {
	var c float64
	if r.MerchantRaw != "" {
		c += 0.2
	}
	if r.Amount.Valid {
		c += 0.4
	}
	if !r.Date.IsZero() {
		c += 0.3
	}
	if len(r.LineItems) > 0 {
		c += 0.1
	}
	return math.Min(c, 1)
}
