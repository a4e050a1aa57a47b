package receipttext

import (
	"testing"
	"time"

	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coffeeReceipt = `STARBUCKS #4471
123 Main St, Seattle WA
06/10/2024 08:15
Latte 2 x 4.50
Muffin 3.25
Subtotal 12.25
Tax 1.10
TOTAL $13.35
VISA 13.35
Order #A12345
`

func TestParse_FullReceipt(t *testing.T) {
	f := Parse(coffeeReceipt)

	assert.Equal(t, "STARBUCKS #4471", f.Merchant)
	require.True(t, f.Total.Valid)
	assert.Equal(t, "13.35", f.Total.Decimal.StringFixed(2))
	assert.Equal(t, "12.25", f.Subtotal.Decimal.StringFixed(2))
	assert.Equal(t, "1.10", f.Tax.Decimal.StringFixed(2))
	assert.Equal(t, model.NewDate(2024, time.June, 10), f.Date)
	assert.Equal(t, "A12345", f.OrderNumber)
	assert.Equal(t, "USD", f.Currency)
	assert.False(t, f.Refund)

	require.Len(t, f.LineItems, 2)
	assert.Equal(t, "Latte", f.LineItems[0].Description)
	assert.Equal(t, "9.00", f.LineItems[0].Total().StringFixed(2))
	assert.Equal(t, "Muffin", f.LineItems[1].Description)

	assert.InDelta(t, 1.0, f.Confidence, 1e-9)
}

func TestParse_TotalSelection(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantTotal  string
		wantRefund bool
	}{
		{
			name:      "grand total beats plain total",
			text:      "Pizza Place\nSubtotal 40.00\nTotal 40.00\nTip 8.00\nGrand Total 48.00\n",
			wantTotal: "48.00",
		},
		{
			name:      "subtotal is never the total",
			text:      "Hardware Co\nSubtotal 90.00\nTax 7.20\nTotal 97.20\n",
			wantTotal: "97.20",
		},
		{
			name:      "thousands separator",
			text:      "Furniture Barn\nAmount Due $1,249.99\n",
			wantTotal: "1249.99",
		},
		{
			name:       "negative refund total",
			text:       "Target\nRETURN RECEIPT\nJan 5, 2024\nRefund Total -25.99\n",
			wantTotal:  "25.99",
			wantRefund: true,
		},
		{
			name:      "largest amount without a label",
			text:      "Corner Store\n2024-03-01\nApples 3.00\nBread 4.50\n",
			wantTotal: "4.50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Parse(tt.text)
			require.True(t, f.Total.Valid)
			assert.Equal(t, tt.wantTotal, f.Total.Decimal.StringFixed(2))
			assert.Equal(t, tt.wantRefund, f.Refund)
		})
	}
}

func TestParse_ConfidenceReflectsFields(t *testing.T) {
	weak := Parse("Corner Store\n2024-03-01\nApples 3.00\nBread 4.50\n")
	assert.InDelta(t, 0.75, weak.Confidence, 1e-9)

	refund := Parse("Target\nRETURN RECEIPT\nJan 5, 2024\nRefund Total -25.99\n")
	assert.InDelta(t, 0.85, refund.Confidence, 1e-9)

	empty := Parse("")
	assert.Zero(t, empty.Confidence)
	assert.False(t, empty.Total.Valid)
	assert.True(t, empty.Date.IsZero())
}

func TestFindDate(t *testing.T) {
	tests := []struct {
		want model.Date
		text string
	}{
		{text: "Date: 2024-06-10", want: model.NewDate(2024, time.June, 10)},
		{text: "6/10/24 12:01", want: model.NewDate(2024, time.June, 10)},
		{text: "June 10th, 2024", want: model.NewDate(2024, time.June, 10)},
		{text: "10 Jun 2024", want: model.NewDate(2024, time.June, 10)},
		{text: "Sept. 3 2023", want: model.NewDate(2023, time.September, 3)},
		{text: "02/30/2024", want: model.Date{}},
		{text: "first 2024-01-02 then 03/04/2024", want: model.NewDate(2024, time.January, 2)},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, findDate(tt.text))
		})
	}
}

func TestParse_OrderNumbers(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{text: "Amazon.com\nOrder # 112-3456789-1234567\n", want: "112-3456789-1234567"},
		{text: "Thanks for your order from us. Invoice No. INV-2024-0042", want: "INV-2024-0042"},
		{text: "Receipt for your purchase", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.text).OrderNumber)
		})
	}
}

func TestFields_Receipt(t *testing.T) {
	r := Parse("Target\nRETURN RECEIPT\nJan 5, 2024\nRefund Total -25.99\n").Receipt("raw")
	assert.Equal(t, model.KindRefund, r.Kind)
	assert.Equal(t, "Target", r.MerchantRaw)
	assert.Equal(t, "raw", r.Text)
	assert.False(t, r.Amount.Decimal.IsNegative())
}
