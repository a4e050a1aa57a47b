package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/the-receipts-must-match/internal/extraction"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/Veraticus/the-receipts-must-match/internal/service"
)

// Fixture is a named set of ledger transactions and stored receipts.
type Fixture struct {
	Name         string
	Transactions []model.TransactionCandidate
	Receipts     []service.ReceiptRecord
}

// Amount parses a decimal literal and panics on bad input.
func Amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Candidate builds a ledger transaction.
func Candidate(id string, date model.Date, amount, merchant string, category model.TransactionCategory) model.TransactionCandidate {
	return model.TransactionCandidate{
		ID:          id,
		Date:        date,
		Amount:      Amount(amount),
		MerchantRaw: merchant,
		Category:    category,
		Source:      "fixture",
	}
}

// Receipt builds a valid purchase receipt whose content hash is derived from text.
func Receipt(merchant, amount string, date model.Date, text string) model.ExtractedReceipt {
	r := model.ExtractedReceipt{
		ExtractedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Date:        date,
		MerchantRaw: merchant,
		Kind:        model.KindPurchase,
		Text:        text,
		Provider:    "fixture",
		ContentHash: extraction.HashContent([]byte(text)),
		Confidence:  0.9,
	}
	if amount != "" {
		r.Amount = decimal.NewNullDecimal(Amount(amount))
	}
	return r
}

// Predefined fixtures.
var (
	// FixtureCoffeeWeek has two same-priced coffee purchases days apart and
	// an unrelated grocery run.
	FixtureCoffeeWeek = &Fixture{
		Name: "CoffeeWeek",
		Transactions: []model.TransactionCandidate{
			Candidate("txn-coffee-1", model.NewDate(2024, 3, 4), "4.50", "SQ *STARBUCKS #1234", model.CategoryRestaurant),
			Candidate("txn-coffee-2", model.NewDate(2024, 3, 6), "4.50", "SQ *STARBUCKS #1234", model.CategoryRestaurant),
			Candidate("txn-grocery", model.NewDate(2024, 3, 5), "62.18", "SAFEWAY 0423", model.CategoryRetail),
		},
	}

	// FixtureOnlineOrders has an Amazon order, its refund and a delivery.
	FixtureOnlineOrders = &Fixture{
		Name: "OnlineOrders",
		Transactions: []model.TransactionCandidate{
			Candidate("txn-amzn", model.NewDate(2024, 3, 2), "40.39", "AMZN Mktp US*2K4", model.CategoryRetail),
			Candidate("txn-amzn-refund", model.NewDate(2024, 3, 12), "-40.39", "AMZN Mktp US Refund", model.CategoryRetail),
			Candidate("txn-doordash", model.NewDate(2024, 3, 3), "89.82", "DOORDASH*CHIPOTLE", model.CategoryDelivery),
		},
	}
)
