// Package ledger supplies transaction candidates for matching and imports
// them from bank exports and Plaid.
package ledger

import (
	"context"
	"strings"

	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// Source returns ledger transactions dated within days of center.
type Source interface {
	CandidatesInWindow(ctx context.Context, center model.Date, days int) ([]model.TransactionCandidate, error)
}

// Importer persists imported transactions and reports how many were new.
type Importer interface {
	SaveTransactions(ctx context.Context, candidates []model.TransactionCandidate) (int, error)
}

type categoryRule struct {
	category model.TransactionCategory
	keywords []string
}

// Checked in order; the first hit wins.
var categoryRules = []categoryRule{
	{
		category: model.CategoryDelivery,
		keywords: []string{"doordash", "ubereats", "uber eats", "grubhub", "postmates", "instacart", "caviar", "seamless", "gopuff", "food_and_drink_delivery"},
	},
	{
		category: model.CategorySubscription,
		keywords: []string{"netflix", "spotify", "hulu", "disney+", "disney plus", "apple.com/bill", "itunes", "google *", "patreon", "github", "adobe", "dropbox", "subscription", "membership", "monthly", "annual fee", "icloud", "youtube premium", "subscription_service", "repeatpmt"},
	},
	{
		category: model.CategoryRestaurant,
		keywords: []string{"restaurant", "cafe", "coffee", "starbucks", "dunkin", "mcdonald", "chipotle", "pizza", "grill", "bistro", "diner", "taqueria", "sushi", "bakery", "tst*", "food and drink", "food_and_drink"},
	},
	{
		category: model.CategoryRetail,
		keywords: []string{"amazon", "amzn", "target", "walmart", "costco", "best buy", "home depot", "lowe's", "ikea", "safeway", "kroger", "whole foods", "trader joe", "cvs", "walgreens", "shops", "general_merchandise", "merchandise"},
	},
}

// InferCategory guesses a transaction category from the merchant string and
// any source hints such as Plaid categories, payment channels or OFX
// transaction types. Unknown transactions are CategoryOther.
func InferCategory(merchant string, hints ...string) model.TransactionCategory {
	haystack := strings.ToLower(merchant + " " + strings.Join(hints, " "))
	for _, rule := range categoryRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(haystack, keyword) {
				return rule.category
			}
		}
	}
	return model.CategoryOther
}
