package model

import "time"

// NormalizeMethod records how a merchant identity was resolved.
type NormalizeMethod string

// Normalization methods, strongest first.
const (
	MethodExactChainMatch NormalizeMethod = "ExactChainMatch"
	MethodFuzzyMatch      NormalizeMethod = "FuzzyMatch"
	MethodCleaned         NormalizeMethod = "Cleaned"
)

// NormalizedMerchant is the canonical identity of a raw merchant string.
type NormalizedMerchant struct {
	CanonicalName string          `json:"canonical_name"`
	Method        NormalizeMethod `json:"method"`
	Confidence    float64         `json:"confidence"`
}

// MerchantAlias is one persisted alias → canonical mapping.
type MerchantAlias struct {
	CreatedAt time.Time `json:"created_at"`
	Alias     string    `json:"alias"`
	Canonical string    `json:"canonical"`
	Source    string    `json:"source"`
}
