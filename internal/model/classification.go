package model

import "time"

// SignalType names the kind of evidence behind a classification signal.
type SignalType string

// Classification signal types.
const (
	SignalMerchantRule SignalType = "merchant_rule"
	SignalLearned      SignalType = "learned_mapping"
	SignalDomain       SignalType = "sender_domain"
	SignalKeyword      SignalType = "keyword"
	SignalAmountRange  SignalType = "amount_range"
	SignalCalendar     SignalType = "calendar_boost"
	SignalContact      SignalType = "contact_boost"
)

// IsBoost reports whether the signal is an additive contextual boost
// rather than a base signal.
func (s SignalType) IsBoost() bool {
	return s == SignalCalendar || s == SignalContact
}

// ClassificationSignal is one piece of evidence toward a business type.
type ClassificationSignal struct {
	Type         SignalType `json:"type"`
	BusinessType string     `json:"business_type"`
	Rationale    string     `json:"rationale"`
	Weight       float64    `json:"weight"`
}

// ClassificationResult is the business type assigned to a receipt.
type ClassificationResult struct {
	ClassifiedAt time.Time              `json:"classified_at"`
	BusinessType string                 `json:"business_type"`
	Signals      []ClassificationSignal `json:"signals,omitempty"`
	Scores       map[string]float64     `json:"scores,omitempty"`
	Confidence   float64                `json:"confidence"`
	NeedsReview  bool                   `json:"needs_review"`
}

// CalendarEvent is a dated entry from the user's calendar tagged with a business type.
type CalendarEvent struct {
	Date         Date   `json:"date"`
	Title        string `json:"title"`
	BusinessType string `json:"business_type"`
}

// Contact is a known person or organization associated with a business type.
type Contact struct {
	Name         string `json:"name"`
	Domain       string `json:"domain,omitempty"`
	BusinessType string `json:"business_type"`
}

// ClassificationContext carries the optional contextual signals for classification.
type ClassificationContext struct {
	SenderDomain   string          `json:"sender_domain,omitempty"`
	CalendarEvents []CalendarEvent `json:"calendar_events,omitempty"`
	Contacts       []Contact       `json:"contacts,omitempty"`
}
