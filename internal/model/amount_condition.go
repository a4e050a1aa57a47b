package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountConditionType represents the type of amount comparison.
type AmountConditionType string

// Amount condition constants.
const (
	AmountLessThan     AmountConditionType = "lt"
	AmountLessEqual    AmountConditionType = "le"
	AmountEqual        AmountConditionType = "eq"
	AmountGreaterEqual AmountConditionType = "ge"
	AmountGreaterThan  AmountConditionType = "gt"
	AmountRange        AmountConditionType = "range"
	AmountAny          AmountConditionType = "any"
)

// AmountCondition is a comparison against a receipt amount.
type AmountCondition struct {
	Value     *decimal.Decimal    `json:"value,omitempty" yaml:"value,omitempty"`
	Min       *decimal.Decimal    `json:"min,omitempty" yaml:"min,omitempty"`
	Max       *decimal.Decimal    `json:"max,omitempty" yaml:"max,omitempty"`
	Condition AmountConditionType `json:"condition" yaml:"condition"`
}

// Matches evaluates the condition. Unknown conditions never match.
func (c AmountCondition) Matches(amount decimal.Decimal) bool {
	switch c.Condition {
	case AmountAny:
		return true
	case AmountLessThan:
		return c.Value != nil && amount.LessThan(*c.Value)
	case AmountLessEqual:
		return c.Value != nil && amount.LessThanOrEqual(*c.Value)
	case AmountEqual:
		return c.Value != nil && amount.Equal(*c.Value)
	case AmountGreaterEqual:
		return c.Value != nil && amount.GreaterThanOrEqual(*c.Value)
	case AmountGreaterThan:
		return c.Value != nil && amount.GreaterThan(*c.Value)
	case AmountRange:
		if c.Min != nil && amount.LessThan(*c.Min) {
			return false
		}
		if c.Max != nil && amount.GreaterThan(*c.Max) {
			return false
		}
		return c.Min != nil || c.Max != nil
	}
	return false
}

// String renders the condition for rationales and CLI output.
func (c AmountCondition) String() string {
	switch c.Condition {
	case AmountAny:
		return "any amount"
	case AmountRange:
		lo, hi := "-inf", "+inf"
		if c.Min != nil {
			lo = "$" + c.Min.StringFixed(2)
		}
		if c.Max != nil {
			hi = "$" + c.Max.StringFixed(2)
		}
		return fmt.Sprintf("amount in [%s, %s]", lo, hi)
	default:
		if c.Value == nil {
			return string(c.Condition)
		}
		return fmt.Sprintf("amount %s $%s", c.Condition, c.Value.StringFixed(2))
	}
}
