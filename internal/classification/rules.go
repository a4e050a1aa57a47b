// Package classification assigns a business type to a receipt from merchant,
// sender, keyword and amount rules plus contextual boosts.
package classification

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/merchant"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// Base signal confidences.
const (
	LearnedConfidence  = 1.0
	MerchantConfidence = 0.98
	DomainConfidence   = 0.95
	KeywordConfidence  = 0.85
	AmountConfidence   = 0.70
)

// KeywordRule matches a regular expression against receipt text.
type KeywordRule struct {
	Name         string  `yaml:"name"`
	BusinessType string  `yaml:"business_type"`
	Pattern      string  `yaml:"pattern"`
	Priority     int     `yaml:"priority"`
	Confidence   float64 `yaml:"confidence,omitempty"`
}

// AmountRule assigns a business type to receipts whose amount satisfies a condition.
type AmountRule struct {
	BusinessType string                `yaml:"business_type"`
	Amount       model.AmountCondition `yaml:"amount"`
}

// RuleSet is the static rule data. Merchant keys are canonical merchant names.
type RuleSet struct {
	Merchants    map[string]string `yaml:"merchants"`
	Domains      map[string]string `yaml:"domains"`
	Keywords     []KeywordRule     `yaml:"keywords"`
	AmountRanges []AmountRule      `yaml:"amount_ranges"`
}

// LoadRules reads a YAML rule file.
func LoadRules(path string) (RuleSet, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return RuleSet{}, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes YAML rules.
func ParseRules(data []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("failed to parse rules: %w", err)
	}
	return rs, nil
}

// Merge returns rs extended by other. Map entries in other win.
func (rs RuleSet) Merge(other RuleSet) RuleSet {
	out := RuleSet{
		Merchants: make(map[string]string, len(rs.Merchants)+len(other.Merchants)),
		Domains:   make(map[string]string, len(rs.Domains)+len(other.Domains)),
	}
	for _, m := range []map[string]string{rs.Merchants, other.Merchants} {
		for k, v := range m {
			out.Merchants[k] = v
		}
	}
	for _, m := range []map[string]string{rs.Domains, other.Domains} {
		for k, v := range m {
			out.Domains[k] = v
		}
	}
	out.Keywords = append(append(out.Keywords, rs.Keywords...), other.Keywords...)
	out.AmountRanges = append(append(out.AmountRanges, rs.AmountRanges...), other.AmountRanges...)
	return out
}

type compiledKeyword struct {
	regex *regexp.Regexp
	KeywordRule
}

type compiledRules struct {
	merchants map[string]string
	domains   map[string]string
	keywords  []compiledKeyword
	amounts   []AmountRule
}

func compile(rs RuleSet) (*compiledRules, error) {
	c := &compiledRules{
		merchants: make(map[string]string, len(rs.Merchants)),
		domains:   make(map[string]string, len(rs.Domains)),
	}
	for name, businessType := range rs.Merchants {
		if merchant.Key(name) == "" || businessType == "" {
			return nil, fmt.Errorf("%w: merchant rule %q needs a name and business type", common.ErrInvalidConfig, name)
		}
		c.merchants[merchant.Key(name)] = businessType
	}
	for domain, businessType := range rs.Domains {
		if normalizeDomain(domain) == "" || businessType == "" {
			return nil, fmt.Errorf("%w: domain rule %q needs a domain and business type", common.ErrInvalidConfig, domain)
		}
		c.domains[normalizeDomain(domain)] = businessType
	}

	for _, k := range rs.Keywords {
		pattern := k.Pattern
		if !strings.HasPrefix(pattern, "(?i)") {
			pattern = "(?i)" + pattern
		}
		regex, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile pattern %s: %w", k.Name, err)
		}
		if k.Confidence <= 0 || k.Confidence > 1 {
			k.Confidence = KeywordConfidence
		}
		c.keywords = append(c.keywords, compiledKeyword{KeywordRule: k, regex: regex})
	}
	sort.SliceStable(c.keywords, func(i, j int) bool {
		return c.keywords[i].Priority > c.keywords[j].Priority
	})

	for _, a := range rs.AmountRanges {
		if a.BusinessType == "" {
			return nil, fmt.Errorf("%w: amount rule %s needs a business type", common.ErrInvalidConfig, a.Amount)
		}
		c.amounts = append(c.amounts, a)
	}
	return c, nil
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if at := strings.LastIndexByte(domain, '@'); at >= 0 {
		domain = domain[at+1:]
	}
	domain = strings.TrimPrefix(domain, "www.")
	return strings.TrimSuffix(domain, ".")
}

// domainMatches reports whether sender is domain or one of its subdomains.
func domainMatches(sender, domain string) bool {
	return sender == domain || strings.HasSuffix(sender, "."+domain)
}

// DefaultRules returns the built-in rules.
func DefaultRules() RuleSet {
	return RuleSet{
		Merchants: map[string]string{
			"GitHub":       "software",
			"Adobe":        "software",
			"Dropbox":      "software",
			"Zoom":         "software",
			"Slack":        "software",
			"Google":       "software",
			"Delta":        "travel",
			"United":       "travel",
			"Airbnb":       "travel",
			"Marriott":     "travel",
			"Hilton":       "travel",
			"Uber":         "travel",
			"Lyft":         "travel",
			"Office Depot": "office",
			"Staples":      "office",
			"FedEx":        "office",
			"UPS":          "office",
			"Netflix":      "personal",
			"Spotify":      "personal",
			"Safeway":      "personal",
			"Kroger":       "personal",
			"Trader Joe's": "personal",
			"Whole Foods":  "personal",
		},
		Domains: map[string]string{
			"github.com":      "software",
			"adobe.com":       "software",
			"zoom.us":         "software",
			"delta.com":       "travel",
			"united.com":      "travel",
			"airbnb.com":      "travel",
			"uber.com":        "travel",
			"officedepot.com": "office",
			"netflix.com":     "personal",
		},
		Keywords: []KeywordRule{
			{
				Name:         "Airfare",
				BusinessType: "travel",
				Pattern:      `\b(airline|airlines|airfare|boarding\s+pass|flight|itinerary)\b`,
				Priority:     100,
			},
			{
				Name:         "Lodging",
				BusinessType: "travel",
				Pattern:      `\b(hotel|lodging|inn|resort|room\s+rate|check-?out)\b`,
				Priority:     90,
			},
			{
				Name:         "Subscription Software",
				BusinessType: "software",
				Pattern:      `\b(subscription|saas|license|licence|seats?|per\s+user|cloud\s+hosting)\b`,
				Priority:     80,
			},
			{
				Name:         "Office Supplies",
				BusinessType: "office",
				Pattern:      `\b(toner|printer|paper|envelopes|stationery|postage|shipping\s+label)\b`,
				Priority:     70,
			},
			{
				Name:         "Meals",
				BusinessType: "meals",
				Pattern:      `\b(restaurant|cafe|coffee|espresso|latte|bistro|grill|gratuity|tip|server)\b`,
				Priority:     60,
			},
			{
				Name:         "Groceries",
				BusinessType: "personal",
				Pattern:      `\b(grocery|groceries|produce|bananas|milk|eggs|bread)\b`,
				Priority:     50,
			},
		},
	}
}
