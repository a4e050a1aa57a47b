// Package receipttext pulls structured receipt fields out of plain text such
// as OCR output, e-mail bodies, or text files.
package receipttext

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/shopspring/decimal"
)

// Fields is what Parse found. Missing values stay zero.
type Fields struct {
	Total       decimal.NullDecimal
	Subtotal    decimal.NullDecimal
	Tax         decimal.NullDecimal
	Date        model.Date
	Merchant    string
	OrderNumber string
	Currency    string
	LineItems   []model.LineItem
	Confidence  float64
	Refund      bool
}

var (
	moneyPattern     = regexp.MustCompile(`(-|\()?\s*[$€£]?\s*(\d{1,3}(?:,\d{3})+|\d+)\.(\d{2})\b\)?`)
	strongTotalLabel = regexp.MustCompile(`(?i)\b(grand\s+total|amount\s+due|total\s+due|balance\s+due|amount\s+paid|total\s+charged|order\s+total|total\s+paid|refund\s+total|total\s+refund(?:ed)?)\b`)
	totalLabel       = regexp.MustCompile(`(?i)\btotal\b`)
	subtotalLabel    = regexp.MustCompile(`(?i)\bsub\s*-?\s*total\b`)
	taxLabel         = regexp.MustCompile(`(?i)\b(tax|vat|gst|hst)\b`)
	nonItemLabel     = regexp.MustCompile(`(?i)\b(total|subtotal|tax|vat|tip|gratuity|change|cash|visa|mastercard|amex|discover|debit|credit|balance|payment|tender|savings|discount)\b`)
	refundPattern    = regexp.MustCompile(`(?i)\b(refund(?:ed)?|return(?:ed)?|credit\s+memo|reversal|merchandise\s+credit)\b`)
	orderPattern     = regexp.MustCompile(`(?i)\b(?:order|invoice|receipt|confirmation|transaction|trans)\s*(?:no\.?|number|num|id|#)?\s*[:#]?\s*([A-Z0-9][A-Z0-9-]{3,})`)
	qtyItemPattern   = regexp.MustCompile(`^(.+?)\s+(\d+)\s*(?:[xX@]|\s+at\s+)\s*[$€£]?\s*(\d+\.\d{2})\b`)
	priceItemPattern = regexp.MustCompile(`^(.*[A-Za-z].*?)\s+[$€£]?\s*(\d+\.\d{2})$`)
	headerSkip       = regexp.MustCompile(`(?i)^(receipt|invoice|order|tel|phone|fax|www\.|http|thank|welcome|date|time|cashier|server|table|guest|store\s*#|customer)`)
	currencyCode     = regexp.MustCompile(`\b(USD|EUR|GBP|CAD|AUD)\b`)

	isoDate      = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	numericDate  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{2}|\d{4})\b`)
	monthDayYear = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	dayMonthYear = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?,?\s+(\d{4})\b`)
	monthsByAbbr = map[string]time.Month{
		"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
		"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
		"sep": time.September, "sept": time.September, "oct": time.October,
		"nov": time.November, "dec": time.December,
	}
)

// Parse extracts receipt fields from text.
func Parse(text string) Fields {
	lines := splitLines(text)

	var f Fields
	f.Merchant = findMerchant(lines)
	f.Date = findDate(text)
	f.OrderNumber = findOrderNumber(lines)
	f.Currency = findCurrency(text)
	f.Refund = refundPattern.MatchString(text)

	total, strong, negative := findTotal(lines)
	f.Total = total
	if negative {
		f.Refund = true
	}
	f.Subtotal = findLabeled(lines, subtotalLabel, nil)
	f.Tax = findLabeled(lines, taxLabel, totalLabel)
	f.LineItems = findLineItems(lines)

	f.Confidence = f.score(strong)
	return f
}

// Receipt converts the fields into an extracted receipt carrying text.
// Pipeline-owned fields such as the content hash are left empty.
func (f Fields) Receipt(text string) *model.ExtractedReceipt {
	kind := model.KindPurchase
	if f.Refund {
		kind = model.KindRefund
	}
	return &model.ExtractedReceipt{
		MerchantRaw: f.Merchant,
		Amount:      f.Total,
		Date:        f.Date,
		Kind:        kind,
		OrderNumber: f.OrderNumber,
		Currency:    f.Currency,
		Text:        text,
		LineItems:   f.LineItems,
		Confidence:  f.Confidence,
	}
}

func (f Fields) score(strongTotal bool) float64 {
	score := 0.0
	if f.Merchant != "" {
		score += 0.20
	}
	if f.Total.Valid {
		if strongTotal {
			score += 0.35
		} else {
			score += 0.15
		}
	}
	if !f.Date.IsZero() {
		score += 0.30
	}
	if len(f.LineItems) > 0 {
		score += 0.10
	}
	if f.Total.Valid && f.Subtotal.Valid {
		expected := f.Subtotal.Decimal
		if f.Tax.Valid {
			expected = expected.Add(f.Tax.Decimal)
		}
		tolerance := f.Total.Decimal.Mul(decimal.RequireFromString("0.01"))
		if f.Total.Decimal.Sub(expected).Abs().LessThanOrEqual(tolerance) {
			score += 0.05
		}
	}
	return math.Min(score, 1.0)
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func findMerchant(lines []string) string {
	limit := min(len(lines), 6)
	for _, line := range lines[:limit] {
		if headerSkip.MatchString(line) || moneyPattern.MatchString(line) || findDate(line) != (model.Date{}) {
			continue
		}
		letters := 0
		for _, r := range line {
			if unicode.IsLetter(r) {
				letters++
			}
		}
		if letters >= 3 && letters*2 >= len([]rune(line)) {
			return line
		}
	}
	return ""
}

// lastAmount returns the right-most money value on a line.
func lastAmount(line string) (decimal.Decimal, bool, bool) {
	matches := moneyPattern.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return decimal.Zero, false, false
	}
	m := matches[len(matches)-1]
	value, err := decimal.NewFromString(strings.ReplaceAll(m[2], ",", "") + "." + m[3])
	if err != nil {
		return decimal.Zero, false, false
	}
	return value, m[1] != "", true
}

// findTotal prefers explicit grand-total style labels, then the last plain
// "total" line that is not a subtotal, then the largest amount on the page.
func findTotal(lines []string) (decimal.NullDecimal, bool, bool) {
	var (
		plain      decimal.NullDecimal
		plainNeg   bool
		largest    decimal.NullDecimal
		largestNeg bool
	)
	for _, line := range lines {
		value, negative, ok := lastAmount(line)
		if !ok {
			continue
		}
		if strongTotalLabel.MatchString(line) {
			return decimal.NewNullDecimal(value), true, negative
		}
		if totalLabel.MatchString(line) && !subtotalLabel.MatchString(line) {
			plain = decimal.NewNullDecimal(value)
			plainNeg = negative
		}
		if !largest.Valid || value.GreaterThan(largest.Decimal) {
			largest = decimal.NewNullDecimal(value)
			largestNeg = negative
		}
	}
	if plain.Valid {
		return plain, true, plainNeg
	}
	return largest, false, largestNeg
}

func findLabeled(lines []string, label, exclude *regexp.Regexp) decimal.NullDecimal {
	for _, line := range lines {
		if !label.MatchString(line) || (exclude != nil && exclude.MatchString(line)) {
			continue
		}
		if value, _, ok := lastAmount(line); ok {
			return decimal.NewNullDecimal(value)
		}
	}
	return decimal.NullDecimal{}
}

func findLineItems(lines []string) []model.LineItem {
	var items []model.LineItem
	for _, line := range lines {
		if nonItemLabel.MatchString(line) || orderNumberIn(line) != "" {
			continue
		}
		if m := qtyItemPattern.FindStringSubmatch(line); m != nil {
			qty, errQ := decimal.NewFromString(m[2])
			price, errP := decimal.NewFromString(m[3])
			if errQ == nil && errP == nil && qty.IsPositive() {
				items = append(items, model.LineItem{Description: strings.TrimSpace(m[1]), Quantity: qty, UnitPrice: price})
				continue
			}
		}
		if m := priceItemPattern.FindStringSubmatch(line); m != nil {
			if findDate(line) != (model.Date{}) {
				continue
			}
			price, err := decimal.NewFromString(m[2])
			if err != nil {
				continue
			}
			items = append(items, model.LineItem{Description: strings.TrimSpace(m[1]), Quantity: decimal.NewFromInt(1), UnitPrice: price})
		}
	}
	return items
}

func findOrderNumber(lines []string) string {
	for _, line := range lines {
		if order := orderNumberIn(line); order != "" {
			return order
		}
	}
	return ""
}

func orderNumberIn(line string) string {
	for _, m := range orderPattern.FindAllStringSubmatch(line, -1) {
		if strings.ContainsFunc(m[1], unicode.IsDigit) {
			return strings.ToUpper(m[1])
		}
	}
	return ""
}

func findCurrency(text string) string {
	switch {
	case strings.Contains(text, "€"):
		return "EUR"
	case strings.Contains(text, "£"):
		return "GBP"
	}
	if m := currencyCode.FindString(text); m != "" {
		return m
	}
	if strings.Contains(text, "$") {
		return "USD"
	}
	return ""
}

// findDate returns the first valid date in text order across all formats.
func findDate(text string) model.Date {
	type candidate struct {
		date model.Date
		pos  int
	}
	var best *candidate
	consider := func(pos int, d model.Date, ok bool) {
		if !ok {
			return
		}
		if best == nil || pos < best.pos {
			best = &candidate{date: d, pos: pos}
		}
	}

	for _, idx := range isoDate.FindAllStringSubmatchIndex(text, -1) {
		y, _ := strconv.Atoi(text[idx[2]:idx[3]])
		m, _ := strconv.Atoi(text[idx[4]:idx[5]])
		d, _ := strconv.Atoi(text[idx[6]:idx[7]])
		date, ok := makeDate(y, m, d)
		consider(idx[0], date, ok)
	}
	for _, idx := range numericDate.FindAllStringSubmatchIndex(text, -1) {
		m, _ := strconv.Atoi(text[idx[2]:idx[3]])
		d, _ := strconv.Atoi(text[idx[4]:idx[5]])
		y, _ := strconv.Atoi(text[idx[6]:idx[7]])
		if y < 100 {
			y += 2000
		}
		date, ok := makeDate(y, m, d)
		consider(idx[0], date, ok)
	}
	for _, idx := range monthDayYear.FindAllStringSubmatchIndex(text, -1) {
		month := monthsByAbbr[strings.ToLower(text[idx[2]:idx[3]])]
		d, _ := strconv.Atoi(text[idx[4]:idx[5]])
		y, _ := strconv.Atoi(text[idx[6]:idx[7]])
		date, ok := makeDate(y, int(month), d)
		consider(idx[0], date, ok)
	}
	for _, idx := range dayMonthYear.FindAllStringSubmatchIndex(text, -1) {
		d, _ := strconv.Atoi(text[idx[2]:idx[3]])
		month := monthsByAbbr[strings.ToLower(text[idx[4]:idx[5]])]
		y, _ := strconv.Atoi(text[idx[6]:idx[7]])
		date, ok := makeDate(y, int(month), d)
		consider(idx[0], date, ok)
	}

	if best == nil {
		return model.Date{}
	}
	return best.date
}

func makeDate(year, month, day int) (model.Date, bool) {
	if year < 1900 || year > 2999 || month < 1 || month > 12 || day < 1 || day > 31 {
		return model.Date{}, false
	}
	d := model.NewDate(year, time.Month(month), day)
	if d.Day != day {
		return model.Date{}, false
	}
	return d, true
}
