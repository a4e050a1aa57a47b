package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/the-receipts-must-match/internal/model"
	"github.com/Veraticus/the-receipts-must-match/internal/service"
)

const notAvailable = "n/a"

func field(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, LabelStyle.Render(label), value)
}

func percent(score float64) string {
	return fmt.Sprintf("%.0f%%", score*100)
}

// FormatAmount renders a receipt total. Refunds carry a minus sign.
func FormatAmount(r *model.ExtractedReceipt) string {
	amount, ok := r.SignedAmount()
	if !ok {
		return SubtleStyle.Render(notAvailable)
	}
	s := "$" + amount.Abs().StringFixed(2)
	if amount.IsNegative() {
		return "-" + s + " " + SubtleStyle.Render("(refund)")
	}
	return s
}

// DecisionStyle colors a match decision by tier.
func DecisionStyle(d model.Decision) lipgloss.Style {
	switch d {
	case model.DecisionAutoMatch:
		return SuccessStyle
	case model.DecisionNeedsReview:
		return WarningStyle
	default:
		return ErrorStyle
	}
}

// RenderReceipt renders the extracted fields of a receipt.
func RenderReceipt(r *model.ExtractedReceipt) string {
	date := r.Date.String()
	if date == "" {
		date = SubtleStyle.Render(notAvailable)
	}
	lines := []string{
		field("Merchant", BoldStyle.Render(r.MerchantRaw)),
		field("Total", FormatAmount(r)),
		field("Date", date),
	}
	if r.OrderNumber != "" {
		lines = append(lines, field("Order", r.OrderNumber))
	}
	if len(r.LineItems) > 0 {
		lines = append(lines, field("Items", fmt.Sprintf("%d", len(r.LineItems))))
	}
	lines = append(lines,
		field("Provider", fmt.Sprintf("%s (%s)", r.Provider, percent(r.Confidence))),
		field("Hash", SubtleStyle.Render(shortHash(r.ContentHash))),
	)
	return RenderBox(ReceiptIcon+" Receipt", strings.Join(lines, "\n"))
}

// RenderMatch renders a match decision with its signal breakdown.
func RenderMatch(m *model.MatchResult) string {
	lines := []string{
		field("Decision", DecisionStyle(m.Decision).Render(string(m.Decision))),
		field("Score", percent(m.Score)),
	}
	if m.HasBest() {
		lines = append(lines, field("Transaction", BoldStyle.Render(m.BestCandidateID)))
	}
	if m.WeightSet != "" {
		lines = append(lines, field("Weights", m.WeightSet))
	}
	if m.Collision {
		lines = append(lines, FormatWarning("Several transactions scored within the collision margin"))
	}

	if len(m.Breakdown) > 0 {
		rows := make([][]string, len(m.Breakdown))
		for i, s := range m.Breakdown {
			rows[i] = []string{string(s.Signal), fmt.Sprintf("%.2f", s.Score), fmt.Sprintf("%.2f", s.Weight), s.Reason}
		}
		lines = append(lines, "", RenderTable([]string{"Signal", "Score", "Weight", "Reason"}, rows))
	}
	if len(m.Alternates) > 0 {
		rows := make([][]string, len(m.Alternates))
		for i, a := range m.Alternates {
			rows[i] = []string{a.CandidateID, percent(a.Score), DecisionStyle(a.Decision).Render(string(a.Decision))}
		}
		lines = append(lines, "", RenderTable([]string{"Alternate", "Score", "Tier"}, rows))
	}
	return RenderBox(LinkIcon+" Match", strings.Join(lines, "\n"))
}

// RenderVerdict renders a duplicate verdict.
func RenderVerdict(v model.DuplicateVerdict) string {
	var status string
	switch {
	case v.IsDuplicate:
		status = ErrorStyle.Render("duplicate of " + v.DuplicateOfID)
	case v.NeedsReview:
		status = WarningStyle.Render("possible duplicate, review")
	default:
		status = SuccessStyle.Render("new receipt")
	}
	lines := []string{field("Status", status)}
	if len(v.SignalsFired) > 0 {
		signals := make([]string, len(v.SignalsFired))
		for i, s := range v.SignalsFired {
			signals[i] = string(s)
		}
		lines = append(lines,
			field("Confidence", percent(v.Confidence)),
			field("Signals", strings.Join(signals, ", ")))
	}
	if len(v.Matches) > 1 || (len(v.Matches) == 1 && !v.IsDuplicate) {
		rows := make([][]string, len(v.Matches))
		for i, m := range v.Matches {
			signals := make([]string, len(m.Signals))
			for j, s := range m.Signals {
				signals[j] = string(s)
			}
			rows[i] = []string{m.ReceiptID, percent(m.Confidence), strings.Join(signals, ", ")}
		}
		lines = append(lines, "", RenderTable([]string{"Receipt", "Confidence", "Signals"}, rows))
	}
	return RenderBox(CopyIcon+" Duplicates", strings.Join(lines, "\n"))
}

// RenderClassification renders a business type decision and its evidence.
func RenderClassification(c *model.ClassificationResult) string {
	businessType := c.BusinessType
	if businessType == "" {
		businessType = SubtleStyle.Render("unclassified")
	} else {
		businessType = BoldStyle.Render(businessType)
	}
	lines := []string{
		field("Type", businessType),
		field("Confidence", percent(c.Confidence)),
	}
	if c.NeedsReview {
		lines = append(lines, FormatWarning("Needs review"))
	}
	if len(c.Signals) > 0 {
		rows := make([][]string, len(c.Signals))
		for i, s := range c.Signals {
			rows[i] = []string{string(s.Type), s.BusinessType, fmt.Sprintf("%.2f", s.Weight), s.Rationale}
		}
		lines = append(lines, "", RenderTable([]string{"Signal", "Type", "Weight", "Rationale"}, rows))
	}
	return RenderBox(TagIcon+" Classification", strings.Join(lines, "\n"))
}

// RenderDecision renders everything the engine decided about one document.
func RenderDecision(record *model.DecisionRecord) string {
	parts := []string{RenderReceipt(&record.Receipt)}
	if record.Merchant.CanonicalName != "" {
		parts = append(parts, FormatInfo(fmt.Sprintf("Merchant %s (%s, %s)",
			record.Merchant.CanonicalName, record.Merchant.Method, percent(record.Merchant.Confidence))))
	}
	parts = append(parts, RenderVerdict(record.Verdict))
	if record.Match != nil {
		parts = append(parts, RenderMatch(record.Match))
	}
	if record.Classification != nil {
		parts = append(parts, RenderClassification(record.Classification))
	}
	if record.Stored {
		parts = append(parts, FormatSuccess("Stored as "+record.ReceiptID))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// RenderStats renders an ingest summary.
func RenderStats(stats service.IngestStats) string {
	lines := []string{
		field("Processed", fmt.Sprintf("%d", stats.Processed)),
		field("Stored", SuccessStyle.Render(fmt.Sprintf("%d", stats.Stored))),
		field("Duplicates", fmt.Sprintf("%d", stats.Duplicates)),
		field("Matched", SuccessStyle.Render(fmt.Sprintf("%d", stats.AutoMatched))),
		field("Review", WarningStyle.Render(fmt.Sprintf("%d", stats.NeedsReview))),
	}
	if stats.Failed > 0 {
		lines = append(lines, field("Failed", ErrorStyle.Render(fmt.Sprintf("%d", stats.Failed))))
	}
	lines = append(lines, field("Took", stats.Duration.Round(time.Millisecond).String()))
	return RenderBox("Ingest summary", strings.Join(lines, "\n"))
}

// RenderTable lays rows out in padded columns under a header.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	render := func(cells []string, style lipgloss.Style) string {
		out := make([]string, len(widths))
		for i := range widths {
			var cell string
			if i < len(cells) {
				cell = cells[i]
			}
			out[i] = TableCellStyle.Width(widths[i] + 2).Render(cell)
		}
		return style.Render(lipgloss.JoinHorizontal(lipgloss.Top, out...))
	}

	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, render(headers, TableHeaderStyle))
	for _, row := range rows {
		lines = append(lines, render(row, lipgloss.NewStyle()))
	}
	return strings.Join(lines, "\n")
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
