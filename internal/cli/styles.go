// Package cli provides styled terminal output using lipgloss.
package cli

import (
	"github.com/charmbracelet/lipgloss"
)

// Palette.
var (
	accent  = lipgloss.Color("#2A9D8F")
	good    = lipgloss.Color("#4ECDC4")
	caution = lipgloss.Color("#FFE66D")
	bad     = lipgloss.Color("#FF6B6B")
	note    = lipgloss.Color("#95E1D3")
	muted   = lipgloss.Color("#666666")
	rule    = lipgloss.Color("#333333")
)

var (
	// SuccessStyle marks stored receipts and automatic matches.
	SuccessStyle = lipgloss.NewStyle().Foreground(good)
	// WarningStyle marks anything waiting on a human.
	WarningStyle = lipgloss.NewStyle().Foreground(caution)
	// ErrorStyle marks failures and rejected matches.
	ErrorStyle  = lipgloss.NewStyle().Foreground(bad)
	InfoStyle   = lipgloss.NewStyle().Foreground(note)
	SubtleStyle = lipgloss.NewStyle().Foreground(muted)
	BoldStyle   = lipgloss.NewStyle().Bold(true)

	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).MarginBottom(1)

	// BoxStyle frames one receipt, match or verdict.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(rule).
			Padding(0, 1)

	// LabelStyle right-aligns field labels inside a box.
	LabelStyle = lipgloss.NewStyle().
			Foreground(muted).
			Width(12).
			Align(lipgloss.Right).
			MarginRight(1)

	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(rule)
	TableCellStyle = lipgloss.NewStyle().PaddingRight(2)
)

// Icons.
const (
	ReceiptIcon = "🧾"
	LinkIcon    = "🔗"
	CopyIcon    = "📑"
	TagIcon     = "🏷️"

	okMark   = "✓"
	failMark = "✗"
	warnMark = "⚠️"
	infoMark = "ℹ️"
)

func withIcon(style lipgloss.Style, icon, message string) string {
	return style.Render(icon + " " + message)
}

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string { return withIcon(SuccessStyle, okMark, message) }

// FormatError formats an error message with icon.
func FormatError(message string) string { return withIcon(ErrorStyle, failMark, message) }

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string { return withIcon(WarningStyle, warnMark, message) }

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string { return withIcon(InfoStyle, infoMark, message) }

// FormatTitle formats a section title.
func FormatTitle(title string) string { return withIcon(TitleStyle, ReceiptIcon, title) }

// RenderBox renders content under a title inside a rounded border.
func RenderBox(title, content string) string {
	heading := TitleStyle.UnsetMargins().Render(title)
	return BoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, heading, content))
}
