package render

import (
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/trebuchet-org/treb-plan/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	headerStyle    = color.New(color.Bold, color.FgHiWhite)
	addressStyle   = color.New(color.FgWhite)
	faintStyle     = color.New(color.Faint)
	confirmedStyle = color.New(color.FgGreen)
	pendingStyle   = color.New(color.FgYellow)
	failedStyle    = color.New(color.FgRed)
	nameStyle      = color.New(color.FgCyan, color.Bold)
)

// FormatError formats an error message with the error icon
func FormatError(message string) string {
	if len(message) > 0 {
		message = strings.ToUpper(message[:1]) + message[1:]
	}
	return failedStyle.Sprintf("❌ %s", message)
}

// FormatSuccess formats a success message with the success icon
func FormatSuccess(message string) string {
	return confirmedStyle.Sprintf("✅ %s", message)
}

// FormatWarning formats a warning message with the warning icon
func FormatWarning(message string) string {
	return pendingStyle.Sprintf("⚠️  %s", message)
}

// formatState renders a step state as a coloured title-cased word
func formatState(state domain.StepState) string {
	label := cases.Title(language.English).String(string(state))
	switch state {
	case domain.StateConfirmed:
		return confirmedStyle.Sprint(label)
	case domain.StateFailed:
		return failedStyle.Sprint(label)
	default:
		return pendingStyle.Sprint(label)
	}
}

func formatOutcome(status domain.OutcomeStatus) string {
	label := cases.Title(language.English).String(string(status))
	if status == domain.OutcomeSuccess {
		return confirmedStyle.Sprint(label)
	}
	return failedStyle.Sprint(label)
}

// shortHash abbreviates a 0x-prefixed hash for table display
func shortHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:10] + "…" + h[len(h)-4:]
}

// newTable returns a borderless table in the style used by every command
func newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Options.DrawBorder = false
	t.Style().Options.SeparateColumns = false
	t.Style().Options.SeparateRows = false
	t.Style().Box = table.BoxStyle{
		PaddingRight:     "   ",
		MiddleHorizontal: "─",
	}
	styled := make(table.Row, len(header))
	for i, h := range header {
		styled[i] = headerStyle.Sprint(h)
	}
	t.AppendHeader(styled)
	return t
}
