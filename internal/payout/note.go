package payout

import (
	"strings"
	"time"
)

const DefaultNoteTemplate = "Partner payout for {period_start} to {period_end}"

// RenderNote fills {period_start}, {period_end} and {currency} in a note template.
func RenderNote(template string, p Params) string {
	if template == "" {
		template = DefaultNoteTemplate
	}
	return strings.NewReplacer(
		"{period_start}", p.PeriodStart.UTC().Format(time.DateOnly),
		"{period_end}", p.PeriodEnd.UTC().Format(time.DateOnly),
		"{currency}", strings.ToUpper(p.Currency),
	).Replace(template)
}
