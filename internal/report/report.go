package report

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Period bounds a summary export by batch period, inclusive on both ends.
type Period struct {
	From time.Time
	To   time.Time
}

var (
	SummaryColumns = []string{
		"batch_id", "period_start", "period_end", "currency", "status",
		"item_count", "total_cents", "total_amount", "paid_cents", "failed_cents", "pending_items",
		"paypal_batch_id", "submitted_at", "completed_at",
	}
	ItemColumns = []string{
		"item_id", "partner_id", "receiver", "amount_cents", "amount", "currency", "status",
		"paypal_item_id", "paypal_payout_item_id", "failure_reason", "paid_at",
	}
)

// MaskReceiver hides a payout receiver while keeping it recognizable:
// jane@example.com becomes j***@e***.com. The result never equals the input.
func MaskReceiver(receiver string) string {
	masked := maskReceiver(receiver)
	if masked == receiver {
		return strings.Repeat("*", utf8.RuneCountInString(receiver)+1)
	}
	return masked
}

func maskReceiver(receiver string) string {
	if utf8.RuneCountInString(receiver) <= 4 {
		return "****"
	}

	at := strings.LastIndex(receiver, "@")
	if at <= 0 || at == len(receiver)-1 {
		runes := []rune(receiver)
		return "***" + string(runes[len(runes)-2:])
	}

	local, domain := receiver[:at], receiver[at+1:]
	masked := firstRune(local) + "***@"
	if dot := strings.LastIndex(domain, "."); dot > 0 {
		return masked + firstRune(domain[:dot]) + "***" + domain[dot:]
	}
	return masked + firstRune(domain) + "***"
}

// redact removes every occurrence of the raw receiver from free text,
// ignoring case since gateways echo addresses back in their own casing.
func redact(text, receiver string) string {
	if text == "" || receiver == "" {
		return text
	}
	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(receiver))
	return re.ReplaceAllLiteralString(text, MaskReceiver(receiver))
}

func firstRune(s string) string {
	r, _ := utf8.DecodeRuneInString(s)
	return string(r)
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
