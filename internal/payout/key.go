package payout

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

type keyItem struct {
	PartnerID   string `json:"partner_id"`
	Receiver    string `json:"receiver"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type keyDocument struct {
	PeriodStart        string    `json:"period_start"`
	PeriodEnd          string    `json:"period_end"`
	Currency           string    `json:"currency"`
	PayoutMinimumCents int64     `json:"payout_minimum_cents"`
	NoteTemplate       string    `json:"note_template"`
	Items              []keyItem `json:"items"`
}

// DeriveIdempotencyKey fingerprints a payout run. Item order does not matter.
func DeriveIdempotencyKey(p Params, items []Item) string {
	canonical := make([]keyItem, len(items))
	for i, it := range items {
		canonical[i] = keyItem{
			PartnerID:   it.PartnerID,
			Receiver:    strings.TrimSpace(it.Receiver),
			AmountCents: it.AmountCents,
			Currency:    strings.ToUpper(it.Currency),
		}
	}
	sort.Slice(canonical, func(i, j int) bool {
		a, b := canonical[i], canonical[j]
		if a.PartnerID != b.PartnerID {
			return a.PartnerID < b.PartnerID
		}
		if a.AmountCents != b.AmountCents {
			return a.AmountCents < b.AmountCents
		}
		return a.Receiver < b.Receiver
	})

	doc := keyDocument{
		PeriodStart:        p.PeriodStart.UTC().Format(time.DateOnly),
		PeriodEnd:          p.PeriodEnd.UTC().Format(time.DateOnly),
		Currency:           strings.ToUpper(p.Currency),
		PayoutMinimumCents: p.PayoutMinimumCents,
		NoteTemplate:       p.NoteTemplate,
		Items:              canonical,
	}

	// Marshal of a struct of strings and ints cannot fail.
	raw, _ := json.Marshal(doc)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
