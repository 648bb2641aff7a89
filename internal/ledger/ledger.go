package ledger

import (
	"errors"
	"fmt"
	"time"
)

type TxType string

const (
	TxTypeEarningAccrual TxType = "earning_accrual"
	TxTypePayoutDebit    TxType = "payout_debit"
	// A payout_reversal leaves pending. A negative amount records a paid
	// item, a positive one returns the funds to available.
	TxTypePayoutReversal TxType = "payout_reversal"
)

const (
	ReferenceTypeEarningEvent = "earning_event"
	ReferenceTypePayoutBatch  = "payout_batch"
)

type Entry struct {
	ID            int64     `json:"id"`
	PartnerID     string    `json:"partner_id"`
	Type          TxType    `json:"type"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   string    `json:"reference_id"`
	Memo          string    `json:"memo,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Balance struct {
	PartnerID      string    `json:"partner_id"`
	AvailableCents int64     `json:"available_cents"`
	PendingCents   int64     `json:"pending_cents"`
	Currency       string    `json:"currency"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

func (b Balance) TotalCents() int64 {
	return b.AvailableCents + b.PendingCents
}

// Movement is one payout-side balance change for a single item.
type Movement struct {
	PartnerID   string
	AmountCents int64
	Currency    string
	// ReferenceID is the payout batch id.
	ReferenceID string
	Memo        string
}

func (m Movement) Validate() error {
	if m.PartnerID == "" {
		return errors.New("partner id is required")
	}
	if m.ReferenceID == "" {
		return errors.New("reference id is required")
	}
	if m.AmountCents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// AccrualInput is the inbound interface for the earnings producer.
type AccrualInput struct {
	PartnerID     string
	AmountCents   int64
	Currency      string
	SourceEventID string
	Memo          string
}

// Drift compares the stored balance with the one replayed from the log.
type Drift struct {
	PartnerID     string  `json:"partner_id"`
	Stored        Balance `json:"stored"`
	Reconstructed Balance `json:"reconstructed"`
	Consistent    bool    `json:"consistent"`
	EntryCount    int     `json:"entry_count"`
}

var (
	ErrInsufficientFunds = errors.New("insufficient available balance")
	ErrPendingUnderflow  = errors.New("pending balance lower than movement amount")
	ErrBalanceNotFound   = errors.New("partner balance not found")
	ErrInvalidAmount     = errors.New("amount must be greater than 0")
	ErrCurrencyMismatch  = errors.New("currency does not match partner balance")
)

// InsufficientFundsError names the partner whose reservation failed.
type InsufficientFundsError struct {
	PartnerID      string
	RequestedCents int64
	Currency       string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("partner %s cannot reserve %d %s: %v", e.PartnerID, e.RequestedCents, e.Currency, ErrInsufficientFunds)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// Replay rebuilds a balance from ledger entries alone.
func Replay(partnerID, currency string, entries []Entry) Balance {
	b := Balance{PartnerID: partnerID, Currency: currency}
	for _, e := range entries {
		switch e.Type {
		case TxTypeEarningAccrual:
			b.AvailableCents += e.AmountCents
		case TxTypePayoutDebit:
			b.AvailableCents += e.AmountCents
			b.PendingCents -= e.AmountCents
		case TxTypePayoutReversal:
			if e.AmountCents < 0 {
				b.PendingCents += e.AmountCents
				continue
			}
			b.PendingCents -= e.AmountCents
			b.AvailableCents += e.AmountCents
		}
	}
	return b
}
