package payout

import (
	"errors"
	"time"

	errs "github.com/frahmantamala/partner-payout/internal"
)

type BatchStatus string

const (
	BatchStatusDraft      BatchStatus = "draft"
	BatchStatusSubmitted  BatchStatus = "submitted"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

type ItemStatus string

const (
	ItemStatusQueued    ItemStatus = "queued"
	ItemStatusSubmitted ItemStatus = "submitted"
	ItemStatusPaid      ItemStatus = "paid"
	ItemStatusFailed    ItemStatus = "failed"
	ItemStatusReturned  ItemStatus = "returned"
)

func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemStatusPaid, ItemStatusFailed, ItemStatusReturned:
		return true
	default:
		return false
	}
}

// Params are the logical inputs of a payout run.
type Params struct {
	PeriodStart        time.Time
	PeriodEnd          time.Time
	Currency           string
	PayoutMinimumCents int64
	NoteTemplate       string
}

// Item is one line of a preview, and the unit an admin approves.
type Item struct {
	PartnerID   string `json:"partner_id"`
	Receiver    string `json:"receiver"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type Summary struct {
	PeriodStart        string `json:"period_start"`
	PeriodEnd          string `json:"period_end"`
	Currency           string `json:"currency"`
	PayoutMinimumCents int64  `json:"payout_minimum_cents"`
	PartnerCount       int    `json:"partner_count"`
	TotalCents         int64  `json:"total_cents"`
	TotalAmount        string `json:"total_amount"`
}

type Batch struct {
	ID                 string      `json:"id"`
	PeriodStart        time.Time   `json:"period_start"`
	PeriodEnd          time.Time   `json:"period_end"`
	Currency           string      `json:"currency"`
	PayoutMinimumCents int64       `json:"payout_minimum_cents"`
	NoteTemplate       string      `json:"note_template"`
	Status             BatchStatus `json:"status"`
	IdempotencyKey     string      `json:"idempotency_key"`
	CreatedByAdminID   string      `json:"created_by_admin_id"`
	PaypalBatchID      string      `json:"paypal_batch_id,omitempty"`
	FailureReason      string      `json:"failure_reason,omitempty"`
	SubmittedAt        *time.Time  `json:"submitted_at,omitempty"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
}

type BatchItem struct {
	ID                 string     `json:"id"`
	BatchID            string     `json:"batch_id"`
	PartnerID          string     `json:"partner_id"`
	AmountCents        int64      `json:"amount_cents"`
	Currency           string     `json:"currency"`
	Receiver           string     `json:"paypal_receiver"`
	Status             ItemStatus `json:"status"`
	PaypalItemID       string     `json:"paypal_item_id,omitempty"`
	PaypalPayoutItemID string     `json:"paypal_payout_item_id,omitempty"`
	FailureReason      string     `json:"failure_reason,omitempty"`
	PaidAt             *time.Time `json:"paid_at,omitempty"`
}

type ReservationRequest struct {
	IdempotencyKey string
	Params         Params
	Items          []Item
	AdminID        string
	Snapshot       []byte
}

type Reservation struct {
	Batch    *Batch
	Items    []BatchItem
	Replayed bool
}

// ItemAcceptance carries the gateway identifiers for an accepted line.
type ItemAcceptance struct {
	SenderItemID  string
	PayoutItemID  string
	TransactionID string
}

// ItemOutcome is a mapped gateway status ready to be applied to an item.
type ItemOutcome struct {
	SenderItemID  string
	Status        ItemStatus
	PayoutItemID  string
	TransactionID string
	FailureReason string
}

// Conflict is a terminal item the gateway now reports with a different terminal status.
type Conflict struct {
	ItemID   string     `json:"item_id"`
	Recorded ItemStatus `json:"recorded"`
	Reported ItemStatus `json:"reported"`
}

// ApplyResult is what one reconciliation pass changed.
type ApplyResult struct {
	Status    BatchStatus
	Applied   int
	Unchanged int
	Conflicts []Conflict
	Completed bool
}

type UnmappedItem struct {
	SenderItemID  string `json:"sender_item_id"`
	GatewayStatus string `json:"gateway_status"`
}

type PreviewResult struct {
	IdempotencyKey string  `json:"idempotency_key"`
	Summary        Summary `json:"summary"`
	ItemsPreview   []Item  `json:"items_preview"`
}

type SubmitRequest struct {
	Params         Params
	Items          []Item
	IdempotencyKey string
	AdminID        string
}

// SubmitResult.Code is set only when the gateway never accepted the batch.
type SubmitResult struct {
	Success       bool           `json:"success"`
	BatchID       string         `json:"batch_id"`
	Status        BatchStatus    `json:"status"`
	PaypalBatchID string         `json:"paypal_batch_id,omitempty"`
	Summary       Summary        `json:"summary"`
	Replayed      bool           `json:"replayed"`
	FundsReserved bool           `json:"funds_reserved"`
	Code          errs.ErrorCode `json:"code,omitempty"`
	Message       string         `json:"message,omitempty"`
}

type ReconcileResult struct {
	Success       bool           `json:"success"`
	BatchID       string         `json:"batch_id"`
	Status        BatchStatus    `json:"status"`
	PaypalBatchID string         `json:"paypal_batch_id,omitempty"`
	Noop          bool           `json:"noop"`
	Applied       int            `json:"applied"`
	Unchanged     int            `json:"unchanged"`
	Conflicts     []Conflict     `json:"conflicts,omitempty"`
	Unmapped      []UnmappedItem `json:"unmapped,omitempty"`
}

type BatchDetail struct {
	Batch *Batch      `json:"batch"`
	Items []BatchItem `json:"items"`
}

type ReleaseResult struct {
	Success       bool        `json:"success"`
	BatchID       string      `json:"batch_id"`
	Status        BatchStatus `json:"status"`
	ReleasedItems int         `json:"released_items"`
	ReleasedCents int64       `json:"released_cents"`
}

var (
	ErrBatchNotFound      = errors.New("payout batch not found")
	ErrBatchNotReleasable = errors.New("payout batch cannot be released")
	ErrBatchStateChanged  = errors.New("payout batch changed state concurrently")
)
