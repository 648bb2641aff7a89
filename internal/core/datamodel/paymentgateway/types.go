package paymentgateway

import (
	"errors"
	"fmt"
)

// TransactionStatus is the per-item transaction_status reported by the payouts API.
type TransactionStatus string

const (
	TransactionStatusSuccess    TransactionStatus = "SUCCESS"
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusProcessing TransactionStatus = "PROCESSING"
	TransactionStatusUnclaimed  TransactionStatus = "UNCLAIMED"
	TransactionStatusOnHold     TransactionStatus = "ONHOLD"
	TransactionStatusReturned   TransactionStatus = "RETURNED"
	TransactionStatusRefunded   TransactionStatus = "REFUNDED"
	TransactionStatusReversed   TransactionStatus = "REVERSED"
	TransactionStatusFailed     TransactionStatus = "FAILED"
	TransactionStatusBlocked    TransactionStatus = "BLOCKED"
	TransactionStatusDenied     TransactionStatus = "DENIED"
)

// BatchLine is one recipient in a batch payout request.
type BatchLine struct {
	SenderItemID string
	Receiver     string
	AmountCents  int64
	Currency     string
	Note         string
}

type BatchRequest struct {
	// SenderBatchID doubles as the PayPal-Request-Id header.
	SenderBatchID string
	EmailSubject  string
	EmailMessage  string
	Lines         []BatchLine
}

func (r *BatchRequest) Validate() error {
	if r.SenderBatchID == "" {
		return errors.New("sender_batch_id is required")
	}
	if len(r.Lines) == 0 {
		return errors.New("at least one line is required")
	}
	for i, line := range r.Lines {
		if line.SenderItemID == "" {
			return fmt.Errorf("line %d: sender_item_id is required", i)
		}
		if line.Receiver == "" {
			return fmt.Errorf("line %d: receiver is required", i)
		}
		if line.AmountCents <= 0 {
			return fmt.Errorf("line %d: amount must be greater than 0", i)
		}
		if line.Currency == "" {
			return fmt.Errorf("line %d: currency is required", i)
		}
	}
	return nil
}

type ItemResult struct {
	SenderItemID      string
	PayoutItemID      string
	TransactionID     string
	TransactionStatus TransactionStatus
	FailureReason     string
}

// BatchResult is the normalized view of both the create and the status responses.
type BatchResult struct {
	PayoutBatchID string
	BatchStatus   string
	Items         []ItemResult
}

// APIError is returned for any non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Name       string
	Message    string
	DebugID    string
}

func (e *APIError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("gateway returned %d %s: %s (debug_id=%s)", e.StatusCode, e.Name, e.Message, e.DebugID)
	}
	return fmt.Sprintf("gateway returned status %d", e.StatusCode)
}
