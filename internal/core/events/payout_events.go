package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeBatchSubmitted        = "payout.batch.submitted"
	EventTypeBatchSubmissionFailed = "payout.batch.submission_failed"
	EventTypeBatchReconciled       = "payout.batch.reconciled"
	EventTypeBatchReleased         = "payout.batch.released"
)

type BatchSubmittedEvent struct {
	BaseEvent
	BatchID       string `json:"batch_id"`
	PaypalBatchID string `json:"paypal_batch_id"`
	ItemCount     int    `json:"item_count"`
	TotalCents    int64  `json:"total_cents"`
	Currency      string `json:"currency"`
}

func NewBatchSubmittedEvent(batchID, paypalBatchID string, itemCount int, totalCents int64, currency string) *BatchSubmittedEvent {
	return &BatchSubmittedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeBatchSubmitted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"batch_id":        batchID,
				"paypal_batch_id": paypalBatchID,
				"item_count":      itemCount,
				"total_cents":     totalCents,
				"currency":        currency,
			},
		},
		BatchID:       batchID,
		PaypalBatchID: paypalBatchID,
		ItemCount:     itemCount,
		TotalCents:    totalCents,
		Currency:      currency,
	}
}

type BatchSubmissionFailedEvent struct {
	BaseEvent
	BatchID       string `json:"batch_id"`
	FailureReason string `json:"failure_reason"`
	PendingCents  int64  `json:"pending_cents"`
}

func NewBatchSubmissionFailedEvent(batchID, failureReason string, pendingCents int64) *BatchSubmissionFailedEvent {
	return &BatchSubmissionFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeBatchSubmissionFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"batch_id":       batchID,
				"failure_reason": failureReason,
				"pending_cents":  pendingCents,
			},
		},
		BatchID:       batchID,
		FailureReason: failureReason,
		PendingCents:  pendingCents,
	}
}

type BatchReconciledEvent struct {
	BaseEvent
	BatchID   string `json:"batch_id"`
	Status    string `json:"status"`
	Applied   int    `json:"applied"`
	Conflicts int    `json:"conflicts"`
}

func NewBatchReconciledEvent(batchID, status string, applied, conflicts int) *BatchReconciledEvent {
	return &BatchReconciledEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeBatchReconciled,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"batch_id":  batchID,
				"status":    status,
				"applied":   applied,
				"conflicts": conflicts,
			},
		},
		BatchID:   batchID,
		Status:    status,
		Applied:   applied,
		Conflicts: conflicts,
	}
}

type BatchReleasedEvent struct {
	BaseEvent
	BatchID       string `json:"batch_id"`
	AdminID       string `json:"admin_id"`
	ReleasedCents int64  `json:"released_cents"`
}

func NewBatchReleasedEvent(batchID, adminID string, releasedCents int64) *BatchReleasedEvent {
	return &BatchReleasedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeBatchReleased,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"batch_id":       batchID,
				"admin_id":       adminID,
				"released_cents": releasedCents,
			},
		},
		BatchID:       batchID,
		AdminID:       adminID,
		ReleasedCents: releasedCents,
	}
}
