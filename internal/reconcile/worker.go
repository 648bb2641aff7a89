package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	errs "github.com/frahmantamala/partner-payout/internal"
	gw "github.com/frahmantamala/partner-payout/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/partner-payout/internal/core/events"
	"github.com/frahmantamala/partner-payout/internal/payout"
)

type Repository interface {
	GetBatch(ctx context.Context, batchID string) (*payout.BatchDetail, error)
	ApplyReconciliation(ctx context.Context, batchID string, outcomes []payout.ItemOutcome) (*payout.ApplyResult, error)
}

type Gateway interface {
	GetBatch(ctx context.Context, payoutBatchID string) (*gw.BatchResult, error)
}

// Worker applies the gateway's view of a batch to local state.
type Worker struct {
	repo      Repository
	gateway   Gateway
	publisher events.Publisher
	logger    *slog.Logger
}

func NewWorker(repo Repository, gateway Gateway, publisher events.Publisher, logger *slog.Logger) *Worker {
	return &Worker{repo: repo, gateway: gateway, publisher: publisher, logger: logger}
}

// Reconcile is safe to call any number of times for the same batch.
func (w *Worker) Reconcile(ctx context.Context, batchID string) (*payout.ReconcileResult, error) {
	detail, err := w.repo.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, payout.ErrBatchNotFound) {
			return nil, errs.ErrBatchNotFound
		}
		return nil, errs.NewInternalError("failed to load payout batch", err)
	}

	batch := detail.Batch
	if batch.PaypalBatchID == "" {
		w.logger.Info("batch has no gateway id, nothing to reconcile", "batch_id", batchID, "status", batch.Status)
		return &payout.ReconcileResult{Success: true, BatchID: batchID, Status: batch.Status, Noop: true}, nil
	}

	remote, err := w.gateway.GetBatch(ctx, batch.PaypalBatchID)
	if err != nil {
		w.logger.Error("failed to fetch gateway batch status",
			"batch_id", batchID,
			"paypal_batch_id", batch.PaypalBatchID,
			"error", err)
		return nil, errs.NewExternalError("payment gateway status lookup failed", errs.ErrCodeGatewayUnavailable, err)
	}

	result := &payout.ReconcileResult{BatchID: batchID, PaypalBatchID: batch.PaypalBatchID}
	outcomes := make([]payout.ItemOutcome, 0, len(remote.Items))
	for _, it := range remote.Items {
		status, err := payout.MapGatewayStatus(it.TransactionStatus)
		if err != nil {
			w.logger.Warn("leaving item untouched, gateway status is not mapped",
				"batch_id", batchID,
				"sender_item_id", it.SenderItemID,
				"gateway_status", string(it.TransactionStatus))
			result.Unmapped = append(result.Unmapped, payout.UnmappedItem{
				SenderItemID:  it.SenderItemID,
				GatewayStatus: string(it.TransactionStatus),
			})
			continue
		}
		outcomes = append(outcomes, payout.ItemOutcome{
			SenderItemID:  it.SenderItemID,
			Status:        status,
			PayoutItemID:  it.PayoutItemID,
			TransactionID: it.TransactionID,
			FailureReason: it.FailureReason,
		})
	}

	applied, err := w.repo.ApplyReconciliation(ctx, batchID, outcomes)
	if err != nil {
		w.logger.Error("failed to apply reconciliation", "batch_id", batchID, "error", err)
		return nil, errs.NewInternalError(fmt.Sprintf("failed to apply gateway results for batch %s", batchID), err)
	}

	result.Success = true
	result.Status = applied.Status
	result.Applied = applied.Applied
	result.Unchanged = applied.Unchanged
	result.Conflicts = applied.Conflicts

	w.logger.Info("payout batch reconciled",
		"batch_id", batchID,
		"paypal_batch_id", batch.PaypalBatchID,
		"status", result.Status,
		"applied", result.Applied,
		"unchanged", result.Unchanged,
		"conflicts", len(result.Conflicts),
		"unmapped", len(result.Unmapped))

	if result.Applied > 0 || len(result.Conflicts) > 0 {
		w.publish(ctx, events.NewBatchReconciledEvent(batchID, string(result.Status), result.Applied, len(result.Conflicts)))
	}
	return result, nil
}

func (w *Worker) publish(ctx context.Context, event events.Event) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.Publish(ctx, event); err != nil {
		w.logger.Error("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}
