package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	payoutrow "github.com/frahmantamala/partner-payout/internal/core/datamodel/payout"
	"github.com/frahmantamala/partner-payout/internal/ledger"
	ledgerstore "github.com/frahmantamala/partner-payout/internal/ledger/postgres"
	"github.com/frahmantamala/partner-payout/internal/payout"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BatchRepository persists payout batches and items. Every balance change it
// makes goes through the ledger store inside the same transaction.
type BatchRepository struct {
	db     *gorm.DB
	ledger *ledgerstore.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewBatchRepository(db *gorm.DB, store *ledgerstore.Store, logger *slog.Logger) *BatchRepository {
	return &BatchRepository{
		db:     db,
		ledger: store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func forUpdate() clause.Expression {
	return clause.Locking{Strength: "UPDATE"}
}

// Reserve creates the batch for an idempotency key and reserves every item in
// one transaction. A key that already exists returns the stored batch.
func (r *BatchRepository) Reserve(ctx context.Context, req payout.ReservationRequest) (*payout.Reservation, error) {
	var out *payout.Reservation

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := r.lockByKey(tx, req.IdempotencyKey)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, payout.ErrBatchNotFound) {
			return err
		}

		now := r.now()
		batch := payoutrow.Batch{
			ID:                 uuid.NewString(),
			PeriodStart:        req.Params.PeriodStart.UTC(),
			PeriodEnd:          req.Params.PeriodEnd.UTC(),
			Currency:           req.Params.Currency,
			PayoutMinimumCents: req.Params.PayoutMinimumCents,
			NoteTemplate:       req.Params.NoteTemplate,
			Status:             string(payout.BatchStatusDraft),
			IdempotencyKey:     req.IdempotencyKey,
			CreatedByAdminID:   req.AdminID,
			DryRunSnapshot:     datatypes.JSON(req.Snapshot),
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).Create(&batch)
		if res.Error != nil {
			return fmt.Errorf("insert payout batch: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// a concurrent submit committed first
			existing, err := r.lockByKey(tx, req.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("reload concurrent payout batch: %w", err)
			}
			out = existing
			return nil
		}

		items := append([]payout.Item(nil), req.Items...)
		sort.Slice(items, func(i, j int) bool { return items[i].PartnerID < items[j].PartnerID })

		store := r.ledger.WithTx(tx)
		rows := make([]payoutrow.Item, 0, len(items))
		for _, it := range items {
			row := payoutrow.Item{
				ID:             uuid.NewString(),
				BatchID:        batch.ID,
				PartnerID:      it.PartnerID,
				AmountCents:    it.AmountCents,
				Currency:       it.Currency,
				PaypalReceiver: it.Receiver,
				Status:         string(payout.ItemStatusQueued),
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert payout item for partner %s: %w", it.PartnerID, err)
			}
			if err := store.Reserve(ctx, ledger.Movement{
				PartnerID:   it.PartnerID,
				AmountCents: it.AmountCents,
				Currency:    it.Currency,
				ReferenceID: batch.ID,
				Memo:        "payout item " + row.ID,
			}); err != nil {
				return err
			}
			rows = append(rows, row)
		}

		res = tx.Model(&payoutrow.Batch{}).
			Where("id = ? AND status = ?", batch.ID, payout.BatchStatusDraft).
			Updates(map[string]interface{}{
				"status":       string(payout.BatchStatusSubmitted),
				"submitted_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return fmt.Errorf("mark payout batch submitted: %w", res.Error)
		}
		batch.Status = string(payout.BatchStatusSubmitted)
		batch.SubmittedAt = &now

		out = &payout.Reservation{Batch: toBatch(batch), Items: toItems(rows)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *BatchRepository) lockByKey(tx *gorm.DB, key string) (*payout.Reservation, error) {
	var row payoutrow.Batch
	err := tx.Clauses(forUpdate()).Where("idempotency_key = ?", key).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, payout.ErrBatchNotFound
		}
		return nil, fmt.Errorf("lock payout batch by key: %w", err)
	}
	items, err := r.itemsOf(tx, row.ID, false)
	if err != nil {
		return nil, err
	}
	return &payout.Reservation{Batch: toBatch(row), Items: toItems(items), Replayed: true}, nil
}

func (r *BatchRepository) itemsOf(tx *gorm.DB, batchID string, lock bool) ([]payoutrow.Item, error) {
	q := tx.Where("batch_id = ?", batchID).Order("partner_id ASC")
	if lock {
		q = q.Clauses(forUpdate())
	}
	var items []payoutrow.Item
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load payout items: %w", err)
	}
	return items, nil
}

func (r *BatchRepository) FindBatchByKey(ctx context.Context, idempotencyKey string) (*payout.Reservation, error) {
	var row payoutrow.Batch
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", idempotencyKey).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, payout.ErrBatchNotFound
		}
		return nil, err
	}
	items, err := r.itemsOf(r.db.WithContext(ctx), row.ID, false)
	if err != nil {
		return nil, err
	}
	return &payout.Reservation{Batch: toBatch(row), Items: toItems(items), Replayed: true}, nil
}

// RecordAcceptance stores the gateway batch id and moves accepted items to submitted.
func (r *BatchRepository) RecordAcceptance(ctx context.Context, batchID, paypalBatchID string, items []payout.ItemAcceptance) error {
	if paypalBatchID == "" {
		return errors.New("gateway batch id is required to record acceptance")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now()
		res := tx.Model(&payoutrow.Batch{}).
			Where("id = ? AND status = ? AND paypal_batch_id IS NULL", batchID, payout.BatchStatusSubmitted).
			Updates(map[string]interface{}{
				"paypal_batch_id": paypalBatchID,
				"status":          string(payout.BatchStatusProcessing),
				"updated_at":      now,
			})
		if res.Error != nil {
			return fmt.Errorf("record gateway batch id: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("batch %s: %w", batchID, payout.ErrBatchStateChanged)
		}

		for _, it := range items {
			if it.SenderItemID == "" {
				continue
			}
			res := tx.Model(&payoutrow.Item{}).
				Where("id = ? AND batch_id = ? AND status = ?", it.SenderItemID, batchID, payout.ItemStatusQueued).
				Updates(map[string]interface{}{
					"status":                string(payout.ItemStatusSubmitted),
					"paypal_payout_item_id": nullable(it.PayoutItemID),
					"paypal_item_id":        nullable(it.TransactionID),
					"updated_at":            now,
				})
			if res.Error != nil {
				return fmt.Errorf("record gateway item %s: %w", it.SenderItemID, res.Error)
			}
		}
		return nil
	})
}

// MarkSubmissionFailed records that the gateway never accepted the batch.
// Items and their reservations are left as they are.
func (r *BatchRepository) MarkSubmissionFailed(ctx context.Context, batchID, reason string) error {
	res := r.db.WithContext(ctx).Model(&payoutrow.Batch{}).
		Where("id = ? AND status = ?", batchID, payout.BatchStatusSubmitted).
		Updates(map[string]interface{}{
			"status":         string(payout.BatchStatusFailed),
			"failure_reason": reason,
			"updated_at":     r.now(),
		})
	if res.Error != nil {
		return fmt.Errorf("mark payout batch failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("batch %s: %w", batchID, payout.ErrBatchStateChanged)
	}
	return nil
}

func (r *BatchRepository) GetBatch(ctx context.Context, batchID string) (*payout.BatchDetail, error) {
	var row payoutrow.Batch
	err := r.db.WithContext(ctx).Where("id = ?", batchID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, payout.ErrBatchNotFound
		}
		return nil, err
	}
	items, err := r.itemsOf(r.db.WithContext(ctx), row.ID, false)
	if err != nil {
		return nil, err
	}
	return &payout.BatchDetail{Batch: toBatch(row), Items: toItems(items)}, nil
}

// ApplyReconciliation applies mapped gateway outcomes under a batch lock.
// Terminal items never move again; a disagreeing terminal report is returned
// as a conflict.
func (r *BatchRepository) ApplyReconciliation(ctx context.Context, batchID string, outcomes []payout.ItemOutcome) (*payout.ApplyResult, error) {
	result := &payout.ApplyResult{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch payoutrow.Batch
		if err := tx.Clauses(forUpdate()).Where("id = ?", batchID).Take(&batch).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return payout.ErrBatchNotFound
			}
			return fmt.Errorf("lock payout batch: %w", err)
		}
		rows, err := r.itemsOf(tx, batchID, true)
		if err != nil {
			return err
		}
		byID := make(map[string]*payoutrow.Item, len(rows))
		for i := range rows {
			byID[rows[i].ID] = &rows[i]
		}

		store := r.ledger.WithTx(tx)
		now := r.now()
		for _, o := range outcomes {
			item, ok := byID[o.SenderItemID]
			if !ok {
				r.logger.Warn("gateway reported an item this batch does not contain",
					"batch_id", batchID, "sender_item_id", o.SenderItemID)
				continue
			}
			changed, conflict, err := r.applyOutcome(ctx, tx, store, item, o, now)
			if err != nil {
				return err
			}
			switch {
			case conflict != nil:
				r.logger.Error("gateway reports a different terminal status for a settled item",
					"batch_id", batchID,
					"item_id", item.ID,
					"recorded", conflict.Recorded,
					"reported", conflict.Reported)
				result.Conflicts = append(result.Conflicts, *conflict)
			case changed:
				result.Applied++
			default:
				result.Unchanged++
			}
		}

		statuses := make([]payout.ItemStatus, len(rows))
		for i, row := range rows {
			statuses[i] = payout.ItemStatus(row.Status)
		}
		result.Status = payout.AggregateStatus(statuses)
		result.Completed = payout.AllTerminal(statuses)

		updates := map[string]interface{}{}
		if string(result.Status) != batch.Status {
			updates["status"] = string(result.Status)
		}
		if result.Completed && batch.CompletedAt == nil {
			updates["completed_at"] = now
		}
		if len(updates) == 0 {
			return nil
		}
		updates["updated_at"] = now
		if err := tx.Model(&payoutrow.Batch{}).Where("id = ?", batchID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update payout batch status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *BatchRepository) applyOutcome(ctx context.Context, tx *gorm.DB, store *ledgerstore.Store, item *payoutrow.Item, o payout.ItemOutcome, now time.Time) (bool, *payout.Conflict, error) {
	current := payout.ItemStatus(item.Status)
	if current.IsTerminal() {
		if o.Status.IsTerminal() && o.Status != current {
			return false, &payout.Conflict{ItemID: item.ID, Recorded: current, Reported: o.Status}, nil
		}
		return false, nil, nil
	}

	updates := map[string]interface{}{"updated_at": now}
	if o.PayoutItemID != "" && (item.PaypalPayoutItemID == nil || *item.PaypalPayoutItemID != o.PayoutItemID) {
		updates["paypal_payout_item_id"] = o.PayoutItemID
		item.PaypalPayoutItemID = &o.PayoutItemID
	}
	if o.TransactionID != "" && (item.PaypalItemID == nil || *item.PaypalItemID != o.TransactionID) {
		updates["paypal_item_id"] = o.TransactionID
		item.PaypalItemID = &o.TransactionID
	}

	movement := ledger.Movement{
		PartnerID:   item.PartnerID,
		AmountCents: item.AmountCents,
		Currency:    item.Currency,
		ReferenceID: item.BatchID,
		Memo:        "payout item " + item.ID,
	}

	switch o.Status {
	case payout.ItemStatusSubmitted, payout.ItemStatusQueued:
		if current == payout.ItemStatusQueued {
			updates["status"] = string(payout.ItemStatusSubmitted)
		}
	case payout.ItemStatusPaid:
		if err := store.Settle(ctx, movement); err != nil {
			return false, nil, fmt.Errorf("settle item %s: %w", item.ID, err)
		}
		updates["status"] = string(payout.ItemStatusPaid)
		updates["paid_at"] = now
	case payout.ItemStatusFailed, payout.ItemStatusReturned:
		if err := store.Reverse(ctx, movement); err != nil {
			return false, nil, fmt.Errorf("reverse item %s: %w", item.ID, err)
		}
		updates["status"] = string(o.Status)
		if o.FailureReason != "" {
			updates["failure_reason"] = o.FailureReason
		}
	default:
		return false, nil, fmt.Errorf("item %s: unsupported target status %q", item.ID, o.Status)
	}

	if len(updates) == 1 {
		return false, nil, nil
	}
	if err := tx.Model(&payoutrow.Item{}).Where("id = ?", item.ID).Updates(updates).Error; err != nil {
		return false, nil, fmt.Errorf("update payout item %s: %w", item.ID, err)
	}
	if s, ok := updates["status"].(string); ok {
		item.Status = s
		return true, nil, nil
	}
	// only gateway identifiers were filled in
	return false, nil, nil
}

// ListReconcilable returns accepted batches that still have items in flight,
// oldest submission first.
func (r *BatchRepository) ListReconcilable(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := r.db.WithContext(ctx).
		Table("payout_batches AS b").
		Joins("JOIN payout_items AS i ON i.batch_id = b.id").
		Where("b.paypal_batch_id IS NOT NULL AND i.status IN ?",
			[]string{string(payout.ItemStatusQueued), string(payout.ItemStatusSubmitted)}).
		Group("b.id, b.submitted_at").
		Order("b.submitted_at ASC").
		Limit(limit).
		Pluck("b.id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list reconcilable batches: %w", err)
	}
	return ids, nil
}

// ListStaleSubmitted returns batches that reserved funds before cutoff but
// never recorded a gateway batch id.
func (r *BatchRepository) ListStaleSubmitted(ctx context.Context, cutoff time.Time) ([]payout.Batch, error) {
	var rows []payoutrow.Batch
	err := r.db.WithContext(ctx).
		Where("status = ? AND paypal_batch_id IS NULL AND submitted_at < ?", payout.BatchStatusSubmitted, cutoff.UTC()).
		Order("submitted_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list stale batches: %w", err)
	}
	out := make([]payout.Batch, len(rows))
	for i, row := range rows {
		out[i] = *toBatch(row)
	}
	return out, nil
}

// ReleaseBatch reverses every unsettled item of a failed batch the gateway
// never accepted.
func (r *BatchRepository) ReleaseBatch(ctx context.Context, batchID, reason string) (*payout.ReleaseResult, error) {
	result := &payout.ReleaseResult{BatchID: batchID}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch payoutrow.Batch
		if err := tx.Clauses(forUpdate()).Where("id = ?", batchID).Take(&batch).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return payout.ErrBatchNotFound
			}
			return fmt.Errorf("lock payout batch: %w", err)
		}
		if batch.Status != string(payout.BatchStatusFailed) || batch.PaypalBatchID != nil {
			return fmt.Errorf("batch %s in status %s: %w", batchID, batch.Status, payout.ErrBatchNotReleasable)
		}

		rows, err := r.itemsOf(tx, batchID, true)
		if err != nil {
			return err
		}

		store := r.ledger.WithTx(tx)
		now := r.now()
		for _, item := range rows {
			if payout.ItemStatus(item.Status).IsTerminal() {
				continue
			}
			if err := store.Reverse(ctx, ledger.Movement{
				PartnerID:   item.PartnerID,
				AmountCents: item.AmountCents,
				Currency:    item.Currency,
				ReferenceID: batchID,
				Memo:        "released payout item " + item.ID,
			}); err != nil {
				return fmt.Errorf("reverse item %s: %w", item.ID, err)
			}
			if err := tx.Model(&payoutrow.Item{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
				"status":         string(payout.ItemStatusFailed),
				"failure_reason": "released: " + reason,
				"updated_at":     now,
			}).Error; err != nil {
				return fmt.Errorf("release item %s: %w", item.ID, err)
			}
			result.ReleasedItems++
			result.ReleasedCents += item.AmountCents
		}

		if batch.CompletedAt == nil {
			if err := tx.Model(&payoutrow.Batch{}).Where("id = ?", batchID).Updates(map[string]interface{}{
				"completed_at": now,
				"updated_at":   now,
			}).Error; err != nil {
				return fmt.Errorf("close released batch: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Success = true
	result.Status = payout.BatchStatusFailed
	return result, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toBatch(row payoutrow.Batch) *payout.Batch {
	return &payout.Batch{
		ID:                 row.ID,
		PeriodStart:        row.PeriodStart,
		PeriodEnd:          row.PeriodEnd,
		Currency:           row.Currency,
		PayoutMinimumCents: row.PayoutMinimumCents,
		NoteTemplate:       row.NoteTemplate,
		Status:             payout.BatchStatus(row.Status),
		IdempotencyKey:     row.IdempotencyKey,
		CreatedByAdminID:   row.CreatedByAdminID,
		PaypalBatchID:      deref(row.PaypalBatchID),
		FailureReason:      deref(row.FailureReason),
		SubmittedAt:        row.SubmittedAt,
		CompletedAt:        row.CompletedAt,
		CreatedAt:          row.CreatedAt,
	}
}

func toItems(rows []payoutrow.Item) []payout.BatchItem {
	items := make([]payout.BatchItem, len(rows))
	for i, row := range rows {
		items[i] = payout.BatchItem{
			ID:                 row.ID,
			BatchID:            row.BatchID,
			PartnerID:          row.PartnerID,
			AmountCents:        row.AmountCents,
			Currency:           row.Currency,
			Receiver:           row.PaypalReceiver,
			Status:             payout.ItemStatus(row.Status),
			PaypalItemID:       deref(row.PaypalItemID),
			PaypalPayoutItemID: deref(row.PaypalPayoutItemID),
			FailureReason:      deref(row.FailureReason),
			PaidAt:             row.PaidAt,
		}
	}
	return items
}
