package report

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/frahmantamala/partner-payout/internal/payout"
	"github.com/frahmantamala/partner-payout/pkg/money"
	"github.com/jmoiron/sqlx"
)

type summaryRow struct {
	BatchID       string         `db:"id"`
	PeriodStart   time.Time      `db:"period_start"`
	PeriodEnd     time.Time      `db:"period_end"`
	Currency      string         `db:"currency"`
	Status        string         `db:"status"`
	PaypalBatchID sql.NullString `db:"paypal_batch_id"`
	SubmittedAt   sql.NullTime   `db:"submitted_at"`
	CompletedAt   sql.NullTime   `db:"completed_at"`
	ItemCount     int64          `db:"item_count"`
	TotalCents    int64          `db:"total_cents"`
	PaidCents     int64          `db:"paid_cents"`
	FailedCents   int64          `db:"failed_cents"`
	PendingItems  int64          `db:"pending_items"`
}

type itemRow struct {
	ID                 string         `db:"id"`
	PartnerID          string         `db:"partner_id"`
	Receiver           string         `db:"paypal_receiver"`
	AmountCents        int64          `db:"amount_cents"`
	Currency           string         `db:"currency"`
	Status             string         `db:"status"`
	PaypalItemID       sql.NullString `db:"paypal_item_id"`
	PaypalPayoutItemID sql.NullString `db:"paypal_payout_item_id"`
	FailureReason      sql.NullString `db:"failure_reason"`
	PaidAt             sql.NullTime   `db:"paid_at"`
}

const summaryQuery = `
SELECT b.id, b.period_start, b.period_end, b.currency, b.status,
       b.paypal_batch_id, b.submitted_at, b.completed_at,
       COUNT(i.id) AS item_count,
       CAST(COALESCE(SUM(i.amount_cents), 0) AS BIGINT) AS total_cents,
       CAST(COALESCE(SUM(CASE WHEN i.status = 'paid' THEN i.amount_cents ELSE 0 END), 0) AS BIGINT) AS paid_cents,
       CAST(COALESCE(SUM(CASE WHEN i.status IN ('failed', 'returned') THEN i.amount_cents ELSE 0 END), 0) AS BIGINT) AS failed_cents,
       CAST(COALESCE(SUM(CASE WHEN i.status IN ('queued', 'submitted') THEN 1 ELSE 0 END), 0) AS BIGINT) AS pending_items
FROM payout_batches b
LEFT JOIN payout_items i ON i.batch_id = b.id
WHERE b.period_start >= ? AND b.period_end <= ?
GROUP BY b.id, b.period_start, b.period_end, b.currency, b.status,
         b.paypal_batch_id, b.submitted_at, b.completed_at
ORDER BY b.period_start, b.id`

const itemsQuery = `
SELECT id, partner_id, paypal_receiver, amount_cents, currency, status,
       paypal_item_id, paypal_payout_item_id, failure_reason, paid_at
FROM payout_items
WHERE batch_id = ?
ORDER BY partner_id`

// Exporter renders read-only CSV projections of payout batches.
type Exporter struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func NewExporter(db *sqlx.DB, logger *slog.Logger) *Exporter {
	return &Exporter{db: db, logger: logger}
}

// SummaryCSV writes one row per batch whose period lies inside p.
func (e *Exporter) SummaryCSV(ctx context.Context, w io.Writer, p Period) (int, error) {
	var rows []summaryRow
	if err := e.db.SelectContext(ctx, &rows, e.db.Rebind(summaryQuery), p.From.UTC(), p.To.UTC()); err != nil {
		return 0, fmt.Errorf("query batch summary: %w", err)
	}

	out := csv.NewWriter(w)
	if err := out.Write(SummaryColumns); err != nil {
		return 0, err
	}
	for _, r := range rows {
		record := []string{
			r.BatchID,
			formatDate(r.PeriodStart),
			formatDate(r.PeriodEnd),
			r.Currency,
			r.Status,
			strconv.FormatInt(r.ItemCount, 10),
			strconv.FormatInt(r.TotalCents, 10),
			money.FormatCents(r.TotalCents),
			strconv.FormatInt(r.PaidCents, 10),
			strconv.FormatInt(r.FailedCents, 10),
			strconv.FormatInt(r.PendingItems, 10),
			r.PaypalBatchID.String,
			formatNullTime(r.SubmittedAt),
			formatNullTime(r.CompletedAt),
		}
		if err := out.Write(record); err != nil {
			return 0, err
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return 0, fmt.Errorf("write summary csv: %w", err)
	}

	e.logger.Info("payout summary exported",
		"from", formatDate(p.From),
		"to", formatDate(p.To),
		"batches", len(rows))
	return len(rows), nil
}

// ItemsCSV writes the items of one batch. When masked is set the raw
// receiver never appears in the output.
func (e *Exporter) ItemsCSV(ctx context.Context, w io.Writer, batchID string, masked bool) (int, error) {
	var exists int
	if err := e.db.GetContext(ctx, &exists, e.db.Rebind(`SELECT COUNT(*) FROM payout_batches WHERE id = ?`), batchID); err != nil {
		return 0, fmt.Errorf("look up batch %s: %w", batchID, err)
	}
	if exists == 0 {
		return 0, fmt.Errorf("export batch %s: %w", batchID, payout.ErrBatchNotFound)
	}

	var rows []itemRow
	if err := e.db.SelectContext(ctx, &rows, e.db.Rebind(itemsQuery), batchID); err != nil {
		return 0, fmt.Errorf("query batch items: %w", err)
	}

	out := csv.NewWriter(w)
	if err := out.Write(ItemColumns); err != nil {
		return 0, err
	}
	for _, r := range rows {
		receiver := r.Receiver
		reason := r.FailureReason.String
		if masked {
			reason = redact(reason, r.Receiver)
			receiver = MaskReceiver(r.Receiver)
		}
		record := []string{
			r.ID,
			r.PartnerID,
			receiver,
			strconv.FormatInt(r.AmountCents, 10),
			money.FormatCents(r.AmountCents),
			r.Currency,
			r.Status,
			r.PaypalItemID.String,
			r.PaypalPayoutItemID.String,
			reason,
			formatNullTime(r.PaidAt),
		}
		if err := out.Write(record); err != nil {
			return 0, err
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return 0, fmt.Errorf("write items csv: %w", err)
	}

	e.logger.Info("payout items exported", "batch_id", batchID, "items", len(rows), "masked", masked)
	return len(rows), nil
}

func formatNullTime(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return formatTime(&t.Time)
}
