package payout

import (
	"time"

	"gorm.io/datatypes"
)

type Batch struct {
	ID                 string         `gorm:"column:id;primaryKey;size:36"`
	PeriodStart        time.Time      `gorm:"column:period_start;not null"`
	PeriodEnd          time.Time      `gorm:"column:period_end;not null"`
	Currency           string         `gorm:"column:currency;not null;size:3"`
	PayoutMinimumCents int64          `gorm:"column:payout_minimum_cents;not null"`
	NoteTemplate       string         `gorm:"column:note_template"`
	Status             string         `gorm:"column:status;not null;size:16;index"`
	IdempotencyKey     string         `gorm:"column:idempotency_key;not null;size:64;uniqueIndex"`
	CreatedByAdminID   string         `gorm:"column:created_by_admin_id;not null"`
	DryRunSnapshot     datatypes.JSON `gorm:"column:dry_run_snapshot"`
	PaypalBatchID      *string        `gorm:"column:paypal_batch_id"`
	FailureReason      *string        `gorm:"column:failure_reason"`
	SubmittedAt        *time.Time     `gorm:"column:submitted_at"`
	CompletedAt        *time.Time     `gorm:"column:completed_at"`
	CreatedAt          time.Time      `gorm:"column:created_at"`
	UpdatedAt          time.Time      `gorm:"column:updated_at"`
}

func (Batch) TableName() string {
	return "payout_batches"
}

type Item struct {
	ID                 string     `gorm:"column:id;primaryKey;size:36"`
	BatchID            string     `gorm:"column:batch_id;not null;size:36;uniqueIndex:ux_payout_items_batch_partner,priority:1"`
	PartnerID          string     `gorm:"column:partner_id;not null;size:64;uniqueIndex:ux_payout_items_batch_partner,priority:2"`
	AmountCents        int64      `gorm:"column:amount_cents;not null"`
	Currency           string     `gorm:"column:currency;not null;size:3"`
	PaypalReceiver     string     `gorm:"column:paypal_receiver;not null"`
	Status             string     `gorm:"column:status;not null;size:16"`
	PaypalItemID       *string    `gorm:"column:paypal_item_id"`
	PaypalPayoutItemID *string    `gorm:"column:paypal_payout_item_id"`
	FailureReason      *string    `gorm:"column:failure_reason"`
	PaidAt             *time.Time `gorm:"column:paid_at"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at"`
}

func (Item) TableName() string {
	return "payout_items"
}
