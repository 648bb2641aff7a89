package ledger

import "time"

// Transaction is append-only. Rows are never updated or deleted.
type Transaction struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	PartnerID     string    `gorm:"column:partner_id;not null;size:64;uniqueIndex:ux_ledger_transition,priority:1"`
	Type          string    `gorm:"column:type;not null;size:32;uniqueIndex:ux_ledger_transition,priority:2"`
	AmountCents   int64     `gorm:"column:amount_cents;not null"`
	Currency      string    `gorm:"column:currency;not null;size:3"`
	ReferenceType string    `gorm:"column:reference_type;not null;size:32;uniqueIndex:ux_ledger_transition,priority:3"`
	ReferenceID   string    `gorm:"column:reference_id;not null;size:64;uniqueIndex:ux_ledger_transition,priority:4"`
	Memo          string    `gorm:"column:memo"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (Transaction) TableName() string {
	return "ledger_transactions"
}
