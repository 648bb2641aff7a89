package partner

import "time"

const (
	W9StatusPending  = "pending"
	W9StatusApproved = "approved"
	W9StatusRejected = "rejected"
)

type Partner struct {
	ID          string    `gorm:"column:id;primaryKey;size:64"`
	DisplayName string    `gorm:"column:display_name;not null"`
	IsActive    bool      `gorm:"column:is_active;not null"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (Partner) TableName() string {
	return "partners"
}

// PayoutAccount is maintained by compliance tooling; this service only reads it.
type PayoutAccount struct {
	PartnerID           string    `gorm:"column:partner_id;primaryKey;size:64"`
	PaypalEmail         string    `gorm:"column:paypal_email;not null"`
	PaypalEmailVerified bool      `gorm:"column:paypal_email_verified;not null"`
	W9Status            string    `gorm:"column:w9_status;not null;size:16"`
	PayoutHold          bool      `gorm:"column:payout_hold;not null"`
	HoldReason          *string   `gorm:"column:hold_reason"`
	UpdatedAt           time.Time `gorm:"column:updated_at"`
}

func (PayoutAccount) TableName() string {
	return "partner_payout_accounts"
}

type Balance struct {
	PartnerID      string    `gorm:"column:partner_id;primaryKey;size:64"`
	AvailableCents int64     `gorm:"column:available_cents;not null"`
	PendingCents   int64     `gorm:"column:pending_cents;not null"`
	Currency       string    `gorm:"column:currency;not null;size:3"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (Balance) TableName() string {
	return "partner_balances"
}
