package postgres

import (
	"context"

	"github.com/frahmantamala/partner-payout/internal/core/datamodel/partner"
	"github.com/frahmantamala/partner-payout/internal/eligibility"
	"gorm.io/gorm"
)

type EligibilityRepository struct {
	db *gorm.DB
}

func NewEligibilityRepository(db *gorm.DB) eligibility.Repository {
	return &EligibilityRepository{db: db}
}

func (r *EligibilityRepository) FindEligible(ctx context.Context, currency string, minimumCents int64) ([]eligibility.Candidate, error) {
	var rows []eligibility.Candidate
	err := r.db.WithContext(ctx).
		Table("partners AS p").
		Select("p.id AS partner_id, a.paypal_email AS receiver, b.available_cents AS amount_cents, b.currency AS currency").
		Joins("JOIN partner_payout_accounts a ON a.partner_id = p.id").
		Joins("JOIN partner_balances b ON b.partner_id = p.id").
		Where("p.is_active = ?", true).
		Where("a.w9_status = ?", partner.W9StatusApproved).
		Where("a.paypal_email_verified = ?", true).
		Where("a.payout_hold = ?", false).
		Where("a.paypal_email <> ''").
		Where("b.currency = ?", currency).
		Where("b.available_cents >= ? AND b.available_cents > 0", minimumCents).
		Order("p.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
