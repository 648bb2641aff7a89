package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/frahmantamala/partner-payout/internal/core/datamodel/partner"
	"github.com/frahmantamala/partner-payout/internal/ledger"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type seedPartner struct {
	ID       string
	Name     string
	Email    string
	Verified bool
	W9       string
	Hold     bool
	Accruals []int64
}

var seedPartners = []seedPartner{
	{ID: "partner-alpha", Name: "Alpha Media", Email: "payouts@alpha.example.com", Verified: true, W9: partner.W9StatusApproved, Accruals: []int64{2500, 4000, 1250}},
	{ID: "partner-bravo", Name: "Bravo Studio", Email: "finance@bravo.example.com", Verified: true, W9: partner.W9StatusApproved, Accruals: []int64{12000}},
	{ID: "partner-charlie", Name: "Charlie Blog", Email: "charlie@example.com", Verified: true, W9: partner.W9StatusApproved, Accruals: []int64{300}},
	{ID: "partner-delta", Name: "Delta Network", Email: "delta@example.com", Verified: false, W9: partner.W9StatusApproved, Accruals: []int64{9000}},
	{ID: "partner-echo", Name: "Echo Reviews", Email: "echo@example.com", Verified: true, W9: partner.W9StatusPending, Accruals: []int64{7000}},
	{ID: "partner-foxtrot", Name: "Foxtrot Deals", Email: "foxtrot@example.com", Verified: true, W9: partner.W9StatusApproved, Hold: true, Accruals: []int64{5000}},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample partners, payout accounts and earnings for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		deps, err := initializeDependencies()
		if err != nil {
			log.Fatalf("failed to init dependencies: %v", err)
		}
		defer deps.Close()
		db := deps.Gorm

		if clearData {
			for _, table := range []string{"payout_items", "payout_batches", "ledger_transactions", "partner_balances", "partner_payout_accounts", "partners"} {
				if err := db.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		ctx := context.Background()
		for _, p := range seedPartners {
			if err := seedPartnerRows(db, p); err != nil {
				log.Fatalf("failed to seed partner %s: %v", p.ID, err)
			}

			for i, amount := range p.Accruals {
				applied, err := deps.Ledger.Accrue(ctx, ledger.AccrualInput{
					PartnerID:     p.ID,
					AmountCents:   amount,
					Currency:      deps.Config.Payout.DefaultCurrency,
					SourceEventID: fmt.Sprintf("seed-%s-%d", p.ID, i+1),
					Memo:          "seeded earning",
				})
				if err != nil {
					log.Fatalf("failed to accrue for %s: %v", p.ID, err)
				}
				if !applied {
					fmt.Printf("accrual %d for %s already present\n", i+1, p.ID)
				}
			}
			fmt.Println("Seeded partner:", p.ID)
		}

		fmt.Println("Seeding complete")
	},
}

func seedPartnerRows(db *gorm.DB, p seedPartner) error {
	now := time.Now().UTC()
	return db.Transaction(func(tx *gorm.DB) error {
		row := partner.Partner{ID: p.ID, DisplayName: p.Name, IsActive: true, CreatedAt: now, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}

		account := partner.PayoutAccount{
			PartnerID:           p.ID,
			PaypalEmail:         p.Email,
			PaypalEmailVerified: p.Verified,
			W9Status:            p.W9,
			PayoutHold:          p.Hold,
			UpdatedAt:           now,
		}
		if p.Hold {
			reason := "manual compliance review"
			account.HoldReason = &reason
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "partner_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"paypal_email", "paypal_email_verified", "w9_status", "payout_hold", "hold_reason", "updated_at"}),
		}).Create(&account).Error
	})
}
