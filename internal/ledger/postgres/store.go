package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ledgerrow "github.com/frahmantamala/partner-payout/internal/core/datamodel/ledger"
	"github.com/frahmantamala/partner-payout/internal/core/datamodel/partner"
	"github.com/frahmantamala/partner-payout/internal/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the only writer of partner_balances. Every mutation writes exactly
// one ledger row and one guarded balance update in the same transaction.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithTx binds the store to an outer transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, now: s.now}
}

func (s *Store) Accrue(ctx context.Context, in ledger.AccrualInput) (bool, error) {
	if in.AmountCents <= 0 {
		return false, ledger.ErrInvalidAmount
	}
	if in.PartnerID == "" || in.SourceEventID == "" {
		return false, errors.New("partner id and source event id are required")
	}
	currency := strings.ToUpper(in.Currency)

	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		entry := ledgerrow.Transaction{
			PartnerID:     in.PartnerID,
			Type:          string(ledger.TxTypeEarningAccrual),
			AmountCents:   in.AmountCents,
			Currency:      currency,
			ReferenceType: ledger.ReferenceTypeEarningEvent,
			ReferenceID:   in.SourceEventID,
			Memo:          in.Memo,
			CreatedAt:     now,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if res.Error != nil {
			return fmt.Errorf("insert accrual entry: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// event already ingested
			return nil
		}

		seed := partner.Balance{PartnerID: in.PartnerID, Currency: currency, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return fmt.Errorf("ensure balance row: %w", err)
		}

		res = tx.Model(&partner.Balance{}).
			Where("partner_id = ? AND currency = ?", in.PartnerID, currency).
			Updates(map[string]interface{}{
				"available_cents": gorm.Expr("available_cents + ?", in.AmountCents),
				"updated_at":      now,
			})
		if res.Error != nil {
			return fmt.Errorf("credit balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ledger.ErrCurrencyMismatch
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Reserve moves funds from available to pending and writes a payout_debit.
func (s *Store) Reserve(ctx context.Context, m ledger.Movement) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		res := tx.Model(&partner.Balance{}).
			Where("partner_id = ? AND currency = ? AND available_cents >= ?", m.PartnerID, m.Currency, m.AmountCents).
			Updates(map[string]interface{}{
				"available_cents": gorm.Expr("available_cents - ?", m.AmountCents),
				"pending_cents":   gorm.Expr("pending_cents + ?", m.AmountCents),
				"updated_at":      now,
			})
		if res.Error != nil {
			return fmt.Errorf("reserve balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return &ledger.InsufficientFundsError{PartnerID: m.PartnerID, RequestedCents: m.AmountCents, Currency: m.Currency}
		}
		return s.append(tx, m, ledger.TxTypePayoutDebit, -m.AmountCents, now)
	})
}

// Settle removes a paid amount from pending and records it as a negative
// payout_reversal. Available is untouched.
func (s *Store) Settle(ctx context.Context, m ledger.Movement) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		res := tx.Model(&partner.Balance{}).
			Where("partner_id = ? AND currency = ? AND pending_cents >= ?", m.PartnerID, m.Currency, m.AmountCents).
			Updates(map[string]interface{}{
				"pending_cents": gorm.Expr("pending_cents - ?", m.AmountCents),
				"updated_at":    now,
			})
		if res.Error != nil {
			return fmt.Errorf("settle balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("partner %s: %w", m.PartnerID, ledger.ErrPendingUnderflow)
		}
		return s.append(tx, m, ledger.TxTypePayoutReversal, -m.AmountCents, now)
	})
}

// Reverse compensates a reservation by moving pending back to available.
func (s *Store) Reverse(ctx context.Context, m ledger.Movement) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		res := tx.Model(&partner.Balance{}).
			Where("partner_id = ? AND currency = ? AND pending_cents >= ?", m.PartnerID, m.Currency, m.AmountCents).
			Updates(map[string]interface{}{
				"pending_cents":   gorm.Expr("pending_cents - ?", m.AmountCents),
				"available_cents": gorm.Expr("available_cents + ?", m.AmountCents),
				"updated_at":      now,
			})
		if res.Error != nil {
			return fmt.Errorf("reverse balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("partner %s: %w", m.PartnerID, ledger.ErrPendingUnderflow)
		}
		return s.append(tx, m, ledger.TxTypePayoutReversal, m.AmountCents, now)
	})
}

func (s *Store) append(tx *gorm.DB, m ledger.Movement, typ ledger.TxType, signed int64, now time.Time) error {
	entry := ledgerrow.Transaction{
		PartnerID:     m.PartnerID,
		Type:          string(typ),
		AmountCents:   signed,
		Currency:      m.Currency,
		ReferenceType: ledger.ReferenceTypePayoutBatch,
		ReferenceID:   m.ReferenceID,
		Memo:          m.Memo,
		CreatedAt:     now,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("insert %s entry: %w", typ, err)
	}
	return nil
}

func (s *Store) Balance(ctx context.Context, partnerID string) (*ledger.Balance, error) {
	var row partner.Balance
	err := s.db.WithContext(ctx).Where("partner_id = ?", partnerID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrBalanceNotFound
		}
		return nil, err
	}
	return &ledger.Balance{
		PartnerID:      row.PartnerID,
		AvailableCents: row.AvailableCents,
		PendingCents:   row.PendingCents,
		Currency:       row.Currency,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}

// Entries returns the partner's log in insertion order. limit <= 0 returns all.
func (s *Store) Entries(ctx context.Context, partnerID string, limit int) ([]ledger.Entry, error) {
	q := s.db.WithContext(ctx).Where("partner_id = ?", partnerID).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []ledgerrow.Transaction
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]ledger.Entry, len(rows))
	for i, r := range rows {
		entries[i] = ledger.Entry{
			ID:            r.ID,
			PartnerID:     r.PartnerID,
			Type:          ledger.TxType(r.Type),
			AmountCents:   r.AmountCents,
			Currency:      r.Currency,
			ReferenceType: r.ReferenceType,
			ReferenceID:   r.ReferenceID,
			Memo:          r.Memo,
			CreatedAt:     r.CreatedAt,
		}
	}
	return entries, nil
}

func (s *Store) Reconstruct(ctx context.Context, partnerID string) (*ledger.Balance, error) {
	bal, err := s.Balance(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	entries, err := s.Entries(ctx, partnerID, 0)
	if err != nil {
		return nil, err
	}
	replayed := ledger.Replay(partnerID, bal.Currency, entries)
	return &replayed, nil
}

func (s *Store) PartnerIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&partner.Balance{}).Order("partner_id ASC").Pluck("partner_id", &ids).Error
	return ids, err
}
