package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	errs "github.com/frahmantamala/partner-payout/internal"
)

type Repository interface {
	Accrue(ctx context.Context, in AccrualInput) (bool, error)
	Balance(ctx context.Context, partnerID string) (*Balance, error)
	Entries(ctx context.Context, partnerID string, limit int) ([]Entry, error)
	PartnerIDs(ctx context.Context) ([]string, error)
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Accrue records an earnings event. Replaying the same event is a no-op.
func (s *Service) Accrue(ctx context.Context, in AccrualInput) (bool, error) {
	applied, err := s.repo.Accrue(ctx, in)
	if err != nil {
		s.logger.Error("earning accrual failed", "error", err, "partner_id", in.PartnerID, "source_event_id", in.SourceEventID)
		if errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrCurrencyMismatch) {
			return false, errs.NewValidationError(err.Error(), errs.ErrCodeInvalidAmount)
		}
		return false, err
	}
	if !applied {
		s.logger.Info("earning accrual already recorded", "partner_id", in.PartnerID, "source_event_id", in.SourceEventID)
	}
	return applied, nil
}

// Audit replays the partner's log and compares it with the stored balance.
func (s *Service) Audit(ctx context.Context, partnerID string) (*Drift, []Entry, error) {
	stored, err := s.repo.Balance(ctx, partnerID)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return nil, nil, errs.ErrPartnerNotFound
		}
		return nil, nil, fmt.Errorf("load balance: %w", err)
	}

	entries, err := s.repo.Entries(ctx, partnerID, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("load ledger entries: %w", err)
	}

	replayed := Replay(partnerID, stored.Currency, entries)
	drift := &Drift{
		PartnerID:     partnerID,
		Stored:        *stored,
		Reconstructed: replayed,
		Consistent:    replayed.AvailableCents == stored.AvailableCents && replayed.PendingCents == stored.PendingCents,
		EntryCount:    len(entries),
	}
	if !drift.Consistent {
		s.logger.Error("ledger drift detected",
			"partner_id", partnerID,
			"stored_available", stored.AvailableCents,
			"stored_pending", stored.PendingCents,
			"replayed_available", replayed.AvailableCents,
			"replayed_pending", replayed.PendingCents)
	}
	return drift, entries, nil
}

// AuditAll returns only the partners whose balance disagrees with the log.
func (s *Service) AuditAll(ctx context.Context) ([]Drift, error) {
	ids, err := s.repo.PartnerIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list partners: %w", err)
	}
	var drifted []Drift
	for _, id := range ids {
		drift, _, err := s.Audit(ctx, id)
		if err != nil {
			return nil, err
		}
		if !drift.Consistent {
			drifted = append(drifted, *drift)
		}
	}
	s.logger.Info("ledger audit finished", "partners", len(ids), "drifted", len(drifted))
	return drifted, nil
}
