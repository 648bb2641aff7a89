package eligibility

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

type Criteria struct {
	PeriodStart        time.Time
	PeriodEnd          time.Time
	Currency           string
	PayoutMinimumCents int64
}

// Candidate is one partner that would be paid by a run with the given criteria.
type Candidate struct {
	PartnerID   string `json:"partner_id"`
	Receiver    string `json:"receiver"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type Repository interface {
	FindEligible(ctx context.Context, currency string, minimumCents int64) ([]Candidate, error)
}

type Evaluator struct {
	repo   Repository
	logger *slog.Logger
}

func NewEvaluator(repo Repository, logger *slog.Logger) *Evaluator {
	return &Evaluator{repo: repo, logger: logger}
}

// Evaluate is a read-only dry run; it can be called any number of times.
func (e *Evaluator) Evaluate(ctx context.Context, c Criteria) ([]Candidate, error) {
	currency := strings.ToUpper(c.Currency)
	candidates, err := e.repo.FindEligible(ctx, currency, c.PayoutMinimumCents)
	if err != nil {
		return nil, fmt.Errorf("query eligible partners: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].PartnerID < candidates[j].PartnerID
	})

	e.logger.Info("eligibility evaluated",
		"currency", currency,
		"minimum_cents", c.PayoutMinimumCents,
		"period_start", c.PeriodStart.Format(time.DateOnly),
		"period_end", c.PeriodEnd.Format(time.DateOnly),
		"candidates", len(candidates))

	return candidates, nil
}
