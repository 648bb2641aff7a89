package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	errs "github.com/frahmantamala/partner-payout/internal"
	gw "github.com/frahmantamala/partner-payout/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/partner-payout/internal/core/events"
	"github.com/frahmantamala/partner-payout/internal/eligibility"
	"github.com/frahmantamala/partner-payout/internal/ledger"
	"github.com/frahmantamala/partner-payout/pkg/money"
)

type Repository interface {
	Reserve(ctx context.Context, req ReservationRequest) (*Reservation, error)
	FindBatchByKey(ctx context.Context, idempotencyKey string) (*Reservation, error)
	RecordAcceptance(ctx context.Context, batchID, paypalBatchID string, items []ItemAcceptance) error
	MarkSubmissionFailed(ctx context.Context, batchID, reason string) error
	GetBatch(ctx context.Context, batchID string) (*BatchDetail, error)
	ReleaseBatch(ctx context.Context, batchID, reason string) (*ReleaseResult, error)
}

type Gateway interface {
	Authenticate(ctx context.Context) error
	CreateBatch(ctx context.Context, req gw.BatchRequest) (*gw.BatchResult, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, c eligibility.Criteria) ([]eligibility.Candidate, error)
}

type Options struct {
	DefaultCurrency     string
	DefaultNoteTemplate string
	AllowedCurrencies   []string
	EmailSubject        string
	EmailMessage        string
}

type Service struct {
	repo      Repository
	gateway   Gateway
	evaluator Evaluator
	publisher events.Publisher
	opts      Options
	logger    *slog.Logger
}

func NewService(repo Repository, gateway Gateway, evaluator Evaluator, publisher events.Publisher, opts Options, logger *slog.Logger) *Service {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "USD"
	}
	if opts.DefaultNoteTemplate == "" {
		opts.DefaultNoteTemplate = DefaultNoteTemplate
	}
	return &Service{
		repo:      repo,
		gateway:   gateway,
		evaluator: evaluator,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
	}
}

func (s *Service) withDefaults(p Params) Params {
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	if p.Currency == "" {
		p.Currency = s.opts.DefaultCurrency
	}
	if p.NoteTemplate == "" {
		p.NoteTemplate = s.opts.DefaultNoteTemplate
	}
	p.PeriodStart = p.PeriodStart.UTC()
	p.PeriodEnd = p.PeriodEnd.UTC()
	return p
}

func (s *Service) validateParams(p Params) error {
	if p.PeriodStart.IsZero() || p.PeriodEnd.IsZero() || p.PeriodEnd.Before(p.PeriodStart) {
		return errs.NewValidationError("period_end must not be before period_start", errs.ErrCodeInvalidPeriod)
	}
	if p.PayoutMinimumCents < 0 {
		return errs.NewValidationError("payout_minimum_cents must not be negative", errs.ErrCodeInvalidAmount)
	}
	if len(s.opts.AllowedCurrencies) > 0 {
		for _, c := range s.opts.AllowedCurrencies {
			if strings.EqualFold(c, p.Currency) {
				return nil
			}
		}
		return errs.NewValidationError(fmt.Sprintf("currency %s is not enabled for payouts", p.Currency), errs.ErrCodeInvalidCurrency)
	}
	return nil
}

// Preview derives the run a submit with the same parameters would reserve.
// It never writes.
func (s *Service) Preview(ctx context.Context, p Params) (*PreviewResult, error) {
	p = s.withDefaults(p)
	if err := s.validateParams(p); err != nil {
		return nil, err
	}

	candidates, err := s.evaluator.Evaluate(ctx, eligibility.Criteria{
		PeriodStart:        p.PeriodStart,
		PeriodEnd:          p.PeriodEnd,
		Currency:           p.Currency,
		PayoutMinimumCents: p.PayoutMinimumCents,
	})
	if err != nil {
		s.logger.Error("payout preview failed", "error", err, "currency", p.Currency)
		return nil, errs.NewInternalError("failed to evaluate eligible partners", err)
	}

	items := make([]Item, len(candidates))
	for i, c := range candidates {
		items[i] = Item{PartnerID: c.PartnerID, Receiver: c.Receiver, AmountCents: c.AmountCents, Currency: c.Currency}
	}

	result := &PreviewResult{
		IdempotencyKey: DeriveIdempotencyKey(p, items),
		Summary:        summarize(p, items),
		ItemsPreview:   items,
	}
	s.logger.Info("payout preview built",
		"idempotency_key", result.IdempotencyKey,
		"partners", result.Summary.PartnerCount,
		"total_cents", result.Summary.TotalCents)
	return result, nil
}

func (s *Service) validateItems(p Params, items []Item) error {
	if len(items) == 0 {
		return errs.NewValidationError("items must not be empty", errs.ErrCodeInvalidItems)
	}
	var details []errs.ValidationError
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		field := fmt.Sprintf("items[%d]", i)
		switch {
		case it.PartnerID == "":
			details = append(details, errs.ValidationError{Field: field, Message: "partner_id is required", Code: string(errs.ErrCodeInvalidItems)})
		case seen[it.PartnerID]:
			details = append(details, errs.ValidationError{Field: field, Message: fmt.Sprintf("partner %s appears more than once", it.PartnerID), Code: string(errs.ErrCodeInvalidItems)})
		case it.AmountCents <= 0 || it.AmountCents < p.PayoutMinimumCents:
			details = append(details, errs.ValidationError{Field: field, Message: fmt.Sprintf("amount for partner %s is below the payout minimum", it.PartnerID), Code: string(errs.ErrCodeInvalidAmount)})
		case !strings.EqualFold(it.Currency, p.Currency):
			details = append(details, errs.ValidationError{Field: field, Message: fmt.Sprintf("currency for partner %s does not match batch currency %s", it.PartnerID, p.Currency), Code: string(errs.ErrCodeInvalidCurrency)})
		case strings.TrimSpace(it.Receiver) == "":
			details = append(details, errs.ValidationError{Field: field, Message: fmt.Sprintf("receiver for partner %s is required", it.PartnerID), Code: string(errs.ErrCodeInvalidItems)})
		}
		seen[it.PartnerID] = true
	}
	if len(details) > 0 {
		return errs.NewValidationError("invalid payout items", errs.ErrCodeInvalidItems).
			WithDetails(errs.ValidationErrors{Errors: details})
	}
	return nil
}

// Submit reserves funds for an approved preview and sends it to the gateway.
// Retrying with the same key returns the stored batch and never calls the
// gateway a second time.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	p := s.withDefaults(req.Params)
	if err := s.validateParams(p); err != nil {
		return nil, err
	}
	items := make([]Item, len(req.Items))
	for i, it := range req.Items {
		it.Currency = strings.ToUpper(it.Currency)
		it.Receiver = strings.TrimSpace(it.Receiver)
		items[i] = it
	}
	if err := s.validateItems(p, items); err != nil {
		return nil, err
	}

	key := DeriveIdempotencyKey(p, items)
	if req.IdempotencyKey != key {
		s.logger.Warn("idempotency key does not match payout parameters", "provided", req.IdempotencyKey, "derived", key)
		return nil, errs.NewValidationError("idempotency_key does not match the submitted parameters and items", errs.ErrCodeIdempotencyMismatch)
	}

	existing, err := s.repo.FindBatchByKey(ctx, key)
	switch {
	case err == nil:
		s.logger.Info("payout submit replayed", "batch_id", existing.Batch.ID, "idempotency_key", key, "status", existing.Batch.Status)
		return replayResult(p, existing), nil
	case !errors.Is(err, ErrBatchNotFound):
		return nil, errs.NewInternalError("failed to look up payout batch", err)
	}

	if err := s.gateway.Authenticate(ctx); err != nil {
		s.logger.Error("gateway authentication failed before reservation", "error", err)
		return nil, errs.NewExternalError("payment gateway authentication failed", errs.ErrCodeGatewayAuthFailed, err)
	}

	snapshot, err := json.Marshal(PreviewResult{IdempotencyKey: key, Summary: summarize(p, items), ItemsPreview: items})
	if err != nil {
		return nil, errs.NewInternalError("failed to encode dry run snapshot", err)
	}

	reservation, err := s.repo.Reserve(ctx, ReservationRequest{
		IdempotencyKey: key,
		Params:         p,
		Items:          items,
		AdminID:        req.AdminID,
		Snapshot:       snapshot,
	})
	if err != nil {
		var insufficient *ledger.InsufficientFundsError
		if errors.As(err, &insufficient) {
			s.logger.Warn("payout reservation rejected", "partner_id", insufficient.PartnerID, "requested_cents", insufficient.RequestedCents)
			return nil, errs.NewConflictError(
				fmt.Sprintf("partner %s has insufficient available balance for %s %s",
					insufficient.PartnerID, money.FormatCents(insufficient.RequestedCents), insufficient.Currency),
				errs.ErrCodeInsufficientFunds).WithCause(err)
		}
		s.logger.Error("payout reservation failed", "error", err, "idempotency_key", key)
		return nil, errs.NewInternalError("failed to reserve payout batch", err)
	}
	if reservation.Replayed {
		s.logger.Info("payout submit lost reservation race, replaying", "batch_id", reservation.Batch.ID)
		return replayResult(p, reservation), nil
	}

	s.logger.Info("payout batch reserved",
		"batch_id", reservation.Batch.ID,
		"items", len(reservation.Items),
		"idempotency_key", key)

	// The reservation is committed; submission runs to completion even if the caller leaves.
	return s.dispatch(context.WithoutCancel(ctx), p, reservation)
}

func (s *Service) dispatch(ctx context.Context, p Params, reservation *Reservation) (*SubmitResult, error) {
	batch := reservation.Batch
	note := RenderNote(p.NoteTemplate, p)

	lines := make([]gw.BatchLine, len(reservation.Items))
	var total int64
	for i, it := range reservation.Items {
		lines[i] = gw.BatchLine{
			SenderItemID: it.ID,
			Receiver:     it.Receiver,
			AmountCents:  it.AmountCents,
			Currency:     it.Currency,
			Note:         note,
		}
		total += it.AmountCents
	}

	result, err := s.gateway.CreateBatch(ctx, gw.BatchRequest{
		SenderBatchID: batch.IdempotencyKey,
		EmailSubject:  s.opts.EmailSubject,
		EmailMessage:  s.opts.EmailMessage,
		Lines:         lines,
	})
	if err != nil {
		reason := submissionFailureReason(err)
		s.logger.Error("gateway submission failed, funds remain reserved",
			"batch_id", batch.ID,
			"error", err,
			"pending_cents", total)
		if markErr := s.repo.MarkSubmissionFailed(ctx, batch.ID, reason); markErr != nil {
			s.logger.Error("failed to mark payout batch as failed", "batch_id", batch.ID, "error", markErr)
		}
		s.publish(ctx, events.NewBatchSubmissionFailedEvent(batch.ID, reason, total))
		return &SubmitResult{
			Success:       false,
			BatchID:       batch.ID,
			Status:        BatchStatusFailed,
			Summary:       summarizeBatch(p, reservation.Items),
			FundsReserved: true,
			Code:          submissionFailureCode(err),
			Message:       reason,
		}, nil
	}

	acceptances := make([]ItemAcceptance, 0, len(result.Items))
	for _, it := range result.Items {
		acceptances = append(acceptances, ItemAcceptance{
			SenderItemID:  it.SenderItemID,
			PayoutItemID:  it.PayoutItemID,
			TransactionID: it.TransactionID,
		})
	}
	if err := s.repo.RecordAcceptance(ctx, batch.ID, result.PayoutBatchID, acceptances); err != nil {
		s.logger.Error("gateway accepted batch but recording acceptance failed",
			"batch_id", batch.ID,
			"paypal_batch_id", result.PayoutBatchID,
			"error", err)
		return nil, errs.NewInternalError(
			fmt.Sprintf("gateway accepted batch %s as %s but the acceptance could not be recorded", batch.ID, result.PayoutBatchID), err)
	}

	s.logger.Info("payout batch submitted",
		"batch_id", batch.ID,
		"paypal_batch_id", result.PayoutBatchID,
		"gateway_status", result.BatchStatus)
	s.publish(ctx, events.NewBatchSubmittedEvent(batch.ID, result.PayoutBatchID, len(lines), total, batch.Currency))

	return &SubmitResult{
		Success:       true,
		BatchID:       batch.ID,
		Status:        BatchStatusProcessing,
		PaypalBatchID: result.PayoutBatchID,
		Summary:       summarizeBatch(p, reservation.Items),
		FundsReserved: true,
	}, nil
}

func (s *Service) GetBatch(ctx context.Context, batchID string) (*BatchDetail, error) {
	detail, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			return nil, errs.ErrBatchNotFound
		}
		return nil, errs.NewInternalError("failed to load payout batch", err)
	}
	return detail, nil
}

// Release hands reserved funds back for a batch the gateway never accepted.
func (s *Service) Release(ctx context.Context, batchID, adminID, reason string) (*ReleaseResult, error) {
	result, err := s.repo.ReleaseBatch(ctx, batchID, reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrBatchNotFound):
			return nil, errs.ErrBatchNotFound
		case errors.Is(err, ErrBatchNotReleasable), errors.Is(err, ErrBatchStateChanged):
			return nil, errs.NewConflictError("only a failed batch without a gateway batch id can be released", errs.ErrCodeBatchNotReleasable).WithCause(err)
		}
		s.logger.Error("payout batch release failed", "batch_id", batchID, "error", err)
		return nil, errs.NewInternalError("failed to release payout batch", err)
	}

	s.logger.Info("payout batch released",
		"batch_id", batchID,
		"admin_id", adminID,
		"released_items", result.ReleasedItems,
		"released_cents", result.ReleasedCents)
	s.publish(ctx, events.NewBatchReleasedEvent(batchID, adminID, result.ReleasedCents))
	return result, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

func replayResult(p Params, r *Reservation) *SubmitResult {
	reserved := false
	for _, it := range r.Items {
		if !it.Status.IsTerminal() {
			reserved = true
			break
		}
	}
	res := &SubmitResult{
		Success:       r.Batch.Status != BatchStatusFailed,
		BatchID:       r.Batch.ID,
		Status:        r.Batch.Status,
		PaypalBatchID: r.Batch.PaypalBatchID,
		Summary:       summarizeBatch(p, r.Items),
		Replayed:      true,
		FundsReserved: reserved,
		Message:       r.Batch.FailureReason,
	}
	if r.Batch.Status == BatchStatusFailed && r.Batch.PaypalBatchID == "" {
		res.Code = errs.ErrCodeGatewaySubmissionFailed
	}
	return res
}

// submissionFailureCode separates a gateway that answered with a rejection
// from one that could not be reached.
func submissionFailureCode(err error) errs.ErrorCode {
	var apiErr *gw.APIError
	if errors.As(err, &apiErr) {
		return errs.ErrCodeGatewaySubmissionFailed
	}
	return errs.ErrCodeGatewayUnavailable
}

func submissionFailureReason(err error) string {
	var apiErr *gw.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Name != "" {
			return fmt.Sprintf("gateway rejected batch: %s %s", apiErr.Name, apiErr.Message)
		}
		return fmt.Sprintf("gateway rejected batch with status %d", apiErr.StatusCode)
	}
	return fmt.Sprintf("gateway unreachable: %v", err)
}

func summarize(p Params, items []Item) Summary {
	var total int64
	for _, it := range items {
		total += it.AmountCents
	}
	return Summary{
		PeriodStart:        p.PeriodStart.Format(time.DateOnly),
		PeriodEnd:          p.PeriodEnd.Format(time.DateOnly),
		Currency:           p.Currency,
		PayoutMinimumCents: p.PayoutMinimumCents,
		PartnerCount:       len(items),
		TotalCents:         total,
		TotalAmount:        money.FormatCents(total),
	}
}

func summarizeBatch(p Params, items []BatchItem) Summary {
	plain := make([]Item, len(items))
	for i, it := range items {
		plain[i] = Item{PartnerID: it.PartnerID, Receiver: it.Receiver, AmountCents: it.AmountCents, Currency: it.Currency}
	}
	return summarize(p, plain)
}
