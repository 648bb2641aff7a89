package payout

import (
	"strings"
	"time"

	errors "github.com/frahmantamala/partner-payout/internal"
	"github.com/frahmantamala/partner-payout/internal/core/common/validation"
)

// PreviewRequest represents the request payload for a dry run
type PreviewRequest struct {
	PeriodStart        string `json:"period_start"`
	PeriodEnd          string `json:"period_end"`
	Currency           string `json:"currency"`
	PayoutMinimumCents int64  `json:"payout_minimum_cents"`
	NoteTemplate       string `json:"note_template,omitempty"`
}

func (dto *PreviewRequest) normalize() {
	dto.PeriodStart = strings.TrimSpace(dto.PeriodStart)
	dto.PeriodEnd = strings.TrimSpace(dto.PeriodEnd)
	dto.Currency = strings.ToUpper(strings.TrimSpace(dto.Currency))
}

// Validate validates the PreviewRequest. Currency may be empty, in which case
// the configured default applies.
func (dto *PreviewRequest) Validate() error {
	dto.normalize()

	v := validation.NewValidator()
	v.Field("period_start", dto.PeriodStart).Required().Date()
	v.Field("period_end", dto.PeriodEnd).Required().Date()
	if dto.Currency != "" {
		v.Field("currency", dto.Currency).Currency()
	}
	v.Field("payout_minimum_cents", dto.PayoutMinimumCents).MinInt(0, errors.ErrCodeInvalidAmount)
	v.Field("note_template", dto.NoteTemplate).MaxLength(500)
	v.Field("period", dto).Custom(func(interface{}) *errors.AppError {
		start, errStart := time.Parse(time.DateOnly, dto.PeriodStart)
		end, errEnd := time.Parse(time.DateOnly, dto.PeriodEnd)
		if errStart != nil || errEnd != nil {
			return nil
		}
		if end.Before(start) {
			return errors.NewValidationFieldError("period_end", "period_end must not be before period_start", errors.ErrCodeInvalidPeriod)
		}
		return nil
	})

	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// ToParams converts a validated request into run parameters.
func (dto *PreviewRequest) ToParams() Params {
	start, _ := time.Parse(time.DateOnly, dto.PeriodStart)
	end, _ := time.Parse(time.DateOnly, dto.PeriodEnd)
	return Params{
		PeriodStart:        start.UTC(),
		PeriodEnd:          end.UTC(),
		Currency:           dto.Currency,
		PayoutMinimumCents: dto.PayoutMinimumCents,
		NoteTemplate:       dto.NoteTemplate,
	}
}

// SubmitRequestDTO is the approved preview plus its idempotency key.
type SubmitRequestDTO struct {
	PreviewRequest
	Items          []Item `json:"items"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (dto *SubmitRequestDTO) Validate() error {
	if err := dto.PreviewRequest.Validate(); err != nil {
		return err
	}
	v := validation.NewValidator()
	v.Field("idempotency_key", strings.TrimSpace(dto.IdempotencyKey)).Required().MaxLength(64)
	v.Field("items", dto.Items).Custom(func(interface{}) *errors.AppError {
		if len(dto.Items) == 0 {
			return errors.NewValidationFieldError("items", "items must not be empty", errors.ErrCodeInvalidItems)
		}
		return nil
	})
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

func (dto *SubmitRequestDTO) ToSubmitRequest(adminID string) SubmitRequest {
	return SubmitRequest{
		Params:         dto.ToParams(),
		Items:          dto.Items,
		IdempotencyKey: strings.TrimSpace(dto.IdempotencyKey),
		AdminID:        adminID,
	}
}

type ReleaseRequest struct {
	Reason string `json:"reason"`
}

func (dto *ReleaseRequest) Validate() error {
	v := validation.NewValidator()
	v.Field("reason", dto.Reason).Required().MaxLength(500)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}
