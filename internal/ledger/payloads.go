package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
)

// OpenPayload carries the immutable terms of an escrow. The rates are kept
// for audit; the split columns are authoritative.
type OpenPayload struct {
	ShiftAssignmentID     uuid.UUID      `json:"shift_assignment_id"`
	WorkerID              uuid.UUID      `json:"worker_id"`
	BusinessID            uuid.UUID      `json:"business_id"`
	AgencyID              *uuid.UUID     `json:"agency_id,omitempty"`
	Currency              enums.Currency `json:"currency"`
	GrossCents            int64          `json:"gross_cents"`
	WorkerCents           int64          `json:"worker_cents"`
	PlatformFeeCents      int64          `json:"platform_fee_cents"`
	AgencyCommissionCents int64          `json:"agency_commission_cents"`
	HoldPeriod            time.Duration  `json:"hold_period"`
	Urgent                bool           `json:"urgent,omitempty"`
	PlatformFeeRate       string         `json:"platform_fee_rate,omitempty"`
	AgencyCommissionRate  string         `json:"agency_commission_rate,omitempty"`
	UrgentBonusRate       string         `json:"urgent_bonus_rate,omitempty"`
}

type HoldPayload struct {
	Reason string `json:"reason"`
}

type UnholdPayload struct {
	Note string `json:"note,omitempty"`
}

type ReleasePayload struct {
	Override  bool       `json:"override,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	DisputeID *uuid.UUID `json:"dispute_id,omitempty"`
}

type DisputePayload struct {
	DisputeID uuid.UUID            `json:"dispute_id"`
	Outcome   enums.DisputeOutcome `json:"outcome,omitempty"`
}

type RefundPayload struct {
	RefundID uuid.UUID           `json:"refund_id"`
	Reason   string              `json:"reason"`
	Trigger  enums.RefundTrigger `json:"trigger"`
	EventRef string              `json:"event_ref,omitempty"`
}

type PayoutPayload struct {
	PayoutID      uuid.UUID           `json:"payout_id"`
	AttemptNumber int                 `json:"attempt_number"`
	RecipientType enums.RecipientType `json:"recipient_type"`
	AmountCents   int64               `json:"amount_cents"`
}

// Decode unmarshals an entry payload into T.
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode ledger payload")
	}
	return out, nil
}

func encode(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode ledger payload")
	}
	return raw, nil
}
