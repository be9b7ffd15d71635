package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shiftpay-backend/internal/disputes"
	"github.com/angelmondragon/shiftpay-backend/internal/ledger"
	"github.com/angelmondragon/shiftpay-backend/internal/payouts"
	"github.com/angelmondragon/shiftpay-backend/internal/refunds"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
)

// LedgerView is the audit trail of a payment with a replay check.
type LedgerView struct {
	PaymentID uuid.UUID            `json:"payment_id"`
	Entries   []models.LedgerEntry `json:"entries"`
	Replay    *ledger.ReplayReport `json:"replay"`
}

// DisputeView is a payment's current or latest dispute with its SLA state.
type DisputeView struct {
	Dispute models.Dispute   `json:"dispute"`
	SLA     disputes.SLAView `json:"sla"`
}

// StatusBreakdown is one row of the finance summary by payment status.
type StatusBreakdown struct {
	Status                enums.PaymentStatus `json:"status"`
	Count                 int64               `json:"count"`
	GrossCents            int64               `json:"gross_cents"`
	PlatformFeeCents      int64               `json:"platform_fee_cents"`
	AgencyCommissionCents int64               `json:"agency_commission_cents"`
	RefundedCents         int64               `json:"refunded_cents"`
}

// FinanceSummary totals platform revenue, commissions and refunds for
// payments that entered escrow within [From, To). Amounts are minor units.
type FinanceSummary struct {
	From                  time.Time         `json:"from"`
	To                    time.Time         `json:"to"`
	PaymentCount          int64             `json:"payment_count"`
	GrossCents            int64             `json:"gross_cents"`
	WorkerEarningsCents   int64             `json:"worker_earnings_cents"`
	PlatformRevenueCents  int64             `json:"platform_revenue_cents"`
	AgencyCommissionCents int64             `json:"agency_commission_cents"`
	RefundedCents         int64             `json:"refunded_cents"`
	PaidOutCents          int64             `json:"paid_out_cents"`
	ShortfallCents        int64             `json:"shortfall_cents"`
	ByStatus              []StatusBreakdown `json:"by_status"`
	Refunds               refunds.Totals    `json:"refunds"`
}

func (s *service) GetPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	return s.ledger.CurrentState(ctx, paymentID)
}

func (s *service) ListPayments(ctx context.Context, filter ledger.PaymentFilter) ([]models.Payment, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment status")
	}
	if filter.RecipientType != "" && !filter.RecipientType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid recipient type")
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from must be before to")
	}
	payments, err := s.ledgerRepo.ListPayments(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return payments, nil
}

func (s *service) ListDueForRelease(ctx context.Context, asOf time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 || limit > defaultBatchLimit {
		limit = defaultBatchLimit
	}
	return s.escrow.ListDueForRelease(ctx, asOf, limit)
}

func (s *service) ListLedgerEntries(ctx context.Context, paymentID uuid.UUID) (*LedgerView, error) {
	entries, err := s.ledger.Entries(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found").
			WithDetails(map[string]any{"payment_id": paymentID})
	}
	report, err := s.ledger.Verify(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !report.Consistent {
		s.logg.Warn(s.logg.WithFields(s.logg.WithPaymentID(ctx, paymentID.String()), map[string]any{
			"mismatches": report.Mismatches,
		}), "payment row diverges from ledger replay")
	}
	return &LedgerView{PaymentID: paymentID, Entries: entries, Replay: report}, nil
}

func (s *service) GetDispute(ctx context.Context, paymentID uuid.UUID) (*DisputeView, error) {
	dispute, err := s.disputes.GetForPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	view := disputes.BuildSLAView(*dispute, s.now().UTC(), s.disputes.WarningMargin())
	return &DisputeView{Dispute: *dispute, SLA: view}, nil
}

func (s *service) SLAStatus(ctx context.Context, disputeID uuid.UUID) (*disputes.SLAView, error) {
	return s.disputes.SLA(ctx, disputeID, s.now().UTC())
}

func (s *service) ListPayouts(ctx context.Context, filter payouts.Filter) ([]models.Payout, error) {
	return s.payouts.List(ctx, filter)
}

func (s *service) GetPayout(ctx context.Context, payoutID uuid.UUID) (*payouts.Detail, error) {
	return s.payouts.Get(ctx, payoutID)
}

func (s *service) FinanceSummary(ctx context.Context, from, to time.Time) (*FinanceSummary, error) {
	if !from.Before(to) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from must be before to")
	}
	rows, err := s.ledgerRepo.TotalsByStatus(ctx, from, to)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment totals")
	}
	refundTotals, err := s.refunds.Totals(ctx, from, to)
	if err != nil {
		return nil, err
	}

	out := &FinanceSummary{From: from.UTC(), To: to.UTC(), Refunds: refundTotals, ByStatus: make([]StatusBreakdown, 0, len(rows))}
	for _, row := range rows {
		out.PaymentCount += row.Count
		out.GrossCents += row.GrossCents
		out.WorkerEarningsCents += row.WorkerCents - (row.RefundedCents - row.RefundedPlatformCents - row.RefundedAgencyCents)
		out.PlatformRevenueCents += row.PlatformFeeCents - row.RefundedPlatformCents
		out.AgencyCommissionCents += row.AgencyCommissionCents - row.RefundedAgencyCents
		out.RefundedCents += row.RefundedCents
		out.PaidOutCents += row.PaidOutCents
		out.ShortfallCents += row.ShortfallCents
		out.ByStatus = append(out.ByStatus, StatusBreakdown{
			Status:                row.Status,
			Count:                 row.Count,
			GrossCents:            row.GrossCents,
			PlatformFeeCents:      row.PlatformFeeCents,
			AgencyCommissionCents: row.AgencyCommissionCents,
			RefundedCents:         row.RefundedCents,
		})
	}
	return out, nil
}
