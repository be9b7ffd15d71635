package settlement

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/shiftpay-backend/internal/disputes"
	"github.com/angelmondragon/shiftpay-backend/internal/escrow"
	"github.com/angelmondragon/shiftpay-backend/internal/ledger"
	"github.com/angelmondragon/shiftpay-backend/internal/payouts"
	"github.com/angelmondragon/shiftpay-backend/internal/refunds"
	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/db"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/sqlitetest"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
	"github.com/angelmondragon/shiftpay-backend/pkg/outbox"
	"github.com/angelmondragon/shiftpay-backend/pkg/rail"
	"github.com/angelmondragon/shiftpay-backend/pkg/types"
)

var (
	t0     = time.Date(2026, 9, 7, 8, 0, 0, 0, time.UTC)
	admin  = types.AdminActor("ops-1")
	shifts = types.ServiceActor("shifts")
	system = types.SystemActor("scheduler")
)

type queuedRail struct {
	errs []error
}

func (r *queuedRail) Transfer(_ context.Context, req rail.TransferRequest) (*rail.TransferResult, error) {
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return nil, err
	}
	return &rail.TransferResult{Reference: "tr-" + req.PayoutID.String()[:8], Status: "succeeded"}, nil
}

type harness struct {
	client  *db.Client
	outbox  *outbox.Repository
	refunds refunds.Service
	svc     Service
	rail    *queuedRail
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{client: sqlitetest.Open(t), rail: &queuedRail{}, now: t0}
	clock := func() time.Time { return h.now }
	conn := h.client.DB()

	ledgerRepo := ledger.NewRepository(conn)
	led, err := ledger.NewService(ledger.ServiceParams{Repo: ledgerRepo, TxRunner: h.client, Now: clock})
	require.NoError(t, err)
	esc, err := escrow.NewService(escrow.ServiceParams{
		Ledger: led,
		Repo:   ledgerRepo,
		Fees:   config.FeesConfig{PlatformFeeRate: "0.15", AgencyCommissionRate: "0.10", UrgentBonusRate: "0.05", DefaultCurrency: "USD"},
		Escrow: config.EscrowConfig{HoldPeriod: 7 * 24 * time.Hour, MinHoldPeriod: 24 * time.Hour},
	})
	require.NoError(t, err)
	disp, err := disputes.NewService(disputes.ServiceParams{
		Repo:   disputes.NewRepository(conn),
		Ledger: led,
		Config: config.DisputeConfig{SLAWindow: 48 * time.Hour, WarningMargin: 12 * time.Hour},
		Now:    clock,
	})
	require.NoError(t, err)
	h.refunds, err = refunds.NewService(refunds.ServiceParams{
		Repo:   refunds.NewRepository(conn),
		Ledger: led,
		Config: config.RefundConfig{AutoReasons: []string{"worker_no_show"}},
		Now:    clock,
	})
	require.NoError(t, err)
	pay, err := payouts.NewService(payouts.ServiceParams{
		DB:     h.client,
		Repo:   payouts.NewRepository(conn),
		Ledger: led,
		Rail:   h.rail,
		Config: config.PayoutConfig{MaxAttempts: 3, MinimumCents: 500, RetryBaseDelay: time.Minute, RetryMaxDelay: time.Hour, StaleAfter: 15 * time.Minute},
		Now:    clock,

		DefaultCurrency: "USD",
	})
	require.NoError(t, err)

	h.outbox = outbox.NewRepository(conn)
	logg := logger.New(logger.Options{ServiceName: "settlement-test", Output: io.Discard})
	h.svc, err = NewService(ServiceParams{
		DB:           h.client,
		Ledger:       led,
		LedgerRepo:   ledgerRepo,
		Escrow:       esc,
		Disputes:     disp,
		Refunds:      h.refunds,
		Payouts:      pay,
		Outbox:       outbox.NewService(h.outbox, logg),
		Logger:       logg,
		BatchWorkers: 2,
		Now:          clock,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) open(t *testing.T) models.Payment {
	t.Helper()
	agency := uuid.New()
	res, err := h.svc.OpenEscrow(context.Background(), shifts, escrow.OpenInput{
		ShiftAssignmentID: uuid.New(),
		WorkerID:          uuid.New(),
		BusinessID:        uuid.New(),
		AgencyID:          &agency,
		GrossCents:        10000,
	})
	require.NoError(t, err)
	return res.Payment
}

func (h *harness) events(t *testing.T, aggregate enums.OutboxAggregateType, id uuid.UUID) []enums.OutboxEventType {
	t.Helper()
	rows, err := h.outbox.ListByAggregate(aggregate, id)
	require.NoError(t, err)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func TestReleaseAllDueHonorsHoldPeriod(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payment := h.open(t)
	assert.Equal(t, int64(7500), payment.WorkerCents)

	h.now = t0.Add(6 * 24 * time.Hour)
	batch, err := h.svc.ReleaseAllDue(ctx, system, h.now)
	require.NoError(t, err)
	assert.Empty(t, batch.Items)
	current, err := h.svc.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusInEscrow, current.Status)

	h.now = t0.Add(7*24*time.Hour + time.Second)
	batch, err = h.svc.ReleaseAllDue(ctx, system, h.now)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Succeeded)
	assert.Equal(t, "1 released", batch.Summary)

	current, err = h.svc.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusReleased, current.Status)

	queued, err := h.svc.ListPayouts(ctx, payouts.Filter{Status: enums.PayoutStatusPending, RecipientType: enums.RecipientTypeWorker, RecipientID: &payment.WorkerID})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, int64(7500), queued[0].AmountCents)

	again, err := h.svc.ReleaseAllDue(ctx, system, h.now)
	require.NoError(t, err)
	assert.Empty(t, again.Items)
	assert.ElementsMatch(t, []enums.OutboxEventType{enums.EventEscrowOpened, enums.EventPaymentReleased}, h.events(t, enums.AggregatePayment, payment.ID))
}

func TestReleaseTwiceWithSameKeyAppendsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payment := h.open(t)

	first, err := h.svc.Release(ctx, admin, escrow.ReleaseInput{PaymentID: payment.ID, Override: true, Reason: "client approved early"})
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Len(t, first.Queued, 2)

	second, err := h.svc.Release(ctx, admin, escrow.ReleaseInput{PaymentID: payment.ID, Override: true})
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Empty(t, second.Queued)
	assert.Equal(t, first.Payment.LastSequence, second.Payment.LastSequence)

	view, err := h.svc.ListLedgerEntries(ctx, payment.ID)
	require.NoError(t, err)
	releases := 0
	for _, e := range view.Entries {
		if e.Type == enums.LedgerEntryRelease {
			releases++
		}
	}
	assert.Equal(t, 1, releases)
	assert.True(t, view.Replay.Consistent)
}

func TestCommandsRequireAllowedActor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payment := h.open(t)

	_, err := h.svc.Hold(ctx, shifts, escrow.HoldInput{PaymentID: payment.ID, Reason: "x"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.Release(ctx, system, escrow.ReleaseInput{PaymentID: payment.ID, Override: true})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.Hold(ctx, types.Actor{}, escrow.HoldInput{PaymentID: payment.ID, Reason: "x"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	_, err = h.svc.OpenEscrow(ctx, admin, escrow.OpenInput{ShiftAssignmentID: uuid.New(), WorkerID: uuid.New(), BusinessID: uuid.New(), GrossCents: 100})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.Refund(ctx, shifts, refunds.Input{PaymentID: payment.ID, Type: enums.RefundTypeFull, Trigger: enums.RefundTriggerManual, Reason: "x"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestHeldPaymentIsNotDue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payment := h.open(t)

	h.now = t0.Add(24 * time.Hour)
	_, err := h.svc.Hold(ctx, admin, escrow.HoldInput{PaymentID: payment.ID, Reason: "timesheet mismatch"})
	require.NoError(t, err)

	h.now = t0.Add(30 * 24 * time.Hour)
	due, err := h.svc.ListDueForRelease(ctx, h.now, 0)
	require.NoError(t, err)
	assert.Empty(t, due)

	res, err := h.svc.Unhold(ctx, admin, escrow.UnholdInput{PaymentID: payment.ID, Note: "resolved with business"})
	require.NoError(t, err)
	assert.True(t, res.Payment.ScheduledReleaseAt.Equal(h.now.Add(6*24*time.Hour)))
	assert.ElementsMatch(t, []enums.OutboxEventType{enums.EventEscrowOpened, enums.EventPaymentHeld, enums.EventPaymentUnheld}, h.events(t, enums.AggregatePayment, payment.ID))
}

func TestRejectedDisputeReleasesFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payment := h.open(t)

	opened, err := h.svc.OpenDispute(ctx, shifts, disputes.OpenInput{PaymentID: payment.ID, Reason: "hours disputed", RaisedBy: "business"})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusDisputed, opened.Payment.Status)

	_, err = h.svc.OpenDispute(ctx, shifts, disputes.OpenInput{PaymentID: payment.ID, Reason: "again", RaisedBy: "worker"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))

	_, err = h.svc.Release(ctx, admin, escrow.ReleaseInput{PaymentID: payment.ID, Override: true})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))

	_, err = h.svc.EscalateDispute(ctx, admin, opened.Dispute.ID)
	require.NoError(t, err)

	resolved, err := h.svc.ResolveDispute(ctx, admin, disputes.ResolveInput{DisputeID: opened.Dispute.ID, Outcome: enums.DisputeOutcomeRejected, Note: "hours verified"})
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusResolved, resolved.Dispute.Status)
	assert.Equal(t, enums.PaymentStatusReleased, resolved.Payment.Status)
	assert.Nil(t, resolved.Refund)

	_, err = h.svc.ResolveDispute(ctx, admin, disputes.ResolveInput{DisputeID: opened.Dispute.ID, Outcome: enums.DisputeOutcomeUpheld})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAlreadyResolved))

	assert.ElementsMatch(t, []enums.OutboxEventType{enums.EventDisputeOpened, enums.EventDisputeEscalated, enums.EventDisputeResolved},
		h.events(t, enums.AggregateDispute, opened.Dispute.ID))
	assert.Contains(t, h.events(t, enums.AggregatePayment, payment.ID), enums.EventPaymentReleased)

	view, err := h.svc.GetDispute(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SLAStatusMet, view.SLA.Status)
}

func TestUpheldDisputeRefundsInFull(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payment := h.open(t)

	opened, err := h.svc.OpenDispute(ctx, shifts, disputes.OpenInput{PaymentID: payment.ID, Reason: "no show", RaisedBy: "business"})
	require.NoError(t, err)
	_, err = h.svc.ReviewDispute(ctx, admin, opened.Dispute.ID)
	require.NoError(t, err)
	_, err = h.svc.RequestDisputeResponse(ctx, admin, opened.Dispute.ID)
	require.NoError(t, err)

	resolved, err := h.svc.ResolveDispute(ctx, admin, disputes.ResolveInput{DisputeID: opened.Dispute.ID, Outcome: enums.DisputeOutcomeUpheld})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, resolved.Payment.Status)
	require.NotNil(t, resolved.Refund)
	assert.Equal(t, int64(10000), resolved.Refund.AmountCents)
	assert.Equal(t, "dispute_upheld", resolved.Refund.Reason)
	assert.Equal(t, []enums.OutboxEventType{enums.EventPaymentRefunded}, h.events(t, enums.AggregateRefund, resolved.Refund.ID))
}

func TestBreachedDisputeStaysDisputed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payment := h.open(t)

	opened, err := h.svc.OpenDispute(ctx, shifts, disputes.OpenInput{PaymentID: payment.ID, Reason: "late arrival", RaisedBy: "business"})
	require.NoError(t, err)

	h.now = t0.Add(49 * time.Hour)
	marked, err := h.svc.ScanSLABreaches(ctx, system, h.now)
	require.NoError(t, err)
	require.Len(t, marked, 1)

	again, err := h.svc.ScanSLABreaches(ctx, system, h.now)
	require.NoError(t, err)
	assert.Empty(t, again)

	sla, err := h.svc.SLAStatus(ctx, opened.Dispute.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SLAStatusBreached, sla.Status)

	h.now = t0.Add(8 * 24 * time.Hour)
	batch, err := h.svc.ReleaseAllDue(ctx, system, h.now)
	require.NoError(t, err)
	assert.Empty(t, batch.Items)
	current, err := h.svc.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusDisputed, current.Status)
	assert.Contains(t, h.events(t, enums.AggregateDispute, opened.Dispute.ID), enums.EventDisputeSLABreached)
}

func TestRejectedRefundIsRecordedAsFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payment := h.open(t)

	_, err := h.svc.Refund(ctx, admin, refunds.Input{PaymentID: payment.ID, AmountCents: 12000, Type: enums.RefundTypePartial, Trigger: enums.RefundTriggerManual, Reason: "overcharge"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))

	rows, err := h.refunds.ListByPayment(ctx, payment.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.RefundStatusFailed, rows[0].Status)
	require.NotNil(t, rows[0].FailureCode)
	assert.Equal(t, string(pkgerrors.CodeInsufficientBalance), *rows[0].FailureCode)

	_, err = h.svc.Refund(ctx, admin, refunds.Input{PaymentID: payment.ID, AmountCents: 10, Type: enums.RefundTypePartial, Trigger: enums.RefundTriggerManual})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	rows, err = h.refunds.ListByPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestRetryAllStopsAtAttemptCeiling(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payment := h.open(t)
	_, err := h.svc.Release(ctx, admin, escrow.ReleaseInput{PaymentID: payment.ID, Override: true})
	require.NoError(t, err)
	_, err = h.svc.RegisterPayoutMethod(ctx, admin, payouts.MethodInput{
		RecipientType:  enums.RecipientTypeWorker,
		RecipientID:    payment.WorkerID,
		Method:         enums.PayoutMethodBankTransfer,
		DestinationRef: "acct-1",
	})
	require.NoError(t, err)

	transient := pkgerrors.New(pkgerrors.CodeTransient, "rail timeout")
	h.rail.errs = []error{transient, transient, transient}

	res, err := h.svc.DispatchPayout(ctx, system, payouts.RecipientInput{RecipientType: enums.RecipientTypeWorker, RecipientID: payment.WorkerID, ExpectedCents: 7500})
	require.Error(t, err)
	payoutID := res.Payout.ID
	for i := 0; i < 2; i++ {
		_, err = h.svc.RetryPayout(ctx, admin, payoutID)
		require.Error(t, err)
	}

	batch, err := h.svc.RetryAllFailedPayouts(ctx, admin)
	require.NoError(t, err)
	require.Len(t, batch.Items, 1)
	assert.Equal(t, pkgerrors.CodeAttemptsExhausted, batch.Items[0].Code)
	assert.Equal(t, "0 retried, 1 failed: payout attempts exhausted", batch.Summary)

	detail, err := h.svc.GetPayout(ctx, payoutID)
	require.NoError(t, err)
	assert.Equal(t, 3, detail.Payout.AttemptCount)
	assert.Equal(t, enums.PayoutStatusFailed, detail.Payout.Status)

	_, err = h.svc.RetryAllFailedPayouts(ctx, system)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestDispatchAllPendingPaysBothRecipients(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payment := h.open(t)
	_, err := h.svc.Release(ctx, admin, escrow.ReleaseInput{PaymentID: payment.ID, Override: true})
	require.NoError(t, err)
	for _, r := range []struct {
		kind enums.RecipientType
		id   uuid.UUID
	}{{enums.RecipientTypeWorker, payment.WorkerID}, {enums.RecipientTypeAgency, *payment.AgencyID}} {
		_, err := h.svc.RegisterPayoutMethod(ctx, shifts, payouts.MethodInput{RecipientType: r.kind, RecipientID: r.id, Method: enums.PayoutMethodWallet, DestinationRef: "w-" + r.id.String()[:4]})
		require.NoError(t, err)
	}

	batch, err := h.svc.DispatchAllPending(ctx, system)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Succeeded)

	current, err := h.svc.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPaidOut, current.Status)
}

func TestFinanceSummaryNetsRefunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.open(t)
	h.open(t)

	_, err := h.svc.Refund(ctx, admin, refunds.Input{PaymentID: first.ID, AmountCents: 2000, Type: enums.RefundTypePartial, Trigger: enums.RefundTriggerManual, Reason: "left early"})
	require.NoError(t, err)

	summary, err := h.svc.FinanceSummary(ctx, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.PaymentCount)
	assert.Equal(t, int64(20000), summary.GrossCents)
	assert.Equal(t, int64(3000-300), summary.PlatformRevenueCents)
	assert.Equal(t, int64(2000-200), summary.AgencyCommissionCents)
	assert.Equal(t, int64(15000-1500), summary.WorkerEarningsCents)
	assert.Equal(t, int64(2000), summary.RefundedCents)
	assert.Equal(t, int64(1), summary.Refunds.Count)

	_, err = h.svc.FinanceSummary(ctx, t0, t0)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
