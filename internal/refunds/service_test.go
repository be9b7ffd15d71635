package refunds

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shiftpay-backend/internal/escrow"
	"github.com/angelmondragon/shiftpay-backend/internal/ledger"
	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/db"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/sqlitetest"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
	"github.com/angelmondragon/shiftpay-backend/pkg/types"
)

var (
	t0    = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	admin = types.AdminActor("admin-3")
	shift = types.ServiceActor("shifts")
)

type statusCounter map[enums.RefundStatus]int

func (c statusCounter) ObserveRefund(_ enums.RefundType, _ enums.RefundTrigger, status enums.RefundStatus) {
	c[status]++
}

type harness struct {
	client  *db.Client
	ledger  ledger.Service
	escrow  escrow.Service
	refunds Service
	counts  statusCounter
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{client: sqlitetest.Open(t), now: t0, counts: statusCounter{}}
	clock := func() time.Time { return h.now }
	repo := ledger.NewRepository(h.client.DB())
	led, err := ledger.NewService(ledger.ServiceParams{Repo: repo, TxRunner: h.client, Now: clock})
	require.NoError(t, err)
	h.ledger = led
	h.escrow, err = escrow.NewService(escrow.ServiceParams{
		Ledger: led,
		Repo:   repo,
		Fees:   config.FeesConfig{PlatformFeeRate: "0.15", AgencyCommissionRate: "0.10", DefaultCurrency: "USD"},
		Escrow: config.EscrowConfig{HoldPeriod: 7 * 24 * time.Hour},
	})
	require.NoError(t, err)
	h.refunds, err = NewService(ServiceParams{
		Repo:    NewRepository(h.client.DB()),
		Ledger:  led,
		Config:  config.RefundConfig{AutoReasons: []string{"worker_no_show", "shift_cancelled_before_start"}},
		Metrics: h.counts,
		Now:     clock,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) openPayment(t *testing.T) models.Payment {
	t.Helper()
	agency := uuid.New()
	var payment models.Payment
	require.NoError(t, h.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		res, err := h.escrow.OpenTx(context.Background(), tx, shift, escrow.OpenInput{
			ShiftAssignmentID: uuid.New(),
			WorkerID:          uuid.New(),
			BusinessID:        uuid.New(),
			AgencyID:          &agency,
			GrossCents:        10000,
		})
		if err != nil {
			return err
		}
		payment = res.Payment
		return nil
	}))
	return payment
}

func (h *harness) refund(t *testing.T, actor types.Actor, input Input) (*Result, error) {
	t.Helper()
	var res *Result
	err := h.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		res, err = h.refunds.RefundTx(context.Background(), tx, actor, input)
		return err
	})
	return res, err
}

func TestPartialRefundRecordsAllocation(t *testing.T) {
	h := newHarness(t)
	payment := h.openPayment(t)

	res, err := h.refund(t, admin, Input{
		PaymentID:   payment.ID,
		AmountCents: 2000,
		Type:        enums.RefundTypePartial,
		Trigger:     enums.RefundTriggerManual,
		Reason:      "left two hours early",
	})
	require.NoError(t, err)
	r := res.Refund
	assert.Equal(t, enums.RefundStatusCompleted, r.Status)
	assert.Equal(t, int64(2000), r.AmountCents)
	assert.Equal(t, int64(1500), r.WorkerCents)
	assert.Equal(t, int64(300), r.PlatformCents)
	assert.Equal(t, int64(200), r.AgencyCents)
	assert.Equal(t, "admin:admin-3", r.RequestedBy)
	assert.Equal(t, enums.PaymentStatusInEscrow, res.Append.Payment.Status)
	assert.Equal(t, 1, h.counts[enums.RefundStatusCompleted])
}

func TestRefundBoundIsEnforced(t *testing.T) {
	h := newHarness(t)
	payment := h.openPayment(t)

	_, err := h.refund(t, admin, Input{PaymentID: payment.ID, AmountCents: 6000, Type: enums.RefundTypePartial, Trigger: enums.RefundTriggerManual, Reason: "a"})
	require.NoError(t, err)
	_, err = h.refund(t, admin, Input{PaymentID: payment.ID, AmountCents: 4001, Type: enums.RefundTypePartial, Trigger: enums.RefundTriggerManual, Reason: "b"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))

	rows, err := h.refunds.ListByPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	var total int64
	for _, r := range rows {
		total += r.AmountCents
	}
	assert.LessOrEqual(t, total, int64(10000))
}

func TestAutoRefundNeedsPolicyReasonAndEvent(t *testing.T) {
	h := newHarness(t)
	payment := h.openPayment(t)

	_, err := h.refund(t, shift, Input{PaymentID: payment.ID, Type: enums.RefundTypeFull, Trigger: enums.RefundTriggerAuto, Reason: "changed mind", EventRef: "evt-1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.refund(t, shift, Input{PaymentID: payment.ID, Type: enums.RefundTypeFull, Trigger: enums.RefundTriggerAuto, Reason: "worker_no_show"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestAutoRefundRedeliveryDoesNotDoubleRefund(t *testing.T) {
	h := newHarness(t)
	payment := h.openPayment(t)
	input := Input{
		PaymentID: payment.ID,
		Type:      enums.RefundTypeFull,
		Trigger:   enums.RefundTriggerAuto,
		Reason:    "worker_no_show",
		EventRef:  "shift-evt-991",
	}

	first, err := h.refund(t, shift, input)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), first.Refund.AmountCents)
	assert.Equal(t, enums.PaymentStatusRefunded, first.Append.Payment.Status)
	assert.Equal(t, int64(0), first.Refund.ShortfallCents)

	second, err := h.refund(t, shift, input)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Refund.ID, second.Refund.ID)

	rows, err := h.refunds.ListByPayment(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFullRefundAfterPayoutRecordsShortfall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payment := h.openPayment(t)

	h.now = t0.Add(8 * 24 * time.Hour)
	require.NoError(t, h.client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := h.escrow.ReleaseTx(ctx, tx, types.SystemActor("escrow-release"), escrow.ReleaseInput{PaymentID: payment.ID})
		return err
	}))
	worker := ledger.PayoutPayload{PayoutID: uuid.New(), AttemptNumber: 1, RecipientType: enums.RecipientTypeWorker, AmountCents: 7500}
	for i, entryType := range []enums.LedgerEntryType{enums.LedgerEntryPayoutAttempt, enums.LedgerEntryPayoutSuccess} {
		_, err := h.ledger.Append(ctx, ledger.AppendInput{
			PaymentID:      payment.ID,
			Type:           entryType,
			Actor:          types.SystemActor("payouts"),
			IdempotencyKey: "payout-step-" + string(rune('a'+i)),
			Payload:        worker,
		})
		require.NoError(t, err)
	}

	res, err := h.refund(t, admin, Input{PaymentID: payment.ID, Type: enums.RefundTypeFull, Trigger: enums.RefundTriggerManual, Reason: "fraud review"})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), res.Refund.AmountCents)
	assert.Equal(t, int64(7500), res.Refund.ShortfallCents)
	assert.True(t, res.Append.Payment.IsFlagged)

	_, err = h.refund(t, admin, Input{PaymentID: payment.ID, AmountCents: 1, Type: enums.RefundTypePartial, Trigger: enums.RefundTriggerManual, Reason: "again"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))
}

func TestFullRefundRejectsMismatchedAmount(t *testing.T) {
	h := newHarness(t)
	payment := h.openPayment(t)
	_, err := h.refund(t, admin, Input{PaymentID: payment.ID, AmountCents: 500, Type: enums.RefundTypeFull, Trigger: enums.RefundTriggerManual, Reason: "x"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))
}

func TestRecordFailureAndTotals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	payment := h.openPayment(t)

	_, err := h.refund(t, admin, Input{PaymentID: payment.ID, AmountCents: 1000, Type: enums.RefundTypePartial, Trigger: enums.RefundTriggerManual, Reason: "late"})
	require.NoError(t, err)

	cause := pkgerrors.New(pkgerrors.CodeInsufficientBalance, "refund exceeds balance")
	failed, err := h.refunds.RecordFailure(ctx, admin, Input{PaymentID: payment.ID, AmountCents: 99999, Type: enums.RefundTypePartial, Trigger: enums.RefundTriggerManual, Reason: "too much"}, cause)
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusFailed, failed.Status)
	require.NotNil(t, failed.FailureCode)
	assert.Equal(t, string(pkgerrors.CodeInsufficientBalance), *failed.FailureCode)

	other, err := h.refunds.RecordFailure(ctx, admin, Input{PaymentID: payment.ID, Reason: "db"}, errors.New("boom"))
	require.NoError(t, err)
	assert.Equal(t, string(pkgerrors.CodeInternal), *other.FailureCode)

	totals, err := h.refunds.Totals(ctx, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), totals.Count)
	assert.Equal(t, int64(1000), totals.AmountCents)
	assert.Equal(t, int64(1), totals.PartialCount)
	assert.Equal(t, int64(2), totals.FailedCount)
}
