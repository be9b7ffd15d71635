package payouts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shiftpay-backend/internal/ledger"
	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/db"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
	"github.com/angelmondragon/shiftpay-backend/pkg/outbox"
	"github.com/angelmondragon/shiftpay-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shiftpay-backend/pkg/rail"
	"github.com/angelmondragon/shiftpay-backend/pkg/types"
)

const (
	defaultRailTimeout = 10 * time.Second
	pendingConstraint  = "ux_payouts_pending_recipient"

	OutcomeCompleted    = "completed"
	OutcomeRailRejected = "rail_rejected"
	OutcomeTransient    = "transient"
	OutcomeUnconfigured = "recipient_unconfigured"
	OutcomeStale        = "stale"
)

// Rail submits transfers to the external payout processor.
type Rail interface {
	Transfer(ctx context.Context, req rail.TransferRequest) (*rail.TransferResult, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Recorder observes payout attempt outcomes.
type Recorder interface {
	ObservePayout(recipientType, outcome string)
}

// Service aggregates released funds per recipient and drives each payout
// through pending, processing and one of completed or failed.
type Service interface {
	EnqueueReleaseTx(ctx context.Context, tx *gorm.DB, payment models.Payment) ([]models.PayoutItem, error)
	ReconcileTx(ctx context.Context, tx *gorm.DB, payment models.Payment) error
	Dispatch(ctx context.Context, actor types.Actor, payoutID uuid.UUID) (*Result, error)
	DispatchForRecipient(ctx context.Context, actor types.Actor, input RecipientInput) (*Result, error)
	Retry(ctx context.Context, actor types.Actor, payoutID uuid.UUID) (*Result, error)
	SweepStale(ctx context.Context, asOf time.Time, limit int) ([]models.Payout, error)
	RegisterMethod(ctx context.Context, input MethodInput) (*models.PayoutMethod, error)
	Get(ctx context.Context, payoutID uuid.UUID) (*Detail, error)
	List(ctx context.Context, filter Filter) ([]models.Payout, error)
	ListPending(ctx context.Context, limit int) ([]models.Payout, error)
	ListFailed(ctx context.Context, limit int) ([]models.Payout, error)
	ListDueRetries(ctx context.Context, asOf time.Time, limit int) ([]models.Payout, error)
	MaxAttempts() int
}

// RecipientInput dispatches the pending payout of one recipient. A positive
// ExpectedCents guards against paying an aggregate that changed since the
// caller last read it.
type RecipientInput struct {
	RecipientType enums.RecipientType
	RecipientID   uuid.UUID
	Currency      enums.Currency
	ExpectedCents int64
}

type MethodInput struct {
	RecipientType  enums.RecipientType
	RecipientID    uuid.UUID
	Method         enums.PayoutMethodType
	DestinationRef string
}

// Result is the payout state after an attempt together with the attempt row.
type Result struct {
	Payout  models.Payout
	Attempt *models.PayoutAttempt
}

// Detail is a payout with its attempt history.
type Detail struct {
	Payout   models.Payout          `json:"payout"`
	Attempts []models.PayoutAttempt `json:"attempts"`
}

type ServiceParams struct {
	DB          txRunner
	Repo        Repository
	Ledger      ledger.Service
	Rail        Rail
	Outbox      outbox.Emitter
	Config      config.PayoutConfig
	RailTimeout time.Duration
	Metrics     Recorder
	Now         func() time.Time

	// DefaultCurrency applies to recipient dispatches that name no currency.
	DefaultCurrency string
}

type service struct {
	db          txRunner
	repo        Repository
	ledger      ledger.Service
	rail        Rail
	outbox      outbox.Emitter
	cfg         config.PayoutConfig
	currency    enums.Currency
	railTimeout time.Duration
	metrics     Recorder
	now         func() time.Time
}

// NewService builds the payout dispatcher.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("payout repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Rail == nil {
		return nil, fmt.Errorf("payout rail required")
	}
	if params.Config.MaxAttempts <= 0 {
		return nil, fmt.Errorf("payout max attempts must be positive")
	}
	currency, err := enums.ParseCurrency(params.DefaultCurrency)
	if err != nil {
		return nil, fmt.Errorf("payout default currency: %w", err)
	}
	timeout := params.RailTimeout
	if timeout <= 0 {
		timeout = defaultRailTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		db:          params.DB,
		repo:        params.Repo,
		ledger:      params.Ledger,
		rail:        params.Rail,
		outbox:      params.Outbox,
		cfg:         params.Config,
		currency:    currency,
		railTimeout: timeout,
		metrics:     params.Metrics,
		now:         now,
	}, nil
}

func (s *service) MaxAttempts() int {
	return s.cfg.MaxAttempts
}

// EnqueueReleaseTx queues the worker and agency portions of a released
// payment onto each recipient's pending payout. Portions already queued are
// left alone, so replays of a release are harmless.
func (s *service) EnqueueReleaseTx(ctx context.Context, tx *gorm.DB, payment models.Payment) ([]models.PayoutItem, error) {
	if payment.Status != enums.PaymentStatusReleased {
		return nil, nil
	}
	repo := s.repo.WithTx(tx)

	type portion struct {
		recipientType enums.RecipientType
		recipientID   uuid.UUID
	}
	portions := []portion{{enums.RecipientTypeWorker, payment.WorkerID}}
	if payment.AgencyID != nil {
		portions = append(portions, portion{enums.RecipientTypeAgency, *payment.AgencyID})
	}

	var items []models.PayoutItem
	for _, part := range portions {
		amount := payment.QueuedCents(part.recipientType)
		if amount <= 0 {
			continue
		}
		existing, err := repo.FindItem(ctx, payment.ID, part.recipientType)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout item")
		}
		if existing != nil {
			continue
		}
		payout, err := s.pendingPayout(ctx, tx, part.recipientType, part.recipientID, payment.Currency)
		if err != nil {
			return nil, err
		}
		item := models.PayoutItem{
			PayoutID:      payout.ID,
			PaymentID:     payment.ID,
			RecipientType: part.recipientType,
			AmountCents:   amount,
		}
		if err := repo.CreateItem(ctx, &item); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue payout item")
		}
		payout.AmountCents += amount
		if err := repo.Save(ctx, payout); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout amount")
		}
		items = append(items, item)
	}
	return items, nil
}

// pendingPayout returns the recipient's open payout, creating it when none
// exists. A concurrent creator wins the partial unique index and its row is
// reused.
func (s *service) pendingPayout(ctx context.Context, tx *gorm.DB, recipientType enums.RecipientType, recipientID uuid.UUID, currency enums.Currency) (*models.Payout, error) {
	repo := s.repo.WithTx(tx)
	payout, err := repo.FindPendingForRecipient(ctx, recipientType, recipientID, currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending payout")
	}
	if payout != nil {
		return payout, nil
	}
	payout = &models.Payout{
		ID:            uuid.New(),
		RecipientType: recipientType,
		RecipientID:   recipientID,
		Currency:      currency,
		Status:        enums.PayoutStatusPending,
		MaxAttempts:   s.cfg.MaxAttempts,
	}
	err = tx.Transaction(func(sp *gorm.DB) error {
		return s.repo.WithTx(sp).Create(ctx, payout)
	})
	if err == nil {
		return payout, nil
	}
	if !db.IsUniqueViolation(err, pendingConstraint) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create pending payout")
	}
	payout, err = repo.FindPendingForRecipient(ctx, recipientType, recipientID, currency)
	if err != nil || payout == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "pending payout changed concurrently")
	}
	return payout, nil
}

// ReconcileTx shrinks queued items of a payment after a refund so no payout
// carries money that has gone back to the business. Items in flight or
// already paid are untouched.
func (s *service) ReconcileTx(ctx context.Context, tx *gorm.DB, payment models.Payment) error {
	repo := s.repo.WithTx(tx)
	items, err := repo.ListItemsByPayment(ctx, payment.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout items")
	}
	for _, item := range items {
		payout, err := repo.LockByID(ctx, item.PayoutID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payout")
		}
		if payout.Status != enums.PayoutStatusPending && payout.Status != enums.PayoutStatusFailed {
			continue
		}
		target := payment.QueuedCents(item.RecipientType)
		if target < 0 {
			target = 0
		}
		if item.AmountCents <= target {
			continue
		}
		diff := item.AmountCents - target
		if target == 0 {
			if err := repo.DeleteItem(ctx, item.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drop payout item")
			}
		} else {
			item.AmountCents = target
			if err := repo.SaveItem(ctx, &item); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "shrink payout item")
			}
		}
		payout.AmountCents -= diff
		// a failed payout never moved money, so its attempts go with it
		if payout.AmountCents == 0 {
			if err := repo.Delete(ctx, payout.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drop empty payout")
			}
			continue
		}
		if err := repo.Save(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout amount")
		}
	}
	return nil
}

func (s *service) Dispatch(ctx context.Context, actor types.Actor, payoutID uuid.UUID) (*Result, error) {
	return s.attempt(ctx, actor, payoutID, enums.PayoutStatusPending)
}

func (s *service) Retry(ctx context.Context, actor types.Actor, payoutID uuid.UUID) (*Result, error) {
	return s.attempt(ctx, actor, payoutID, enums.PayoutStatusFailed)
}

func (s *service) DispatchForRecipient(ctx context.Context, actor types.Actor, input RecipientInput) (*Result, error) {
	if !input.RecipientType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid recipient type")
	}
	if input.RecipientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient id is required")
	}
	if input.ExpectedCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "expected amount cannot be negative")
	}
	currency := input.Currency
	if currency == "" {
		currency = s.currency
	}
	payout, err := s.repo.FindPendingForRecipient(ctx, input.RecipientType, input.RecipientID, currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending payout")
	}
	if payout == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "recipient has no pending payout").
			WithDetails(map[string]any{"recipient_type": input.RecipientType, "recipient_id": input.RecipientID})
	}
	if input.ExpectedCents > 0 && input.ExpectedCents != payout.AmountCents {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "pending payout amount differs from the requested amount").
			WithDetails(map[string]any{"payout_id": payout.ID, "amount_cents": payout.AmountCents, "expected_cents": input.ExpectedCents})
	}
	return s.Dispatch(ctx, actor, payout.ID)
}

// attempt runs one payout submission in two transactions around the rail
// call: the first marks the payout processing and moves its items in
// flight, the second records the outcome. No lock is held during the call.
func (s *service) attempt(ctx context.Context, actor types.Actor, payoutID uuid.UUID, from enums.PayoutStatus) (*Result, error) {
	var (
		payout       models.Payout
		attempt      models.PayoutAttempt
		method       *models.PayoutMethod
		unconfigured bool
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.lockForUpdate(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		if err := s.checkAttemptable(locked, from); err != nil {
			return err
		}

		repo := s.repo.WithTx(tx)
		method, err = repo.FindMethod(ctx, locked.RecipientType, locked.RecipientID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout method")
		}
		if method == nil {
			kind := enums.PayoutFailureRecipientUnconfigured
			msg := "recipient has no payout method on file"
			locked.LastFailureKind = &kind
			locked.LastError = &msg
			unconfigured = true
			payout = *locked
			return repo.Save(ctx, locked)
		}

		now := s.now().UTC()
		locked.AttemptCount++
		locked.Status = enums.PayoutStatusProcessing
		locked.Method = &method.Method
		locked.ProcessingStartedAt = &now
		locked.NextRetryAt = nil
		locked.LastFailureKind = nil
		locked.LastError = nil
		if locked.InitiatedAt == nil {
			locked.InitiatedAt = &now
		}
		if err := repo.Save(ctx, locked); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payout processing")
		}
		attempt = models.PayoutAttempt{
			PayoutID:      locked.ID,
			AttemptNumber: locked.AttemptCount,
			Status:        enums.PayoutStatusProcessing,
			AmountCents:   locked.AmountCents,
			StartedAt:     now,
		}
		if err := repo.CreateAttempt(ctx, &attempt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payout attempt")
		}
		if err := s.appendItems(ctx, tx, actor, *locked, enums.LedgerEntryPayoutAttempt); err != nil {
			return err
		}
		payout = *locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	if unconfigured {
		s.observe(payout.RecipientType, OutcomeUnconfigured)
		return &Result{Payout: payout}, pkgerrors.New(pkgerrors.CodeRecipientUnconfigured, "recipient has no payout method on file").
			WithDetails(map[string]any{"payout_id": payout.ID, "recipient_type": payout.RecipientType, "recipient_id": payout.RecipientID})
	}

	railCtx, cancel := context.WithTimeout(ctx, s.railTimeout)
	transfer, railErr := s.rail.Transfer(railCtx, rail.TransferRequest{
		IdempotencyKey: railKey(payout.ID),
		PayoutID:       payout.ID,
		RecipientType:  payout.RecipientType,
		RecipientID:    payout.RecipientID,
		Method:         method.Method,
		Destination:    method.DestinationRef,
		AmountCents:    payout.AmountCents,
		Currency:       payout.Currency,
	})
	cancel()
	if railErr != nil && errors.Is(railErr, context.DeadlineExceeded) && !pkgerrors.IsCode(railErr, pkgerrors.CodeTransient) {
		railErr = pkgerrors.Wrap(pkgerrors.CodeTransient, railErr, "payout rail timed out")
	}

	result, err := s.finish(ctx, actor, payout.ID, attempt.AttemptNumber, transfer, railErr)
	if err != nil {
		return nil, err
	}
	if railErr != nil {
		return result, classify(railErr)
	}
	return result, nil
}

func (s *service) checkAttemptable(payout *models.Payout, from enums.PayoutStatus) error {
	details := map[string]any{"payout_id": payout.ID, "status": payout.Status}
	switch payout.Status {
	case enums.PayoutStatusCompleted:
		return pkgerrors.New(pkgerrors.CodeAlreadyCompleted, "payout already completed").WithDetails(details)
	case enums.PayoutStatusProcessing:
		return pkgerrors.New(pkgerrors.CodeInvalidTransition, "payout is already processing").WithDetails(details)
	}
	if payout.Status != from {
		if from == enums.PayoutStatusFailed {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "only failed payouts can be retried").WithDetails(details)
		}
		return pkgerrors.New(pkgerrors.CodeInvalidTransition, "only pending payouts can be dispatched").WithDetails(details)
	}
	ceiling := s.ceiling(*payout)
	if payout.AttemptCount >= ceiling {
		details["attempt_count"] = payout.AttemptCount
		details["max_attempts"] = ceiling
		return pkgerrors.New(pkgerrors.CodeAttemptsExhausted, "payout attempts exhausted").WithDetails(details)
	}
	if payout.AmountCents < s.cfg.MinimumCents || payout.AmountCents <= 0 {
		details["amount_cents"] = payout.AmountCents
		details["minimum_cents"] = s.cfg.MinimumCents
		return pkgerrors.New(pkgerrors.CodeBelowMinimumThreshold, "payout amount is below the minimum threshold").WithDetails(details)
	}
	return nil
}

// ceiling is the attempt limit of a payout. Raising the configured maximum
// re-opens payouts that hit the old one.
func (s *service) ceiling(payout models.Payout) int {
	if payout.MaxAttempts > s.cfg.MaxAttempts {
		return payout.MaxAttempts
	}
	return s.cfg.MaxAttempts
}

// lockForUpdate locks the payments behind a payout, in id order, before the
// payout row itself. Release and refund lock payment then payout, so this
// order keeps the two paths from deadlocking.
func (s *service) lockForUpdate(ctx context.Context, tx *gorm.DB, payoutID uuid.UUID) (*models.Payout, error) {
	repo := s.repo.WithTx(tx)
	snapshot, err := repo.FindByID(ctx, payoutID)
	if err != nil {
		return nil, notFoundOr(err, payoutID)
	}
	ids := make([]uuid.UUID, 0, len(snapshot.Items))
	seen := make(map[uuid.UUID]struct{}, len(snapshot.Items))
	for _, item := range snapshot.Items {
		if _, ok := seen[item.PaymentID]; ok {
			continue
		}
		seen[item.PaymentID] = struct{}{}
		ids = append(ids, item.PaymentID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		if _, err := s.ledger.LockPayment(ctx, tx, id); err != nil {
			return nil, err
		}
	}
	locked, err := repo.LockByID(ctx, payoutID)
	if err != nil {
		return nil, notFoundOr(err, payoutID)
	}
	return locked, nil
}

func (s *service) appendItems(ctx context.Context, tx *gorm.DB, actor types.Actor, payout models.Payout, entryType enums.LedgerEntryType) error {
	for _, item := range payout.Items {
		if item.AmountCents <= 0 {
			continue
		}
		var amount int64
		if entryType == enums.LedgerEntryPayoutSuccess {
			amount = -item.AmountCents
		}
		_, err := s.ledger.AppendTx(ctx, tx, ledger.AppendInput{
			PaymentID:      item.PaymentID,
			Type:           entryType,
			AmountCents:    amount,
			Actor:          actor,
			IdempotencyKey: itemKey(payout.ID, entryType, payout.AttemptCount, item),
			Payload: ledger.PayoutPayload{
				PayoutID:      payout.ID,
				AttemptNumber: payout.AttemptCount,
				RecipientType: item.RecipientType,
				AmountCents:   item.AmountCents,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// finish records the rail outcome for attempt number n. The payout must
// still be processing that attempt; a sweep may have failed it meanwhile.
func (s *service) finish(ctx context.Context, actor types.Actor, payoutID uuid.UUID, n int, transfer *rail.TransferResult, railErr error) (*Result, error) {
	var result Result
	outcome := OutcomeCompleted
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		payout, err := s.lockForUpdate(ctx, tx, payoutID)
		if err != nil {
			return err
		}
		if payout.Status != enums.PayoutStatusProcessing || payout.AttemptCount != n {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payout attempt was superseded").
				WithDetails(map[string]any{"payout_id": payoutID, "attempt_number": n, "status": payout.Status})
		}
		repo := s.repo.WithTx(tx)
		attempt, err := repo.FindAttempt(ctx, payoutID, n)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout attempt")
		}
		if attempt == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "payout attempt row missing")
		}

		now := s.now().UTC()
		attempt.FinishedAt = &now
		events := []enums.OutboxEventType{}
		if railErr == nil {
			payout.Status = enums.PayoutStatusCompleted
			payout.CompletedAt = &now
			if transfer != nil && transfer.Reference != "" {
				ref := transfer.Reference
				payout.RailReference = &ref
				attempt.RailReference = &ref
			}
			attempt.Status = enums.PayoutStatusCompleted
			if err := s.appendItems(ctx, tx, actor, *payout, enums.LedgerEntryPayoutSuccess); err != nil {
				return err
			}
			events = append(events, enums.EventPayoutCompleted)
		} else {
			kind := failureKind(railErr)
			msg := railErr.Error()
			payout.Status = enums.PayoutStatusFailed
			payout.LastFailureKind = &kind
			payout.LastError = &msg
			attempt.Status = enums.PayoutStatusFailed
			attempt.FailureKind = &kind
			attempt.Error = &msg
			outcome = string(kind)
			exhausted := payout.AttemptCount >= s.ceiling(*payout)
			if kind == enums.PayoutFailureTransient && !exhausted {
				next := now.Add(s.backoff(payout.AttemptCount))
				payout.NextRetryAt = &next
			}
			if err := s.appendItems(ctx, tx, actor, *payout, enums.LedgerEntryPayoutFailure); err != nil {
				return err
			}
			events = append(events, enums.EventPayoutFailed)
			if exhausted {
				events = append(events, enums.EventPayoutExhausted)
			}
		}
		if err := repo.SaveAttempt(ctx, attempt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record attempt outcome")
		}
		if err := repo.Save(ctx, payout); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payout outcome")
		}
		for _, eventType := range events {
			if err := s.emit(ctx, tx, actor, eventType, *payout, now); err != nil {
				return err
			}
		}
		result = Result{Payout: *payout, Attempt: attempt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.observe(result.Payout.RecipientType, outcome)
	return &result, nil
}

// SweepStale fails payouts stuck in processing for longer than the
// configured threshold and schedules them for an immediate retry. The rail
// idempotency key keeps a late success from paying twice.
func (s *service) SweepStale(ctx context.Context, asOf time.Time, limit int) ([]models.Payout, error) {
	threshold := s.cfg.StaleAfter
	if threshold <= 0 {
		threshold = s.railTimeout * 2
	}
	candidates, err := s.repo.ListStaleProcessing(ctx, asOf.Add(-threshold), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale payouts")
	}
	actor := types.SystemActor("payout-stale-sweep")
	var swept []models.Payout
	for _, candidate := range candidates {
		var updated *models.Payout
		err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			payout, err := s.lockForUpdate(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			if payout.Status != enums.PayoutStatusProcessing || payout.ProcessingStartedAt == nil ||
				!payout.ProcessingStartedAt.Before(asOf.Add(-threshold)) {
				return nil
			}
			repo := s.repo.WithTx(tx)
			kind := enums.PayoutFailureTransient
			msg := "payout processing timed out"
			at := asOf.UTC()
			payout.Status = enums.PayoutStatusFailed
			payout.LastFailureKind = &kind
			payout.LastError = &msg
			exhausted := payout.AttemptCount >= s.ceiling(*payout)
			if !exhausted {
				payout.NextRetryAt = &at
			}
			if attempt, err := repo.FindAttempt(ctx, payout.ID, payout.AttemptCount); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout attempt")
			} else if attempt != nil {
				attempt.Status = enums.PayoutStatusFailed
				attempt.FailureKind = &kind
				attempt.Error = &msg
				attempt.FinishedAt = &at
				if err := repo.SaveAttempt(ctx, attempt); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record attempt outcome")
				}
			}
			if err := s.appendItems(ctx, tx, actor, *payout, enums.LedgerEntryPayoutFailure); err != nil {
				return err
			}
			if err := repo.Save(ctx, payout); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payout outcome")
			}
			if err := s.emit(ctx, tx, actor, enums.EventPayoutFailed, *payout, at); err != nil {
				return err
			}
			if exhausted {
				if err := s.emit(ctx, tx, actor, enums.EventPayoutExhausted, *payout, at); err != nil {
					return err
				}
			}
			updated = payout
			return nil
		})
		if err != nil {
			return swept, err
		}
		if updated != nil {
			s.observe(updated.RecipientType, OutcomeStale)
			swept = append(swept, *updated)
		}
	}
	return swept, nil
}

func (s *service) RegisterMethod(ctx context.Context, input MethodInput) (*models.PayoutMethod, error) {
	if !input.RecipientType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid recipient type")
	}
	if input.RecipientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "recipient id is required")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payout method")
	}
	dest := strings.TrimSpace(input.DestinationRef)
	if dest == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination reference is required")
	}
	method := models.PayoutMethod{
		RecipientType:  input.RecipientType,
		RecipientID:    input.RecipientID,
		Method:         input.Method,
		DestinationRef: dest,
	}
	if err := s.repo.UpsertMethod(ctx, &method); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payout method")
	}
	stored, err := s.repo.FindMethod(ctx, input.RecipientType, input.RecipientID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payout method")
	}
	if stored == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout method missing after upsert")
	}
	return stored, nil
}

func (s *service) Get(ctx context.Context, payoutID uuid.UUID) (*Detail, error) {
	payout, err := s.repo.FindByID(ctx, payoutID)
	if err != nil {
		return nil, notFoundOr(err, payoutID)
	}
	attempts, err := s.repo.ListAttempts(ctx, payoutID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout attempts")
	}
	return &Detail{Payout: *payout, Attempts: attempts}, nil
}

func (s *service) List(ctx context.Context, filter Filter) ([]models.Payout, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payout status")
	}
	if filter.RecipientType != "" && !filter.RecipientType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid recipient type")
	}
	payouts, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payouts")
	}
	return payouts, nil
}

func (s *service) ListPending(ctx context.Context, limit int) ([]models.Payout, error) {
	payouts, err := s.repo.ListPending(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending payouts")
	}
	return payouts, nil
}

func (s *service) ListFailed(ctx context.Context, limit int) ([]models.Payout, error) {
	payouts, err := s.repo.ListFailed(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list failed payouts")
	}
	return payouts, nil
}

func (s *service) ListDueRetries(ctx context.Context, asOf time.Time, limit int) ([]models.Payout, error) {
	payouts, err := s.repo.ListDueRetries(ctx, asOf, s.cfg.MaxAttempts, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due payout retries")
	}
	return payouts, nil
}

// backoff doubles the base delay per completed attempt up to the cap.
func (s *service) backoff(attempts int) time.Duration {
	base := s.cfg.RetryBaseDelay
	if base <= 0 {
		base = time.Minute
	}
	limit := s.cfg.RetryMaxDelay
	if limit <= 0 {
		limit = time.Hour
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		return limit
	}
	return delay
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, actor types.Actor, eventType enums.OutboxEventType, payout models.Payout, at time.Time) error {
	if s.outbox == nil {
		return nil
	}
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayout,
		AggregateID:   payout.ID,
		Actor:         outbox.ActorFrom(actor),
		Data:          payloads.NewPayout(payout),
		OccurredAt:    at,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue payout event")
	}
	return nil
}

func (s *service) observe(recipientType enums.RecipientType, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObservePayout(string(recipientType), outcome)
}

func failureKind(err error) enums.PayoutFailureKind {
	if pkgerrors.IsCode(err, pkgerrors.CodeRailRejected) {
		return enums.PayoutFailureRailRejected
	}
	return enums.PayoutFailureTransient
}

// classify maps any rail error onto the surfaced payout taxonomy.
func classify(err error) error {
	if pkgerrors.IsCode(err, pkgerrors.CodeRailRejected) || pkgerrors.IsCode(err, pkgerrors.CodeTransient) {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeTransient, err, "payout rail call failed")
}

func railKey(payoutID uuid.UUID) string {
	return "payout:" + payoutID.String()
}

func itemKey(payoutID uuid.UUID, entryType enums.LedgerEntryType, attempt int, item models.PayoutItem) string {
	return fmt.Sprintf("payout:%s:%s:%d:%s:%s", payoutID, entryType, attempt, item.PaymentID, item.RecipientType)
}

func notFoundOr(err error, payoutID uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payout not found").
			WithDetails(map[string]any{"payout_id": payoutID})
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout")
}
