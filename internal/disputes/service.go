package disputes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shiftpay-backend/internal/ledger"
	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
	"github.com/angelmondragon/shiftpay-backend/pkg/types"
)

// Service drives the dispute lifecycle. Opening and resolving write ledger
// entries; review, response requests and escalation only move the dispute.
type Service interface {
	OpenTx(ctx context.Context, tx *gorm.DB, actor types.Actor, input OpenInput) (*Result, error)
	ReviewTx(ctx context.Context, tx *gorm.DB, actor types.Actor, disputeID uuid.UUID) (*models.Dispute, error)
	RequestResponseTx(ctx context.Context, tx *gorm.DB, actor types.Actor, disputeID uuid.UUID) (*models.Dispute, error)
	EscalateTx(ctx context.Context, tx *gorm.DB, actor types.Actor, disputeID uuid.UUID) (*models.Dispute, error)
	ResolveTx(ctx context.Context, tx *gorm.DB, actor types.Actor, input ResolveInput) (*Result, error)
	ScanBreachesTx(ctx context.Context, tx *gorm.DB, asOf time.Time, limit int) ([]models.Dispute, error)
	Get(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error)
	GetForPayment(ctx context.Context, paymentID uuid.UUID) (*models.Dispute, error)
	SLA(ctx context.Context, disputeID uuid.UUID, now time.Time) (*SLAView, error)
	WarningMargin() time.Duration
}

// OpenInput opens a dispute. WorkerID and BusinessID are optional and, when
// given, must match the payment's parties.
type OpenInput struct {
	PaymentID      uuid.UUID
	Reason         string
	RaisedBy       string
	WorkerID       uuid.UUID
	BusinessID     uuid.UUID
	IdempotencyKey string
}

type ResolveInput struct {
	DisputeID uuid.UUID
	Outcome   enums.DisputeOutcome
	Note      string
}

// Result pairs a dispute with the ledger append it caused.
type Result struct {
	Dispute models.Dispute
	Append  *ledger.AppendResult
}

// BreachRecorder observes newly breached disputes.
type BreachRecorder interface {
	IncSLABreach()
}

type ServiceParams struct {
	Repo    Repository
	Ledger  ledger.Service
	Config  config.DisputeConfig
	Metrics BreachRecorder
	Now     func() time.Time
}

type service struct {
	repo    Repository
	ledger  ledger.Service
	cfg     config.DisputeConfig
	metrics BreachRecorder
	now     func() time.Time
}

// NewService builds the dispute state machine.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("dispute repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Config.SLAWindow <= 0 {
		return nil, fmt.Errorf("dispute sla window must be positive")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:    params.Repo,
		ledger:  params.Ledger,
		cfg:     params.Config,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

func (s *service) WarningMargin() time.Duration {
	return s.cfg.WarningMargin
}

func (s *service) OpenTx(ctx context.Context, tx *gorm.DB, actor types.Actor, input OpenInput) (*Result, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute reason is required")
	}
	party, err := enums.ParseDisputeParty(strings.ToLower(strings.TrimSpace(input.RaisedBy)))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid raised_by")
	}

	payment, err := s.ledger.LockPayment(ctx, tx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	if (input.WorkerID != uuid.Nil && input.WorkerID != payment.WorkerID) ||
		(input.BusinessID != uuid.Nil && input.BusinessID != payment.BusinessID) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute parties do not match the payment")
	}
	if party == enums.DisputePartyAgency && payment.AgencyID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment has no agency")
	}

	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		key = "dispute:open:" + uuid.NewString()
	}
	dispute := models.Dispute{
		ID:         uuid.New(),
		PaymentID:  payment.ID,
		WorkerID:   payment.WorkerID,
		BusinessID: payment.BusinessID,
		RaisedBy:   party,
		Reason:     reason,
		Status:     enums.DisputeStatusOpen,
	}

	res, err := s.ledger.AppendTx(ctx, tx, ledger.AppendInput{
		PaymentID:      payment.ID,
		Type:           enums.LedgerEntryDisputeOpen,
		Actor:          actor,
		IdempotencyKey: key,
		Payload:        ledger.DisputePayload{DisputeID: dispute.ID},
	})
	if err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)
	if res.Replayed {
		pl, err := ledger.Decode[ledger.DisputePayload](res.Entry.Payload)
		if err != nil {
			return nil, err
		}
		existing, err := repo.FindByID(ctx, pl.DisputeID)
		if err != nil {
			return nil, notFoundOr(err, pl.DisputeID)
		}
		return &Result{Dispute: *existing, Append: res}, nil
	}

	// The deadline is anchored to the ledger entry time and never moves.
	dispute.OpenedAt = res.Entry.OccurredAt
	dispute.SLADeadline = dispute.OpenedAt.Add(s.cfg.SLAWindow)
	if err := repo.Create(ctx, &dispute); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create dispute")
	}
	return &Result{Dispute: dispute, Append: res}, nil
}

var transitions = map[enums.DisputeStatus][]enums.DisputeStatus{
	enums.DisputeStatusOpen:             {enums.DisputeStatusUnderReview, enums.DisputeStatusEscalated},
	enums.DisputeStatusUnderReview:      {enums.DisputeStatusAwaitingResponse, enums.DisputeStatusEscalated},
	enums.DisputeStatusAwaitingResponse: {enums.DisputeStatusResolved, enums.DisputeStatusEscalated},
	enums.DisputeStatusEscalated:        {enums.DisputeStatusResolved},
}

// CanTransition reports whether a dispute may move from one status to another.
func CanTransition(from, to enums.DisputeStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s *service) ReviewTx(ctx context.Context, tx *gorm.DB, actor types.Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	return s.move(ctx, tx, disputeID, enums.DisputeStatusUnderReview)
}

func (s *service) RequestResponseTx(ctx context.Context, tx *gorm.DB, actor types.Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	return s.move(ctx, tx, disputeID, enums.DisputeStatusAwaitingResponse)
}

// EscalateTx routes the dispute for senior review. The SLA deadline is kept.
func (s *service) EscalateTx(ctx context.Context, tx *gorm.DB, actor types.Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	return s.move(ctx, tx, disputeID, enums.DisputeStatusEscalated)
}

func (s *service) move(ctx context.Context, tx *gorm.DB, disputeID uuid.UUID, to enums.DisputeStatus) (*models.Dispute, error) {
	repo := s.repo.WithTx(tx)
	dispute, err := repo.LockByID(ctx, disputeID)
	if err != nil {
		return nil, notFoundOr(err, disputeID)
	}
	if err := checkTransition(dispute, to); err != nil {
		return nil, err
	}
	dispute.Status = to
	if to == enums.DisputeStatusEscalated {
		at := s.now().UTC()
		dispute.EscalatedAt = &at
	}
	if err := repo.Save(ctx, dispute); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update dispute")
	}
	return dispute, nil
}

func checkTransition(d *models.Dispute, to enums.DisputeStatus) error {
	if d.Status == enums.DisputeStatusResolved {
		if to == enums.DisputeStatusResolved {
			return pkgerrors.New(pkgerrors.CodeAlreadyResolved, "dispute is already resolved").
				WithDetails(map[string]any{"dispute_id": d.ID})
		}
		return pkgerrors.New(pkgerrors.CodeNoActiveDispute, "dispute is no longer active").
			WithDetails(map[string]any{"dispute_id": d.ID})
	}
	if !CanTransition(d.Status, to) {
		return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("cannot move dispute from %s to %s", d.Status, to)).
			WithDetails(map[string]any{"dispute_id": d.ID, "status": d.Status})
	}
	return nil
}

// ResolveTx closes the dispute and writes the dispute_resolve entry. The
// caller settles the payment according to the outcome in the same tx.
func (s *service) ResolveTx(ctx context.Context, tx *gorm.DB, actor types.Actor, input ResolveInput) (*Result, error) {
	if !input.Outcome.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid dispute outcome %q", input.Outcome))
	}
	repo := s.repo.WithTx(tx)
	current, err := repo.FindByID(ctx, input.DisputeID)
	if err != nil {
		return nil, notFoundOr(err, input.DisputeID)
	}
	// payment first, then dispute: the same order as OpenTx
	if _, err := s.ledger.LockPayment(ctx, tx, current.PaymentID); err != nil {
		return nil, err
	}
	dispute, err := repo.LockByID(ctx, input.DisputeID)
	if err != nil {
		return nil, notFoundOr(err, input.DisputeID)
	}
	if err := checkTransition(dispute, enums.DisputeStatusResolved); err != nil {
		return nil, err
	}

	res, err := s.ledger.AppendTx(ctx, tx, ledger.AppendInput{
		PaymentID:      dispute.PaymentID,
		Type:           enums.LedgerEntryDisputeResolve,
		Actor:          actor,
		IdempotencyKey: "dispute:resolve:" + dispute.ID.String(),
		Payload:        ledger.DisputePayload{DisputeID: dispute.ID, Outcome: input.Outcome},
	})
	if err != nil {
		return nil, err
	}

	at := res.Entry.OccurredAt
	outcome := input.Outcome
	resolvedBy := actor.String()
	dispute.Status = enums.DisputeStatusResolved
	dispute.Outcome = &outcome
	dispute.ResolvedAt = &at
	dispute.ResolvedBy = &resolvedBy
	if note := strings.TrimSpace(input.Note); note != "" {
		dispute.ResolutionNote = &note
	}
	if dispute.SLABreachedAt == nil && !at.Before(dispute.SLADeadline) {
		dispute.SLABreachedAt = &at
	}
	if err := repo.Save(ctx, dispute); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve dispute")
	}
	return &Result{Dispute: *dispute, Append: res}, nil
}

// ScanBreachesTx persists the breach of every unresolved dispute past its
// deadline and returns the ones this scan marked.
func (s *service) ScanBreachesTx(ctx context.Context, tx *gorm.DB, asOf time.Time, limit int) ([]models.Dispute, error) {
	repo := s.repo.WithTx(tx)
	candidates, err := repo.ListBreachCandidates(ctx, asOf, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sla breach candidates")
	}
	marked := make([]models.Dispute, 0, len(candidates))
	for _, d := range candidates {
		at := asOf.UTC()
		ok, err := repo.MarkBreached(ctx, d.ID, at)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark sla breach")
		}
		if !ok {
			continue
		}
		d.SLABreachedAt = &at
		marked = append(marked, d)
		if s.metrics != nil {
			s.metrics.IncSLABreach()
		}
	}
	return marked, nil
}

func (s *service) Get(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.repo.FindByID(ctx, disputeID)
	if err != nil {
		return nil, notFoundOr(err, disputeID)
	}
	return dispute, nil
}

// GetForPayment returns the active dispute of a payment, or its most recent
// one when none is active.
func (s *service) GetForPayment(ctx context.Context, paymentID uuid.UUID) (*models.Dispute, error) {
	active, err := s.repo.FindActiveByPayment(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
	}
	if active != nil {
		return active, nil
	}
	latest, err := s.repo.FindLatestByPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment has no dispute").
				WithDetails(map[string]any{"payment_id": paymentID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
	}
	return latest, nil
}

func (s *service) SLA(ctx context.Context, disputeID uuid.UUID, now time.Time) (*SLAView, error) {
	dispute, err := s.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	view := BuildSLAView(*dispute, now, s.cfg.WarningMargin)
	return &view, nil
}

func notFoundOr(err error, disputeID uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found").
			WithDetails(map[string]any{"dispute_id": disputeID})
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
}
