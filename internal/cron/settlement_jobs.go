package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/shiftpay-backend/internal/settlement"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
	"github.com/angelmondragon/shiftpay-backend/pkg/types"
)

const (
	JobEscrowRelease    = "escrow-release"
	JobDisputeSLA       = "dispute-sla"
	JobPayoutDispatch   = "payout-dispatch"
	JobPayoutRetry      = "payout-retry"
	JobPayoutStaleSweep = "payout-stale-sweep"
	JobOutboxRetention  = "outbox-retention"
)

// settlementScheduler is the part of the settlement coordinator driven by
// the cron worker.
type settlementScheduler interface {
	ReleaseAllDue(ctx context.Context, actor types.Actor, asOf time.Time) (*settlement.BatchResult, error)
	ScanSLABreaches(ctx context.Context, actor types.Actor, asOf time.Time) ([]models.Dispute, error)
	DispatchAllPending(ctx context.Context, actor types.Actor) (*settlement.BatchResult, error)
	RetryDuePayouts(ctx context.Context, actor types.Actor, asOf time.Time) (*settlement.BatchResult, error)
	SweepStalePayouts(ctx context.Context, actor types.Actor, asOf time.Time) ([]models.Payout, error)
}

type SettlementJobParams struct {
	Logger     *logger.Logger
	Settlement settlementScheduler
	Now        func() time.Time
}

type settlementRun func(ctx context.Context, actor types.Actor, asOf time.Time) (map[string]any, error)

type settlementJob struct {
	name string
	logg *logger.Logger
	now  func() time.Time
	run  settlementRun
}

func (j *settlementJob) Name() string { return j.name }

// Run acts as the system actor named after the job so ledger entries show
// which schedule produced them.
func (j *settlementJob) Run(ctx context.Context) error {
	asOf := j.now().UTC()
	fields, err := j.run(ctx, types.SystemActor(j.name), asOf)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	fields["as_of"] = asOf
	logCtx := j.logg.WithFields(ctx, fields)
	if failed, _ := fields["failed"].(int); failed > 0 {
		j.logg.Warn(logCtx, "settlement job finished with failures")
		return nil
	}
	j.logg.Info(logCtx, "settlement job finished")
	return nil
}

func newSettlementJob(params SettlementJobParams, name string, run func(s settlementScheduler) settlementRun) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Settlement == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &settlementJob{name: name, logg: params.Logger, now: now, run: run(params.Settlement)}, nil
}

// NewEscrowReleaseJob releases every escrowed payment whose hold period has
// elapsed. Overlapping runs collapse on the per-payment release key.
func NewEscrowReleaseJob(params SettlementJobParams) (Job, error) {
	return newSettlementJob(params, JobEscrowRelease, func(s settlementScheduler) settlementRun {
		return func(ctx context.Context, actor types.Actor, asOf time.Time) (map[string]any, error) {
			result, err := s.ReleaseAllDue(ctx, actor, asOf)
			return batchFields(result), err
		}
	})
}

// NewDisputeSLAJob marks disputes that passed their deadline unresolved.
func NewDisputeSLAJob(params SettlementJobParams) (Job, error) {
	return newSettlementJob(params, JobDisputeSLA, func(s settlementScheduler) settlementRun {
		return func(ctx context.Context, actor types.Actor, asOf time.Time) (map[string]any, error) {
			marked, err := s.ScanSLABreaches(ctx, actor, asOf)
			return map[string]any{"breached": len(marked)}, err
		}
	})
}

func NewPayoutDispatchJob(params SettlementJobParams) (Job, error) {
	return newSettlementJob(params, JobPayoutDispatch, func(s settlementScheduler) settlementRun {
		return func(ctx context.Context, actor types.Actor, _ time.Time) (map[string]any, error) {
			result, err := s.DispatchAllPending(ctx, actor)
			return batchFields(result), err
		}
	})
}

// NewPayoutRetryJob retries transient payout failures whose backoff elapsed.
func NewPayoutRetryJob(params SettlementJobParams) (Job, error) {
	return newSettlementJob(params, JobPayoutRetry, func(s settlementScheduler) settlementRun {
		return func(ctx context.Context, actor types.Actor, asOf time.Time) (map[string]any, error) {
			result, err := s.RetryDuePayouts(ctx, actor, asOf)
			return batchFields(result), err
		}
	})
}

// NewPayoutStaleSweepJob fails payouts stuck in processing after a crash
// between the rail call and the bookkeeping commit.
func NewPayoutStaleSweepJob(params SettlementJobParams) (Job, error) {
	return newSettlementJob(params, JobPayoutStaleSweep, func(s settlementScheduler) settlementRun {
		return func(ctx context.Context, actor types.Actor, asOf time.Time) (map[string]any, error) {
			swept, err := s.SweepStalePayouts(ctx, actor, asOf)
			return map[string]any{"swept": len(swept)}, err
		}
	})
}

func batchFields(result *settlement.BatchResult) map[string]any {
	if result == nil {
		return map[string]any{}
	}
	return map[string]any{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"summary":   result.Summary,
	}
}
