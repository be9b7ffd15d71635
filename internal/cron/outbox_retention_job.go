package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
)

const day = 24 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type publishedEventPurger interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type deadLetterPurger interface {
	PurgeBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// OutboxRetentionJobParams wire the nightly outbox sweep. Published events
// past Config.RetentionDays go unless they needed RetentionMinAttempts or
// more tries. Dead letters past Config.DLQRetentionDays go too; zero keeps
// them forever.
type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Events      publishedEventPurger
	DeadLetters deadLetterPurger
	Config      config.OutboxConfig
	Now         func() time.Time
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	events      publishedEventPurger
	deadLetters deadLetterPurger
	cfg         config.OutboxConfig
	now         func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Events == nil:
		return nil, fmt.Errorf("outbox repository required")
	case params.Config.RetentionDays <= 0:
		return nil, fmt.Errorf("outbox retention days must be positive, got %d", params.Config.RetentionDays)
	case params.Config.DLQRetentionDays > 0 && params.DeadLetters == nil:
		return nil, fmt.Errorf("dlq repository required when dlq retention is set")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		events:      params.Events,
		deadLetters: params.DeadLetters,
		cfg:         params.Config,
		now:         now,
	}, nil
}

func (j *outboxRetentionJob) Name() string { return JobOutboxRetention }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	asOf := j.now().UTC()
	fields := map[string]any{
		"as_of":          asOf,
		"retention_days": j.cfg.RetentionDays,
		"min_attempts":   j.cfg.RetentionMinAttempts,
	}

	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		published, err := j.events.DeletePublishedBefore(ctx, tx, j.cutoff(asOf, j.cfg.RetentionDays), j.cfg.RetentionMinAttempts)
		if err != nil {
			return fmt.Errorf("published events: %w", err)
		}
		fields["events_deleted"] = published

		if j.cfg.DLQRetentionDays <= 0 {
			return nil
		}
		dead, err := j.deadLetters.PurgeBefore(ctx, tx, j.cutoff(asOf, j.cfg.DLQRetentionDays))
		if err != nil {
			return fmt.Errorf("dead letters: %w", err)
		}
		fields["dead_letters_deleted"] = dead
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", JobOutboxRetention, err)
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "outbox retention sweep finished")
	return nil
}

func (j *outboxRetentionJob) cutoff(asOf time.Time, days int) time.Time {
	return asOf.Add(-time.Duration(days) * day)
}
