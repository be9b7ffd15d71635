package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
)

type purgeCall struct {
	cutoff      time.Time
	minAttempts int
}

type recordingPurger struct {
	events []purgeCall
	dead   []time.Time
	err    error
}

func (p *recordingPurger) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	p.events = append(p.events, purgeCall{cutoff: cutoff, minAttempts: minAttemptCount})
	return 12, p.err
}

func (p *recordingPurger) PurgeBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	p.dead = append(p.dead, cutoff)
	return 3, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func retentionJob(t *testing.T, purger *recordingPurger, cfg config.OutboxConfig, now time.Time) Job {
	t.Helper()
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:      logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:          passthroughTx{},
		Events:      purger,
		DeadLetters: purger,
		Config:      cfg,
		Now:         func() time.Time { return now },
	})
	require.NoError(t, err)
	return job
}

func TestOutboxRetentionSweepsEventsAndDeadLetters(t *testing.T) {
	now := time.Date(2026, 3, 31, 4, 0, 0, 0, time.UTC)
	purger := &recordingPurger{}
	job := retentionJob(t, purger, config.OutboxConfig{RetentionDays: 30, RetentionMinAttempts: 5, DLQRetentionDays: 90}, now)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, JobOutboxRetention, job.Name())
	require.Len(t, purger.events, 1)
	assert.Equal(t, time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC), purger.events[0].cutoff)
	assert.Equal(t, 5, purger.events[0].minAttempts)
	require.Len(t, purger.dead, 1)
	assert.Equal(t, now.Add(-90*day), purger.dead[0])
}

func TestOutboxRetentionKeepsDeadLettersWhenDisabled(t *testing.T) {
	purger := &recordingPurger{}
	job := retentionJob(t, purger, config.OutboxConfig{RetentionDays: 7, RetentionMinAttempts: 3}, time.Now())

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, purger.events, 1)
	assert.Empty(t, purger.dead)
}

func TestOutboxRetentionStopsOnEventPurgeFailure(t *testing.T) {
	purger := &recordingPurger{err: errors.New("statement timeout")}
	job := retentionJob(t, purger, config.OutboxConfig{RetentionDays: 30, DLQRetentionDays: 90}, time.Now())

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "published events")
	assert.Empty(t, purger.dead)
}

func TestNewOutboxRetentionJobValidatesParams(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	purger := &recordingPurger{}

	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logg, DB: passthroughTx{}, Events: purger})
	assert.ErrorContains(t, err, "retention days")

	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: logg,
		DB:     passthroughTx{},
		Events: purger,
		Config: config.OutboxConfig{RetentionDays: 30, DLQRetentionDays: 90},
	})
	assert.ErrorContains(t, err, "dlq repository")
}
