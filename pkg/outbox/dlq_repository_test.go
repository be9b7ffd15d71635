package outbox

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shiftpay-backend/pkg/db"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/sqlitetest"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
)

func deadLetter(t *testing.T, client *db.Client, event models.OutboxEvent, reason enums.OutboxDLQErrorReason) {
	t.Helper()
	msg := "publish to shiftpay-settlement: permission denied"
	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return NewDLQRepository(client.DB()).InsertTx(tx, models.OutboxDLQ{
			EventID:       event.ID,
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			Payload:       event.Payload,
			ErrorReason:   reason,
			ErrorMessage:  &msg,
			AttemptCount:  event.AttemptCount,
		})
	}))
}

func parkedEvent(t *testing.T, client *db.Client) models.OutboxEvent {
	t.Helper()
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPayoutFailed,
		AggregateType: enums.AggregatePayout,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"event_type":"payout.failed"}`),
		AttemptCount:  10,
	}
	require.NoError(t, client.DB().Create(&event).Error)
	return event
}

func TestRequeueResetsParkedOutboxRow(t *testing.T) {
	client := sqlitetest.Open(t)
	repo := NewDLQRepository(client.DB())
	event := parkedEvent(t, client)
	deadLetter(t, client, event, enums.OutboxDLQReasonMaxAttempts)

	entry, err := repo.Requeue(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, event.ID, entry.EventID)

	var row models.OutboxEvent
	require.NoError(t, client.DB().First(&row, "id = ?", event.ID).Error)
	assert.Zero(t, row.AttemptCount)
	assert.Nil(t, row.LastError)

	rows, err := repo.List(context.Background(), DLQFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRequeueRecreatesPurgedOutboxRow(t *testing.T) {
	client := sqlitetest.Open(t)
	repo := NewDLQRepository(client.DB())
	event := parkedEvent(t, client)
	deadLetter(t, client, event, enums.OutboxDLQReasonNonRetryable)
	require.NoError(t, client.DB().Delete(&models.OutboxEvent{}, "id = ?", event.ID).Error)

	_, err := repo.Requeue(context.Background(), event.ID)
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, client.DB().First(&row, "id = ?", event.ID).Error)
	assert.Equal(t, enums.EventPayoutFailed, row.EventType)
	assert.JSONEq(t, string(event.Payload), string(row.Payload))
}

func TestRequeueUnknownEvent(t *testing.T) {
	client := sqlitetest.Open(t)
	_, err := NewDLQRepository(client.DB()).Requeue(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestListFiltersByReason(t *testing.T) {
	client := sqlitetest.Open(t)
	repo := NewDLQRepository(client.DB())
	deadLetter(t, client, parkedEvent(t, client), enums.OutboxDLQReasonMaxAttempts)
	deadLetter(t, client, parkedEvent(t, client), enums.OutboxDLQReasonUnroutable)

	rows, err := repo.List(context.Background(), DLQFilter{Reason: enums.OutboxDLQReasonUnroutable})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.OutboxDLQReasonUnroutable, rows[0].ErrorReason)
}

func TestClipKeepsRuneBoundary(t *testing.T) {
	s := strings.Repeat("a", 1023) + "é"
	clipped := clip(s, maxDLQMessageBytes)
	assert.Len(t, clipped, 1023)
	assert.Equal(t, "abc", clip("abc", 10))
}

func TestPurgeBeforeDropsOldDeadLetters(t *testing.T) {
	client := sqlitetest.Open(t)
	repo := NewDLQRepository(client.DB())
	stale := parkedEvent(t, client)
	fresh := parkedEvent(t, client)
	deadLetter(t, client, stale, enums.OutboxDLQReasonMaxAttempts)
	deadLetter(t, client, fresh, enums.OutboxDLQReasonNonRetryable)

	old := time.Now().Add(-120 * 24 * time.Hour)
	require.NoError(t, client.DB().Model(&models.OutboxDLQ{}).
		Where("event_id = ?", stale.ID).
		Update("failed_at", old).Error)

	var purged int64
	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		n, err := repo.PurgeBefore(context.Background(), tx, time.Now().Add(-90*24*time.Hour))
		purged = n
		return err
	}))
	assert.EqualValues(t, 1, purged)

	rows, err := repo.List(context.Background(), DLQFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, fresh.ID, rows[0].EventID)
}
