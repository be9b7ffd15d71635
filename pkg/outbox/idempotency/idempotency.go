// Package idempotency guards outbox delivery against publishing the same
// envelope twice when the publisher crashes between sending a message and
// committing the published mark.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shiftpay-backend/pkg/redis"
)

// Manager tracks delivered event IDs per transport using Redis SETNX with a TTL.
// Keys follow the `sp:idempotency:evt:published:<transport>:<event_id>` pattern.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds a guard that remembers deliveries for the given TTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{
		store: store,
		ttl:   ttl,
	}, nil
}

// Claim returns true when the event was already delivered on the transport.
// Otherwise it records the delivery and returns false; callers must Forget
// the claim if the send then fails.
func (m *Manager) Claim(ctx context.Context, transport string, eventID uuid.UUID) (bool, error) {
	key, err := m.deliveredKey(transport, eventID)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Forget drops a claim so the next publisher cycle retries the event.
func (m *Manager) Forget(ctx context.Context, transport string, eventID uuid.UUID) error {
	key, err := m.deliveredKey(transport, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) deliveredKey(transport string, eventID uuid.UUID) (string, error) {
	if transport == "" {
		return "", errors.New("transport name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	scope := fmt.Sprintf("evt:published:%s", transport)
	return m.store.IdempotencyKey(scope, eventID.String()), nil
}
