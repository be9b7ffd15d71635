package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
	"github.com/angelmondragon/shiftpay-backend/pkg/outbox"
	"github.com/angelmondragon/shiftpay-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shiftpay-backend/pkg/outbox/registry"
)

func TestServiceProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{
		events: []models.OutboxEvent{
			releasedEvent(t, "event-one", 0),
			releasedEvent(t, "event-two", 0),
		},
	}
	bus := &fakeTransport{errs: []error{errors.New("transient"), nil}}
	service := newTestService(t, repo, bus, &fakeRegistry{resolved: releasedResolution()}, &fakeDLQRepo{}, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(repo.failed); got != 1 {
		t.Fatalf("unexpected number of failed rows: %d", got)
	}
	if got := len(repo.published); got != 1 {
		t.Fatalf("unexpected number of published rows: %d", got)
	}
	if repo.failed[0] != repo.events[0].ID {
		t.Fatalf("failed row recorded wrong ID")
	}
	if repo.published[0] != repo.events[1].ID {
		t.Fatalf("published row recorded wrong ID")
	}
}

func TestPublishRoutesByEventType(t *testing.T) {
	event := releasedEvent(t, "routed", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	bus := &fakeTransport{}
	service := newTestService(t, repo, bus, &fakeRegistry{resolved: releasedResolution()}, &fakeDLQRepo{}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(bus.sent) != 1 {
		t.Fatalf("expected one publish, got %d", len(bus.sent))
	}
	sent := bus.sent[0]
	if sent.topic != "shiftpay-settlement-events" {
		t.Fatalf("unexpected topic %q", sent.topic)
	}
	if sent.routingKey != string(enums.EventPaymentReleased) {
		t.Fatalf("unexpected routing key %q", sent.routingKey)
	}
	if sent.attrs["aggregate_id"] != event.AggregateID.String() {
		t.Fatalf("aggregate_id attribute missing")
	}
	if !bytes.Equal(sent.data, event.Payload) {
		t.Fatalf("payload altered in transit")
	}
}

func TestServiceProcessBatchWritesDLQWhenUnroutable(t *testing.T) {
	event := releasedEvent(t, "nonretryable", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	resolver := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, &fakeTransport{}, resolver, dlqRepo, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.Payload == nil || !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonUnroutable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
}

func TestServiceProcessBatchWritesDLQWhenTransportRejects(t *testing.T) {
	event := releasedEvent(t, "rejected", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	bus := &fakeTransport{errs: []error{registry.NewNonRetryableError(errors.New("permission denied"))}}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, bus, &fakeRegistry{resolved: releasedResolution()}, dlqRepo, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	if dlqRepo.entries[0].ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", dlqRepo.entries[0].ErrorReason)
	}
}

func TestServiceProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	event := releasedEvent(t, "max-attempts", 1)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	bus := &fakeTransport{errs: []error{errors.New("transient")}}
	dlqRepo := &fakeDLQRepo{}
	service := newTestService(t, repo, bus, &fakeRegistry{resolved: releasedResolution()}, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != event.ID {
		t.Fatalf("dlq event_id mismatch: %s", entry.EventID)
	}
	if entry.ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
}

func TestAlreadyDeliveredEventIsMarkedWithoutResend(t *testing.T) {
	event := releasedEvent(t, "delivered", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	bus := &fakeTransport{}
	guard := &fakeGuard{delivered: map[uuid.UUID]bool{event.ID: true}}
	service := newTestService(t, repo, bus, &fakeRegistry{resolved: releasedResolution()}, &fakeDLQRepo{}, nil)
	service.guard = guard

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(bus.sent) != 0 {
		t.Fatalf("expected no publish for delivered event, got %d", len(bus.sent))
	}
	if len(repo.published) != 1 || repo.published[0] != event.ID {
		t.Fatalf("expected delivered event marked published")
	}
}

func TestFailedPublishReleasesClaim(t *testing.T) {
	event := releasedEvent(t, "claim-released", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	bus := &fakeTransport{errs: []error{errors.New("broker down")}}
	guard := &fakeGuard{delivered: map[uuid.UUID]bool{}}
	service := newTestService(t, repo, bus, &fakeRegistry{resolved: releasedResolution()}, &fakeDLQRepo{}, nil)
	service.guard = guard

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(guard.forgotten) != 1 || guard.forgotten[0] != event.ID {
		t.Fatalf("expected claim released after failed publish")
	}
	if guard.transport != "rabbitmq" {
		t.Fatalf("claim scoped to wrong transport %q", guard.transport)
	}
	if len(repo.failed) != 1 {
		t.Fatalf("expected row marked failed")
	}
}

func TestGuardOutageFallsBackToPublish(t *testing.T) {
	event := releasedEvent(t, "guard-down", 0)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	bus := &fakeTransport{}
	service := newTestService(t, repo, bus, &fakeRegistry{resolved: releasedResolution()}, &fakeDLQRepo{}, nil)
	service.guard = &fakeGuard{claimErr: errors.New("redis unavailable")}

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(bus.sent) != 1 {
		t.Fatalf("expected publish despite guard outage")
	}
	if len(repo.published) != 1 {
		t.Fatalf("expected row marked published")
	}
}

func TestNewServiceRequiresTransport(t *testing.T) {
	_, err := NewService(ServiceParams{
		Config:        &config.Config{},
		Logger:        logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:            &fakeDB{},
		Repository:    &fakeRepo{},
		Registry:      &fakeRegistry{},
		DLQRepository: &fakeDLQRepo{},
	})
	if err == nil {
		t.Fatalf("expected error without transport")
	}
}

func TestNextBackoffCaps(t *testing.T) {
	base := 500 * time.Millisecond
	if got := nextBackoff(0, base, maxBackoff); got != time.Second {
		t.Fatalf("expected doubling from base, got %s", got)
	}
	if got := nextBackoff(8*time.Second, base, maxBackoff); got != maxBackoff {
		t.Fatalf("expected cap at %s, got %s", maxBackoff, got)
	}
	if got := withJitter(time.Second); got < time.Second || got >= time.Second+jitterWindow {
		t.Fatalf("jitter outside window: %s", got)
	}
}

func newTestService(t *testing.T, repo outboxRepository, bus transport, resolver registryResolver, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) *Service {
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	cfg := &config.Config{
		Outbox: outboxCfg,
	}
	logg := logger.New(logger.Options{
		ServiceName: "outbox-publisher-test",
		Output:      io.Discard,
	})
	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            &fakeDB{},
		Transport:     bus,
		TransportName: config.TransportRabbitMQ,
		Repository:    repo,
		Registry:      resolver,
		DLQRepository: dlq,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func releasedEvent(tb testing.TB, eventID string, attempts int) models.OutboxEvent {
	tb.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentReleased,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(tb, eventID),
		AttemptCount:  attempts,
	}
}

func releasedResolution() *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     enums.EventPaymentReleased,
			AggregateType: enums.AggregatePayment,
			Topic:         "shiftpay-settlement-events",
		},
		Envelope: outbox.PayloadEnvelope{
			EventID:    uuid.NewString(),
			OccurredAt: time.Now(),
		},
		Payload: &payloads.PaymentReleasedEvent{},
	}
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	env := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{}`),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakeDB struct{}

func (f *fakeDB) Ping(context.Context) error {
	return nil
}

func (f *fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error {
	return fn(nil)
}

type sentMessage struct {
	topic      string
	routingKey string
	data       []byte
	attrs      map[string]string
}

type fakeTransport struct {
	errs []error
	sent []sentMessage
}

func (f *fakeTransport) Ping(context.Context) error {
	return nil
}

func (f *fakeTransport) Publish(_ context.Context, topic, routingKey string, data []byte, attrs map[string]string) error {
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	if err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{topic: topic, routingKey: routingKey, data: data, attrs: attrs})
	return nil
}

type fakeGuard struct {
	delivered map[uuid.UUID]bool
	claimErr  error
	forgotten []uuid.UUID
	transport string
}

func (f *fakeGuard) Claim(_ context.Context, transport string, eventID uuid.UUID) (bool, error) {
	f.transport = transport
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if f.delivered[eventID] {
		return true, nil
	}
	f.delivered[eventID] = true
	return false, nil
}

func (f *fakeGuard) Forget(_ context.Context, _ string, eventID uuid.UUID) error {
	delete(f.delivered, eventID)
	f.forgotten = append(f.forgotten, eventID)
	return nil
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.resolved == nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Descriptor.AggregateType = event.AggregateType
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = time.Now()
	return &resolved, f.err
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
