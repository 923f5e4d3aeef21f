package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orderlanelabs/orderlane/internal/domain"
	"github.com/orderlanelabs/orderlane/internal/event"
	"github.com/orderlanelabs/orderlane/internal/ledger"
	"github.com/orderlanelabs/orderlane/pkg/broker"
	"github.com/orderlanelabs/orderlane/pkg/retry"
)

type fakeTransactor struct{}

func (fakeTransactor) Transaction(fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeLedger struct {
	entries    map[string]ledger.Status
	recordErr  error
	duplicates []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: map[string]ledger.Status{}}
}

func (f *fakeLedger) ExistsTx(_ *gorm.DB, eventID string) (bool, error) {
	_, ok := f.entries[eventID]
	return ok, nil
}

func (f *fakeLedger) RecordTx(_ *gorm.DB, eventID, _ string, status ledger.Status) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.entries[eventID] = status
	return nil
}

func (f *fakeLedger) MarkDuplicate(_ *gorm.DB, eventID string) error {
	f.duplicates = append(f.duplicates, eventID)
	f.entries[eventID] = ledger.StatusDuplicate
	return nil
}

type fakePublisher struct {
	published []broker.Message
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, msg broker.Message) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

func newTestConsumer(led *fakeLedger, pub *fakePublisher) *Consumer {
	return &Consumer{
		tx:       fakeTransactor{},
		ledger:   led,
		pub:      pub,
		logger:   zap.NewNop(),
		policy:   retry.DefaultConsumerPolicy(),
		handlers: make(map[event.Type]Handler),
	}
}

func orderCreatedMessage(t *testing.T, orderID int64) broker.Message {
	t.Helper()
	body, err := event.Encode(event.OrderCreated{
		OrderID: orderID,
		Lines:   []event.OrderLine{{SKU: "SKU-1", Quantity: 2}},
	})
	require.NoError(t, err)
	return broker.Message{
		Topic:     event.TypeOrderCreated.Topic(),
		MessageID: fmt.Sprintf("msg-%d", orderID),
		Key:       fmt.Sprintf("Order-%d", orderID),
		EventType: string(event.TypeOrderCreated),
		Body:      body,
	}
}

func TestDeliverAppliesOnceAndRecordsLedger(t *testing.T) {
	led := newFakeLedger()
	pub := &fakePublisher{}
	c := newTestConsumer(led, pub)

	var calls int
	c.Handle(event.TypeOrderCreated, func(_ context.Context, _ *gorm.DB, p event.Payload) error {
		calls++
		created, ok := p.(event.OrderCreated)
		require.True(t, ok)
		assert.Equal(t, int64(42), created.OrderID)
		return nil
	})

	err := c.Deliver(context.Background(), orderCreatedMessage(t, 42))
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, ledger.StatusSuccess, led.entries["order.created:42"])
	assert.Empty(t, pub.published)
}

func TestDeliverSkipsAlreadyProcessedEvent(t *testing.T) {
	led := newFakeLedger()
	led.entries["order.created:42"] = ledger.StatusSuccess
	pub := &fakePublisher{}
	c := newTestConsumer(led, pub)

	var calls int
	c.Handle(event.TypeOrderCreated, func(context.Context, *gorm.DB, event.Payload) error {
		calls++
		return nil
	})

	err := c.Deliver(context.Background(), orderCreatedMessage(t, 42))
	require.NoError(t, err)

	assert.Zero(t, calls, "handler must not run for a processed event")
	assert.Contains(t, led.duplicates, "order.created:42")
	assert.Empty(t, pub.published)
}

func TestDeliverTreatsUniqueViolationAsConcurrentDuplicate(t *testing.T) {
	led := newFakeLedger()
	led.recordErr = &pgconn.PgError{Code: "23505"}
	pub := &fakePublisher{}
	c := newTestConsumer(led, pub)

	c.Handle(event.TypeOrderCreated, func(context.Context, *gorm.DB, event.Payload) error {
		return nil
	})

	err := c.Deliver(context.Background(), orderCreatedMessage(t, 42))
	require.NoError(t, err)

	assert.Contains(t, led.duplicates, "order.created:42")
	assert.Empty(t, pub.published, "a lost race is not a failure")
}

func TestDeliverBusinessConflictIsNotRetried(t *testing.T) {
	led := newFakeLedger()
	pub := &fakePublisher{}
	c := newTestConsumer(led, pub)

	c.Handle(event.TypeOrderCreated, func(context.Context, *gorm.DB, event.Payload) error {
		return fmt.Errorf("email already registered: %w", domain.ErrConflict)
	})

	err := c.Deliver(context.Background(), orderCreatedMessage(t, 42))
	require.NoError(t, err)

	assert.Empty(t, pub.published, "conflicts must not reach retry or dlt queues")
	assert.Equal(t, ledger.StatusDuplicate, led.entries["order.created:42"])
}

func TestDeliverSchedulesRetryWithIncrementedAttempt(t *testing.T) {
	led := newFakeLedger()
	pub := &fakePublisher{}
	c := newTestConsumer(led, pub)

	c.Handle(event.TypeOrderCreated, func(context.Context, *gorm.DB, event.Payload) error {
		return errors.New("db timeout")
	})

	err := c.Deliver(context.Background(), orderCreatedMessage(t, 42))
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	got := pub.published[0]
	assert.Equal(t, "order.created.retry-1", got.Topic)
	assert.Equal(t, 1, got.Attempt)
	assert.Equal(t, "order.created", got.OriginalTopic)
	assert.Equal(t, "db timeout", got.Exception)
	assert.NotContains(t, led.entries, "order.created:42")
}

func TestDeliverDeadLettersAfterFourAttempts(t *testing.T) {
	led := newFakeLedger()
	pub := &fakePublisher{}
	c := newTestConsumer(led, pub)

	var calls int
	c.Handle(event.TypeOrderCreated, func(context.Context, *gorm.DB, event.Payload) error {
		calls++
		return errors.New("still broken")
	})

	// Simulate the broker redelivering through the delay queues.
	msg := orderCreatedMessage(t, 42)
	for {
		require.NoError(t, c.Deliver(context.Background(), msg))
		next := pub.published[len(pub.published)-1]
		if next.Topic == "order.created.dlt" {
			break
		}
		next.Topic = "order.created"
		msg = next
	}

	assert.Equal(t, 4, calls, "one initial attempt plus three retries")
	require.Len(t, pub.published, 4)
	assert.Equal(t, "order.created.retry-1", pub.published[0].Topic)
	assert.Equal(t, "order.created.retry-2", pub.published[1].Topic)
	assert.Equal(t, "order.created.retry-3", pub.published[2].Topic)
	assert.Equal(t, "order.created.dlt", pub.published[3].Topic)
	assert.Equal(t, "order.created", pub.published[3].OriginalTopic)
}

func TestDeliverUnknownEventTypeGoesStraightToDeadLetter(t *testing.T) {
	led := newFakeLedger()
	pub := &fakePublisher{}
	c := newTestConsumer(led, pub)

	var calls int
	c.Handle(event.TypeOrderCreated, func(context.Context, *gorm.DB, event.Payload) error {
		calls++
		return nil
	})

	msg := orderCreatedMessage(t, 42)
	msg.EventType = "order.mystery"

	err := c.Deliver(context.Background(), msg)
	require.NoError(t, err)

	assert.Zero(t, calls)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "order.created.dlt", pub.published[0].Topic)
}

func TestDeliverMalformedPayloadRidesRetryBudgetToDeadLetter(t *testing.T) {
	led := newFakeLedger()
	pub := &fakePublisher{}
	c := newTestConsumer(led, pub)

	c.Handle(event.TypeOrderCreated, func(context.Context, *gorm.DB, event.Payload) error {
		t.Fatal("handler must not run for a malformed payload")
		return nil
	})

	msg := orderCreatedMessage(t, 42)
	msg.Body = []byte("{not json")

	err := c.Deliver(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	assert.Equal(t, "order.created.retry-1", pub.published[0].Topic)
	assert.Equal(t, 1, pub.published[0].Attempt)
	assert.NotEmpty(t, pub.published[0].Exception)

	// Simulate the broker redelivering through the delay queues.
	for {
		next := pub.published[len(pub.published)-1]
		if next.Topic == "order.created.dlt" {
			break
		}
		next.Topic = "order.created"
		require.NoError(t, c.Deliver(context.Background(), next))
	}

	require.Len(t, pub.published, 4)
	assert.Equal(t, "order.created.retry-2", pub.published[1].Topic)
	assert.Equal(t, "order.created.retry-3", pub.published[2].Topic)
	assert.Equal(t, "order.created.dlt", pub.published[3].Topic)
	assert.Equal(t, "order.created", pub.published[3].OriginalTopic)
}

func TestDeliverReturnsErrorWhenRoutingFails(t *testing.T) {
	led := newFakeLedger()
	pub := &fakePublisher{err: errors.New("broker down")}
	c := newTestConsumer(led, pub)

	c.Handle(event.TypeOrderCreated, func(context.Context, *gorm.DB, event.Payload) error {
		return errors.New("db timeout")
	})

	err := c.Deliver(context.Background(), orderCreatedMessage(t, 42))
	require.Error(t, err, "routing failure must requeue the delivery")
}
