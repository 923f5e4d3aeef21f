package consumer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orderlanelabs/orderlane/internal/domain"
	"github.com/orderlanelabs/orderlane/internal/event"
	"github.com/orderlanelabs/orderlane/internal/ledger"
	"github.com/orderlanelabs/orderlane/pkg/broker"
	"github.com/orderlanelabs/orderlane/pkg/retry"
)

// Handler applies the domain effect of one event inside the transaction that
// also records the idempotency ledger entry. Wrapping domain.ErrConflict
// signals a business-rule rejection that retrying cannot fix.
type Handler func(ctx context.Context, tx *gorm.DB, p event.Payload) error

// errAlreadyApplied is the internal signal that the ledger says this event
// identity is done, either from a prior delivery or a concurrent consumer.
var errAlreadyApplied = errors.New("event already applied")

// Ledger is the idempotency surface the consumer needs, implemented by
// ledger.Store.
type Ledger interface {
	ExistsTx(tx *gorm.DB, eventID string) (bool, error)
	RecordTx(tx *gorm.DB, eventID, eventType string, status ledger.Status) error
	MarkDuplicate(tx *gorm.DB, eventID string) error
}

// Transactor runs fn inside one database transaction.
type Transactor interface {
	Transaction(fn func(tx *gorm.DB) error) error
}

type gormTransactor struct {
	db *gorm.DB
}

func (g gormTransactor) Transaction(fn func(tx *gorm.DB) error) error {
	return g.db.Transaction(fn)
}

// Consumer routes deliveries to registered handlers with exactly-once effect
// semantics: the handler's writes and the ledger entry commit in one
// transaction, failures are rescheduled through attempt-indexed delay queues,
// and exhausted or poison messages land on the dead-letter queue.
type Consumer struct {
	tx          Transactor
	ledger      Ledger
	pub         broker.Publisher
	deadLetters *Recorder
	logger      *zap.Logger
	policy      retry.Policy
	handlers    map[event.Type]Handler
}

func New(db *gorm.DB, led *ledger.Store, pub broker.Publisher, deadLetters *Recorder, logger *zap.Logger) *Consumer {
	return &Consumer{
		tx:          gormTransactor{db: db},
		ledger:      led,
		pub:         pub,
		deadLetters: deadLetters,
		logger:      logger.Named("consumer"),
		policy:      retry.DefaultConsumerPolicy(),
		handlers:    make(map[event.Type]Handler),
	}
}

// Handle registers h for t. Last registration wins; there is one handler per
// topic.
func (c *Consumer) Handle(t event.Type, h Handler) {
	c.handlers[t] = h
}

// Start declares the queue topology for every registered topic and begins
// consuming. Retry queues have no subscribers: their messages flow back to
// the work queue when the per-queue TTL expires.
func (c *Consumer) Start(ctx context.Context, b *broker.Broker) error {
	specs := make([]broker.TopicSpec, 0, len(c.handlers))
	for t := range c.handlers {
		specs = append(specs, broker.TopicSpec{Topic: t.Topic(), Policy: c.policy})
	}
	if err := b.DeclareTopology(specs); err != nil {
		return err
	}

	for t := range c.handlers {
		topic := t.Topic()
		if err := b.Subscribe(ctx, topic, c.Deliver); err != nil {
			return fmt.Errorf("consumer: subscribe %s: %w", topic, err)
		}
		if err := b.Subscribe(ctx, broker.DeadLetterQueue(topic), c.deadLetters.Record); err != nil {
			return fmt.Errorf("consumer: subscribe %s: %w", broker.DeadLetterQueue(topic), err)
		}
		c.logger.Info("topic_subscribed", zap.String("topic", topic))
	}
	return nil
}

// Deliver processes one message. It only returns an error when the message
// could not even be routed onward, which requeues the delivery; every other
// outcome is resolved here.
func (c *Consumer) Deliver(ctx context.Context, msg broker.Message) error {
	originalTopic := msg.OriginalTopic
	if originalTopic == "" {
		originalTopic = msg.Topic
	}

	t := event.Type(msg.EventType)
	h, ok := c.handlers[t]
	if !ok || !t.IsValid() {
		c.logger.Error("unroutable_event_type",
			zap.String("event_type", msg.EventType),
			zap.String("topic", msg.Topic),
			zap.String("message_id", msg.MessageID),
		)
		return c.deadLetter(ctx, msg, originalTopic, event.ErrUnknownType)
	}

	payload, err := event.Decode(t, msg.Body)
	if err != nil {
		// No attempt is made to tell a corrupt payload apart from a
		// transient one; the message rides the normal retry budget and the
		// dead-letter stage is the safety net.
		c.logger.Error("event_decode_failed",
			zap.String("event_type", msg.EventType),
			zap.String("message_id", msg.MessageID),
			zap.Error(err),
		)
		return c.scheduleRetry(ctx, msg, originalTopic, err)
	}

	eventID := event.DedupKey(payload)

	err = c.apply(ctx, t, eventID, payload, h)
	switch {
	case err == nil:
		c.logger.Debug("event_applied",
			zap.String("event_id", eventID),
			zap.Int("attempt", msg.Attempt),
		)
		return nil

	case errors.Is(err, errAlreadyApplied):
		c.markDuplicate(eventID)
		c.logger.Info("duplicate_delivery_skipped",
			zap.String("event_id", eventID),
			zap.String("message_id", msg.MessageID),
		)
		return nil

	case errors.Is(err, domain.ErrConflict):
		// The domain effect is impossible, not late. Ledger it as a
		// duplicate so redeliveries of the same identity stay silent, and
		// do not retry.
		c.recordConflict(eventID, string(t))
		c.logger.Warn("business_conflict_recorded",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		return nil

	default:
		return c.scheduleRetry(ctx, msg, originalTopic, err)
	}
}

// apply runs the ledger check, the handler, and the ledger insert in one
// transaction. A unique violation on the insert means a concurrent consumer
// committed first; the constraint, not the earlier existence check, is the
// final arbiter.
func (c *Consumer) apply(ctx context.Context, t event.Type, eventID string, payload event.Payload, h Handler) error {
	return c.tx.Transaction(func(tx *gorm.DB) error {
		exists, err := c.ledger.ExistsTx(tx, eventID)
		if err != nil {
			return err
		}
		if exists {
			return errAlreadyApplied
		}

		if err := h(ctx, tx, payload); err != nil {
			return err
		}

		if err := c.ledger.RecordTx(tx, eventID, string(t), ledger.StatusSuccess); err != nil {
			if ledger.IsUniqueViolation(err) {
				return errAlreadyApplied
			}
			return err
		}
		return nil
	})
}

func (c *Consumer) markDuplicate(eventID string) {
	err := c.tx.Transaction(func(tx *gorm.DB) error {
		return c.ledger.MarkDuplicate(tx, eventID)
	})
	if err != nil {
		c.logger.Warn("mark_duplicate_failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

func (c *Consumer) recordConflict(eventID, eventType string) {
	err := c.tx.Transaction(func(tx *gorm.DB) error {
		recErr := c.ledger.RecordTx(tx, eventID, eventType, ledger.StatusDuplicate)
		if recErr != nil && ledger.IsUniqueViolation(recErr) {
			return c.ledger.MarkDuplicate(tx, eventID)
		}
		return recErr
	})
	if err != nil {
		c.logger.Warn("record_conflict_failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

// scheduleRetry republishes the message to the delay queue for its next
// attempt, or to the dead-letter queue once attempts are exhausted.
func (c *Consumer) scheduleRetry(ctx context.Context, msg broker.Message, originalTopic string, cause error) error {
	attempt := msg.Attempt + 1
	if attempt > c.policy.Retries() {
		c.logger.Error("retries_exhausted",
			zap.String("topic", originalTopic),
			zap.String("message_id", msg.MessageID),
			zap.Int("attempts", attempt),
			zap.Error(cause),
		)
		return c.deadLetter(ctx, msg, originalTopic, cause)
	}

	next := msg
	next.Topic = broker.RetryQueue(originalTopic, attempt)
	next.Attempt = attempt
	next.OriginalTopic = originalTopic
	next.Exception = cause.Error()

	if err := c.pub.Publish(ctx, next); err != nil {
		return fmt.Errorf("consumer: schedule retry %d for %s: %w", attempt, msg.MessageID, err)
	}

	c.logger.Warn("delivery_retry_scheduled",
		zap.String("topic", originalTopic),
		zap.String("message_id", msg.MessageID),
		zap.Int("attempt", attempt),
		zap.Duration("delay", c.policy.DelayForAttempt(attempt)),
		zap.Error(cause),
	)
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, msg broker.Message, originalTopic string, cause error) error {
	dead := msg
	dead.Topic = broker.DeadLetterQueue(originalTopic)
	dead.OriginalTopic = originalTopic
	dead.Exception = cause.Error()

	if err := c.pub.Publish(ctx, dead); err != nil {
		return fmt.Errorf("consumer: dead-letter %s: %w", msg.MessageID, err)
	}
	return nil
}
