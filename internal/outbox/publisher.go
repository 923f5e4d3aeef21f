package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orderlanelabs/orderlane/internal/event"
	"github.com/orderlanelabs/orderlane/pkg/broker"
	"github.com/orderlanelabs/orderlane/pkg/dlock"
)

const publisherLockName = "orderlane:outbox:publisher"

// Locker is the cluster-wide mutual-exclusion capability guarding the sweep.
type Locker interface {
	WithLock(ctx context.Context, name string, opts dlock.Options, fn func(context.Context) error) (bool, error)
}

// Store is the subset of the repository the publisher needs.
type Store interface {
	ListPendingTx(tx *gorm.DB, limit int) ([]Record, error)
	MarkPublishedTx(tx *gorm.DB, id int64, at time.Time) error
	MarkFailedTx(tx *gorm.DB, id int64, cause error) error
}

// Transactor runs a unit of work in one database transaction.
type Transactor interface {
	Transaction(fn func(tx *gorm.DB) error) error
}

type gormTransactor struct{ db *gorm.DB }

func (t gormTransactor) Transaction(fn func(tx *gorm.DB) error) error {
	return t.db.Transaction(fn)
}

// Publisher relays PENDING outbox records to the broker. The broker send is
// deliberately outside any database transaction: a crash between send and the
// PUBLISHED update re-sends the record on the next sweep, and consumers
// absorb that through their idempotency ledger.
type Publisher struct {
	tx        Transactor
	store     Store
	sender    broker.Publisher
	locks     Locker
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
	lockOpts  dlock.Options
}

func NewPublisher(db *gorm.DB, repo *Repository, sender broker.Publisher, locks Locker, interval time.Duration, batchSize int, lockOpts dlock.Options, logger *zap.Logger) *Publisher {
	return &Publisher{
		tx:        gormTransactor{db: db},
		store:     repo,
		sender:    sender,
		locks:     locks,
		logger:    logger.Named("outbox.publisher"),
		interval:  interval,
		batchSize: batchSize,
		lockOpts:  lockOpts,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled. Sweeps are
// sequential within one instance; the cluster lock serializes them across
// instances.
func (p *Publisher) Run(ctx context.Context) {
	if err := p.Sweep(ctx); err != nil {
		p.logger.Error("outbox_initial_sweep_failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Sweep(ctx); err != nil {
				p.logger.Error("outbox_sweep_failed", zap.Error(err))
			}
		}
	}
}

// Sweep publishes all pending records while holding the cluster lock. When
// the lock is already held elsewhere the cycle is skipped entirely.
func (p *Publisher) Sweep(ctx context.Context) error {
	acquired, err := p.locks.WithLock(ctx, publisherLockName, p.lockOpts, p.publishPending)
	if err != nil {
		return err
	}
	if !acquired {
		p.logger.Debug("outbox_sweep_skipped", zap.String("reason", "lock_held_elsewhere"))
	}
	return nil
}

func (p *Publisher) publishPending(ctx context.Context) error {
	return p.tx.Transaction(func(tx *gorm.DB) error {
		records, err := p.store.ListPendingTx(tx, p.batchSize)
		if err != nil {
			return err
		}

		for i := range records {
			// Per-record isolation: one bad record must not block the batch.
			p.publishRecord(ctx, tx, &records[i])
		}
		return nil
	})
}

func (p *Publisher) publishRecord(ctx context.Context, tx *gorm.DB, rec *Record) {
	typ := event.Type(rec.EventType)
	if !typ.IsValid() {
		// Producer/consumer schema mismatch. Fail loud and leave the record
		// visible as FAILED instead of dropping it.
		err := fmt.Errorf("%w: %q", event.ErrUnknownType, rec.EventType)
		p.logger.Error("outbox_unknown_event_type",
			zap.Int64("record_id", rec.ID),
			zap.String("event_type", rec.EventType),
		)
		p.markFailed(tx, rec, err)
		return
	}

	msg := broker.Message{
		Topic:     typ.Topic(),
		MessageID: uuid.NewString(),
		Key:       rec.MessageKey(),
		EventType: rec.EventType,
		Body:      []byte(rec.Payload),
	}

	if err := p.sender.Publish(ctx, msg); err != nil {
		p.logger.Warn("outbox_publish_failed",
			zap.Int64("record_id", rec.ID),
			zap.String("event_type", rec.EventType),
			zap.String("message_key", rec.MessageKey()),
			zap.Error(err),
		)
		p.markFailed(tx, rec, err)
		return
	}

	now := time.Now().UTC()
	if err := p.store.MarkPublishedTx(tx, rec.ID, now); err != nil {
		p.logger.Error("outbox_mark_published_failed",
			zap.Int64("record_id", rec.ID),
			zap.Error(err),
		)
	}
}

func (p *Publisher) markFailed(tx *gorm.DB, rec *Record, cause error) {
	if err := p.store.MarkFailedTx(tx, rec.ID, cause); err != nil {
		p.logger.Error("outbox_mark_failed_failed",
			zap.Int64("record_id", rec.ID),
			zap.Error(err),
		)
	}
}
