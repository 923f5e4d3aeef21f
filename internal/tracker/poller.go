package tracker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orderlanelabs/orderlane/internal/domain/aftersales"
	"github.com/orderlanelabs/orderlane/internal/event"
	"github.com/orderlanelabs/orderlane/internal/outbox"
	"github.com/orderlanelabs/orderlane/pkg/carrier"
	"github.com/orderlanelabs/orderlane/pkg/snowflake"
)

// OutboxWriter appends an event inside the caller's transaction.
type OutboxWriter interface {
	EnqueueTx(tx *gorm.DB, rec *outbox.Record) error
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

// Poller drives the return/exchange state machines from the carrier's view of
// the parcel. Each sweep walks the active aggregates sequentially; one
// aggregate's failure never aborts the sweep, and an unchanged carrier kind
// writes nothing at all.
type Poller struct {
	repo      aftersales.Repository
	tracker   carrier.Tracker
	tx        Transactor
	outbox    OutboxWriter
	ids       *snowflake.Node
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

func New(db *gorm.DB, repo aftersales.Repository, trk carrier.Tracker, ob OutboxWriter, ids *snowflake.Node, interval time.Duration, batchSize int, logger *zap.Logger) *Poller {
	return &Poller{
		repo:      repo,
		tracker:   trk,
		tx:        gormTransactor{db: db},
		outbox:    ob,
		ids:       ids,
		logger:    logger.Named("tracker"),
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until ctx is cancelled. The loop is single-flight: a new sweep
// never starts while the previous one is still running.
func (p *Poller) Run(ctx context.Context) {
	if err := p.Sweep(ctx); err != nil {
		p.logger.Error("sweep_initial_failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Sweep(ctx); err != nil {
				p.logger.Error("sweep_failed", zap.Error(err))
			}
		}
	}
}

// Sweep polls every active exchange and return once.
func (p *Poller) Sweep(ctx context.Context) error {
	exchanges, err := p.repo.ListActiveExchanges(ctx, p.batchSize)
	if err != nil {
		return err
	}
	for _, exchange := range exchanges {
		if err := p.pollExchange(ctx, exchange); err != nil {
			p.logger.Warn("exchange_poll_failed",
				zap.Int64("exchange_id", exchange.ID),
				zap.String("status", string(exchange.Status)),
				zap.Error(err),
			)
		}
	}

	returns, err := p.repo.ListActiveReturns(ctx, p.batchSize)
	if err != nil {
		return err
	}
	for _, ret := range returns {
		if err := p.pollReturn(ctx, ret); err != nil {
			p.logger.Warn("return_poll_failed",
				zap.Int64("return_id", ret.ID),
				zap.String("status", string(ret.Status)),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (p *Poller) pollExchange(ctx context.Context, exchange *aftersales.OrderExchange) error {
	if exchange.OnShippingLeg() {
		return p.pollShippingLeg(ctx, exchange)
	}
	return p.pollCollectionLeg(ctx, exchange)
}

// pollCollectionLeg watches the original item travel back from the customer.
func (p *Poller) pollCollectionLeg(ctx context.Context, exchange *aftersales.OrderExchange) error {
	if exchange.CollectionTrackingNo == "" {
		return nil
	}

	lastKind, err := p.repo.LastKind(ctx, aftersales.AggregateExchange, exchange.ID)
	if err != nil {
		return err
	}

	status, err := p.tracker.Track(ctx, exchange.CollectionCarrier, exchange.CollectionTrackingNo)
	if err != nil {
		return err
	}
	if string(status.Kind) == lastKind {
		return nil
	}

	previous := exchange.Status
	var completionEvent event.Payload

	switch {
	case status.Kind == carrier.KindDelivered:
		if err := exchange.CompleteReturn(); err != nil {
			return err
		}
	case status.Kind.InTransit():
		if err := exchange.MarkCollecting(); err != nil {
			return err
		}
		if previous != exchange.Status {
			completionEvent = event.ExchangeCollecting{
				ExchangeID: exchange.ID,
				TrackingNo: exchange.CollectionTrackingNo,
			}
		}
	default:
		// ACCEPTED and PICKED_UP are history-only.
	}

	return p.commit(exchange, nil, aftersales.AggregateExchange, exchange.ID,
		exchange.CollectionTrackingNo, previous == exchange.Status, string(previous),
		string(exchange.Status), status, completionEvent)
}

// pollShippingLeg watches the replacement travel to the customer. The last
// kind is scoped to the shipping tracking number so the collection leg's
// history cannot shadow it.
func (p *Poller) pollShippingLeg(ctx context.Context, exchange *aftersales.OrderExchange) error {
	if exchange.ShippingTrackingNo == "" {
		return nil
	}

	lastKind, err := p.repo.LastKindForTracking(ctx, aftersales.AggregateExchange, exchange.ID, exchange.ShippingTrackingNo)
	if err != nil {
		return err
	}

	status, err := p.tracker.Track(ctx, exchange.ShippingCarrier, exchange.ShippingTrackingNo)
	if err != nil {
		return err
	}
	if string(status.Kind) == lastKind {
		return nil
	}

	previous := exchange.Status
	var completionEvent event.Payload
	var shipping *aftersales.OrderShipping

	if status.Kind == carrier.KindDelivered {
		if err := exchange.Complete(); err != nil {
			return err
		}
		completionEvent = event.ExchangeCompleted{
			ExchangeID: exchange.ID,
			OrderID:    exchange.OrderID,
		}
		shipping, err = p.repo.FindShippingByTracking(ctx, exchange.ShippingTrackingNo)
		if err != nil {
			return err
		}
		if shipping != nil {
			shipping.MarkDelivered()
		}
	}

	return p.commit(exchange, shipping, aftersales.AggregateExchange, exchange.ID,
		exchange.ShippingTrackingNo, previous == exchange.Status, string(previous),
		string(exchange.Status), status, completionEvent)
}

func (p *Poller) pollReturn(ctx context.Context, ret *aftersales.OrderReturn) error {
	if ret.CollectionTrackingNo == "" {
		return nil
	}

	lastKind, err := p.repo.LastKind(ctx, aftersales.AggregateReturn, ret.ID)
	if err != nil {
		return err
	}

	status, err := p.tracker.Track(ctx, ret.CollectionCarrier, ret.CollectionTrackingNo)
	if err != nil {
		return err
	}
	if string(status.Kind) == lastKind {
		return nil
	}

	previous := ret.Status
	var completionEvent event.Payload

	switch {
	case status.Kind == carrier.KindDelivered:
		if err := ret.Complete(); err != nil {
			return err
		}
		completionEvent = event.ReturnCompleted{
			ReturnID: ret.ID,
			OrderID:  ret.OrderID,
		}
	case status.Kind.InTransit():
		if err := ret.MarkCollecting(); err != nil {
			return err
		}
	}

	statusUnchanged := previous == ret.Status
	return p.tx.Transaction(func(tx *gorm.DB) error {
		if !statusUnchanged {
			if err := p.repo.SaveReturnTx(tx, ret); err != nil {
				return err
			}
		}
		history := aftersales.NewHistory(aftersales.AggregateReturn, ret.ID, ret.CollectionTrackingNo,
			string(previous), string(ret.Status), status.Location, status.Remark,
			string(status.Kind), aftersales.SourceTrackerPoll)
		if err := p.repo.AppendHistoryTx(tx, history); err != nil {
			return err
		}
		return p.enqueue(tx, completionEvent)
	})
}

// commit writes the poll's outcome atomically: the aggregate when its status
// moved, the shipping row when it was delivered, always a history row, and
// the completion event when one fired.
func (p *Poller) commit(exchange *aftersales.OrderExchange, shipping *aftersales.OrderShipping,
	aggregateType string, aggregateID int64, trackingNo string, statusUnchanged bool,
	previous, next string, status *carrier.TrackingStatus, completionEvent event.Payload) error {

	return p.tx.Transaction(func(tx *gorm.DB) error {
		if !statusUnchanged {
			if err := p.repo.SaveExchangeTx(tx, exchange); err != nil {
				return err
			}
		}
		if shipping != nil {
			if err := p.repo.SaveShippingTx(tx, shipping); err != nil {
				return err
			}
		}
		history := aftersales.NewHistory(aggregateType, aggregateID, trackingNo,
			previous, next, status.Location, status.Remark,
			string(status.Kind), aftersales.SourceTrackerPoll)
		if err := p.repo.AppendHistoryTx(tx, history); err != nil {
			return err
		}
		return p.enqueue(tx, completionEvent)
	})
}

func (p *Poller) enqueue(tx *gorm.DB, payload event.Payload) error {
	if payload == nil {
		return nil
	}
	rec, err := outbox.NewRecord(p.ids, payload)
	if err != nil {
		return err
	}
	return p.outbox.EnqueueTx(tx, rec)
}
