package stock

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orderlanelabs/orderlane/internal/consumer"
	"github.com/orderlanelabs/orderlane/internal/domain/inventory"
	"github.com/orderlanelabs/orderlane/internal/event"
	"github.com/orderlanelabs/orderlane/internal/outbox"
	"github.com/orderlanelabs/orderlane/pkg/snowflake"
)

// OutboxWriter appends an event to the outbox inside the caller's
// transaction.
type OutboxWriter interface {
	EnqueueTx(tx *gorm.DB, rec *outbox.Record) error
}

// UseCase holds the inventory side of the choreography saga: it reacts to
// order, payment, and exchange events and answers only with stock mutations
// and compensation events, never with calls into other services.
type UseCase struct {
	repo   inventory.Repository
	outbox OutboxWriter
	ids    *snowflake.Node
	logger *zap.Logger
}

func New(repo inventory.Repository, ob OutboxWriter, ids *snowflake.Node, logger *zap.Logger) *UseCase {
	return &UseCase{
		repo:   repo,
		outbox: ob,
		ids:    ids,
		logger: logger.Named("stock"),
	}
}

// Register binds the saga's handlers to their topics.
func (uc *UseCase) Register(c *consumer.Consumer) {
	c.Handle(event.TypeOrderCreated, uc.HandleOrderCreated)
	c.Handle(event.TypePaymentCancelled, uc.HandlePaymentCancelled)
	c.Handle(event.TypeInventoryDecrease, uc.HandleInventoryDecrease)
}

// HandleOrderCreated reserves stock for every line of the order. When any
// line cannot be served the whole order is rejected: no line is decremented
// and a stock.rejected compensation event is written instead, in the same
// transaction that records the event as processed.
func (uc *UseCase) HandleOrderCreated(ctx context.Context, tx *gorm.DB, p event.Payload) error {
	created, ok := p.(event.OrderCreated)
	if !ok {
		return fmt.Errorf("stock: unexpected payload %T", p)
	}
	if len(created.Lines) == 0 {
		uc.logger.Warn("order_without_lines", zap.Int64("order_id", created.OrderID))
		return nil
	}

	// The availability pass takes row locks, so the decrement pass below
	// cannot fail on a concurrent order.
	for _, line := range created.Lines {
		available, err := uc.repo.AvailableStockTx(tx, line.SKU)
		if err != nil {
			if errors.Is(err, inventory.ErrUnknownSKU) {
				return uc.rejectOrder(tx, created, line.SKU, err)
			}
			return err
		}
		if available < line.Quantity {
			return uc.rejectOrder(tx, created, line.SKU,
				fmt.Errorf("%w: %s has %d, order wants %d", inventory.ErrInsufficientStock, line.SKU, available, line.Quantity))
		}
	}

	for _, line := range created.Lines {
		if err := uc.repo.DecrementStockTx(tx, line.SKU, line.Quantity); err != nil {
			return err
		}
		if err := uc.repo.ReserveTx(tx, inventory.NewReservation(created.OrderID, line.SKU, line.Quantity)); err != nil {
			return err
		}
	}

	uc.logger.Info("stock_reserved",
		zap.Int64("order_id", created.OrderID),
		zap.Int("lines", len(created.Lines)),
	)
	return nil
}

func (uc *UseCase) rejectOrder(tx *gorm.DB, created event.OrderCreated, sku string, cause error) error {
	rec, err := outbox.NewRecord(uc.ids, event.StockRejected{
		OrderID: created.OrderID,
		SKU:     sku,
		Reason:  cause.Error(),
	})
	if err != nil {
		return err
	}
	if err := uc.outbox.EnqueueTx(tx, rec); err != nil {
		return err
	}

	uc.logger.Warn("stock_rejected",
		zap.Int64("order_id", created.OrderID),
		zap.String("sku", sku),
		zap.Error(cause),
	)
	return nil
}

// HandlePaymentCancelled restores what the order originally took. The amounts
// come from the local reservation rows, not from the message payload, and
// releasing them is a one-way flip, so any number of duplicate cancellations
// restores stock exactly once.
func (uc *UseCase) HandlePaymentCancelled(ctx context.Context, tx *gorm.DB, p event.Payload) error {
	cancelled, ok := p.(event.PaymentCancelled)
	if !ok {
		return fmt.Errorf("stock: unexpected payload %T", p)
	}

	released, err := uc.repo.ReleaseReservationsTx(tx, cancelled.OrderID)
	if err != nil {
		return err
	}
	if len(released) == 0 {
		uc.logger.Info("compensation_already_applied", zap.Int64("order_id", cancelled.OrderID))
		return nil
	}

	for _, reservation := range released {
		if err := uc.repo.IncrementStockTx(tx, reservation.SKU, reservation.Quantity); err != nil {
			return err
		}
	}

	uc.logger.Info("stock_restored",
		zap.Int64("order_id", cancelled.OrderID),
		zap.Int("reservations", len(released)),
	)
	return nil
}

// HandleInventoryDecrease takes stock for the replacement SKU of an approved
// exchange. This decrement is independent of the original order's
// reservation; failures ride the normal retry path and eventually dead-letter
// for operator attention.
func (uc *UseCase) HandleInventoryDecrease(ctx context.Context, tx *gorm.DB, p event.Payload) error {
	decrease, ok := p.(event.InventoryDecrease)
	if !ok {
		return fmt.Errorf("stock: unexpected payload %T", p)
	}

	if err := uc.repo.DecrementStockTx(tx, decrease.SKU, decrease.Quantity); err != nil {
		return err
	}

	uc.logger.Info("exchange_stock_decremented",
		zap.Int64("exchange_id", decrease.ExchangeID),
		zap.String("sku", decrease.SKU),
		zap.Int("quantity", decrease.Quantity),
	)
	return nil
}
