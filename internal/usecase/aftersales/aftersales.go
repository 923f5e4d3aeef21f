package aftersales

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	coredomain "github.com/orderlanelabs/orderlane/internal/domain"
	domain "github.com/orderlanelabs/orderlane/internal/domain/aftersales"
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

// Receiver is the pickup or delivery address for a carrier label.
type Receiver struct {
	CarrierCode string `json:"carrier_code"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Postcode    string `json:"postcode"`
	Address     string `json:"address"`
}

// UseCase implements the operator-facing exchange and return lifecycle.
// Carrier label calls happen before the transaction opens; everything
// durable, including the outbox event that fans the decision out, commits
// atomically.
type UseCase struct {
	repo   domain.Repository
	outbox OutboxWriter
	labels carrier.LabelIssuer
	tx     Transactor
	ids    *snowflake.Node
	logger *zap.Logger
}

func New(db *gorm.DB, repo domain.Repository, ob OutboxWriter, labels carrier.LabelIssuer, ids *snowflake.Node, logger *zap.Logger) *UseCase {
	return &UseCase{
		repo:   repo,
		outbox: ob,
		labels: labels,
		tx:     gormTransactor{db: db},
		ids:    ids,
		logger: logger.Named("aftersales"),
	}
}

// RequestExchange opens a new exchange in EXCHANGE_REQUESTED.
func (uc *UseCase) RequestExchange(ctx context.Context, orderID int64, sku, newSKU string, quantity int) (*domain.OrderExchange, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("exchange quantity must be positive: %w", coredomain.ErrConflict)
	}

	exchange := domain.NewExchange(orderID, sku, newSKU, quantity)
	exchange.ID = uc.ids.GenerateID()

	err := uc.tx.Transaction(func(tx *gorm.DB) error {
		return uc.repo.SaveExchangeTx(tx, exchange)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("exchange_requested",
		zap.Int64("exchange_id", exchange.ID),
		zap.Int64("order_id", orderID),
	)
	return exchange, nil
}

// ApproveExchange issues the collection label, moves the exchange to
// EXCHANGE_APPROVED, and emits inventory.decrease for the replacement SKU.
// Status, history, and the event are one transaction.
func (uc *UseCase) ApproveExchange(ctx context.Context, id int64, receiver Receiver) (*domain.OrderExchange, error) {
	exchange, err := uc.repo.FindExchange(ctx, id)
	if err != nil {
		return nil, err
	}
	if exchange == nil {
		return nil, fmt.Errorf("exchange %d: %w", id, coredomain.ErrNotFound)
	}

	trackingNo, err := uc.issueLabel(ctx, fmt.Sprintf("exchange-%d", id), receiver)
	if err != nil {
		return nil, err
	}

	previous := exchange.Status
	if err := exchange.Approve(receiver.CarrierCode, trackingNo); err != nil {
		return nil, err
	}

	rec, err := outbox.NewRecord(uc.ids, event.InventoryDecrease{
		ExchangeID: exchange.ID,
		SKU:        exchange.NewSKU,
		Quantity:   exchange.Quantity,
	})
	if err != nil {
		return nil, err
	}

	err = uc.tx.Transaction(func(tx *gorm.DB) error {
		if err := uc.repo.SaveExchangeTx(tx, exchange); err != nil {
			return err
		}
		history := domain.NewHistory(domain.AggregateExchange, exchange.ID, trackingNo,
			string(previous), string(exchange.Status), "", "collection label issued", "", domain.SourceOperator)
		if err := uc.repo.AppendHistoryTx(tx, history); err != nil {
			return err
		}
		return uc.outbox.EnqueueTx(tx, rec)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("exchange_approved",
		zap.Int64("exchange_id", exchange.ID),
		zap.String("tracking_no", trackingNo),
	)
	return exchange, nil
}

// RejectExchange terminates a requested exchange.
func (uc *UseCase) RejectExchange(ctx context.Context, id int64, reason string) (*domain.OrderExchange, error) {
	exchange, err := uc.repo.FindExchange(ctx, id)
	if err != nil {
		return nil, err
	}
	if exchange == nil {
		return nil, fmt.Errorf("exchange %d: %w", id, coredomain.ErrNotFound)
	}

	previous := exchange.Status
	if err := exchange.Reject(reason); err != nil {
		return nil, err
	}

	err = uc.tx.Transaction(func(tx *gorm.DB) error {
		if err := uc.repo.SaveExchangeTx(tx, exchange); err != nil {
			return err
		}
		history := domain.NewHistory(domain.AggregateExchange, exchange.ID, "",
			string(previous), string(exchange.Status), "", reason, "", domain.SourceOperator)
		return uc.repo.AppendHistoryTx(tx, history)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("exchange_rejected", zap.Int64("exchange_id", exchange.ID))
	return exchange, nil
}

// ReissueCollectionLabel replaces a lost or expired collection label. The old
// label is cancelled best-effort after the new one is stored; a stale
// cancellation is harmless, a lost new label is not.
func (uc *UseCase) ReissueCollectionLabel(ctx context.Context, id int64, receiver Receiver) (*domain.OrderExchange, error) {
	exchange, err := uc.repo.FindExchange(ctx, id)
	if err != nil {
		return nil, err
	}
	if exchange == nil {
		return nil, fmt.Errorf("exchange %d: %w", id, coredomain.ErrNotFound)
	}
	if !exchange.OnCollectionLeg() {
		return nil, fmt.Errorf("exchange %d is not collecting: %w", id, domain.ErrInvalidTransition)
	}

	oldCarrier := exchange.CollectionCarrier
	oldTracking := exchange.CollectionTrackingNo

	trackingNo, err := uc.issueLabel(ctx, fmt.Sprintf("exchange-%d", id), receiver)
	if err != nil {
		return nil, err
	}

	previous := exchange.Status
	exchange.CollectionCarrier = receiver.CarrierCode
	exchange.CollectionTrackingNo = trackingNo

	err = uc.tx.Transaction(func(tx *gorm.DB) error {
		if err := uc.repo.SaveExchangeTx(tx, exchange); err != nil {
			return err
		}
		history := domain.NewHistory(domain.AggregateExchange, exchange.ID, trackingNo,
			string(previous), string(exchange.Status), "", "collection label reissued", "", domain.SourceOperator)
		return uc.repo.AppendHistoryTx(tx, history)
	})
	if err != nil {
		return nil, err
	}

	if oldTracking != "" {
		if err := uc.labels.CancelLabels(ctx, oldCarrier, []string{oldTracking}); err != nil {
			uc.logger.Warn("label_cancel_failed",
				zap.Int64("exchange_id", exchange.ID),
				zap.String("tracking_no", oldTracking),
				zap.Error(err),
			)
		}
	}

	uc.logger.Info("collection_label_reissued",
		zap.Int64("exchange_id", exchange.ID),
		zap.String("tracking_no", trackingNo),
	)
	return exchange, nil
}

// ShipExchange starts the shipping leg once the original item is back:
// shipping label, EXCHANGE_SHIPPING status, and an OrderShipping row the
// tracker will poll.
func (uc *UseCase) ShipExchange(ctx context.Context, id int64, receiver Receiver) (*domain.OrderExchange, error) {
	exchange, err := uc.repo.FindExchange(ctx, id)
	if err != nil {
		return nil, err
	}
	if exchange == nil {
		return nil, fmt.Errorf("exchange %d: %w", id, coredomain.ErrNotFound)
	}

	trackingNo, err := uc.issueLabel(ctx, fmt.Sprintf("exchange-ship-%d", id), receiver)
	if err != nil {
		return nil, err
	}

	previous := exchange.Status
	if err := exchange.Ship(receiver.CarrierCode, trackingNo); err != nil {
		return nil, err
	}

	shipping := domain.NewShipping(exchange.ID, exchange.OrderID, receiver.CarrierCode, trackingNo)
	shipping.ID = uc.ids.GenerateID()

	err = uc.tx.Transaction(func(tx *gorm.DB) error {
		if err := uc.repo.SaveExchangeTx(tx, exchange); err != nil {
			return err
		}
		if err := uc.repo.SaveShippingTx(tx, shipping); err != nil {
			return err
		}
		history := domain.NewHistory(domain.AggregateExchange, exchange.ID, trackingNo,
			string(previous), string(exchange.Status), "", "replacement shipped", "", domain.SourceOperator)
		return uc.repo.AppendHistoryTx(tx, history)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("exchange_shipping",
		zap.Int64("exchange_id", exchange.ID),
		zap.String("tracking_no", trackingNo),
	)
	return exchange, nil
}

// RequestReturn opens a new return in RETURN_REQUESTED.
func (uc *UseCase) RequestReturn(ctx context.Context, orderID int64, sku string, quantity int) (*domain.OrderReturn, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("return quantity must be positive: %w", coredomain.ErrConflict)
	}

	ret := domain.NewReturn(orderID, sku, quantity)
	ret.ID = uc.ids.GenerateID()

	err := uc.tx.Transaction(func(tx *gorm.DB) error {
		return uc.repo.SaveReturnTx(tx, ret)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("return_requested",
		zap.Int64("return_id", ret.ID),
		zap.Int64("order_id", orderID),
	)
	return ret, nil
}

// ApproveReturn issues the collection label and emits return.approved.
func (uc *UseCase) ApproveReturn(ctx context.Context, id int64, receiver Receiver) (*domain.OrderReturn, error) {
	ret, err := uc.repo.FindReturn(ctx, id)
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, fmt.Errorf("return %d: %w", id, coredomain.ErrNotFound)
	}

	trackingNo, err := uc.issueLabel(ctx, fmt.Sprintf("return-%d", id), receiver)
	if err != nil {
		return nil, err
	}

	previous := ret.Status
	if err := ret.Approve(receiver.CarrierCode, trackingNo); err != nil {
		return nil, err
	}

	rec, err := outbox.NewRecord(uc.ids, event.ReturnApproved{
		ReturnID: ret.ID,
		OrderID:  ret.OrderID,
	})
	if err != nil {
		return nil, err
	}

	err = uc.tx.Transaction(func(tx *gorm.DB) error {
		if err := uc.repo.SaveReturnTx(tx, ret); err != nil {
			return err
		}
		history := domain.NewHistory(domain.AggregateReturn, ret.ID, trackingNo,
			string(previous), string(ret.Status), "", "collection label issued", "", domain.SourceOperator)
		if err := uc.repo.AppendHistoryTx(tx, history); err != nil {
			return err
		}
		return uc.outbox.EnqueueTx(tx, rec)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("return_approved",
		zap.Int64("return_id", ret.ID),
		zap.String("tracking_no", trackingNo),
	)
	return ret, nil
}

// RejectReturn terminates a requested return.
func (uc *UseCase) RejectReturn(ctx context.Context, id int64, reason string) (*domain.OrderReturn, error) {
	ret, err := uc.repo.FindReturn(ctx, id)
	if err != nil {
		return nil, err
	}
	if ret == nil {
		return nil, fmt.Errorf("return %d: %w", id, coredomain.ErrNotFound)
	}

	previous := ret.Status
	if err := ret.Reject(reason); err != nil {
		return nil, err
	}

	err = uc.tx.Transaction(func(tx *gorm.DB) error {
		if err := uc.repo.SaveReturnTx(tx, ret); err != nil {
			return err
		}
		history := domain.NewHistory(domain.AggregateReturn, ret.ID, "",
			string(previous), string(ret.Status), "", reason, "", domain.SourceOperator)
		return uc.repo.AppendHistoryTx(tx, history)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("return_rejected", zap.Int64("return_id", ret.ID))
	return ret, nil
}

func (uc *UseCase) issueLabel(ctx context.Context, refID string, receiver Receiver) (string, error) {
	results, err := uc.labels.IssueLabels(ctx, []carrier.LabelRequest{{
		RefID:            refID,
		CarrierCode:      receiver.CarrierCode,
		ReceiverName:     receiver.Name,
		ReceiverPhone:    receiver.Phone,
		ReceiverPostcode: receiver.Postcode,
		ReceiverAddress:  receiver.Address,
	}})
	if err != nil {
		return "", err
	}
	if len(results) != 1 {
		return "", fmt.Errorf("aftersales: expected one label result, got %d", len(results))
	}
	if !results[0].Success {
		return "", fmt.Errorf("aftersales: label issue failed for %s: %s", refID, results[0].FailReason)
	}
	return results[0].TrackingNo, nil
}
