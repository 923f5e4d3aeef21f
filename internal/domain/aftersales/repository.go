package aftersales

import (
	"context"

	"gorm.io/gorm"
)

// Repository persists the after-sales aggregates. Tx-suffixed methods join a
// caller-owned transaction so status writes, history rows, and outbox records
// commit atomically.
type Repository interface {
	FindExchange(ctx context.Context, id int64) (*OrderExchange, error)
	FindReturn(ctx context.Context, id int64) (*OrderReturn, error)

	// ListActiveExchanges returns exchanges whose status the tracker still
	// polls, oldest update first.
	ListActiveExchanges(ctx context.Context, limit int) ([]*OrderExchange, error)
	ListActiveReturns(ctx context.Context, limit int) ([]*OrderReturn, error)

	SaveExchangeTx(tx *gorm.DB, exchange *OrderExchange) error
	SaveReturnTx(tx *gorm.DB, ret *OrderReturn) error
	SaveShippingTx(tx *gorm.DB, shipping *OrderShipping) error

	FindShippingByTracking(ctx context.Context, trackingNo string) (*OrderShipping, error)

	AppendHistoryTx(tx *gorm.DB, history *TrackingHistory) error

	// LastKind returns the newest external kind recorded for the aggregate,
	// or "" when no history exists yet.
	LastKind(ctx context.Context, aggregateType string, aggregateID int64) (string, error)

	// LastKindForTracking scopes the lookup to one tracking number, which
	// keeps collection-leg and shipping-leg histories of the same exchange
	// from shadowing each other.
	LastKindForTracking(ctx context.Context, aggregateType string, aggregateID int64, trackingNo string) (string, error)

	ListHistory(ctx context.Context, aggregateType string, aggregateID int64) ([]TrackingHistory, error)
}
