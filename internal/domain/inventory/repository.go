package inventory

import (
	"context"

	"gorm.io/gorm"
)

// Repository defines the persistence surface for stock. Methods with a Tx
// suffix run inside a caller-owned transaction so stock movement, reservation
// bookkeeping, and outbox writes commit together.
type Repository interface {
	// AvailableStockTx returns the SKU's current stock, locking the row for
	// the rest of the transaction. Returns ErrUnknownSKU when absent.
	AvailableStockTx(tx *gorm.DB, sku string) (int, error)

	// DecrementStockTx atomically subtracts quantity from the SKU's stock.
	// Returns ErrUnknownSKU or ErrInsufficientStock when the guarded update
	// matches no row.
	DecrementStockTx(tx *gorm.DB, sku string, quantity int) error

	// IncrementStockTx adds quantity back to the SKU's stock.
	IncrementStockTx(tx *gorm.DB, sku string, quantity int) error

	// ReserveTx records what an order took from stock.
	ReserveTx(tx *gorm.DB, reservation *StockReservation) error

	// ReleaseReservationsTx flips the order's RESERVED rows to RELEASED and
	// returns them. A second call for the same order returns nothing, which
	// is what makes compensation idempotent at the data layer.
	ReleaseReservationsTx(tx *gorm.DB, orderID int64) ([]StockReservation, error)

	// FindBySKU returns the product or nil when absent.
	FindBySKU(ctx context.Context, sku string) (*Product, error)
}
