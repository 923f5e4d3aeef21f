package inventory

import (
	"errors"
	"time"
)

var (
	ErrUnknownSKU        = errors.New("unknown sku")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Product is the per-SKU stock record. Stock arithmetic happens in guarded
// UPDATE statements, never read-modify-write in application code.
type Product struct {
	ID        int64     `json:"id,string"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	Stock     int       `json:"stock"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReservationStatus represents the lifecycle of one order line's stock hold.
type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "RESERVED"
	ReservationReleased ReservationStatus = "RELEASED"
)

// StockReservation records what an order took from stock, so a later
// compensation can restore exactly that amount without trusting the
// triggering message's payload.
type StockReservation struct {
	ID        int64             `json:"id,string"`
	OrderID   int64             `json:"order_id,string"`
	SKU       string            `json:"sku"`
	Quantity  int               `json:"quantity"`
	Status    ReservationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewReservation creates a reservation in RESERVED state.
func NewReservation(orderID int64, sku string, quantity int) *StockReservation {
	now := time.Now().UTC()
	return &StockReservation{
		OrderID:   orderID,
		SKU:       sku,
		Quantity:  quantity,
		Status:    ReservationReserved,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
