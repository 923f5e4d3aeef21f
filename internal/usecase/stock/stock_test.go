package stock

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orderlanelabs/orderlane/internal/domain/inventory"
	"github.com/orderlanelabs/orderlane/internal/event"
	"github.com/orderlanelabs/orderlane/internal/outbox"
	"github.com/orderlanelabs/orderlane/pkg/snowflake"
)

type fakeInventory struct {
	stock        map[string]int
	reservations []inventory.StockReservation
}

func newFakeInventory(stock map[string]int) *fakeInventory {
	return &fakeInventory{stock: stock}
}

func (f *fakeInventory) AvailableStockTx(_ *gorm.DB, sku string) (int, error) {
	available, ok := f.stock[sku]
	if !ok {
		return 0, fmt.Errorf("%w: %s", inventory.ErrUnknownSKU, sku)
	}
	return available, nil
}

func (f *fakeInventory) DecrementStockTx(_ *gorm.DB, sku string, quantity int) error {
	available, ok := f.stock[sku]
	if !ok {
		return fmt.Errorf("%w: %s", inventory.ErrUnknownSKU, sku)
	}
	if available < quantity {
		return fmt.Errorf("%w: %s", inventory.ErrInsufficientStock, sku)
	}
	f.stock[sku] = available - quantity
	return nil
}

func (f *fakeInventory) IncrementStockTx(_ *gorm.DB, sku string, quantity int) error {
	if _, ok := f.stock[sku]; !ok {
		return fmt.Errorf("%w: %s", inventory.ErrUnknownSKU, sku)
	}
	f.stock[sku] += quantity
	return nil
}

func (f *fakeInventory) ReserveTx(_ *gorm.DB, reservation *inventory.StockReservation) error {
	reservation.ID = int64(len(f.reservations) + 1)
	f.reservations = append(f.reservations, *reservation)
	return nil
}

func (f *fakeInventory) ReleaseReservationsTx(_ *gorm.DB, orderID int64) ([]inventory.StockReservation, error) {
	var released []inventory.StockReservation
	for i := range f.reservations {
		if f.reservations[i].OrderID == orderID && f.reservations[i].Status == inventory.ReservationReserved {
			f.reservations[i].Status = inventory.ReservationReleased
			released = append(released, f.reservations[i])
		}
	}
	return released, nil
}

func (f *fakeInventory) FindBySKU(_ context.Context, sku string) (*inventory.Product, error) {
	available, ok := f.stock[sku]
	if !ok {
		return nil, nil
	}
	return &inventory.Product{SKU: sku, Stock: available}, nil
}

type fakeOutbox struct {
	records []*outbox.Record
}

func (f *fakeOutbox) EnqueueTx(_ *gorm.DB, rec *outbox.Record) error {
	f.records = append(f.records, rec)
	return nil
}

func newTestUseCase(t *testing.T, repo *fakeInventory, ob *fakeOutbox) *UseCase {
	t.Helper()
	node, err := snowflake.NewNode()
	require.NoError(t, err)
	return New(repo, ob, node, zap.NewNop())
}

func orderCreated(orderID int64, lines ...event.OrderLine) event.OrderCreated {
	return event.OrderCreated{OrderID: orderID, Lines: lines}
}

func TestHandleOrderCreatedReservesStock(t *testing.T) {
	repo := newFakeInventory(map[string]int{"SKU-1": 10, "SKU-2": 5})
	ob := &fakeOutbox{}
	uc := newTestUseCase(t, repo, ob)

	err := uc.HandleOrderCreated(context.Background(), nil,
		orderCreated(1, event.OrderLine{SKU: "SKU-1", Quantity: 3}, event.OrderLine{SKU: "SKU-2", Quantity: 5}))
	require.NoError(t, err)

	assert.Equal(t, 7, repo.stock["SKU-1"])
	assert.Equal(t, 0, repo.stock["SKU-2"])
	require.Len(t, repo.reservations, 2)
	assert.Equal(t, inventory.ReservationReserved, repo.reservations[0].Status)
	assert.Empty(t, ob.records, "a served order emits no compensation")
}

func TestHandleOrderCreatedInsufficientStockRejectsWholeOrder(t *testing.T) {
	repo := newFakeInventory(map[string]int{"SKU-1": 10, "SKU-2": 1})
	ob := &fakeOutbox{}
	uc := newTestUseCase(t, repo, ob)

	err := uc.HandleOrderCreated(context.Background(), nil,
		orderCreated(1, event.OrderLine{SKU: "SKU-1", Quantity: 3}, event.OrderLine{SKU: "SKU-2", Quantity: 5}))
	require.NoError(t, err, "rejection is an outcome, not a failure")

	assert.Equal(t, 10, repo.stock["SKU-1"], "no line of a rejected order is decremented")
	assert.Equal(t, 1, repo.stock["SKU-2"])
	assert.Empty(t, repo.reservations)

	require.Len(t, ob.records, 1)
	assert.Equal(t, string(event.TypeStockRejected), ob.records[0].EventType)
	assert.Contains(t, ob.records[0].Payload, "SKU-2")
}

func TestHandleOrderCreatedUnknownSKURejects(t *testing.T) {
	repo := newFakeInventory(map[string]int{"SKU-1": 10})
	ob := &fakeOutbox{}
	uc := newTestUseCase(t, repo, ob)

	err := uc.HandleOrderCreated(context.Background(), nil,
		orderCreated(2, event.OrderLine{SKU: "SKU-MISSING", Quantity: 1}))
	require.NoError(t, err)

	require.Len(t, ob.records, 1)
	assert.Equal(t, string(event.TypeStockRejected), ob.records[0].EventType)
	assert.Contains(t, ob.records[0].Payload, "SKU-MISSING")
}

func TestHandlePaymentCancelledRestoresExactlyOnce(t *testing.T) {
	repo := newFakeInventory(map[string]int{"SKU-1": 10})
	ob := &fakeOutbox{}
	uc := newTestUseCase(t, repo, ob)

	require.NoError(t, uc.HandleOrderCreated(context.Background(), nil,
		orderCreated(1, event.OrderLine{SKU: "SKU-1", Quantity: 4})))
	require.Equal(t, 6, repo.stock["SKU-1"])

	cancelled := event.PaymentCancelled{OrderID: 1, PaymentID: "pay-1"}
	require.NoError(t, uc.HandlePaymentCancelled(context.Background(), nil, cancelled))
	assert.Equal(t, 10, repo.stock["SKU-1"])

	// Duplicate cancellations find no RESERVED rows and restore nothing.
	require.NoError(t, uc.HandlePaymentCancelled(context.Background(), nil, cancelled))
	require.NoError(t, uc.HandlePaymentCancelled(context.Background(), nil, cancelled))
	assert.Equal(t, 10, repo.stock["SKU-1"], "net delta is exactly one restoration")
}

func TestHandlePaymentCancelledForUnknownOrderIsNoOp(t *testing.T) {
	repo := newFakeInventory(map[string]int{"SKU-1": 10})
	uc := newTestUseCase(t, repo, &fakeOutbox{})

	err := uc.HandlePaymentCancelled(context.Background(), nil, event.PaymentCancelled{OrderID: 99})
	require.NoError(t, err)
	assert.Equal(t, 10, repo.stock["SKU-1"])
}

func TestHandleInventoryDecrease(t *testing.T) {
	repo := newFakeInventory(map[string]int{"SKU-NEW": 2})
	uc := newTestUseCase(t, repo, &fakeOutbox{})

	err := uc.HandleInventoryDecrease(context.Background(), nil,
		event.InventoryDecrease{ExchangeID: 7, SKU: "SKU-NEW", Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, repo.stock["SKU-NEW"])

	err = uc.HandleInventoryDecrease(context.Background(), nil,
		event.InventoryDecrease{ExchangeID: 8, SKU: "SKU-NEW", Quantity: 5})
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock, "shortage rides the retry path")
}
