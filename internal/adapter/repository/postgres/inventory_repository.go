package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/orderlanelabs/orderlane/internal/domain/inventory"
)

// ProductModel is the database DTO with Gorm tags.
type ProductModel struct {
	ID        int64  `gorm:"primaryKey"`
	SKU       string `gorm:"type:varchar(64);uniqueIndex"`
	Name      string `gorm:"type:varchar(255)"`
	Stock     int    `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ProductModel) TableName() string {
	return "products"
}

type StockReservationModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	OrderID   int64  `gorm:"index"`
	SKU       string `gorm:"type:varchar(64)"`
	Quantity  int    `gorm:"not null"`
	Status    string `gorm:"type:varchar(20);index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (StockReservationModel) TableName() string {
	return "stock_reservations"
}

type InventoryRepository struct {
	db *gorm.DB
}

func NewInventoryRepository(db *gorm.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// AvailableStockTx reads the SKU's stock under a row lock so a following
// decrement in the same transaction cannot lose a race.
func (r *InventoryRepository) AvailableStockTx(tx *gorm.DB, sku string) (int, error) {
	var model ProductModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("sku = ?", sku).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: %s", inventory.ErrUnknownSKU, sku)
		}
		return 0, err
	}
	return model.Stock, nil
}

// DecrementStockTx runs a guarded update so the check and the subtraction are
// one atomic statement; concurrent decrements can never drive stock negative.
func (r *InventoryRepository) DecrementStockTx(tx *gorm.DB, sku string, quantity int) error {
	res := tx.Model(&ProductModel{}).
		Where("sku = ? AND stock >= ?", sku, quantity).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock - ?", quantity),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := tx.Model(&ProductModel{}).Where("sku = ?", sku).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", inventory.ErrUnknownSKU, sku)
	}
	return fmt.Errorf("%w: %s needs %d", inventory.ErrInsufficientStock, sku, quantity)
}

func (r *InventoryRepository) IncrementStockTx(tx *gorm.DB, sku string, quantity int) error {
	res := tx.Model(&ProductModel{}).
		Where("sku = ?", sku).
		Updates(map[string]any{
			"stock":      gorm.Expr("stock + ?", quantity),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", inventory.ErrUnknownSKU, sku)
	}
	return nil
}

func (r *InventoryRepository) ReserveTx(tx *gorm.DB, reservation *inventory.StockReservation) error {
	model := toReservationModel(reservation)
	if err := tx.Create(&model).Error; err != nil {
		return err
	}
	reservation.ID = model.ID
	return nil
}

// ReleaseReservationsTx locks the order's RESERVED rows, flips them, and
// returns what was held. The row lock serializes racing compensations so only
// one of them sees the reservations as still reserved.
func (r *InventoryRepository) ReleaseReservationsTx(tx *gorm.DB, orderID int64) ([]inventory.StockReservation, error) {
	var models []StockReservationModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ? AND status = ?", orderID, string(inventory.ReservationReserved)).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, nil
	}

	err = tx.Model(&StockReservationModel{}).
		Where("order_id = ? AND status = ?", orderID, string(inventory.ReservationReserved)).
		Updates(map[string]any{
			"status":     string(inventory.ReservationReleased),
			"updated_at": time.Now().UTC(),
		}).Error
	if err != nil {
		return nil, err
	}

	items := make([]inventory.StockReservation, 0, len(models))
	for _, model := range models {
		reservation := toReservation(model)
		reservation.Status = inventory.ReservationReleased
		items = append(items, reservation)
	}
	return items, nil
}

func (r *InventoryRepository) FindBySKU(ctx context.Context, sku string) (*inventory.Product, error) {
	var model ProductModel
	if err := r.db.WithContext(ctx).Where("sku = ?", sku).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	product := toProduct(model)
	return &product, nil
}

// Mappers

func toProduct(m ProductModel) inventory.Product {
	return inventory.Product{
		ID:        m.ID,
		SKU:       m.SKU,
		Name:      m.Name,
		Stock:     m.Stock,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toReservation(m StockReservationModel) inventory.StockReservation {
	return inventory.StockReservation{
		ID:        m.ID,
		OrderID:   m.OrderID,
		SKU:       m.SKU,
		Quantity:  m.Quantity,
		Status:    inventory.ReservationStatus(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toReservationModel(d *inventory.StockReservation) StockReservationModel {
	return StockReservationModel{
		ID:        d.ID,
		OrderID:   d.OrderID,
		SKU:       d.SKU,
		Quantity:  d.Quantity,
		Status:    string(d.Status),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
