package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/orderlanelabs/orderlane/internal/domain/aftersales"
)

type OrderExchangeModel struct {
	ID                   int64  `gorm:"primaryKey"`
	OrderID              int64  `gorm:"index"`
	SKU                  string `gorm:"type:varchar(64)"`
	NewSKU               string `gorm:"type:varchar(64)"`
	Quantity             int    `gorm:"not null"`
	Status               string `gorm:"type:varchar(40);index"`
	RejectReason         string `gorm:"type:text"`
	CollectionCarrier    string `gorm:"type:varchar(40)"`
	CollectionTrackingNo string `gorm:"type:varchar(64)"`
	ShippingCarrier      string `gorm:"type:varchar(40)"`
	ShippingTrackingNo   string `gorm:"type:varchar(64)"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (OrderExchangeModel) TableName() string {
	return "order_exchanges"
}

type OrderReturnModel struct {
	ID                   int64  `gorm:"primaryKey"`
	OrderID              int64  `gorm:"index"`
	SKU                  string `gorm:"type:varchar(64)"`
	Quantity             int    `gorm:"not null"`
	Status               string `gorm:"type:varchar(40);index"`
	RejectReason         string `gorm:"type:text"`
	CollectionCarrier    string `gorm:"type:varchar(40)"`
	CollectionTrackingNo string `gorm:"type:varchar(64)"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (OrderReturnModel) TableName() string {
	return "order_returns"
}

type OrderShippingModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	ExchangeID int64  `gorm:"index"`
	OrderID    int64  `gorm:"index"`
	Carrier    string `gorm:"type:varchar(40)"`
	TrackingNo string `gorm:"type:varchar(64);index"`
	Status     string `gorm:"type:varchar(20)"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (OrderShippingModel) TableName() string {
	return "order_shippings"
}

type TrackingHistoryModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	AggregateType  string `gorm:"type:varchar(20);index:idx_tracking_histories_aggregate"`
	AggregateID    int64  `gorm:"index:idx_tracking_histories_aggregate"`
	TrackingNo     string `gorm:"type:varchar(64);index"`
	PreviousStatus string `gorm:"type:varchar(40)"`
	NewStatus      string `gorm:"type:varchar(40)"`
	Location       string `gorm:"type:varchar(255)"`
	Remark         string `gorm:"type:text"`
	ExternalKind   string `gorm:"type:varchar(40)"`
	Source         string `gorm:"type:varchar(20)"`
	CreatedAt      time.Time
}

func (TrackingHistoryModel) TableName() string {
	return "tracking_histories"
}

type AftersalesRepository struct {
	db *gorm.DB
}

func NewAftersalesRepository(db *gorm.DB) *AftersalesRepository {
	return &AftersalesRepository{db: db}
}

func (r *AftersalesRepository) FindExchange(ctx context.Context, id int64) (*aftersales.OrderExchange, error) {
	var model OrderExchangeModel
	if err := r.db.WithContext(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toExchange(model), nil
}

func (r *AftersalesRepository) FindReturn(ctx context.Context, id int64) (*aftersales.OrderReturn, error) {
	var model OrderReturnModel
	if err := r.db.WithContext(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toReturn(model), nil
}

func (r *AftersalesRepository) ListActiveExchanges(ctx context.Context, limit int) ([]*aftersales.OrderExchange, error) {
	statuses := []string{
		string(aftersales.ExchangeApproved),
		string(aftersales.ExchangeCollecting),
		string(aftersales.ExchangeShipping),
	}

	query := r.db.WithContext(ctx).Where("status IN ?", statuses).Order("updated_at asc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []OrderExchangeModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]*aftersales.OrderExchange, 0, len(models))
	for _, model := range models {
		items = append(items, toExchange(model))
	}
	return items, nil
}

func (r *AftersalesRepository) ListActiveReturns(ctx context.Context, limit int) ([]*aftersales.OrderReturn, error) {
	statuses := []string{
		string(aftersales.ReturnApproved),
		string(aftersales.ReturnCollecting),
	}

	query := r.db.WithContext(ctx).Where("status IN ?", statuses).Order("updated_at asc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []OrderReturnModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]*aftersales.OrderReturn, 0, len(models))
	for _, model := range models {
		items = append(items, toReturn(model))
	}
	return items, nil
}

func (r *AftersalesRepository) SaveExchangeTx(tx *gorm.DB, exchange *aftersales.OrderExchange) error {
	model := toExchangeModel(exchange)
	if err := tx.Save(&model).Error; err != nil {
		return err
	}
	exchange.ID = model.ID
	return nil
}

func (r *AftersalesRepository) SaveReturnTx(tx *gorm.DB, ret *aftersales.OrderReturn) error {
	model := toReturnModel(ret)
	if err := tx.Save(&model).Error; err != nil {
		return err
	}
	ret.ID = model.ID
	return nil
}

func (r *AftersalesRepository) SaveShippingTx(tx *gorm.DB, shipping *aftersales.OrderShipping) error {
	model := toShippingModel(shipping)
	if err := tx.Save(&model).Error; err != nil {
		return err
	}
	shipping.ID = model.ID
	return nil
}

func (r *AftersalesRepository) FindShippingByTracking(ctx context.Context, trackingNo string) (*aftersales.OrderShipping, error) {
	var model OrderShippingModel
	if err := r.db.WithContext(ctx).Where("tracking_no = ?", trackingNo).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toShipping(model), nil
}

func (r *AftersalesRepository) AppendHistoryTx(tx *gorm.DB, history *aftersales.TrackingHistory) error {
	model := toHistoryModel(history)
	if err := tx.Create(&model).Error; err != nil {
		return err
	}
	history.ID = model.ID
	return nil
}

func (r *AftersalesRepository) LastKind(ctx context.Context, aggregateType string, aggregateID int64) (string, error) {
	var model TrackingHistoryModel
	err := r.db.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ?", aggregateType, aggregateID).
		Order("id desc").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return model.ExternalKind, nil
}

func (r *AftersalesRepository) LastKindForTracking(ctx context.Context, aggregateType string, aggregateID int64, trackingNo string) (string, error) {
	var model TrackingHistoryModel
	err := r.db.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ? AND tracking_no = ?", aggregateType, aggregateID, trackingNo).
		Order("id desc").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return model.ExternalKind, nil
}

func (r *AftersalesRepository) ListHistory(ctx context.Context, aggregateType string, aggregateID int64) ([]aftersales.TrackingHistory, error) {
	var models []TrackingHistoryModel
	err := r.db.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ?", aggregateType, aggregateID).
		Order("id asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	items := make([]aftersales.TrackingHistory, 0, len(models))
	for _, model := range models {
		items = append(items, toHistory(model))
	}
	return items, nil
}

// Mappers

func toExchange(m OrderExchangeModel) *aftersales.OrderExchange {
	return &aftersales.OrderExchange{
		ID:                   m.ID,
		OrderID:              m.OrderID,
		SKU:                  m.SKU,
		NewSKU:               m.NewSKU,
		Quantity:             m.Quantity,
		Status:               aftersales.ExchangeStatus(m.Status),
		RejectReason:         m.RejectReason,
		CollectionCarrier:    m.CollectionCarrier,
		CollectionTrackingNo: m.CollectionTrackingNo,
		ShippingCarrier:      m.ShippingCarrier,
		ShippingTrackingNo:   m.ShippingTrackingNo,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func toExchangeModel(d *aftersales.OrderExchange) OrderExchangeModel {
	return OrderExchangeModel{
		ID:                   d.ID,
		OrderID:              d.OrderID,
		SKU:                  d.SKU,
		NewSKU:               d.NewSKU,
		Quantity:             d.Quantity,
		Status:               string(d.Status),
		RejectReason:         d.RejectReason,
		CollectionCarrier:    d.CollectionCarrier,
		CollectionTrackingNo: d.CollectionTrackingNo,
		ShippingCarrier:      d.ShippingCarrier,
		ShippingTrackingNo:   d.ShippingTrackingNo,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
}

func toReturn(m OrderReturnModel) *aftersales.OrderReturn {
	return &aftersales.OrderReturn{
		ID:                   m.ID,
		OrderID:              m.OrderID,
		SKU:                  m.SKU,
		Quantity:             m.Quantity,
		Status:               aftersales.ReturnStatus(m.Status),
		RejectReason:         m.RejectReason,
		CollectionCarrier:    m.CollectionCarrier,
		CollectionTrackingNo: m.CollectionTrackingNo,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func toReturnModel(d *aftersales.OrderReturn) OrderReturnModel {
	return OrderReturnModel{
		ID:                   d.ID,
		OrderID:              d.OrderID,
		SKU:                  d.SKU,
		Quantity:             d.Quantity,
		Status:               string(d.Status),
		RejectReason:         d.RejectReason,
		CollectionCarrier:    d.CollectionCarrier,
		CollectionTrackingNo: d.CollectionTrackingNo,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
}

func toShipping(m OrderShippingModel) *aftersales.OrderShipping {
	return &aftersales.OrderShipping{
		ID:         m.ID,
		ExchangeID: m.ExchangeID,
		OrderID:    m.OrderID,
		Carrier:    m.Carrier,
		TrackingNo: m.TrackingNo,
		Status:     aftersales.ShippingStatus(m.Status),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func toShippingModel(d *aftersales.OrderShipping) OrderShippingModel {
	return OrderShippingModel{
		ID:         d.ID,
		ExchangeID: d.ExchangeID,
		OrderID:    d.OrderID,
		Carrier:    d.Carrier,
		TrackingNo: d.TrackingNo,
		Status:     string(d.Status),
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func toHistory(m TrackingHistoryModel) aftersales.TrackingHistory {
	return aftersales.TrackingHistory{
		ID:             m.ID,
		AggregateType:  m.AggregateType,
		AggregateID:    m.AggregateID,
		TrackingNo:     m.TrackingNo,
		PreviousStatus: m.PreviousStatus,
		NewStatus:      m.NewStatus,
		Location:       m.Location,
		Remark:         m.Remark,
		ExternalKind:   m.ExternalKind,
		Source:         aftersales.HistorySource(m.Source),
		CreatedAt:      m.CreatedAt,
	}
}

func toHistoryModel(d *aftersales.TrackingHistory) TrackingHistoryModel {
	return TrackingHistoryModel{
		ID:             d.ID,
		AggregateType:  d.AggregateType,
		AggregateID:    d.AggregateID,
		TrackingNo:     d.TrackingNo,
		PreviousStatus: d.PreviousStatus,
		NewStatus:      d.NewStatus,
		Location:       d.Location,
		Remark:         d.Remark,
		ExternalKind:   d.ExternalKind,
		Source:         string(d.Source),
		CreatedAt:      d.CreatedAt,
	}
}
