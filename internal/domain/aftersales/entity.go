package aftersales

import (
	"errors"
	"time"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// ExchangeStatus is the exchange aggregate's lifecycle. The collection leg
// runs REQUESTED through RETURN_COMPLETED; the shipping leg runs SHIPPING
// through EXCHANGED once the replacement item is handed to the carrier.
type ExchangeStatus string

const (
	ExchangeRequested       ExchangeStatus = "EXCHANGE_REQUESTED"
	ExchangeApproved        ExchangeStatus = "EXCHANGE_APPROVED"
	ExchangeRejected        ExchangeStatus = "EXCHANGE_REJECTED"
	ExchangeCollecting      ExchangeStatus = "EXCHANGE_COLLECTING"
	ExchangeReturnCompleted ExchangeStatus = "EXCHANGE_RETURN_COMPLETED"
	ExchangeShipping        ExchangeStatus = "EXCHANGE_SHIPPING"
	Exchanged               ExchangeStatus = "EXCHANGED"
)

// ReturnStatus mirrors the exchange collection leg for plain returns.
type ReturnStatus string

const (
	ReturnRequested  ReturnStatus = "RETURN_REQUESTED"
	ReturnApproved   ReturnStatus = "RETURN_APPROVED"
	ReturnRejected   ReturnStatus = "RETURN_REJECTED"
	ReturnCollecting ReturnStatus = "RETURN_COLLECTING"
	ReturnCompleted  ReturnStatus = "RETURN_COMPLETED"
)

// OrderExchange is the saga aggregate for swapping an ordered item. Other
// services reference it by id only; its history lives in TrackingHistory
// rows, never inline.
type OrderExchange struct {
	ID       int64  `json:"id,string"`
	OrderID  int64  `json:"order_id,string"`
	SKU      string `json:"sku"`
	NewSKU   string `json:"new_sku"`
	Quantity int    `json:"quantity"`

	Status       ExchangeStatus `json:"status"`
	RejectReason string         `json:"reject_reason,omitempty"`

	// Collection leg: picking the original item up from the customer.
	CollectionCarrier    string `json:"collection_carrier"`
	CollectionTrackingNo string `json:"collection_tracking_no"`

	// Shipping leg: delivering the replacement. Populated when the
	// replacement ships.
	ShippingCarrier    string `json:"shipping_carrier,omitempty"`
	ShippingTrackingNo string `json:"shipping_tracking_no,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewExchange(orderID int64, sku, newSKU string, quantity int) *OrderExchange {
	now := time.Now().UTC()
	return &OrderExchange{
		OrderID:   orderID,
		SKU:       sku,
		NewSKU:    newSKU,
		Quantity:  quantity,
		Status:    ExchangeRequested,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (e *OrderExchange) Approve(carrier, trackingNo string) error {
	if e.Status != ExchangeRequested {
		return ErrInvalidTransition
	}
	e.Status = ExchangeApproved
	e.CollectionCarrier = carrier
	e.CollectionTrackingNo = trackingNo
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (e *OrderExchange) Reject(reason string) error {
	if e.Status != ExchangeRequested {
		return ErrInvalidTransition
	}
	e.Status = ExchangeRejected
	e.RejectReason = reason
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (e *OrderExchange) MarkCollecting() error {
	if e.Status != ExchangeApproved && e.Status != ExchangeCollecting {
		return ErrInvalidTransition
	}
	e.Status = ExchangeCollecting
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (e *OrderExchange) CompleteReturn() error {
	if e.Status != ExchangeApproved && e.Status != ExchangeCollecting {
		return ErrInvalidTransition
	}
	e.Status = ExchangeReturnCompleted
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// Ship starts the shipping leg once the collected item is back.
func (e *OrderExchange) Ship(carrier, trackingNo string) error {
	if e.Status != ExchangeReturnCompleted {
		return ErrInvalidTransition
	}
	e.Status = ExchangeShipping
	e.ShippingCarrier = carrier
	e.ShippingTrackingNo = trackingNo
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (e *OrderExchange) Complete() error {
	if e.Status != ExchangeShipping {
		return ErrInvalidTransition
	}
	e.Status = Exchanged
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// OnCollectionLeg reports whether the tracker should poll the collection
// tracking number for this exchange.
func (e *OrderExchange) OnCollectionLeg() bool {
	return e.Status == ExchangeApproved || e.Status == ExchangeCollecting
}

// OnShippingLeg reports whether the tracker should poll the shipping
// tracking number.
func (e *OrderExchange) OnShippingLeg() bool {
	return e.Status == ExchangeShipping
}

// OrderReturn is the saga aggregate for sending an item back for refund.
type OrderReturn struct {
	ID       int64  `json:"id,string"`
	OrderID  int64  `json:"order_id,string"`
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`

	Status       ReturnStatus `json:"status"`
	RejectReason string       `json:"reject_reason,omitempty"`

	CollectionCarrier    string `json:"collection_carrier"`
	CollectionTrackingNo string `json:"collection_tracking_no"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewReturn(orderID int64, sku string, quantity int) *OrderReturn {
	now := time.Now().UTC()
	return &OrderReturn{
		OrderID:   orderID,
		SKU:       sku,
		Quantity:  quantity,
		Status:    ReturnRequested,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *OrderReturn) Approve(carrier, trackingNo string) error {
	if r.Status != ReturnRequested {
		return ErrInvalidTransition
	}
	r.Status = ReturnApproved
	r.CollectionCarrier = carrier
	r.CollectionTrackingNo = trackingNo
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *OrderReturn) Reject(reason string) error {
	if r.Status != ReturnRequested {
		return ErrInvalidTransition
	}
	r.Status = ReturnRejected
	r.RejectReason = reason
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *OrderReturn) MarkCollecting() error {
	if r.Status != ReturnApproved && r.Status != ReturnCollecting {
		return ErrInvalidTransition
	}
	r.Status = ReturnCollecting
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *OrderReturn) Complete() error {
	if r.Status != ReturnApproved && r.Status != ReturnCollecting {
		return ErrInvalidTransition
	}
	r.Status = ReturnCompleted
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *OrderReturn) Active() bool {
	return r.Status == ReturnApproved || r.Status == ReturnCollecting
}

// ShippingStatus tracks one outbound replacement shipment.
type ShippingStatus string

const (
	ShippingInProgress ShippingStatus = "SHIPPING"
	ShippingDelivered  ShippingStatus = "DELIVERED"
)

// OrderShipping records the replacement shipment created when an exchange
// enters its shipping leg. Kept separate from the exchange so one aggregate
// can ship more than once (lost parcel, split shipment).
type OrderShipping struct {
	ID         int64          `json:"id,string"`
	ExchangeID int64          `json:"exchange_id,string"`
	OrderID    int64          `json:"order_id,string"`
	Carrier    string         `json:"carrier"`
	TrackingNo string         `json:"tracking_no"`
	Status     ShippingStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func NewShipping(exchangeID, orderID int64, carrier, trackingNo string) *OrderShipping {
	now := time.Now().UTC()
	return &OrderShipping{
		ExchangeID: exchangeID,
		OrderID:    orderID,
		Carrier:    carrier,
		TrackingNo: trackingNo,
		Status:     ShippingInProgress,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *OrderShipping) MarkDelivered() {
	s.Status = ShippingDelivered
	s.UpdatedAt = time.Now().UTC()
}
