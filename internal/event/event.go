package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Type identifies a domain event. Each type maps 1:1 to a broker topic.
// The set is closed: dispatch is an exhaustive switch and an unknown type is
// a producer/consumer deployment mismatch, never something to drop silently.
type Type string

const (
	TypeOrderCreated       Type = "order.created"
	TypeStockRejected      Type = "stock.rejected"
	TypePaymentCancelled   Type = "payment.cancelled"
	TypeInventoryDecrease  Type = "inventory.decrease"
	TypeExchangeCollecting Type = "exchange.collecting"
	TypeExchangeCompleted  Type = "exchange.completed"
	TypeReturnApproved     Type = "return.approved"
	TypeReturnCompleted    Type = "return.completed"
	TypeUserRegistered     Type = "user.registered"
)

// ErrUnknownType signals a schema mismatch between producer and consumer.
var ErrUnknownType = errors.New("unknown event type")

// Topic returns the broker topic carrying this event type.
func (t Type) Topic() string {
	return string(t)
}

func (t Type) IsValid() bool {
	switch t {
	case TypeOrderCreated, TypeStockRejected, TypePaymentCancelled,
		TypeInventoryDecrease, TypeExchangeCollecting, TypeExchangeCompleted,
		TypeReturnApproved, TypeReturnCompleted, TypeUserRegistered:
		return true
	default:
		return false
	}
}

// Payload is one member of the closed event union.
type Payload interface {
	EventType() Type
	// AggregateType and AggregateID identify the owning aggregate; together
	// they form the broker message key that preserves per-aggregate ordering.
	AggregateType() string
	AggregateID() string
	// BusinessKey feeds the consumer-side dedup key.
	BusinessKey() string
}

type OrderLine struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type OrderCreated struct {
	OrderID int64       `json:"order_id,string"`
	Lines   []OrderLine `json:"lines"`
}

func (OrderCreated) EventType() Type       { return TypeOrderCreated }
func (OrderCreated) AggregateType() string { return "Order" }
func (e OrderCreated) AggregateID() string { return formatID(e.OrderID) }
func (e OrderCreated) BusinessKey() string { return formatID(e.OrderID) }

type StockRejected struct {
	OrderID int64  `json:"order_id,string"`
	SKU     string `json:"sku"`
	Reason  string `json:"reason"`
}

func (StockRejected) EventType() Type       { return TypeStockRejected }
func (StockRejected) AggregateType() string { return "Order" }
func (e StockRejected) AggregateID() string { return formatID(e.OrderID) }
func (e StockRejected) BusinessKey() string { return formatID(e.OrderID) }

type PaymentCancelled struct {
	OrderID   int64  `json:"order_id,string"`
	PaymentID string `json:"payment_id"`
}

func (PaymentCancelled) EventType() Type       { return TypePaymentCancelled }
func (PaymentCancelled) AggregateType() string { return "Order" }
func (e PaymentCancelled) AggregateID() string { return formatID(e.OrderID) }
func (e PaymentCancelled) BusinessKey() string { return formatID(e.OrderID) }

type InventoryDecrease struct {
	ExchangeID int64  `json:"exchange_id,string"`
	SKU        string `json:"sku"`
	Quantity   int    `json:"quantity"`
}

func (InventoryDecrease) EventType() Type       { return TypeInventoryDecrease }
func (InventoryDecrease) AggregateType() string { return "Exchange" }
func (e InventoryDecrease) AggregateID() string { return formatID(e.ExchangeID) }
func (e InventoryDecrease) BusinessKey() string { return formatID(e.ExchangeID) }

type ExchangeCollecting struct {
	ExchangeID int64  `json:"exchange_id,string"`
	TrackingNo string `json:"tracking_no"`
}

func (ExchangeCollecting) EventType() Type       { return TypeExchangeCollecting }
func (ExchangeCollecting) AggregateType() string { return "Exchange" }
func (e ExchangeCollecting) AggregateID() string { return formatID(e.ExchangeID) }
func (e ExchangeCollecting) BusinessKey() string { return formatID(e.ExchangeID) }

type ExchangeCompleted struct {
	ExchangeID int64 `json:"exchange_id,string"`
	OrderID    int64 `json:"order_id,string"`
}

func (ExchangeCompleted) EventType() Type       { return TypeExchangeCompleted }
func (ExchangeCompleted) AggregateType() string { return "Exchange" }
func (e ExchangeCompleted) AggregateID() string { return formatID(e.ExchangeID) }
func (e ExchangeCompleted) BusinessKey() string { return formatID(e.ExchangeID) }

type ReturnApproved struct {
	ReturnID int64 `json:"return_id,string"`
	OrderID  int64 `json:"order_id,string"`
}

func (ReturnApproved) EventType() Type       { return TypeReturnApproved }
func (ReturnApproved) AggregateType() string { return "Return" }
func (e ReturnApproved) AggregateID() string { return formatID(e.ReturnID) }
func (e ReturnApproved) BusinessKey() string { return formatID(e.ReturnID) }

type ReturnCompleted struct {
	ReturnID int64 `json:"return_id,string"`
	OrderID  int64 `json:"order_id,string"`
}

func (ReturnCompleted) EventType() Type       { return TypeReturnCompleted }
func (ReturnCompleted) AggregateType() string { return "Return" }
func (e ReturnCompleted) AggregateID() string { return formatID(e.ReturnID) }
func (e ReturnCompleted) BusinessKey() string { return formatID(e.ReturnID) }

type UserRegistered struct {
	UserID int64  `json:"user_id,string"`
	Email  string `json:"email"`
}

func (UserRegistered) EventType() Type       { return TypeUserRegistered }
func (UserRegistered) AggregateType() string { return "User" }
func (e UserRegistered) AggregateID() string { return formatID(e.UserID) }
func (e UserRegistered) BusinessKey() string { return formatID(e.UserID) }

// Encode serializes the payload once, at write time. The outbox row keeps this
// exact representation and the publisher re-uses it verbatim.
func Encode(p Payload) ([]byte, error) {
	if !p.EventType().IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, p.EventType())
	}
	return json.Marshal(p)
}

// Decode maps a raw payload back into its typed member of the union.
func Decode(t Type, raw []byte) (Payload, error) {
	switch t {
	case TypeOrderCreated:
		return decodeInto[OrderCreated](t, raw)
	case TypeStockRejected:
		return decodeInto[StockRejected](t, raw)
	case TypePaymentCancelled:
		return decodeInto[PaymentCancelled](t, raw)
	case TypeInventoryDecrease:
		return decodeInto[InventoryDecrease](t, raw)
	case TypeExchangeCollecting:
		return decodeInto[ExchangeCollecting](t, raw)
	case TypeExchangeCompleted:
		return decodeInto[ExchangeCompleted](t, raw)
	case TypeReturnApproved:
		return decodeInto[ReturnApproved](t, raw)
	case TypeReturnCompleted:
		return decodeInto[ReturnCompleted](t, raw)
	case TypeUserRegistered:
		return decodeInto[UserRegistered](t, raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

func decodeInto[T Payload](t Type, raw []byte) (Payload, error) {
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return payload, nil
}

// DedupKey is the stable consumer-side identity of an event:
// {eventType}:{businessKey}.
func DedupKey(p Payload) string {
	return string(p.EventType()) + ":" + p.BusinessKey()
}

// MessageKey is the broker message key {aggregateType}-{aggregateId} that
// pins all events of one aggregate to one ordered stream.
func MessageKey(p Payload) string {
	return p.AggregateType() + "-" + p.AggregateID()
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
