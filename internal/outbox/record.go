package outbox

import (
	"fmt"
	"time"

	"github.com/orderlanelabs/orderlane/internal/event"
	"github.com/orderlanelabs/orderlane/pkg/snowflake"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPublished Status = "PUBLISHED"
	StatusFailed    Status = "FAILED"
)

// Record is a durable outbox entry, written in the same local transaction as
// the domain mutation that produced it. The payload is serialized exactly
// once here; the publisher re-uses it verbatim. A record moves
// PENDING->PUBLISHED or PENDING->FAILED exactly once, and FAILED records are
// only ever reset by an explicit operator action.
type Record struct {
	ID            int64  `gorm:"primaryKey"`
	AggregateType string `gorm:"type:varchar(100);not null"`
	AggregateID   string `gorm:"type:varchar(100);not null"`
	EventType     string `gorm:"type:varchar(100);not null"`
	Payload       string `gorm:"type:jsonb;not null"`
	Status        Status `gorm:"type:varchar(20);not null;index"`
	LastError     string `gorm:"type:text"`
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

func (Record) TableName() string {
	return "outbox_records"
}

// NewRecord builds a pending record from a typed event payload.
func NewRecord(node *snowflake.Node, payload event.Payload) (*Record, error) {
	raw, err := event.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("outbox: encode %s: %w", payload.EventType(), err)
	}

	return &Record{
		ID:            node.GenerateID(),
		AggregateType: payload.AggregateType(),
		AggregateID:   payload.AggregateID(),
		EventType:     string(payload.EventType()),
		Payload:       string(raw),
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// MessageKey is the broker message key for this record.
func (r *Record) MessageKey() string {
	return r.AggregateType + "-" + r.AggregateID
}
