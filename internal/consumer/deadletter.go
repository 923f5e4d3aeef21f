package consumer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orderlanelabs/orderlane/internal/event"
	"github.com/orderlanelabs/orderlane/pkg/broker"
)

// DeadLetter is the durable copy of a message that exhausted its retries or
// could not be decoded. Rows are kept for manual triage; nothing replays them
// automatically.
type DeadLetter struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	MessageID     string `gorm:"type:varchar(64);index"`
	OriginalTopic string `gorm:"type:varchar(100);not null"`
	EventType     string `gorm:"type:varchar(100)"`
	MessageKey    string `gorm:"type:varchar(200)"`
	BusinessKey   string `gorm:"type:varchar(200);index"`
	Attempt       int
	Exception     string `gorm:"type:text"`
	Payload       string `gorm:"type:jsonb"`
	CorrelationID string `gorm:"type:varchar(64)"`
	ReceivedAt    time.Time
}

func (DeadLetter) TableName() string {
	return "dead_letters"
}

// Recorder subscribes to the .dlt queues and persists everything that
// arrives. It is the loud end of the pipeline: every record is also an
// error-level log carrying the business key so operators can find the
// affected order without opening the payload.
type Recorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewRecorder(db *gorm.DB, logger *zap.Logger) *Recorder {
	return &Recorder{db: db, logger: logger.Named("deadletter")}
}

// Record persists one dead-lettered message. A persistence failure is
// returned so the delivery stays on the queue until the database is back.
func (r *Recorder) Record(ctx context.Context, msg broker.Message) error {
	row := DeadLetter{
		MessageID:     msg.MessageID,
		OriginalTopic: msg.OriginalTopic,
		EventType:     msg.EventType,
		MessageKey:    msg.Key,
		BusinessKey:   businessKey(msg),
		Attempt:       msg.Attempt,
		Exception:     msg.Exception,
		Payload:       string(msg.Body),
		CorrelationID: msg.CorrelationID,
		ReceivedAt:    time.Now().UTC(),
	}
	if row.OriginalTopic == "" {
		row.OriginalTopic = msg.Topic
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("deadletter: persist %s: %w", msg.MessageID, err)
	}

	r.logger.Error("message_dead_lettered",
		zap.String("original_topic", row.OriginalTopic),
		zap.String("event_type", row.EventType),
		zap.String("business_key", row.BusinessKey),
		zap.String("message_id", row.MessageID),
		zap.Int("attempt", row.Attempt),
		zap.String("exception", row.Exception),
	)
	return nil
}

// List returns recent dead letters for the admin API, newest first.
func (r *Recorder) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	var rows []DeadLetter
	err := r.db.WithContext(ctx).
		Order("received_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// businessKey extracts the event's business identity when the payload still
// decodes; dead letters caused by malformed payloads keep an empty key.
func businessKey(msg broker.Message) string {
	t := event.Type(msg.EventType)
	if !t.IsValid() {
		return ""
	}
	p, err := event.Decode(t, msg.Body)
	if err != nil {
		return ""
	}
	return p.BusinessKey()
}
