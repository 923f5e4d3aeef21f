package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type Status string

const (
	// StatusSuccess means the domain effect was applied exactly once.
	StatusSuccess Status = "SUCCESS"
	// StatusDuplicate marks both redundant redeliveries and
	// duplicate-with-business-conflict outcomes. Whether operators should be
	// alerted on the business-conflict flavor is an open product question;
	// keeping it distinct from SUCCESS and FAILED preserves that choice.
	StatusDuplicate Status = "DUPLICATE"
)

// ProcessedEvent records that an event identity has been durably applied.
// Its unique index on event_id is the final arbiter when two consumers race
// on the same delivery.
type ProcessedEvent struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	EventID     string `gorm:"type:varchar(200);not null;uniqueIndex"`
	EventType   string `gorm:"type:varchar(100);not null"`
	Status      Status `gorm:"type:varchar(20);not null"`
	ProcessedAt time.Time
	UpdatedAt   time.Time
}

func (ProcessedEvent) TableName() string {
	return "processed_events"
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ExistsTx reports whether the event identity has already been applied.
func (s *Store) ExistsTx(tx *gorm.DB, eventID string) (bool, error) {
	var count int64
	if err := tx.Model(&ProcessedEvent{}).Where("event_id = ?", eventID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("ledger: lookup %s: %w", eventID, err)
	}
	return count > 0, nil
}

// RecordTx inserts the ledger entry inside the caller's transaction, so the
// domain effect and its "already applied" marker commit atomically.
func (s *Store) RecordTx(tx *gorm.DB, eventID, eventType string, status Status) error {
	now := time.Now().UTC()
	entry := ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		Status:      status,
		ProcessedAt: now,
		UpdatedAt:   now,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("ledger: record %s: %w", eventID, err)
	}
	return nil
}

// MarkDuplicate flips an existing entry to DUPLICATE so redelivered events
// leave an audit trail without re-applying effects.
func (s *Store) MarkDuplicate(tx *gorm.DB, eventID string) error {
	return tx.Model(&ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"status":     StatusDuplicate,
			"updated_at": time.Now().UTC(),
		}).Error
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation. On the ledger insert this means another consumer won the race
// and the event must be treated as already processed, not as a failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
