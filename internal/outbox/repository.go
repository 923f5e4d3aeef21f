package outbox

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// EnqueueTx appends a record inside the caller's transaction. This is the
// only write path for new records: domain mutation and outbox append commit
// or roll back together.
func (r *Repository) EnqueueTx(tx *gorm.DB, rec *Record) error {
	if err := tx.Create(rec).Error; err != nil {
		return fmt.Errorf("outbox: enqueue %s for %s-%s: %w",
			rec.EventType, rec.AggregateType, rec.AggregateID, err)
	}
	return nil
}

// ListPendingTx returns PENDING records in creation order, locking them for
// the duration of the sweep transaction so two sweeps that slipped past the
// cluster lock still cannot double-send.
func (r *Repository) ListPendingTx(tx *gorm.DB, limit int) ([]Record, error) {
	var records []Record
	err := tx.Raw(
		`SELECT * FROM outbox_records
		 WHERE status = ?
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		StatusPending, limit,
	).Scan(&records).Error
	if err != nil {
		return nil, fmt.Errorf("outbox: list pending: %w", err)
	}
	return records, nil
}

// MarkPublishedTx transitions a record PENDING->PUBLISHED.
func (r *Repository) MarkPublishedTx(tx *gorm.DB, id int64, at time.Time) error {
	return tx.Model(&Record{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{
			"status":       StatusPublished,
			"published_at": at,
			"last_error":   "",
		}).Error
}

// MarkFailedTx transitions a record PENDING->FAILED. Failed records are
// skipped by subsequent sweeps; re-publishing is an operator decision.
func (r *Repository) MarkFailedTx(tx *gorm.DB, id int64, cause error) error {
	return tx.Model(&Record{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{
			"status":     StatusFailed,
			"last_error": cause.Error(),
		}).Error
}

// Republish resets a FAILED record to PENDING so the next sweep picks it up.
// It reports whether a record was actually reset.
func (r *Repository) Republish(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&Record{}).
		Where("id = ? AND status = ?", id, StatusFailed).
		Updates(map[string]any{
			"status":     StatusPending,
			"last_error": "",
		})
	if result.Error != nil {
		return false, fmt.Errorf("outbox: republish %d: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListByStatus is the ops listing used by the admin surface.
func (r *Repository) ListByStatus(ctx context.Context, status Status, limit int) ([]Record, error) {
	var records []Record
	query := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("outbox: list %s records: %w", status, err)
	}
	return records, nil
}
