package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/orderlanelabs/orderlane/internal/domain"
	"github.com/orderlanelabs/orderlane/internal/domain/account"
)

type AuthUserModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserID    int64  `gorm:"uniqueIndex"`
	Email     string `gorm:"type:varchar(255);uniqueIndex"`
	CreatedAt time.Time
}

func (AuthUserModel) TableName() string {
	return "auth_users"
}

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// CreateTx inserts the user. A unique violation on email or user id means the
// account already exists for some other reason, which is a business conflict
// that retrying can never resolve.
func (r *AccountRepository) CreateTx(tx *gorm.DB, user *account.AuthUser) error {
	model := AuthUserModel{
		UserID:    user.UserID,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	}
	if err := tx.Create(&model).Error; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("account %s already exists: %w", user.Email, domain.ErrConflict)
		}
		return err
	}
	user.ID = model.ID
	return nil
}

func (r *AccountRepository) FindByUserID(ctx context.Context, userID int64) (*account.AuthUser, error) {
	var model AuthUserModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account.AuthUser{
		ID:        model.ID,
		UserID:    model.UserID,
		Email:     model.Email,
		CreatedAt: model.CreatedAt,
	}, nil
}

func (r *AccountRepository) CountByEmail(ctx context.Context, email string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&AuthUserModel{}).Where("email = ?", email).Count(&count).Error
	return count, err
}
