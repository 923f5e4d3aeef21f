package account

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// AuthUser is the local account row created when a user.registered event
// arrives. Email uniqueness is enforced by the database; the handler maps the
// constraint violation to a business conflict rather than a retryable error.
type AuthUser struct {
	ID        int64     `json:"id,string"`
	UserID    int64     `json:"user_id,string"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func NewAuthUser(userID int64, email string) *AuthUser {
	return &AuthUser{
		UserID:    userID,
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
}

// Repository persists AuthUser rows.
type Repository interface {
	// CreateTx inserts the user; a duplicate email surfaces as an error
	// wrapping domain.ErrConflict.
	CreateTx(tx *gorm.DB, user *AuthUser) error

	FindByUserID(ctx context.Context, userID int64) (*AuthUser, error)
	CountByEmail(ctx context.Context, email string) (int64, error)
}
