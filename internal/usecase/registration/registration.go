package registration

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orderlanelabs/orderlane/internal/consumer"
	"github.com/orderlanelabs/orderlane/internal/domain/account"
	"github.com/orderlanelabs/orderlane/internal/event"
)

// UseCase creates local auth accounts from user.registered events. The email
// unique index is the interesting part: a taken email surfaces as a business
// conflict, which the consumer ledgers as a duplicate instead of retrying.
type UseCase struct {
	repo   account.Repository
	logger *zap.Logger
}

func New(repo account.Repository, logger *zap.Logger) *UseCase {
	return &UseCase{repo: repo, logger: logger.Named("registration")}
}

func (uc *UseCase) Register(c *consumer.Consumer) {
	c.Handle(event.TypeUserRegistered, uc.HandleUserRegistered)
}

func (uc *UseCase) HandleUserRegistered(ctx context.Context, tx *gorm.DB, p event.Payload) error {
	registered, ok := p.(event.UserRegistered)
	if !ok {
		return fmt.Errorf("registration: unexpected payload %T", p)
	}

	user := account.NewAuthUser(registered.UserID, registered.Email)
	if err := uc.repo.CreateTx(tx, user); err != nil {
		return err
	}

	uc.logger.Info("auth_user_created",
		zap.Int64("user_id", registered.UserID),
		zap.String("email", registered.Email),
	)
	return nil
}
