package registration

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orderlanelabs/orderlane/internal/domain"
	"github.com/orderlanelabs/orderlane/internal/domain/account"
	"github.com/orderlanelabs/orderlane/internal/event"
)

type fakeAccounts struct {
	byEmail map[string]*account.AuthUser
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{byEmail: make(map[string]*account.AuthUser)}
}

func (f *fakeAccounts) CreateTx(_ *gorm.DB, user *account.AuthUser) error {
	if _, taken := f.byEmail[user.Email]; taken {
		return fmt.Errorf("account %s already exists: %w", user.Email, domain.ErrConflict)
	}
	f.byEmail[user.Email] = user
	return nil
}

func (f *fakeAccounts) FindByUserID(_ context.Context, userID int64) (*account.AuthUser, error) {
	for _, u := range f.byEmail {
		if u.UserID == userID {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeAccounts) CountByEmail(_ context.Context, email string) (int64, error) {
	if _, ok := f.byEmail[email]; ok {
		return 1, nil
	}
	return 0, nil
}

func TestHandleUserRegistered_CreatesAccount(t *testing.T) {
	repo := newFakeAccounts()
	uc := New(repo, zap.NewNop())

	err := uc.HandleUserRegistered(context.Background(), nil, event.UserRegistered{
		UserID: 1,
		Email:  "a@example.com",
	})
	require.NoError(t, err)

	require.Len(t, repo.byEmail, 1)
	assert.Equal(t, int64(1), repo.byEmail["a@example.com"].UserID)
}

func TestHandleUserRegistered_TakenEmailIsBusinessConflict(t *testing.T) {
	repo := newFakeAccounts()
	uc := New(repo, zap.NewNop())

	require.NoError(t, uc.HandleUserRegistered(context.Background(), nil, event.UserRegistered{
		UserID: 1,
		Email:  "a@example.com",
	}))

	err := uc.HandleUserRegistered(context.Background(), nil, event.UserRegistered{
		UserID: 2,
		Email:  "a@example.com",
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Len(t, repo.byEmail, 1)
}

func TestHandleUserRegistered_RejectsWrongPayload(t *testing.T) {
	uc := New(newFakeAccounts(), zap.NewNop())

	err := uc.HandleUserRegistered(context.Background(), nil, event.OrderCreated{})
	assert.Error(t, err)
}
