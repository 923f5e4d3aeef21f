package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPublish_ClosedConnection(t *testing.T) {
	b := &Broker{cfg: LoadFromEnv(), logger: zap.NewNop()}

	err := b.Publish(context.Background(), Message{Topic: "order.created"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscribe_ClosedConnection(t *testing.T) {
	b := &Broker{cfg: LoadFromEnv(), logger: zap.NewNop()}

	err := b.Subscribe(context.Background(), "order.created", nil)
	assert.ErrorIs(t, err, ErrClosed)
}
