package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RoundTripsTypedPayloads(t *testing.T) {
	original := OrderCreated{
		OrderID: 42,
		Lines:   []OrderLine{{SKU: "SKU-1", Quantity: 2}, {SKU: "SKU-2", Quantity: 1}},
	}

	raw, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(TypeOrderCreated, raw)
	require.NoError(t, err)

	got, ok := decoded.(OrderCreated)
	require.True(t, ok)
	assert.Equal(t, original, got)
}

func TestDecode_UnknownTypeFailsLoud(t *testing.T) {
	_, err := Decode(Type("order.shipped"), []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestDecode_MalformedPayload(t *testing.T) {
	_, err := Decode(TypePaymentCancelled, []byte(`{"order_id":`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownType)
}

func TestMessageKey_PerAggregateOrderingKey(t *testing.T) {
	assert.Equal(t, "Order-1", MessageKey(OrderCreated{OrderID: 1}))
	assert.Equal(t, "Order-1", MessageKey(PaymentCancelled{OrderID: 1}))
	assert.Equal(t, "Exchange-9", MessageKey(InventoryDecrease{ExchangeID: 9}))
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "user.registered:7", DedupKey(UserRegistered{UserID: 7, Email: "a@example.com"}))
	assert.Equal(t, "payment.cancelled:3", DedupKey(PaymentCancelled{OrderID: 3}))
}

func TestTopicDerivation(t *testing.T) {
	assert.Equal(t, "order.created", TypeOrderCreated.Topic())
	assert.Equal(t, "user.registered", TypeUserRegistered.Topic())
}

func TestTypeIsValid_ClosedSet(t *testing.T) {
	for _, typ := range []Type{
		TypeOrderCreated, TypeStockRejected, TypePaymentCancelled,
		TypeInventoryDecrease, TypeExchangeCollecting, TypeExchangeCompleted,
		TypeReturnApproved, TypeReturnCompleted, TypeUserRegistered,
	} {
		assert.True(t, typ.IsValid(), string(typ))
	}
	assert.False(t, Type("order.deleted").IsValid())
}
