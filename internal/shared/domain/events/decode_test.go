package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelopeFor(t *testing.T, eventType string, data interface{}) Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return Envelope{EventID: "evt-1", EventType: eventType, AggregateID: "agg-1", Timestamp: time.Now().UTC(), Data: raw}
}

func TestDecode_OrderCreated(t *testing.T) {
	env := envelopeFor(t, OrderCreated, map[string]interface{}{
		"orderId":     "o-1",
		"userId":      "u-1",
		"totalAmount": 20.5,
		"items": []map[string]interface{}{
			{"productId": "p-1", "price": "10.25", "quantity": 2},
		},
	})

	payload, err := Decode(env)
	require.NoError(t, err)

	evt, ok := payload.(OrderCreatedData)
	require.True(t, ok)
	assert.Equal(t, "o-1", evt.OrderID)
	assert.True(t, decimal.RequireFromString("20.5").Equal(evt.TotalAmount))
	assert.True(t, decimal.RequireFromString("10.25").Equal(evt.Items[0].Price))
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode(Envelope{EventType: "user.forgot_password", Data: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrUnknownEventType)
	assert.False(t, Known("user.forgot_password"))
}

func TestDecode_MalformedPayload(t *testing.T) {
	_, err := Decode(Envelope{EventType: ProductStockFailed, Data: json.RawMessage(`"not an object"`)})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecode_SchemaCheck(t *testing.T) {
	// Un pedido sin líneas no es un order.created válido.
	env := envelopeFor(t, OrderCreated, map[string]interface{}{"orderId": "o-1", "userId": "u-1"})
	_, err := Decode(env)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	env = envelopeFor(t, ProductStockChanged, map[string]interface{}{"id": "p-1", "stockQuantity": -1})
	_, err = Decode(env)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDecode_EveryRegisteredTypeRoundTripsItsName(t *testing.T) {
	for eventType := range registry {
		_, err := Decode(Envelope{EventType: eventType, Data: json.RawMessage(`{}`)})
		// Con datos vacíos todos fallan la validación, nunca por tipo desconocido.
		assert.False(t, errors.Is(err, ErrUnknownEventType), eventType)
	}
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("db down")

	assert.True(t, IsRetryable(Retryable(base)))
	assert.True(t, IsFatal(Fatal(base)))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", Retryable(base))))
	assert.ErrorIs(t, Retryable(base), base)
	assert.Nil(t, Retryable(nil))

	assert.Equal(t, "retryable", Classify(Retryable(base)))
	assert.Equal(t, "fatal", Classify(Fatal(base)))
	assert.Equal(t, "unexpected", Classify(base))
	assert.Equal(t, "ok", Classify(nil))
}
