package events

import (
	"encoding/json"
	"fmt"
)

type decoder func(data json.RawMessage) (Payload, error)

var registry = map[string]decoder{}

func register[T Payload]() {
	var zero T
	registry[zero.EventType()] = func(data json.RawMessage) (Payload, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

func init() {
	register[OrderCreatedData]()
	register[OrderCancelledData]()
	register[OrderDeliveredData]()
	register[OrderPaidData]()
	register[PaymentIntentCreatedData]()
	register[PaymentIntentFailedData]()
	register[ProductCreatedData]()
	register[ProductUpdatedData]()
	register[ProductDeletedData]()
	register[StockChangedData]()
	register[StockReservedData]()
	register[StockFailedData]()
	register[InvoiceGeneratedData]()
	register[UserRegisteredData]()
	register[UserVerifiedData]()
}

// Known indica si el tipo de evento pertenece al vocabulario.
func Known(eventType string) bool {
	_, ok := registry[eventType]
	return ok
}

// Decode convierte el Envelope en su payload tipado (valor, no puntero) y lo valida.
func Decode(env Envelope) (Payload, error) {
	decode, ok := registry[env.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.EventType)
	}

	payload, err := decode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.EventType, err)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}
