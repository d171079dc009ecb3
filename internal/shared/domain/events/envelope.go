package events

import (
	"encoding/json"
	"time"
)

// Envelope es la forma en el cable de todos los eventos de integración.
// EventID se reutiliza como messageId del broker.
type Envelope struct {
	EventID     string          `json:"eventId"`
	EventType   string          `json:"eventType"`
	AggregateID string          `json:"aggregateId"`
	Timestamp   time.Time       `json:"timestamp"`
	Data        json.RawMessage `json:"data"`
}

// Event es un Envelope ya decodificado a su payload tipado.
type Event struct {
	Envelope
	Payload Payload
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func UnmarshalEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
