package bus

import (
	"context"
	"errors"
	"time"

	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

var (
	ErrBusClosed       = errors.New("event bus closed")
	ErrUnknownQueue    = errors.New("queue not declared")
	ErrBusUnavailable  = errors.New("event bus unavailable")
	ErrPublishNacked   = errors.New("publish not confirmed by broker")
	ErrInvalidBinding  = errors.New("subscription needs a queue and at least one routing key")
	ErrAlreadyConsumed = errors.New("queue already has a consumer")
)

// Handler procesa un evento ya decodificado. Cualquier error manda el mensaje a la DLQ.
type Handler func(ctx context.Context, evt events.Event) error

// Subscription describe una cola durable y sus bindings (admiten '*' y '#').
type Subscription struct {
	Queue       string
	RoutingKeys []string
	// Prefetch es el número de mensajes en vuelo y de goroutines del handler. 0 = valor por defecto.
	Prefetch int
}

func (s Subscription) validate() error {
	if s.Queue == "" || len(s.RoutingKeys) == 0 {
		return ErrInvalidBinding
	}
	return nil
}

func (s Subscription) prefetch(def int) int {
	if s.Prefetch > 0 {
		return s.Prefetch
	}
	if def > 0 {
		return def
	}
	return 1
}

// Publisher es lo único que necesita el relay.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env events.Envelope) error
}

// QueuePublisher entrega un envelope a una sola cola, sin pasar por los bindings del
// exchange. routingKey viaja con el mensaje como clave original.
type QueuePublisher interface {
	PublishToQueue(ctx context.Context, queue, routingKey string, env events.Envelope) error
}

// La semántica de exchange/topic y el formato en el cable los deciden los adapters.
type EventBus interface {
	Publisher
	// Subscribe declara la cola y arranca sus consumidores; vuelve en cuanto están listos.
	// Los consumidores paran al cancelar ctx o al cerrar el bus.
	Subscribe(ctx context.Context, sub Subscription, handler Handler) error
	Close() error
}

// DeadLetter es un mensaje que algún consumidor rechazó.
type DeadLetter struct {
	EventID    string
	EventType  string
	RoutingKey string
	Queue      string
	Reason     string
	DeathCount int64
	Body       []byte
	DeadAt     time.Time
}

type DeadLetterHandler func(ctx context.Context, dl DeadLetter) error

// DeadLetterSource expone la DLQ compartida para archivarla.
type DeadLetterSource interface {
	ConsumeDeadLetters(ctx context.Context, handler DeadLetterHandler) error
}

type HealthState int32

const (
	HealthConnected HealthState = iota
	HealthReconnecting
	HealthDisconnected
)

func (h HealthState) String() string {
	switch h {
	case HealthConnected:
		return "connected"
	case HealthReconnecting:
		return "reconnecting"
	case HealthDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// HealthReporter lo implementan los drivers con estado de conexión.
type HealthReporter interface {
	HealthState() HealthState
}
