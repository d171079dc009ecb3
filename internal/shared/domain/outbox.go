package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "PENDING"
	OutboxProcessing OutboxStatus = "PROCESSING"
	OutboxProcessed  OutboxStatus = "PROCESSED"
	OutboxFailed     OutboxStatus = "FAILED"
)

// OutboxEvent representa un evento pendiente de publicar en el broker.
type OutboxEvent struct {
	ID            uuid.UUID    `json:"id"`
	AggregateType string       `json:"aggregate_type"` // ej. "order", "product"
	AggregateID   string       `json:"aggregate_id"`
	EventType     string       `json:"event_type"` // ej. "order.created"
	Payload       interface{}  `json:"payload"`    // JSON serializable; json.RawMessage al leer de BD
	Status        OutboxStatus `json:"status"`
	RetryCount    int          `json:"retry_count"`
	LastError     string       `json:"last_error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// NewOutboxEvent construye la fila a partir de un payload tipado del vocabulario de eventos.
func NewOutboxEvent(aggregateType, aggregateID string, payload events.Payload) OutboxEvent {
	now := time.Now().UTC()
	return OutboxEvent{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     payload.EventType(),
		Payload:       payload,
		Status:        OutboxPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// OutboxRepository define el contrato que necesita el relay.
// Enqueue no está aquí: se hace dentro de la transacción de cada repositorio de dominio.
type OutboxRepository interface {
	// ResetStale devuelve a PENDING las filas PROCESSING cuyo updated_at es anterior a olderThan.
	ResetStale(ctx context.Context, olderThan time.Time) (int64, error)
	// FetchPending devuelve hasta limit filas PENDING, las más antiguas primero.
	FetchPending(ctx context.Context, limit int) ([]OutboxEvent, error)
	// Lease pasa la fila de PENDING a PROCESSING de forma atómica. ok=false si otro relay ganó.
	Lease(ctx context.Context, id uuid.UUID) (evt *OutboxEvent, ok bool, err error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	// Release devuelve una fila PROCESSING a PENDING sin contar un intento.
	Release(ctx context.Context, id uuid.UUID) error
}

// OutboxAdmin cubre las operaciones manuales sobre filas FAILED.
type OutboxAdmin interface {
	ListFailed(ctx context.Context, limit int) ([]OutboxEvent, error)
	Retry(ctx context.Context, id uuid.UUID) error
}
