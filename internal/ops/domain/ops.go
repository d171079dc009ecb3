package domain

import (
	"context"
	"errors"
	"time"
)

// DeadLetterRecord es un mensaje rechazado archivado para inspección y replay.
type DeadLetterRecord struct {
	ID          string     `json:"id"`
	EventID     string     `json:"eventId"`
	EventType   string     `json:"eventType"`
	RoutingKey  string     `json:"routingKey"`
	Queue       string     `json:"queue"`
	Reason      string     `json:"reason"`
	DeathCount  int64      `json:"deathCount"`
	Body        string     `json:"body"`
	DeadAt      time.Time  `json:"deadAt"`
	ArchivedAt  time.Time  `json:"archivedAt"`
	ReplayedAt  *time.Time `json:"replayedAt,omitempty"`
	ReplayCount int        `json:"replayCount"`
}

type DeadLetterFilter struct {
	Queue     string
	EventType string
	// Replayed nil = todos.
	Replayed *bool
}

type DeadLetterStore interface {
	Insert(ctx context.Context, rec DeadLetterRecord) error
	// List devuelve los más recientes primero y el total que cumple el filtro.
	List(ctx context.Context, filter DeadLetterFilter, offset, limit int) ([]DeadLetterRecord, int, error)
	Get(ctx context.Context, id string) (*DeadLetterRecord, error)
	MarkReplayed(ctx context.Context, id string, at time.Time) error
}

// AuditEntry es una fila del log de la saga.
type AuditEntry struct {
	EventID     string    `json:"eventId"`
	EventType   string    `json:"eventType"`
	AggregateID string    `json:"aggregateId"`
	OrderID     string    `json:"orderId"`
	OccurredAt  time.Time `json:"occurredAt"`
	RecordedAt  time.Time `json:"recordedAt"`
	Data        string    `json:"data"`
}

type AuditStore interface {
	InsertBatch(ctx context.Context, entries []AuditEntry) error
	// Timeline devuelve los eventos de un pedido en orden cronológico.
	Timeline(ctx context.Context, orderID string) ([]AuditEntry, error)
}

var (
	ErrDeadLetterNotFound = errors.New("dead letter not found")
	ErrUnknownService     = errors.New("unknown outbox service")
	ErrAuditDisabled      = errors.New("audit log disabled")
)
