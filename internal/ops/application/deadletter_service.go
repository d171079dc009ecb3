package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/ops/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedBus "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/bus"
	sharedQuery "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/query"
)

type DeadLetterService struct {
	store     domain.DeadLetterStore
	publisher sharedBus.Publisher
	log       *zap.Logger
}

func NewDeadLetterService(store domain.DeadLetterStore, publisher sharedBus.Publisher, logger *zap.Logger) *DeadLetterService {
	return &DeadLetterService{store: store, publisher: publisher, log: logger.With(zap.String("component", "dlq-archive"))}
}

// Archive es el DeadLetterHandler que se engancha a la DLQ del bus.
func (s *DeadLetterService) Archive(ctx context.Context, dl sharedBus.DeadLetter) error {
	rec := domain.DeadLetterRecord{
		ID:         uuid.NewString(),
		EventID:    dl.EventID,
		EventType:  dl.EventType,
		RoutingKey: dl.RoutingKey,
		Queue:      dl.Queue,
		Reason:     dl.Reason,
		DeathCount: dl.DeathCount,
		Body:       string(dl.Body),
		DeadAt:     dl.DeadAt,
		ArchivedAt: time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return err
	}
	s.log.Warn("☠️ Dead letter archivado",
		zap.String("id", rec.ID),
		zap.String("event_id", rec.EventID),
		zap.String("event_type", rec.EventType),
		zap.String("queue", rec.Queue),
		zap.String("reason", rec.Reason),
	)
	return nil
}

// Consume engancha Archive a la DLQ del bus.
func (s *DeadLetterService) Consume(ctx context.Context, source sharedBus.DeadLetterSource) error {
	return source.ConsumeDeadLetters(ctx, s.Archive)
}

func (s *DeadLetterService) List(ctx context.Context, filter domain.DeadLetterFilter, page sharedQuery.OffsetPagination) ([]domain.DeadLetterRecord, int, error) {
	return s.store.List(ctx, filter, page.Offset, page.Limit)
}

func (s *DeadLetterService) Get(ctx context.Context, id string) (*domain.DeadLetterRecord, error) {
	return s.store.Get(ctx, id)
}

// Replay entrega el envelope original sólo a la cola que lo rechazó. Si el publisher no
// sabe apuntar a una cola, o el registro no la trae, se publica en el exchange y llega a
// todas las colas enlazadas a la routing key.
// El eventId se conserva: los consumidores idempotentes lo tratan como una redelivery.
func (s *DeadLetterService) Replay(ctx context.Context, id string) (*domain.DeadLetterRecord, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	env, err := events.UnmarshalEnvelope([]byte(rec.Body))
	if err != nil {
		return nil, fmt.Errorf("dead letter %s has no valid envelope: %w", id, err)
	}
	routingKey := rec.RoutingKey
	if routingKey == "" {
		routingKey = env.EventType
	}

	if err := s.republish(ctx, rec, routingKey, env); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := s.store.MarkReplayed(ctx, id, now); err != nil {
		return nil, err
	}
	s.log.Info("🔁 Dead letter re-publicado", zap.String("id", id), zap.String("queue", rec.Queue), zap.String("routing_key", routingKey))
	return s.store.Get(ctx, id)
}

func (s *DeadLetterService) republish(ctx context.Context, rec *domain.DeadLetterRecord, routingKey string, env events.Envelope) error {
	if qp, ok := s.publisher.(sharedBus.QueuePublisher); ok && rec.Queue != "" {
		return qp.PublishToQueue(ctx, rec.Queue, routingKey, env)
	}
	s.log.Warn("⚠️ Replay sin cola destino, se publica a todos los bindings",
		zap.String("id", rec.ID), zap.String("routing_key", routingKey))
	return s.publisher.Publish(ctx, routingKey, env)
}
