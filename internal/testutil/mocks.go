package testutil

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

// MockOutboxRepository simula el repositorio que usa el relay.
type MockOutboxRepository struct {
	mock.Mock
}

var _ sharedDomain.OutboxRepository = (*MockOutboxRepository)(nil)

func (m *MockOutboxRepository) ResetStale(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOutboxRepository) FetchPending(ctx context.Context, limit int) ([]sharedDomain.OutboxEvent, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]sharedDomain.OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) Lease(ctx context.Context, id uuid.UUID) (*sharedDomain.OutboxEvent, bool, error) {
	args := m.Called(ctx, id)
	evt, _ := args.Get(0).(*sharedDomain.OutboxEvent)
	return evt, args.Bool(1), args.Error(2)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return m.Called(ctx, id, reason).Error(0)
}

func (m *MockOutboxRepository) Release(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

// MockPublisher simula el bus en el lado de publicación.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, routingKey string, env events.Envelope) error {
	return m.Called(ctx, routingKey, env).Error(0)
}
