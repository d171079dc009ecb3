package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/ops/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/ops/infra/outbound/memory"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedBus "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/bus"
	sharedQuery "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/query"
	"github.com/tomarrohitt/e-commerce-sub000/internal/testutil"
)

func envelopeFor(t *testing.T, payload events.Payload, aggregateID string) events.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return events.Envelope{
		EventID:     uuid.NewString(),
		EventType:   payload.EventType(),
		AggregateID: aggregateID,
		Timestamp:   time.Now().UTC(),
		Data:        data,
	}
}

func deadLetterOf(t *testing.T, env events.Envelope, routingKey, queue string) sharedBus.DeadLetter {
	t.Helper()
	body, err := env.Marshal()
	require.NoError(t, err)
	return sharedBus.DeadLetter{
		EventID:    env.EventID,
		EventType:  env.EventType,
		RoutingKey: routingKey,
		Queue:      queue,
		Reason:     "fatal: boom",
		DeathCount: 1,
		Body:       body,
		DeadAt:     time.Now().UTC(),
	}
}

func TestDeadLetterService_ArchiveAndList(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDeadLetterStore()
	svc := NewDeadLetterService(store, new(testutil.MockPublisher), zap.NewNop())

	paid := envelopeFor(t, events.OrderPaidData{OrderID: "o-1", UserID: "u-1"}, "o-1")
	failed := envelopeFor(t, events.StockFailedData{OrderID: "o-2", Reason: "Out of Stock"}, "o-2")
	require.NoError(t, svc.Archive(ctx, deadLetterOf(t, paid, events.OrderPaid, "invoice.order-paid")))
	require.NoError(t, svc.Archive(ctx, deadLetterOf(t, failed, events.ProductStockFailed, "orders.saga-reply")))

	all, total, err := svc.List(ctx, domain.DeadLetterFilter{}, sharedQuery.Page(1, 10, 100))
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, all, 2)

	byQueue, total, err := svc.List(ctx, domain.DeadLetterFilter{Queue: "invoice.order-paid"}, sharedQuery.Page(1, 10, 100))
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, paid.EventID, byQueue[0].EventID)
	assert.Equal(t, events.OrderPaid, byQueue[0].EventType)

	got, err := svc.Get(ctx, byQueue[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "fatal: boom", got.Reason)
	assert.Nil(t, got.ReplayedAt)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrDeadLetterNotFound)
}

func TestDeadLetterService_ReplayKeepsEventID(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDeadLetterStore()
	pub := new(testutil.MockPublisher)
	svc := NewDeadLetterService(store, pub, zap.NewNop())

	env := envelopeFor(t, events.OrderPaidData{OrderID: "o-1", UserID: "u-1"}, "o-1")
	require.NoError(t, svc.Archive(ctx, deadLetterOf(t, env, events.OrderPaid, "invoice.order-paid")))
	recs, _, err := svc.List(ctx, domain.DeadLetterFilter{}, sharedQuery.Page(1, 10, 100))
	require.NoError(t, err)
	id := recs[0].ID

	pub.On("Publish", mock.Anything, events.OrderPaid, mock.MatchedBy(func(e events.Envelope) bool {
		return e.EventID == env.EventID && e.AggregateID == "o-1"
	})).Return(nil).Twice()

	rec, err := svc.Replay(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec.ReplayedAt)
	assert.Equal(t, 1, rec.ReplayCount)

	rec, err = svc.Replay(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ReplayCount)

	replayed := true
	_, total, err := svc.List(ctx, domain.DeadLetterFilter{Replayed: &replayed}, sharedQuery.Page(1, 10, 100))
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	pub.AssertExpectations(t)
}

func TestDeadLetterService_ReplayFailures(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDeadLetterStore()
	pub := new(testutil.MockPublisher)
	svc := NewDeadLetterService(store, pub, zap.NewNop())

	_, err := svc.Replay(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrDeadLetterNotFound)

	garbage := sharedBus.DeadLetter{Queue: "q", Reason: "malformed envelope", Body: []byte("not json"), DeadAt: time.Now()}
	require.NoError(t, svc.Archive(ctx, garbage))
	recs, _, _ := svc.List(ctx, domain.DeadLetterFilter{}, sharedQuery.Page(1, 10, 100))
	_, err = svc.Replay(ctx, recs[0].ID)
	assert.Error(t, err)

	// Sin routing key se usa el tipo del evento; si el broker falla no se marca.
	env := envelopeFor(t, events.OrderPaidData{OrderID: "o-3", UserID: "u-1"}, "o-3")
	dl := deadLetterOf(t, env, "", "invoice.order-paid")
	require.NoError(t, svc.Archive(ctx, dl))
	recs, _, _ = svc.List(ctx, domain.DeadLetterFilter{EventType: events.OrderPaid}, sharedQuery.Page(1, 10, 100))
	require.Len(t, recs, 1)

	down := errors.New("broker down")
	pub.On("Publish", mock.Anything, events.OrderPaid, mock.Anything).Return(down).Once()
	_, err = svc.Replay(ctx, recs[0].ID)
	assert.ErrorIs(t, err, down)

	got, err := svc.Get(ctx, recs[0].ID)
	require.NoError(t, err)
	assert.Nil(t, got.ReplayedAt)
}

func TestDeadLetterService_ConsumesBusDLQ(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := sharedBus.NewInMemoryEventBus(8, 1, zap.NewNop())
	defer b.Close()

	store := memory.NewDeadLetterStore()
	svc := NewDeadLetterService(store, b, zap.NewNop())
	require.NoError(t, svc.Consume(ctx, b))

	var attempts, notified atomic.Int32
	require.NoError(t, b.Subscribe(ctx, sharedBus.Subscription{Queue: "notification.order-paid", RoutingKeys: []string{events.OrderPaid}},
		func(context.Context, events.Event) error {
			notified.Add(1)
			return nil
		}))
	require.NoError(t, b.Subscribe(ctx, sharedBus.Subscription{Queue: "invoice.order-paid", RoutingKeys: []string{events.OrderPaid}},
		func(context.Context, events.Event) error {
			if attempts.Add(1) == 1 {
				return events.Fatal(errors.New("render failed"))
			}
			return nil
		}))

	env := envelopeFor(t, events.OrderPaidData{OrderID: "o-1", UserID: "u-1"}, "o-1")
	require.NoError(t, b.Publish(ctx, events.OrderPaid, env))

	var archived []domain.DeadLetterRecord
	require.Eventually(t, func() bool {
		archived, _, _ = svc.List(ctx, domain.DeadLetterFilter{}, sharedQuery.Page(1, 10, 100))
		return len(archived) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, env.EventID, archived[0].EventID)
	assert.Equal(t, "invoice.order-paid", archived[0].Queue)

	_, err := svc.Replay(ctx, archived[0].ID)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return attempts.Load() == 2 }, time.Second, 10*time.Millisecond)
	// El replay no vuelve a notificar: sólo la cola que falló lo recibe.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), notified.Load())
}

type queuePublisherMock struct {
	testutil.MockPublisher
}

func (m *queuePublisherMock) PublishToQueue(ctx context.Context, queue, routingKey string, env events.Envelope) error {
	return m.Called(ctx, queue, routingKey, env).Error(0)
}

func TestDeadLetterService_ReplayTargetsSourceQueue(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDeadLetterStore()
	pub := new(queuePublisherMock)
	svc := NewDeadLetterService(store, pub, zap.NewNop())

	env := envelopeFor(t, events.OrderPaidData{OrderID: "o-9", UserID: "u-1"}, "o-9")
	require.NoError(t, svc.Archive(ctx, deadLetterOf(t, env, events.OrderPaid, "invoice.order-paid")))
	recs, _, err := svc.List(ctx, domain.DeadLetterFilter{}, sharedQuery.Page(1, 10, 100))
	require.NoError(t, err)

	pub.On("PublishToQueue", mock.Anything, "invoice.order-paid", events.OrderPaid, mock.MatchedBy(func(e events.Envelope) bool {
		return e.EventID == env.EventID
	})).Return(nil).Once()

	rec, err := svc.Replay(ctx, recs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ReplayCount)
	pub.AssertExpectations(t)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}
