package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/ops/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

type fakeAuditStore struct {
	mu      sync.Mutex
	fail    error
	batches [][]domain.AuditEntry
	// during corre dentro de InsertBatch, antes de devolver el resultado.
	during func()
}

func (s *fakeAuditStore) InsertBatch(ctx context.Context, entries []domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.during != nil {
		s.during()
	}
	if s.fail != nil {
		return s.fail
	}
	s.batches = append(s.batches, append([]domain.AuditEntry(nil), entries...))
	return nil
}

func (s *fakeAuditStore) Timeline(ctx context.Context, orderID string) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for _, b := range s.batches {
		for _, e := range b {
			if e.OrderID == orderID {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (s *fakeAuditStore) written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func eventOf(t *testing.T, payload events.Payload, aggregateID string) events.Event {
	return events.Event{Envelope: envelopeFor(t, payload, aggregateID), Payload: payload}
}

func TestEntryFromEvent_OrderID(t *testing.T) {
	fromData := EntryFromEvent(eventOf(t, events.StockReservedData{OrderID: "o-1"}, "o-1"))
	assert.Equal(t, "o-1", fromData.OrderID)
	assert.Equal(t, events.ProductStockReserved, fromData.EventType)

	invoice := EntryFromEvent(eventOf(t, events.InvoiceGeneratedData{OrderID: "o-2", InvoiceURL: "u"}, "o-2"))
	assert.Equal(t, "o-2", invoice.OrderID)

	product := EntryFromEvent(eventOf(t, events.ProductCreatedData{ProductData: events.ProductData{ID: "p-1"}}, "p-1"))
	assert.Empty(t, product.OrderID)
	assert.Equal(t, "p-1", product.AggregateID)
}

func TestAuditRecorder_FlushesFullBatch(t *testing.T) {
	ctx := context.Background()
	store := &fakeAuditStore{}
	r := NewAuditRecorder(store, AuditOptions{BatchSize: 2, FlushInterval: time.Hour}, zap.NewNop())

	require.NoError(t, r.Record(ctx, eventOf(t, events.OrderCreatedData{OrderID: "o-1"}, "o-1")))
	assert.Equal(t, 1, r.Pending())
	assert.Zero(t, store.written())

	require.NoError(t, r.Record(ctx, eventOf(t, events.StockReservedData{OrderID: "o-1"}, "o-1")))
	assert.Zero(t, r.Pending())
	assert.Equal(t, 2, store.written())

	timeline, err := r.Timeline(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.Equal(t, events.OrderCreated, timeline[0].EventType)
}

func TestAuditRecorder_RebuffersOnFailure(t *testing.T) {
	ctx := context.Background()
	store := &fakeAuditStore{fail: errors.New("clickhouse down")}
	r := NewAuditRecorder(store, AuditOptions{BatchSize: 10}, zap.NewNop())

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Record(ctx, eventOf(t, events.OrderCreatedData{OrderID: "o-1"}, "o-1")))
	}
	assert.Zero(t, r.Flush(ctx))
	assert.Equal(t, 3, r.Pending())

	store.mu.Lock()
	store.fail = nil
	store.mu.Unlock()
	assert.Equal(t, 3, r.Flush(ctx))
	assert.Zero(t, r.Pending())
}

func TestAuditRecorder_DropsOldestOverMaxBuffer(t *testing.T) {
	ctx := context.Background()
	store := &fakeAuditStore{fail: errors.New("down")}
	r := NewAuditRecorder(store, AuditOptions{BatchSize: 100, MaxBuffer: 100}, zap.NewNop())

	for i := 0; i < 105; i++ {
		require.NoError(t, r.Record(ctx, eventOf(t, events.OrderCreatedData{OrderID: "o-1"}, "o-1")))
	}
	assert.Equal(t, 100, r.Pending())
}

func TestAuditRecorder_FailedFlushRespectsMaxBuffer(t *testing.T) {
	ctx := context.Background()
	store := &fakeAuditStore{fail: errors.New("clickhouse down")}
	r := NewAuditRecorder(store, AuditOptions{BatchSize: 10, MaxBuffer: 10, FlushInterval: time.Hour}, zap.NewNop())

	record := func(i int) {
		id := fmt.Sprintf("o-%d", i)
		require.NoError(t, r.Record(ctx, eventOf(t, events.OrderCreatedData{OrderID: id}, id)))
	}
	for i := 0; i < 5; i++ {
		record(i)
	}
	// Llegan eventos mientras el lote está en vuelo; al volver al buffer no se supera el tope.
	store.during = func() {
		for i := 5; i < 13; i++ {
			record(i)
		}
	}
	assert.Zero(t, r.Flush(ctx))
	assert.Equal(t, 10, r.Pending())

	store.mu.Lock()
	store.fail, store.during = nil, nil
	store.mu.Unlock()
	require.Equal(t, 10, r.Flush(ctx))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.batches, 1)
	batch := store.batches[0]
	assert.Equal(t, "o-3", batch[0].OrderID)
	assert.Equal(t, "o-12", batch[len(batch)-1].OrderID)
}

func TestAuditRecorder_StopFlushes(t *testing.T) {
	store := &fakeAuditStore{}
	r := NewAuditRecorder(store, AuditOptions{BatchSize: 100, FlushInterval: time.Hour}, zap.NewNop())
	r.Start()
	r.Start()

	require.NoError(t, r.Record(context.Background(), eventOf(t, events.OrderPaidData{OrderID: "o-1"}, "o-1")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	require.NoError(t, r.Stop(ctx))
	assert.Equal(t, 1, store.written())
}

func TestAuditRecorder_PeriodicFlush(t *testing.T) {
	store := &fakeAuditStore{}
	r := NewAuditRecorder(store, AuditOptions{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, zap.NewNop())
	r.Start()
	defer r.Stop(context.Background())

	require.NoError(t, r.Record(context.Background(), eventOf(t, events.OrderPaidData{OrderID: "o-1"}, "o-1")))
	assert.Eventually(t, func() bool { return store.written() == 1 }, time.Second, 10*time.Millisecond)
}
