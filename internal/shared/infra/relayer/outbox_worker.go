package relayer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedBus "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/bus"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/circuitbreaker"
)

type Options struct {
	Interval     time.Duration
	BatchSize    int
	LeaseTimeout time.Duration
	// Breaker protege la publicación; con el circuito abierto las filas vuelven a PENDING.
	Breaker *circuitbreaker.Breaker
}

// Worker publica los eventos pendientes de una tabla outbox.
type Worker struct {
	name      string
	repo      sharedDomain.OutboxRepository
	publisher sharedBus.Publisher
	opts      Options
	log       *zap.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewOutboxWorker(
	name string,
	repo sharedDomain.OutboxRepository,
	publisher sharedBus.Publisher,
	opts Options,
	log *zap.Logger,
) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = 30 * time.Second
	}
	return &Worker{
		name:      name,
		repo:      repo,
		publisher: publisher,
		opts:      opts,
		log:       log.With(zap.String("component", "relay"), zap.String("outbox", name)),
	}
}

// Start arranca el bucle de polling. Llamarlo dos veces no hace nada.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	go w.loop(w.stop, w.done)
	w.log.Info("🚀 Outbox worker iniciado", zap.Duration("interval", w.opts.Interval))
}

// Stop espera a que termine la iteración en curso; la iteración no se cancela a medias.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
		w.log.Info("🛑 Outbox worker detenido.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.ProcessBatch(context.Background())
		}
	}
}

// ProcessBatch hace una pasada completa: recuperación, lectura, lease y publicación.
// Devuelve cuántos eventos quedaron PROCESSED.
func (w *Worker) ProcessBatch(ctx context.Context) int {
	if n, err := w.repo.ResetStale(ctx, time.Now().Add(-w.opts.LeaseTimeout)); err != nil {
		w.log.Warn("⚠️ Error al recuperar eventos con lease caducado", zap.Error(err))
	} else if n > 0 {
		w.log.Warn("♻️ Eventos con lease caducado devueltos a PENDING", zap.Int64("count", n))
	}

	pending, err := w.repo.FetchPending(ctx, w.opts.BatchSize)
	if err != nil {
		w.log.Warn("⚠️ Error al obtener eventos pendientes", zap.Error(err))
		return 0
	}
	if len(pending) == 0 {
		return 0
	}
	w.log.Debug(fmt.Sprintf("📬 %d eventos encontrados para procesar", len(pending)))

	var processed atomic.Int32
	var g errgroup.Group
	for _, evt := range pending {
		evt := evt
		// Cada evento se aísla: la función nunca devuelve error para no cortar el lote.
		g.Go(func() error {
			if w.relay(ctx, evt.ID) {
				processed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(processed.Load())
}

func (w *Worker) relay(ctx context.Context, id uuid.UUID) bool {
	evt, ok, err := w.repo.Lease(ctx, id)
	if err != nil {
		w.log.Warn("⚠️ No se pudo hacer lease del evento", zap.String("event_id", id.String()), zap.Error(err))
		return false
	}
	if !ok {
		// Otro relay lo tomó antes.
		return false
	}

	fields := []zap.Field{
		zap.String("event_id", evt.ID.String()),
		zap.String("event_type", evt.EventType),
		zap.String("aggregate_id", evt.AggregateID),
	}

	env, err := toEnvelope(*evt)
	if err != nil {
		w.fail(ctx, evt, err, fields)
		return false
	}

	err = w.publish(ctx, evt.EventType, env)
	if circuitbreaker.IsOpen(err) {
		if relErr := w.repo.Release(ctx, evt.ID); relErr != nil {
			w.log.Warn("⚠️ No se pudo liberar el evento", append(fields, zap.Error(relErr))...)
		}
		w.log.Warn("⏸️ Circuito del broker abierto, evento devuelto a PENDING", fields...)
		return false
	}
	if err != nil {
		w.fail(ctx, evt, err, fields)
		return false
	}

	if err := w.repo.MarkProcessed(ctx, evt.ID); err != nil {
		w.log.Warn("⚠️ No se pudo marcar evento como procesado", append(fields, zap.Error(err))...)
		return false
	}
	w.log.Debug("✅ Evento publicado y marcado", fields...)
	return true
}

func (w *Worker) publish(ctx context.Context, routingKey string, env events.Envelope) error {
	if w.opts.Breaker == nil {
		return w.publisher.Publish(ctx, routingKey, env)
	}
	_, err := w.opts.Breaker.Execute(func() (interface{}, error) {
		return nil, w.publisher.Publish(ctx, routingKey, env)
	})
	return err
}

func (w *Worker) fail(ctx context.Context, evt *sharedDomain.OutboxEvent, cause error, fields []zap.Field) {
	w.log.Error("❌ No se pudo publicar evento, queda en FAILED",
		append(fields, zap.Int("retry_count", evt.RetryCount), zap.Error(cause))...)
	if err := w.repo.MarkFailed(ctx, evt.ID, cause.Error()); err != nil {
		w.log.Warn("⚠️ No se pudo marcar evento como fallido", append(fields, zap.Error(err))...)
	}
}

// toEnvelope construye la forma en el cable a partir de la fila.
func toEnvelope(evt sharedDomain.OutboxEvent) (events.Envelope, error) {
	var data json.RawMessage
	switch p := evt.Payload.(type) {
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return events.Envelope{}, fmt.Errorf("invalid payload: %w", err)
		}
		data = raw
	}
	if !json.Valid(data) {
		return events.Envelope{}, fmt.Errorf("invalid JSON payload")
	}

	return events.Envelope{
		EventID:     evt.ID.String(),
		EventType:   evt.EventType,
		AggregateID: evt.AggregateID,
		Timestamp:   evt.CreatedAt.UTC(),
		Data:        data,
	}, nil
}
