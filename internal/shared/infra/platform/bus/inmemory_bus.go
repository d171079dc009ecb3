package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedUtils "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/utils"
)

const defaultQueueBuffer = 256

type memDelivery struct {
	routingKey string
	body       []byte
}

type memQueue struct {
	name     string
	bindings []string
	ch       chan memDelivery
	consumed bool
}

// InMemoryEventBus imita un topic exchange con colas durables dentro del proceso.
// Cada cola es un canal con buffer: si se llena, Publish bloquea (backpressure) hasta que
// haya hueco o se cancele el contexto. Los rechazos van a una DLQ en memoria.
type InMemoryEventBus struct {
	mu       sync.RWMutex
	queues   map[string]*memQueue
	buffer   int
	prefetch int

	dlqMu     sync.Mutex
	dead      []DeadLetter
	dlqCursor int
	dlqNotify chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	log       *zap.Logger
}

// Verificación en tiempo de compilación.
var (
	_ EventBus         = (*InMemoryEventBus)(nil)
	_ DeadLetterSource = (*InMemoryEventBus)(nil)
	_ HealthReporter   = (*InMemoryEventBus)(nil)
	_ QueuePublisher   = (*InMemoryEventBus)(nil)
)

// NewInMemoryEventBus crea el bus. buffer es la capacidad de cada cola; prefetch el valor por defecto.
func NewInMemoryEventBus(buffer, prefetch int, log *zap.Logger) *InMemoryEventBus {
	if buffer <= 0 {
		buffer = defaultQueueBuffer
	}
	return &InMemoryEventBus{
		queues:    make(map[string]*memQueue),
		buffer:    buffer,
		prefetch:  prefetch,
		dlqNotify: make(chan struct{}, 1),
		done:      make(chan struct{}),
		log:       log.With(zap.String("component", "bus.memory")),
	}
}

func (b *InMemoryEventBus) Publish(ctx context.Context, routingKey string, env events.Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return err
	}

	b.mu.RLock()
	var targets []*memQueue
	for _, q := range b.queues {
		if MatchAny(q.bindings, routingKey) {
			targets = append(targets, q)
		}
	}
	b.mu.RUnlock()

	for _, q := range targets {
		if err := b.enqueue(ctx, q, memDelivery{routingKey: routingKey, body: body}); err != nil {
			return err
		}
	}
	return nil
}

func (b *InMemoryEventBus) PublishToQueue(ctx context.Context, queue, routingKey string, env events.Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return err
	}

	b.mu.RLock()
	q, ok := b.queues[queue]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
	}
	return b.enqueue(ctx, q, memDelivery{routingKey: routingKey, body: body})
}

func (b *InMemoryEventBus) enqueue(ctx context.Context, q *memQueue, d memDelivery) error {
	select {
	case q.ch <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrBusClosed
	}
}

// Subscribe declara la cola (si no existe) y arranca Prefetch consumidores.
func (b *InMemoryEventBus) Subscribe(ctx context.Context, sub Subscription, handler Handler) error {
	if err := sub.validate(); err != nil {
		return err
	}

	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		return ErrBusClosed
	default:
	}
	q, ok := b.queues[sub.Queue]
	if !ok {
		q = &memQueue{name: sub.Queue, ch: make(chan memDelivery, b.buffer)}
		b.queues[sub.Queue] = q
	}
	if q.consumed {
		b.mu.Unlock()
		return ErrAlreadyConsumed
	}
	q.consumed = true
	for _, key := range sub.RoutingKeys {
		if !sharedUtils.Contains(q.bindings, key) {
			q.bindings = append(q.bindings, key)
		}
	}
	b.mu.Unlock()

	workers := sub.prefetch(b.prefetch)
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.consume(ctx, q, handler)
	}

	b.log.Info("🎧 Consumidor en memoria iniciado",
		zap.String("queue", sub.Queue), zap.Strings("bindings", sub.RoutingKeys), zap.Int("prefetch", workers))
	return nil
}

func (b *InMemoryEventBus) consume(ctx context.Context, q *memQueue, handler Handler) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case d := <-q.ch:
			if err := deliver(ctx, b.log, q.name, d.body, handler); err != nil {
				b.deadLetter(q.name, d, err)
			}
		}
	}
}

func (b *InMemoryEventBus) deadLetter(queue string, d memDelivery, cause error) {
	dl := DeadLetter{
		RoutingKey: d.routingKey,
		Queue:      queue,
		Reason:     cause.Error(),
		DeathCount: 1,
		Body:       d.body,
		DeadAt:     time.Now().UTC(),
	}
	if env, err := events.UnmarshalEnvelope(d.body); err == nil {
		dl.EventID = env.EventID
		dl.EventType = env.EventType
	}

	b.dlqMu.Lock()
	b.dead = append(b.dead, dl)
	b.dlqMu.Unlock()

	select {
	case b.dlqNotify <- struct{}{}:
	default:
	}
}

// DeadLetters devuelve una copia de todo lo que ha llegado a la DLQ.
func (b *InMemoryEventBus) DeadLetters() []DeadLetter {
	b.dlqMu.Lock()
	defer b.dlqMu.Unlock()
	out := make([]DeadLetter, len(b.dead))
	copy(out, b.dead)
	return out
}

// ConsumeDeadLetters entrega cada dead letter una sola vez, en orden de llegada.
func (b *InMemoryEventBus) ConsumeDeadLetters(ctx context.Context, handler DeadLetterHandler) error {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			b.dlqMu.Lock()
			var pending []DeadLetter
			if b.dlqCursor < len(b.dead) {
				pending = append(pending, b.dead[b.dlqCursor:]...)
				b.dlqCursor = len(b.dead)
			}
			b.dlqMu.Unlock()

			for _, dl := range pending {
				if err := handler(ctx, dl); err != nil {
					b.log.Warn("⚠️ No se pudo archivar dead letter", zap.String("event_id", dl.EventID), zap.Error(err))
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case <-b.dlqNotify:
			}
		}
	}()
	return nil
}

func (b *InMemoryEventBus) HealthState() HealthState {
	select {
	case <-b.done:
		return HealthDisconnected
	default:
		return HealthConnected
	}
}

// Close para los consumidores y espera a que terminen el mensaje en curso.
func (b *InMemoryEventBus) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
	return nil
}
