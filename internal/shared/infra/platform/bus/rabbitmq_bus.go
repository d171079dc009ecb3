package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

type RabbitMQConfig struct {
	URL               string
	Exchange          string
	DLQExchange       string
	DLQQueue          string
	DLQMessageTTL     time.Duration
	Prefetch          int
	ReconnectDelay    time.Duration
	MaxReconnectTries int
	// OnGiveUp se llama una vez agotados los reintentos de reconexión.
	OnGiveUp func(err error)
}

// rabbitConsumer se guarda para volver a declararlo tras una reconexión.
type rabbitConsumer struct {
	ctx   context.Context
	name  string
	start func(conn *amqp.Connection) (*amqp.Channel, error)

	mu sync.Mutex
	ch *amqp.Channel
}

// RabbitMQBus publica en un topic exchange durable con publisher confirms y consume colas
// con dead-letter-exchange. Se reconecta solo y respeta connection.blocked / channel.flow.
type RabbitMQBus struct {
	cfg RabbitMQConfig
	log *zap.Logger

	mu    sync.RWMutex
	conn  *amqp.Connection
	pubCh *amqp.Channel
	pubMu sync.Mutex

	consumersMu sync.Mutex
	consumers   []*rabbitConsumer

	flowMu      sync.Mutex
	connBlocked bool
	flowPaused  bool
	open        chan struct{}

	// dial abre conexión y canal de publicación; en producción es connect.
	dial func() error

	state     atomic.Int32
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Verificación en tiempo de compilación.
var (
	_ EventBus         = (*RabbitMQBus)(nil)
	_ DeadLetterSource = (*RabbitMQBus)(nil)
	_ HealthReporter   = (*RabbitMQBus)(nil)
	_ QueuePublisher   = (*RabbitMQBus)(nil)
)

// NewRabbitMQBus conecta, declara la topología y deja el bus listo para publicar.
func NewRabbitMQBus(cfg RabbitMQConfig, log *zap.Logger) (*RabbitMQBus, error) {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnectTries <= 0 {
		cfg.MaxReconnectTries = 10
	}

	b := &RabbitMQBus{
		cfg:    cfg,
		log:    log.With(zap.String("component", "bus.rabbitmq")),
		open:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	b.dial = b.connect
	close(b.open)

	if err := b.dial(); err != nil {
		return nil, err
	}
	b.log.Info("🐇 Conectado a RabbitMQ", zap.String("exchange", cfg.Exchange))
	return b, nil
}

func (b *RabbitMQBus) connect() error {
	conn, err := amqp.Dial(b.cfg.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	if err := b.declareTopology(ch); err != nil {
		conn.Close()
		return err
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq confirm mode: %w", err)
	}

	blockings := conn.NotifyBlocked(make(chan amqp.Blocking, 1))
	flows := ch.NotifyFlow(make(chan bool, 1))
	closes := conn.NotifyClose(make(chan *amqp.Error, 1))

	b.mu.Lock()
	b.conn = conn
	b.pubCh = ch
	b.mu.Unlock()

	b.setBlocked(false, false)
	b.state.Store(int32(HealthConnected))

	b.wg.Add(1)
	go b.watch(closes, blockings, flows)
	return nil
}

func (b *RabbitMQBus) declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(b.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", b.cfg.Exchange, err)
	}
	if err := ch.ExchangeDeclare(b.cfg.DLQExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx %s: %w", b.cfg.DLQExchange, err)
	}

	var args amqp.Table
	if b.cfg.DLQMessageTTL > 0 {
		args = amqp.Table{"x-message-ttl": b.cfg.DLQMessageTTL.Milliseconds()}
	}
	if _, err := ch.QueueDeclare(b.cfg.DLQQueue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare dlq %s: %w", b.cfg.DLQQueue, err)
	}
	if err := ch.QueueBind(b.cfg.DLQQueue, "", b.cfg.DLQExchange, false, nil); err != nil {
		return fmt.Errorf("bind dlq %s: %w", b.cfg.DLQQueue, err)
	}
	return nil
}

// watch atiende backpressure y caídas de la conexión actual.
func (b *RabbitMQBus) watch(closes chan *amqp.Error, blockings chan amqp.Blocking, flows chan bool) {
	defer b.wg.Done()
	for {
		select {
		case <-b.closed:
			return
		case blk, ok := <-blockings:
			if !ok {
				blockings = nil
				continue
			}
			if blk.Active {
				b.log.Warn("⏸️ Broker bloqueó la conexión, publicaciones en espera", zap.String("reason", blk.Reason))
			} else {
				b.log.Info("▶️ Broker desbloqueó la conexión")
			}
			b.setBlocked(blk.Active, b.isFlowPaused())
		case active, ok := <-flows:
			if !ok {
				flows = nil
				continue
			}
			// channel.flow active=false significa que el broker pide parar.
			b.setBlocked(b.isConnBlocked(), !active)
		case amqpErr, ok := <-closes:
			if !ok || amqpErr == nil {
				// Cierre ordenado desde nuestro lado.
				return
			}
			b.log.Warn("⚠️ Conexión con RabbitMQ perdida", zap.String("reason", amqpErr.Reason), zap.Int("code", amqpErr.Code))
			b.wg.Add(1)
			go b.reconnect(amqpErr)
			return
		}
	}
}

func (b *RabbitMQBus) reconnect(cause error) {
	defer b.wg.Done()
	b.state.Store(int32(HealthReconnecting))

	b.mu.Lock()
	b.pubCh = nil
	b.mu.Unlock()

	lastErr := cause
	for attempt := 1; attempt <= b.cfg.MaxReconnectTries; attempt++ {
		select {
		case <-b.closed:
			return
		case <-time.After(b.cfg.ReconnectDelay):
		}

		if err := b.dial(); err != nil {
			lastErr = err
			b.log.Warn("🔁 Reintento de reconexión fallido",
				zap.Int("attempt", attempt), zap.Int("max", b.cfg.MaxReconnectTries), zap.Error(err))
			continue
		}

		b.restartConsumers()
		b.log.Info("✅ Reconectado a RabbitMQ", zap.Int("attempt", attempt))
		return
	}

	b.state.Store(int32(HealthDisconnected))
	err := fmt.Errorf("%w: gave up after %d attempts: %v", ErrBusUnavailable, b.cfg.MaxReconnectTries, lastErr)
	b.log.Error("🛑 RabbitMQ no disponible, se abandonan las reconexiones", zap.Error(err))
	if b.cfg.OnGiveUp != nil {
		b.cfg.OnGiveUp(err)
	}
}

func (b *RabbitMQBus) restartConsumers() {
	b.consumersMu.Lock()
	consumers := append([]*rabbitConsumer(nil), b.consumers...)
	b.consumersMu.Unlock()

	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()

	for _, c := range consumers {
		if c.ctx.Err() != nil {
			continue
		}
		ch, err := c.start(conn)
		if err != nil {
			b.log.Error("❌ No se pudo volver a suscribir la cola", zap.String("queue", c.name), zap.Error(err))
			continue
		}
		c.mu.Lock()
		c.ch = ch
		c.mu.Unlock()
	}
}

func (b *RabbitMQBus) setBlocked(connBlocked, flowPaused bool) {
	b.flowMu.Lock()
	defer b.flowMu.Unlock()

	wasOpen := !b.connBlocked && !b.flowPaused
	b.connBlocked, b.flowPaused = connBlocked, flowPaused
	isOpen := !connBlocked && !flowPaused

	switch {
	case wasOpen && !isOpen:
		b.open = make(chan struct{})
	case !wasOpen && isOpen:
		close(b.open)
	}
}

func (b *RabbitMQBus) isConnBlocked() bool {
	b.flowMu.Lock()
	defer b.flowMu.Unlock()
	return b.connBlocked
}

func (b *RabbitMQBus) isFlowPaused() bool {
	b.flowMu.Lock()
	defer b.flowMu.Unlock()
	return b.flowPaused
}

func (b *RabbitMQBus) waitOpen(ctx context.Context) error {
	b.flowMu.Lock()
	open := b.open
	b.flowMu.Unlock()

	select {
	case <-open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closed:
		return ErrBusClosed
	}
}

// Publish espera a que el broker acepte tráfico, publica persistente y espera el confirm.
func (b *RabbitMQBus) Publish(ctx context.Context, routingKey string, env events.Envelope) error {
	return b.publish(ctx, b.cfg.Exchange, routingKey, env, nil)
}

// PublishToQueue usa el default exchange, que enruta por nombre de cola. La routing key
// original viaja en headerOriginalKey.
func (b *RabbitMQBus) PublishToQueue(ctx context.Context, queue, routingKey string, env events.Envelope) error {
	return b.publish(ctx, "", queue, env, amqp.Table{headerOriginalKey: routingKey})
}

func (b *RabbitMQBus) publish(ctx context.Context, exchange, routingKey string, env events.Envelope, headers amqp.Table) error {
	body, err := env.Marshal()
	if err != nil {
		return err
	}
	if err := b.waitOpen(ctx); err != nil {
		return err
	}

	b.mu.RLock()
	ch := b.pubCh
	b.mu.RUnlock()
	if ch == nil {
		return ErrBusUnavailable
	}

	b.pubMu.Lock()
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.EventID,
		Type:         env.EventType,
		Timestamp:    env.Timestamp,
		Body:         body,
	})
	b.pubMu.Unlock()
	if err != nil {
		return fmt.Errorf("rabbitmq publish %s: %w", routingKey, err)
	}
	if confirm == nil {
		return nil
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq confirm %s: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("%w: %s", ErrPublishNacked, env.EventID)
	}
	return nil
}

// Subscribe declara la cola con DLX, la enlaza y arranca Prefetch workers.
func (b *RabbitMQBus) Subscribe(ctx context.Context, sub Subscription, handler Handler) error {
	if err := sub.validate(); err != nil {
		return err
	}
	prefetch := sub.prefetch(b.cfg.Prefetch)

	start := func(conn *amqp.Connection) (*amqp.Channel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		args := amqp.Table{"x-dead-letter-exchange": b.cfg.DLQExchange}
		if _, err := ch.QueueDeclare(sub.Queue, true, false, false, false, args); err != nil {
			ch.Close()
			return nil, fmt.Errorf("declare queue %s: %w", sub.Queue, err)
		}
		for _, key := range sub.RoutingKeys {
			if err := ch.QueueBind(sub.Queue, key, b.cfg.Exchange, false, nil); err != nil {
				ch.Close()
				return nil, fmt.Errorf("bind %s to %s: %w", sub.Queue, key, err)
			}
		}
		if err := ch.Qos(prefetch, 0, false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("qos %s: %w", sub.Queue, err)
		}
		deliveries, err := ch.Consume(sub.Queue, "", false, false, false, false, nil)
		if err != nil {
			ch.Close()
			return nil, fmt.Errorf("consume %s: %w", sub.Queue, err)
		}

		for i := 0; i < prefetch; i++ {
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				for d := range deliveries {
					if err := deliver(ctx, b.log, sub.Queue, d.Body, handler); err != nil {
						if nackErr := d.Nack(false, false); nackErr != nil {
							b.log.Warn("⚠️ Nack fallido", zap.String("queue", sub.Queue), zap.Error(nackErr))
						}
						continue
					}
					if ackErr := d.Ack(false); ackErr != nil {
						b.log.Warn("⚠️ Ack fallido", zap.String("queue", sub.Queue), zap.Error(ackErr))
					}
				}
			}()
		}
		return ch, nil
	}

	b.log.Info("🎧 Suscribiendo cola",
		zap.String("queue", sub.Queue), zap.Strings("bindings", sub.RoutingKeys), zap.Int("prefetch", prefetch))
	return b.register(ctx, sub.Queue, start)
}

// ConsumeDeadLetters lee la DLQ compartida; x-death indica cola de origen, motivo y contador.
func (b *RabbitMQBus) ConsumeDeadLetters(ctx context.Context, handler DeadLetterHandler) error {
	start := func(conn *amqp.Connection) (*amqp.Channel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		if err := ch.Qos(1, 0, false); err != nil {
			ch.Close()
			return nil, err
		}
		deliveries, err := ch.Consume(b.cfg.DLQQueue, "", false, false, false, false, nil)
		if err != nil {
			ch.Close()
			return nil, fmt.Errorf("consume %s: %w", b.cfg.DLQQueue, err)
		}

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for d := range deliveries {
				dl := deadLetterFromDelivery(d)
				if err := handler(ctx, dl); err != nil {
					b.log.Warn("⚠️ No se pudo archivar dead letter, se reencola",
						zap.String("event_id", dl.EventID), zap.Error(err))
					select {
					case <-time.After(time.Second):
					case <-ctx.Done():
					}
					d.Nack(false, true)
					continue
				}
				d.Ack(false)
			}
		}()
		return ch, nil
	}
	return b.register(ctx, b.cfg.DLQQueue, start)
}

func (b *RabbitMQBus) register(ctx context.Context, name string, start func(*amqp.Connection) (*amqp.Channel, error)) error {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return ErrBusUnavailable
	}

	ch, err := start(conn)
	if err != nil {
		return err
	}

	c := &rabbitConsumer{ctx: ctx, name: name, start: start, ch: ch}
	b.consumersMu.Lock()
	b.consumers = append(b.consumers, c)
	b.consumersMu.Unlock()

	// Al cancelar ctx se cierra el canal; el range sobre deliveries termina solo.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case <-ctx.Done():
			c.mu.Lock()
			if c.ch != nil {
				c.ch.Close()
			}
			c.mu.Unlock()
		case <-b.closed:
		}
	}()
	return nil
}

func deadLetterFromDelivery(d amqp.Delivery) DeadLetter {
	dl := DeadLetter{
		EventID:    d.MessageId,
		EventType:  d.Type,
		RoutingKey: d.RoutingKey,
		Body:       d.Body,
		DeadAt:     time.Now().UTC(),
	}

	if deaths, ok := d.Headers["x-death"].([]interface{}); ok && len(deaths) > 0 {
		if death, ok := deaths[0].(amqp.Table); ok {
			if q, ok := death["queue"].(string); ok {
				dl.Queue = q
			}
			if r, ok := death["reason"].(string); ok {
				dl.Reason = r
			}
			if c, ok := death["count"].(int64); ok {
				dl.DeathCount = c
			}
			if keys, ok := death["routing-keys"].([]interface{}); ok && len(keys) > 0 {
				if k, ok := keys[0].(string); ok {
					dl.RoutingKey = k
				}
			}
		}
	}

	if k, ok := d.Headers[headerOriginalKey].(string); ok && k != "" {
		dl.RoutingKey = k
	}

	if dl.EventID == "" || dl.EventType == "" {
		if env, err := events.UnmarshalEnvelope(d.Body); err == nil {
			dl.EventID, dl.EventType = env.EventID, env.EventType
		}
	}
	return dl
}

func (b *RabbitMQBus) HealthState() HealthState {
	return HealthState(b.state.Load())
}

// Close cierra canales y conexión y espera a los consumidores.
func (b *RabbitMQBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)

		b.mu.Lock()
		conn := b.conn
		b.conn, b.pubCh = nil, nil
		b.mu.Unlock()

		if conn != nil && !conn.IsClosed() {
			if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
				err = cerr
			}
		}
		b.state.Store(int32(HealthDisconnected))
	})
	b.wg.Wait()
	return err
}
