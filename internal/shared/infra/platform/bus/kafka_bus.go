package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

const (
	headerRoutingKey = "routing-key"
	headerEventID    = "event-id"
	headerEventType  = "event-type"
	headerQueue      = "x-origin-queue"
	headerReason     = "x-death-reason"
	headerDeadAt     = "x-dead-at"
	// headerTargetQueue limita la entrega a una sola cola (replay de dead letters).
	headerTargetQueue = "x-target-queue"
	headerOriginalKey = "x-original-routing-key"
)

const (
	dlqRetryDelay    = 500 * time.Millisecond
	dlqMaxRetryDelay = 30 * time.Second
)

// messageWriter y messageReader son la parte de kafka-go que usa el bus.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	DLQTopic string
}

// KafkaBus usa un único topic; la routing key viaja en una cabecera y cada cola es un
// consumer group que filtra por sus bindings en el cliente. Los rechazos se escriben en DLQTopic.
type KafkaBus struct {
	cfg       KafkaConfig
	writer    messageWriter
	dlqWriter messageWriter
	log       *zap.Logger
	// retryDelay es la espera inicial entre intentos de escritura en la DLQ.
	retryDelay time.Duration

	mu      sync.Mutex
	readers []messageReader

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Verificación en tiempo de compilación.
var (
	_ EventBus         = (*KafkaBus)(nil)
	_ DeadLetterSource = (*KafkaBus)(nil)
	_ HealthReporter   = (*KafkaBus)(nil)
	_ QueuePublisher   = (*KafkaBus)(nil)
)

func NewKafkaBus(cfg KafkaConfig, log *zap.Logger) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka bus needs at least one broker")
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		}
	}
	return &KafkaBus{
		cfg:        cfg,
		writer:     newWriter(cfg.Topic),
		dlqWriter:  newWriter(cfg.DLQTopic),
		log:        log.With(zap.String("component", "bus.kafka")),
		retryDelay: dlqRetryDelay,
		closed:     make(chan struct{}),
	}, nil
}

// Publish usa el aggregateId como key para mantener el orden por agregado.
func (b *KafkaBus) Publish(ctx context.Context, routingKey string, env events.Envelope) error {
	return b.publish(ctx, routingKey, env)
}

// PublishToQueue escribe en el topic común marcado para un único consumer group.
func (b *KafkaBus) PublishToQueue(ctx context.Context, queue, routingKey string, env events.Envelope) error {
	return b.publish(ctx, routingKey, env, kafka.Header{Key: headerTargetQueue, Value: []byte(queue)})
}

func (b *KafkaBus) publish(ctx context.Context, routingKey string, env events.Envelope, extra ...kafka.Header) error {
	body, err := env.Marshal()
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(env.AggregateID),
		Value: body,
		Headers: []kafka.Header{
			{Key: headerRoutingKey, Value: []byte(routingKey)},
			{Key: headerEventID, Value: []byte(env.EventID)},
			{Key: headerEventType, Value: []byte(env.EventType)},
		},
	}
	msg.Headers = append(msg.Headers, extra...)

	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		b.log.Error("Error publishing to Kafka", zap.String("routing_key", routingKey), zap.Error(err))
		return err
	}
	return nil
}

// Subscribe crea un reader por cola. El orden de un consumer group es por partición, así
// que los mensajes se procesan de uno en uno y el offset se confirma tras el handler.
func (b *KafkaBus) Subscribe(ctx context.Context, sub Subscription, handler Handler) error {
	if err := sub.validate(); err != nil {
		return err
	}

	reader := b.newReader(b.cfg.Topic, sub.Queue)

	b.log.Info("🎧 Iniciando consumidor de Kafka...",
		zap.String("topic", b.cfg.Topic),
		zap.String("group", sub.Queue),
		zap.Strings("bindings", sub.RoutingKeys),
	)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.loop(ctx, reader, sub.Queue, b.queueProcessor(ctx, sub, handler))
	}()
	return nil
}

// queueProcessor entrega los mensajes que casan con los bindings. Un rechazo sólo se da por
// procesado cuando está escrito en la DLQ.
func (b *KafkaBus) queueProcessor(ctx context.Context, sub Subscription, handler Handler) func(kafka.Message) error {
	return func(msg kafka.Message) error {
		routingKey := header(msg, headerRoutingKey)
		if target := header(msg, headerTargetQueue); target != "" {
			if target != sub.Queue {
				return nil
			}
		} else if !MatchAny(sub.RoutingKeys, routingKey) {
			return nil
		}
		if err := deliver(ctx, b.log, sub.Queue, msg.Value, handler); err != nil {
			return b.deadLetter(ctx, sub.Queue, routingKey, msg, err)
		}
		return nil
	}
}

// ConsumeDeadLetters lee el topic DLQ con su propio consumer group.
func (b *KafkaBus) ConsumeDeadLetters(ctx context.Context, handler DeadLetterHandler) error {
	reader := b.newReader(b.cfg.DLQTopic, b.cfg.DLQTopic+".archive")

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.loop(ctx, reader, b.cfg.DLQTopic+".archive", func(msg kafka.Message) error {
			dl := DeadLetter{
				EventID:    header(msg, headerEventID),
				EventType:  header(msg, headerEventType),
				RoutingKey: header(msg, headerRoutingKey),
				Queue:      header(msg, headerQueue),
				Reason:     header(msg, headerReason),
				DeathCount: 1,
				Body:       msg.Value,
				DeadAt:     msg.Time,
			}
			if ts, err := strconv.ParseInt(header(msg, headerDeadAt), 10, 64); err == nil {
				dl.DeadAt = time.UnixMilli(ts).UTC()
			}
			if err := handler(ctx, dl); err != nil {
				b.log.Warn("⚠️ No se pudo archivar dead letter", zap.String("event_id", dl.EventID), zap.Error(err))
			}
			return nil
		})
	}()
	return nil
}

func (b *KafkaBus) newReader(topic, group string) messageReader {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.cfg.Brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	b.mu.Lock()
	b.readers = append(b.readers, reader)
	b.mu.Unlock()
	return reader
}

// loop confirma cada offset tras procesarlo. Si process falla el consumidor se detiene sin
// confirmar, y el grupo vuelve a entregar el mensaje en el siguiente arranque.
func (b *KafkaBus) loop(ctx context.Context, reader messageReader, group string, process func(kafka.Message) error) {
	for {
		// FetchMessage es bloqueante y no confirma el offset.
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || b.isClosed() {
				b.log.Info("Consumidor de Kafka detenido.", zap.String("group", group))
				return
			}
			b.log.Error("Error al leer mensaje de Kafka", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			case <-b.closed:
				return
			}
			continue
		}

		if err := process(msg); err != nil {
			b.log.Error("🛑 Consumidor de Kafka detenido sin confirmar offset",
				zap.String("group", group), zap.Int64("offset", msg.Offset), zap.Error(err))
			return
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			b.log.Warn("⚠️ No se pudo confirmar offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// deadLetter reintenta la escritura en la DLQ con espera exponencial hasta lograrlo o hasta
// que se cancele ctx o se cierre el bus.
func (b *KafkaBus) deadLetter(ctx context.Context, queue, routingKey string, msg kafka.Message, cause error) error {
	dlq := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: headerQueue, Value: []byte(queue)},
			kafka.Header{Key: headerReason, Value: []byte(cause.Error())},
			kafka.Header{Key: headerDeadAt, Value: []byte(strconv.FormatInt(time.Now().UnixMilli(), 10))},
		),
	}
	delay := b.retryDelay
	for attempt := 1; ; attempt++ {
		err := b.dlqWriter.WriteMessages(ctx, dlq)
		if err == nil {
			return nil
		}
		b.log.Error("❌ No se pudo escribir en la DLQ", zap.String("queue", queue),
			zap.String("routing_key", routingKey), zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("dead letter for %s not written: %w", queue, ctx.Err())
		case <-b.closed:
			return fmt.Errorf("dead letter for %s not written: %w", queue, ErrBusClosed)
		}
		delay = min(delay*2, dlqMaxRetryDelay)
	}
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (b *KafkaBus) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// kafka-go reconecta internamente; el bus sólo deja de estar sano al cerrarse.
func (b *KafkaBus) HealthState() HealthState {
	if b.isClosed() {
		return HealthDisconnected
	}
	return HealthConnected
}

func (b *KafkaBus) Close() error {
	var errs []error
	b.closeOnce.Do(func() {
		close(b.closed)

		b.mu.Lock()
		readers := b.readers
		b.mu.Unlock()
		for _, r := range readers {
			if err := r.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := b.writer.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := b.dlqWriter.Close(); err != nil {
			errs = append(errs, err)
		}
	})
	b.wg.Wait()
	if len(errs) > 0 {
		return fmt.Errorf("closing kafka bus: %w", errors.Join(errs...))
	}
	return nil
}
