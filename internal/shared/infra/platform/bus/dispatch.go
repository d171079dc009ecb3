package bus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

// deliver decodifica el cuerpo y llama al handler. Devuelve nil cuando el mensaje debe confirmarse
// (procesado o tipo desconocido) y error cuando debe ir a la DLQ.
func deliver(ctx context.Context, log *zap.Logger, queue string, body []byte, handler Handler) (err error) {
	env, err := events.UnmarshalEnvelope(body)
	if err != nil {
		return events.Fatal(fmt.Errorf("malformed envelope: %w", err))
	}

	logFields := []zap.Field{
		zap.String("queue", queue),
		zap.String("event_type", env.EventType),
		zap.String("event_id", env.EventID),
	}

	if !events.Known(env.EventType) {
		log.Warn("⚠️ Tipo de evento desconocido, se confirma y se descarta", logFields...)
		return nil
	}

	payload, err := events.Decode(env)
	if err != nil {
		log.Error("❌ Payload inválido, mensaje a DLQ", append(logFields, zap.Error(err))...)
		return events.Fatal(err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			log.Error("💥 Panic en handler, mensaje a DLQ", append(logFields, zap.Error(err))...)
		}
	}()

	if err := handler(ctx, events.Event{Envelope: env, Payload: payload}); err != nil {
		log.Error("❌ Handler falló, mensaje a DLQ",
			append(logFields, zap.String("class", events.Classify(err)), zap.Error(err))...)
		return err
	}
	return nil
}
