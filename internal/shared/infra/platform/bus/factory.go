package bus

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	DriverRabbitMQ = "rabbitmq"
	DriverKafka    = "kafka"
	DriverMemory   = "memory"
)

type Config struct {
	Driver   string
	Prefetch int
	RabbitMQ RabbitMQConfig
	Kafka    KafkaConfig
}

// Open elige el driver. El bus devuelto también implementa DeadLetterSource y HealthReporter.
func Open(cfg Config, log *zap.Logger) (EventBus, error) {
	switch cfg.Driver {
	case DriverRabbitMQ, "":
		rc := cfg.RabbitMQ
		rc.Prefetch = cfg.Prefetch
		return NewRabbitMQBus(rc, log)
	case DriverKafka:
		return NewKafkaBus(cfg.Kafka, log)
	case DriverMemory:
		return NewInMemoryEventBus(0, cfg.Prefetch, log), nil
	default:
		return nil, fmt.Errorf("unsupported bus driver %q", cfg.Driver)
	}
}
