package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger

// Init inicializa el logger global con el nivel indicado ("debug", "info", "warn", "error").
func Init(level string) {
	var err error
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"            // Logs estructurados en JSON
	cfg.EncoderConfig.TimeKey = "ts" // timestamp
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	log, err = cfg.Build()
	if err != nil {
		panic(err)
	}
}

// Logger retorna el logger estructurado. Si no se ha llamado a Init devuelve un logger vacío.
func Logger() *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// Named devuelve un logger hijo para un servicio o componente concreto.
func Named(service string) *zap.Logger {
	return Logger().With(zap.String("service", service))
}
