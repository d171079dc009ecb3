package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

const asyncOpTimeout = 200 * time.Millisecond

// Key compone claves "<namespace>:<parte>:...", p. ej. Key("user", "id", id) o Key("stock", id).
func Key(namespace string, parts ...string) string {
	return strings.Join(append([]string{namespace}, parts...), ":")
}

// SetAsync guarda value en segundo plano. Sobrevive a la cancelación de ctx y sólo conserva
// sus valores; un fallo queda en el log.
func SetAsync(ctx context.Context, c Cache, key string, value interface{}, ttlSecs int, log *zap.Logger) {
	if c == nil {
		return
	}
	runAsync(ctx, "set", key, log, func(opCtx context.Context) error {
		return c.Set(opCtx, key, value, ttlSecs)
	})
}

// InvalidateAsync borra key en segundo plano con las mismas reglas que SetAsync.
func InvalidateAsync(ctx context.Context, c Cache, key string, log *zap.Logger) {
	if c == nil {
		return
	}
	runAsync(ctx, "invalidate", key, log, func(opCtx context.Context) error {
		return c.Delete(opCtx, key)
	})
}

func runAsync(ctx context.Context, op, key string, log *zap.Logger, fn func(context.Context) error) {
	go func() {
		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), asyncOpTimeout)
		defer cancel()

		if err := fn(opCtx); err != nil {
			log.Warn("⚠️ Operación de caché fallida",
				zap.String("component", "cache"),
				zap.String("op", op),
				zap.String("cache_key", key),
				zap.Error(err))
		}
	}()
}
