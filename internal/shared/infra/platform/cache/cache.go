package cache

import (
	"context"
)

// Cache define la interfaz para una caché de clave-valor genérica.
type Cache interface {
	// Get intenta poblar 'dest' (que debe ser un puntero) con el valor asociado a la 'key'.
	// Devuelve (true, nil) si hay un 'hit' y 'dest' fue rellenado.
	// Devuelve (false, nil) si es un 'miss'.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// Set serializa y guarda el valor con un TTL (Time To Live) en segundos. 0 = TTL por defecto.
	Set(ctx context.Context, key string, val interface{}, ttlSecs int) error

	// Delete elimina la 'key' de la caché.
	Delete(ctx context.Context, key string) error
}

// Counter son contadores enteros sin TTL (p. ej. stock:{id}).
type Counter interface {
	SetCount(ctx context.Context, key string, value int64) error
	// DecrIfExists resta 'by' sólo si la clave existe; found=false si no existe.
	DecrIfExists(ctx context.Context, key string, by int64) (remaining int64, found bool, err error)
	// IncrIfExists suma 'by' sólo si la clave existe.
	IncrIfExists(ctx context.Context, key string, by int64) error
}

// Store es lo que ofrecen las implementaciones de este paquete.
type Store interface {
	Cache
	Counter
}
