// Package circuitbreaker envuelve sony/gobreaker con la política común de los clientes externos:
// N fallos consecutivos abren el circuito, los errores 4xx no cuentan como fallo y, con el
// circuito abierto, se responde con un Fallback o con un *OpenError (HTTP 503).
package circuitbreaker

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config de un breaker. Los valores a cero toman los defaults (5 fallos, 30s, 1 sonda).
type Config struct {
	Name             string
	FailureThreshold uint32
	ResetTimeout     time.Duration
	HalfOpenRequests uint32
	// Fallback se usa cuando el circuito está abierto; recibe el *OpenError.
	Fallback func(err error) (interface{}, error)
}

// OpenError indica que la llamada no se hizo porque el circuito está abierto.
type OpenError struct {
	Name string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("service %s is currently unavailable (circuit breaker open): %v", e.Name, e.Err)
}

func (e *OpenError) Unwrap() error   { return e.Err }
func (e *OpenError) HTTPStatus() int { return http.StatusServiceUnavailable }

// IsOpen indica si err viene de un circuito abierto.
func IsOpen(err error) bool {
	var oe *OpenError
	return errors.As(err, &oe)
}

type httpStatuser interface {
	HTTPStatus() int
}

// isSuccessful: nil o un error de cliente (4xx) no cuentan para abrir el circuito.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var hs httpStatuser
	if errors.As(err, &hs) {
		status := hs.HTTPStatus()
		return status >= 400 && status < 500
	}
	return false
}

type Breaker struct {
	cb       *gobreaker.CircuitBreaker
	name     string
	fallback func(err error) (interface{}, error)
}

func New(cfg Config, log *zap.Logger) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}

	threshold := cfg.FailureThreshold
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("🔌 Circuit breaker cambió de estado",
				zap.String("breaker", name),
				zap.String("from", string(toState(from))),
				zap.String("to", string(toState(to))),
			)
		},
	}

	return &Breaker{
		cb:       gobreaker.NewCircuitBreaker(settings),
		name:     cfg.Name,
		fallback: cfg.Fallback,
	}
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State { return toState(b.cb.State()) }

// Execute llama a fn a través del breaker.
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		openErr := &OpenError{Name: b.name, Err: err}
		if b.fallback != nil {
			return b.fallback(openErr)
		}
		return nil, openErr
	}
	return result, err
}

// Do es la versión tipada de Execute.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	result, err := b.Execute(func() (interface{}, error) {
		return fn()
	})
	typed, _ := result.(T)
	return typed, err
}

func toState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Registry agrupa los breakers del proceso para el endpoint de health.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

func (r *Registry) Add(b *Breaker) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[b.Name()] = b
	return b
}

func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
