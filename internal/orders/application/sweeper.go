package application

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
)

type SweeperOptions struct {
	Interval  time.Duration
	Timeout   time.Duration
	BatchSize int
}

// TimeoutSweeper cancela los pedidos que no llegaron a pagarse a tiempo.
type TimeoutSweeper struct {
	repo domain.OrderRepository
	opts SweeperOptions
	log  *zap.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewTimeoutSweeper(repo domain.OrderRepository, opts SweeperOptions, log *zap.Logger) *TimeoutSweeper {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &TimeoutSweeper{repo: repo, opts: opts, log: log.With(zap.String("component", "sweeper"))}
}

func (s *TimeoutSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(s.stop, s.done)
	s.log.Info("🚀 Sweeper iniciado", zap.Duration("interval", s.opts.Interval), zap.Duration("timeout", s.opts.Timeout))
}

func (s *TimeoutSweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		s.log.Info("🛑 Sweeper detenido.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TimeoutSweeper) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(context.Background()); err != nil {
				s.log.Warn("⚠️ Error en la pasada del sweeper", zap.Error(err))
			}
		}
	}
}

// SweepOnce cancela hasta BatchSize pedidos caducados, cada uno en su transacción.
func (s *TimeoutSweeper) SweepOnce(ctx context.Context) (int, error) {
	stale, err := s.repo.ListStale(ctx, domain.PrePayment, time.Now().Add(-s.opts.Timeout), s.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, o := range stale {
		applied, err := s.repo.TransitionStatus(ctx, o.ID, domain.PrePayment, domain.StatusCancelled, events.ReasonTimeout)
		if err != nil {
			s.log.Warn("⚠️ No se pudo cancelar pedido caducado", zap.String("order_id", o.ID.String()), zap.Error(err))
			continue
		}
		if applied {
			cancelled++
		}
	}
	if cancelled > 0 {
		s.log.Info("⏰ Pedidos cancelados por tiempo", zap.Int("count", cancelled))
	}
	return cancelled, nil
}
