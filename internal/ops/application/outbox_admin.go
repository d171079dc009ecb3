package application

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/ops/domain"
	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
)

// OutboxAdmin agrupa las outbox de todos los contextos por nombre de servicio.
type OutboxAdmin struct {
	stores map[string]sharedDomain.OutboxAdmin
	log    *zap.Logger
}

func NewOutboxAdmin(stores map[string]sharedDomain.OutboxAdmin, logger *zap.Logger) *OutboxAdmin {
	if stores == nil {
		stores = make(map[string]sharedDomain.OutboxAdmin)
	}
	return &OutboxAdmin{stores: stores, log: logger}
}

// Add registra una outbox más; sólo se llama durante el arranque.
func (a *OutboxAdmin) Add(service string, store sharedDomain.OutboxAdmin) {
	a.stores[service] = store
}

func (a *OutboxAdmin) Services() []string {
	names := make([]string, 0, len(a.stores))
	for name := range a.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *OutboxAdmin) store(service string) (sharedDomain.OutboxAdmin, error) {
	s, ok := a.stores[service]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownService, service)
	}
	return s, nil
}

func (a *OutboxAdmin) ListFailed(ctx context.Context, service string, limit int) ([]sharedDomain.OutboxEvent, error) {
	s, err := a.store(service)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.ListFailed(ctx, limit)
}

// Retry devuelve la fila a PENDING; el relay la publicará en su siguiente ciclo.
func (a *OutboxAdmin) Retry(ctx context.Context, service string, id uuid.UUID) error {
	s, err := a.store(service)
	if err != nil {
		return err
	}
	if err := s.Retry(ctx, id); err != nil {
		return err
	}
	a.log.Info("🔁 Outbox event re-encolado", zap.String("service", service), zap.String("id", id.String()))
	return nil
}
