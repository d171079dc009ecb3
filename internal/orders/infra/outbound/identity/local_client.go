package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"

	identityApp "github.com/tomarrohitt/e-commerce-sub000/internal/identity/application"
	identityDomain "github.com/tomarrohitt/e-commerce-sub000/internal/identity/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/domain"
	"github.com/tomarrohitt/e-commerce-sub000/pkg/circuitbreaker"
)

// LocalClient resuelve usuarios en el mismo proceso cuando Identity corre en el binario.
// Mantiene el mismo circuit breaker que el cliente HTTP.
type LocalClient struct {
	users   *identityApp.UserService
	breaker *circuitbreaker.Breaker
}

func NewLocalClient(users *identityApp.UserService, breaker *circuitbreaker.Breaker) *LocalClient {
	return &LocalClient{users: users, breaker: breaker}
}

func (c *LocalClient) Lookup(ctx context.Context, userID string) (*domain.Customer, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, domain.ErrUserNotFound
	}
	customer, err := circuitbreaker.Do(c.breaker, func() (*domain.Customer, error) {
		u, err := c.users.GetUser(ctx, id)
		if errors.Is(err, identityDomain.ErrUserNotFound) {
			// No es un fallo del servicio; no debe abrir el circuito.
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &domain.Customer{ID: u.ID.String(), Email: u.Email, Name: u.Name, Verified: u.Verified}, nil
	})
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrUserNotFound
	}
	return customer, nil
}

var _ domain.UserDirectory = (*LocalClient)(nil)
