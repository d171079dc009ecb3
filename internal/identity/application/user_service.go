package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/identity/domain"
	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedCache "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/cache"
	sharedUtils "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/utils"
)

const userCacheTTL = 60

func userKey(id uuid.UUID) string {
	return sharedCache.Key("user", "id", id.String())
}

// UserService define los casos de uso de identidad.
type UserService struct {
	repo  domain.UserRepository
	cache sharedCache.Cache
	log   *zap.Logger
}

func NewUserService(repo domain.UserRepository, cache sharedCache.Cache, log *zap.Logger) *UserService {
	return &UserService{repo: repo, cache: cache, log: log}
}

// Register crea el usuario y encola user.registered con el enlace de verificación.
func (s *UserService) Register(ctx context.Context, email, name string) (*domain.User, error) {
	user, err := domain.NewUser(email, name)
	if err != nil {
		return nil, err
	}

	evt := sharedDomain.NewOutboxEvent("user", user.ID.String(), events.UserRegisteredData{
		UserID: user.ID.String(),
		Email:  user.Email,
		Name:   user.Name,
		Link:   fmt.Sprintf("/users/%s/verify?token=%s", user.ID, user.VerificationToken),
	})
	if err := s.repo.Create(ctx, user, evt); err != nil {
		return nil, err
	}

	sharedCache.SetAsync(ctx, s.cache, userKey(user.ID), user, userCacheTTL, s.log)
	return user, nil
}

// Verify marca el usuario como verificado y encola user.verified.
func (s *UserService) Verify(ctx context.Context, id uuid.UUID, token string) (*domain.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Verified {
		return user, nil
	}

	evt := sharedDomain.NewOutboxEvent("user", id.String(), events.UserVerifiedData{
		UserID: id.String(),
		Email:  user.Email,
		Name:   user.Name,
	})
	if err := s.repo.MarkVerified(ctx, id, token, evt); err != nil {
		return nil, err
	}

	user.Verified = true
	user.UpdatedAt = time.Now().UTC()
	sharedCache.InvalidateAsync(ctx, s.cache, userKey(id), s.log)
	return user, nil
}

// GetUser obtiene un usuario (primero intenta desde cache).
func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	// 1. Intentar cache
	if s.cache != nil {
		var u domain.User
		if ok, _ := s.cache.Get(ctx, userKey(id), &u); ok {
			return &u, nil
		}
	}

	// 2. Ir al repo con reintentos; "no encontrado" no se reintenta.
	var user *domain.User
	var notFound bool
	err := sharedUtils.Retry(ctx, 3, 100*time.Millisecond, func() error {
		var err error
		user, err = s.repo.GetByID(ctx, id)
		if errors.Is(err, domain.ErrUserNotFound) {
			notFound = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, domain.ErrUserNotFound
	}

	// 3. Actualizar cache en background sin bloquear la respuesta
	sharedCache.SetAsync(ctx, s.cache, userKey(user.ID), user, userCacheTTL, s.log)
	return user, nil
}
