package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
)

// ---------- Errores de dominio ----------
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrInvalidUser       = errors.New("invalid user")
	ErrInvalidToken      = errors.New("invalid verification token")
)

// User representa un usuario del sistema.
type User struct {
	ID                uuid.UUID `json:"id"`
	Email             string    `json:"email"`
	Name              string    `json:"name"`
	Verified          bool      `json:"verified"`
	VerificationToken string    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func NewUser(email, name string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	name = strings.TrimSpace(name)
	if email == "" || !strings.Contains(email, "@") || name == "" {
		return nil, ErrInvalidUser
	}
	now := time.Now().UTC()
	return &User{
		ID:                uuid.New(),
		Email:             email,
		Name:              name,
		VerificationToken: uuid.NewString(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// ---------- Ports ----------

// UserRepository persiste usuarios; cada escritura lleva su evento de outbox en la misma transacción.
type UserRepository interface {
	// Debe devolver ErrUserAlreadyExists si el email ya está registrado.
	Create(ctx context.Context, u *User, evt sharedDomain.OutboxEvent) error
	// Debe devolver ErrUserNotFound si no existe.
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	// MarkVerified sólo aplica si el token coincide y el usuario no estaba verificado.
	MarkVerified(ctx context.Context, id uuid.UUID, token string, evt sharedDomain.OutboxEvent) error
}
