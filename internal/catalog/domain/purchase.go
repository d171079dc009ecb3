package domain

import (
	"context"
	"errors"
	"time"
)

// Reviewer es la réplica local de un usuario verificado.
type Reviewer struct {
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// VerifiedPurchase habilita reseñas del usuario sobre el producto.
type VerifiedPurchase struct {
	UserID    string    `json:"userId"`
	ProductID string    `json:"productId"`
	OrderID   string    `json:"orderId"`
	CreatedAt time.Time `json:"createdAt"`
}

type PurchaseRepository interface {
	// GrantVerified inserta una fila por (usuario, producto); las repetidas se ignoran.
	GrantVerified(ctx context.Context, orderID, userID string, productIDs []string) (int, error)
	IsVerified(ctx context.Context, userID, productID string) (bool, error)
	UpsertReviewer(ctx context.Context, r Reviewer) error
	GetReviewer(ctx context.Context, userID string) (*Reviewer, error)
}

var ErrReviewerNotFound = errors.New("reviewer not found")
