package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomarrohitt/e-commerce-sub000/internal/catalog/domain"
	sharedDB "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/db"
)

type PurchaseRepo struct {
	db *sharedDB.DB
}

func NewPurchaseRepo(db *sharedDB.DB) *PurchaseRepo {
	return &PurchaseRepo{db: db}
}

func (r *PurchaseRepo) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reviewers (
			user_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS verified_purchases (
			user_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			order_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, product_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init purchases schema: %w", err)
		}
	}
	return nil
}

func (r *PurchaseRepo) GrantVerified(ctx context.Context, orderID, userID string, productIDs []string) (int, error) {
	granted := 0
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, productID := range productIDs {
			res, err := tx.ExecContext(ctx, r.db.Rebind(
				`INSERT INTO verified_purchases (user_id, product_id, order_id, created_at) VALUES (?, ?, ?, ?)
				 ON CONFLICT (user_id, product_id) DO NOTHING`),
				userID, productID, orderID, now,
			)
			if err != nil {
				return err
			}
			rows, _ := res.RowsAffected()
			granted += int(rows)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return granted, nil
}

func (r *PurchaseRepo) IsVerified(ctx context.Context, userID, productID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT COUNT(*) FROM verified_purchases WHERE user_id = ? AND product_id = ?`), userID, productID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PurchaseRepo) UpsertReviewer(ctx context.Context, rv domain.Reviewer) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO reviewers (user_id, name, email, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET name = excluded.name, email = excluded.email, updated_at = excluded.updated_at`),
		rv.UserID, rv.Name, rv.Email, rv.UpdatedAt,
	)
	return err
}

func (r *PurchaseRepo) GetReviewer(ctx context.Context, userID string) (*domain.Reviewer, error) {
	var rv domain.Reviewer
	err := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT user_id, name, email, updated_at FROM reviewers WHERE user_id = ?`), userID).
		Scan(&rv.UserID, &rv.Name, &rv.Email, &rv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrReviewerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &rv, nil
}

var _ domain.PurchaseRepository = (*PurchaseRepo)(nil)
