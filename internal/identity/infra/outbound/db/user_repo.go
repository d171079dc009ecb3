package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomarrohitt/e-commerce-sub000/internal/identity/domain"
	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	sharedDB "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/db"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/outbox"
)

const OutboxTable = "identity_outbox"

type UserRepo struct {
	db     *sharedDB.DB
	outbox *outbox.SQLStore
}

func NewUserRepo(db *sharedDB.DB) *UserRepo {
	return &UserRepo{db: db, outbox: outbox.MustSQLStore(db, OutboxTable)}
}

// Outbox devuelve el store que debe vaciar el relay de este contexto.
func (r *UserRepo) Outbox() *outbox.SQLStore { return r.outbox }

func (r *UserRepo) InitSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		verified INTEGER NOT NULL DEFAULT 0,
		verification_token TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	return r.outbox.InitSchema(ctx)
}

// Create inserta usuario y evento en transacción
func (r *UserRepo) Create(ctx context.Context, u *domain.User, evt sharedDomain.OutboxEvent) error {
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.db.Rebind(
			`INSERT INTO users (id, email, name, verified, verification_token, created_at, updated_at)
			 VALUES (?, ?, ?, 0, ?, ?, ?)`),
			u.ID, u.Email, u.Name, u.VerificationToken, u.CreatedAt, u.UpdatedAt,
		); err != nil {
			return err
		}
		return r.outbox.Enqueue(ctx, tx, evt)
	})
	if sharedDB.IsUniqueViolation(err) {
		return domain.ErrUserAlreadyExists
	}
	return err
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT id, email, name, verified, verification_token, created_at, updated_at FROM users WHERE id = ?`), id)

	var u domain.User
	var verified int
	err := row.Scan(&u.ID, &u.Email, &u.Name, &verified, &u.VerificationToken, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	u.Verified = verified == 1
	return &u, nil
}

// MarkVerified actualiza condicionalmente por token y encola el evento en la misma transacción.
func (r *UserRepo) MarkVerified(ctx context.Context, id uuid.UUID, token string, evt sharedDomain.OutboxEvent) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.db.Rebind(
			`UPDATE users SET verified = 1, updated_at = ? WHERE id = ? AND verification_token = ? AND verified = 0`),
			time.Now().UTC(), id, token)
		if err != nil {
			return err
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return domain.ErrInvalidToken
		}
		return r.outbox.Enqueue(ctx, tx, evt)
	})
}

var _ domain.UserRepository = (*UserRepo)(nil)
