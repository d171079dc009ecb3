package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tomarrohitt/e-commerce-sub000/internal/cart/domain"
	sharedDB "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/db"
)

const replicaColumns = `id, name, price, stock_quantity, is_active, updated_at`

// ReplicaRepo mantiene cart_product_replicas, la vista de catálogo propia del carrito.
type ReplicaRepo struct {
	db *sharedDB.DB
}

func NewReplicaRepo(db *sharedDB.DB) *ReplicaRepo {
	return &ReplicaRepo{db: db}
}

func (r *ReplicaRepo) InitSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS cart_product_replicas (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		stock_quantity INTEGER NOT NULL,
		is_active INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to init cart schema: %w", err)
	}
	return nil
}

func (r *ReplicaRepo) Upsert(ctx context.Context, p domain.ProductReplica) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO cart_product_replicas (`+replicaColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, price = excluded.price,
		   stock_quantity = excluded.stock_quantity, is_active = excluded.is_active, updated_at = excluded.updated_at`),
		p.ID, p.Name, p.Price, p.StockQuantity, boolToInt(p.IsActive), p.UpdatedAt,
	)
	return err
}

func (r *ReplicaRepo) UpdateStock(ctx context.Context, id string, stock int, price decimal.Decimal, isActive bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE cart_product_replicas SET stock_quantity = ?, price = ?, is_active = ?, updated_at = ? WHERE id = ?`),
		stock, price, boolToInt(isActive), time.Now().UTC(), id,
	)
	if err != nil {
		return false, err
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

func (r *ReplicaRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM cart_product_replicas WHERE id = ?`), id)
	return err
}

func (r *ReplicaRepo) GetByID(ctx context.Context, id string) (*domain.ProductReplica, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+replicaColumns+` FROM cart_product_replicas WHERE id = ?`), id)
	p, err := scanReplica(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *ReplicaRepo) GetByIDs(ctx context.Context, ids []string) (map[string]domain.ProductReplica, error) {
	out := make(map[string]domain.ProductReplica, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(
		`SELECT `+replicaColumns+` FROM cart_product_replicas WHERE id IN (`+sharedDB.Placeholders(len(ids))+`)`), args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanReplica(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = *p
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReplica(sc scanner) (*domain.ProductReplica, error) {
	var p domain.ProductReplica
	var active int
	if err := sc.Scan(&p.ID, &p.Name, &p.Price, &p.StockQuantity, &active, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.IsActive = active == 1
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ domain.ReplicaRepository = (*ReplicaRepo)(nil)
