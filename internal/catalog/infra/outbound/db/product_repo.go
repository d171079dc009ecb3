package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomarrohitt/e-commerce-sub000/internal/catalog/domain"
	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedDB "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/db"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/outbox"
	sharedQuery "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/query"
)

const OutboxTable = "catalog_outbox"

const productColumns = `id, name, sku, price, stock_quantity, is_active, created_at, updated_at`

var productSortFields = map[string]string{
	"created_at": "created_at",
	"name":       "name",
	"price":      "price",
	"stock":      "stock_quantity",
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ProductRepo guarda productos y el ledger de reservas; comparten transacción.
type ProductRepo struct {
	db     *sharedDB.DB
	outbox *outbox.SQLStore
}

func NewProductRepo(db *sharedDB.DB) *ProductRepo {
	return &ProductRepo{db: db, outbox: outbox.MustSQLStore(db, OutboxTable)}
}

func (r *ProductRepo) Outbox() *outbox.SQLStore { return r.outbox }

func (r *ProductRepo) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			sku TEXT NOT NULL DEFAULT '',
			price TEXT NOT NULL,
			stock_quantity INTEGER NOT NULL CHECK (stock_quantity >= 0),
			is_active INTEGER NOT NULL DEFAULT 1,
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stock_reservations (
			order_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			items TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init catalog schema: %w", err)
		}
	}
	return r.outbox.InitSchema(ctx)
}

// ---------------- Productos ----------------

func (r *ProductRepo) Create(ctx context.Context, p *domain.Product, evt sharedDomain.OutboxEvent) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.db.Rebind(
			`INSERT INTO products (id, name, sku, price, stock_quantity, is_active, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			p.ID, p.Name, p.SKU, p.Price, p.StockQuantity, boolToInt(p.IsActive), p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return err
		}
		return r.outbox.Enqueue(ctx, tx, evt)
	})
}

func (r *ProductRepo) Update(ctx context.Context, p *domain.Product, evt sharedDomain.OutboxEvent) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.db.Rebind(
			`UPDATE products SET name = ?, sku = ?, price = ?, is_active = ?, updated_at = ? WHERE id = ? AND deleted = 0`),
			p.Name, p.SKU, p.Price, boolToInt(p.IsActive), p.UpdatedAt, p.ID,
		)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return domain.ErrProductNotFound
		}
		return r.outbox.Enqueue(ctx, tx, evt)
	})
}

// Delete es un borrado lógico: el ledger puede seguir reponiendo stock del producto.
func (r *ProductRepo) Delete(ctx context.Context, id uuid.UUID, evt sharedDomain.OutboxEvent) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.db.Rebind(
			`UPDATE products SET deleted = 1, is_active = 0, updated_at = ? WHERE id = ? AND deleted = 0`),
			time.Now().UTC(), id,
		)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return domain.ErrProductNotFound
		}
		return r.outbox.Enqueue(ctx, tx, evt)
	})
}

func (r *ProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	p, deleted, err := r.get(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, domain.ErrProductNotFound
	}
	return p, nil
}

func (r *ProductRepo) List(ctx context.Context, page sharedQuery.OffsetPagination) ([]*domain.Product, error) {
	tail, args := sharedDB.OrderAndPage(sharedQuery.Sort{Field: "created_at", Desc: true}, page, productSortFields, "created_at")
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(
		`SELECT `+productColumns+`, deleted FROM products WHERE deleted = 0`+tail), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		p, _, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *ProductRepo) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (*domain.Product, error) {
	var updated *domain.Product
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		p, deleted, err := r.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if deleted {
			return domain.ErrProductNotFound
		}
		previous := p.StockQuantity
		if previous+delta < 0 {
			return domain.ErrInsufficientStock
		}
		p.StockQuantity = previous + delta
		p.UpdatedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx, r.db.Rebind(
			`UPDATE products SET stock_quantity = ?, updated_at = ? WHERE id = ?`),
			p.StockQuantity, p.UpdatedAt, id,
		); err != nil {
			return err
		}
		updated = p
		return r.outbox.Enqueue(ctx, tx, sharedDomain.NewOutboxEvent("product", id.String(), p.StockChanged(previous)))
	})
	return updated, err
}

// ---------------- Ledger de reservas ----------------

func (r *ProductRepo) GetReservation(ctx context.Context, orderID string) (*domain.Reservation, error) {
	return r.reservation(ctx, r.db, orderID)
}

func (r *ProductRepo) Reserve(ctx context.Context, orderID string, lines []domain.ReservationLine) (domain.ReservationOutcome, error) {
	outcome := domain.OutcomeReserved
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := r.reservation(ctx, tx, orderID); err == nil {
			outcome = domain.OutcomeAlreadyHandled
			return nil
		} else if !errors.Is(err, domain.ErrReservationNotFound) {
			return err
		}

		now := time.Now().UTC()
		items := make([]domain.ReservedItem, 0, len(lines))
		for _, line := range lines {
			p, err := r.lineProduct(ctx, tx, line.ProductID)
			if err != nil {
				return err
			}
			if err := domain.CheckLine(p, line); err != nil {
				return err
			}

			// La condición sobre stock_quantity impide vender de más aunque dos reservas se crucen.
			res, err := tx.ExecContext(ctx, r.db.Rebind(
				`UPDATE products SET stock_quantity = stock_quantity - ?, updated_at = ? WHERE id = ? AND stock_quantity >= ?`),
				line.Quantity, now, p.ID, line.Quantity,
			)
			if err != nil {
				return err
			}
			if rows, _ := res.RowsAffected(); rows == 0 {
				return domain.Reject("Product %s is out of stock", p.Name)
			}

			previous := p.StockQuantity
			p.StockQuantity -= line.Quantity
			if err := r.outbox.Enqueue(ctx, tx, sharedDomain.NewOutboxEvent("product", p.ID.String(), p.StockChanged(previous))); err != nil {
				return err
			}
			items = append(items, domain.ReservedItem{ProductID: p.ID.String(), Quantity: line.Quantity})
		}

		if err := r.insertReservation(ctx, tx, orderID, domain.ReservationReserved, items, "", now); err != nil {
			return err
		}
		return r.outbox.Enqueue(ctx, tx, sharedDomain.NewOutboxEvent("order", orderID, events.StockReservedData{
			OrderID:   orderID,
			Timestamp: now,
		}))
	})

	switch {
	case err == nil:
		return outcome, nil
	case sharedDB.IsUniqueViolation(err):
		// Otra entrega del mismo order.created ganó la carrera.
		return domain.OutcomeAlreadyHandled, nil
	default:
		if _, ok := domain.AsRejection(err); ok {
			return domain.OutcomeRejected, err
		}
		return outcome, err
	}
}

func (r *ProductRepo) Reject(ctx context.Context, orderID, reason string) (bool, error) {
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		if err := r.insertReservation(ctx, tx, orderID, domain.ReservationRejected, nil, reason, time.Now().UTC()); err != nil {
			return err
		}
		return r.outbox.Enqueue(ctx, tx, sharedDomain.NewOutboxEvent("order", orderID, events.StockFailedData{
			OrderID: orderID,
			Reason:  reason,
		}))
	})
	if sharedDB.IsUniqueViolation(err) {
		return false, nil
	}
	return err == nil, err
}

func (r *ProductRepo) Release(ctx context.Context, orderID string) ([]domain.ReservedItem, error) {
	var released []domain.ReservedItem
	var err error
	// Si la lápida choca con una reserva recién escrita, el segundo intento la repone.
	for attempt := 0; attempt < 2; attempt++ {
		released, err = r.release(ctx, orderID)
		if !sharedDB.IsUniqueViolation(err) {
			return released, err
		}
	}
	return nil, err
}

func (r *ProductRepo) release(ctx context.Context, orderID string) ([]domain.ReservedItem, error) {
	var released []domain.ReservedItem
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, r.db.Rebind(
			`UPDATE stock_reservations SET status = ?, updated_at = ? WHERE order_id = ? AND status = ?`),
			domain.ReservationReleased, now, orderID, domain.ReservationReserved,
		)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			_, err := r.reservation(ctx, tx, orderID)
			if errors.Is(err, domain.ErrReservationNotFound) {
				return r.insertReservation(ctx, tx, orderID, domain.ReservationReleased, nil, "", now)
			}
			// REJECTED o ya RELEASED: nada que reponer.
			return err
		}

		reservation, err := r.reservation(ctx, tx, orderID)
		if err != nil {
			return err
		}
		for _, item := range reservation.Items {
			id, err := uuid.Parse(item.ProductID)
			if err != nil {
				return fmt.Errorf("corrupt reservation %s: %w", orderID, err)
			}
			if _, err := tx.ExecContext(ctx, r.db.Rebind(
				`UPDATE products SET stock_quantity = stock_quantity + ?, updated_at = ? WHERE id = ?`),
				item.Quantity, now, id,
			); err != nil {
				return err
			}
			p, _, err := r.get(ctx, tx, id)
			if err != nil {
				return err
			}
			evt := sharedDomain.NewOutboxEvent("product", p.ID.String(), p.StockChanged(p.StockQuantity-item.Quantity))
			if err := r.outbox.Enqueue(ctx, tx, evt); err != nil {
				return err
			}
		}
		released = reservation.Items
		return nil
	})
	return released, err
}

// ---------------- helpers ----------------

func (r *ProductRepo) lineProduct(ctx context.Context, tx *sql.Tx, productID string) (*domain.Product, error) {
	id, err := uuid.Parse(productID)
	if err != nil {
		return nil, nil
	}
	p, deleted, err := r.get(ctx, tx, id)
	if errors.Is(err, domain.ErrProductNotFound) || deleted {
		return nil, nil
	}
	return p, err
}

func (r *ProductRepo) get(ctx context.Context, q querier, id uuid.UUID) (*domain.Product, bool, error) {
	row := q.QueryRowContext(ctx, r.db.Rebind(`SELECT `+productColumns+`, deleted FROM products WHERE id = ?`), id)
	p, deleted, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("db error: %w", err)
	}
	return p, deleted, nil
}

func (r *ProductRepo) reservation(ctx context.Context, q querier, orderID string) (*domain.Reservation, error) {
	row := q.QueryRowContext(ctx, r.db.Rebind(
		`SELECT order_id, status, items, reason, created_at, updated_at FROM stock_reservations WHERE order_id = ?`), orderID)

	var res domain.Reservation
	var items string
	err := row.Scan(&res.OrderID, &res.Status, &items, &res.Reason, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := json.Unmarshal([]byte(items), &res.Items); err != nil {
		return nil, fmt.Errorf("corrupt reservation %s: %w", orderID, err)
	}
	return &res, nil
}

func (r *ProductRepo) insertReservation(ctx context.Context, tx *sql.Tx, orderID string, status domain.ReservationStatus, items []domain.ReservedItem, reason string, now time.Time) error {
	if items == nil {
		items = []domain.ReservedItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO stock_reservations (order_id, status, items, reason, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`),
		orderID, status, string(raw), reason, now, now,
	)
	return err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(sc scanner) (*domain.Product, bool, error) {
	var p domain.Product
	var active, deleted int
	if err := sc.Scan(&p.ID, &p.Name, &p.SKU, &p.Price, &p.StockQuantity, &active, &p.CreatedAt, &p.UpdatedAt, &deleted); err != nil {
		return nil, false, err
	}
	p.IsActive = active == 1
	return &p, deleted == 1, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ domain.ProductRepository = (*ProductRepo)(nil)
	_ domain.StockLedger       = (*ProductRepo)(nil)
)
