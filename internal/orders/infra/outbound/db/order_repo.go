package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomarrohitt/e-commerce-sub000/internal/orders/domain"
	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	sharedDB "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/db"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/outbox"
	sharedQuery "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/query"
)

const OutboxTable = "orders_outbox"

const orderColumns = `o.id, o.user_id, o.user_email, o.user_name, o.status, o.subtotal, o.tax, o.total_amount,
	o.shipping_address, o.payment_id, o.client_secret, o.invoice_url, o.cancel_reason, o.refunded, o.created_at, o.updated_at`

// Campos lógicos admitidos en filtros y orden del listado.
var (
	orderFilterFields = map[string]string{
		"status":  "o.status",
		"user_id": "o.user_id",
	}
	orderSortFields = map[string]string{
		"created_at": "o.created_at",
		"updated_at": "o.updated_at",
		"status":     "o.status",
	}
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type OrderRepo struct {
	db     *sharedDB.DB
	outbox *outbox.SQLStore
}

func NewOrderRepo(db *sharedDB.DB) *OrderRepo {
	return &OrderRepo{db: db, outbox: outbox.MustSQLStore(db, OutboxTable)}
}

func (r *OrderRepo) Outbox() *outbox.SQLStore { return r.outbox }

func (r *OrderRepo) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			user_email TEXT NOT NULL DEFAULT '',
			user_name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			subtotal TEXT NOT NULL,
			tax TEXT NOT NULL,
			total_amount TEXT NOT NULL,
			shipping_address TEXT NOT NULL,
			payment_id TEXT NOT NULL DEFAULT '',
			client_secret TEXT NOT NULL DEFAULT '',
			invoice_url TEXT NOT NULL DEFAULT '',
			cancel_reason TEXT NOT NULL DEFAULT '',
			refunded INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders (status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			order_id TEXT NOT NULL,
			line_no INTEGER NOT NULL,
			product_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			price TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			PRIMARY KEY (order_id, line_no)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to init orders schema: %w", err)
		}
	}
	return r.outbox.InitSchema(ctx)
}

// Create inserta pedido, líneas y order.created en transacción
func (r *OrderRepo) Create(ctx context.Context, o *domain.Order) error {
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.db.Rebind(
			`INSERT INTO orders (id, user_id, user_email, user_name, status, subtotal, tax, total_amount,
				shipping_address, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			o.ID, o.UserID, o.UserEmail, o.UserName, o.Status, o.Subtotal, o.Tax, o.TotalAmount,
			string(address), o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return err
		}
		for i, it := range o.Items {
			if _, err := tx.ExecContext(ctx, r.db.Rebind(
				`INSERT INTO order_items (order_id, line_no, product_id, name, price, quantity) VALUES (?, ?, ?, ?, ?, ?)`),
				o.ID, i, it.ProductID, it.Name, it.Price, it.Quantity,
			); err != nil {
				return err
			}
		}
		return r.outbox.Enqueue(ctx, tx, o.CreatedEvent())
	})
}

func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.get(ctx, r.db, id)
}

func (r *OrderRepo) List(ctx context.Context, criteria sharedDomain.Criteria, sort sharedQuery.Sort, page sharedQuery.OffsetPagination) ([]*domain.Order, int, error) {
	where, args, err := sharedDB.ApplyCriteria(criteria, orderFilterFields)
	if err != nil {
		return nil, 0, err
	}
	if where != "" {
		where = " WHERE " + where
	}

	var total int
	if err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM orders o`+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	tail, pageArgs := sharedDB.OrderAndPage(sort, page, orderSortFields, "o.created_at")
	orders, err := r.query(ctx, r.db, `SELECT `+orderColumns+` FROM orders o`+where+tail, append(args, pageArgs...)...)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (r *OrderRepo) ListStale(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]*domain.Order, error) {
	args := make([]interface{}, 0, len(statuses)+2)
	for _, s := range statuses {
		args = append(args, s)
	}
	args = append(args, olderThan.UTC(), limit)
	return r.query(ctx, r.db, fmt.Sprintf(
		`SELECT %s FROM orders o WHERE o.status IN (%s) AND o.created_at < ? ORDER BY o.created_at LIMIT ?`,
		orderColumns, sharedDB.Placeholders(len(statuses))), args...)
}

func (r *OrderRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from []domain.Status, to domain.Status, reason string, extra ...sharedDomain.OutboxEvent) (bool, error) {
	if len(from) == 0 {
		return false, domain.ErrInvalidStatus
	}
	applied := false
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		set := `status = ?, updated_at = ?`
		args := []interface{}{to, now}
		if to == domain.StatusCancelled {
			set += `, cancel_reason = ?`
			args = append(args, reason)
		}
		args = append(args, id)
		for _, s := range from {
			args = append(args, s)
		}

		res, err := tx.ExecContext(ctx, r.db.Rebind(fmt.Sprintf(
			`UPDATE orders SET %s WHERE id = ? AND status IN (%s)`, set, sharedDB.Placeholders(len(from)))), args...)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return nil
		}

		o, err := r.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if evt, ok := o.SideEffect(to, reason); ok {
			if err := r.outbox.Enqueue(ctx, tx, evt); err != nil {
				return err
			}
		}
		if err := r.enqueueAll(ctx, tx, extra); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *OrderRepo) AttachPayment(ctx context.Context, id uuid.UUID, paymentID, clientSecret string, extra ...sharedDomain.OutboxEvent) (bool, error) {
	applied := false
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.db.Rebind(
			`UPDATE orders SET payment_id = ?, client_secret = ?, updated_at = ?
			 WHERE id = ? AND payment_id = '' AND status NOT IN (?, ?, ?, ?)`),
			paymentID, clientSecret, time.Now().UTC(), id,
			domain.StatusDelivered, domain.StatusCancelled, domain.StatusRefunded, domain.StatusFailed,
		)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return nil
		}
		if err := r.enqueueAll(ctx, tx, extra); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *OrderRepo) ClaimRefund(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE orders SET refunded = 1, updated_at = ? WHERE id = ? AND refunded = 0`), time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	rows, _ := res.RowsAffected()
	return rows == 1, nil
}

func (r *OrderRepo) ReleaseRefundClaim(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE orders SET refunded = 0, updated_at = ? WHERE id = ? AND status <> ?`),
		time.Now().UTC(), id, domain.StatusRefunded)
	return err
}

func (r *OrderRepo) SetInvoiceURL(ctx context.Context, id uuid.UUID, url string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE orders SET invoice_url = ?, updated_at = ? WHERE id = ?`), url, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *OrderRepo) Enqueue(ctx context.Context, evt sharedDomain.OutboxEvent) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		return r.outbox.Enqueue(ctx, tx, evt)
	})
}

// ---------------- helpers ----------------

func (r *OrderRepo) enqueueAll(ctx context.Context, tx *sql.Tx, evts []sharedDomain.OutboxEvent) error {
	for _, evt := range evts {
		if err := r.outbox.Enqueue(ctx, tx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (r *OrderRepo) get(ctx context.Context, q querier, id uuid.UUID) (*domain.Order, error) {
	orders, err := r.query(ctx, q, `SELECT `+orderColumns+` FROM orders o WHERE o.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, domain.ErrOrderNotFound
	}
	return orders[0], nil
}

// query lee pedidos y después sus líneas; con SQLite hay una sola conexión, así que las
// filas de pedidos se cierran antes de consultar las líneas.
func (r *OrderRepo) query(ctx context.Context, q querier, query string, args ...interface{}) ([]*domain.Order, error) {
	rows, err := q.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, o := range orders {
		if o.Items, err = r.items(ctx, q, o.ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *OrderRepo) items(ctx context.Context, q querier, orderID uuid.UUID) ([]domain.Item, error) {
	rows, err := q.QueryContext(ctx, r.db.Rebind(
		`SELECT product_id, name, price, quantity FROM order_items WHERE order_id = ? ORDER BY line_no`), orderID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Price, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(sc scanner) (*domain.Order, error) {
	var o domain.Order
	var address string
	var refunded int
	err := sc.Scan(&o.ID, &o.UserID, &o.UserEmail, &o.UserName, &o.Status, &o.Subtotal, &o.Tax, &o.TotalAmount,
		&address, &o.PaymentID, &o.ClientSecret, &o.InvoiceURL, &o.CancelReason, &refunded, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(address), &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("corrupt shipping address for order %s: %w", o.ID, err)
	}
	o.Refunded = refunded == 1
	return &o, nil
}

var _ domain.OrderRepository = (*OrderRepo)(nil)
