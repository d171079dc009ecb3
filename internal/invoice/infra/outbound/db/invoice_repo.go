package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tomarrohitt/e-commerce-sub000/internal/invoice/domain"
	sharedDomain "github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain"
	sharedDB "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/db"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/outbox"
)

const OutboxTable = "invoice_outbox"

const invoiceColumns = `id, order_id, user_id, amount, status, pdf_url, created_at, updated_at`

type InvoiceRepo struct {
	db     *sharedDB.DB
	outbox *outbox.SQLStore
}

func NewInvoiceRepo(db *sharedDB.DB) *InvoiceRepo {
	return &InvoiceRepo{db: db, outbox: outbox.MustSQLStore(db, OutboxTable)}
}

func (r *InvoiceRepo) Outbox() *outbox.SQLStore { return r.outbox }

func (r *InvoiceRepo) InitSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		pdf_url TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to init invoice schema: %w", err)
	}
	return r.outbox.InitSchema(ctx)
}

func (r *InvoiceRepo) CreateWithEvent(ctx context.Context, inv *domain.Invoice, evt sharedDomain.OutboxEvent) error {
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.db.Rebind(
			`INSERT INTO invoices (`+invoiceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			inv.ID.String(), inv.OrderID, inv.UserID, inv.Amount, inv.Status, inv.PDFURL, inv.CreatedAt, inv.UpdatedAt,
		); err != nil {
			return err
		}
		return r.outbox.Enqueue(ctx, tx, evt)
	})
	if sharedDB.IsUniqueViolation(err) {
		return domain.ErrInvoiceAlreadyExists
	}
	return err
}

func (r *InvoiceRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.Invoice, error) {
	var inv domain.Invoice
	var id string
	err := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT `+invoiceColumns+` FROM invoices WHERE order_id = ?`), orderID).
		Scan(&id, &inv.OrderID, &inv.UserID, &inv.Amount, &inv.Status, &inv.PDFURL, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := inv.ID.UnmarshalText([]byte(id)); err != nil {
		return nil, err
	}
	return &inv, nil
}

var _ domain.InvoiceRepository = (*InvoiceRepo)(nil)
